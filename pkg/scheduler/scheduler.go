package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// Fetcher retrieves the raw payload addressed by a task key
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// FetchFunc adapts a function to the Fetcher interface
type FetchFunc func(ctx context.Context, key string) ([]byte, error)

// Fetch implements Fetcher
func (f FetchFunc) Fetch(ctx context.Context, key string) ([]byte, error) { return f(ctx, key) }

// Handler consumes a finished task's payload. It may add items to the task and
// spawn planned children, which are fetched in the next round.
// Returning an error wrapping utils.ErrRequiredSection aborts the run; any other
// error fails only this task.
type Handler[T any] interface {
	Handle(ctx context.Context, task *Task[T]) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc[T any] func(ctx context.Context, task *Task[T]) error

// Handle implements Handler
func (f HandlerFunc[T]) Handle(ctx context.Context, task *Task[T]) error { return f(ctx, task) }

// Options tune a Scheduler
type Options struct {
	MaxConcurrent int           // Global cap on in-flight fetches, defaults to 1
	FetchTimeout  time.Duration // Per-fetch timeout, 0 = none
	MaxRounds     int           // 0 = unlimited
}

// Stats summarizes a finished run
type Stats struct {
	Rounds       int
	Fetched      int
	Failed       int
	PeakInFlight int
}

// Scheduler runs a lazily discovered task tree in rounds under a concurrency cap
type Scheduler[T any] struct {
	fetcher Fetcher
	handler Handler[T]
	opts    Options
	sem     *semaphore.Weighted
	log     *logrus.Entry

	inFlight atomic.Int64
	peak     atomic.Int64
	stats    Stats
}

// New creates a Scheduler
func New[T any](fetcher Fetcher, handler Handler[T], opts Options, log *logrus.Entry) *Scheduler[T] {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Scheduler[T]{
		fetcher: fetcher,
		handler: handler,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		log:     log,
	}
}

// Stats returns counters for the most recent run
func (s *Scheduler[T]) Stats() Stats {
	st := s.stats
	st.PeakInFlight = int(s.peak.Load())
	return st
}

// fetchResult carries one fetch outcome back to the round loop
type fetchResult struct {
	payload []byte
	err     error
}

// Run seeds one task per key under a virtual root and executes rounds until no
// planned task remains. The returned root is valid even when an error is returned.
func (s *Scheduler[T]) Run(ctx context.Context, seeds []string) (*Task[T], error) {
	root := &Task[T]{Status: StatusHandled}
	for _, key := range seeds {
		root.Spawn(key)
	}
	s.stats = Stats{}
	s.peak.Store(0)

	frontier := root.Children
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return root, fmt.Errorf("run interrupted before round %d: %w", s.stats.Rounds+1, err)
		}
		if s.opts.MaxRounds > 0 && s.stats.Rounds >= s.opts.MaxRounds {
			s.abandon(frontier)
			break
		}
		s.stats.Rounds++
		roundLog := s.log.WithFields(logrus.Fields{"round": s.stats.Rounds, "tasks": len(frontier)})
		roundLog.Debug("Starting round")

		s.fetchRound(ctx, frontier)

		var next []*Task[T]
		for _, task := range frontier {
			if task.Status == StatusFinished {
				if err := s.handle(ctx, task); err != nil {
					return root, err
				}
			}
			if task.Status != StatusHandled {
				continue
			}
			for _, child := range task.Children {
				if child.Status == StatusPlanned {
					next = append(next, child)
				}
			}
		}
		roundLog.WithField("next", len(next)).Debug("Round settled")
		frontier = next
	}

	s.log.WithFields(logrus.Fields{
		"rounds":         s.stats.Rounds,
		"fetched":        s.stats.Fetched,
		"failed":         s.stats.Failed,
		"peak_in_flight": s.peak.Load(),
	}).Info("Scheduler run finished")
	return root, nil
}

// fetchRound fetches every task of the frontier concurrently and waits for all
// of them to settle. Task state is written only after the wait.
func (s *Scheduler[T]) fetchRound(ctx context.Context, frontier []*Task[T]) {
	results := make([]fetchResult, len(frontier))
	var wg sync.WaitGroup

	for i, task := range frontier {
		task.Status = StatusProcessing
		if err := s.sem.Acquire(ctx, 1); err != nil {
			results[i] = fetchResult{err: err}
			continue
		}
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			defer s.sem.Release(1)
			results[i] = s.fetchOne(ctx, key)
		}(i, task.Key)
	}
	wg.Wait()

	for i, task := range frontier {
		res := results[i]
		if res.err != nil {
			s.fail(task, res.err)
			continue
		}
		task.Payload = res.payload
		task.Status = StatusFinished
		s.stats.Fetched++
	}
}

func (s *Scheduler[T]) fetchOne(ctx context.Context, key string) fetchResult {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	fetchCtx := ctx
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}
	payload, err := s.fetcher.Fetch(fetchCtx, key)
	return fetchResult{payload: payload, err: err}
}

// handle runs the handler for one finished task. Only a missing required
// section is returned; every other failure stays with the task.
func (s *Scheduler[T]) handle(ctx context.Context, task *Task[T]) error {
	err := s.handler.Handle(ctx, task)
	if err == nil {
		task.Status = StatusHandled
		return nil
	}
	if errors.Is(err, utils.ErrRequiredSection) {
		task.Status = StatusFailed
		task.Err = err
		s.stats.Failed++
		s.log.WithField("task", task.Key).Errorf("Required section missing, aborting run: %v", err)
		return fmt.Errorf("task %q: %w", task.Key, err)
	}
	s.fail(task, err)
	return nil
}

// fail records a per-task failure. Items gathered so far are kept for
// diagnostics but Flatten skips failed tasks.
func (s *Scheduler[T]) fail(task *Task[T], err error) {
	task.Status = StatusFailed
	task.Err = err
	s.stats.Failed++
	s.log.WithFields(logrus.Fields{
		"task":           task.Key,
		"depth":          task.Depth,
		"error_category": utils.CategorizeError(err),
	}).Warnf("Task failed: %v", err)
}

// abandon fails every still planned task once the round limit is reached
func (s *Scheduler[T]) abandon(frontier []*Task[T]) {
	s.log.WithFields(logrus.Fields{
		"max_rounds": s.opts.MaxRounds,
		"abandoned":  len(frontier),
	}).Warn("Round limit reached, remaining tasks not fetched")
	for _, task := range frontier {
		task.Status = StatusFailed
		task.Err = fmt.Errorf("%w: limit %d", utils.ErrMaxRoundsExceeded, s.opts.MaxRounds)
		s.stats.Failed++
	}
}
