package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/lj-archiver/pkg/archive"
	"github.com/Sriram-PR/lj-archiver/pkg/config"
	"github.com/Sriram-PR/lj-archiver/pkg/fetch"
	"github.com/Sriram-PR/lj-archiver/pkg/parse"
	"github.com/Sriram-PR/lj-archiver/pkg/storage"
)

const stateGCInterval = 10 * time.Minute

type archiveOptions struct {
	force       bool
	resetState  bool
	retryFailed string
	skipAssets  bool
	concurrency int
}

func newArchiveCmd(global *globalOptions) *cobra.Command {
	opts := &archiveOptions{}
	cmd := &cobra.Command{
		Use:   "archive [post-url...]",
		Short: "Archive posts with all of their comments",
		Long: `Archive one or more journal posts. Posts already archived are skipped
unless --force is given.

Examples:
  lj-archiver archive https://someuser.livejournal.com/12345.html
  lj-archiver archive --force https://someuser.livejournal.com/12345.html https://someuser.livejournal.com/12377.html
  lj-archiver archive --retry-failed someuser`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.retryFailed == "" {
				return fmt.Errorf("at least one post URL or --retry-failed is required")
			}
			return runArchive(cmd, global, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-archive posts that are already archived")
	cmd.Flags().BoolVar(&opts.resetState, "reset-state", false, "Delete the journal's state database before starting")
	cmd.Flags().StringVar(&opts.retryFailed, "retry-failed", "", "Re-archive every failed or unfinished post of this journal")
	cmd.Flags().BoolVar(&opts.skipAssets, "skip-assets", false, "Keep remote image URLs instead of downloading them")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "Maximum concurrent page fetches (overrides config)")
	return cmd
}

func runArchive(cmd *cobra.Command, global *globalOptions, opts *archiveOptions, args []string) error {
	cfg, logger, err := global.setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if opts.skipAssets {
		cfg.SkipAssets = true
	}
	if opts.concurrency > 0 {
		cfg.MaxConcurrentFetches = opts.concurrency
	}

	// Group posts by journal; each journal has its own state database
	var journals []string
	byJournal := make(map[string][]string)
	for _, raw := range args {
		ref, err := parse.ParsePostURL(raw)
		if err != nil {
			return err
		}
		if _, ok := byJournal[ref.User]; !ok {
			journals = append(journals, ref.User)
		}
		byJournal[ref.User] = append(byJournal[ref.User], raw)
	}
	var retryJournal string
	if opts.retryFailed != "" {
		journal, err := journalFromArg(opts.retryFailed)
		if err != nil {
			return err
		}
		retryJournal = journal
		if _, ok := byJournal[journal]; !ok {
			journals = append(journals, journal)
			byJournal[journal] = nil
		}
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	log := logrus.NewEntry(logger)
	fetcher := newFetcher(cfg, log)
	failed := 0
	for _, journal := range journals {
		n, err := archiveJournal(ctx, cfg, fetcher, journal, byJournal[journal], journal == retryJournal, opts, log)
		failed += n
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d post(s) failed", failed)
	}
	return nil
}

// archiveJournal archives the posts of one journal against its own state database
func archiveJournal(ctx context.Context, cfg *config.AppConfig, fetcher *fetch.Fetcher, journal string,
	urls []string, retryFailed bool, opts *archiveOptions, log *logrus.Entry) (int, error) {
	journalLog := log.WithField("journal", journal)
	store, err := storage.NewBadgerStore(cfg.StateDir, journal, opts.resetState, journalLog)
	if err != nil {
		return 0, err
	}
	gcCtx, stopGC := context.WithCancel(ctx)
	defer func() {
		stopGC()
		if err := store.Close(); err != nil {
			journalLog.Warnf("Closing state database: %v", err)
		}
	}()
	go store.RunGC(gcCtx, stateGCInterval)

	a := archive.New(cfg, journal, fetcher, store, opts.force, log)
	if retryFailed {
		retry, err := a.FailedPostURLs(ctx)
		if err != nil {
			return 0, err
		}
		journalLog.Infof("Retrying %d failed post(s)", len(retry))
		urls = append(urls, retry...)
	}

	results := a.ArchiveAll(ctx, urls)
	return archive.Summarize(results, journalLog), nil
}
