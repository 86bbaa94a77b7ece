package thread

import (
	"context"
	"fmt"
	"html"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/lj-archiver/pkg/content"
	"github.com/Sriram-PR/lj-archiver/pkg/models"
	"github.com/Sriram-PR/lj-archiver/pkg/parse"
	"github.com/Sriram-PR/lj-archiver/pkg/scheduler"
)

var _ scheduler.Handler[models.Comment] = (*Handler)(nil)

// Options configures a Handler
type Options struct {
	// SkipSubsumedSiblings skips collapsed entries that directly follow a spawned
	// expansion and hang under the same anchor. The registry dedups them anyway.
	SkipSubsumedSiblings bool
	// DefaultUserpic is planned for comments without a userpic. Empty leaves them without one.
	DefaultUserpic string
}

// Handler turns fetched comment pages into ordered comments, spawning a child
// task for every collapsed thread or aggregation row that needs its own fetch.
// One Handler serves exactly one scheduler run.
type Handler struct {
	parser   PageParser
	recon    *content.Reconstructor
	userpics content.AssetPlanner // optional
	opts     Options
	log      *logrus.Entry

	registry *Registry
	spawned  map[string]struct{}
	declared int
	skipped  int
}

// NewHandler creates a Handler. userpics may be nil to keep userpic URLs as they are.
func NewHandler(parser PageParser, recon *content.Reconstructor, userpics content.AssetPlanner, opts Options, log *logrus.Entry) *Handler {
	return &Handler{
		parser:   parser,
		recon:    recon,
		userpics: userpics,
		opts:     opts,
		log:      log,
		registry: NewRegistry(),
		spawned:  make(map[string]struct{}),
	}
}

// MarkSeeds records the run's seed keys so expansion links pointing back at
// them are not fetched a second time
func (h *Handler) MarkSeeds(keys []string) {
	for _, k := range keys {
		h.spawned[k] = struct{}{}
	}
}

// Registry exposes the run's thread registry
func (h *Handler) Registry() *Registry { return h.registry }

// DeclaredCount returns the largest reply count announced by any handled page
func (h *Handler) DeclaredCount() int { return h.declared }

// Handle implements scheduler.Handler
func (h *Handler) Handle(_ context.Context, task *scheduler.Task[models.Comment]) error {
	taskLog := h.log.WithFields(logrus.Fields{"task": task.Key, "depth": task.Depth})

	page, err := h.parser.ParsePage(task.Payload)
	if err != nil {
		return fmt.Errorf("parse comment page: %w", err)
	}
	if page.ReplyCount > h.declared {
		h.declared = page.ReplyCount
	}

	base, err := url.Parse(task.Key)
	if err != nil {
		base = nil
	}

	var added, spawned int
	entries := page.Entries
	for i := 0; i < len(entries); i++ {
		e := entries[i]

		switch {
		case e.Thread != "" && h.registry.Has(e.Thread):
			continue

		case e.IsFull():
			task.AddLeaf(h.comment(e, base, taskLog))
			h.registry.Add(e.Thread)
			added++

		case e.IsDeletedStub():
			task.AddLeaf(deletedStub(e))
			h.registry.Add(e.Thread)
			added++

		case e.Thread != "":
			if e.ThreadURL == "" {
				taskLog.WithField("thread", e.Thread).Debug("Collapsed thread without expansion link, skipping")
				continue
			}
			if !h.spawn(task, e.ThreadURL, base, taskLog) {
				continue
			}
			spawned++
			if h.opts.SkipSubsumedSiblings {
				n := h.subsumed(entries[i+1:], e)
				h.skipped += n
				i += n
			}

		case e.More > 1 && e.MoreHref != "":
			taskLog.WithField("more", e.More).Debugf("Expanding aggregation row %s", e.MoreHref)
			if h.spawn(task, e.MoreHref, base, taskLog) {
				spawned++
			}
		}
	}

	taskLog.WithFields(logrus.Fields{
		"entries":  len(entries),
		"comments": added,
		"spawned":  spawned,
	}).Debug("Comment page handled")
	return nil
}

// spawn plans a child task for an expansion link unless that link was already
// planned somewhere in the run
func (h *Handler) spawn(task *scheduler.Task[models.Comment], href string, base *url.URL, taskLog *logrus.Entry) bool {
	key, err := parse.ResolveAndNormalize(base, href)
	if err != nil {
		taskLog.Warnf("Ignoring unparseable expansion link %q: %v", href, err)
		return false
	}
	if _, ok := h.spawned[key]; ok {
		return false
	}
	h.spawned[key] = struct{}{}
	task.Spawn(key)
	return true
}

// subsumed counts the entries at the head of rest that the expansion of
// anchor already covers: same above anchor, still collapsed, parent not yet
// registered. Counting stops at the first entry that breaks a condition.
func (h *Handler) subsumed(rest []Entry, anchor Entry) int {
	n := 0
	for _, e := range rest {
		if e.Thread == "" || e.Above != anchor.Above || !e.Collapsed || e.Deleted {
			break
		}
		if e.Parent != "" && h.registry.Has(e.Parent) {
			break
		}
		n++
	}
	return n
}

func (h *Handler) comment(e Entry, base *url.URL, taskLog *logrus.Entry) models.Comment {
	c := models.Comment{
		Thread:    e.Thread,
		Parent:    e.Parent,
		Above:     e.Above,
		Below:     e.Below,
		Level:     e.Level,
		User:      e.User,
		Date:      e.Date,
		Timestamp: e.Timestamp,
		ThreadURL: e.ThreadURL,
	}

	text, err := h.recon.Reconstruct(e.Article, base)
	if err != nil {
		taskLog.WithField("thread", e.Thread).Warnf("Keeping escaped comment text: %v", err)
		text = html.EscapeString(e.Article)
	}
	c.Text = text

	c.Userpic = e.Userpic
	if h.userpics != nil {
		pic := e.Userpic
		if pic == "" {
			pic = h.opts.DefaultUserpic
		}
		if pic != "" {
			if resolved, err := parse.ResolveAndNormalize(base, pic); err == nil {
				c.Userpic = h.userpics.PlanDownload(resolved)
			}
		}
	}
	return c
}

func deletedStub(e Entry) models.Comment {
	return models.Comment{
		Thread:    e.Thread,
		Parent:    e.Parent,
		Above:     e.Above,
		Below:     e.Below,
		Level:     e.Level,
		Date:      e.Date,
		Timestamp: e.Timestamp,
		ThreadURL: e.ThreadURL,
		Deleted:   true,
	}
}

// Results flattens the finished run into reading order. A mismatch with the
// declared reply count is logged, not returned.
func (h *Handler) Results(root *scheduler.Task[models.Comment]) []models.Comment {
	comments := scheduler.Flatten(root)
	if h.declared > 0 && len(comments) != h.declared {
		h.log.WithFields(logrus.Fields{
			"declared":  h.declared,
			"assembled": len(comments),
		}).Warn("Assembled comment count differs from declared reply count")
	}
	if h.skipped > 0 {
		h.log.WithField("skipped", h.skipped).Debug("Collapsed siblings skipped as subsumed")
	}
	return comments
}
