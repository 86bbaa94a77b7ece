package archive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/lj-archiver/pkg/assets"
	"github.com/Sriram-PR/lj-archiver/pkg/config"
	"github.com/Sriram-PR/lj-archiver/pkg/content"
	"github.com/Sriram-PR/lj-archiver/pkg/fetch"
	"github.com/Sriram-PR/lj-archiver/pkg/ljpage"
	"github.com/Sriram-PR/lj-archiver/pkg/models"
	"github.com/Sriram-PR/lj-archiver/pkg/parse"
	"github.com/Sriram-PR/lj-archiver/pkg/scheduler"
	"github.com/Sriram-PR/lj-archiver/pkg/storage"
	"github.com/Sriram-PR/lj-archiver/pkg/thread"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// Result describes the outcome of archiving one post
type Result struct {
	PostKey    string
	OutputFile string // Relative to the output base dir
	Comments   int
	Skipped    bool // Already archived and not forced
	Scheduler  scheduler.Stats
	Assets     assets.Stats
	Duration   time.Duration
	Err        error
}

// Archiver saves posts of a single journal together with their comment threads and assets
type Archiver struct {
	cfg     *config.AppConfig
	journal string
	fetcher *fetch.Fetcher
	store   storage.StateStore
	force   bool
	log     *logrus.Entry
}

// New creates an Archiver for journal. store must be opened for the same journal.
func New(cfg *config.AppConfig, journal string, fetcher *fetch.Fetcher, store storage.StateStore, force bool, log *logrus.Entry) *Archiver {
	return &Archiver{
		cfg:     cfg,
		journal: journal,
		fetcher: fetcher,
		store:   store,
		force:   force,
		log:     log.WithField("journal", journal),
	}
}

// JournalDir is the directory holding the journal's posts, index and assets
func (a *Archiver) JournalDir() string {
	return filepath.Join(a.cfg.OutputBaseDir, utils.SanitizeFilename(a.journal))
}

// passthroughPlanner keeps resource URLs as they are when assets are disabled
type passthroughPlanner struct{}

func (passthroughPlanner) PlanDownload(rawURL string) string { return rawURL }

// ArchiveAll archives each post in turn. Per-post failures are recorded in the
// results; only a cancelled context stops the loop early.
func (a *Archiver) ArchiveAll(ctx context.Context, postURLs []string) []Result {
	results := make([]Result, 0, len(postURLs))
	for _, raw := range postURLs {
		if ctx.Err() != nil {
			a.log.Warnf("Stopping before %s: %v", raw, ctx.Err())
			break
		}
		res, err := a.ArchivePost(ctx, raw)
		if err != nil {
			res.Err = err
		}
		results = append(results, res)
	}
	return results
}

// ArchivePost fetches one post, its comment pages and every expansion they
// lead to, resolves the referenced assets and writes the post file.
func (a *Archiver) ArchivePost(ctx context.Context, postURL string) (Result, error) {
	start := time.Now()
	ref, err := parse.ParsePostURL(postURL)
	if err != nil {
		return Result{}, err
	}
	if !strings.EqualFold(ref.User, a.journal) {
		return Result{}, fmt.Errorf("%w: %s belongs to %q, not %q", utils.ErrInvalidPostURL, postURL, ref.User, a.journal)
	}

	postKey := a.journal + "/" + ref.ID
	res := Result{PostKey: postKey}
	postLog := a.log.WithFields(logrus.Fields{"post_id": ref.ID, "run_id": uuid.NewString()[:8]})

	if !a.force {
		status, entry, err := a.store.CheckPostStatus(postKey)
		if err != nil {
			postLog.Warnf("Cannot read post state, archiving anyway: %v", err)
		} else if status == models.PostStatusArchived {
			postLog.Infof("Post already archived (%s), skipping", entry.OutputFile)
			res.Skipped = true
			res.OutputFile = entry.OutputFile
			return res, nil
		}
	}
	a.recordPost(postKey, &models.PostDBEntry{Status: models.PostStatusPending}, postLog)

	post, stats, err := a.archive(ctx, ref, postLog)
	res.Scheduler = stats.sched
	res.Assets = stats.assets
	res.Duration = time.Since(start)
	if err != nil {
		postLog.WithField("error_category", utils.CategorizeError(err)).Errorf("Archiving failed: %v", err)
		a.recordPost(postKey, &models.PostDBEntry{
			Status:    models.PostStatusFailure,
			ErrorType: utils.CategorizeError(err),
		}, postLog)
		return res, err
	}

	res.Comments = len(post.Comments)
	res.OutputFile = filepath.ToSlash(filepath.Join(utils.SanitizeFilename(a.journal), PostFileName(ref.ID)))
	a.recordPost(postKey, &models.PostDBEntry{
		Status:       models.PostStatusArchived,
		CommentCount: res.Comments,
		OutputFile:   res.OutputFile,
	}, postLog)

	postLog.WithFields(logrus.Fields{
		"comments":   res.Comments,
		"rounds":     res.Scheduler.Rounds,
		"assets":     res.Assets.Planned,
		"downloaded": res.Assets.Downloaded,
		"fallback":   res.Assets.Fallback,
		"duration":   res.Duration.Round(time.Millisecond),
	}).Infof("Saved %d comments to %s", res.Comments, res.OutputFile)
	return res, nil
}

type runStats struct {
	sched  scheduler.Stats
	assets assets.Stats
}

func (a *Archiver) archive(ctx context.Context, ref parse.PostRef, postLog *logrus.Entry) (*models.Post, runStats, error) {
	var stats runStats
	journalBase := parse.JournalBaseURL(ref.User)
	postPageURL := journalBase + parse.PostPagePath(ref.ID)
	base, err := url.Parse(postPageURL)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: URL post page: %w", utils.ErrParsing, err)
	}

	journalDir := a.JournalDir()
	if err := os.MkdirAll(journalDir, 0755); err != nil {
		return nil, stats, fmt.Errorf("%w: create %s: %w", utils.ErrFilesystem, journalDir, err)
	}
	layout := assets.NewFSLayout(journalDir)
	resolver := assets.NewResolver(layout, a.fetcher, a.store, assets.Options{
		MaxConcurrent: a.cfg.MaxConcurrentDownloads,
		MaxBytes:      a.cfg.MaxAssetSizeBytes,
		FallbackPath:  a.cfg.FallbackAssetPath,
	}, postLog.WithField("component", "assets"))

	var planner content.AssetPlanner = resolver
	if a.cfg.SkipAssets {
		planner = passthroughPlanner{}
	}
	var userpics content.AssetPlanner
	if a.cfg.UserpicsEnabled() {
		userpics = resolver
	}

	postLog.Infof("Fetching post page %s", postPageURL)
	raw, err := a.fetcher.Fetch(ctx, postPageURL)
	if err != nil {
		return nil, stats, fmt.Errorf("post page: %w", err)
	}
	page, err := ljpage.ParsePost(raw)
	if err != nil {
		return nil, stats, fmt.Errorf("post page %s: %w", postPageURL, err)
	}

	bodyRecon := content.New(planner, content.Options{StopAnchor: content.PostBodyStopAnchor}, postLog)
	postText, err := bodyRecon.Reconstruct(page.BodyHTML, base)
	if err != nil {
		return nil, stats, fmt.Errorf("post body: %w", err)
	}

	var seeds []string
	for _, href := range page.CommentPageHrefs(ref.ID) {
		pageURL, err := parse.CommentPageURL(journalBase, href)
		if err != nil {
			postLog.Warnf("Skipping comment page link: %v", err)
			continue
		}
		seeds = append(seeds, pageURL)
	}
	postLog.Infof("Parsing comments (%d page(s) found)", len(seeds))

	handler := thread.NewHandler(
		ljpage.CommentParser{},
		content.New(planner, content.Options{}, postLog),
		userpics,
		thread.Options{
			SkipSubsumedSiblings: a.cfg.SkipSubsumedSiblings,
			DefaultUserpic:       assets.NoUserpicURL,
		},
		postLog.WithField("component", "thread"),
	)
	handler.MarkSeeds(seeds)

	sched := scheduler.New[models.Comment](a.fetcher, handler, scheduler.Options{
		MaxConcurrent: a.cfg.MaxConcurrentFetches,
		FetchTimeout:  a.cfg.FetchTimeout,
		MaxRounds:     a.cfg.MaxRounds,
	}, postLog.WithField("component", "scheduler"))

	root, err := sched.Run(ctx, seeds)
	stats.sched = sched.Stats()
	if err != nil {
		return nil, stats, err
	}
	comments := handler.Results(root)

	if !a.cfg.SkipAssets {
		if err := resolver.DownloadAll(ctx); err != nil {
			return nil, stats, err
		}
		if resolver.UsedFallback() {
			if err := assets.EnsureFallbackFile(layout, a.cfg.FallbackAssetPath); err != nil {
				postLog.Warnf("Cannot write fallback asset: %v", err)
			}
		}
	}
	stats.assets = resolver.Stats()

	post := &models.Post{
		ID:           ref.ID,
		User:         ref.User,
		Link:         postPageURL,
		Header:       page.Header,
		Author:       page.Author,
		Date:         page.Date,
		Tags:         page.Tags,
		Text:         resolver.Substitute(postText),
		CommentPages: seeds,
		ReplyCount:   handler.DeclaredCount(),
		Comments:     comments,
		ArchivedAt:   time.Now().UTC(),
	}
	for i := range post.Comments {
		post.Comments[i].Text = resolver.Substitute(post.Comments[i].Text)
		post.Comments[i].Userpic = resolver.Substitute(post.Comments[i].Userpic)
	}

	if err := writeJSONFile(filepath.Join(journalDir, PostFileName(ref.ID)), post); err != nil {
		return nil, stats, err
	}
	if err := updateIndex(journalDir, post, postLog); err != nil {
		return nil, stats, err
	}
	return post, stats, nil
}

func (a *Archiver) recordPost(postKey string, entry *models.PostDBEntry, postLog *logrus.Entry) {
	entry.LastAttempt = time.Now()
	if err := a.store.UpdatePostStatus(postKey, entry); err != nil {
		postLog.Errorf("Failed to record post status %s: %v", entry.Status, err)
	}
}

// FailedPostURLs lists the post URLs of this journal whose last archive attempt failed
// or never finished
func (a *Archiver) FailedPostURLs(ctx context.Context) ([]string, error) {
	var urls []string
	for _, status := range []models.PostStatus{models.PostStatusFailure, models.PostStatusPending} {
		keys, err := a.store.ListPostsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			user, id, ok := strings.Cut(key, "/")
			if !ok || !strings.EqualFold(user, a.journal) {
				continue
			}
			urls = append(urls, parse.JournalBaseURL(user)+parse.PostPagePath(id))
		}
	}
	return urls, nil
}

// Summarize logs totals over a batch of results and returns the number of failures
func Summarize(results []Result, log *logrus.Entry) int {
	var archived, skipped, failed, comments int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			if !errors.Is(r.Err, context.Canceled) {
				log.WithField("post", r.PostKey).Errorf("Failed: %v", r.Err)
			}
		case r.Skipped:
			skipped++
		default:
			archived++
			comments += r.Comments
		}
	}
	log.WithFields(logrus.Fields{
		"archived": archived,
		"skipped":  skipped,
		"failed":   failed,
		"comments": comments,
	}).Info("Archive run finished")
	return failed
}
