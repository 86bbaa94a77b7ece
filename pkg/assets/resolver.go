package assets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/lj-archiver/pkg/models"
	"github.com/Sriram-PR/lj-archiver/pkg/parse"
	"github.com/Sriram-PR/lj-archiver/pkg/storage"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

const tokenPrefix = "{{lj-asset:"

// Downloader streams a URL into a local file, rejecting bodies over maxBytes (<= 0 = unlimited)
type Downloader interface {
	Download(ctx context.Context, rawURL, dest string, maxBytes int64) (int64, error)
}

// Reference is one distinct asset URL seen during a run
type Reference struct {
	URL   string
	Token string
	Path  string // Relative to the layout root; the fallback path once the asset has fallen back
	State models.AssetStatus
	Err   error
}

// Options configures a Resolver
type Options struct {
	MaxConcurrent int    // Parallel downloads, defaults to 1
	MaxBytes      int64  // Per-asset size cap, 0 = unlimited
	FallbackPath  string // Substituted for assets that could not be materialized
}

// Stats counts what the resolver did
type Stats struct {
	Planned    int // Distinct URLs
	Reused     int // Already on disk at plan time
	Downloaded int
	Fallback   int
	NetworkOps int // Download attempts issued
}

// Resolver deduplicates asset URLs, downloads each once, and substitutes the
// resulting local paths for placeholder tokens
type Resolver struct {
	layout     Layout
	downloader Downloader
	store      storage.AssetStore // optional
	opts       Options
	log        *logrus.Entry

	mu          sync.Mutex
	refs        map[string]*Reference // Keyed by normalized URL
	byPath      map[string]*Reference // Keyed by derived relative path
	order       []*Reference
	downloaded  bool
	networkOps  atomic.Int64
	okDownloads atomic.Int64
}

// NewResolver creates a Resolver. store may be nil.
func NewResolver(layout Layout, downloader Downloader, store storage.AssetStore, opts Options, log *logrus.Entry) *Resolver {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Resolver{
		layout:     layout,
		downloader: downloader,
		store:      store,
		opts:       opts,
		log:        log,
		refs:       make(map[string]*Reference),
		byPath:     make(map[string]*Reference),
	}
}

// assetKey normalizes rawURL so equivalent spellings share one reference
func assetKey(rawURL string) string {
	if normalized, _, err := parse.ParseAndNormalize(rawURL); err == nil {
		return normalized
	}
	return strings.TrimSpace(rawURL)
}

// PlanDownload registers rawURL and returns its placeholder token. Repeated
// calls for the same URL, or for URLs deriving the same local path, return the
// same token. Assets whose derived path already exists are resolved at once
// and never fetched.
func (r *Resolver) PlanDownload(rawURL string) string {
	key := assetKey(rawURL)

	r.mu.Lock()
	defer r.mu.Unlock()

	if ref, ok := r.refs[key]; ok {
		return ref.Token
	}

	rel, err := r.layout.DerivePath(key)
	if err == nil {
		if ref, ok := r.byPath[rel]; ok {
			r.refs[key] = ref
			r.log.WithFields(logrus.Fields{"asset_url": key, "path": rel}).Debugf("Same local path as %s, sharing token", ref.URL)
			return ref.Token
		}
	}

	ref := &Reference{
		URL:   key,
		Token: tokenPrefix + uuid.NewString() + "}}",
		State: models.AssetStatusPending,
	}
	r.refs[key] = ref
	r.order = append(r.order, ref)
	assetLog := r.log.WithField("asset_url", key)

	switch {
	case err != nil:
		assetLog.Warnf("Cannot derive local path, using fallback: %v", err)
		r.fallback(ref, err)
		return ref.Token
	case r.downloaded:
		assetLog.Warn("Asset planned after the download pass, using fallback")
		r.fallback(ref, utils.ErrAlreadyDownloaded)
	case r.layout.PathExists(rel):
		ref.Path = rel
		ref.State = models.AssetStatusResolved
		assetLog.Debugf("Asset already on disk at %s", rel)
	default:
		ref.Path = rel
		if stored, ok := r.storedPath(key); ok {
			ref.Path = stored
			ref.State = models.AssetStatusResolved
			assetLog.Debugf("Asset resolved from state store at %s", stored)
		}
	}
	r.byPath[rel] = ref
	return ref.Token
}

// storedPath returns a previously recorded local path that is still on disk
func (r *Resolver) storedPath(key string) (string, bool) {
	if r.store == nil {
		return "", false
	}
	status, entry, err := r.store.CheckAssetStatus(key)
	if err != nil || status != models.AssetStatusResolved || entry == nil {
		return "", false
	}
	if !r.layout.PathExists(entry.LocalPath) {
		return "", false
	}
	return entry.LocalPath, true
}

func (r *Resolver) fallback(ref *Reference, err error) {
	ref.Path = r.opts.FallbackPath
	ref.State = models.AssetStatusFallback
	ref.Err = err
}

// DownloadAll fetches every pending asset under the concurrency cap. Failed
// downloads fall back to the fallback path and never fail the batch. It must be
// called once per Resolver; later calls return utils.ErrAlreadyDownloaded.
// A non-nil error is returned only when ctx ends before the pass completes.
func (r *Resolver) DownloadAll(ctx context.Context) error {
	r.mu.Lock()
	if r.downloaded {
		r.mu.Unlock()
		return utils.ErrAlreadyDownloaded
	}
	r.downloaded = true
	var pending []*Reference
	for _, ref := range r.order {
		if ref.State == models.AssetStatusPending {
			pending = append(pending, ref)
		}
	}
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	r.log.WithFields(logrus.Fields{"pending": len(pending), "workers": r.opts.MaxConcurrent}).Info("Downloading assets")

	var g errgroup.Group
	g.SetLimit(r.opts.MaxConcurrent)
	for _, ref := range pending {
		g.Go(func() error {
			r.downloadOne(ctx, ref)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("asset download pass interrupted: %w", err)
	}
	return nil
}

// downloadOne materializes a single reference
func (r *Resolver) downloadOne(ctx context.Context, ref *Reference) {
	assetLog := r.log.WithFields(logrus.Fields{"asset_url": ref.URL, "path": ref.Path})
	entry := &models.AssetDBEntry{LastAttempt: time.Now()}

	r.networkOps.Add(1)
	size, err := r.downloader.Download(ctx, ref.URL, r.layout.Abs(ref.Path), r.opts.MaxBytes)

	r.mu.Lock()
	if err != nil {
		entry.Status = models.AssetStatusFallback
		entry.ErrorType = utils.CategorizeError(err)
		r.fallback(ref, err)
	} else {
		entry.Status = models.AssetStatusResolved
		entry.LocalPath = ref.Path
		entry.Size = size
		ref.State = models.AssetStatusResolved
	}
	r.mu.Unlock()

	if err != nil {
		assetLog.WithField("error_category", entry.ErrorType).Warnf("Asset download failed, using fallback: %v", err)
	} else {
		r.okDownloads.Add(1)
		assetLog.Debugf("Downloaded %d bytes", size)
	}

	if r.store != nil {
		if dbErr := r.store.UpdateAssetStatus(ref.URL, entry); dbErr != nil {
			assetLog.Errorf("Failed to record asset status: %v", dbErr)
		}
	}
}

// Substitute replaces every resolved or fallen-back placeholder token in text
// with its local path. Tokens of still pending assets are left in place.
func (r *Resolver) Substitute(text string) string {
	if !strings.Contains(text, tokenPrefix) {
		return text
	}
	r.mu.Lock()
	pairs := make([]string, 0, len(r.order)*2)
	for _, ref := range r.order {
		if ref.State.IsTerminal() {
			pairs = append(pairs, ref.Token, ref.Path)
		}
	}
	r.mu.Unlock()
	return strings.NewReplacer(pairs...).Replace(text)
}

// References returns a snapshot of every planned reference in planning order
func (r *Resolver) References() []Reference {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Reference, 0, len(r.order))
	for _, ref := range r.order {
		out = append(out, *ref)
	}
	return out
}

// UsedFallback reports whether any reference resolved to the fallback path
func (r *Resolver) UsedFallback() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range r.order {
		if ref.State == models.AssetStatusFallback {
			return true
		}
	}
	return false
}

// Stats returns resolver counters
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{
		Planned:    len(r.order),
		Downloaded: int(r.okDownloads.Load()),
		NetworkOps: int(r.networkOps.Load()),
	}
	resolved := 0
	for _, ref := range r.order {
		switch ref.State {
		case models.AssetStatusFallback:
			st.Fallback++
		case models.AssetStatusResolved:
			resolved++
		}
	}
	st.Reused = resolved - st.Downloaded
	return st
}
