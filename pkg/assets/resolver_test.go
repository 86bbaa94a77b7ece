package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/lj-archiver/pkg/models"
	"github.com/Sriram-PR/lj-archiver/pkg/storage"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeDownloader writes the URL as file content and counts calls per URL
type fakeDownloader struct {
	mu       sync.Mutex
	calls    map[string]int
	fail     map[string]bool
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (d *fakeDownloader) Download(ctx context.Context, rawURL, dest string, maxBytes int64) (int64, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		m := d.maxSeen.Load()
		if n <= m || d.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	d.mu.Lock()
	d.calls[rawURL]++
	fail := d.fail[rawURL]
	d.mu.Unlock()

	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if fail {
		return 0, fmt.Errorf("%w: status 404 Not Found", utils.ErrClientHTTPError)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(dest, []byte(rawURL), 0644); err != nil {
		return 0, err
	}
	return int64(len(rawURL)), nil
}

func (d *fakeDownloader) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

func newTestResolver(t *testing.T, root string, d Downloader, store storage.AssetStore) *Resolver {
	t.Helper()
	return NewResolver(NewFSLayout(root), d, store, Options{
		MaxConcurrent: 2,
		FallbackPath:  "no-picture.svg",
	}, testLogger())
}

func TestPlanDownload_SameURLSameToken(t *testing.T) {
	d := newFakeDownloader()
	r := newTestResolver(t, t.TempDir(), d, nil)

	tok1 := r.PlanDownload("https://pics.example/a.png")
	tok2 := r.PlanDownload("https://pics.example/a.png")
	tok3 := r.PlanDownload("HTTPS://PICS.EXAMPLE:443/a.png")
	other := r.PlanDownload("https://pics.example/b.png")

	assert.Equal(t, tok1, tok2)
	assert.Equal(t, tok1, tok3, "equivalent spellings share a reference")
	assert.NotEqual(t, tok1, other)
	assert.True(t, strings.HasPrefix(tok1, tokenPrefix))

	require.NoError(t, r.DownloadAll(context.Background()))
	assert.Equal(t, 1, d.calls["https://pics.example/a.png"], "exactly one network operation per URL")
	assert.Equal(t, 2, d.total())
	assert.Equal(t, 2, r.Stats().NetworkOps)
}

func TestPlanDownload_SamePathSharesToken(t *testing.T) {
	d := newFakeDownloader()
	r := newTestResolver(t, t.TempDir(), d, nil)

	secure := r.PlanDownload("https://l-userpic.livejournal.com/1/2")
	plain := r.PlanDownload("http://l-userpic.livejournal.com/1/2")
	assert.Equal(t, secure, plain, "URLs deriving one local path share a reference")

	require.NoError(t, r.DownloadAll(context.Background()))
	assert.Equal(t, 1, d.total())
	assert.Equal(t, 1, r.Stats().NetworkOps)
	assert.Equal(t, 1, r.Stats().Planned)

	refs := r.References()
	require.Len(t, refs, 1)
	assert.Equal(t, "userpics/1/2.bin", refs[0].Path)
	assert.Equal(t, "userpics/1/2.bin userpics/1/2.bin", r.Substitute(secure+" "+plain))
}

func TestDownloadAll_SubstitutesResolvedPaths(t *testing.T) {
	root := t.TempDir()
	d := newFakeDownloader()
	r := newTestResolver(t, root, d, nil)

	tok := r.PlanDownload("https://pics.example/photo.jpg")
	text := `<img src="` + tok + `"> and again <img src="` + tok + `">`

	// Before the download pass tokens stay in place
	assert.Equal(t, text, r.Substitute(text))

	require.NoError(t, r.DownloadAll(context.Background()))

	refs := r.References()
	require.Len(t, refs, 1)
	assert.Equal(t, models.AssetStatusResolved, refs[0].State)

	got := r.Substitute(text)
	assert.NotContains(t, got, tokenPrefix)
	assert.Equal(t, 2, strings.Count(got, refs[0].Path))

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(refs[0].Path)))
	require.NoError(t, err)
	assert.Equal(t, "https://pics.example/photo.jpg", string(data))
}

func TestDownloadAll_FailureFallsBack(t *testing.T) {
	d := newFakeDownloader()
	d.fail["https://pics.example/gone.png"] = true
	r := newTestResolver(t, t.TempDir(), d, nil)

	bad := r.PlanDownload("https://pics.example/gone.png")
	good := r.PlanDownload("https://pics.example/ok.png")

	require.NoError(t, r.DownloadAll(context.Background()))

	assert.Equal(t, "no-picture.svg", r.Substitute(bad))
	assert.NotEqual(t, "no-picture.svg", r.Substitute(good))
	assert.True(t, r.UsedFallback())

	st := r.Stats()
	assert.Equal(t, 1, st.Fallback)
	assert.Equal(t, 1, st.Downloaded)
	assert.Equal(t, 0, st.Reused)
}

func TestDownloadAll_OnlyOnce(t *testing.T) {
	r := newTestResolver(t, t.TempDir(), newFakeDownloader(), nil)
	r.PlanDownload("https://pics.example/a.png")

	require.NoError(t, r.DownloadAll(context.Background()))
	err := r.DownloadAll(context.Background())
	assert.True(t, errors.Is(err, utils.ErrAlreadyDownloaded))
}

func TestPlanDownload_AfterDownloadPassFallsBack(t *testing.T) {
	d := newFakeDownloader()
	r := newTestResolver(t, t.TempDir(), d, nil)
	require.NoError(t, r.DownloadAll(context.Background()))

	tok := r.PlanDownload("https://pics.example/late.png")
	assert.Equal(t, "no-picture.svg", r.Substitute(tok))
	assert.Equal(t, 0, d.total())
}

func TestPlanDownload_ExistingPathNoNetwork(t *testing.T) {
	root := t.TempDir()
	layout := NewFSLayout(root)
	const assetURL = "https://pics.example/cached.gif"

	rel, err := layout.DerivePath(assetURL)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(layout.Abs(rel)), 0755))
	require.NoError(t, os.WriteFile(layout.Abs(rel), []byte("GIF89a"), 0644))

	d := newFakeDownloader()
	r := newTestResolver(t, root, d, nil)

	tok := r.PlanDownload(assetURL)
	require.NoError(t, r.DownloadAll(context.Background()))

	assert.Equal(t, 0, d.total(), "existing path must not be fetched again")
	assert.Equal(t, rel, r.Substitute(tok))
	assert.Equal(t, 1, r.Stats().Reused)
}

func TestPlanDownload_ReRunIsIncremental(t *testing.T) {
	root := t.TempDir()
	urls := []string{"https://pics.example/1.png", "https://pics.example/2.png"}

	first := newFakeDownloader()
	r1 := newTestResolver(t, root, first, nil)
	for _, u := range urls {
		r1.PlanDownload(u)
	}
	require.NoError(t, r1.DownloadAll(context.Background()))
	assert.Equal(t, 2, first.total())

	second := newFakeDownloader()
	r2 := newTestResolver(t, root, second, nil)
	for _, u := range urls {
		r2.PlanDownload(u)
	}
	require.NoError(t, r2.DownloadAll(context.Background()))
	assert.Equal(t, 0, second.total())
}

func TestPlanDownload_UnderivablePathFallsBack(t *testing.T) {
	d := newFakeDownloader()
	r := newTestResolver(t, t.TempDir(), d, nil)

	tok := r.PlanDownload("not-a-url")
	require.NoError(t, r.DownloadAll(context.Background()))

	assert.Equal(t, "no-picture.svg", r.Substitute(tok))
	assert.Equal(t, 0, d.total())
}

func TestDownloadAll_RespectsConcurrencyCap(t *testing.T) {
	d := newFakeDownloader()
	d.delay = 20 * time.Millisecond
	r := NewResolver(NewFSLayout(t.TempDir()), d, nil, Options{MaxConcurrent: 3, FallbackPath: "x.svg"}, testLogger())

	for i := range 10 {
		r.PlanDownload(fmt.Sprintf("https://pics.example/%d.png", i))
	}
	require.NoError(t, r.DownloadAll(context.Background()))

	assert.LessOrEqual(t, int(d.maxSeen.Load()), 3)
	assert.Equal(t, 10, d.total())
}

func TestResolver_UsesAndUpdatesStateStore(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewBadgerStore(t.TempDir(), "someuser", false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := newFakeDownloader()
	d.fail["https://pics.example/broken.png"] = true
	r := newTestResolver(t, root, d, store)
	r.PlanDownload("https://pics.example/fine.png")
	r.PlanDownload("https://pics.example/broken.png")
	require.NoError(t, r.DownloadAll(context.Background()))

	status, entry, err := store.CheckAssetStatus("https://pics.example/fine.png")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusResolved, status)
	assert.NotEmpty(t, entry.LocalPath)

	status, entry, err = store.CheckAssetStatus("https://pics.example/broken.png")
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusFallback, status)
	assert.Equal(t, "HTTP_404", entry.ErrorType)

	// A stored location that still exists is reused even if the derived path differs
	require.NoError(t, os.WriteFile(filepath.Join(root, "legacy.png"), []byte("old"), 0644))
	require.NoError(t, store.UpdateAssetStatus("https://pics.example/legacy.png", &models.AssetDBEntry{
		Status:    models.AssetStatusResolved,
		LocalPath: "legacy.png",
	}))

	d2 := newFakeDownloader()
	r2 := newTestResolver(t, root, d2, store)
	tok := r2.PlanDownload("https://pics.example/legacy.png")
	require.NoError(t, r2.DownloadAll(context.Background()))
	assert.Equal(t, "legacy.png", r2.Substitute(tok))
	assert.Equal(t, 0, d2.total())
}

func TestDownloadAll_CancelledContext(t *testing.T) {
	d := newFakeDownloader()
	r := newTestResolver(t, t.TempDir(), d, nil)
	r.PlanDownload("https://pics.example/a.png")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.DownloadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
