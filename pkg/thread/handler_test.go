package thread

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/lj-archiver/pkg/content"
	"github.com/Sriram-PR/lj-archiver/pkg/models"
	"github.com/Sriram-PR/lj-archiver/pkg/scheduler"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

const site = "https://someuser.livejournal.com"

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

type mapPlanner map[string]string

func (p mapPlanner) PlanDownload(rawURL string) string {
	if tok, ok := p[rawURL]; ok {
		return tok
	}
	tok := fmt.Sprintf("{{pic-%d}}", len(p))
	p[rawURL] = tok
	return tok
}

// fixture serves pages keyed by URL; the fetched payload is the key itself
type fixture struct {
	mu      sync.Mutex
	pages   map[string]Page
	failing map[string]bool
	fetched map[string]int
}

func newFixture(pages map[string]Page) *fixture {
	return &fixture{pages: pages, failing: map[string]bool{}, fetched: map[string]int{}}
}

func (f *fixture) fetch(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	f.fetched[key]++
	f.mu.Unlock()
	if f.failing[key] {
		return nil, fmt.Errorf("%w: status 404 Not Found", utils.ErrClientHTTPError)
	}
	return []byte(key), nil
}

func (f *fixture) parse(raw []byte) (Page, error) {
	p, ok := f.pages[string(raw)]
	if !ok {
		return Page{}, fmt.Errorf("%w: no comment payload", utils.ErrRequiredSection)
	}
	return p, nil
}

func full(id, parent string, level int) Entry {
	return Entry{Thread: id, Parent: parent, Level: level, User: "u" + id, Article: "text " + id}
}

func collapsed(id, parent, threadURL string) Entry {
	return Entry{Thread: id, Parent: parent, Collapsed: true, ThreadURL: threadURL}
}

func runFixture(t *testing.T, f *fixture, opts Options, seeds ...string) ([]models.Comment, *Handler, *scheduler.Task[models.Comment], error) {
	t.Helper()
	recon := content.New(mapPlanner{}, content.Options{}, testLogger())
	h := NewHandler(PageParserFunc(f.parse), recon, nil, opts, testLogger())
	h.MarkSeeds(seeds)
	s := scheduler.New[models.Comment](scheduler.FetchFunc(f.fetch), h, scheduler.Options{MaxConcurrent: 3}, testLogger())
	root, err := s.Run(context.Background(), seeds)
	return h.Results(root), h, root, err
}

func threads(comments []models.Comment) []string {
	ids := make([]string, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.Thread)
	}
	return ids
}

// eagerReference expands collapsed threads recursively the moment they are
// seen, giving the reading order the scheduled run has to reproduce
func eagerReference(pages map[string]Page, seeds []string) []string {
	seen := map[string]bool{}
	var out []string
	var visit func(key string)
	visit = func(key string) {
		for _, e := range pages[key].Entries {
			if e.Thread == "" {
				if e.More > 1 && e.MoreHref != "" {
					visit(e.MoreHref)
				}
				continue
			}
			if seen[e.Thread] {
				continue
			}
			switch {
			case e.IsFull(), e.IsDeletedStub():
				seen[e.Thread] = true
				out = append(out, e.Thread)
			case e.ThreadURL != "":
				visit(e.ThreadURL)
			}
		}
	}
	for _, s := range seeds {
		visit(s)
	}
	return out
}

// depthThreePages has one collapsed expansion on the root page and two on the
// first expansion page
func depthThreePages() map[string]Page {
	t2 := site + "/100.html?thread=2"
	t3 := site + "/100.html?thread=3"
	t5 := site + "/100.html?thread=5"
	return map[string]Page{
		site + "/100.html": {ReplyCount: 9, Entries: []Entry{
			full("1", "", 1),
			collapsed("2", "", t2),
			full("8", "", 1),
			full("9", "", 1),
		}},
		t2: {Entries: []Entry{
			full("2", "", 1),
			collapsed("3", "2", t3),
			full("4", "2", 2),
			collapsed("5", "2", t5),
		}},
		t3: {Entries: []Entry{
			full("3", "2", 2),
			full("6", "3", 3),
		}},
		t5: {Entries: []Entry{
			full("5", "2", 2),
			full("7", "5", 3),
		}},
	}
}

func TestHandler_DepthThreeMatchesEagerOrder(t *testing.T) {
	pages := depthThreePages()
	seed := site + "/100.html"

	comments, h, _, err := runFixture(t, newFixture(pages), Options{}, seed)
	require.NoError(t, err)

	assert.Equal(t, eagerReference(pages, []string{seed}), threads(comments))
	assert.Equal(t, []string{"1", "2", "3", "6", "4", "5", "7", "8", "9"}, threads(comments))
	assert.Equal(t, 9, h.DeclaredCount())
	assert.Equal(t, 9, h.Registry().Len())
}

func TestHandler_NoDuplicateThreads(t *testing.T) {
	pageA := site + "/100.html?page=1"
	pageB := site + "/100.html?page=2"
	exp := site + "/100.html?thread=20"
	pages := map[string]Page{
		pageA: {Entries: []Entry{full("10", "", 1), collapsed("20", "", exp), full("30", "", 1)}},
		// Overlapping pagination repeats entries
		pageB: {Entries: []Entry{full("30", "", 1), full("40", "", 1), collapsed("20", "", exp)}},
		// Expansion pages repeat their ancestors
		exp: {Entries: []Entry{full("10", "", 1), full("20", "", 1), full("21", "20", 2)}},
	}

	f := newFixture(pages)
	comments, _, _, err := runFixture(t, f, Options{}, pageA, pageB)
	require.NoError(t, err)

	ids := threads(comments)
	assert.Equal(t, []string{"10", "20", "21", "30", "40"}, ids)

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "thread %s materialized twice", id)
		seen[id] = true
	}
	assert.Equal(t, 1, f.fetched[exp], "expansion target spawned once")
}

func TestHandler_FailedExpansionYieldsEmptySplice(t *testing.T) {
	pages := depthThreePages()
	f := newFixture(pages)
	f.failing[site+"/100.html?thread=3"] = true

	comments, _, root, err := runFixture(t, f, Options{}, site+"/100.html")
	require.NoError(t, err, "expansion failure is not fatal")
	assert.Equal(t, []string{"1", "2", "4", "5", "7", "8", "9"}, threads(comments))

	var failed []string
	scheduler.Walk(root, func(task *scheduler.Task[models.Comment]) {
		if task.Status == scheduler.StatusFailed {
			failed = append(failed, task.Key)
			assert.True(t, errors.Is(task.Err, utils.ErrClientHTTPError))
		}
	})
	assert.Equal(t, []string{site + "/100.html?thread=3"}, failed)
}

func TestHandler_DeletedStubAndAggregationRow(t *testing.T) {
	more := site + "/100.html?expand=1&thread=50"
	pages := map[string]Page{
		site + "/100.html": {Entries: []Entry{
			full("1", "", 1),
			{Thread: "2", Collapsed: true, Deleted: true, Level: 1},
			{More: 3, MoreHref: "/100.html?thread=50&expand=1"},
			{More: 1, MoreHref: "/100.html?thread=60"}, // single hidden comment, not expanded
			collapsed("4", "", ""),                     // nothing to fetch
		}},
		more: {Entries: []Entry{full("50", "", 1), full("51", "50", 2), full("52", "50", 2)}},
	}

	f := newFixture(pages)
	comments, _, _, err := runFixture(t, f, Options{}, site+"/100.html")
	require.NoError(t, err)

	require.Equal(t, []string{"1", "2", "50", "51", "52"}, threads(comments))
	assert.True(t, comments[1].Deleted)
	assert.Empty(t, comments[1].Text)
	assert.Equal(t, 1, f.fetched[more])
	assert.Len(t, f.fetched, 2)
}

func TestHandler_ReconstructsText(t *testing.T) {
	planner := mapPlanner{}
	recon := content.New(planner, content.Options{}, testLogger())
	userpics := mapPlanner{}
	h := NewHandler(PageParserFunc(func([]byte) (Page, error) {
		return Page{Entries: []Entry{
			{Thread: "1", Level: 1, User: "a", Userpic: "//l-userpic.livejournal.com/1/2", Article: `hi <img src="/pic.png"><script>x</script>`},
			{Thread: "2", Level: 1, User: "b"},
		}}, nil
	}), recon, userpics, Options{DefaultUserpic: "http://l-stat.livejournal.net/img/userpics/userpic-user.png"}, testLogger())

	task := &scheduler.Task[models.Comment]{Key: site + "/100.html"}
	require.NoError(t, h.Handle(context.Background(), task))
	require.Len(t, task.Items, 2)

	first := task.Items[0].Leaf
	assert.Equal(t, `hi <img src="{{pic-0}}">`, first.Text)
	assert.Equal(t, "{{pic-0}}", planner["https://someuser.livejournal.com/pic.png"])

	assert.Equal(t, userpics["https://l-userpic.livejournal.com/1/2"], first.Userpic)
	assert.Equal(t, userpics["http://l-stat.livejournal.net/img/userpics/userpic-user.png"], task.Items[1].Leaf.Userpic)
	assert.Len(t, userpics, 2)
}

func TestHandler_SkipSubsumedSiblings(t *testing.T) {
	exp := site + "/100.html?thread=2"
	pages := map[string]Page{
		site + "/100.html": {Entries: []Entry{
			full("1", "", 1),
			{Thread: "2", Above: "1", Collapsed: true, ThreadURL: exp},
			{Thread: "3", Above: "1", Parent: "2", Collapsed: true, ThreadURL: site + "/100.html?thread=3"},
			{Thread: "4", Above: "1", Parent: "3", Collapsed: true, ThreadURL: site + "/100.html?thread=4"},
			full("5", "", 1),
		}},
		exp: {Entries: []Entry{full("2", "", 1), full("3", "2", 2), full("4", "3", 3)}},
		site + "/100.html?thread=3": {Entries: []Entry{full("3", "2", 2), full("4", "3", 3)}},
		site + "/100.html?thread=4": {Entries: []Entry{full("4", "3", 3)}},
	}

	for _, skip := range []bool{false, true} {
		t.Run(fmt.Sprintf("skip=%v", skip), func(t *testing.T) {
			f := newFixture(pages)
			comments, _, root, err := runFixture(t, f, Options{SkipSubsumedSiblings: skip}, site+"/100.html")
			require.NoError(t, err)

			// Same output either way; the option only saves fetches
			assert.Equal(t, []string{"1", "2", "3", "4", "5"}, threads(comments))

			seedTask := root.Children[0]
			if skip {
				assert.Len(t, seedTask.Children, 1)
				assert.Len(t, f.fetched, 2)
			} else {
				assert.Len(t, seedTask.Children, 3)
			}
		})
	}
}

func TestHandler_MissingSectionIsFatal(t *testing.T) {
	exp := site + "/100.html?thread=2"
	pages := map[string]Page{
		site + "/100.html": {Entries: []Entry{full("1", "", 1), collapsed("2", "", exp)}},
	}

	_, _, _, err := runFixture(t, newFixture(pages), Options{}, site+"/100.html")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrRequiredSection))
	assert.Contains(t, err.Error(), exp)
}

func TestHandler_CountMismatchIsNotAnError(t *testing.T) {
	pages := map[string]Page{
		site + "/100.html": {ReplyCount: 5, Entries: []Entry{full("1", "", 1)}},
	}
	comments, h, _, err := runFixture(t, newFixture(pages), Options{}, site+"/100.html")
	require.NoError(t, err)
	assert.Len(t, comments, 1)
	assert.Equal(t, 5, h.DeclaredCount())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("1"))
	assert.True(t, r.Add("1"))
	assert.False(t, r.Add("1"))
	assert.True(t, r.Has("1"))
	assert.Equal(t, 1, r.Len())
}

func TestHandler_ExpansionKeyIsNormalized(t *testing.T) {
	h := NewHandler(nil, nil, nil, Options{}, testLogger())
	task := &scheduler.Task[models.Comment]{Key: site + "/100.html"}
	base, _ := url.Parse(task.Key)

	assert.True(t, h.spawn(task, "/100.html?thread=7#t7", base, testLogger()))
	assert.False(t, h.spawn(task, "HTTPS://SOMEUSER.LIVEJOURNAL.COM/100.html?thread=7", base, testLogger()))
	require.Len(t, task.Children, 1)
	assert.Equal(t, site+"/100.html?thread=7", task.Children[0].Key)
}
