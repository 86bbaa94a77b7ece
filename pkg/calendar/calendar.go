package calendar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/lj-archiver/pkg/models"
	"github.com/Sriram-PR/lj-archiver/pkg/parse"
	"github.com/Sriram-PR/lj-archiver/pkg/scheduler"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

const (
	yearContentSelector = "div.content-inner"
	postLinkSelector    = `a[rel="bookmark"][href]`
)

// Collector lists the posts a journal published in one year by walking its
// year calendar and the day pages it links to
type Collector struct {
	fetcher scheduler.Fetcher
	opts    scheduler.Options
	log     *logrus.Entry
}

func NewCollector(fetcher scheduler.Fetcher, opts scheduler.Options, log *logrus.Entry) *Collector {
	return &Collector{fetcher: fetcher, opts: opts, log: log}
}

// YearPostLinks returns the post links of user's journal for year in calendar order
func (c *Collector) YearPostLinks(ctx context.Context, user string, year int) ([]models.PostLink, error) {
	yearURL, err := parse.YearCalendarURL(parse.JournalBaseURL(user), year)
	if err != nil {
		return nil, err
	}
	yearLog := c.log.WithFields(logrus.Fields{"journal": user, "year": year})

	h := &pageHandler{
		dates: make(map[string]string),
		seen:  make(map[string]bool),
		log:   yearLog,
	}
	sched := scheduler.New[models.PostLink](c.fetcher, h, c.opts, yearLog.WithField("component", "scheduler"))

	root, err := sched.Run(ctx, []string{yearURL})
	if err != nil {
		return nil, err
	}

	var firstErr error
	scheduler.Walk(root, func(t *scheduler.Task[models.PostLink]) {
		if t.Status == scheduler.StatusFailed && t.Depth == 1 && firstErr == nil {
			firstErr = fmt.Errorf("year calendar %s: %w", t.Key, t.Err)
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}

	links := scheduler.Flatten(root)
	st := sched.Stats()
	yearLog.WithFields(logrus.Fields{
		"days":   len(h.dates),
		"posts":  len(links),
		"failed": st.Failed,
	}).Info("Calendar scan finished")
	return links, nil
}

// pageHandler reads the year page at depth 1 and day pages at depth 2
type pageHandler struct {
	dates map[string]string // Day page key -> YYYY-MM-DD
	seen  map[string]bool   // Post URLs already listed
	log   *logrus.Entry
}

func (h *pageHandler) Handle(_ context.Context, task *scheduler.Task[models.PostLink]) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(task.Payload))
	if err != nil {
		return fmt.Errorf("%w: HTML calendar page: %w", utils.ErrParsing, err)
	}
	base, err := url.Parse(task.Key)
	if err != nil {
		return fmt.Errorf("%w: URL %s: %w", utils.ErrParsing, task.Key, err)
	}
	if task.Depth == 1 {
		return h.handleYear(doc, base, task)
	}
	return h.handleDay(doc, base, task)
}

func (h *pageHandler) handleYear(doc *goquery.Document, base *url.URL, task *scheduler.Task[models.PostLink]) error {
	content := doc.Find(yearContentSelector).First()
	if content.Length() == 0 {
		return fmt.Errorf("%w: year calendar has no %s", utils.ErrRequiredSection, yearContentSelector)
	}
	content.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		date, ok := parse.DayFromLink(href)
		if !ok {
			return
		}
		key := resolve(base, href)
		if key == "" {
			return
		}
		if _, dup := h.dates[key]; dup {
			return
		}
		h.dates[key] = date
		task.Spawn(key)
	})
	h.log.Debugf("Found %d day pages", len(task.Children))
	return nil
}

func (h *pageHandler) handleDay(doc *goquery.Document, base *url.URL, task *scheduler.Task[models.PostLink]) error {
	date := h.dates[task.Key]
	doc.Find(postLinkSelector).Each(func(_ int, s *goquery.Selection) {
		link := resolve(base, strings.TrimSpace(s.AttrOr("href", "")))
		if link == "" || h.seen[link] {
			return
		}
		h.seen[link] = true
		task.AddLeaf(models.PostLink{Date: date, URL: link})
	})
	return nil
}

// resolve makes href absolute and drops its fragment. The path is kept as
// written; calendar day URLs need their trailing slash.
func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || href == "" {
		return ""
	}
	u := base.ResolveReference(ref)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// WriteLinks prints one "<date> <url>" line per link
func WriteLinks(w io.Writer, links []models.PostLink) error {
	for _, l := range links {
		if _, err := fmt.Fprintf(w, "%s %s\n", l.Date, l.URL); err != nil {
			return err
		}
	}
	return nil
}
