package parse

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

var (
	postURLPattern    = regexp.MustCompile(`(?:/*)([\w\-]+)\.livejournal\.com/(\d+)\.\w*`)
	journalPattern    = regexp.MustCompile(`(?:/*)([\w\-]+)\.livejournal\.com`)
	dayLinkPattern    = regexp.MustCompile(`([\w\-]+)\.livejournal\.com/(\d{4})/(\d{2})/(\d{2})/`)
	userpicPathPattern = regexp.MustCompile(`^/(\d+)/(\d+)/?$`)
)

// Calendar years accepted by YearCalendarURL
const (
	MinCalendarYear = 2000
	MaxCalendarYear = 2030
)

// PostRef identifies a single journal post
type PostRef struct {
	User string
	ID   string
}

// ParsePostURL extracts the journal user and post id from a post link such as
// https://someuser.livejournal.com/12345.html
func ParsePostURL(raw string) (PostRef, error) {
	m := postURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return PostRef{}, fmt.Errorf("%w: %q", utils.ErrInvalidPostURL, raw)
	}
	return PostRef{User: m[1], ID: m[2]}, nil
}

// ParseJournalUser extracts the journal user from any link on the journal's host
func ParseJournalUser(raw string) (string, error) {
	m := journalPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("%w: no journal host in %q", utils.ErrInvalidPostURL, raw)
	}
	return m[1], nil
}

// JournalBaseURL returns the root URL of a user's journal
func JournalBaseURL(user string) string {
	return "https://" + user + ".livejournal.com"
}

// PostPagePath is the journal-relative path of a post's first page, which is
// also its only comment page when the post has no pager.
func PostPagePath(postID string) string {
	return "/" + postID + ".html"
}

// CommentPageURL resolves a comment page href against the journal base URL
func CommentPageURL(journalBase, href string) (string, error) {
	base, err := url.Parse(journalBase)
	if err != nil {
		return "", fmt.Errorf("%w: URL journal base %q: %w", utils.ErrParsing, journalBase, err)
	}
	resolved, err := ResolveAndNormalize(base, href)
	if err != nil {
		return "", fmt.Errorf("%w: URL comment page %q: %w", utils.ErrParsing, href, err)
	}
	return resolved, nil
}

// YearCalendarURL returns the calendar page of a journal for the given year
func YearCalendarURL(journalBase string, year int) (string, error) {
	if year < MinCalendarYear || year > MaxCalendarYear {
		return "", fmt.Errorf("%w: year %d outside %d-%d", utils.ErrConfigValidation, year, MinCalendarYear, MaxCalendarYear)
	}
	return strings.TrimRight(journalBase, "/") + "/" + strconv.Itoa(year) + "/", nil
}

// DayFromLink returns the YYYY-MM-DD date encoded in a calendar day link
func DayFromLink(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", false
	}
	m := dayLinkPattern.FindStringSubmatch(link)
	if m == nil {
		return "", false
	}
	return m[2] + "-" + m[3] + "-" + m[4], true
}

// IsDayLink reports whether link points at a calendar day page
func IsDayLink(link string) bool {
	_, ok := DayFromLink(link)
	return ok
}

// userpicHost serves every journal userpic as /<user>/<picture>
const userpicHost = "l-userpic.livejournal.com"

// UserpicParts extracts the (user, picture) id pair from a userpic URL.
// Only the userpic host itself matches, never a mention of it elsewhere in the URL.
func UserpicParts(raw string) (string, string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(u.Hostname(), userpicHost) {
		return "", "", false
	}
	m := userpicPathPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
