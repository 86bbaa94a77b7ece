package ljpage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/Sriram-PR/lj-archiver/pkg/thread"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// sitePageRe captures the JSON object the page assigns to Site.page
var sitePageRe = regexp.MustCompile(`(?m)^.*Site\.page = (.+);`)

// flexString accepts a JSON string or number. Anything else decodes to "".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		*f = flexString(data)
	default:
		*f = ""
	}
	return nil
}

// flexInt accepts a JSON number, numeric string or boolean
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	s := string(data)
	switch {
	case s == "" || s == "null" || s == "false":
		*f = 0
		return nil
	case s == "true":
		*f = 1
		return nil
	case data[0] == '"':
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexInt(n)
	return nil
}

type commentAction struct {
	Href string `json:"href"`
}

type rawComment struct {
	Thread    flexString      `json:"thread"`
	Parent    flexString      `json:"parent"`
	Above     flexString      `json:"above"`
	Below     flexString      `json:"below"`
	Level     flexInt         `json:"level"`
	Collapsed flexInt         `json:"collapsed"`
	Deleted   flexInt         `json:"deleted"`
	Uname     flexString      `json:"uname"`
	Userpic   flexString      `json:"userpic"`
	ThreadURL flexString      `json:"thread_url"`
	Ctime     flexString      `json:"ctime"`
	CtimeTS   flexInt         `json:"ctime_ts"`
	Article   flexString      `json:"article"`
	More      flexInt         `json:"more"`
	Actions   []commentAction `json:"actions"`
}

type rawPage struct {
	Comments   []rawComment `json:"comments"`
	ReplyCount flexInt      `json:"replycount"`
}

// CommentParser reads the structured comment section embedded in journal pages
type CommentParser struct{}

var _ thread.PageParser = CommentParser{}

// ParsePage implements thread.PageParser
func (CommentParser) ParsePage(raw []byte) (thread.Page, error) {
	m := sitePageRe.FindSubmatch(raw)
	if m == nil {
		return thread.Page{}, utils.WrapErrorf(utils.ErrRequiredSection, "Site.page assignment not found")
	}

	var rp rawPage
	if err := json.Unmarshal(m[1], &rp); err != nil {
		// A payload that cannot be decoded is as unusable as a missing one
		return thread.Page{}, fmt.Errorf("%w: %w: JSON Site.page: %w", utils.ErrRequiredSection, utils.ErrParsing, err)
	}

	page := thread.Page{
		ReplyCount: int(rp.ReplyCount),
		Entries:    make([]thread.Entry, 0, len(rp.Comments)),
	}
	for _, rc := range rp.Comments {
		e := thread.Entry{
			Thread:    string(rc.Thread),
			Parent:    string(rc.Parent),
			Above:     string(rc.Above),
			Below:     string(rc.Below),
			Level:     int(rc.Level),
			Collapsed: rc.Collapsed != 0,
			Deleted:   rc.Deleted != 0,
			User:      string(rc.Uname),
			Userpic:   string(rc.Userpic),
			ThreadURL: string(rc.ThreadURL),
			Date:      string(rc.Ctime),
			Timestamp: int64(rc.CtimeTS),
			Article:   string(rc.Article),
			More:      int(rc.More),
		}
		if len(rc.Actions) > 0 {
			e.MoreHref = rc.Actions[0].Href
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}
