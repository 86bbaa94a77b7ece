package content

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/Sriram-PR/lj-archiver/pkg/parse"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// AssetPlanner registers an embedded resource URL and returns the placeholder
// token to write in its place
type AssetPlanner interface {
	PlanDownload(rawURL string) string
}

// PostBodyStopAnchor names the anchor that ends the visible part of a post body
const PostBodyStopAnchor = "cutid1-end"

// assetAttrs lists the embedded-resource attribute of each element that carries one
var assetAttrs = map[string]string{
	"img":    "src",
	"video":  "poster",
	"source": "src",
	"audio":  "src",
	"embed":  "src",
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// dropped with their content
var rawTextElements = map[string]bool{
	"script": true,
	"style":  true,
}

// droppedAttrs are removed from every element
var droppedAttrs = map[string]bool{
	"srcset": true, // Candidates would bypass asset planning
}

// Options configures a Reconstructor
type Options struct {
	// StopAnchor ends the fragment at the first <a name="..."> whose name contains it
	StopAnchor string
}

// Reconstructor re-serializes HTML fragments with a tag stack, routing every
// embedded resource through an AssetPlanner
type Reconstructor struct {
	planner AssetPlanner
	opts    Options
	log     *logrus.Entry
}

// New creates a Reconstructor
func New(planner AssetPlanner, opts Options, log *logrus.Entry) *Reconstructor {
	return &Reconstructor{planner: planner, opts: opts, log: log}
}

// state is the per-fragment tag stack machine
type state struct {
	out     strings.Builder
	stack   []string
	skip    string // Name of the raw text element being dropped
	stopped bool
}

func (s *state) push(name string) { s.stack = append(s.stack, name) }

// closeTo emits end tags down to and including the innermost open element
// named name. Returns false when no such element is open.
func (s *state) closeTo(name string) bool {
	idx := -1
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i] == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	for i := len(s.stack) - 1; i >= idx; i-- {
		s.out.WriteString("</" + s.stack[i] + ">")
	}
	s.stack = s.stack[:idx]
	return true
}

func (s *state) closeAll() {
	for i := len(s.stack) - 1; i >= 0; i-- {
		s.out.WriteString("</" + s.stack[i] + ">")
	}
	s.stack = nil
}

// Reconstruct rewrites fragment into normalized markup. Relative resource URLs
// are resolved against base, which may be nil.
func (r *Reconstructor) Reconstruct(fragment string, base *url.URL) (string, error) {
	z := html.NewTokenizer(strings.NewReader(fragment))
	st := &state{}

	for !st.stopped {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: HTML tokenizer: %w", utils.ErrParsing, err)
			}
			st.closeAll()
			return st.out.String(), nil

		case html.TextToken:
			if st.skip != "" {
				continue
			}
			st.out.WriteString(html.EscapeString(string(z.Text())))

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			r.startTag(st, tok, tt == html.SelfClosingTagToken, base)

		case html.EndTagToken:
			tok := z.Token()
			name := tok.Data
			if st.skip != "" {
				if name == st.skip {
					st.skip = ""
				}
				continue
			}
			if voidElements[name] {
				continue
			}
			if !st.closeTo(name) {
				r.log.Debugf("Dropping stray end tag </%s>", name)
			}

		case html.CommentToken, html.DoctypeToken:
			// dropped
		}
	}

	st.closeAll()
	return st.out.String(), nil
}

func (r *Reconstructor) startTag(st *state, tok html.Token, selfClosing bool, base *url.URL) {
	name := tok.Data
	if st.skip != "" {
		return
	}
	if rawTextElements[name] {
		if !selfClosing {
			st.skip = name
		}
		return
	}
	if name == "a" && r.opts.StopAnchor != "" {
		for _, a := range tok.Attr {
			if a.Key == "name" && strings.Contains(a.Val, r.opts.StopAnchor) {
				st.stopped = true
				return
			}
		}
	}

	st.out.WriteString("<" + name)
	assetAttr := assetAttrs[name]
	for _, a := range tok.Attr {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") || droppedAttrs[key] {
			continue
		}
		val := a.Val
		switch {
		case key == assetAttr:
			planned, ok := r.planAsset(val, base)
			if !ok {
				continue
			}
			val = planned
		case key == "href":
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(val)), "javascript:") {
				continue
			}
		}
		st.out.WriteString(" " + key + `="` + html.EscapeString(val) + `"`)
	}
	st.out.WriteString(">")

	switch {
	case voidElements[name]:
	case selfClosing:
		// <div/> and the like are empty elements, not open ones
		st.out.WriteString("</" + name + ">")
	default:
		st.push(name)
	}
}

// planAsset resolves a resource reference and hands it to the planner.
// Inline data URIs are kept as they are. Returns false to drop the attribute.
func (r *Reconstructor) planAsset(raw string, base *url.URL) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(raw), "data:") {
		return raw, true
	}
	resolved, err := parse.ResolveAndNormalize(base, raw)
	if err != nil {
		r.log.WithField("asset_url", raw).Warnf("Dropping unparseable resource URL: %v", err)
		return "", false
	}
	u, _ := url.Parse(resolved)
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		r.log.WithField("asset_url", raw).Debug("Dropping resource with unsupported scheme")
		return "", false
	}
	return r.planner.PlanDownload(resolved), true
}
