package ljpage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/lj-archiver/pkg/parse"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// Selectors of the journal's single post layout
const (
	titleSelector     = "h1.b-singlepost-title"
	authorSelector    = "a.i-ljuser-username"
	dateSelector      = "time.b-singlepost-author-date"
	bodySelector      = "article.b-singlepost-body"
	tagSelector       = `meta[property="article:tag"]`
	commentPagerLinks = "ul.b-pager-pages a[href]"
)

// PostPage holds the parts of a post page the archiver keeps
type PostPage struct {
	Header       string
	Author       string
	Date         string
	Tags         []string
	BodyHTML     string   // Inner HTML of the post body, not yet reconstructed
	CommentPages []string // Pager hrefs as they appear on the page
}

// ParsePost extracts a post page. A page without a post body returns an
// error wrapping utils.ErrRequiredSection.
func ParsePost(raw []byte) (*PostPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML post page: %w", utils.ErrParsing, err)
	}

	body := doc.Find(bodySelector).First()
	if body.Length() == 0 {
		return nil, fmt.Errorf("%w: post body (%s)", utils.ErrRequiredSection, bodySelector)
	}
	bodyHTML, err := body.Html()
	if err != nil {
		return nil, fmt.Errorf("%w: HTML post body: %w", utils.ErrParsing, err)
	}

	page := &PostPage{
		Header:   strings.TrimSpace(doc.Find(titleSelector).First().Text()),
		Author:   strings.TrimSpace(doc.Find(authorSelector).First().Text()),
		Date:     strings.TrimSpace(doc.Find(dateSelector).First().Text()),
		BodyHTML: bodyHTML,
	}

	seen := make(map[string]bool)
	doc.Find(tagSelector).Each(func(_ int, s *goquery.Selection) {
		tag := strings.TrimSpace(s.AttrOr("content", ""))
		if tag != "" && !seen[tag] {
			seen[tag] = true
			page.Tags = append(page.Tags, tag)
		}
	})

	pages := make(map[string]bool)
	doc.Find(commentPagerLinks).Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href != "" && !pages[href] {
			pages[href] = true
			page.CommentPages = append(page.CommentPages, href)
		}
	})

	return page, nil
}

// CommentPageHrefs returns the pager links, or the post page itself when the
// discussion fits on one page
func (p *PostPage) CommentPageHrefs(postID string) []string {
	if len(p.CommentPages) > 0 {
		return p.CommentPages
	}
	return []string{parse.PostPagePath(postID)}
}
