package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/lj-archiver/pkg/archive"
	"github.com/Sriram-PR/lj-archiver/pkg/models"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// Exporter renders archived posts as Markdown
type Exporter struct {
	conv *md.Converter
	log  *logrus.Entry
}

func NewExporter(log *logrus.Entry) *Exporter {
	return &Exporter{
		conv: md.NewConverter("", true, nil),
		log:  log,
	}
}

func isRoot(parent string) bool {
	return parent == "" || parent == "0"
}

// CommentDepths returns the nesting depth of each comment, 1 for top level.
// Depth follows parent links through the comments seen so far; a comment
// whose parent is not on the current chain falls back to its stored level.
func CommentDepths(comments []models.Comment) []int {
	type frame struct {
		thread string
		depth  int
	}
	depths := make([]int, len(comments))
	var chain []frame

	for i, c := range comments {
		depth := max(c.Level, 1)
		if isRoot(c.Parent) {
			chain = chain[:0]
		} else {
			for len(chain) > 0 && chain[len(chain)-1].thread != c.Parent {
				chain = chain[:len(chain)-1]
			}
			if len(chain) > 0 {
				depth = chain[len(chain)-1].depth + 1
			}
		}
		chain = append(chain, frame{thread: c.Thread, depth: depth})
		depths[i] = depth
	}
	return depths
}

func (e *Exporter) html(fragment string) (string, error) {
	if strings.TrimSpace(fragment) == "" {
		return "", nil
	}
	out, err := e.conv.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrMarkdownExport, err)
	}
	return strings.TrimSpace(out), nil
}

// quote prefixes every line of text with depth-1 blockquote markers
func quote(text string, depth int) string {
	if depth <= 1 {
		return text
	}
	prefix := strings.Repeat("> ", depth-1)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(prefix+l, " ")
	}
	return strings.Join(lines, "\n")
}

// Post renders a single archived post with its comments
func (e *Exporter) Post(post *models.Post) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", post.Header)
	if post.Date != "" {
		fmt.Fprintf(&b, "_%s_ · [original](%s)\n\n", post.Date, post.Link)
	} else {
		fmt.Fprintf(&b, "[original](%s)\n\n", post.Link)
	}

	body, err := e.html(post.Text)
	if err != nil {
		return "", fmt.Errorf("post %s body: %w", post.ID, err)
	}
	if body != "" {
		b.WriteString(body + "\n\n")
	}
	if len(post.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n\n", strings.Join(post.Tags, ", "))
	}

	fmt.Fprintf(&b, "## %d Comments\n", len(post.Comments))

	depths := CommentDepths(post.Comments)
	for i, c := range post.Comments {
		var block strings.Builder
		switch {
		case c.Deleted:
			block.WriteString("_(deleted comment)_")
		default:
			head := "**" + c.User + "**"
			if c.User == "" {
				head = "**(anonymous)**"
			}
			if post.Author != "" && c.User == post.Author {
				head += " (author)"
			}
			if c.Userpic != "" {
				head = fmt.Sprintf("![%s](%s) %s", c.User, c.Userpic, head)
			}
			if c.Date != "" {
				head += " · " + c.Date
			}
			block.WriteString(head)

			text, err := e.html(c.Text)
			if err != nil {
				e.log.WithField("thread", c.Thread).Warnf("Keeping raw comment text: %v", err)
				text = c.Text
			}
			if text != "" {
				block.WriteString("\n\n" + text)
			}
		}
		b.WriteString("\n" + quote(block.String(), depths[i]) + "\n")
	}
	return b.String(), nil
}

// Index renders the journal index as a Markdown table sorted by date
func (e *Exporter) Index(idx *models.Index) string {
	posts := make([]models.IndexPost, 0, len(idx.Posts))
	for _, p := range idx.Posts {
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].Date != posts[j].Date {
			return posts[i].Date < posts[j].Date
		}
		return posts[i].ID < posts[j].ID
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n| Date | Title | Tags |\n|---|---|---|\n", idx.User)
	for _, p := range posts {
		title := strings.ReplaceAll(p.Header, "|", `\|`)
		if title == "" {
			title = p.ID
		}
		fmt.Fprintf(&b, "| %s | [%s](%s) | %s |\n", p.Date, title, markdownName(p.ID), strings.Join(p.Tags, ", "))
	}
	return b.String()
}

func markdownName(postID string) string {
	return utils.SanitizeFilename(postID) + ".md"
}

// Journal writes <id>.md for every post listed in the journal index and an
// index.md next to them. Asset paths stay valid because the files share the
// directory of the post JSON. Returns the number of posts written.
func (e *Exporter) Journal(journalDir, user string) (int, error) {
	idx, err := archive.LoadIndex(filepath.Join(journalDir, archive.IndexFileName), user)
	if err != nil {
		return 0, err
	}

	written := 0
	for id := range idx.Posts {
		postLog := e.log.WithField("post_id", id)
		post, err := archive.LoadPost(filepath.Join(journalDir, archive.PostFileName(id)))
		if err != nil {
			postLog.Warnf("Skipping post: %v", err)
			continue
		}
		out, err := e.Post(post)
		if err != nil {
			postLog.Warnf("Skipping post: %v", err)
			continue
		}
		if err := writeFile(filepath.Join(journalDir, markdownName(id)), out); err != nil {
			return written, err
		}
		written++
	}

	if err := writeFile(filepath.Join(journalDir, "index.md"), e.Index(idx)); err != nil {
		return written, err
	}
	e.log.WithFields(logrus.Fields{"journal": user, "posts": written}).Info("Markdown export finished")
	return written, nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("%w: write %s: %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
