package assets

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Sriram-PR/lj-archiver/pkg/parse"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// NoUserpicURL is the site's placeholder picture for users without a userpic
const NoUserpicURL = "http://l-stat.livejournal.net/img/userpics/userpic-user.png"

const (
	filesDir    = "files"
	userpicsDir = "userpics"
	hashLen     = 8
)

// Layout maps asset URLs to deterministic paths relative to an output root
type Layout interface {
	// DerivePath returns the slash-separated relative path for rawURL
	DerivePath(rawURL string) (string, error)
	// PathExists reports whether a usable file already exists at relPath
	PathExists(relPath string) bool
	// Abs converts relPath into a filesystem path under the root
	Abs(relPath string) string
}

// FSLayout is the on-disk Layout of one journal's output directory
type FSLayout struct {
	Root string
}

// NewFSLayout creates a layout rooted at dir
func NewFSLayout(dir string) *FSLayout {
	return &FSLayout{Root: dir}
}

// DerivePath implements Layout.
// Userpics keep the site's numeric ids, everything else becomes
// files/<name>_<hash><ext> where hash is taken from the full URL.
func (l *FSLayout) DerivePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: URL asset %q is not absolute", utils.ErrParsing, rawURL)
	}

	var rel string
	switch {
	case sameURL(rawURL, NoUserpicURL):
		rel = path.Join(userpicsDir, "userpic-user.png")
	default:
		if user, pic, ok := parse.UserpicParts(rawURL); ok {
			rel = path.Join(userpicsDir, user, pic+utils.GenericExtension)
			break
		}
		base := path.Base(u.Path)
		if base == "/" || base == "." {
			base = ""
		}
		ext := path.Ext(base)
		name := utils.SanitizeFilename(strings.TrimSuffix(base, ext))
		rel = path.Join(filesDir, name+"_"+utils.ShortURLHash(rawURL, hashLen)+utils.SanitizeExtension(ext))
	}

	if !utils.IsSafeRelPath(rel) {
		return "", fmt.Errorf("%w: %q derived from %s", utils.ErrUnsafePath, rel, rawURL)
	}
	return rel, nil
}

// PathExists implements Layout. Empty files count as missing.
func (l *FSLayout) PathExists(relPath string) bool {
	if !utils.IsSafeRelPath(relPath) {
		return false
	}
	info, err := os.Stat(l.Abs(relPath))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Abs implements Layout
func (l *FSLayout) Abs(relPath string) string {
	return filepath.Join(l.Root, filepath.FromSlash(relPath))
}

func sameURL(a, b string) bool {
	na, _, errA := parse.ParseAndNormalize(a)
	nb, _, errB := parse.ParseAndNormalize(b)
	return errA == nil && errB == nil && na == nb
}
