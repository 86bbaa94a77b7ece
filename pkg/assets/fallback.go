package assets

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// fallbackSVG is written at the fallback path so pages referencing it render
const fallbackSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="100" height="100" viewBox="0 0 100 100">
<rect width="100" height="100" fill="#dcdcdc"/>
<path d="M20 75 L40 50 L55 65 L65 55 L80 75 Z" fill="#8b8989"/>
<circle cx="65" cy="35" r="8" fill="#8b8989"/>
</svg>
`

// EnsureFallbackFile writes the placeholder image at relPath under layout unless a file is already there
func EnsureFallbackFile(layout Layout, relPath string) error {
	if !utils.IsSafeRelPath(relPath) {
		return fmt.Errorf("%w: fallback %q", utils.ErrUnsafePath, relPath)
	}
	if layout.PathExists(relPath) {
		return nil
	}
	dest := layout.Abs(relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", utils.ErrFilesystem, filepath.Dir(dest), err)
	}
	if err := os.WriteFile(dest, []byte(fallbackSVG), 0644); err != nil {
		return fmt.Errorf("%w: writing fallback %s: %w", utils.ErrFilesystem, dest, err)
	}
	return nil
}
