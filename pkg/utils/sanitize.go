package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)
var plausibleExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

const maxFilenameLength = 100

// GenericExtension replaces absent or implausible file extensions
const GenericExtension = ".bin"

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ .") // Leading dots would produce hidden files or ".."

	if len(sanitized) > maxFilenameLength {
		sanitized = sanitized[:maxFilenameLength]
		sanitized = strings.Trim(sanitized, "_ .")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// SanitizeExtension lowercases ext and collapses anything that does not look like
// a short alphanumeric extension to GenericExtension.
func SanitizeExtension(ext string) string {
	ext = strings.ToLower(ext)
	if !plausibleExt.MatchString(ext) {
		return GenericExtension
	}
	return ext
}

// IsSafeRelPath reports whether p is a relative path that stays inside its base directory.
func IsSafeRelPath(p string) bool {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(p))
}
