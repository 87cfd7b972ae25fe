package thumbnail

import (
	"path"
	"strings"
)

// DefaultExt is used when an image URL gives no better hint.
const DefaultExt = ".jpg"

// GuessExt picks .png or .gif when the URL mentions them, else .jpg.
func GuessExt(imageURL string) string {
	lower := strings.ToLower(imageURL)
	switch {
	case strings.Contains(lower, ".png"):
		return ".png"
	case strings.Contains(lower, ".gif"):
		return ".gif"
	default:
		return DefaultExt
	}
}

// PathExt returns the extension of the URL's last path element, ignoring any
// query string, or .jpg if there is none.
func PathExt(imageURL string) string {
	u, _, _ := strings.Cut(imageURL, "?")
	if ext := path.Ext(u); ext != "" {
		return ext
	}
	return DefaultExt
}
