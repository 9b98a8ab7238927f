// Package sanitize cleans user supplied chat content before it is stored.
package sanitize

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

var fileNameControl = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// MessageText strips control characters except newlines and tabs, and trims
// surrounding whitespace
func MessageText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// FileName reduces an attachment name to its last path element with control
// characters removed. It returns "" when nothing usable is left.
func FileName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = fileNameControl.ReplaceAllString(path.Base(name), "")
	name = strings.TrimSpace(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
