package textutil

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
	"\x00", "",
)

// maxFileNameBytes keeps names under the common 255 byte limit with room for
// an extension.
const maxFileNameBytes = 240

// SanitizeFileName normalizes name to NFC and replaces filesystem-unsafe
// characters. Slashes, backslashes, colons, and asterisks become dashes; other
// unsafe characters are removed. Names that reduce to dots are rejected by
// returning an empty string.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return ""
	}
	name = strings.TrimSpace(fileNameReplacer.Replace(name))
	if strings.Trim(name, ".") == "" {
		return ""
	}
	return truncateUTF8(name, maxFileNameBytes)
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return strings.TrimSpace(s[:cut])
}
