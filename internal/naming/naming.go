// Package naming turns a user's rename template and the cascade output into
// the delivered filename and caption.
package naming

import (
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"autorename/internal/cascade"
	"autorename/internal/textutil"
)

// Braced spellings come first so "{episode}" is consumed whole instead of
// leaving "{02}" behind after the bare "episode" spelling matches inside it.
var (
	episodePlaceholders = []string{"{episode}", "episode", "Episode", "EPISODE"}
	qualityPlaceholders = []string{"{quality}", "quality", "Quality", "QUALITY"}
)

// Resolution is a template with placeholders substituted.
type Resolution struct {
	Name string
	// QualityAdvisory is set when the template asked for a quality the
	// cascade could not find.
	QualityAdvisory bool
}

// Resolve substitutes episode and quality placeholders in template.
//
// Each episode spelling is replaced at its first occurrence only, and only
// when an episode was found. Every occurrence of each quality spelling is
// replaced.
func Resolve(template string, res cascade.Result) Resolution {
	out := template
	if res.HasEpisode {
		for _, placeholder := range episodePlaceholders {
			out = strings.Replace(out, placeholder, res.Episode, 1)
		}
	}

	var advisory bool
	quality := res.Quality
	if quality == "" {
		quality = cascade.UnknownQuality
	}
	for _, placeholder := range qualityPlaceholders {
		if !strings.Contains(out, placeholder) {
			continue
		}
		if quality == cascade.UnknownQuality {
			advisory = true
		}
		out = strings.ReplaceAll(out, placeholder, quality)
	}
	return Resolution{Name: out, QualityAdvisory: advisory}
}

// OutputFileName appends the extension of originalName to the resolved
// template after sanitizing it for the filesystem. An unusable template falls
// back to the original name.
func OutputFileName(resolved, originalName string) string {
	ext := filepath.Ext(originalName)
	base := textutil.SanitizeFileName(resolved)
	if base == "" {
		base = textutil.SanitizeFileName(strings.TrimSuffix(originalName, ext))
	}
	if base == "" {
		base = "file"
	}
	return base + ext
}

// Caption renders the user's caption template. {filename} and {filesize} are
// substituted; other braces are left as written. An empty template yields the
// bold filename.
func Caption(template, fileName string, size int64, sizeKnown bool) string {
	if strings.TrimSpace(template) == "" {
		return "**" + fileName + "**"
	}
	sizeText := "Unknown"
	if sizeKnown && size >= 0 {
		sizeText = humanize.IBytes(uint64(size))
	}
	return strings.NewReplacer("{filename}", fileName, "{filesize}", sizeText).Replace(template)
}

// BoldCaption is the caption used when re-sending buffered sequence files.
func BoldCaption(fileName string) string {
	return "**" + fileName + "**"
}
