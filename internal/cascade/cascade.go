package cascade

import "regexp"

// UnknownQuality is returned when no quality rule matches.
const UnknownQuality = "Unknown"

// Rule is one entry of an extraction table.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	// Group selects the capture group returned for episode rules.
	Group int
	// Tag is returned verbatim for quality rules that map to a fixed label.
	// An empty tag returns the matched fragment.
	Tag string
}

var episodeRules = []Rule{
	{Name: "season-episode", Pattern: regexp.MustCompile(`S(\d+)(?:E|EP)(\d+)`), Group: 2},
	{Name: "season-spaced-episode", Pattern: regexp.MustCompile(`S(\d+)\s*(?:E|EP|-\s*EP|-\s*E)(\d+)`), Group: 2},
	{Name: "bracketed-episode", Pattern: regexp.MustCompile(`[(\[<{]?\s*(?:E|EP)\s*(\d+)\s*[)\]>}]?`), Group: 1},
	{Name: "hyphen-number", Pattern: regexp.MustCompile(`\s*-\s*(\d+)\s*`), Group: 1},
	{Name: "season-loose", Pattern: regexp.MustCompile(`(?i)S(\d+)[^\d]*(\d+)`), Group: 2},
	{Name: "first-number", Pattern: regexp.MustCompile(`(\d+)`), Group: 1},
}

// 4k and 2k only count as standalone tokens so combined tags such as 4kx265
// fall through to their own rules.
var qualityRules = []Rule{
	{Name: "resolution", Pattern: regexp.MustCompile(`(?i)(\d{3,4}[^\dp]*p)`)},
	{Name: "4k", Pattern: regexp.MustCompile(`(?i)(?:^|[^a-z0-9])[(\[<{]?\s*4k\s*[)\]>}]?(?:[^a-z0-9]|$)`), Tag: "4k"},
	{Name: "2k", Pattern: regexp.MustCompile(`(?i)(?:^|[^a-z0-9])[(\[<{]?\s*2k\s*[)\]>}]?(?:[^a-z0-9]|$)`), Tag: "2k"},
	{Name: "hdrip", Pattern: regexp.MustCompile(`(?i)[(\[<{]?\s*hdrip\s*[)\]>}]?`), Tag: "HdRip"},
	{Name: "4k-x264", Pattern: regexp.MustCompile(`(?i)4kx264`), Tag: "4kX264"},
	{Name: "4k-x265", Pattern: regexp.MustCompile(`(?i)4kx265`), Tag: "4kx265"},
}

var rankPattern = regexp.MustCompile(`(480p|720p|1080p)`)

var qualityRanks = map[string]int{"480p": 1, "720p": 2, "1080p": 3}

// Result is the outcome of running both cascades over one filename.
type Result struct {
	Episode     string
	HasEpisode  bool
	EpisodeRule string
	Quality     string
	QualityRule string
}

// Analyze runs the episode and quality cascades over name.
func Analyze(name string) Result {
	var res Result
	res.Episode, res.EpisodeRule, res.HasEpisode = matchEpisode(name)
	res.Quality, res.QualityRule = matchQuality(name)
	return res
}

// ExtractEpisode returns the episode number found in name, keeping leading zeros.
func ExtractEpisode(name string) (string, bool) {
	episode, _, ok := matchEpisode(name)
	return episode, ok
}

// ExtractQuality returns the quality tag found in name or UnknownQuality.
func ExtractQuality(name string) string {
	quality, _ := matchQuality(name)
	return quality
}

func matchEpisode(name string) (string, string, bool) {
	for _, rule := range episodeRules {
		m := rule.Pattern.FindStringSubmatch(name)
		if m == nil || len(m) <= rule.Group {
			continue
		}
		return m[rule.Group], rule.Name, true
	}
	return "", "", false
}

func matchQuality(name string) (string, string) {
	for _, rule := range qualityRules {
		m := rule.Pattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if rule.Tag != "" {
			return rule.Tag, rule.Name
		}
		return m[1], rule.Name
	}
	return UnknownQuality, ""
}

// QualityRank orders names by their first 480p/720p/1080p token. Names
// without one rank last.
func QualityRank(name string) int {
	if m := rankPattern.FindString(name); m != "" {
		return qualityRanks[m]
	}
	return 4
}

// EpisodeRules returns the names of the episode rules in evaluation order.
func EpisodeRules() []string { return ruleNames(episodeRules) }

// QualityRules returns the names of the quality rules in evaluation order.
func QualityRules() []string { return ruleNames(qualityRules) }

func ruleNames(rules []Rule) []string {
	names := make([]string, len(rules))
	for i, rule := range rules {
		names[i] = rule.Name
	}
	return names
}
