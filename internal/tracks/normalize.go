package tracks

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	bracketPrefixRE = regexp.MustCompile(`^\[.*?\]\s*`)
	nonAlnumRE      = regexp.MustCompile(`[^a-z0-9\s]`)
	retiredPrefixRE = regexp.MustCompile(`^\[Retired\]\s*`)
	alnumOnlyRE     = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// normalizeName lowercases, strips bracketed prefixes such as a retired
// marker, drops everything but letters, digits, and spaces, and collapses
// whitespace.
func normalizeName(name string) string {
	normalized := strings.ToLower(name)
	normalized = bracketPrefixRE.ReplaceAllString(normalized, "")
	normalized = nonAlnumRE.ReplaceAllString(normalized, "")
	return strings.Join(strings.Fields(normalized), " ")
}

// compactName is normalizeName with the spaces removed, so "Le Mans"
// matches a provider's "lemans".
func compactName(name string) string {
	return strings.ReplaceAll(normalizeName(name), " ", "")
}

// extractBaseName drops a retired prefix and anything after " - ", which
// separates the display name from its configuration.
func extractBaseName(trackName string) string {
	name := retiredPrefixRE.ReplaceAllString(trackName, "")
	if idx := strings.Index(name, " - "); idx >= 0 {
		return strings.TrimSpace(name[:idx])
	}
	return strings.TrimSpace(name)
}

// addSpaces re-introduces word boundaries into a CamelCase name, e.g.
// "RoadAmerica" -> "Road America". Consecutive capitals like "GP" stay
// together. Names that already contain spaces pass through unchanged.
func addSpaces(name string) string {
	if strings.Contains(name, " ") {
		return name
	}

	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]
			if unicode.IsLower(prev) && unicode.IsUpper(r) {
				b.WriteByte(' ')
			} else if unicode.IsLetter(prev) && unicode.IsDigit(r) {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// configSuffixes maps suffixes providers squash onto track names to the
// iRacing configuration keywords they imply.
var configSuffixes = map[string][]string{
	"road":       {"road"},
	"oval":       {"oval"},
	"gp":         {"gp", "grand prix"},
	"grandprix":  {"gp", "grand prix"},
	"moto":       {"moto", "motorcycle"},
	"full":       {"full"},
	"fullcourse": {"full"},
	"short":      {"short"},
	"outer":      {"outer"},
	"inner":      {"inner"},
	"north":      {"north"},
	"south":      {"south"},
	"east":       {"east"},
	"west":       {"west"},
	"combined":   {"combined"},
	"national":   {"national"},
	"club":       {"club"},
	"endurance":  {"endurance", "24h", "24hr"},
	"24h":        {"24h", "24hr", "endurance"},
}

// suffixesByLength holds the config suffix keys longest-first, so
// "grandprix" is peeled before "gp".
var suffixesByLength = func() []string {
	keys := make([]string, 0, len(configSuffixes))
	for key := range configSuffixes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// parseCompoundName splits a provider name that squashes track and
// configuration together, like "DaytonaRoad" -> ("Daytona", "road"). When
// no known suffix is found it still re-spaces CamelCase and returns an
// empty hint.
func parseCompoundName(name string) (string, string) {
	cleaned := strings.ToLower(alnumOnlyRE.ReplaceAllString(name, ""))

	for _, suffix := range suffixesByLength {
		if strings.HasSuffix(cleaned, suffix) && len(cleaned) > len(suffix) {
			base := addSpaces(name[:len(name)-len(suffix)])
			return base, suffix
		}
	}
	return addSpaces(name), ""
}
