package reorganizer

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// gofastNameRE parses GoFast_<series>_<season>_<track>_<type>.sto. The
// series may itself contain underscores, so the season pattern anchors
// the split.
var gofastNameRE = regexp.MustCompile(`^(?i)GoFast_(.+?)_(\d+S\d+W?\d*)_([^_]+)_([^_]+)\.sto$`)

// genericNameRE matches <anything>_<track>_<type>.sto.
var genericNameRE = regexp.MustCompile(`^(?i).*?_([A-Za-z][A-Za-z0-9\-]+)_([^_]+)\.sto$`)

var seasonTokenRE = regexp.MustCompile(`^(?i)\d+S\d+`)

// setupTypes are trailing tokens that name a setup variant rather than
// part of a track name.
var setupTypes = map[string]struct{}{
	"race":       {},
	"qualifying": {},
	"qual":       {},
	"q":          {},
	"practice":   {},
	"wet":        {},
	"swet":       {},
	"er":         {},
	"sr":         {},
	"sq":         {},
	"eq":         {},
}

var skippedTokens = map[string]struct{}{
	"go":     {},
	"fast":   {},
	"gofast": {},
	"ir":     {},
	"sto":    {},
}

// extractTrackFromFilename pulls a track name out of a .sto filename,
// trying the GoFast layout, then the generic layout, then scanning
// individual tokens against the matcher.
func (r *Reorganizer) extractTrackFromFilename(filename, categoryHint string) string {
	if m := gofastNameRE.FindStringSubmatch(filename); m != nil {
		return splitCamel(m[3])
	}

	if m := genericNameRE.FindStringSubmatch(filename); m != nil {
		setupType := strings.ToLower(m[2])
		if _, ok := setupTypes[setupType]; ok || len(setupType) <= 3 {
			return splitCamel(m[1])
		}
	}

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	for _, part := range strings.Split(strings.ReplaceAll(stem, "-", "_"), "_") {
		if len(part) < 3 {
			continue
		}
		lower := strings.ToLower(part)
		if _, ok := skippedTokens[lower]; ok {
			continue
		}
		if seasonTokenRE.MatchString(part) {
			continue
		}
		if _, ok := setupTypes[lower]; ok {
			continue
		}
		if result := r.matcher.Match(part, categoryHint); result.DirPath != "" && result.Confidence >= 0.7 {
			return part
		}
	}
	return ""
}

// extractTrackFromPath checks the folders between the car folder and the
// filename for a recognizable track name. When nothing matches, the first
// middle folder is returned as a best guess.
func (r *Reorganizer) extractTrackFromPath(parts []string, categoryHint string) string {
	if len(parts) <= 2 {
		return ""
	}
	middle := parts[1 : len(parts)-1]
	for _, part := range middle {
		cleaned := strings.ReplaceAll(strings.ReplaceAll(part, "-", " "), "_", " ")
		if result := r.matcher.Match(cleaned, categoryHint); result.DirPath != "" && result.Confidence >= 0.6 {
			return cleaned
		}
	}
	return middle[0]
}

// splitCamel restores spaces a compact filename dropped: before each
// upper-case rune following a lower-case one, and between letters and
// digits. "SpaFrancorchamps" becomes "Spa Francorchamps".
func splitCamel(name string) string {
	if strings.Contains(name, " ") {
		return name
	}
	var b strings.Builder
	b.Grow(len(name) + 4)
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]
			if (unicode.IsUpper(r) && unicode.IsLower(prev)) ||
				(unicode.IsDigit(r) && unicode.IsLetter(prev)) {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
