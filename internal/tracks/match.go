package tracks

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"setupsync/internal/logging"
)

// Confidence assigned per matching tier. Tier 1 is an exact normalized
// hit, tier 2 a substring hit; tier 3 carries the fuzzy ratio itself.
const (
	exactConfidence     = 1.0
	substringConfidence = 0.8
	fuzzyThreshold      = 0.5
	// Candidates scoring within this band of the leader make a result
	// ambiguous; ambiguity soft-penalizes confidence instead of failing.
	ambiguityBand      = 0.1
	ambiguityPenalty   = 0.9
	configHintScore    = 5.0
	trackTypeScore     = 2.0
	defaultConfigScore = 1.0
	nonDirtScore       = 0.5
)

// Provider category keywords that imply road or oval racing. Unknown
// categories default to road, the larger side of the service.
var (
	roadCategories = []string{"gt3", "gt4", "gte", "lmp2", "lmp3", "gtp", "imsa", "wec"}
	ovalCategories = []string{"nascar", "arca", "indycar oval", "cup", "xfinity", "truck"}

	defaultRoadConfigs = []string{"full", "gp", "grand prix"}
	defaultOvalConfigs = []string{"oval", "superspeedway"}
)

// Match resolves a provider track label to an iRacing directory path.
// categoryHint, when non-empty, is the series category (e.g. "GT3",
// "NASCAR Cup") and steers road/oval disambiguation. Matching before
// Load returns an empty result rather than an error; placement is
// advisory and callers fall back to a flat layout.
func (m *Matcher) Match(trackName, categoryHint string) MatchResult {
	m.mu.Lock()
	loaded := m.loaded
	m.mu.Unlock()

	if !loaded {
		m.logger.Warn("track matcher queried before load")
		return MatchResult{}
	}
	if strings.TrimSpace(trackName) == "" {
		return MatchResult{}
	}

	baseName, configHint := parseCompoundName(trackName)

	if result := m.matchName(trackName, categoryHint, configHint); result.DirPath != "" {
		return result
	}

	// The compound split may expose the real base name ("DaytonaRoad"
	// failed, "Daytona" will not).
	if !strings.EqualFold(baseName, trackName) {
		if result := m.matchName(baseName, categoryHint, configHint); result.DirPath != "" {
			return result
		}
	}

	m.logger.Debug("no track match", logging.String("track", trackName))
	return MatchResult{}
}

func (m *Matcher) matchName(trackName, categoryHint, configHint string) MatchResult {
	normalizedQuery := normalizeName(trackName)
	compactQuery := compactName(trackName)

	// Tier 1: exact normalized match, spaced then compacted.
	if candidates, ok := m.nameIndex[normalizedQuery]; ok {
		return m.selectBestConfig(candidates, categoryHint, configHint, exactConfidence)
	}
	if compactQuery != normalizedQuery {
		if candidates, ok := m.nameIndex[compactQuery]; ok {
			return m.selectBestConfig(candidates, categoryHint, configHint, exactConfidence)
		}
	}

	// Tier 2: substring containment in either direction, either form.
	var substringMatches []*Track
	seen := make(map[int64]bool)
	for _, key := range m.indexKeys {
		if strings.Contains(key, normalizedQuery) || strings.Contains(normalizedQuery, key) ||
			strings.Contains(key, compactQuery) || strings.Contains(compactQuery, key) {
			for _, track := range m.nameIndex[key] {
				if !seen[track.ID] {
					seen[track.ID] = true
					substringMatches = append(substringMatches, track)
				}
			}
		}
	}
	if len(substringMatches) > 0 {
		return m.selectBestConfig(substringMatches, categoryHint, configHint, substringConfidence)
	}

	// Tier 3: fuzzy ratio against every base name, best of spaced and
	// compacted forms.
	type scoredTrack struct {
		ratio float64
		track *Track
	}
	var best []scoredTrack
	for _, track := range m.tracks {
		normalizedTrack := normalizeName(extractBaseName(track.Name))
		compactTrack := strings.ReplaceAll(normalizedTrack, " ", "")

		ratio := sequenceRatio(normalizedQuery, normalizedTrack)
		if compactRatio := sequenceRatio(compactQuery, compactTrack); compactRatio > ratio {
			ratio = compactRatio
		}
		if ratio >= fuzzyThreshold {
			best = append(best, scoredTrack{ratio: ratio, track: track})
		}
	}
	if len(best) == 0 {
		return MatchResult{}
	}

	sort.SliceStable(best, func(i, j int) bool { return best[i].ratio > best[j].ratio })
	topScore := best[0].ratio
	var similar []*Track
	for _, candidate := range best {
		if candidate.ratio >= topScore-ambiguityBand {
			similar = append(similar, candidate.track)
		}
	}
	return m.selectBestConfig(similar, categoryHint, configHint, topScore)
}

// selectBestConfig picks one configuration out of the candidates a tier
// produced. Retired configurations are dropped when anything current
// remains; the rest are scored by how well they agree with the hints.
func (m *Matcher) selectBestConfig(candidates []*Track, categoryHint, configHint string, confidence float64) MatchResult {
	if len(candidates) == 0 {
		return MatchResult{}
	}

	var nonRetired []*Track
	for _, track := range candidates {
		if !track.Retired {
			nonRetired = append(nonRetired, track)
		}
	}
	if len(nonRetired) > 0 {
		candidates = nonRetired
	}

	if len(candidates) == 1 {
		track := candidates[0]
		return MatchResult{
			DirPath:       track.DirPath,
			Confidence:    confidence,
			MatchedName:   track.Name,
			MatchedConfig: track.Config,
		}
	}

	preferOval := shouldPreferOval(categoryHint)
	configKeywords := configSuffixes[configHint]
	defaultConfigs := defaultRoadConfigs
	if preferOval {
		defaultConfigs = defaultOvalConfigs
	}

	type scoredTrack struct {
		score float64
		track *Track
	}
	scored := make([]scoredTrack, 0, len(candidates))
	for _, track := range candidates {
		score := 0.0
		configLower := strings.ToLower(track.Config)
		dirpathLower := strings.ToLower(track.DirPath)

		for _, keyword := range configKeywords {
			if strings.Contains(configLower, keyword) || strings.Contains(dirpathLower, keyword) {
				score += configHintScore
				break
			}
		}
		if track.IsOval == preferOval {
			score += trackTypeScore
		}
		for _, def := range defaultConfigs {
			if strings.Contains(configLower, def) || strings.Contains(dirpathLower, def) {
				score += defaultConfigScore
				break
			}
		}
		if !track.IsDirt {
			score += nonDirtScore
		}

		scored = append(scored, scoredTrack{score: score, track: track})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	topScore := scored[0].score
	similarCount := 0
	for _, candidate := range scored {
		if candidate.score >= topScore-ambiguityBand {
			similarCount++
		}
	}
	ambiguous := similarCount > 1

	result := MatchResult{
		DirPath:       scored[0].track.DirPath,
		Confidence:    confidence,
		Ambiguous:     ambiguous,
		MatchedName:   scored[0].track.Name,
		MatchedConfig: scored[0].track.Config,
	}
	if ambiguous {
		result.Confidence *= ambiguityPenalty
	}
	return result
}

func shouldPreferOval(categoryHint string) bool {
	if categoryHint == "" {
		return false
	}
	categoryLower := strings.ToLower(categoryHint)
	for _, oval := range ovalCategories {
		if strings.Contains(categoryLower, oval) {
			return true
		}
	}
	for _, road := range roadCategories {
		if strings.Contains(categoryLower, road) {
			return false
		}
	}
	return false
}

// sequenceRatio is the Ratcliff/Obershelp similarity of two strings,
// compared character by character.
func sequenceRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	matcher := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return matcher.Ratio()
}
