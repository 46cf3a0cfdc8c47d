package gofast

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"setupsync/internal/dedup"
	"setupsync/internal/hashcache"
	"setupsync/internal/provider"
	"setupsync/internal/services"
	"setupsync/internal/tracks"
)

const catalogJSON = `{
  "status": true,
  "msg": "",
  "data": {
    "records": [
      {
        "id": 9001,
        "download_name": "IR - V1 - Porsche 911 GT3 R - Watkins Glen",
        "download_url": "URL_PLACEHOLDER",
        "updated_date": "2026-08-10T12:00:00Z",
        "ver": "26 S3 W8",
        "cat": "GT3",
        "series": "IMSA"
      },
      {
        "id": 9002,
        "download_name": "AMS2 - V1 - Some Car - Some Track",
        "download_url": "ignored",
        "updated_date": "2026-08-10T12:00:00Z",
        "ver": "26 S3 W8",
        "cat": "GT3",
        "series": "AMS2"
      }
    ]
  }
}`

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testProvider(t *testing.T, handler http.Handler, matcher provider.TrackMatcher, writer *provider.Writer) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p := New(Options{
		Token:    "Bearer test-token",
		Endpoint: server.URL + "/api/subscription/manualinstall",
		Matcher:  matcher,
		Writer:   writer,
	})
	return p, server
}

func TestFetchItemsFiltersAndParses(t *testing.T) {
	var gotAuth string
	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(catalogJSON))
	}), nil, nil)

	items, err := p.FetchItems(context.Background())
	if err != nil {
		t.Fatalf("FetchItems: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want non-iRacing entries filtered", len(items))
	}

	item := items[0]
	if item.ID != "9001" || item.Car != "Porsche 911 GT3 R" || item.Track != "Watkins Glen" {
		t.Fatalf("parsed item = %+v", item)
	}
	if item.Season != "26S3W8" || item.CategoryHint != "GT3" {
		t.Fatalf("season/category = %q / %q", item.Season, item.CategoryHint)
	}
}

func TestFetchItemsAuthError(t *testing.T) {
	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), nil, nil)

	_, err := p.FetchItems(context.Background())
	if !errors.Is(err, services.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if services.Retriable(err) {
		t.Fatal("authentication failures must not be retried")
	}
}

func TestFetchItemsAPIErrorStatus(t *testing.T) {
	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": false, "msg": "maintenance"}`))
	}), nil, nil)

	_, err := p.FetchItems(context.Background())
	if err == nil || !services.Retriable(err) {
		t.Fatalf("api error should be transient, got %v", err)
	}
}

func TestMaterializeExtractsAndRenames(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"porsche992rgt3/26S3/GO 26S3 IMSA WatkinsGlen Race.sto": "race setup",
		"porsche992rgt3/readme.txt":                             "not a setup",
		"../escape.sto":                                         "evil",
	})

	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}), stubMatcher{dirpath: "watkinsglen/boot"}, nil)

	dir := t.TempDir()
	item := provider.Item{
		ID: "9001", Track: "Watkins Glen", CategoryHint: "GT3",
		Series: "IMSA", Season: "26S3W8",
		DownloadURL: p.endpoint,
	}
	result, err := p.Materialize(context.Background(), item, dir)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	want := filepath.Join(dir, "porsche992rgt3", "watkinsglen", "boot",
		"GoFast_IMSA_26S3W8_WatkinsGlen_Race.sto")
	if len(result.FilePaths) != 1 || result.FilePaths[0] != want {
		t.Fatalf("paths = %v, want %q", result.FilePaths, want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "race setup" {
		t.Fatalf("extracted content = %q, %v", data, err)
	}
}

func TestMaterializeDeduplicates(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"car/setupA.sto": "identical content",
	})
	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}), nil, nil)

	dir := t.TempDir()
	cache, err := hashcache.New("", nil)
	if err != nil {
		t.Fatal(err)
	}
	p.writer = provider.NewWriter(dedup.NewIndex(cache, nil), nil)

	first, err := p.Materialize(context.Background(), provider.Item{ID: "1", Season: "26S1", DownloadURL: p.endpoint}, dir)
	if err != nil || len(first.FilePaths) != 1 {
		t.Fatalf("first materialize = %+v, %v", first, err)
	}

	// Same content under a different season name dedupes entirely; the
	// ledger still gets the canonical paths.
	second, err := p.Materialize(context.Background(), provider.Item{ID: "2", Season: "26S2", DownloadURL: p.endpoint}, dir)
	if err != nil {
		t.Fatalf("second materialize: %v", err)
	}
	if len(second.FilePaths) != 0 || len(second.Duplicates) != 1 {
		t.Fatalf("second = %+v", second)
	}
	if paths := second.LedgerPaths(); len(paths) != 1 || paths[0] != first.FilePaths[0] {
		t.Fatalf("ledger paths = %v", paths)
	}
}

func TestMaterializeEmptyPayload(t *testing.T) {
	payload := buildZip(t, map[string]string{"car/notes.txt": "nothing here"})
	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}), nil, nil)

	_, err := p.Materialize(context.Background(), provider.Item{ID: "1", DownloadURL: p.endpoint}, t.TempDir())
	if !errors.Is(err, services.ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if !services.Retriable(err) {
		t.Fatal("empty payloads stay retriable")
	}
}

func TestParseDownloadName(t *testing.T) {
	cases := []struct{ in, car, track string }{
		{"IR - V1 - Porsche 911 GT3 R - Spa-Francorchamps", "Porsche 911 GT3 R", "Spa-Francorchamps"},
		{"IR - V2 - Mazda MX-5 - Okayama", "Mazda MX-5", "Okayama"},
		{"IR - V1 - Car - Track - Extra", "Car", "Track - Extra"},
		{"garbage", "", ""},
	}
	for _, tc := range cases {
		car, track := parseDownloadName(tc.in)
		if car != tc.car || track != tc.track {
			t.Errorf("parseDownloadName(%q) = (%q, %q), want (%q, %q)", tc.in, car, track, tc.car, tc.track)
		}
	}
}

type stubMatcher struct {
	dirpath string
}

func (s stubMatcher) Match(trackName, categoryHint string) tracks.MatchResult {
	return tracks.MatchResult{DirPath: s.dirpath, Confidence: 1.0}
}
