package cda

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"setupsync/internal/provider"
	"setupsync/internal/services"
)

const catalogJSON = `{
  "code": 200,
  "data": {
    "porsche-911-gt3-r-992": {
      "watkins-glen-international": {
        "IMSA": [
          {"series": 160, "seriesName": "25S4 IMSA Racing Series", "bundle": 630, "week": 1, "laptime": "Dry: 1:49.884"},
          {"series": 160, "seriesName": "25S4 IMSA Racing Series", "bundle": 630, "week": 2}
        ]
      }
    },
    "broken-car": {
      "some-track": {
        "Series": [
          {"seriesName": "no identifiers"}
        ]
      }
    }
  }
}`

func testProvider(t *testing.T, handler http.Handler) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p := New(Options{
		SessionID:        "session-abc",
		CSRFToken:        "csrf-xyz",
		CatalogEndpoint:  server.URL + "/api/driving/iracing/catalog",
		DownloadTemplate: server.URL + "/iracing/install/%d/%d/%d/setups/zip",
	})
	return p, server
}

func TestFetchItemsParsesNestedCatalog(t *testing.T) {
	var gotCSRF, gotCookie string
	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCSRF = r.Header.Get("x-elle-csrf-token")
		if c, err := r.Cookie("PHPSESSID"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte(catalogJSON))
	}))

	items, err := p.FetchItems(context.Background())
	if err != nil {
		t.Fatalf("FetchItems: %v", err)
	}
	if gotCSRF != "csrf-xyz" || gotCookie != "session-abc" {
		t.Fatalf("auth = csrf %q cookie %q", gotCSRF, gotCookie)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want entries without identifiers dropped", len(items))
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	item := items[0]
	if item.ID != "160_630_1" {
		t.Fatalf("id = %q", item.ID)
	}
	if item.Car != "Porsche 911 Gt3 R 992" || item.Track != "Watkins Glen International" {
		t.Fatalf("car/track = %q / %q", item.Car, item.Track)
	}
	if item.Season != "25S4" || item.Series != "IMSA" {
		t.Fatalf("season/series = %q / %q", item.Season, item.Series)
	}
	if item.UpdateTime != "25S4-W1" {
		t.Fatalf("update time = %q", item.UpdateTime)
	}
	if items[1].UpdateTime != "25S4-W2" {
		t.Fatalf("week 2 update time = %q", items[1].UpdateTime)
	}
}

func TestFetchItemsErrorCode(t *testing.T) {
	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 500, "data": {}}`))
	}))

	_, err := p.FetchItems(context.Background())
	if err == nil || !services.Retriable(err) {
		t.Fatalf("non-200 catalog code should be transient, got %v", err)
	}
}

func TestFetchItemsAuthError(t *testing.T) {
	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := p.FetchItems(context.Background())
	if !errors.Is(err, services.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestMaterializeFlatArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"porsche911gt3r992 @ watkins glen international full race.sto": "race",
		"porsche911gt3r992 @ watkins glen international quali.sto":     "quali",
		"README.txt":    "skip",
		"no-at-sign.sto": "skip too",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(content))
	}
	zw.Close()

	p, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))

	dir := t.TempDir()
	item := provider.Item{
		ID: "160_630_1", Track: "Watkins Glen International", CategoryHint: "IMSA",
		Series: "IMSA", Season: "25S4",
		DownloadURL: p.catalog, // any URL on the test server serves the zip
	}
	result, err := p.Materialize(context.Background(), item, dir)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(result.FilePaths) != 2 {
		t.Fatalf("paths = %v", result.FilePaths)
	}

	for _, path := range result.FilePaths {
		if filepath.Base(filepath.Dir(path)) != "porsche911gt3r992" {
			t.Fatalf("car folder missing in %q", path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing extracted file: %v", err)
		}
	}
}

func TestMaterializeEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("nothing.txt")
	w.Write([]byte("x"))
	zw.Close()

	p, _ := testProvider(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write(buf.Bytes())
	}))

	_, err := p.Materialize(context.Background(), provider.Item{ID: "1", DownloadURL: p.catalog}, t.TempDir())
	if !errors.Is(err, services.ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestSlugToName(t *testing.T) {
	if got := slugToName("watkins-glen-international"); got != "Watkins Glen International" {
		t.Fatalf("slugToName = %q", got)
	}
}

func TestExtractCarFolder(t *testing.T) {
	cases := []struct{ in, want string }{
		{"porsche911gt3r992 @ watkins glen international full race.sto", "porsche911gt3r992"},
		{"mercedes amg gt3 @ spa quali.sto", "mercedesamggt3"},
		{"no-separator.sto", ""},
	}
	for _, tc := range cases {
		if got := extractCarFolder(tc.in); got != tc.want {
			t.Errorf("extractCarFolder(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
