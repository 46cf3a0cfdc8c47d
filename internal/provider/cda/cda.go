package cda

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"setupsync/internal/logging"
	"setupsync/internal/provider"
	"setupsync/internal/services"
)

// Coach Dave Academy endpoints. The download URL is parameterized on the
// numeric series, bundle, and week identifiers from the catalog.
const (
	DefaultCatalogEndpoint  = "https://delta.coachdaveacademy.com/api/driving/iracing/catalog"
	defaultDownloadTemplate = "https://delta.coachdaveacademy.com/iracing/install/%d/%d/%d/setups/zip"
)

// seasonRE pulls "25S4" out of a series name like "25S4 IMSA Racing
// Series"; seriesTypeRE pulls the series kind that follows it.
var (
	seasonRE     = regexp.MustCompile(`^(\d+S\d+)`)
	seriesTypeRE = regexp.MustCompile(`\d+S\d+\s+(.+?)(?:\s+Racing\s+Series)?$`)
)

var titleCaser = cases.Title(language.English)

// Provider downloads setups from Coach Dave Academy. Authentication is a
// PHPSESSID session cookie plus an x-elle-csrf-token header.
type Provider struct {
	sessionID string
	csrfToken string
	catalog   string
	download  string
	client    *http.Client
	matcher   provider.TrackMatcher
	writer    *provider.Writer
	logger    *slog.Logger
}

// Options configures the CDA provider.
type Options struct {
	SessionID        string
	CSRFToken        string
	CatalogEndpoint  string
	DownloadTemplate string
	Timeout          time.Duration
	Matcher          provider.TrackMatcher
	Writer           *provider.Writer
	Logger           *slog.Logger
}

// New creates a CDA provider.
func New(opts Options) *Provider {
	if opts.CatalogEndpoint == "" {
		opts.CatalogEndpoint = DefaultCatalogEndpoint
	}
	if opts.DownloadTemplate == "" {
		opts.DownloadTemplate = defaultDownloadTemplate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Writer == nil {
		opts.Writer = provider.NewWriter(nil, opts.Logger)
	}
	return &Provider{
		sessionID: opts.SessionID,
		csrfToken: opts.CSRFToken,
		catalog:   opts.CatalogEndpoint,
		download:  opts.DownloadTemplate,
		client:    &http.Client{Timeout: opts.Timeout},
		matcher:   opts.Matcher,
		writer:    opts.Writer,
		logger:    logging.NewComponentLogger(opts.Logger, "cda"),
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "cda" }

// Close implements provider.Provider.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

type catalogEntry struct {
	Series     int64  `json:"series"`
	SeriesName string `json:"seriesName"`
	Bundle     int64  `json:"bundle"`
	Week       int64  `json:"week"`
	Laptime    string `json:"laptime"`
}

// catalogResponse mirrors the nested car > track > series > entries
// structure of the CDA catalog.
type catalogResponse struct {
	Code int64                                           `json:"code"`
	Data map[string]map[string]map[string][]catalogEntry `json:"data"`
}

// FetchItems flattens the CDA catalog into items. The item id is the
// compound (series, bundle, week) key; the update time derives from the
// season and week so a bundle only re-downloads when it moves to a new
// race week.
func (p *Provider) FetchItems(ctx context.Context) ([]provider.Item, error) {
	body, err := p.get(ctx, p.catalog, "fetch catalog")
	if err != nil {
		return nil, err
	}

	var response catalogResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, services.Wrap(services.ErrTransient, "cda", "fetch catalog", "decode response", err)
	}
	if response.Code != http.StatusOK {
		return nil, services.Wrap(services.ErrTransient, "cda", "fetch catalog",
			fmt.Sprintf("api returned code %d", response.Code), nil)
	}

	var items []provider.Item
	for carSlug, tracksBySlug := range response.Data {
		for trackSlug, seriesByName := range tracksBySlug {
			for seriesName, entries := range seriesByName {
				for _, entry := range entries {
					if entry.Series == 0 || entry.Bundle == 0 || entry.Week == 0 {
						p.logger.Warn("skipping catalog entry with missing identifiers",
							logging.String("car", carSlug),
							logging.String("track", trackSlug))
						continue
					}
					items = append(items, p.buildItem(carSlug, trackSlug, seriesName, entry))
				}
			}
		}
	}

	p.logger.Info("fetched catalog", logging.Int("setups", len(items)))
	return items, nil
}

func (p *Provider) buildItem(carSlug, trackSlug, fallbackSeriesName string, entry catalogEntry) provider.Item {
	seriesName := entry.SeriesName
	if seriesName == "" {
		seriesName = fallbackSeriesName
	}

	season := ""
	if m := seasonRE.FindStringSubmatch(seriesName); m != nil {
		season = m[1]
	}
	seriesType := seriesName
	if m := seriesTypeRE.FindStringSubmatch(seriesName); m != nil {
		seriesType = strings.TrimSpace(m[1])
	}

	carName := slugToName(carSlug)
	trackName := slugToName(trackSlug)

	return provider.Item{
		ID:           fmt.Sprintf("%d_%d_%d", entry.Series, entry.Bundle, entry.Week),
		Name:         fmt.Sprintf("CDA - %s - %s", carName, trackName),
		Car:          carName,
		Track:        trackName,
		CategoryHint: seriesType,
		Series:       seriesType,
		Season:       season,
		UpdateTime:   fmt.Sprintf("%s-W%d", season, entry.Week),
		DownloadURL:  fmt.Sprintf(p.download, entry.Series, entry.Bundle, entry.Week),
	}
}

// Materialize downloads the bundle ZIP and extracts its .sto files. CDA
// archives are flat, with filenames like
// "porsche911gt3r992 @ watkins glen international full race.sto"; the
// car folder comes from the part before the separator.
func (p *Provider) Materialize(ctx context.Context, item provider.Item, targetDir string) (*provider.MaterializeResult, error) {
	content, err := p.get(ctx, item.DownloadURL, "download setup")
	if err != nil {
		return nil, err
	}

	trackSubdir := provider.TrackSubdir(p.matcher, item.Track, item.CategoryHint, p.logger)

	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "cda", "extract", fmt.Sprintf("setup %s: invalid zip", item.ID), err)
	}

	result := &provider.MaterializeResult{}
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		relativePath, ok := provider.SanitizeArchivePath(file.Name)
		if !ok {
			p.logger.Warn("skipping unsafe archive path", logging.String("path", file.Name))
			continue
		}
		if !strings.EqualFold(filepath.Ext(relativePath), ".sto") {
			continue
		}

		originalName := filepath.Base(relativePath)
		carFolder := extractCarFolder(originalName)
		if carFolder == "" {
			p.logger.Warn("cannot derive car folder", logging.String("file", originalName))
			continue
		}

		filename, renamed := provider.BuildFileName("CDA", item.Series, item.Season, item.Track,
			provider.SetupTypeFrom(originalName))
		if renamed {
			result.Renamed++
		}

		outputDir := filepath.Join(targetDir, carFolder)
		if trackSubdir != "" {
			outputDir = filepath.Join(outputDir, trackSubdir)
		}
		destPath := filepath.Join(outputDir, filename)

		data, err := readArchiveFile(file)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "cda", "extract", relativePath, err)
		}

		written, dup, err := p.writer.Write(destPath, data)
		if err != nil {
			return nil, err
		}
		if written {
			result.FilePaths = append(result.FilePaths, destPath)
		} else if dup != nil {
			result.Duplicates = append(result.Duplicates, *dup)
		}
	}

	if result.Empty() {
		return nil, services.Wrap(services.ErrEmptyPayload, "cda", "extract",
			fmt.Sprintf("no .sto files in zip for setup %s", item.ID), nil)
	}
	return result, nil
}

func (p *Provider) get(ctx context.Context, url, operation string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "cda", operation, "build request", err)
	}
	req.Header.Set("x-elle-csrf-token", p.csrfToken)
	req.AddCookie(&http.Cookie{Name: "PHPSESSID", Value: p.sessionID})

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "cda", operation, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, services.Wrap(services.ErrAuthentication, "cda", operation, "invalid or expired session", nil)
	case resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrAuthentication, "cda", operation, "access forbidden", nil)
	case resp.StatusCode >= 400:
		return nil, services.Wrap(services.ErrTransient, "cda", operation,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "cda", operation, "read response", err)
	}
	return body, nil
}

// slugToName turns "watkins-glen-international" into "Watkins Glen
// International".
func slugToName(slug string) string {
	return titleCaser.String(strings.ReplaceAll(slug, "-", " "))
}

// extractCarFolder derives the iRacing car folder from a CDA filename of
// the form "carname @ trackname setuptype.sto".
func extractCarFolder(filename string) string {
	stem := strings.ToLower(strings.TrimSuffix(filename, filepath.Ext(filename)))
	carPart, _, found := strings.Cut(stem, " @ ")
	if !found {
		return ""
	}
	carPart = strings.TrimSpace(carPart)
	carPart = strings.ReplaceAll(carPart, " ", "")
	return strings.ReplaceAll(carPart, "-", "")
}

func readArchiveFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
