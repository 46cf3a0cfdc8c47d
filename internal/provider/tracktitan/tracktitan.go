package tracktitan

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
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

// DefaultEndpoint lists iRacing setups. Appending "/<id>/download" to it
// yields an item's bundle URL.
const DefaultEndpoint = "https://services.tracktitan.io/api/v2/games/iRacing/setups"

const (
	consumerID = "trackTitan"
	pageLimit  = 12
)

// Page fetches are spaced out with a human-like pause.
const (
	defaultPageDelayMin = time.Second
	defaultPageDelayMax = 3 * time.Second
)

// carFolderRE validates folder names derived from flat archive entries.
var carFolderRE = regexp.MustCompile(`^[a-z0-9]+$`)

// seriesAbbreviations maps series names to the short category tokens
// used in filenames. Longer names come first so "Super Formula Lights"
// is not swallowed by "Super Formula".
var seriesAbbreviations = []struct{ name, abbrev string }{
	{"Production Car Challenge", "PCC"},
	{"Falken Tyre Sports Car Challenge", "FTSC"},
	{"Super Formula Lights", "SFL"},
	{"GT Sprint Series", "GTS"},
	{"INDYCAR Series", "INDYCAR"},
	{"Super Formula", "SF"},
	{"Formula C", "FC"},
	{"Formula B", "FB"},
	{"IMSA", "IMSA"},
}

var titleCaser = cases.Title(language.English)

// Provider downloads setups from Track Titan. Authentication is an AWS
// Cognito access token plus the account's user id, both sent on every
// request.
type Provider struct {
	accessToken string
	userID      string
	endpoint    string
	delayMin    time.Duration
	delayMax    time.Duration
	client      *http.Client
	matcher     provider.TrackMatcher
	writer      *provider.Writer
	logger      *slog.Logger
}

// Options configures the Track Titan provider.
type Options struct {
	AccessToken string
	UserID      string
	Endpoint    string
	Timeout     time.Duration
	// PageDelayMin and PageDelayMax bound the pause between catalog
	// page fetches. Both zero selects the defaults.
	PageDelayMin time.Duration
	PageDelayMax time.Duration
	Matcher      provider.TrackMatcher
	Writer       *provider.Writer
	Logger       *slog.Logger
}

// New creates a Track Titan provider.
func New(opts Options) *Provider {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PageDelayMin <= 0 && opts.PageDelayMax <= 0 {
		opts.PageDelayMin = defaultPageDelayMin
		opts.PageDelayMax = defaultPageDelayMax
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Writer == nil {
		opts.Writer = provider.NewWriter(nil, opts.Logger)
	}
	return &Provider{
		accessToken: opts.AccessToken,
		userID:      opts.UserID,
		endpoint:    opts.Endpoint,
		delayMin:    opts.PageDelayMin,
		delayMax:    opts.PageDelayMax,
		client:      &http.Client{Timeout: opts.Timeout},
		matcher:     opts.Matcher,
		writer:      opts.Writer,
		logger:      logging.NewComponentLogger(opts.Logger, "tracktitan"),
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "tracktitan" }

// Close implements provider.Provider.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

type setupEntry struct {
	ID     string `json:"id"`
	Config []struct {
		CarID        string `json:"carId"`
		TrackID      string `json:"trackId"`
		CarShorthand string `json:"carShorthand"`
	} `json:"config"`
	SetupCombos []struct {
		Car struct {
			Name string `json:"name"`
		} `json:"car"`
		Track struct {
			Name string `json:"name"`
		} `json:"track"`
	} `json:"setupCombos"`
	Period struct {
		Season string `json:"season"`
		Week   string `json:"week"`
		Year   int    `json:"year"`
	} `json:"period"`
	HymoSeries struct {
		SeriesName string `json:"seriesName"`
	} `json:"hymoSeries"`
	LastUpdatedAt int64 `json:"lastUpdatedAt"`
}

type setupsResponse struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Data    struct {
		Setups []json.RawMessage `json:"setups"`
	} `json:"data"`
}

// FetchItems walks the paginated setups listing until a short page marks
// the end, pausing between pages.
func (p *Provider) FetchItems(ctx context.Context) ([]provider.Item, error) {
	var items []provider.Item
	for page := 1; ; page++ {
		pageItems, hasMore, err := p.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		items = append(items, pageItems...)
		if !hasMore {
			break
		}
		if err := p.pageDelay(ctx); err != nil {
			return nil, err
		}
	}

	p.logger.Info("fetched catalog", logging.Int("setups", len(items)))
	return items, nil
}

func (p *Provider) fetchPage(ctx context.Context, page int) ([]provider.Item, bool, error) {
	url := fmt.Sprintf("%s?page=%d&limit=%d", p.endpoint, page, pageLimit)
	body, err := p.get(ctx, url, "fetch catalog")
	if err != nil {
		return nil, false, err
	}

	var response setupsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "tracktitan", "fetch catalog", "decode response", err)
	}
	if !response.Success {
		return nil, false, services.Wrap(services.ErrTransient, "tracktitan", "fetch catalog",
			fmt.Sprintf("api returned status %d", response.Status), nil)
	}

	items := make([]provider.Item, 0, len(response.Data.Setups))
	for _, raw := range response.Data.Setups {
		var entry setupEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			p.logger.Warn("skipping unparseable setup entry", logging.Error(err))
			continue
		}
		if item, ok := p.buildItem(entry); ok {
			items = append(items, item)
		}
	}

	// A short page means the listing is exhausted.
	return items, len(response.Data.Setups) >= pageLimit, nil
}

// pageDelay sleeps a uniformly random duration within the configured
// bounds, honoring cancellation.
func (p *Provider) pageDelay(ctx context.Context) error {
	delay := p.delayMin
	if span := p.delayMax - p.delayMin; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	if delay <= 0 {
		return ctx.Err()
	}
	p.logger.Debug("pausing before next page", logging.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) buildItem(entry setupEntry) (provider.Item, bool) {
	if entry.ID == "" {
		p.logger.Warn("skipping setup without an id")
		return provider.Item{}, false
	}
	if len(entry.Config) == 0 {
		p.logger.Warn("skipping setup without car/track config", logging.String("setup", entry.ID))
		return provider.Item{}, false
	}

	carName, trackName := "", ""
	if len(entry.SetupCombos) > 0 {
		carName = entry.SetupCombos[0].Car.Name
		trackName = entry.SetupCombos[0].Track.Name
	}
	if carName == "" {
		carName = slugToName(entry.Config[0].CarID)
	}
	if trackName == "" {
		trackName = slugToName(entry.Config[0].TrackID)
	}

	seriesCat := abbreviateSeries(entry.HymoSeries.SeriesName)

	return provider.Item{
		ID:           entry.ID,
		Name:         fmt.Sprintf("TT - %s - %s", carName, trackName),
		Car:          carName,
		Track:        trackName,
		CategoryHint: seriesCat,
		Series:       seriesCat,
		Season:       seasonString(entry.Period.Year, entry.Period.Season, entry.Period.Week),
		UpdateTime:   updateTime(entry.LastUpdatedAt),
		DownloadURL:  fmt.Sprintf("%s/%s/download", p.endpoint, entry.ID),
	}, true
}

// Materialize downloads the setup ZIP and extracts its .sto files under
// targetDir. Track Titan archives usually nest files under a car folder;
// flat archives fall back to deriving the folder from the
// "<car shorthand> @ <track> <type>.sto" filename convention.
func (p *Provider) Materialize(ctx context.Context, item provider.Item, targetDir string) (*provider.MaterializeResult, error) {
	content, err := p.get(ctx, item.DownloadURL, "download setup")
	if err != nil {
		return nil, err
	}

	trackSubdir := provider.TrackSubdir(p.matcher, item.Track, item.CategoryHint, p.logger)

	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "tracktitan", "extract", fmt.Sprintf("setup %s: invalid zip", item.ID), err)
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

		segments := strings.Split(relativePath, "/")
		originalName := segments[len(segments)-1]

		carFolder := ""
		if len(segments) > 1 {
			carFolder = segments[0]
		}
		if carFolder == "" {
			carFolder = carFolderFromName(originalName)
		}
		if carFolder == "" {
			p.logger.Warn("cannot determine car folder", logging.String("file", originalName))
			continue
		}

		filename, renamed := provider.BuildFileName("TT", item.Series, item.Season, item.Track,
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
			return nil, services.Wrap(services.ErrTransient, "tracktitan", "extract", relativePath, err)
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
		return nil, services.Wrap(services.ErrEmptyPayload, "tracktitan", "extract",
			fmt.Sprintf("no .sto files in zip for setup %s", item.ID), nil)
	}
	return result, nil
}

func (p *Provider) get(ctx context.Context, url, operation string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "tracktitan", operation, "build request", err)
	}
	req.Header.Set("Authorization", p.accessToken)
	req.Header.Set("x-consumer-id", consumerID)
	req.Header.Set("x-user-device", "desktop")
	req.Header.Set("x-user-id", p.userID)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "tracktitan", operation, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, services.Wrap(services.ErrAuthentication, "tracktitan", operation, "invalid or expired access token", nil)
	case resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrAuthentication, "tracktitan", operation, "access forbidden", nil)
	case resp.StatusCode >= 400:
		return nil, services.Wrap(services.ErrTransient, "tracktitan", operation,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "tracktitan", operation, "read response", err)
	}
	return body, nil
}

// seasonString builds "26S1W8" from the racing period; any missing part
// leaves the season empty.
func seasonString(year int, season, week string) string {
	if year == 0 || season == "" || week == "" {
		return ""
	}
	return fmt.Sprintf("%02dS%sW%s", year%100, season, week)
}

// updateTime formats the catalog's millisecond timestamp. Entries
// without one get a fixed early date so they download once and settle.
func updateTime(ms int64) string {
	if ms <= 0 {
		return "2024-01-01T00:00:00Z"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// abbreviateSeries shortens a series name to its category token; unknown
// series pass through unchanged.
func abbreviateSeries(name string) string {
	if name == "" {
		return ""
	}
	lower := strings.ToLower(name)
	for _, entry := range seriesAbbreviations {
		if strings.Contains(lower, strings.ToLower(entry.name)) {
			return entry.abbrev
		}
	}
	return name
}

// slugToName turns "mx-5_cup" into "Mx 5 Cup".
func slugToName(slug string) string {
	spaced := strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	return titleCaser.String(spaced)
}

// carFolderFromName derives the iRacing car folder from a flat archive
// entry like "mx5 mx52016 @ bathurst CR.sto". The shorthand before the
// separator may list several folder aliases; the first one wins.
func carFolderFromName(filename string) string {
	stem := strings.ToLower(strings.TrimSuffix(filename, filepath.Ext(filename)))
	carPart, _, found := strings.Cut(stem, " @ ")
	if !found {
		return ""
	}
	tokens := strings.Fields(carPart)
	if len(tokens) == 0 {
		return ""
	}
	folder := strings.ReplaceAll(tokens[0], "-", "")
	if !carFolderRE.MatchString(folder) {
		return ""
	}
	return folder
}

func readArchiveFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
