package gofast

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
	"strconv"
	"strings"
	"time"

	"setupsync/internal/logging"
	"setupsync/internal/provider"
	"setupsync/internal/services"
)

// DefaultEndpoint is the GoFast manual-install API.
const DefaultEndpoint = "https://go-fast.gg:5002/api/subscription/manualinstall"

// iracingPrefix marks iRacing setups in the catalog; GoFast serves other
// sims (AMS2, LMU, AC) through the same endpoint.
const iracingPrefix = "IR - "

// downloadNameRE parses "IR - V1 - <Car> - <Track>". Separator dashes
// require surrounding spaces so hyphens inside names ("MX-5",
// "Spa-Francorchamps") survive.
var downloadNameRE = regexp.MustCompile(`^IR\s+-\s+V\d+\s+-\s+(.+?)\s+-\s+(.+)$`)

// Provider downloads setups from GoFast. Authentication is a bearer
// token supplied verbatim in the Authorization header.
type Provider struct {
	token    string
	endpoint string
	client   *http.Client
	matcher  provider.TrackMatcher
	writer   *provider.Writer
	logger   *slog.Logger
}

// Options configures the GoFast provider.
type Options struct {
	Token    string
	Endpoint string
	Timeout  time.Duration
	Matcher  provider.TrackMatcher
	Writer   *provider.Writer
	Logger   *slog.Logger
}

// New creates a GoFast provider.
func New(opts Options) *Provider {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
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
		token:    opts.Token,
		endpoint: opts.Endpoint,
		client:   &http.Client{Timeout: opts.Timeout},
		matcher:  opts.Matcher,
		writer:   opts.Writer,
		logger:   logging.NewComponentLogger(opts.Logger, "gofast"),
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "gofast" }

// Close implements provider.Provider.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

type catalogRecord struct {
	ID           int64  `json:"id"`
	DownloadName string `json:"download_name"`
	DownloadURL  string `json:"download_url"`
	UpdatedDate  string `json:"updated_date"`
	Ver          string `json:"ver"`
	Cat          string `json:"cat"`
	Series       string `json:"series"`
}

type catalogResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		Records []catalogRecord `json:"records"`
	} `json:"data"`
}

// FetchItems lists the account's available iRacing setups. Entries for
// other sims are filtered out by download-name prefix.
func (p *Provider) FetchItems(ctx context.Context) ([]provider.Item, error) {
	body, err := p.get(ctx, p.endpoint, "fetch catalog")
	if err != nil {
		return nil, err
	}

	records, err := decodeCatalog(body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "gofast", "fetch catalog", "decode response", err)
	}

	items := make([]provider.Item, 0, len(records))
	skipped := 0
	for _, record := range records {
		if !strings.HasPrefix(record.DownloadName, iracingPrefix) {
			skipped++
			continue
		}
		car, track := parseDownloadName(record.DownloadName)
		items = append(items, provider.Item{
			ID:           strconv.FormatInt(record.ID, 10),
			Name:         record.DownloadName,
			Car:          car,
			Track:        track,
			CategoryHint: record.Cat,
			Series:       record.Series,
			Season:       strings.ReplaceAll(record.Ver, " ", ""),
			UpdateTime:   record.UpdatedDate,
			DownloadURL:  record.DownloadURL,
		})
	}

	if skipped > 0 {
		p.logger.Info("skipped setups for other sims", logging.Int("count", skipped))
	}
	p.logger.Info("fetched catalog", logging.Int("setups", len(items)))
	return items, nil
}

// Materialize downloads the item's ZIP and extracts its .sto files under
// targetDir. The car folder (first archive path segment) is preserved;
// nested season folders are flattened and files are renamed to the
// standard convention, placed under the matched track directory when the
// matcher resolves one.
func (p *Provider) Materialize(ctx context.Context, item provider.Item, targetDir string) (*provider.MaterializeResult, error) {
	content, err := p.get(ctx, item.DownloadURL, "download setup")
	if err != nil {
		return nil, err
	}

	trackSubdir := provider.TrackSubdir(p.matcher, item.Track, item.CategoryHint, p.logger)

	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "gofast", "extract", fmt.Sprintf("setup %s: invalid zip", item.ID), err)
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
		carFolder := segments[0]
		if carFolder == "" || len(segments) < 2 {
			p.logger.Warn("no car folder in archive path", logging.String("path", relativePath))
			continue
		}

		filename, renamed := provider.BuildFileName("GoFast", item.Series, item.Season, item.Track,
			provider.SetupTypeFrom(segments[len(segments)-1]))
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
			return nil, services.Wrap(services.ErrTransient, "gofast", "extract", relativePath, err)
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
		return nil, services.Wrap(services.ErrEmptyPayload, "gofast", "extract",
			fmt.Sprintf("no .sto files in zip for setup %s", item.ID), nil)
	}
	return result, nil
}

func (p *Provider) get(ctx context.Context, url, operation string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "gofast", operation, "build request", err)
	}
	req.Header.Set("Authorization", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "gofast", operation, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, services.Wrap(services.ErrAuthentication, "gofast", operation, "invalid or expired token", nil)
	case resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrAuthentication, "gofast", operation, "access forbidden", nil)
	case resp.StatusCode >= 400:
		return nil, services.Wrap(services.ErrTransient, "gofast", operation,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "gofast", operation, "read response", err)
	}
	return body, nil
}

// decodeCatalog accepts the wrapped {status, msg, data: {records}} shape
// and falls back to a bare record list.
func decodeCatalog(body []byte) ([]catalogRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped catalogResponse
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("unexpected response format: %w", err)
		}
		if !wrapped.Status {
			return nil, fmt.Errorf("api error: %s", wrapped.Msg)
		}
		return wrapped.Data.Records, nil
	}

	var records []catalogRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	return records, nil
}

// parseDownloadName splits "IR - V1 - <Car> - <Track>" into car and
// track, with progressively looser fallbacks for unversioned names.
func parseDownloadName(name string) (car, track string) {
	if m := downloadNameRE.FindStringSubmatch(strings.TrimSpace(name)); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}

	if parts := splitTrim(name, " - "); len(parts) >= 4 {
		return parts[2], strings.Join(parts[3:], " - ")
	}
	if parts := splitTrim(name, "-"); len(parts) >= 4 {
		return parts[2], strings.Join(parts[3:], "-")
	}
	return "", ""
}

func splitTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func readArchiveFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
