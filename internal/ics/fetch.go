package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "calwatch/internal/log"
)

const (
	DefaultFetchTimeout = 20 * time.Second
	// MaxFeedSize bounds a downloaded feed body.
	MaxFeedSize = 32 << 20
)

var (
	ErrEmptyURI     = errors.New("calendar uri is empty")
	ErrInvalidURI   = errors.New("calendar uri is invalid")
	ErrFeedTooLarge = errors.New("calendar feed too large")
)

// NormalizeURI validates a subscription URI and rewrites webcal:// to
// https://. Only http, https and webcal are accepted.
func NormalizeURI(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", ErrEmptyURI
	}
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "webcal://"):
		return "https://" + uri[len("webcal://"):], nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return uri, nil
	default:
		return "", ErrInvalidURI
	}
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds. When cacheDir is set it sends conditional
// requests (ETag / Last-Modified) and serves 304 responses from disk.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	maxBody  int64
}

// NewFetcher creates a Fetcher whose requests time out after timeout
// (DefaultFetchTimeout when zero). An empty cacheDir disables caching.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
		maxBody:  MaxFeedSize,
	}
}

// FetchCalendar downloads and parses one calendar. Any error means the whole
// calendar failed; malformed single entries are skipped by the parser.
func (f *Fetcher) FetchCalendar(ctx context.Context, name, uri string) ([]ParsedEvent, error) {
	body, err := f.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	return ParseICS(name, body)
}

// Fetch returns the raw ICS payload for uri.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if uri == "" {
		return nil, ErrEmptyURI
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(uri)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		meta, _ = loadCacheMeta(cachePath)
		cachedBody, _ = os.ReadFile(filepath.Join(cachePath, "body.ics"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "url", appLog.RedactURL(uri))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if err != nil {
			return nil, err
		}
		if int64(len(body)) > f.maxBody {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrFeedTooLarge, f.maxBody)
		}
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          uri,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				appLog.Error("ics cache save failed", err, "url", appLog.RedactURL(uri))
			}
		}
		appLog.Debug("ics fetch success", "url", appLog.RedactURL(uri), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "url", appLog.RedactURL(uri))
		return cachedBody, nil

	default:
		return nil, errors.New(resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
