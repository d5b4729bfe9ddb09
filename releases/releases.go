// Package releases looks up published ATC releases (AS3, DO, TS, CF, FAST)
// on a GitHub style release feed and caches the answers in a
// storage.Storage.
package releases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/f5-conx-go/storage"
)

// DefaultFeedURL is the public GitHub API.
const DefaultFeedURL = "https://api.github.com"

// Repos maps ATC service names to their F5Networks repositories.
var Repos = map[string]string{
	"as3":  "f5-appsvcs-extension",
	"do":   "f5-declarative-onboarding",
	"ts":   "f5-telemetry-streaming",
	"cf":   "f5-cloud-failover-extension",
	"fast": "f5-appsvcs-templates",
}

// ErrUnknownService is returned for a service missing from Repos.
var ErrUnknownService = errors.New("unknown ATC service")

// ErrNoReleases is returned when the feed lists nothing for a service.
var ErrNoReleases = errors.New("no releases published")

var jsonMediaType = contenttype.NewMediaType("application/json")

// Asset is a file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Release is one published version.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"published_at"`
	Prerelease  bool      `json:"prerelease"`
	Assets      []Asset   `json:"assets"`
}

// RPM returns the installable package attached to the release.
func (r Release) RPM() (Asset, bool) {
	for _, a := range r.Assets {
		if strings.HasSuffix(a.Name, ".noarch.rpm") {
			return a, true
		}
	}
	return Asset{}, false
}

// Config configures a Client.
type Config struct {
	// FeedURL defaults to DefaultFeedURL.
	FeedURL string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// Store caches feed answers. Required.
	Store storage.Storage
	// TTL is how long a cached answer is served. Default 24h.
	TTL    time.Duration
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.FeedURL == "" {
		c.FeedURL = DefaultFeedURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Client reads the release feed.
type Client struct {
	cfg Config
}

// New returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	cfg.applyDefaults()
	return &Client{cfg: cfg}, nil
}

// Releases returns the releases of service, newest first, from the cache
// when it is fresh.
func (c *Client) Releases(ctx context.Context, service string) ([]Release, error) {
	repo, ok := Repos[strings.ToLower(service)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	ns := storage.WithService(strings.ToLower(service))

	item, err := c.cfg.Store.Get(ctx, "releases", ns)
	if err != nil {
		c.cfg.Logger.WarnContext(ctx, "release cache read failed", slog.String("err", err.Error()))
	}
	if item != nil {
		var out []Release
		if err := json.Unmarshal(item.Data, &out); err == nil {
			c.cfg.Logger.DebugContext(ctx, "release cache hit", slog.String("service", service), slog.Duration("age", item.Age()))
			return out, nil
		}
	}

	out, raw, err := c.fetch(ctx, repo)
	if err != nil {
		return nil, err
	}
	if err := c.cfg.Store.Set(ctx, "releases", raw, ns, storage.WithTTL(c.cfg.TTL)); err != nil {
		c.cfg.Logger.WarnContext(ctx, "release cache write failed", slog.String("err", err.Error()))
	}
	return out, nil
}

// Latest returns the newest non-prerelease of service.
func (c *Client) Latest(ctx context.Context, service string) (Release, error) {
	rs, err := c.Releases(ctx, service)
	if err != nil {
		return Release{}, err
	}
	var best *Release
	for i := range rs {
		r := &rs[i]
		if r.Prerelease {
			continue
		}
		if best == nil || r.PublishedAt.After(best.PublishedAt) {
			best = r
		}
	}
	if best == nil {
		return Release{}, fmt.Errorf("%w for %s", ErrNoReleases, service)
	}
	return *best, nil
}

// Forget drops the cached answer for service.
func (c *Client) Forget(ctx context.Context, service string) error {
	return c.cfg.Store.Delete(ctx, storage.WithService(strings.ToLower(service)), storage.WithKey("releases"))
}

// DownloadAsset saves a into dir and returns the file path.
func (c *Client) DownloadAsset(ctx context.Context, a Asset, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BrowserDownloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", a.Name, resp.StatusCode)
	}

	path := filepath.Join(dir, filepath.Base(a.Name))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && a.Size > 0 && n != a.Size {
		err = fmt.Errorf("download %s: got %d bytes, want %d", a.Name, n, a.Size)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (c *Client) fetch(ctx context.Context, repo string) ([]Release, []byte, error) {
	url := strings.TrimSuffix(c.cfg.FeedURL, "/") + "/repos/F5Networks/" + repo + "/releases"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	c.cfg.Logger.DebugContext(ctx, "fetching releases", slog.String("url", url))
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	if mt := contenttype.NewMediaType(resp.Header.Get("Content-Type")); !mt.Matches(jsonMediaType) {
		return nil, nil, fmt.Errorf("fetch %s: unexpected content type %q", url, resp.Header.Get("Content-Type"))
	}

	var out []Release
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return out, raw, nil
}
