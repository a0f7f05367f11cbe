// Package fetch implements bounded HTTP resource fetching.
//
// Used by the email embedding stage to download externally referenced
// resources (images, stylesheets) with size caps and SSRF protection.
package fetch

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidemill/inboxd/safety"
)

// Resource is the outcome of a fetch.
type Resource struct {
	Body        []byte
	StatusCode  int
	ContentType string // from response header
	Hash        string // SHA-256 of body
}

// Config configures the fetcher.
type Config struct {
	Timeout  time.Duration // HTTP timeout. Default: 30s.
	MaxBytes int64         // Max response body size. Default: 15MB.
	// UserAgent sent with requests. Some mail providers refuse
	// non-browser agents, so the default mimics one.
	UserAgent string
	// URLValidator validates URLs before fetch (SSRF prevention).
	// Default: safety.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 15 * 1024 * 1024 // 15MB
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if c.URLValidator == nil {
		c.URLValidator = safety.ValidateURL
	}
}

// Fetcher performs bounded HTTP GET requests.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher with SSRF protection on redirects.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Get retrieves a URL. The body is capped at Config.MaxBytes; a response
// exceeding the cap is an error, not a truncation.
func (f *Fetcher) Get(ctx context.Context, url string) (*Resource, error) {
	// SSRF: validate URL before request.
	if err := f.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("URL blocked (SSRF): %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &Resource{StatusCode: resp.StatusCode}, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := safety.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	h := sha256.Sum256(body)
	return &Resource{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Hash:        fmt.Sprintf("%x", h),
	}, nil
}
