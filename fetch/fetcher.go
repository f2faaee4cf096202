// Package fetch performs the HTTP side of a scrape: page and product fetches
// with rotated User-Agents, per-profile cookies, exponential-backoff retries,
// and redirect reporting so callers can detect canonical-URL changes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted marks a fetch whose retries ran out. Callers treat the page
// as empty (end-of-catalog) or the product as unfetchable.
var ErrExhausted = errors.New("fetch: retries exhausted")

// defaultUserAgents is the rotation pool used when a profile has no override.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// Config configures the fetcher.
type Config struct {
	ConnectTimeout time.Duration // default 10s
	ReadTimeout    time.Duration // default 30s
	MaxBytes       int64         // max response body size, default 10MB
	MaxTries       int           // listing-page retries, default 3
	DetailTries    int           // product-page retries, default 5
	BackoffBase    time.Duration // initial retry interval, default 2s
	UserAgents     []string      // rotation pool; default built-in list
	PoolSize       int           // pooled connections, default 100
}

func (c *Config) defaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.MaxTries <= 0 {
		c.MaxTries = 3
	}
	if c.DetailTries <= 0 {
		c.DetailTries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = defaultUserAgents
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 100
	}
}

// Result is the outcome of a successful fetch.
type Result struct {
	Body       []byte
	StatusCode int
	// FinalURL is the URL after redirects. Differs from the request URL
	// when the site redirected to a different canonical page.
	FinalURL string
}

// Options customize a single fetch.
type Options struct {
	Cookies   map[string]string
	UserAgent string // override; empty rotates the pool
	Tries     int    // override retry count; 0 uses Config.MaxTries
}

// Fetcher is the shared HTTP client for one process.
type Fetcher struct {
	client *http.Client
	config Config
	uaNext atomic.Uint32
}

// New creates a Fetcher with a transport sized for concurrent site walks.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.ReadTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		config: cfg,
	}
}

// FetchPage retrieves a listing page with the standard retry budget.
func (f *Fetcher) FetchPage(ctx context.Context, url string, opts Options) (*Result, error) {
	if opts.Tries == 0 {
		opts.Tries = f.config.MaxTries
	}
	return f.fetch(ctx, url, opts)
}

// FetchDetail retrieves a product page with the larger retry budget.
func (f *Fetcher) FetchDetail(ctx context.Context, url string, opts Options) (*Result, error) {
	if opts.Tries == 0 {
		opts.Tries = f.config.DetailTries
	}
	return f.fetch(ctx, url, opts)
}

func (f *Fetcher) fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	var result *Result

	operation := func() error {
		r, err := f.once(ctx, url, opts)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.config.BackoffBase
	policy.RandomizationFactor = 0.3

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(opts.Tries-1)), ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrExhausted, url, err)
	}
	return result, nil
}

func (f *Fetcher) once(ctx context.Context, url string, opts Options) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("fetch: new request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent(opts))
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	for name, value := range opts.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch: http %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		// Client errors will not improve on retry.
		return nil, backoff.Permanent(fmt.Errorf("fetch: http %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Result{Body: body, StatusCode: resp.StatusCode, FinalURL: finalURL}, nil
}

func (f *Fetcher) userAgent(opts Options) string {
	if opts.UserAgent != "" {
		return opts.UserAgent
	}
	n := f.uaNext.Add(1)
	return f.config.UserAgents[int(n)%len(f.config.UserAgents)]
}
