// Package metadata provides implementations of the resolver's metadata
// source: a PyPI JSON API client with retry and circuit breaking, an
// in-memory source for tests and fixtures, and a badger-backed caching
// decorator.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/git-pkgs/resolve"
)

// DefaultIndexURL is the default package index.
const DefaultIndexURL = "https://pypi.org"

var (
	errRateLimited = errors.New("rate limited by index")
	errIndexDown   = errors.New("index unavailable")
	errCircuitOpen = errors.New("circuit breaker open")
)

// QueryError reports a metadata query that failed after exhausting retries.
// It is distinct from resolve.ErrNotFound: a QueryError never means the
// package is unknown.
type QueryError struct {
	URL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("metadata query %s: %v", e.URL, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// PyPI reads package metadata from a PyPI-compatible JSON API. It is safe
// for concurrent use.
type PyPI struct {
	baseURL     string
	client      *http.Client
	breaker     *circuit.Breaker
	timeout     time.Duration
	maxRetries  uint64
	baseDelay   time.Duration
	userAgent   string
	logger      *slog.Logger
	stopRefresh func()
	closeOnce   sync.Once
}

// PyPIOption configures a PyPI source.
type PyPIOption func(*PyPI)

// WithIndexURL sets the index base URL (default https://pypi.org).
func WithIndexURL(url string) PyPIOption {
	return func(p *PyPI) { p.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) PyPIOption {
	return func(p *PyPI) { p.client = c }
}

// WithTimeout sets the per-query timeout.
func WithTimeout(d time.Duration) PyPIOption {
	return func(p *PyPI) { p.timeout = d }
}

// WithMaxRetries sets the maximum retry attempts per query.
func WithMaxRetries(n int) PyPIOption {
	return func(p *PyPI) { p.maxRetries = uint64(n) }
}

// WithBaseDelay sets the base delay for exponential backoff between retries.
func WithBaseDelay(d time.Duration) PyPIOption {
	return func(p *PyPI) { p.baseDelay = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) PyPIOption {
	return func(p *PyPI) { p.userAgent = ua }
}

// WithIndexLogger sets the logger for query tracing.
func WithIndexLogger(l *slog.Logger) PyPIOption {
	return func(p *PyPI) { p.logger = l }
}

// NewPyPI creates a PyPI metadata source with the given options.
func NewPyPI(opts ...PyPIOption) *PyPI {
	p := &PyPI{
		baseURL:    DefaultIndexURL,
		timeout:    20 * time.Second,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		userAgent:  "git-pkgs-resolve/1.0",
	}
	for _, opt := range opts {
		opt(p)
	}
	p.baseURL = strings.TrimSuffix(p.baseURL, "/")
	if p.client == nil {
		p.client, p.stopRefresh = newHTTPClient(p.timeout)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}

	// Trips after 5 consecutive failures, backs off before half-open probes.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 30 * time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.Multiplier = 2.0
	bo.Reset()
	p.breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    bo,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	return p
}

// Close stops the background DNS cache refresh. Safe to call more than
// once; a no-op when the source was built with WithHTTPClient.
func (p *PyPI) Close() {
	if p.stopRefresh != nil {
		p.closeOnce.Do(p.stopRefresh)
	}
}

// newHTTPClient builds a client with a DNS-cached dialer; the cache is
// refreshed every 5 minutes until the returned stop function is called.
func newHTTPClient(timeout time.Duration) (*http.Client, func()) {
	resolver := &dnscache.Resolver{}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-done:
				return
			}
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
				}
				return nil, fmt.Errorf("failed to dial any resolved IP")
			},
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
	return client, func() { close(done) }
}

type projectResponse struct {
	Info struct {
		Name         string   `json:"name"`
		RequiresDist []string `json:"requires_dist"`
	} `json:"info"`
	Releases map[string][]releaseFile `json:"releases"`
}

type releaseFile struct {
	Yanked bool `json:"yanked"`
}

// ListVersions returns every released version of a package. Releases whose
// files are all yanked are skipped. An unknown package yields a
// NotFoundError wrapping resolve.ErrNotFound.
func (p *PyPI) ListVersions(ctx context.Context, name string) ([]string, error) {
	name = resolve.NormalizeName(name)
	url := fmt.Sprintf("%s/pypi/%s/json", p.baseURL, name)

	var resp projectResponse
	if err := p.getJSON(ctx, url, &resp); err != nil {
		if errors.Is(err, resolve.ErrNotFound) {
			return nil, &resolve.NotFoundError{Name: name}
		}
		return nil, err
	}

	versions := make([]string, 0, len(resp.Releases))
	for num, files := range resp.Releases {
		if len(files) > 0 && allYanked(files) {
			continue
		}
		versions = append(versions, num)
	}
	return versions, nil
}

func allYanked(files []releaseFile) bool {
	for _, f := range files {
		if !f.Yanked {
			return false
		}
	}
	return true
}

// ListRequirements returns the direct dependency edges of one package
// version, parsed from its requires_dist metadata.
func (p *PyPI) ListRequirements(ctx context.Context, name, version string) ([]resolve.Dependency, error) {
	name = resolve.NormalizeName(name)
	url := fmt.Sprintf("%s/pypi/%s/%s/json", p.baseURL, name, version)

	var resp projectResponse
	if err := p.getJSON(ctx, url, &resp); err != nil {
		if errors.Is(err, resolve.ErrNotFound) {
			return nil, &resolve.NotFoundError{Name: name, Version: version}
		}
		return nil, err
	}

	deps := make([]resolve.Dependency, 0, len(resp.Info.RequiresDist))
	for _, raw := range resp.Info.RequiresDist {
		req, err := resolve.ParseRequirement(raw)
		if err != nil {
			return nil, fmt.Errorf("requires_dist of %s %s: %w", name, version, err)
		}
		deps = append(deps, resolve.Dependency{
			Name:      req.Name,
			Specifier: req.Specifier,
			Marker:    req.Marker,
		})
	}
	return deps, nil
}

// ProjectURL returns the index's human-facing page for a package version.
func (p *PyPI) ProjectURL(name, version string) string {
	name = resolve.NormalizeName(name)
	if version != "" {
		return fmt.Sprintf("%s/project/%s/%s/", p.baseURL, name, version)
	}
	return fmt.Sprintf("%s/project/%s/", p.baseURL, name)
}

// getJSON fetches url into out, retrying transient failures with
// exponential backoff. A 404 is permanent and reported as
// resolve.ErrNotFound without counting against the circuit breaker.
func (p *PyPI) getJSON(ctx context.Context, url string, out any) error {
	if !p.breaker.Ready() {
		return &QueryError{URL: url, Err: errCircuitOpen}
	}

	op := func() error {
		err := p.doGet(ctx, url, out)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, resolve.ErrNotFound):
			return backoff.Permanent(err)
		default:
			p.logger.Debug("retrying metadata query", "url", url, "error", err)
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.baseDelay
	bo.MaxInterval = 10 * time.Second

	var notFound error
	err := p.breaker.Call(func() error {
		err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, p.maxRetries), ctx))
		if errors.Is(err, resolve.ErrNotFound) {
			notFound = err
			return nil
		}
		return err
	}, 0)
	if notFound != nil {
		return notFound
	}
	if err != nil {
		return &QueryError{URL: url, Err: err}
	}
	return nil
}

func (p *PyPI) doGet(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("querying index: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil

	case resp.StatusCode == http.StatusNotFound:
		return resolve.ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		return errRateLimited

	case resp.StatusCode >= 500:
		return errIndexDown

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}
