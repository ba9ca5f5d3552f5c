package fishfish

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fishfish-gg/fishfish-go/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the production FishFish REST endpoint.
	DefaultBaseURL = "https://api.fishfish.gg/v1"
	// DefaultStreamURL is the production FishFish WebSocket endpoint.
	DefaultStreamURL = "wss://api.fishfish.gg/v1/stream"
)

// Doer is the HTTP transport seam. The client only assumes that a request
// yields a status code and a readable body; connection reuse policy belongs
// to the implementation.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds parameters for constructing a Client.
type Config struct {
	// APIKey is the long-lived credential exchanged for session tokens.
	// Never logged.
	APIKey string

	BaseURL   string
	StreamURL string

	// DefaultPermissions scope token exchanges that do not request an
	// explicit permission set.
	DefaultPermissions []Permission

	// DisableCache turns off the local read-through record cache.
	DisableCache bool
	// DoNotCachePartial skips caching of identifier-only records from
	// non-full bulk listings, so complete entries are never mixed with
	// partial ones.
	DoNotCachePartial bool

	// Identity is sent on the realtime feed handshake for attribution.
	Identity string

	Timeout time.Duration
	Debug   bool

	// Transport overrides the default HTTP client. Useful for tests.
	Transport Doer
}

// Client is a FishFish API client with a token manager and an optional
// local record cache shared with the realtime feed.
type Client struct {
	cfg     Config
	http    Doer
	auth    *tokenManager
	domains *entityCache[Domain]
	urls    *entityCache[URL]
	log     zerolog.Logger
}

// NewClient constructs a Client. The API key is required; anonymous access
// to public records is available through the package-level Fetch functions.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &InvalidInputError{Msg: "api key is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = DefaultStreamURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if len(cfg.DefaultPermissions) == 0 {
		cfg.DefaultPermissions = []Permission{PermissionDomains, PermissionURLs}
	}

	doer := cfg.Transport
	if doer == nil {
		doer = newHTTPClient(cfg.Timeout)
	}

	c := &Client{
		cfg:  cfg,
		http: doer,
		auth: newTokenManager(cfg.APIKey, cfg.BaseURL, cfg.DefaultPermissions, doer, log),
		log:  log,
	}
	if !cfg.DisableCache {
		c.domains = newEntityCache[Domain]()
		c.urls = newEntityCache[URL]()
	}
	return c, nil
}

// newHTTPClient builds a transport based on DefaultTransport defaults with
// explicit dial and handshake timeouts.
func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: timeout,
	}
}

// HasValidToken reports whether a session token is held and unexpired.
func (c *Client) HasValidToken() bool {
	return c.auth.hasValidToken()
}

// CheckPermission reports whether the held token grants p. False when no
// valid token is held.
func (c *Client) CheckPermission(p Permission) bool {
	return c.auth.checkPermission(p)
}

// AcquireToken returns the held session token, exchanging the API key for a
// fresh one when none is valid. Concurrent calls share one exchange.
func (c *Client) AcquireToken(ctx context.Context, perms ...Permission) (*SessionToken, error) {
	return c.auth.acquire(ctx, perms)
}

// DomainCache returns a snapshot of the cached domain records.
func (c *Client) DomainCache() (map[string]Domain, error) {
	if c.domains == nil {
		return nil, ErrCacheDisabled
	}
	return c.domains.snapshot(), nil
}

// URLCache returns a snapshot of the cached URL records.
func (c *Client) URLCache() (map[string]URL, error) {
	if c.urls == nil {
		return nil, ErrCacheDisabled
	}
	return c.urls.snapshot(), nil
}

// Close discards the session token and stops its expiry timer.
func (c *Client) Close() error {
	c.auth.close()
	return nil
}

// preflight acquires a token and verifies it grants p, failing with
// ForbiddenError before any request is issued when it does not.
func (c *Client) preflight(ctx context.Context, p Permission) (*SessionToken, error) {
	tok, err := c.auth.acquire(ctx, nil)
	if err != nil {
		return nil, err
	}
	if !tok.Has(p) {
		return nil, &ForbiddenError{Permission: p}
	}
	return tok, nil
}

// do executes an HTTP request, handling metrics, debug logging, and typed
// status translation. tokenHeld selects the credential named on a 401.
func (c *Client) do(ctx context.Context, req *http.Request, endpoint string, tokenHeld bool) (*http.Response, error) {
	start := time.Now()

	if c.cfg.Debug {
		c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("fishfish api request")
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	elapsed := time.Since(start)

	if err != nil {
		if c.cfg.Debug {
			c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).
				Err(err).Dur("elapsed", elapsed).Msg("fishfish api request failed")
		}
		metrics.APICalls.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}

	statusLabel := fmt.Sprintf("%dxx", resp.StatusCode/100)
	metrics.APICalls.WithLabelValues(endpoint, statusLabel).Inc()
	metrics.APIDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	if c.cfg.Debug {
		c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).
			Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("fishfish api response")
	}

	if err := checkStatus(resp, tokenHeld); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// checkStatus maps non-2xx responses to typed errors. Consumes the body for
// the UnexpectedStatus case only.
func checkStatus(resp *http.Response, tokenHeld bool) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		cred := CredentialAPIKey
		if tokenHeld {
			cred = CredentialToken
		}
		return &UnauthorizedError{Credential: cred}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 10 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	default:
		return &UnexpectedStatusError{Code: resp.StatusCode, Body: readBody(resp)}
	}
}

// readBody drains up to 4 KiB of the response body for error reporting.
func readBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ""
	}
	return string(data)
}
