// Package gateway talks to the external payment gateway: it authenticates
// with OAuth2 client credentials and looks up collection status by the
// external reference stored with each payment.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Default endpoints of the hosted gateway.
const (
	DefaultAuthURL = "https://id.iotec.io"
	DefaultAPIURL  = "https://pay.iotec.io/api"
)

// NotFoundStatus is reported for references the gateway does not know yet.
const NotFoundStatus = "pending"

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 1024

// Config holds the gateway credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	APIURL       string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for both token and status calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithClock sets the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithRateLimit caps outgoing status requests. A zero limit disables it.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(cl *Client) {
		if limit == 0 {
			cl.limiter = nil
			return
		}
		cl.limiter = rate.NewLimiter(limit, burst)
	}
}

// Client queries collection status on the gateway.
type Client struct {
	apiURL  string
	http    *http.Client
	now     func() time.Time
	logger  *slog.Logger
	limiter *rate.Limiter
	tokens  *TokenManager
}

// New creates a gateway client. Empty endpoints fall back to the defaults.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}
	for _, opt := range opts {
		opt(c)
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	c.apiURL = strings.TrimRight(cfg.APIURL, "/")
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	c.tokens = NewTokenManager(authURL, cfg.ClientID, cfg.ClientSecret, c.http, c.now, c.logger)
	return c
}

// Tokens returns the client's token manager.
func (c *Client) Tokens() *TokenManager { return c.tokens }

// Verify obtains an access token, proving the credentials work.
func (c *Client) Verify(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}

type statusResponse struct {
	StatusCode string `json:"statusCode"`
}

// Status returns the gateway's raw status code for referenceID. A reference
// the gateway does not know is reported as NotFoundStatus. A 401 drops the
// cached token and the request is retried once with a fresh one.
func (c *Client) Status(ctx context.Context, referenceID string) (string, error) {
	code, err := c.status(ctx, referenceID)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("gateway: token rejected, refreshing", "reference_id", referenceID)
		c.tokens.Invalidate()
		return c.status(ctx, referenceID)
	}
	return code, err
}

func (c *Client) status(ctx context.Context, referenceID string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	endpoint := c.apiURL + "/collections/external-id/" + url.PathEscape(referenceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway: status %s: %w", referenceID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Warn("gateway: payment not found", "reference_id", referenceID)
		return NotFoundStatus, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway: decode status %s: %w", referenceID, err)
	}
	return out.StatusCode, nil
}
