// Package backend is the transport adapter for the management backend's
// query interface: GET <base>/gmp?cmd=...&token=... returning XML.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/leapstack-labs/vulndash/internal/backend"

// Config holds client configuration.
type Config struct {
	// BaseURL is the backend root, e.g. "https://gsa.example.org".
	BaseURL string `koanf:"base_url"`

	// Token is sent as the "token" query parameter.
	Token string `koanf:"token"`

	// Timeout bounds each request (default: 60s).
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the sustained request rate per second; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`

	// Burst is the limiter bucket size (default: 10).
	Burst int `koanf:"burst"`

	// MaxBodyBytes caps the response size (default: 32 MiB).
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:      60 * time.Second,
		RateLimit:    20,
		Burst:        10,
		MaxBodyBytes: 32 << 20,
	}
}

// Client issues backend queries.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. BaseURL must be an absolute URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Burst == 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", cfg.BaseURL)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	c := &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the full request URL for a command.
func (c *Client) URL(cmd string, params url.Values) string {
	q := make(url.Values, len(params)+2)
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("cmd", cmd)
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	u := *c.base
	u.Path = u.Path + "/gmp"
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch runs one command and returns the raw response body.
//
// A canceled context yields ErrAborted, a 401 ErrUnauthorized and any other
// non-2xx status an *HTTPError.
func (c *Client) Fetch(ctx context.Context, cmd string, params url.Values) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "backend."+cmd, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		span.SetStatus(codes.Error, "rate limiter")
		return nil, c.transportErr(ctx, err)
	}

	target := c.URL(cmd, params)
	span.SetAttributes(
		attribute.String("vulndash.command", cmd),
		attribute.String("http.request.method", http.MethodGet),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, c.transportErr(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug("backend response", "cmd", cmd, "status", resp.StatusCode, "duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		span.SetStatus(codes.Error, "unauthorized")
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetStatus(codes.Error, resp.Status)
		return nil, &HTTPError{
			Code: resp.StatusCode,
			URL:  c.redact(target),
			Text: strings.TrimSpace(string(text)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		span.RecordError(err)
		return nil, c.transportErr(ctx, err)
	}
	return body, nil
}

// transportErr maps cancellation to ErrAborted and keeps other errors.
func (c *Client) transportErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return fmt.Errorf("backend request failed: %w", err)
}

// redact strips the session token from a URL before it is logged.
func (c *Client) redact(raw string) string {
	if c.cfg.Token == "" {
		return raw
	}
	return strings.ReplaceAll(raw, url.QueryEscape(c.cfg.Token), "REDACTED")
}
