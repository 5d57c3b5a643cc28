// Package httpclient is the outbound HTTP client shared by every integration.
// Each third-party call is logged with its workspace and timed so that
// integrations get uniform observability without doing anything themselves.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/flowpilot/flowpilot/internal/actor"
	"github.com/flowpilot/flowpilot/internal/metrics"
)

type Config struct {
	Timeout    time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries int           `yaml:"max_retries" default:"2" validate:"gte=0,lte=10"`
	RetryWait  time.Duration `yaml:"retry_wait" default:"200ms"`
	UserAgent  string        `yaml:"user_agent" default:"flowpilot"`
	Debug      bool          `yaml:"debug" default:"false"`
}

type Client struct {
	rc      *resty.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a client. Retries only apply to idempotent requests; a retried
// POST could repeat an external side effect.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetDebug(cfg.Debug).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil {
				return false
			}
			switch r.Request.Method {
			case http.MethodGet, http.MethodHead:
			default:
				return false
			}
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	if cfg.UserAgent != "" {
		rc.SetHeader("User-Agent", cfg.UserAgent)
	}
	c := &Client{rc: rc, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	// Body is sent as JSON. Form, when set, is sent url-encoded instead.
	Body any
	Form map[string]string
	// Result, when non-nil, receives the decoded JSON body of a 2xx response.
	Result any
	// WorkspaceID overrides the workspace taken from the context for logging.
	WorkspaceID string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do performs the request. Any non-2xx response is returned as *StatusError
// with the provider's body preserved.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	r := c.rc.R().SetContext(ctx)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	switch {
	case req.Form != nil:
		r.SetFormData(req.Form)
	case req.Body != nil:
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	workspace := req.WorkspaceID
	if workspace == "" {
		workspace = actor.Workspace(ctx)
	}
	host := hostOf(req.URL)

	start := time.Now()
	resp, err := r.Execute(req.Method, req.URL)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveOutbound(host, "error", elapsed)
		c.logger.Warn("outbound request failed",
			"workspace_id", workspace,
			"method", req.Method,
			"host", host,
			"duration", elapsed,
			"error", err)
		return nil, fmt.Errorf("%s %s: %w", req.Method, host, err)
	}

	status := resp.StatusCode()
	c.metrics.ObserveOutbound(host, strconv.Itoa(status), elapsed)
	c.logger.Info("outbound request",
		"workspace_id", workspace,
		"method", req.Method,
		"host", host,
		"status", status,
		"duration", elapsed)

	out := &Response{StatusCode: status, Header: resp.Header(), Body: resp.Body()}
	if status < 200 || status > 299 {
		return out, &StatusError{StatusCode: status, Method: req.Method, URL: req.URL, Body: string(resp.Body())}
	}
	if req.Result != nil && len(out.Body) > 0 {
		if err := json.Unmarshal(out.Body, req.Result); err != nil {
			return out, fmt.Errorf("decoding response from %s: %w", host, err)
		}
	}
	return out, nil
}

// GetJSON is shorthand for a GET that decodes the JSON response into result.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, result any) error {
	_, err := c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Headers: headers, Result: result})
	return err
}

// PostJSON is shorthand for a JSON POST that decodes the JSON response into result.
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers map[string]string, body, result any) error {
	_, err := c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Headers: headers, Body: body, Result: result})
	return err
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
