// Package api implements the request/response action layer: one
// authenticated call per user action, no automatic retry, failures
// classified by internal/errs.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/codefionn/slackline/internal/errs"
	"github.com/codefionn/slackline/internal/logger"
	"github.com/codefionn/slackline/internal/metrics"
	"github.com/codefionn/slackline/internal/securemem"
	"github.com/codefionn/slackline/internal/wire"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 16 << 20

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the action endpoint prefix, e.g. "https://slack.com/api".
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client with Timeout is
	// created.
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil. Zero means 30s.
	Timeout time.Duration
	// Logger receives one record per failed call. If nil, records go to the
	// global file logger.
	Logger *slog.Logger
	// RateLimit paces outgoing calls. Zero disables pacing.
	RateLimit rate.Limit
	Burst     int
	Metrics   *metrics.Metrics
	// Resolver is handed to the codec to render inline references.
	Resolver wire.Resolver
}

// Client holds the transport shared by every Session of one workspace.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	codec      *wire.Codec
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("api: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("api: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	log := config.Logger
	if log == nil {
		log = slog.New(logger.NewSlogHandler(logger.Global().WithPrefix("api")))
	}

	limit := config.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     log,
		limiter:    rate.NewLimiter(limit, burst),
		metrics:    config.Metrics,
		codec:      wire.NewCodec(config.Resolver),
	}, nil
}

// CloseIdleConnections drops pooled connections. Call it after the network
// comes back so requests do not reuse a dead connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// request is one encoded action call.
type request struct {
	method      wire.Method
	contentType string
	body        []byte
}

// call performs req with token and hands the response body to decode. The
// outcome is logged and counted.
func (c *Client) call(ctx context.Context, token *securemem.Token, req request, decode func([]byte) error) error {
	start := time.Now()
	err := c.roundTrip(ctx, token, req, decode)

	kind := ""
	switch {
	case err == nil:
	case isCanceled(err):
		c.logger.Debug("action canceled", "method", string(req.method))
	default:
		kind = errs.KindOf(err).String()
		c.logger.Warn("action failed",
			"method", string(req.method),
			"kind", kind,
			"error", err,
		)
	}
	c.metrics.ObserveAction(string(req.method), time.Since(start), kind)
	return err
}

func (c *Client) roundTrip(ctx context.Context, token *securemem.Token, req request, decode func([]byte) error) error {
	method := string(req.method)

	bearer := token.Bearer()
	if bearer == "" {
		return errs.FromCode(method, "not_authed")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errs.Network(method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(req.body))
	if err != nil {
		return fmt.Errorf("api: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", req.contentType)
	httpReq.Header.Set("Authorization", bearer)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errs.Network(method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errs.Network(method, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errs.RateLimited(method, retryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return errs.Network(method, fmt.Errorf("unexpected status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		// Error bodies usually still carry the {"ok":false} envelope.
		if err := wire.DecodeResponse(req.method, body, nil); err != nil && errs.KindOf(err) != errs.KindDecode {
			return err
		}
		code := "http_" + strconv.Itoa(resp.StatusCode)
		if resp.StatusCode == http.StatusUnauthorized {
			return &errs.Error{Kind: errs.KindAuthRejected, Method: method, Code: code}
		}
		return &errs.Error{Kind: errs.KindServerRejected, Method: method, Code: code}
	}

	return decode(body)
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// form encodes a parameterized call.
func form(method wire.Method, params url.Values) (request, error) {
	body, err := wire.EncodeAction(method, params)
	if err != nil {
		return request{}, err
	}
	return request{method: method, contentType: "application/x-www-form-urlencoded", body: body}, nil
}

// isCanceled reports whether err only reflects the caller giving up.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
