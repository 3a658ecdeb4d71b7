// Package commerce talks to the Elastic Path (Moltin) catalog, cart, customer and flow APIs.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
)

const userAgent = "pizzabot/1.0"

// Money is an amount in minor currency units.
type Money int64

// Config holds client settings. HTTPClient and Now are optional.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Currency     string
	HTTPClient   *http.Client
	Now          func() time.Time
}

// Client is the commerce backend HTTP client. Every call is attempted once.
type Client struct {
	baseURL    string
	currency   string
	httpClient *http.Client
	tokens     *TokenSource
}

// New creates a client with its own token source.
func New(cfg Config) *Client {
	currency := cfg.Currency
	if currency == "" {
		currency = "RUB"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		currency:   currency,
		httpClient: httpClientOrDefault(cfg.HTTPClient),
		tokens:     NewTokenSource(cfg),
	}
}

// Tokens exposes the shared token source.
func (c *Client) Tokens() *TokenSource { return c.tokens }

// Currency returns the currency code prices are read in.
func (c *Client) Currency() string { return c.currency }

func httpClientOrDefault(hc *http.Client) *http.Client {
	if hc != nil {
		return hc
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// newRequest creates an authorized JSON request.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// call builds, executes and decodes one request.
func (c *Client) call(ctx context.Context, op, method, path string, body, result any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.do(op, req, result)
}

// do executes the request and decodes the response into result when it is non-nil.
func (c *Client) do(op string, req *http.Request, result any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logCall(req.Context(), op, 0, start, err)
		return &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logCall(req.Context(), op, resp.StatusCode, start, err)
		return &UpstreamError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode >= 300 {
		upErr := &UpstreamError{Op: op, Status: resp.StatusCode, Body: truncateBody(body)}
		c.logCall(req.Context(), op, resp.StatusCode, start, upErr)
		return upErr
	}
	c.logCall(req.Context(), op, resp.StatusCode, start, nil)

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return &UpstreamError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("parsing response: %w", err)}
		}
	}
	return nil
}

func (c *Client) logCall(ctx context.Context, op string, status int, start time.Time, err error) {
	if err == nil {
		if logger.ShouldSampleDebug("commerce." + op) {
			logger.Debug(ctx, logger.CompCommerce, "call",
				slog.String("status", "ok"),
				slog.String("op", op),
				slog.Int("http_code", status),
				slog.Duration("duration", logger.Took(start)),
			)
		}
		return
	}
	logger.Warn(ctx, logger.CompCommerce, "call",
		slog.String("status", "fail"),
		slog.String("op", op),
		slog.Int("http_code", status),
		slog.Duration("duration", logger.Took(start)),
		slog.String("err", err.Error()),
	)
}
