package netutil

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryBackoff      = 2 * time.Second
)

// ClientOptions tune the HTTP client used for one upstream.
type ClientOptions struct {
	// Timeout bounds a whole request including retries; 0 -> 30s.
	Timeout time.Duration
	// ResponseHeaderTimeout is passed to the transport; 0 -> no limit.
	ResponseHeaderTimeout time.Duration
	// Retries is the number of extra attempts on transient network errors.
	Retries int
	// Backoff grows linearly with the attempt number; 0 -> 2s.
	Backoff time.Duration
}

// NewHTTPClient returns an HTTP client with pooled connections and optional transient retries.
func NewHTTPClient(opts ClientOptions) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	if opts.Retries <= 0 {
		return &http.Client{Timeout: timeout, Transport: transport}
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &retryTransport{
			base:       transport,
			maxRetries: opts.Retries,
			backoff:    backoff,
		},
	}
}

type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		currReq := req
		if attempt > 1 {
			currReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				currReq.Body = body
			} else if req.Body != nil && req.Body != http.NoBody {
				return nil, lastErr
			}
		}

		resp, err := base.RoundTrip(currReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !ShouldRetry(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(t.backoff * time.Duration(attempt))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}
