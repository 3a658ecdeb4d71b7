package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const pathAccessToken = "/oauth/access_token"

// TokenSource caches one bearer token and re-issues it after expiry.
// Concurrent refreshes may both hit the token endpoint; the last response wins.
type TokenSource struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time

	mu      sync.RWMutex
	token   string
	expires time.Time
}

// NewTokenSource builds a token source for the client-credentials grant.
func NewTokenSource(cfg Config) *TokenSource {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenSource{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClientOrDefault(cfg.HTTPClient),
		now:          now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	// Expires is an absolute unix timestamp sent alongside expires_in.
	Expires int64 `json:"expires"`
}

// Token returns the cached token while it is valid, otherwise exchanges credentials for a new one.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token, expires := s.token, s.expires
	s.mu.RUnlock()
	if token != "" && s.now().Before(expires) {
		return token, nil
	}

	issuedAt := s.now()
	resp, err := s.exchange(ctx)
	if err != nil {
		return "", err
	}
	expires = issuedAt.Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.ExpiresIn <= 0 && resp.Expires > 0 {
		expires = time.Unix(resp.Expires, 0)
	}

	s.mu.Lock()
	s.token = resp.AccessToken
	s.expires = expires
	s.mu.Unlock()
	return resp.AccessToken, nil
}

// Expiry returns the absolute expiry of the cached token, zero if none was issued.
func (s *TokenSource) Expiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expires
}

func (s *TokenSource) exchange(ctx context.Context) (*tokenResponse, error) {
	form := url.Values{
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+pathAccessToken, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return nil, &AuthError{Status: resp.StatusCode, Err: fmt.Errorf("%s", truncateBody(body))}
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &AuthError{Status: resp.StatusCode, Err: fmt.Errorf("parsing response: %w", err)}
	}
	if out.AccessToken == "" {
		return nil, &AuthError{Status: resp.StatusCode, Err: fmt.Errorf("empty access token")}
	}
	return &out, nil
}
