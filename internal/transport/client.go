// Package transport is the HTTP/JSON client for the coaching backend. It
// attaches the bearer token, holds the refresh cookie in its jar, and calls
// back into the session layer when an authenticated request comes back 401.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"gwi.com/coach-client/internal/logger"
)

const maxErrorBody = 1 << 20

// RefreshFunc obtains a fresh access token. The session store supplies it.
type RefreshFunc func(ctx context.Context) (string, error)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu      sync.RWMutex
	token   string
	refresh RefreshFunc

	refreshGroup singleflight.Group
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its Jar, if any, holds the
// refresh cookie.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) { c.httpClient.Jar = jar }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	jar, err := newMemoryJar()
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Jar: jar, Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ClearCredentials drops the access token and every cookie, including the
// long-lived refresh credential.
func (c *Client) ClearCredentials() {
	c.SetAccessToken("")
	if j, ok := c.httpClient.Jar.(interface{ Clear() }); ok {
		j.Clear()
	}
}

// SetRefreshHandler registers fn for 401 recovery. nil disables recovery.
func (c *Client) SetRefreshHandler(fn RefreshFunc) {
	c.mu.Lock()
	c.refresh = fn
	c.mu.Unlock()
}

func (c *Client) refreshHandler() RefreshFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresh
}

type callOptions struct {
	bearer     bool
	retry401   bool
	basicUser  string
	basicPass  string
	basicCreds bool
}

var (
	public        = callOptions{}
	authenticated = callOptions{bearer: true, retry401: true}
	// Logout must never recover through refresh: a failing refresh logs out.
	authenticatedNoRetry = callOptions{bearer: true}
)

func (c *Client) do(ctx context.Context, method, path string, in, out any, opts callOptions) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		payload = b
	}

	sentToken := c.AccessToken()
	err := c.send(ctx, method, path, payload, out, opts, sentToken)
	if err == nil || !opts.retry401 || StatusCode(err) != http.StatusUnauthorized {
		return err
	}

	refresh := c.refreshHandler()
	if refresh == nil {
		return err
	}

	token, refreshErr := c.refreshToken(ctx, refresh, sentToken)
	if refreshErr != nil {
		logger.Logger.Debug("token refresh after 401 failed", "path", path, "err", refreshErr)
		return err
	}
	return c.send(ctx, method, path, payload, out, opts, token)
}

// refreshToken coalesces concurrent refreshes. A request that was sent with a
// token that has since been replaced simply retries with the new one.
func (c *Client) refreshToken(ctx context.Context, refresh RefreshFunc, sentToken string) (string, error) {
	if current := c.AccessToken(); current != "" && current != sentToken {
		return current, nil
	}
	v, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		return refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out any, opts callOptions, token string) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("failed to build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.basicCreds {
		req.SetBasicAuth(opts.basicUser, opts.basicPass)
	}
	if opts.bearer && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: parseErrorMessage(raw)}
		logger.Logger.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode, "message", apiErr.Message)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
