// Package apiclient is an HTTP client for the employee management API that
// keeps the short-lived access token fresh. The refresh token never leaves
// the cookie jar; on a 401 the client performs one shared refresh and
// retries the request once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultLoginPath      = "/api/users/login"
	DefaultRefreshPath    = "/api/users/refresh-token"
	DefaultLogoutPath     = "/api/users/logout"
	DefaultTimeout        = 30 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
)

// ErrSessionExpired is returned once the refresh cookie can no longer
// produce an access token. The caller has to log in again.
var ErrSessionExpired = errors.New("apiclient: session expired")

// StatusError is returned by the JSON helpers for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("apiclient: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("apiclient: unexpected status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
	LogoutPath  string

	// Timeout applies to every HTTP call made by the default client.
	Timeout time.Duration
	// RefreshTimeout bounds the shared refresh call.
	RefreshTimeout time.Duration

	// OnSessionExpired runs once per failed refresh, not once per waiting request.
	OnSessionExpired func()

	// HTTPClient is copied; a cookie jar is attached when it has none.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type LoginResult struct {
	Token string  `json:"token"`
	User  Profile `json:"user"`
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	token string
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = DefaultRefreshPath
	}
	if cfg.LogoutPath == "" {
		cfg.LogoutPath = DefaultLogoutPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}

	var hc http.Client
	if cfg.HTTPClient != nil {
		hc = *cfg.HTTPClient
	} else {
		hc.Timeout = cfg.Timeout
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("apiclient: cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}

	return &Client{cfg: cfg, http: &hc, logger: lg}, nil
}

// Token returns the cached access token, or "" when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login stores the returned access token; the server sets the refresh cookie.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, http.MethodPost, c.cfg.LoginPath, payload, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("apiclient: decode login response: %w", err)
	}
	c.SetToken(result.Token)
	return &result, nil
}

// Logout forgets the access token even when the call fails.
func (c *Client) Logout(ctx context.Context) error {
	token := c.Token()
	c.SetToken("")

	resp, err := c.send(ctx, http.MethodPost, c.cfg.LogoutPath, nil, token)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Do sends the request with the current access token. A 401 triggers at most
// one refresh and one retry; a 401 on the retry is returned to the caller.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token := c.Token()
	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	next, err := c.tokenAfterUnauthorized(ctx, token)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, method, path, body, next)
}

// DoJSON encodes in (when non-nil) and decodes a 2xx body into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// tokenAfterUnauthorized decides what to retry with after stale got a 401.
func (c *Client) tokenAfterUnauthorized(ctx context.Context, stale string) (string, error) {
	current := c.Token()
	switch {
	case current != "" && current != stale:
		// someone else already refreshed
		return current, nil
	case stale != "" && current == "":
		// the token this request used was cleared by a failed refresh
		return "", ErrSessionExpired
	}
	return c.refresh(ctx, stale)
}

// refreshOutcome is shared by every caller that joined one refresh.
type refreshOutcome struct {
	token   string
	err     error
	expired sync.Once
}

// refresh joins or starts the single in-flight refresh. A caller whose ctx
// ends stops waiting; the refresh itself keeps running for the others.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		if current := c.Token(); current != "" && current != stale {
			return &refreshOutcome{token: current}, nil
		}

		// shared by every waiter, so not bound to any one caller's context
		rctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
		defer cancel()

		token, err := c.requestRefresh(rctx)
		if err != nil {
			c.SetToken("")
			c.logger.Warn("token refresh failed", "error", err)
			return &refreshOutcome{err: fmt.Errorf("%w: %v", ErrSessionExpired, err)}, nil
		}

		c.SetToken(token)
		return &refreshOutcome{token: token}, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("joined in-flight token refresh")
		}
		return c.settle(res)
	case <-ctx.Done():
		go func() { _, _ = c.settle(<-ch) }()
		return "", ctx.Err()
	}
}

// settle runs after the refresh key is released, so OnSessionExpired may
// issue requests of its own. It fires once per failed refresh.
func (c *Client) settle(res singleflight.Result) (string, error) {
	if res.Err != nil {
		return "", res.Err
	}
	outcome := res.Val.(*refreshOutcome)
	if outcome.err != nil {
		if c.cfg.OnSessionExpired != nil {
			outcome.expired.Do(c.cfg.OnSessionExpired)
		}
		return "", outcome.err
	}
	return outcome.token, nil
}

func (c *Client) requestRefresh(ctx context.Context) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, c.cfg.RefreshPath, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("refresh response carried no token")
	}
	return body.Token, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &StatusError{StatusCode: resp.StatusCode, Message: body.Message}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
