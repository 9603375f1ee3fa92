// Package client talks to the auth API and keeps the caller's session,
// refreshing the access token once when a request is rejected.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrSessionExpired = errors.New("session expired, log in again")
)

// APIError is a non-2xx answer carrying the server's error code.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: %s (status %d)", e.Code, e.Status)
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Client struct {
	baseURL string
	http    *http.Client
	store   TokenStore

	// refreshMu keeps concurrent requests from refreshing in parallel.
	refreshMu sync.Mutex
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL string, store TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		store:   store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the stored session, or nil when logged out.
func (c *Client) Session() (*Session, error) {
	return c.store.Load()
}

// Register creates an account and returns its role. It does not log in.
func (c *Client) Register(ctx context.Context, email string, password string) (string, error) {
	var out struct {
		Role string `json:"role"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/auth/register", body, "", &out); err != nil {
		return "", err
	}
	return out.Role, nil
}

func (c *Client) Login(ctx context.Context, email string, password string) (Session, error) {
	var session Session
	body := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/auth/login", body, "", &session); err != nil {
		return Session{}, err
	}
	if err := c.store.Save(session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Logout clears the local session, then asks the server to revoke the
// refresh token. Only a failure to clear local state is returned.
func (c *Client) Logout(ctx context.Context) error {
	session, err := c.store.Load()
	if err != nil {
		return err
	}
	if err := c.store.Clear(); err != nil {
		return err
	}
	if session == nil || session.RefreshToken == "" {
		return nil
	}

	body := map[string]string{"refreshToken": session.RefreshToken}
	_ = c.call(ctx, http.MethodPost, "/auth/logout", body, "", nil)
	return nil
}

// Refresh exchanges the stored refresh token for a new access token.
// A rejected refresh token clears the session and yields ErrSessionExpired.
func (c *Client) Refresh(ctx context.Context) error {
	session, err := c.store.Load()
	if err != nil {
		return err
	}
	if session == nil || session.RefreshToken == "" {
		return ErrNotLoggedIn
	}
	return c.refresh(ctx, session.AccessToken)
}

// refresh is skipped when the stored access token no longer matches stale,
// meaning another request already refreshed it.
func (c *Client) refresh(ctx context.Context, stale string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	session, err := c.store.Load()
	if err != nil {
		return err
	}
	if session == nil || session.RefreshToken == "" {
		return ErrSessionExpired
	}
	if session.AccessToken != stale {
		return nil
	}

	var out struct {
		AccessToken string `json:"accessToken"`
	}
	body := map[string]string{"refreshToken": session.RefreshToken}
	if err := c.call(ctx, http.MethodPost, "/auth/refresh", body, "", &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			if clearErr := c.store.Clear(); clearErr != nil {
				return clearErr
			}
			return fmt.Errorf("%w: %s", ErrSessionExpired, apiErr.Code)
		}
		return err
	}

	session.AccessToken = out.AccessToken
	return c.store.Save(*session)
}

// Do sends an authenticated request. On 401 it refreshes once and retries
// once; out, when non-nil, receives the decoded JSON response.
func (c *Client) Do(ctx context.Context, method string, path string, body any, out any) error {
	session, err := c.store.Load()
	if err != nil {
		return err
	}
	access := ""
	if session != nil {
		access = session.AccessToken
	}

	err = c.call(ctx, method, path, body, access, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || session == nil {
		return err
	}

	if err := c.refresh(ctx, access); err != nil {
		return err
	}
	session, err = c.store.Load()
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionExpired
	}
	return c.call(ctx, method, path, body, session.AccessToken, out)
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.Do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return User{}, err
	}
	return out.User, nil
}

func (c *Client) call(ctx context.Context, method string, path string, body any, access string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Code: payload.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
