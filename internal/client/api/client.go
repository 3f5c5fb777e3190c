// Package api is the HTTP client for the auth server. It translates the
// wire contract into Go types and the server's status codes back into the
// shared error taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/akarpov87/schoolauth/internal/common"
)

// User is the profile part of an auth response.
type User struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	FullName  string   `json:"fullName"`
	Roles     []string `json:"roles"`
}

// AuthResponse is the token pair returned by login, register and refresh.
// Lifetimes are in seconds.
type AuthResponse struct {
	AccessToken           string `json:"accessToken"`
	RefreshToken          string `json:"refreshToken"`
	ExpiresIn             int    `json:"expiresIn"`
	RefreshTokenExpiresIn int    `json:"refreshTokenExpiresIn"`
	TokenType             string `json:"tokenType"`
	User                  User   `json:"user"`
}

// Session is one live session as reported by the server.
type Session struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"deviceName"`
	IPAddress  string    `json:"ipAddress"`
	LastActive time.Time `json:"lastActive"`
	IsCurrent  bool      `json:"isCurrent"`
	ExpiryDate time.Time `json:"expiryDate"`
}

// RegisterRequest is the input for creating an account.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Client calls the auth server over HTTP. Every method takes a context and
// honors the configured per-request timeout.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewClient constructs a Client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string, rememberMe bool) (*AuthResponse, error) {
	var res AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", "", map[string]any{
		"username":   username,
		"password":   password,
		"rememberMe": rememberMe,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Register creates an account and returns the auto-login token pair.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var res AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", "", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Refresh rotates the refresh token. The access token may be expired.
func (c *Client) Refresh(ctx context.Context, accessToken, refreshToken string) (*AuthResponse, error) {
	var res AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]any{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Logout revokes sessions at the given scope.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken, scope string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", accessToken, map[string]any{
		"refreshToken": refreshToken,
		"scope":        scope,
	}, nil)
}

// Sessions lists the caller's live sessions.
func (c *Client) Sessions(ctx context.Context, accessToken string) ([]Session, error) {
	var res []Session
	if err := c.do(ctx, http.MethodGet, "/api/auth/sessions", accessToken, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// RevokeSession revokes one session by id.
func (c *Client) RevokeSession(ctx context.Context, accessToken, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/auth/sessions/"+sessionID, accessToken, nil, nil)
}

// ChangePassword updates the password; the server logs out all devices.
func (c *Client) ChangePassword(ctx context.Context, accessToken, current, newPassword string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/change-password", accessToken, map[string]any{
		"currentPassword": current,
		"newPassword":     newPassword,
		"confirmPassword": newPassword,
	}, nil)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return common.Internalf("request encoding failed").WithCause(err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return common.Internalf("request build failed").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return common.Internalf("request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errorFromResponse(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return common.Internalf("response decoding failed").WithCause(err)
	}
	return nil
}

func errorFromResponse(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return common.Unauthorizedf("%s", msg)
	case http.StatusBadRequest:
		return common.BadRequestf("%s", msg)
	case http.StatusNotFound:
		return common.NotFoundf("%s", msg)
	case http.StatusConflict:
		return common.Conflictf("%s", msg)
	default:
		return common.Internalf("server error: %d %s", resp.StatusCode, msg)
	}
}
