package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider is the hosted authentication service.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, profile map[string]any) (*Session, *User, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	GetUser(ctx context.Context, accessToken string) (*User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// APIError carries the provider's human-readable failure message.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Unauthorized reports whether the provider rejected the token itself.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// GoTrueClient talks to a GoTrue (Supabase Auth) REST endpoint.
type GoTrueClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewGoTrueClient builds a client for projectURL, e.g. https://xyz.supabase.co.
func NewGoTrueClient(projectURL, apiKey string, client *http.Client, logger *zap.Logger) *GoTrueClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoTrueClient{
		baseURL: strings.TrimRight(projectURL, "/") + "/auth/v1",
		apiKey:  apiKey,
		client:  client,
		logger:  logger.With(zap.String("component", "gotrue")),
	}
}

// SignInWithPassword exchanges email and password for a session.
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SignUp registers a user. With email confirmation enabled the provider
// returns the user without a session.
func (c *GoTrueClient) SignUp(ctx context.Context, email, password string, profile map[string]any) (*Session, *User, error) {
	body := map[string]any{"email": email, "password": password}
	if len(profile) > 0 {
		body["data"] = profile
	}

	var raw struct {
		Session
		ID           string         `json:"id"`
		Email        string         `json:"email"`
		UserMetadata map[string]any `json:"user_metadata"`
	}
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &raw); err != nil {
		return nil, nil, err
	}

	if raw.AccessToken != "" {
		session := raw.Session
		return &session, &session.User, nil
	}
	return nil, &User{ID: raw.ID, Email: raw.Email, UserMetadata: raw.UserMetadata}, nil
}

// Refresh trades a refresh token for a new session.
func (c *GoTrueClient) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetUser fetches the user behind an access token.
func (c *GoTrueClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut revokes the session behind an access token.
func (c *GoTrueClient) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

func (c *GoTrueClient) do(ctx context.Context, method, path, bearer string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode auth request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, redactQuery(path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp.StatusCode, data)
		c.logger.Debug("auth request rejected",
			zap.String("path", redactQuery(path)),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) *APIError {
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)

	apiErr := &APIError{StatusCode: status, Code: body.ErrorCode}
	for _, candidate := range []string{body.ErrorDescription, body.Msg, body.Message, body.Error} {
		if strings.TrimSpace(candidate) != "" {
			apiErr.Message = candidate
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	if apiErr.Code == "" {
		apiErr.Code = body.Error
	}
	return apiErr
}

func redactQuery(path string) string {
	if u, err := url.Parse(path); err == nil {
		return u.Path
	}
	return path
}

// IsUnauthorized reports whether err is a provider rejection of the token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}
