package auth

import (
	"context"
	"net/http"
)

// ErrNotConfigured is returned by Unavailable for every call.
var ErrNotConfigured = &APIError{
	StatusCode: http.StatusServiceUnavailable,
	Code:       "not_configured",
	Message:    "authentication is not configured",
}

// Unavailable is the provider used when no authentication service is
// configured. Every sign-in fails and no session ever exists.
type Unavailable struct{}

func (Unavailable) SignInWithPassword(context.Context, string, string) (*Session, error) {
	return nil, ErrNotConfigured
}

func (Unavailable) SignUp(context.Context, string, string, map[string]any) (*Session, *User, error) {
	return nil, nil, ErrNotConfigured
}

func (Unavailable) Refresh(context.Context, string) (*Session, error) {
	return nil, ErrNotConfigured
}

func (Unavailable) GetUser(context.Context, string) (*User, error) {
	return nil, ErrNotConfigured
}

func (Unavailable) SignOut(context.Context, string) error {
	return nil
}
