// Package auth supplies credentials for outbound sink requests.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/torosent/crankqueue/internal/config"
)

// Provider authorizes outbound requests.
type Provider interface {
	// Token returns a usable access token, fetching or refreshing it when
	// the cached one has expired.
	Token(ctx context.Context) (string, error)

	// Apply sets the Authorization header on req.
	Apply(ctx context.Context, req *http.Request) error

	Close() error
}

// New builds the provider selected by cfg. It returns nil when no
// authentication is configured.
func New(cfg config.AuthConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Method)) {
	case "", config.AuthNone:
		return nil, nil
	case config.AuthBearer:
		return NewStatic(cfg.Token), nil
	case config.AuthClientCredentials:
		return NewClientCredentials(cfg), nil
	case config.AuthPassword:
		return NewPassword(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported auth method %q", cfg.Method)
	}
}

func setBearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}
