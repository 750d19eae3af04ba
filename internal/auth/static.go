package auth

import (
	"context"
	"net/http"
)

// Static sends a pre-issued bearer token.
type Static struct {
	token string
}

func NewStatic(token string) *Static {
	return &Static{token: token}
}

func (s *Static) Token(context.Context) (string, error) { return s.token, nil }

func (s *Static) Apply(_ context.Context, req *http.Request) error {
	setBearer(req, s.token)
	return nil
}

func (s *Static) Close() error { return nil }
