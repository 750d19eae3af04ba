package auth

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/torosent/crankqueue/internal/config"
)

const tokenRequestTimeout = 30 * time.Second

// OAuth2 fetches access tokens from a token endpoint and reuses each one
// until RefreshBefore ahead of its expiry. Concurrent callers that find the
// token expired wait on a single fetch.
type OAuth2 struct {
	source oauth2.TokenSource
	client *http.Client
}

type fetchFunc func() (*oauth2.Token, error)

func (f fetchFunc) Token() (*oauth2.Token, error) { return f() }

// NewClientCredentials uses the client credentials grant. Credentials are
// sent with HTTP basic auth.
func NewClientCredentials(cfg config.AuthConfig) *OAuth2 {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return newOAuth2(cfg, func(ctx context.Context) (*oauth2.Token, error) {
		return cc.Token(ctx)
	})
}

// NewPassword uses the resource owner password grant.
func NewPassword(cfg config.AuthConfig) *OAuth2 {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	return newOAuth2(cfg, func(ctx context.Context) (*oauth2.Token, error) {
		return oc.PasswordCredentialsToken(ctx, cfg.Username, cfg.Password)
	})
}

func newOAuth2(cfg config.AuthConfig, fetch func(context.Context) (*oauth2.Token, error)) *OAuth2 {
	client := &http.Client{Timeout: tokenRequestTimeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	src := fetchFunc(func() (*oauth2.Token, error) { return fetch(ctx) })
	return &OAuth2{
		source: oauth2.ReuseTokenSourceWithExpiry(nil, src, cfg.RefreshBefore),
		client: client,
	}
}

func (p *OAuth2) Token(context.Context) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (p *OAuth2) Apply(_ context.Context, req *http.Request) error {
	tok, err := p.source.Token()
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

func (p *OAuth2) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
