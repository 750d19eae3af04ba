// Package httpsink delivers payloads as HTTP requests to a single endpoint.
package httpsink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/torosent/crankqueue/internal/auth"
	"github.com/torosent/crankqueue/internal/config"
	"github.com/torosent/crankqueue/internal/tracing"
)

const (
	maxErrorBodyBytes = 1024
	maxBodyReadSize   = 1024 * 1024
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Sink sends each payload as the body of one request.
type Sink struct {
	client  *http.Client
	method  string
	target  string
	headers http.Header
	ackPath string
	auth    auth.Provider
	log     *zap.SugaredLogger
}

// New validates cfg and, when a probe method is configured, checks that the
// endpoint answers before any payload is sent.
func New(ctx context.Context, cfg config.HTTPSinkConfig, concurrency int, log *zap.SugaredLogger) (*Sink, error) {
	target := strings.TrimSpace(cfg.URL)
	if target == "" {
		return nil, errors.New("target URL is required")
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	headers, err := buildHeaders(cfg.Headers)
	if err != nil {
		return nil, err
	}

	provider, err := auth.New(cfg.Auth)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		client:  newClient(cfg.Timeout, concurrency),
		method:  method,
		target:  target,
		headers: headers,
		ackPath: strings.TrimSpace(cfg.AckPath),
		auth:    provider,
		log:     log,
	}

	// Bad credentials surface at startup rather than on every send.
	if provider != nil {
		if _, err := provider.Token(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
		log.Infow("http sink authenticated", "method", cfg.Auth.Method)
	}

	if probe := strings.ToUpper(strings.TrimSpace(cfg.ProbeMethod)); probe != "" {
		if err := s.probe(ctx, probe); err != nil {
			_ = s.Close()
			return nil, err
		}
		log.Infow("http endpoint reachable", "url", target, "probe", probe)
	}
	return s, nil
}

func (s *Sink) probe(ctx context.Context, method string) error {
	req, err := http.NewRequestWithContext(ctx, method, s.target, nil)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	if s.auth != nil {
		if err := s.auth.Apply(ctx, req); err != nil {
			return fmt.Errorf("probe: %w", err)
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s %s: %w", method, s.target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyReadSize))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s %s: %w", method, s.target, &StatusError{StatusCode: resp.StatusCode})
	}
	return nil
}

func (s *Sink) Name() string { return "http" }

// Send issues one request carrying payload.
func (s *Sink) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, s.method, s.target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header = s.headers.Clone()
	if s.auth != nil {
		if err := s.auth.Apply(ctx, req); err != nil {
			return fmt.Errorf("authorize: %w", err)
		}
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, bodyErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyReadSize))
	if bodyErr != nil {
		body = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if s.ackPath != "" {
		if bodyErr != nil {
			return fmt.Errorf("read response: %w", bodyErr)
		}
		return checkAck(body, s.ackPath)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	if s.auth != nil {
		return s.auth.Close()
	}
	return nil
}
