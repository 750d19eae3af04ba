package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/torosent/crankqueue/internal/dispatch"
)

func TestFriendlyErrorName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "Unknown error"},
		{"*dispatch.TimeoutError", "Send timed out"},
		{"*httpsink.StatusError", "HTTP error response"},
		{"kafka.Error", "Kafka error"},
		{"*kafka.Error", "Kafka error"},
		{"sqlite3.Error", "SQLite error"},
		{"context.deadlineExceededError", "Context deadline exceeded"},
		{"*net.DNSError", "DNS Error (net)"},
		{"*github.com/acme/thing.BadThing", "Bad Thing (thing)"},
		{"main.oops", "Oops"},
	}
	for _, tt := range tests {
		if got := FriendlyErrorName(tt.in); got != tt.want {
			t.Errorf("FriendlyErrorName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHumanizeTypeName(t *testing.T) {
	tests := map[string]string{
		"deadlineExceededError": "Deadline Exceeded Error",
		"HTTPError":             "HTTP Error",
		"Status2":               "Status 2",
		"x":                     "X",
		"":                      "",
	}
	for in, want := range tests {
		if got := humanizeTypeName(in); got != want {
			t.Errorf("humanizeTypeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestErrorTypeNameUnwraps(t *testing.T) {
	base := &dispatch.TimeoutError{Timeout: time.Second}
	wrapped := fmt.Errorf("insert: %w", fmt.Errorf("retry: %w", base))

	if got := ErrorTypeName(wrapped); got != "*dispatch.TimeoutError" {
		t.Errorf("ErrorTypeName = %q, want *dispatch.TimeoutError", got)
	}
	if got := FriendlyErrorName(ErrorTypeName(wrapped)); got != "Send timed out" {
		t.Errorf("FriendlyErrorName = %q, want Send timed out", got)
	}
	if got := ErrorTypeName(errors.New("plain")); got != "*errors.errorString" {
		t.Errorf("ErrorTypeName(plain) = %q", got)
	}
}

func TestErrorTypeNameStopsAtKnownTransportError(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"url error", fmt.Errorf("post: %w", &url.Error{Op: "Post", URL: "http://x", Err: refused}), "*url.Error"},
		{"op error", fmt.Errorf("dial: %w", refused), "*net.OpError"},
		{"bare errno", fmt.Errorf("write: %w", syscall.EPIPE), "syscall.Errno"},
	}
	for _, tt := range tests {
		if got := ErrorTypeName(tt.err); got != tt.want {
			t.Errorf("%s: ErrorTypeName = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestErrorTypeNameRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	resp, err := http.Get("http://" + addr + "/")
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected a connection error")
	}
	if got := FriendlyErrorName(ErrorTypeName(err)); got != "Request URL error" {
		t.Errorf("FriendlyErrorName = %q, want Request URL error", got)
	}
}
