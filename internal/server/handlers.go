package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/torosent/crankqueue/internal/errlog"
	"github.com/torosent/crankqueue/internal/latency"
	"github.com/torosent/crankqueue/internal/metrics"
)

// MessagesResponse is returned by POST /messages.
type MessagesResponse struct {
	Msg    string         `json:"msg"`
	Errors []errlog.Entry `json:"errors"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Queued         int                 `json:"queued"`
	Pending        int                 `json:"pending"`
	Inflight       int                 `json:"inflight"`
	InflightBySink map[string]int      `json:"inflight_by_sink"`
	In             int64               `json:"in"`
	Out            int64               `json:"out"`
	Enqueued       int64               `json:"enqueued"`
	Completed      int64               `json:"completed"`
	Failed         int64               `json:"failed"`
	Concurrency    int                 `json:"concurrency"`
	Errors         int                 `json:"errors"`
	Last           []errlog.Entry      `json:"last"`
	Latency        []latency.Bucket    `json:"latency"`
	Uptime         string              `json:"uptime"`
	UptimeSeconds  float64             `json:"uptime_seconds"`
	Sinks          []metrics.SinkStats `json:"sinks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// messagesRequest is the optional JSON body of POST /messages.
type messagesRequest struct {
	Count       *int `json:"count"`
	Concurrency *int `json:"concurrency"`
}

// handleMessages generates count payloads, enqueues them, optionally changes
// the concurrency limit and returns the errors recorded since the previous
// call.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	count, concurrency, err := parseMessagesRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if count > 0 {
		s.engine.Enqueue(s.generator.Batch(count)...)
	}
	if concurrency != nil {
		if _, err := s.engine.SetConcurrency(*concurrency); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	queued := s.engine.Snapshot().Queued
	writeJSON(w, http.StatusOK, MessagesResponse{
		Msg:    fmt.Sprintf("adding %d to existing batch of %d...", count, queued),
		Errors: s.cursor.Next(),
	})
}

// parseMessagesRequest reads count and concurrency from the query string,
// falling back to a JSON body. A missing count means zero.
func parseMessagesRequest(r *http.Request) (int, *int, error) {
	var body messagesRequest
	if r.Body != nil && r.ContentLength != 0 {
		data, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			return 0, nil, fmt.Errorf("read body: %w", err)
		}
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, &body); err != nil {
				return 0, nil, fmt.Errorf("invalid JSON body: %w", err)
			}
		}
	}

	q := r.URL.Query()
	count := 0
	if raw := q.Get("count"); raw != "" {
		n, err := parseNonNegative("count", raw)
		if err != nil {
			return 0, nil, err
		}
		count = n
	} else if body.Count != nil {
		if *body.Count < 0 {
			return 0, nil, errors.New("count must be a non-negative integer")
		}
		count = *body.Count
	}
	if count > maxBatch {
		return 0, nil, fmt.Errorf("count must be at most %d", maxBatch)
	}

	var concurrency *int
	if raw := q.Get("concurrency"); raw != "" {
		n, err := parseNonNegative("concurrency", raw)
		if err != nil {
			return 0, nil, err
		}
		concurrency = &n
	} else if body.Concurrency != nil {
		if *body.Concurrency < 0 {
			return 0, nil, errors.New("concurrency must be a non-negative integer")
		}
		concurrency = body.Concurrency
	}
	return count, concurrency, nil
}

func parseNonNegative(name, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.Status())
}

// Status assembles the current engine, latency and error state.
func (s *Server) Status() StatusResponse {
	snap := s.engine.Snapshot()
	errs := s.engine.Errors()
	uptime := s.now().Sub(s.started)

	resp := StatusResponse{
		Queued:         snap.Queued,
		Pending:        snap.Pending,
		Inflight:       snap.Inflight,
		InflightBySink: snap.InflightBySink,
		In:             snap.Started,
		Out:            snap.Completed,
		Enqueued:       snap.Enqueued,
		Completed:      snap.Completed,
		Failed:         snap.Failed,
		Concurrency:    snap.Concurrency,
		Errors:         errs.Len(),
		Last:           errs.Last(lastErrors),
		Latency:        s.engine.Latency().Compute(),
		Uptime:         uptime.Truncate(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
		Sinks:          []metrics.SinkStats{},
	}
	if s.collector != nil {
		resp.Sinks = s.collector.Stats()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
