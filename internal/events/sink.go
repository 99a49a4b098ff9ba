/*
Copyright 2024 The Forge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package events implements the server-sent-event sink a request's client
// connection is driven through, and the typed progress queue a build
// driver reports into.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forge-build/shipyard/internal/shiperrors"
)

// Sink writes newline-delimited data: <json>\n\n frames to a single HTTP
// response body and is the sole observer of client disconnection: once a
// write fails, Closed reports true for the rest of the request.
//
// Sink is safe for concurrent Emit, SendError and Keepalive calls; the keepalive loop and the
// orchestrator's own emits race on the same underlying writer.
type Sink struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	flush  http.Flusher
	closed atomic.Bool
}

// NewSink prepares w for an event-stream response. It sets the headers
// BinderHub clients (and the spec's own scenarios) expect: a 200 is written
// immediately so that failures after this point must be conveyed as frames,
// never as a different status code.
func NewSink(w http.ResponseWriter) (*Sink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("events: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Sink{w: w, flush: flusher}, nil
}

// Closed reports whether a prior write observed the client gone.
func (s *Sink) Closed() bool { return s.closed.Load() }

// Emit serializes event as JSON and writes one data frame. event may also
// be a pre-serialized json.RawMessage or string, written verbatim.
//
// Emit returns shiperrors.ErrStreamClosed once Closed is true, and never
// attempts a write afterward; invariant 5 (no events after a closed sink)
// holds because every caller treats that error as terminal.
func (s *Sink) Emit(event any) error {
	if s.closed.Load() {
		return shiperrors.New(shiperrors.StreamClosed, "event stream already closed")
	}

	payload, err := marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal frame: %w", err)
	}
	return s.writeFrame(append([]byte("data: "), append(payload, '\n', '\n')...))
}

// SendError emits one failed frame carrying status and message, then marks
// the sink closed; it is safe to call with no suspension, e.g. from a
// deferred recover.
func (s *Sink) SendError(status int, message string) {
	_ = s.Emit(map[string]any{
		"phase":       "failed",
		"status_code": status,
		"message":     message,
	})
	s.closed.Store(true)
}

// keepaliveComment is the comment frame written on the keepalive cadence.
var keepaliveComment = []byte(":keepalive\n\n")

// Keepalive writes a comment frame on the given interval until stop is
// closed or the sink observes the stream closed. It is meant to run in
// its own goroutine, concurrently with the orchestrator driving Emit.
func (s *Sink) Keepalive(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.closed.Load() {
				return
			}
			if err := s.writeFrame(keepaliveComment); err != nil {
				return
			}
		}
	}
}

func (s *Sink) writeFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return shiperrors.New(shiperrors.StreamClosed, "event stream already closed")
	}
	if _, err := s.w.Write(frame); err != nil {
		s.closed.Store(true)
		return shiperrors.Wrap(shiperrors.StreamClosed, err, "write to event stream")
	}
	s.flush.Flush()
	return nil
}

func marshal(event any) ([]byte, error) {
	switch v := event.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
