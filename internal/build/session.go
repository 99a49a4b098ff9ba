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

package build

import (
	"context"
	"time"

	"github.com/forge-build/shipyard/internal/events"
)

// State is a Build Session's position in its waiting -> building ->
// built/failed state machine.
type State string

const (
	StateWaiting  State = "waiting"
	StateBuilding State = "building"
	StateBuilt    State = "built"
	StateFailed   State = "failed"
)

// Outcome is what a Session run produced: its terminal state and, on
// failure, the failure payload (the frame forwarded to the client, or
// {"phase": "aborted"} when ctx is canceled).
type Outcome struct {
	State         State
	FailurePayload map[string]any
}

// StartLogStream is called once, the moment the session transitions from
// Waiting to Building, so the driver's log tailer only ever runs after
// there is a container to tail.
type StartLogStream func(ctx context.Context)

// Session drives one build to completion, translating ProgressItems from
// the queue into event-stream frames and recording latency observations.
// It holds no reference to the driver beyond the StartLogStream callback:
// Submit and StreamLogs both run on the caller's worker pool, Session only
// consumes what they post.
type Session struct {
	Queue     *events.Queue
	Sink      interface{ Emit(any) error }
	ImageName string

	OnBuilt      func(latency time.Duration)
	OnFailed     func(latency time.Duration)
	StartLogging StartLogStream

	state          State
	startedLogging bool
	startTime      time.Time
}

// NewSession constructs a Session ready to Run.
func NewSession(q *events.Queue, sink interface{ Emit(any) error }, imageName string, startLogging StartLogStream) *Session {
	return &Session{
		Queue:        q,
		Sink:         sink,
		ImageName:    imageName,
		StartLogging: startLogging,
		state:        StateWaiting,
	}
}

// Run consumes the Progress Channel until a terminal state is reached or
// ctx is canceled. It returns the terminal Outcome; emit failures are
// swallowed here (the Orchestrator already treats a closed sink as
// cancellation and stops driving the session) rather than turned into a
// second error path.
func (s *Session) Run(ctx context.Context) Outcome {
	s.startTime = time.Now()

	for {
		select {
		case <-ctx.Done():
			return Outcome{State: StateFailed, FailurePayload: map[string]any{"phase": "aborted"}}
		case item, ok := <-s.Queue.C():
			if !ok {
				return Outcome{State: StateBuilt}
			}
			if outcome, done := s.handle(ctx, item); done {
				return outcome
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, item events.ProgressItem) (Outcome, bool) {
	switch {
	case item.PhaseChange != nil:
		return s.handlePhaseChange(ctx, item.PhaseChange)
	case item.LogLine != nil:
		return s.handleLogLine(item.LogLine)
	}
	return Outcome{}, false
}

func (s *Session) handlePhaseChange(ctx context.Context, pc *events.PhaseChange) (Outcome, bool) {
	switch pc.Phase {
	case events.PhasePending:
		return Outcome{}, false
	case events.PhaseRunning:
		if s.state == StateWaiting {
			s.state = StateBuilding
			s.beginLogging(ctx)
		}
		return Outcome{}, false
	case events.PhaseSucceeded:
		if s.state == StateWaiting {
			s.state = StateBuilding
		}
		return Outcome{}, false
	case events.PhaseDeleted:
		_ = s.Sink.Emit(map[string]any{
			"phase":     "built",
			"imageName": s.ImageName,
			"message":   "Built image\n",
		})
		s.recordBuilt()
		return Outcome{State: StateBuilt}, true
	case events.PhaseFailedUnrecoverable:
		payload := map[string]any{"phase": string(pc.Phase)}
		_ = s.Sink.Emit(payload)
		s.recordFailed()
		return Outcome{State: StateFailed, FailurePayload: payload}, true
	default:
		// unrecognized phase strings are forwarded and do not terminate
		// the session.
		_ = s.Sink.Emit(map[string]any{"phase": string(pc.Phase)})
		return Outcome{}, false
	}
}

func (s *Session) handleLogLine(line *events.LogLine) (Outcome, bool) {
	_ = s.Sink.Emit(line.Payload)
	if line.Phase == "failure" {
		s.recordFailed()
		return Outcome{State: StateFailed, FailurePayload: line.Payload}, true
	}
	return Outcome{}, false
}

func (s *Session) beginLogging(ctx context.Context) {
	if s.startedLogging || s.StartLogging == nil {
		return
	}
	s.startedLogging = true
	s.StartLogging(ctx)
}

func (s *Session) recordBuilt() {
	s.state = StateBuilt
	if s.OnBuilt != nil {
		s.OnBuilt(time.Since(s.startTime))
	}
}

func (s *Session) recordFailed() {
	s.state = StateFailed
	if s.OnFailed != nil {
		s.OnFailed(time.Since(s.startTime))
	}
}
