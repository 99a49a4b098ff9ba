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
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forge-build/shipyard/internal/events"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (r *recordingSink) Emit(event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := event.(map[string]any); ok {
		r.frames = append(r.frames, m)
	}
	return nil
}

func (r *recordingSink) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var got []string
	for _, f := range r.frames {
		if p, ok := f["phase"].(string); ok {
			got = append(got, p)
		}
	}
	return got
}

var _ = Describe("Session", func() {
	It("reaches StateBuilt and starts logging on the Running transition", func() {
		q := events.NewQueue(8)
		sink := &recordingSink{}
		var loggingStarted bool
		sess := NewSession(q, sink, "registry/example:abc123", func(ctx context.Context) {
			loggingStarted = true
		})

		go func() {
			q.Push(events.NewPhaseChange(events.PhasePending))
			q.Push(events.NewPhaseChange(events.PhaseRunning))
			q.Push(events.NewLogLine(map[string]any{"message": "building layer"}))
			q.Push(events.NewPhaseChange(events.PhaseSucceeded))
			q.Push(events.NewPhaseChange(events.PhaseDeleted))
		}()

		outcome := sess.Run(context.Background())
		Expect(outcome.State).To(Equal(StateBuilt))
		Expect(loggingStarted).To(BeTrue())
		phases := sink.phases()
		Expect(phases).NotTo(BeEmpty())
		Expect(phases[len(phases)-1]).To(Equal("built"))
	})

	It("fails when a log line carries a failure payload", func() {
		q := events.NewQueue(8)
		sink := &recordingSink{}
		sess := NewSession(q, sink, "registry/example:abc123", nil)

		go func() {
			q.Push(events.NewPhaseChange(events.PhasePending))
			q.Push(events.NewPhaseChange(events.PhaseRunning))
			q.Push(events.NewLogLine(map[string]any{"phase": "failure", "message": "build step failed"}))
		}()

		outcome := sess.Run(context.Background())
		Expect(outcome.State).To(Equal(StateFailed))
		Expect(outcome.FailurePayload["message"]).To(Equal("build step failed"))
	})

	It("fails on an unrecoverable phase change", func() {
		q := events.NewQueue(8)
		sink := &recordingSink{}
		sess := NewSession(q, sink, "registry/example:abc123", nil)

		go func() {
			q.Push(events.NewPhaseChange(events.PhasePending))
			q.Push(events.NewPhaseChange(events.PhaseFailedUnrecoverable))
		}()

		outcome := sess.Run(context.Background())
		Expect(outcome.State).To(Equal(StateFailed))
	})

	It("forwards an unrecognized phase without treating it as terminal", func() {
		q := events.NewQueue(8)
		sink := &recordingSink{}
		sess := NewSession(q, sink, "registry/example:abc123", nil)

		go func() {
			q.Push(events.NewPhaseChange(events.Phase("Evicted")))
			q.Push(events.NewPhaseChange(events.PhaseDeleted))
		}()

		outcome := sess.Run(context.Background())
		Expect(outcome.State).To(Equal(StateBuilt))
		phases := sink.phases()
		Expect(len(phases)).To(BeNumerically(">=", 2))
		Expect(phases[0]).To(Equal("Evicted"))
	})

	It("fails when the context is cancelled mid-run", func() {
		q := events.NewQueue(8)
		sink := &recordingSink{}
		sess := NewSession(q, sink, "registry/example:abc123", nil)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		outcome := sess.Run(ctx)
		Expect(outcome.State).To(Equal(StateFailed))
	})

	It("records a non-negative build latency on success", func() {
		q := events.NewQueue(8)
		sink := &recordingSink{}
		var recorded time.Duration
		sess := NewSession(q, sink, "img", nil)
		sess.OnBuilt = func(d time.Duration) { recorded = d }

		q.Push(events.NewPhaseChange(events.PhaseDeleted))
		sess.Run(context.Background())

		Expect(recorded).To(BeNumerically(">=", 0))
	})
})
