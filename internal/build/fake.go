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

// FakeDriver replays a fixed PhaseChange/LogLine sequence instead of
// talking to a cluster, for the fake_build configuration flag and for
// tests exercising the orchestrator and Build Session without a
// Kubernetes API server.
type FakeDriver struct {
	// Phases is the sequence of phase changes Submit posts to the queue.
	// Defaults to Pending, Running, Succeeded, Deleted if nil.
	Phases []events.Phase
	// LogLines are posted to the queue by StreamLogs, interleaved after
	// Submit reaches Running.
	LogLines []map[string]any
	// Delay is slept between each posted item, to give session tests a
	// realistic interleaving to observe.
	Delay time.Duration
}

func (f *FakeDriver) phases() []events.Phase {
	if f.Phases != nil {
		return f.Phases
	}
	return []events.Phase{events.PhasePending, events.PhaseRunning, events.PhaseSucceeded, events.PhaseDeleted}
}

// Submit posts the configured phase sequence, sleeping Delay between each.
func (f *FakeDriver) Submit(ctx context.Context, spec Spec, q *events.Queue) error {
	for _, phase := range f.phases() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		q.Push(events.NewPhaseChange(phase))
		if f.Delay > 0 {
			time.Sleep(f.Delay)
		}
	}
	return nil
}

// StreamLogs posts the configured log lines.
func (f *FakeDriver) StreamLogs(ctx context.Context, spec Spec, q *events.Queue) error {
	for _, payload := range f.LogLines {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		q.Push(events.NewLogLine(payload))
		if f.Delay > 0 {
			time.Sleep(f.Delay)
		}
	}
	return nil
}
