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

package events

import "sync"

// Phase is one pod-lifecycle state a build driver reports.
type Phase string

const (
	PhasePending             Phase = "Pending"
	PhaseRunning             Phase = "Running"
	PhaseSucceeded           Phase = "Succeeded"
	PhaseDeleted             Phase = "Deleted"
	PhaseFailedUnrecoverable Phase = "FailedUnrecoverable"
)

// ProgressItem is the tagged union a build driver posts to a Queue: either
// a pod PhaseChange or a LogLine carrying an opaque, driver-defined record.
type ProgressItem struct {
	PhaseChange *PhaseChange
	LogLine     *LogLine
}

// PhaseChange reports a pod-lifecycle transition. Phase is kept as a plain
// string beyond the five known values so that unrecognized phases from the
// driver are forwarded rather than dropped (see internal/build's Session).
type PhaseChange struct {
	Phase Phase
}

// LogLine carries one structured build-log record. Payload is forwarded to
// the client verbatim; Phase, when present, lets the session detect a
// terminal "failure" log without a schema for the rest of the record.
type LogLine struct {
	Payload map[string]any
	Phase   string
}

// NewPhaseChange builds a ProgressItem carrying a PhaseChange.
func NewPhaseChange(phase Phase) ProgressItem {
	return ProgressItem{PhaseChange: &PhaseChange{Phase: phase}}
}

// NewLogLine builds a ProgressItem carrying a LogLine. phase is read from
// payload's "phase" key, if present and a string.
func NewLogLine(payload map[string]any) ProgressItem {
	line := &LogLine{Payload: payload}
	if p, ok := payload["phase"].(string); ok {
		line.Phase = p
	}
	return ProgressItem{LogLine: line}
}

// Queue is the single-consumer, multi-producer FIFO of ProgressItems
// connecting a Build driver to a Build Session. Multiple producers
// (pod-event watcher, log streamer) may post concurrently; order is
// preserved per producer, not across producers.
//
// Queue is backed by a buffered channel of fixed size, so it is bounded:
// Push blocks while the buffer is full, until the consumer receives.
// On top of the channel, Queue makes Close idempotent, so the consumer
// need not know how many producers are still writing.
type Queue struct {
	ch        chan ProgressItem
	closeOnce sync.Once
}

// NewQueue returns a Queue with the given buffer size. A size of 0 is a
// valid, merely synchronous, channel; callers that want true unbounded
// behavior should size generously, since a full channel would block a
// producer rather than grow.
func NewQueue(buffer int) *Queue {
	return &Queue{ch: make(chan ProgressItem, buffer)}
}

// Push enqueues an item. Pushing after Close panics, matching the
// programming error it represents (a driver writing after declaring EOF).
func (q *Queue) Push(item ProgressItem) { q.ch <- item }

// Close signals end-of-build. Idempotent: a driver may close the channel
// as well as enqueue a terminal PhaseChange without double-closing.
func (q *Queue) Close() { q.closeOnce.Do(func() { close(q.ch) }) }

// C exposes the receive side for a consumer's select loop. The channel is
// closed, never merely emptied, once the producer calls Close — a receive
// that reports !ok is end-of-build exactly like a terminal PhaseChange.
func (q *Queue) C() <-chan ProgressItem { return q.ch }
