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

// Package abort implements the one-shot cancellation signal shared
// between a request's Orchestrator and its Launch Session.
package abort

import "sync"

// Signal is a one-shot, idempotent flag. The Orchestrator is the only
// creator; either the Orchestrator (on client disconnect) or the Launch
// Session's own caller may Fire it.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// New returns an unfired Signal.
func New() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire completes the signal. Safe to call more than once or concurrently.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Fired reports whether Fire has been called.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once Fire is called, for use in select
// statements at suspension points.
func (s *Signal) Done() <-chan struct{} { return s.ch }
