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

// Package workpool implements the process-wide bounded concurrency limit
// build-driver submissions and log streaming run under. The pool's
// capacity is the sole admission control; there is no queue beyond it.
package workpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent execution of submitted work to a fixed capacity,
// shared across all in-flight requests.
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a Pool admitting at most size concurrent tasks.
func New(size int) *Pool {
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit blocks until a slot is free or ctx is canceled, then runs fn in
// its own goroutine, releasing the slot when fn returns. Submit itself
// returns as soon as fn has been dispatched, not when it completes.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		fn(ctx)
	}()
	return nil
}

// Run blocks until a slot is free and then runs fn synchronously in the
// calling goroutine, releasing the slot when fn returns, and returns fn's
// error. The Orchestrator runs the build driver's Submit and StreamLogs
// this way, each from a goroutine of its own, so that it can act on
// Submit's error once Submit has completed.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
