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

// Package orchestrator implements the per-request controller: it resolves
// a spec, checks the registry cache, drives a Build Session and, on
// success, a Launch Session, all against one client's event stream.
package orchestrator

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/forge-build/shipyard/internal/abort"
	"github.com/forge-build/shipyard/internal/build"
	"github.com/forge-build/shipyard/internal/events"
	"github.com/forge-build/shipyard/internal/launch"
	"github.com/forge-build/shipyard/internal/metrics"
	"github.com/forge-build/shipyard/internal/naming"
	"github.com/forge-build/shipyard/internal/provider"
	"github.com/forge-build/shipyard/internal/shiperrors"
	"github.com/forge-build/shipyard/internal/workpool"
)

// Sink is the subset of events.Sink the Orchestrator drives directly.
type Sink interface {
	Emit(event any) error
	Closed() bool
}

// RegistryChecker is the cache-check collaborator: it reports whether
// imageName is already built. Any lookup error is a cache miss.
type RegistryChecker interface {
	HasManifest(ctx context.Context, imageName string) bool
}

// Request is everything the Orchestrator needs to drive one client
// through resolve -> build -> launch.
type Request struct {
	ProviderPrefix string
	Spec           string

	DockerImagePrefix string
	BuildNamespace    string
	BuilderImageSpec  string
	PushSecret        string
	BuildTimeout      time.Duration
	LaunchTimeout     time.Duration

	UseRegistry bool
}

// Orchestrator holds the process-wide collaborators that every request
// shares. Each Run call owns one request's state and event sink for that
// request's lifetime.
type Orchestrator struct {
	Providers *provider.Registry
	Registry  RegistryChecker
	Driver    build.Driver
	Pool      *workpool.Pool
	Hub       *launch.HubClient
	HubURL    string
	Log       logr.Logger
}

// Run executes the full pipeline against sink, per §4.F. It never returns
// an error: every outcome, including malformed input, is conveyed as a
// frame on sink.
func (o *Orchestrator) Run(ctx context.Context, sink Sink, req Request) {
	sig := abort.New()
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go watchDisconnect(watchCtx, sink, sig)

	factory, ok := o.Providers.Lookup(req.ProviderPrefix)
	if !ok {
		err := shiperrors.New(shiperrors.ProviderUnknown, "no provider found for prefix "+req.ProviderPrefix)
		o.emitFailed(sink, err.Error()+"\n", 0)
		return
	}

	p, err := factory(req.Spec)
	if err != nil {
		o.emitFailed(sink, shiperrors.Wrap(shiperrors.ProviderFailure, err, "construct provider").Error(), 0)
		return
	}

	ref, err := p.ResolveRef(ctx)
	if err != nil || ref == "" {
		wrapped := shiperrors.Wrap(shiperrors.ProviderFailure, err, "could not resolve ref for "+req.Spec)
		o.emitFailed(sink, wrapped.Error()+"\n", 0)
		return
	}

	buildName, err := naming.DefaultBuildName(p.BuildSlug(), ref)
	if err != nil {
		o.emitFailed(sink, err.Error(), 0)
		return
	}
	imageName := naming.ImageName(req.DockerImagePrefix, p.BuildSlug(), ref)

	if req.UseRegistry && o.Registry != nil && o.Registry.HasManifest(ctx, imageName) {
		_ = sink.Emit(map[string]any{
			"phase":     "built",
			"imageName": imageName,
			"message":   "Found built image, launching...\n",
		})
		o.launch(ctx, sink, p, imageName, req, sig)
		return
	}

	if err := o.runBuild(ctx, sink, buildName, imageName, ref, p, req); err != nil {
		return
	}

	o.launch(ctx, sink, p, imageName, req, sig)
}

// watchDisconnect polls the sink's closed flag, since it is the sole
// observer of client disconnection, and fires sig the moment it sees one
// so a running Launch Session unwinds promptly instead of waiting on its
// own next suspension point.
func watchDisconnect(ctx context.Context, sink Sink, sig *abort.Signal) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sink.Closed() {
				sig.Fire()
				return
			}
		}
	}
}

func (o *Orchestrator) runBuild(ctx context.Context, sink Sink, buildName, imageName, ref string, p provider.Provider, req Request) error {
	q := events.NewQueue(256)
	spec := build.Spec{
		Name:         buildName,
		Namespace:    req.BuildNamespace,
		GitURL:       p.RepoURL(),
		Ref:          ref,
		ImageName:    imageName,
		PushSecret:   req.PushSecret,
		BuilderImage: req.BuilderImageSpec,
		Timeout:      req.BuildTimeout,
	}

	_ = sink.Emit(map[string]any{"phase": "waiting", "message": "Starting build...\n"})

	done := metrics.TrackBuild()
	defer done()

	// Submit owns posting the terminal PhaseChange; the queue is left open
	// afterward so a concurrently running StreamLogs goroutine can still
	// post trailing log lines without racing a close.
	go func() {
		if err := o.Pool.Run(ctx, func(ctx context.Context) error {
			return o.Driver.Submit(ctx, spec, q)
		}); err != nil {
			q.Push(events.NewPhaseChange(events.PhaseFailedUnrecoverable))
		}
	}()

	session := build.NewSession(q, sink, imageName, func(ctx context.Context) {
		go func() {
			_ = o.Pool.Run(ctx, func(ctx context.Context) error {
				return o.Driver.StreamLogs(ctx, spec, q)
			})
		}()
	})
	session.OnBuilt = func(d time.Duration) { metrics.RecordBuildTime(metrics.StatusSuccess, d) }
	session.OnFailed = func(d time.Duration) { metrics.RecordBuildTime(metrics.StatusFailure, d) }

	outcome := session.Run(ctx)
	if outcome.State != build.StateBuilt {
		err := shiperrors.New(shiperrors.BuildFailure, "build driver reported a terminal failure")
		o.Log.Error(err, "build failed", "buildName", buildName, "payload", outcome.FailurePayload)
		return err
	}
	return nil
}

func (o *Orchestrator) launch(ctx context.Context, sink Sink, p provider.Provider, imageName string, req Request, sig *abort.Signal) {
	username, err := launch.UsernameFromRepo(p.RepoURL())
	if err != nil {
		o.emitFailed(sink, err.Error(), 500)
		return
	}

	_ = sink.Emit(map[string]any{"phase": "launching", "message": "Launching server...\n"})

	done := metrics.TrackLaunch()
	defer done()

	start := time.Now()
	sess := launch.NewSession(o.Hub, username, imageName, o.HubURL, sig, req.LaunchTimeout, o.Log)

	result, err := sess.Run(ctx)
	if err != nil {
		metrics.RecordLaunchTime(metrics.StatusFailure, time.Since(start))
		o.emitFailed(sink, err.Error(), 500)
		return
	}
	metrics.RecordLaunchTime(metrics.StatusSuccess, time.Since(start))

	_ = sink.Emit(map[string]any{
		"phase":   "ready",
		"message": "server running at " + result.URL + "\n",
		"url":     result.URL,
		"token":   result.Token,
	})
}

func (o *Orchestrator) emitFailed(sink Sink, message string, statusCode int) {
	frame := map[string]any{"phase": "failed", "message": message}
	if statusCode != 0 {
		frame["status_code"] = statusCode
	}
	_ = sink.Emit(frame)
}
