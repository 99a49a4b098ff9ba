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

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forge-build/shipyard/internal/build"
	"github.com/forge-build/shipyard/internal/events"
	"github.com/forge-build/shipyard/internal/launch"
	"github.com/forge-build/shipyard/internal/provider"
	"github.com/forge-build/shipyard/internal/shiperrors"
	"github.com/forge-build/shipyard/internal/workpool"
)

type testSink struct {
	mu     sync.Mutex
	frames []map[string]any
	closed bool
}

func (s *testSink) Emit(event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := event.(map[string]any); ok {
		s.frames = append(s.frames, m)
	}
	return nil
}

func (s *testSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *testSink) phases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, f := range s.frames {
		if p, ok := f["phase"].(string); ok {
			out = append(out, p)
		}
	}
	return out
}

var errRefResolution = fmt.Errorf("ref resolution failed")

type stubProvider struct {
	repoURL string
	slug    string
	ref     string
	err     error
}

func (p *stubProvider) RepoURL() string                                { return p.repoURL }
func (p *stubProvider) BuildSlug() string                              { return p.slug }
func (p *stubProvider) ResolveRef(ctx context.Context) (string, error) { return p.ref, p.err }

func newHubServer(readyImmediately bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/hub/api/users/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/server"):
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(launch.UserStatus{Server: readyImmediately})
		}
	})
	return httptest.NewServer(mux)
}

func newOrchestrator(hubSrv *httptest.Server, driver build.Driver) *Orchestrator {
	return &Orchestrator{
		Providers: provider.NewRegistry(map[string]provider.Factory{
			"gh": func(spec string) (provider.Provider, error) {
				return &stubProvider{
					repoURL: "https://github.com/a/b.git",
					slug:    "a-b",
					ref:     "deadbeef",
				}, nil
			},
		}),
		Driver: driver,
		Pool:   workpool.New(2),
		Hub:    launch.NewHubClient(hubSrv.URL, "secret"),
		HubURL: hubSrv.URL,
		Log:    logr.Discard(),
	}
}

var _ = Describe("Orchestrator", func() {
	var hubSrv *httptest.Server

	AfterEach(func() {
		if hubSrv != nil {
			hubSrv.Close()
		}
	})

	Context("with an unknown provider prefix", func() {
		It("emits exactly one failed frame naming the ProviderUnknown failure", func() {
			hubSrv = newHubServer(true)
			o := newOrchestrator(hubSrv, &build.FakeDriver{})
			sink := &testSink{}

			o.Run(context.Background(), sink, Request{ProviderPrefix: "zz", Spec: "a/b/master"})

			Expect(sink.phases()).To(Equal([]string{"failed"}))
			Expect(sink.frames[0]["message"]).To(ContainSubstring("no provider found for prefix zz"))
		})
	})

	Context("when ref resolution fails", func() {
		It("emits a failed frame naming the ProviderFailure failure", func() {
			hubSrv = newHubServer(true)
			o := newOrchestrator(hubSrv, &build.FakeDriver{})
			o.Providers = provider.NewRegistry(map[string]provider.Factory{
				"gh": func(spec string) (provider.Provider, error) {
					return &stubProvider{repoURL: "https://github.com/a/b.git", slug: "a-b", err: errRefResolution}, nil
				},
			})
			sink := &testSink{}

			o.Run(context.Background(), sink, Request{ProviderPrefix: "gh", Spec: "a/b/master"})

			Expect(sink.phases()).To(Equal([]string{"failed"}))
			Expect(sink.frames[0]["message"]).To(ContainSubstring("could not resolve ref for a/b/master"))
		})
	})

	Context("when the build succeeds", func() {
		It("streams waiting, built, launching, ready in order", func() {
			hubSrv = newHubServer(true)
			driver := &build.FakeDriver{}
			o := newOrchestrator(hubSrv, driver)
			sink := &testSink{}

			o.Run(context.Background(), sink, Request{
				ProviderPrefix:    "gh",
				Spec:              "a/b/master",
				DockerImagePrefix: "registry.example.org/shipyard/",
				BuildNamespace:    "ns",
				BuilderImageSpec:  "builder:latest",
				LaunchTimeout:     5 * time.Second,
			})

			Expect(sink.phases()).To(Equal([]string{"waiting", "built", "launching", "ready"}))
		})
	})

	Context("when the build fails", func() {
		It("never emits a launching frame", func() {
			hubSrv = newHubServer(true)
			driver := &build.FakeDriver{
				Phases: []events.Phase{events.PhasePending, events.PhaseRunning, events.PhaseFailedUnrecoverable},
			}
			o := newOrchestrator(hubSrv, driver)
			sink := &testSink{}

			o.Run(context.Background(), sink, Request{
				ProviderPrefix:    "gh",
				Spec:              "a/b/master",
				DockerImagePrefix: "registry.example.org/shipyard/",
				BuildNamespace:    "ns",
				BuilderImageSpec:  "builder:latest",
				LaunchTimeout:     5 * time.Second,
			})

			Expect(sink.phases()).NotTo(ContainElement("launching"))
		})

		It("logs the failure as a BuildFailure-kind error", func() {
			hubSrv = newHubServer(true)
			driver := &build.FakeDriver{
				Phases: []events.Phase{events.PhasePending, events.PhaseRunning, events.PhaseFailedUnrecoverable},
			}
			o := newOrchestrator(hubSrv, driver)
			sink := &testSink{}

			err := o.runBuild(context.Background(), sink, "build-1", "registry.example.org/shipyard/a-b:deadbeef", "deadbeef",
				&stubProvider{repoURL: "https://github.com/a/b.git", slug: "a-b", ref: "deadbeef"},
				Request{BuildNamespace: "ns", BuilderImageSpec: "builder:latest"})

			Expect(errors.Is(err, shiperrors.ErrBuildFailure)).To(BeTrue())
		})
	})

	Context("on a registry cache hit", func() {
		It("skips the build driver and launches directly", func() {
			hubSrv = newHubServer(true)
			driver := &recordingDriver{}
			o := newOrchestrator(hubSrv, driver)
			o.Registry = alwaysHitRegistry{}
			sink := &testSink{}

			o.Run(context.Background(), sink, Request{
				ProviderPrefix:    "gh",
				Spec:              "a/b/master",
				DockerImagePrefix: "registry.example.org/shipyard/",
				UseRegistry:       true,
				LaunchTimeout:     5 * time.Second,
			})

			Expect(driver.submitCalled).To(BeFalse())
			Expect(sink.phases()).NotTo(BeEmpty())
			Expect(sink.phases()[0]).To(Equal("built"))
		})
	})
})

type alwaysHitRegistry struct{}

func (alwaysHitRegistry) HasManifest(ctx context.Context, imageName string) bool { return true }

type recordingDriver struct {
	submitCalled bool
}

func (d *recordingDriver) Submit(ctx context.Context, spec build.Spec, q *events.Queue) error {
	d.submitCalled = true
	return nil
}

func (d *recordingDriver) StreamLogs(ctx context.Context, spec build.Spec, q *events.Queue) error {
	return nil
}
