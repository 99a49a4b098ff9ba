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

// Package httpapi wires the external HTTP surface: the build-and-launch
// SSE endpoint, a liveness probe, and the request-scoped plumbing that
// turns one inbound connection into an orchestrator.Request.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/forge-build/shipyard/internal/config"
	"github.com/forge-build/shipyard/internal/events"
	"github.com/forge-build/shipyard/internal/orchestrator"
)

// NewRouter builds the chi router serving the build endpoint and a liveness
// probe. CORS is permissive on GET, matching a browser client opening an
// EventSource against an arbitrary origin.
func NewRouter(orch *orchestrator.Orchestrator, cfg *config.Config, log logr.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/build/{provider_prefix}/*", buildHandler(orch, cfg, log))

	return r
}

func buildHandler(orch *orchestrator.Orchestrator, cfg *config.Config, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := chi.URLParam(r, "provider_prefix")
		spec := chi.URLParam(r, "*")
		if spec == "" {
			http.Error(w, "missing spec", http.StatusBadRequest)
			return
		}

		sink, err := events.NewSink(w)
		if err != nil {
			log.Error(err, "response writer does not support streaming")
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		attemptID := uuid.New().String()
		attemptLog := log.WithValues("attempt_id", attemptID, "provider_prefix", prefix, "spec", spec)
		attemptLog.Info("build attempt started")
		defer attemptLog.Info("build attempt finished")

		stop := make(chan struct{})
		go sink.Keepalive(stop, 25*time.Second)
		defer close(stop)

		req := orchestrator.Request{
			ProviderPrefix:    prefix,
			Spec:              spec,
			DockerImagePrefix: cfg.DockerImagePrefix,
			BuildNamespace:    cfg.BuildNamespace,
			BuilderImageSpec:  cfg.BuilderImageSpec,
			PushSecret:        cfg.DockerPushSecret,
			BuildTimeout:      30 * time.Minute,
			LaunchTimeout:     cfg.LaunchTimeout(),
			UseRegistry:       cfg.UseRegistry,
		}

		orch.Run(r.Context(), sink, req)
	}
}
