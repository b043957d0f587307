// Copyright 2025 Skyvern Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api wires the §6.1 REST surface onto a stdlib http.ServeMux:
// method-pattern routes, no third-party router.
package api

import (
	"log/slog"
	"net/http"

	"github.com/skyvern-go/skyrun/internal/metrics"
	"github.com/skyvern-go/skyrun/internal/ratelimit"
)

// Router builds the daemon's HTTP surface.
type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	tasks   *TaskHandler
	runs    *WorkflowRunHandler
	metrics *metrics.Provider
	logger  *slog.Logger
}

// NewRouter mounts task, workflow-run, health and metrics routes. auth
// and limiter are both optional (nil disables the corresponding
// middleware, which is the default for local/dev runs): when present,
// every /v1/ route is authenticated via auth before being subjected to
// limiter's per-tenant quota (§5/§6.1).
func NewRouter(tasks *TaskHandler, runs *WorkflowRunHandler, metricsProvider *metrics.Provider, auth *TenantAuthenticator, limiter *ratelimit.Limiter, logger *slog.Logger) *Router {
	r := &Router{mux: http.NewServeMux(), tasks: tasks, runs: runs, metrics: metricsProvider, logger: logger}

	// /v1/ routes carry tenant auth and quota enforcement; health and
	// metrics stay open for orchestrator probes and scrapers.
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/tasks", tasks.Create)
	api.HandleFunc("GET /v1/tasks/{id}", tasks.Get)
	api.HandleFunc("POST /v1/workflows/{workflow_id}/runs", runs.Create)
	api.HandleFunc("GET /v1/runs/{id}", runs.Get)
	api.HandleFunc("POST /v1/runs/{id}/cancel", runs.Cancel)

	var protected http.Handler = api
	protected = rateLimitMiddleware(limiter, protected)
	protected = auth.middleware(protected)
	r.mux.Handle("/v1/", protected)

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	if metricsProvider != nil {
		r.mux.Handle("GET /metrics", metricsProvider.Handler())
	}

	r.handler = r.mux
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
