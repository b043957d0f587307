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

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/skyvern-go/skyrun/internal/cancel"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/storage"
	"github.com/skyvern-go/skyrun/internal/task"
	"github.com/skyvern-go/skyrun/internal/workflow"
	coreerrors "github.com/skyvern-go/skyrun/pkg/errors"
)

// writeJSON is one place to encode a response and log the rare encode
// failure.
func writeJSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Error("api: write json response", slog.Any("error", err))
	}
}

// errorResponse is the §6.1 REST error envelope: a stable code string
// alongside the human-readable message.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// writeErrorKind writes a response whose HTTP status is derived from
// kind's category (§6.1/§7's closed error-kind set).
func writeErrorKind(w http.ResponseWriter, kind coreerrors.Kind, message string, logger *slog.Logger) {
	writeJSON(w, httpStatusForKind(kind), errorResponse{Code: string(kind), Message: message}, logger)
}

func httpStatusForKind(kind coreerrors.Kind) int {
	switch kind {
	case coreerrors.KindValidationError, coreerrors.KindWorkflowGraphInvalid, coreerrors.KindParameterUnbound:
		return http.StatusBadRequest
	case coreerrors.KindNotFound:
		return http.StatusNotFound
	case coreerrors.KindUnauthorized:
		return http.StatusUnauthorized
	case coreerrors.KindForbidden:
		return http.StatusForbidden
	case coreerrors.KindRateLimited, coreerrors.KindOrganizationLimitExceeded:
		return http.StatusTooManyRequests
	case coreerrors.KindSessionAcquisitionTimeout, coreerrors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// signalRegistry tracks the cancel.Signal for each in-flight task or
// workflow run so a later POST /cancel can reach it (§4.9).
type signalRegistry struct {
	mu      sync.Mutex
	signals map[string]*cancel.Signal
}

func newSignalRegistry() *signalRegistry {
	return &signalRegistry{signals: make(map[string]*cancel.Signal)}
}

func (r *signalRegistry) register(id string) *cancel.Signal {
	sig := cancel.New()
	r.mu.Lock()
	r.signals[id] = sig
	r.mu.Unlock()
	return sig
}

func (r *signalRegistry) release(id string) {
	r.mu.Lock()
	delete(r.signals, id)
	r.mu.Unlock()
}

func (r *signalRegistry) get(id string) (*cancel.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.signals[id]
	return sig, ok
}

// TaskHandler implements the task_v2 REST routes (§6.1).
type TaskHandler struct {
	Store   storage.TaskStore
	Engine  *task.Engine
	Clock   clock.Clock
	Logger  *slog.Logger
	signals *signalRegistry
}

func NewTaskHandler(store storage.TaskStore, engine *task.Engine, clk clock.Clock, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{Store: store, Engine: engine, Clock: clk, Logger: logger, signals: newSignalRegistry()}
}

type createTaskRequest struct {
	URL              string         `json:"url"`
	NavigationGoal   string         `json:"navigation_goal"`
	ExtractionGoal   string         `json:"extraction_goal"`
	Payload          map[string]any `json:"payload"`
	MaxSteps         int            `json:"max_steps"`
	RetriesPerStep   int            `json:"retries_per_step"`
	StrictExtraction bool           `json:"strict_extraction"`
	WebhookURL       string         `json:"webhook_url"`
	SessionID        string         `json:"session_id"`
}

// Create starts a task and runs it in the background, returning
// immediately with its created record (§6.1: tasks are async; the
// caller polls Get or receives a webhook on completion).
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorKind(w, coreerrors.KindValidationError, "invalid request body", h.Logger)
		return
	}
	if req.SessionID == "" {
		writeErrorKind(w, coreerrors.KindValidationError, "session_id is required", h.Logger)
		return
	}

	now := h.Clock.Now()
	t := &domain.Task{
		ID:               uuid.NewString(),
		URL:              req.URL,
		NavigationGoal:   req.NavigationGoal,
		ExtractionGoal:   req.ExtractionGoal,
		Payload:          req.Payload,
		MaxSteps:         req.MaxSteps,
		RetriesPerStep:   req.RetriesPerStep,
		StrictExtraction: req.StrictExtraction,
		WebhookURL:       req.WebhookURL,
		Status:           domain.TaskCreated,
		CreatedAt:        now,
		ModifiedAt:       now,
	}
	if err := h.Store.CreateTask(r.Context(), t); err != nil {
		writeErrorKind(w, coreerrors.KindStorageError, "failed to create task", h.Logger)
		return
	}

	// Run detached from the request context: the task must keep running
	// after this handler returns the 201, well past when ServeHTTP would
	// otherwise cancel r.Context().
	created := *t
	sig := h.signals.register(t.ID)
	go func() {
		defer h.signals.release(t.ID)
		if err := h.Engine.Run(context.Background(), t, req.SessionID, sig); err != nil && h.Logger != nil {
			h.Logger.Error("api: task run failed", slog.String("task_id", t.ID), slog.Any("error", err))
		}
	}()

	writeJSON(w, http.StatusCreated, created, h.Logger)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := h.Store.GetTask(r.Context(), id)
	if err != nil || t == nil {
		writeErrorKind(w, coreerrors.KindNotFound, "task not found", h.Logger)
		return
	}
	writeJSON(w, http.StatusOK, t, h.Logger)
}

// WorkflowRunHandler implements the workflow-run REST routes (§6.1).
type WorkflowRunHandler struct {
	Workflows storage.WorkflowStore
	Runs      storage.WorkflowRunStore
	Orch      *workflow.Orchestrator
	Clock     clock.Clock
	Logger    *slog.Logger
	signals   *signalRegistry
}

func NewWorkflowRunHandler(workflows storage.WorkflowStore, runs storage.WorkflowRunStore, orch *workflow.Orchestrator, clk clock.Clock, logger *slog.Logger) *WorkflowRunHandler {
	return &WorkflowRunHandler{Workflows: workflows, Runs: runs, Orch: orch, Clock: clk, Logger: logger, signals: newSignalRegistry()}
}

type createRunRequest struct {
	Parameters map[string]any `json:"parameters"`
	WebhookURL string         `json:"webhook_url"`
}

// Create starts a workflow run in the background, the same fire-and-poll
// shape as TaskHandler.Create.
func (h *WorkflowRunHandler) Create(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflow_id")
	wf, err := h.Workflows.GetWorkflow(r.Context(), workflowID)
	if err != nil || wf == nil {
		writeErrorKind(w, coreerrors.KindNotFound, "workflow not found", h.Logger)
		return
	}

	var req createRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorKind(w, coreerrors.KindValidationError, "invalid request body", h.Logger)
			return
		}
	}

	run := &domain.WorkflowRun{
		ID:         uuid.NewString(),
		OrgID:      wf.OrgID,
		WorkflowID: wf.ID,
		Parameters: req.Parameters,
		WebhookURL: req.WebhookURL,
		Status:     domain.RunCreated,
		CreatedAt:  h.Clock.Now(),
	}
	if err := h.Runs.CreateWorkflowRun(r.Context(), run); err != nil {
		writeErrorKind(w, coreerrors.KindStorageError, "failed to create run", h.Logger)
		return
	}

	// Detached context, same reasoning as TaskHandler.Create.
	sig := h.signals.register(run.ID)
	go func() {
		defer h.signals.release(run.ID)
		if err := h.Orch.Run(context.Background(), wf, run, sig); err != nil && h.Logger != nil {
			h.Logger.Error("api: workflow run failed", slog.String("run_id", run.ID), slog.Any("error", err))
		}
	}()

	writeJSON(w, http.StatusCreated, run, h.Logger)
}

func (h *WorkflowRunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.Runs.GetWorkflowRun(r.Context(), id)
	if err != nil || run == nil {
		writeErrorKind(w, coreerrors.KindNotFound, "run not found", h.Logger)
		return
	}
	writeJSON(w, http.StatusOK, run, h.Logger)
}

// Cancel fires the run's cancel signal; the orchestrator interrupts at
// its next safe point rather than tearing down mid-block (§4.9).
func (h *WorkflowRunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sig, ok := h.signals.get(id)
	if !ok {
		writeErrorKind(w, coreerrors.KindNotFound, "run not active", h.Logger)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	sig.Fire("client requested cancel", force)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"}, h.Logger)
}
