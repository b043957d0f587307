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

// Package storage frames the persistence layer (§6.2) as a set of
// segregated interfaces: callers depend only on the slice of storage
// behavior a component actually needs, and an in-memory implementation
// under storage/memory satisfies all of them for tests.
//
// # Interface hierarchy
//
//   - TaskStore (core): create/get/update tasks, append steps.
//   - TaskLister (optional): list/filter tasks per the REST surface (§6.1).
//   - ArtifactStore (core): append-only artifact insertion.
//   - WorkflowStore / WorkflowRunStore: workflow template and run CRUD.
//   - SessionStore: persistent BrowserSession records (§4.4 Persistence).
//   - DecisionCacheStore (optional): the decision cache (§4.5).
package storage

import (
	"context"
	"time"

	"github.com/skyvern-go/skyrun/internal/domain"
)

// TaskStore is the minimal interface a backend must implement for task
// execution (§6.2).
type TaskStore interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	UpdateTask(ctx context.Context, task *domain.Task) error

	// CreateStep appends a new step; callers must only call this when
	// task.status is non-terminal (§3.3).
	CreateStep(ctx context.Context, step *domain.Step) error
	UpdateStep(ctx context.Context, step *domain.Step) error
	ListSteps(ctx context.Context, taskID string) ([]*domain.Step, error)
}

// TaskFilter mirrors the REST list filters (§6.1).
type TaskFilter struct {
	OrgID         string
	Status        []domain.TaskStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	TextSearch    string
	SortField     string // created_at, modified_at, completed_at, status, url
	SortDesc      bool
	Cursor        string
	Limit         int
}

// TaskLister is an optional capability for listing tasks.
type TaskLister interface {
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, string, error)
}

// ArtifactStore persists immutable artifacts with a stable uri and a
// monotonic per-parent sequence (§3.3, §8).
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, artifact *domain.Artifact) error
	ListArtifacts(ctx context.Context, taskID, stepID string) ([]*domain.Artifact, error)
}

// WorkflowStore persists workflow templates (§3.1).
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
}

// WorkflowRunStore persists workflow runs and their block executions.
type WorkflowRunStore interface {
	CreateWorkflowRun(ctx context.Context, run *domain.WorkflowRun) error
	GetWorkflowRun(ctx context.Context, id string) (*domain.WorkflowRun, error)
	UpdateWorkflowRun(ctx context.Context, run *domain.WorkflowRun) error

	CreateRunBlock(ctx context.Context, block *domain.WorkflowRunBlock) error
	UpdateRunBlock(ctx context.Context, block *domain.WorkflowRunBlock) error
	ListRunBlocks(ctx context.Context, runID string) ([]*domain.WorkflowRunBlock, error)
}

// SessionStore persists BrowserSession identity records so persistent
// sessions survive process restart (§4.4 Persistence). The in-memory
// live handle is never part of this record.
type SessionStore interface {
	UpsertSession(ctx context.Context, session *domain.BrowserSession) error
	GetSession(ctx context.Context, id string) (*domain.BrowserSession, error)
	DeleteSession(ctx context.Context, id string) error
	ListPersistentSessions(ctx context.Context, orgID string) ([]*domain.BrowserSession, error)
}

// CachedDecision is one cached oracle decision, keyed by
// (url_pattern, goal, step_order) per §4.5.
type CachedDecision struct {
	URLPattern string
	Goal       string
	StepOrder  int
	Actions    []domain.Action
	CachedAt   time.Time
}

// DecisionCacheStore is the optional decision cache (§4.5, recommended
// 24h TTL per spec.md §9 Open Questions). Writes are idempotent keyed by
// (url_pattern, goal, step_order).
type DecisionCacheStore interface {
	GetCachedDecision(ctx context.Context, urlPattern, goal string, stepOrder int) (*CachedDecision, bool, error)
	PutCachedDecision(ctx context.Context, decision *CachedDecision) error
}

// Store composes every interface for a full-featured backend. New
// minimal backends may implement just TaskStore + ArtifactStore.
type Store interface {
	TaskStore
	TaskLister
	ArtifactStore
	WorkflowStore
	WorkflowRunStore
	SessionStore
	DecisionCacheStore
}
