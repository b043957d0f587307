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

// Package memory is an in-memory storage.Store, used by tests and by
// the daemon when no external database is configured.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/storage"
)

// Store is a goroutine-safe in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	tasks     map[string]*domain.Task
	steps     map[string][]*domain.Step // taskID -> ordered steps
	artifacts map[string][]*domain.Artifact
	artifactSeq map[string]int64 // taskID -> next sequence

	workflows map[string]*domain.Workflow
	runs      map[string]*domain.WorkflowRun
	runBlocks map[string][]*domain.WorkflowRunBlock

	sessions map[string]*domain.BrowserSession

	decisions map[string]*storage.CachedDecision
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:       make(map[string]*domain.Task),
		steps:       make(map[string][]*domain.Step),
		artifacts:   make(map[string][]*domain.Artifact),
		artifactSeq: make(map[string]int64),
		workflows:   make(map[string]*domain.Workflow),
		runs:        make(map[string]*domain.WorkflowRun),
		runBlocks:   make(map[string][]*domain.WorkflowRunBlock),
		sessions:    make(map[string]*domain.BrowserSession),
		decisions:   make(map[string]*storage.CachedDecision),
	}
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// --- TaskStore ---

func (s *Store) CreateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = clone(task)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return clone(t), nil
}

func (s *Store) UpdateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = clone(task)
	return nil
}

func (s *Store) CreateStep(_ context.Context, step *domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.TaskID] = append(s.steps[step.TaskID], clone(step))
	return nil
}

func (s *Store) UpdateStep(_ context.Context, step *domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.steps[step.TaskID]
	for i, existing := range list {
		if existing.ID == step.ID {
			list[i] = clone(step)
			return nil
		}
	}
	return nil
}

func (s *Store) ListSteps(_ context.Context, taskID string) ([]*domain.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Step, len(s.steps[taskID]))
	for i, st := range s.steps[taskID] {
		out[i] = clone(st)
	}
	return out, nil
}

// --- TaskLister ---

func (s *Store) ListTasks(_ context.Context, filter storage.TaskFilter) ([]*domain.Task, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*domain.Task
	for _, t := range s.tasks {
		if filter.OrgID != "" && t.OrgID != filter.OrgID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, t.Status) {
			continue
		}
		if filter.CreatedAfter != nil && t.CreatedAt.Before(*filter.CreatedAfter) {
			continue
		}
		if filter.CreatedBefore != nil && t.CreatedAt.After(*filter.CreatedBefore) {
			continue
		}
		if filter.TextSearch != "" && !strings.Contains(strings.ToLower(t.NavigationGoal), strings.ToLower(filter.TextSearch)) {
			continue
		}
		matches = append(matches, clone(t))
	}

	sortTasks(matches, filter.SortField, filter.SortDesc)

	limit := filter.Limit
	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}
	return matches[:limit], "", nil
}

func containsStatus(set []domain.TaskStatus, s domain.TaskStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func sortTasks(tasks []*domain.Task, field string, desc bool) {
	less := func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		var cmp bool
		switch field {
		case "modified_at":
			cmp = a.ModifiedAt.Before(b.ModifiedAt)
		case "status":
			cmp = a.Status < b.Status
		case "url":
			cmp = a.URL < b.URL
		case "completed_at":
			cmp = completedAtBefore(a.CompletedAt, b.CompletedAt)
		default:
			cmp = a.CreatedAt.Before(b.CreatedAt)
		}
		if desc {
			return !cmp
		}
		return cmp
	}
	sort.SliceStable(tasks, less)
}

func completedAtBefore(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

// --- ArtifactStore ---

func (s *Store) CreateArtifact(_ context.Context, artifact *domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifactSeq[artifact.TaskID]++
	artifact.Sequence = s.artifactSeq[artifact.TaskID]
	s.artifacts[artifact.TaskID] = append(s.artifacts[artifact.TaskID], clone(artifact))
	return nil
}

func (s *Store) ListArtifacts(_ context.Context, taskID, stepID string) ([]*domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Artifact
	for _, a := range s.artifacts[taskID] {
		if stepID != "" && a.StepID != stepID {
			continue
		}
		out = append(out, clone(a))
	}
	return out, nil
}

// --- WorkflowStore ---

func (s *Store) CreateWorkflow(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = clone(wf)
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, id string) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	return clone(wf), nil
}

// --- WorkflowRunStore ---

func (s *Store) CreateWorkflowRun(_ context.Context, run *domain.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = clone(run)
	return nil
}

func (s *Store) GetWorkflowRun(_ context.Context, id string) (*domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return clone(r), nil
}

func (s *Store) UpdateWorkflowRun(_ context.Context, run *domain.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = clone(run)
	return nil
}

func (s *Store) CreateRunBlock(_ context.Context, block *domain.WorkflowRunBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runBlocks[block.RunID] = append(s.runBlocks[block.RunID], clone(block))
	return nil
}

func (s *Store) UpdateRunBlock(_ context.Context, block *domain.WorkflowRunBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.runBlocks[block.RunID]
	for i, existing := range list {
		if existing.ID == block.ID {
			list[i] = clone(block)
			return nil
		}
	}
	return nil
}

func (s *Store) ListRunBlocks(_ context.Context, runID string) ([]*domain.WorkflowRunBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.WorkflowRunBlock, len(s.runBlocks[runID]))
	for i, b := range s.runBlocks[runID] {
		out[i] = clone(b)
	}
	return out, nil
}

// --- SessionStore ---

func (s *Store) UpsertSession(_ context.Context, session *domain.BrowserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = clone(session)
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*domain.BrowserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return clone(sess), nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) ListPersistentSessions(_ context.Context, orgID string) ([]*domain.BrowserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.BrowserSession
	for _, sess := range s.sessions {
		if sess.Scope == domain.ScopePersistent && (orgID == "" || sess.OrgID == orgID) {
			out = append(out, clone(sess))
		}
	}
	return out, nil
}

// --- DecisionCacheStore ---

func decisionKey(urlPattern, goal string, stepOrder int) string {
	return urlPattern + "\x00" + goal + "\x00" + itoa(stepOrder)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func (s *Store) GetCachedDecision(_ context.Context, urlPattern, goal string, stepOrder int) (*storage.CachedDecision, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[decisionKey(urlPattern, goal, stepOrder)]
	if !ok {
		return nil, false, nil
	}
	cp := *d
	return &cp, true, nil
}

func (s *Store) PutCachedDecision(_ context.Context, decision *storage.CachedDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *decision
	s.decisions[decisionKey(decision.URLPattern, decision.Goal, decision.StepOrder)] = &cp
	return nil
}

var _ storage.Store = (*Store)(nil)
