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

package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/skyvern-go/skyrun/internal/cancel"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/storage"
	"github.com/skyvern-go/skyrun/internal/task"
	coreerrors "github.com/skyvern-go/skyrun/pkg/errors"
)

// taskDefaults supplies the task-level settings a task-like block does
// not otherwise carry in its rendered params (§4.6 row 1: "block-
// rendered task params").
type taskDefaults struct {
	MaxSteps         int
	RetriesPerStep   int
	StrictExtraction bool
}

// taskBridge implements block.TaskRunner by building a domain.Task from
// a block's rendered params and driving it through TaskEngine, sharing
// the workflow run's session. The session id is mutated per block by
// the orchestrator rather than fixed at construction, since block.Runtime
// is built once per run but Execute is called once per block.
type taskBridge struct {
	mu        sync.Mutex
	engine    *task.Engine
	store     storage.TaskStore
	orgID     string
	sessionID string
	clock     clock.Clock
	cancel    *cancel.Signal
	defaults  taskDefaults
}

func (b *taskBridge) setSession(id string) {
	b.mu.Lock()
	b.sessionID = id
	b.mu.Unlock()
}

// RunBlockTask satisfies block.TaskRunner (§4.6 row 1).
func (b *taskBridge) RunBlockTask(ctx context.Context, kind domain.BlockKind, params map[string]any) (any, string, error) {
	b.mu.Lock()
	sessionID := b.sessionID
	b.mu.Unlock()
	if sessionID == "" {
		return nil, "", fmt.Errorf("workflow: %s block requires a browser session", kind)
	}

	now := b.clock.Now()
	t := &domain.Task{
		ID:               uuid.NewString(),
		OrgID:            b.orgID,
		URL:              stringField(params, "url"),
		NavigationGoal:   stringField(params, "navigation_goal"),
		ExtractionGoal:   stringField(params, "extraction_goal"),
		Payload:          params,
		MaxSteps:         intField(params, "max_steps", b.defaults.MaxSteps),
		RetriesPerStep:   intField(params, "retries_per_step", b.defaults.RetriesPerStep),
		StrictExtraction: boolField(params, "strict_extraction", b.defaults.StrictExtraction),
		Status:           domain.TaskCreated,
		CreatedAt:        now,
		ModifiedAt:       now,
	}
	if err := b.store.CreateTask(ctx, t); err != nil {
		return nil, "", fmt.Errorf("workflow: create task for block: %w", err)
	}

	if err := b.engine.Run(ctx, t, sessionID, b.cancel); err != nil {
		return nil, "", fmt.Errorf("workflow: run task block: %w", err)
	}

	if t.Status != domain.TaskCompleted {
		msg := string(t.Status)
		code := coreerrors.KindInternal
		if t.FailureReason != nil {
			msg = t.FailureReason.Message
			code = coreerrors.Kind(t.FailureReason.Code)
		}
		return nil, t.URL, coreerrors.Wrap(code, fmt.Sprintf("task block %s", kind), fmt.Errorf("%s", msg))
	}
	return t.ExtractedData, t.URL, nil
}

func stringField(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intField(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func boolField(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}
