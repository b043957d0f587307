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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyvern-go/skyrun/internal/blobstore"
	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/cancel"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/email"
	"github.com/skyvern-go/skyrun/internal/oracle"
	"github.com/skyvern-go/skyrun/internal/session"
	"github.com/skyvern-go/skyrun/internal/storage/memory"
	"github.com/skyvern-go/skyrun/internal/task"
	"github.com/skyvern-go/skyrun/internal/workflow/block"
)

func fakeDriverFactory(_ context.Context, _ browser.LaunchConfig) (browser.Driver, error) {
	return browser.NewFake(), nil
}

func newTestOrchestrator(t *testing.T, oracleFake *oracle.Fake) (*Orchestrator, *memory.Store, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	store := memory.New()
	mgr := session.New(store, fc, fakeDriverFactory, session.DefaultLimits())

	// The task engine's scraper and executor wait on Clock.After for the
	// page to settle, which fc only fires when advanced, so the engine
	// runs on the real clock.
	eng := &task.Engine{
		Store:    store,
		Sessions: mgr,
		Oracle:   oracleFake,
		Clock:    clock.Real{},
	}

	orch := New(Deps{
		Runs:       store,
		Tasks:      store,
		Sessions:   mgr,
		TaskEngine: eng,
		Oracle:     oracleFake,
		Blobs:      blobstore.NewMemory(),
		Email:      email.NewFake(),
		HTTP:       block.NewHTTPClient(),
		Clock:      fc,
	})
	return orch, store, fc
}

func newRun(id string) *domain.WorkflowRun {
	return &domain.WorkflowRun{ID: id, OrgID: "org-1", WorkflowID: "wf-1", Status: domain.RunCreated}
}

func TestOrchestratorRunsTaskLikeBlockAndCompletes(t *testing.T) {
	oracleFake := oracle.NewFake(oracle.Decision{
		Actions: []domain.Action{{Kind: domain.ActionComplete, ExtractedData: map[string]any{"title": "Example"}}},
	})
	orch, _, _ := newTestOrchestrator(t, oracleFake)

	wf := &domain.Workflow{
		ID: "wf-1",
		Definition: domain.Definition{
			Blocks: []domain.Block{
				{Label: "extract-title", Kind: domain.BlockExtraction, OutputName: "title_result",
					Inputs: map[string]any{"url": "https://example.com", "navigation_goal": "extract title"}},
			},
		},
	}
	run := newRun("run-1")

	require.NoError(t, orch.Run(context.Background(), wf, run, cancel.New()))
	assert.Equal(t, domain.RunCompleted, run.Status)
	require.Contains(t, run.Outputs, "title_result")
}

func TestOrchestratorContinueOnFailureAdvancesPastFailedBlock(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, oracle.NewFake())

	wf := &domain.Workflow{
		ID: "wf-2",
		Definition: domain.Definition{
			Blocks: []domain.Block{
				{Label: "bad-check", Kind: domain.BlockValidation, ContinueOnFailure: true,
					Inputs: map[string]any{"expression": "1 > 2"}},
				{Label: "good-check", Kind: domain.BlockValidation,
					Inputs: map[string]any{"expression": "1 < 2"}},
			},
		},
	}
	run := newRun("run-2")

	require.NoError(t, orch.Run(context.Background(), wf, run, cancel.New()))
	assert.Equal(t, domain.RunCompleted, run.Status)
}

func TestOrchestratorStopsOnFailureWithoutContinueOnFailure(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, oracle.NewFake())

	wf := &domain.Workflow{
		ID: "wf-3",
		Definition: domain.Definition{
			Blocks: []domain.Block{
				{Label: "bad-check", Kind: domain.BlockValidation,
					Inputs: map[string]any{"expression": "1 > 2"}},
				{Label: "unreached", Kind: domain.BlockValidation,
					Inputs: map[string]any{"expression": "1 < 2"}},
			},
		},
	}
	run := newRun("run-3")

	require.NoError(t, orch.Run(context.Background(), wf, run, cancel.New()))
	assert.Equal(t, domain.RunFailed, run.Status)
	require.NotNil(t, run.FailureReason)
}

func TestOrchestratorForLoopIteratesAndAggregatesOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	orch, _, _ := newTestOrchestrator(t, oracle.NewFake())

	wf := &domain.Workflow{
		ID: "wf-4",
		Definition: domain.Definition{
			Blocks: []domain.Block{
				{
					Label:    "for_loop",
					Kind:     domain.BlockForLoop,
					LoopOver: "items",
					Blocks: []domain.Block{
						{Label: "ping", Kind: domain.BlockHTTPRequest,
							Inputs: map[string]any{"method": "GET", "url": srv.URL + "/{{current_item}}"}},
					},
				},
			},
		},
	}
	run := newRun("run-4")
	run.Parameters = map[string]any{"items": []any{"a", "b", "c"}}

	require.NoError(t, orch.Run(context.Background(), wf, run, cancel.New()))
	assert.Equal(t, domain.RunCompleted, run.Status)
	out, ok := run.Outputs["for_loop"].([]any)
	require.True(t, ok)
	assert.Len(t, out, 3)
}

func TestOrchestratorForLoopOverEmptyArraySucceeds(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, oracle.NewFake())

	wf := &domain.Workflow{
		ID: "wf-5",
		Definition: domain.Definition{
			Blocks: []domain.Block{
				{Label: "for_loop", Kind: domain.BlockForLoop, LoopOver: "items",
					Blocks: []domain.Block{
						{Label: "noop", Kind: domain.BlockWait, Inputs: map[string]any{"seconds": 0.0}},
					}},
			},
		},
	}
	run := newRun("run-5")
	run.Parameters = map[string]any{"items": []any{}}

	require.NoError(t, orch.Run(context.Background(), wf, run, cancel.New()))
	assert.Equal(t, domain.RunCompleted, run.Status)
	out, ok := run.Outputs["for_loop"].([]any)
	require.True(t, ok)
	assert.Empty(t, out)
}

func TestOrchestratorForLoopParallelAggregatesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	orch, _, _ := newTestOrchestrator(t, oracle.NewFake())

	wf := &domain.Workflow{
		ID: "wf-8",
		Definition: domain.Definition{
			Blocks: []domain.Block{
				{
					Label:    "for_loop",
					Kind:     domain.BlockForLoop,
					LoopOver: "items",
					Parallel: &domain.ParallelConfig{MaxConcurrency: 2},
					Blocks: []domain.Block{
						{Label: "ping", Kind: domain.BlockHTTPRequest, OutputName: "ping_result",
							Inputs: map[string]any{"method": "GET", "url": srv.URL + "/{{current_item}}"}},
					},
				},
			},
		},
	}
	run := newRun("run-8")
	run.Parameters = map[string]any{"items": []any{"a", "b", "c", "d", "e"}}

	require.NoError(t, orch.Run(context.Background(), wf, run, cancel.New()))
	assert.Equal(t, domain.RunCompleted, run.Status)
	out, ok := run.Outputs["for_loop"].([]any)
	require.True(t, ok)
	assert.Len(t, out, 5)
}

func TestOrchestratorForLoopParallelStopsOnFirstFailure(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, oracle.NewFake())

	wf := &domain.Workflow{
		ID: "wf-9",
		Definition: domain.Definition{
			Blocks: []domain.Block{
				{
					Label:    "for_loop",
					Kind:     domain.BlockForLoop,
					LoopOver: "items",
					Parallel: &domain.ParallelConfig{MaxConcurrency: 3},
					Blocks: []domain.Block{
						{Label: "check", Kind: domain.BlockValidation,
							Inputs: map[string]any{"expression": "current_index != 1"}},
					},
				},
			},
		},
	}
	run := newRun("run-9")
	run.Parameters = map[string]any{"items": []any{"a", "b", "c"}}

	require.NoError(t, orch.Run(context.Background(), wf, run, cancel.New()))
	assert.Equal(t, domain.RunFailed, run.Status)
	require.NotNil(t, run.FailureReason)
}

func TestOrchestratorForLoopParallelContinueOnFailureRunsAllIterations(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, oracle.NewFake())

	wf := &domain.Workflow{
		ID: "wf-10",
		Definition: domain.Definition{
			Blocks: []domain.Block{
				{
					Label:             "for_loop",
					Kind:              domain.BlockForLoop,
					LoopOver:          "items",
					ContinueOnFailure: true,
					Parallel:          &domain.ParallelConfig{MaxConcurrency: 3},
					Blocks: []domain.Block{
						{Label: "check", Kind: domain.BlockValidation,
							Inputs: map[string]any{"expression": "current_index != 1"}},
					},
				},
			},
		},
	}
	run := newRun("run-10")
	run.Parameters = map[string]any{"items": []any{"a", "b", "c"}}

	require.NoError(t, orch.Run(context.Background(), wf, run, cancel.New()))
	assert.Equal(t, domain.RunCompleted, run.Status)
	out, ok := run.Outputs["for_loop"].([]any)
	require.True(t, ok)
	assert.Len(t, out, 3)
}

func TestOrchestratorStopsOnCancel(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, oracle.NewFake())

	wf := &domain.Workflow{
		ID: "wf-6",
		Definition: domain.Definition{
			Blocks: []domain.Block{
				{Label: "wait-a", Kind: domain.BlockWait, Inputs: map[string]any{"seconds": 0.0}},
			},
		},
	}
	run := newRun("run-6")

	sig := cancel.New()
	sig.Fire("user requested", false)

	require.NoError(t, orch.Run(context.Background(), wf, run, sig))
	assert.Equal(t, domain.RunCanceled, run.Status)
}

func TestOrchestratorRequiredParameterMissingFailsRun(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, oracle.NewFake())

	wf := &domain.Workflow{
		ID: "wf-7",
		Definition: domain.Definition{
			ParameterSchema: []domain.InputSchema{{Name: "target_url", Type: "string", Required: true}},
			Blocks: []domain.Block{
				{Label: "noop", Kind: domain.BlockWait, Inputs: map[string]any{"seconds": 0.0}},
			},
		},
	}
	run := newRun("run-7")

	require.NoError(t, orch.Run(context.Background(), wf, run, cancel.New()))
	assert.Equal(t, domain.RunFailed, run.Status)
	require.NotNil(t, run.FailureReason)
	assert.Equal(t, "PARAMETER_UNBOUND", run.FailureReason.Code)
}
