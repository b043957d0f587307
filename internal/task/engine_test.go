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

package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyvern-go/skyrun/internal/blobstore"
	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/cancel"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/oracle"
	"github.com/skyvern-go/skyrun/internal/session"
	"github.com/skyvern-go/skyrun/internal/storage/memory"
)

func fakeDriverFactory(_ context.Context, _ browser.LaunchConfig) (browser.Driver, error) {
	return browser.NewFake(), nil
}

func newTestEngine(t *testing.T, oracleFake *oracle.Fake) (*Engine, string) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	mgr := session.New(memory.New(), fc, fakeDriverFactory, session.DefaultLimits())
	sess, err := mgr.Acquire(context.Background(), domain.ScopeTask, "org-1", "task-1")
	require.NoError(t, err)

	store := memory.New()
	// The scraper and executor wait on Clock.After for the page to
	// settle, which a Fake clock only fires when advanced, so the
	// engine itself runs on the real clock.
	return &Engine{
		Store:    store,
		Sessions: mgr,
		Oracle:   oracleFake,
		Clock:    clock.Real{},
	}, sess.ID
}

func TestEngineRunCompletesOnCompleteAction(t *testing.T) {
	oracleFake := oracle.NewFake(oracle.Decision{
		Actions: []domain.Action{{Kind: domain.ActionComplete, ExtractedData: map[string]any{"ok": true}}},
	})
	eng, sessionID := newTestEngine(t, oracleFake)
	tsk := &domain.Task{ID: "task-1", OrgID: "org-1", URL: "https://example.com", NavigationGoal: "finish", MaxSteps: 5, RetriesPerStep: 1}
	require.NoError(t, eng.Store.CreateTask(context.Background(), tsk))

	require.NoError(t, eng.Run(context.Background(), tsk, sessionID, cancel.New()))
	assert.Equal(t, domain.TaskCompleted, tsk.Status)
}

func TestEngineRunFailsOnTerminateAction(t *testing.T) {
	oracleFake := oracle.NewFake(oracle.Decision{
		Actions: []domain.Action{{Kind: domain.ActionTerminate, TerminateReason: "unreachable goal"}},
	})
	eng, sessionID := newTestEngine(t, oracleFake)
	tsk := &domain.Task{ID: "task-1", OrgID: "org-1", URL: "https://example.com", NavigationGoal: "finish", MaxSteps: 5, RetriesPerStep: 1}
	require.NoError(t, eng.Store.CreateTask(context.Background(), tsk))

	require.NoError(t, eng.Run(context.Background(), tsk, sessionID, cancel.New()))
	assert.Equal(t, domain.TaskFailed, tsk.Status)
	require.NotNil(t, tsk.FailureReason)
	assert.Equal(t, "Terminated", tsk.FailureReason.Code)
}

func TestEngineRunMaxStepsReached(t *testing.T) {
	oracleFake := oracle.NewFake(
		oracle.Decision{Actions: []domain.Action{{Kind: domain.ActionWait, WaitSeconds: 0}}},
		oracle.Decision{Actions: []domain.Action{{Kind: domain.ActionWait, WaitSeconds: 0}}},
	)
	eng, sessionID := newTestEngine(t, oracleFake)
	tsk := &domain.Task{ID: "task-1", OrgID: "org-1", URL: "https://example.com", NavigationGoal: "finish", MaxSteps: 2, RetriesPerStep: 0}
	require.NoError(t, eng.Store.CreateTask(context.Background(), tsk))

	require.NoError(t, eng.Run(context.Background(), tsk, sessionID, cancel.New()))
	assert.Equal(t, domain.TaskFailed, tsk.Status)
	require.NotNil(t, tsk.FailureReason)
	assert.Equal(t, "MAX_STEPS_REACHED", tsk.FailureReason.Code)
}

// TestEngineRunPersistsArtifacts drives seed scenario 1: a 3-step login
// task (input_text, then input_text+click, then complete) and checks the
// §8 testable property that every non-null action leaves a
// screenshot_action artifact behind, plus one screenshot_step artifact
// per scrape.
func TestEngineRunPersistsArtifacts(t *testing.T) {
	oracleFake := oracle.NewFake(
		oracle.Decision{Actions: []domain.Action{{Kind: domain.ActionInputText, ElementRef: "email", Text: "a@example.com"}}},
		oracle.Decision{Actions: []domain.Action{
			{Kind: domain.ActionInputText, ElementRef: "password", Text: "hunter2"},
			{Kind: domain.ActionClick, ElementRef: "submit"},
		}},
		oracle.Decision{Actions: []domain.Action{{Kind: domain.ActionComplete, ExtractedData: map[string]any{"ok": true}}}},
	)
	eng, sessionID := newTestEngine(t, oracleFake)
	artifactStore := memory.New()
	eng.Artifacts = artifactStore
	eng.Blobs = blobstore.NewMemory()

	tsk := &domain.Task{ID: "task-1", OrgID: "org-1", URL: "https://example.com", NavigationGoal: "log in", MaxSteps: 5, RetriesPerStep: 1}
	require.NoError(t, eng.Store.CreateTask(context.Background(), tsk))

	require.NoError(t, eng.Run(context.Background(), tsk, sessionID, cancel.New()))
	assert.Equal(t, domain.TaskCompleted, tsk.Status)

	artifacts, err := artifactStore.ListArtifacts(context.Background(), tsk.ID, "")
	require.NoError(t, err)

	var actionShots, stepShots int
	for _, a := range artifacts {
		switch a.Kind {
		case domain.ArtifactScreenshotAction:
			actionShots++
		case domain.ArtifactScreenshotStep:
			stepShots++
		}
	}
	assert.Equal(t, 4, actionShots, "one screenshot_action per non-null action across all 3 steps")
	assert.GreaterOrEqual(t, stepShots, 3, "at least one screenshot_step per step")
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	oracleFake := oracle.NewFake(
		oracle.Decision{Actions: []domain.Action{{Kind: domain.ActionWait, WaitSeconds: 0}}},
	)
	eng, sessionID := newTestEngine(t, oracleFake)
	tsk := &domain.Task{ID: "task-1", OrgID: "org-1", URL: "https://example.com", NavigationGoal: "finish", MaxSteps: 5, RetriesPerStep: 0}
	require.NoError(t, eng.Store.CreateTask(context.Background(), tsk))

	sig := cancel.New()
	sig.Fire("user requested", false)

	require.NoError(t, eng.Run(context.Background(), tsk, sessionID, sig))
	assert.Equal(t, domain.TaskCanceled, tsk.Status)
}
