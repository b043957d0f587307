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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/oracle"
	"github.com/skyvern-go/skyrun/internal/session"
	"github.com/skyvern-go/skyrun/internal/storage/memory"
	"github.com/skyvern-go/skyrun/internal/task"
)

func fakeDriverFactory(_ context.Context, _ browser.LaunchConfig) (browser.Driver, error) {
	return browser.NewFake(), nil
}

func TestCreateTaskReturns201AndCreatedRecord(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	store := memory.New()
	mgr := session.New(store, fc, fakeDriverFactory, session.DefaultLimits())
	sess, err := mgr.Acquire(context.Background(), domain.ScopeTask, "org-1", "t")
	require.NoError(t, err)

	eng := &task.Engine{
		Store:    store,
		Sessions: mgr,
		Oracle:   oracle.NewFake(oracle.Decision{Actions: []domain.Action{{Kind: domain.ActionComplete}}}),
		Clock:    fc,
	}
	h := NewTaskHandler(store, eng, fc, nil)

	body, _ := json.Marshal(createTaskRequest{URL: "https://example.com", SessionID: sess.ID})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.TaskCreated, created.Status)
}

func TestCreateTaskRequiresSessionID(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	store := memory.New()
	h := NewTaskHandler(store, &task.Engine{Store: store, Clock: fc}, fc, nil)

	body, _ := json.Marshal(createTaskRequest{URL: "https://example.com"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskNotFoundReturns404(t *testing.T) {
	store := memory.New()
	fc := clock.NewFake(time.Unix(0, 0))
	h := NewTaskHandler(store, &task.Engine{Store: store, Clock: fc}, fc, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.Get(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelUnknownRunReturns404(t *testing.T) {
	store := memory.New()
	fc := clock.NewFake(time.Unix(0, 0))
	h := NewWorkflowRunHandler(store, store, nil, fc, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs/missing/cancel", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.Cancel(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
