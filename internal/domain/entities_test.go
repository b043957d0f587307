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

package domain

import "testing"

func TestTaskStatusTerminal(t *testing.T) {
	cases := map[TaskStatus]bool{
		TaskCreated:    false,
		TaskQueued:     false,
		TaskRunning:    false,
		TaskCompleted:  true,
		TaskFailed:     true,
		TaskCanceled:   true,
		TaskTerminated: true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestActionKindCacheable(t *testing.T) {
	cacheable := []ActionKind{ActionClick, ActionInputText, ActionWait, ActionComplete, ActionSelectOption}
	for _, k := range cacheable {
		if !k.Cacheable() {
			t.Errorf("%s should be cacheable", k)
		}
	}
	notCacheable := []ActionKind{ActionUploadFile, ActionDownloadFile, ActionExtract, ActionScroll, ActionScreenshot, ActionTerminate, ActionNull, ActionSolveCaptcha}
	for _, k := range notCacheable {
		if k.Cacheable() {
			t.Errorf("%s should not be cacheable", k)
		}
	}
}

func TestActionKindTerminal(t *testing.T) {
	if !ActionComplete.Terminal() || !ActionTerminate.Terminal() {
		t.Fatal("complete and terminate must be terminal action kinds")
	}
	if ActionClick.Terminal() {
		t.Fatal("click must not be a terminal action kind")
	}
}

func TestRateTierHourlyQuota(t *testing.T) {
	if TierFree.HourlyQuota() != 100 {
		t.Errorf("free tier quota = %d, want 100", TierFree.HourlyQuota())
	}
	if TierPro.HourlyQuota() != 1000 {
		t.Errorf("pro tier quota = %d, want 1000", TierPro.HourlyQuota())
	}
	if TierEnterprise.HourlyQuota() != 10000 {
		t.Errorf("enterprise tier quota = %d, want 10000", TierEnterprise.HourlyQuota())
	}
}

func TestNewIDsHavePrefix(t *testing.T) {
	if got := NewTaskID(); len(got) < 6 || got[:5] != "task_" {
		t.Errorf("NewTaskID() = %q, want task_ prefix", got)
	}
	if got := NewSessionID(); got[:5] != "sess_" {
		t.Errorf("NewSessionID() = %q, want sess_ prefix", got)
	}
}
