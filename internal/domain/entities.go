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

import "time"

// Organization is the tenant boundary; every other entity is owned by
// exactly one (§3.1).
type Organization struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Tier       RateTier  `json:"tier"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// RateTier selects the per-tenant hourly quota (§5 Rate limiting).
type RateTier string

const (
	TierFree       RateTier = "free"
	TierPro        RateTier = "pro"
	TierEnterprise RateTier = "enterprise"
)

// HourlyQuota returns the default requests-per-hour budget for the tier.
func (t RateTier) HourlyQuota() int {
	switch t {
	case TierPro:
		return 1000
	case TierEnterprise:
		return 10000
	default:
		return 100
	}
}

// TaskStatus is the closed set of task lifecycle states (§3.1).
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
	TaskTerminated TaskStatus = "terminated"
)

// Terminal reports whether the status is one a task cannot leave (§3.3).
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled, TaskTerminated:
		return true
	default:
		return false
	}
}

// Task is a single goal-directed automation (§3.1).
type Task struct {
	ID               string         `json:"id"`
	OrgID            string         `json:"org_id"`
	URL              string         `json:"url"`
	NavigationGoal    string         `json:"navigation_goal"`
	ExtractionGoal   string         `json:"extraction_goal,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	MaxSteps         int            `json:"max_steps"`
	RetriesPerStep   int            `json:"retries_per_step"`
	ProxyLocation    string         `json:"proxy_location,omitempty"`
	WebhookURL       string         `json:"webhook_url,omitempty"`
	TOTPURL          string         `json:"totp_url,omitempty"`
	StrictExtraction bool           `json:"strict_extraction"`
	MaxDuration      time.Duration  `json:"max_duration"`
	Status           TaskStatus     `json:"status"`
	FailureReason    *FailureReason `json:"failure_reason,omitempty"`
	ExtractedData    any            `json:"extracted_data,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ModifiedAt       time.Time      `json:"modified_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// FailureReason is recorded on terminal entities (§7): a stable error
// code plus a redacted short message; the original cause is never
// exposed on the wire.
type FailureReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StepStatus is the closed set of step states (§3.1).
type StepStatus string

const (
	StepCreated   StepStatus = "created"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepRetrying  StepStatus = "retrying"
	StepSkipped   StepStatus = "skipped"
)

func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// Step is one iteration of a task's loop (§3.1). Steps within a task are
// strictly monotonically ordered; for a given (task, order) only one
// step may be non-retrying (§3.3).
type Step struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	Order         int            `json:"order"`
	RetryIndex    int            `json:"retry_index"`
	Status        StepStatus     `json:"status"`
	Input         any            `json:"input,omitempty"`
	Output        any            `json:"output,omitempty"`
	GoalAchieved  *bool          `json:"goal_achieved,omitempty"`
	FailureReason *FailureReason `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ModifiedAt    time.Time      `json:"modified_at"`
}

// ArtifactKind is the closed set of artifact kinds (§3.1).
type ArtifactKind string

const (
	ArtifactScreenshotLLM    ArtifactKind = "screenshot_llm"
	ArtifactScreenshotStep   ArtifactKind = "screenshot_step"
	ArtifactScreenshotAction ArtifactKind = "screenshot_action"
	ArtifactHTMLScrape       ArtifactKind = "html_scrape"
	ArtifactElementTree      ArtifactKind = "element_tree"
	ArtifactIDToCSSMap       ArtifactKind = "id_to_css_map"
	ArtifactHAR              ArtifactKind = "har"
	ArtifactTrace            ArtifactKind = "trace"
	ArtifactConsoleLog       ArtifactKind = "console_log"
	ArtifactDownloadedFile   ArtifactKind = "downloaded_file"
	ArtifactExtractedData    ArtifactKind = "extracted_data"
	ArtifactVideo            ArtifactKind = "video"
	ArtifactLog              ArtifactKind = "log"
)

// Artifact is an immutable blob produced during execution (§3.1, §3.3).
type Artifact struct {
	ID             string       `json:"id"`
	Kind           ArtifactKind `json:"kind"`
	URI            string       `json:"uri"`
	BytesSize      int64        `json:"bytes_size,omitempty"`
	ContentType    string       `json:"content_type,omitempty"`
	TaskID         string       `json:"task_id,omitempty"`
	StepID         string       `json:"step_id,omitempty"`
	WorkflowRunID  string       `json:"workflow_run_id,omitempty"`
	RunBlockID     string       `json:"run_block_id,omitempty"`
	Sequence       int64        `json:"sequence"`
	CreatedAt      time.Time    `json:"created_at"`
}

// SessionScope is the closed set of browser session sharing scopes
// (§3.1, §4.4).
type SessionScope string

const (
	ScopeTask       SessionScope = "task"
	ScopeWorkflowRun SessionScope = "workflow_run"
	ScopePersistent SessionScope = "persistent"
)

// SessionState is the closed state-machine of a browser session (§4.4).
type SessionState string

const (
	SessionCreating SessionState = "creating"
	SessionActive   SessionState = "active"
	SessionInUse    SessionState = "in_use"
	SessionIdle     SessionState = "idle"
	SessionPaused   SessionState = "paused"
	SessionReleased SessionState = "released"
	SessionErrored  SessionState = "errored"
)

// BrowserSession is a live, reusable browser (§3.1). The in-memory
// DriverHandle is never persisted; only the identity fields are (§4.4
// Persistence).
type BrowserSession struct {
	ID             string       `json:"id"`
	OrgID          string       `json:"org_id"`
	Scope          SessionScope `json:"scope"`
	State          SessionState `json:"state"`
	RunRef         string       `json:"run_ref,omitempty"` // task id or workflow run id owning this session
	HolderTaskID   string       `json:"holder_task_id,omitempty"`
	LastActivity   time.Time    `json:"last_activity"`
	PersistentTTL  time.Duration `json:"persistent_ttl,omitempty"`
	RecoveryCount  int          `json:"recovery_count"`
	CreatedAt      time.Time    `json:"created_at"`
	ModifiedAt     time.Time    `json:"modified_at"`
}

// HealthStatus is the result of BrowserSessionManager.health_check
// (§4.4).
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)
