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

// BlockKind is the closed set of workflow block kinds (§3.2).
type BlockKind string

const (
	BlockTask           BlockKind = "task"
	BlockTaskV2         BlockKind = "task_v2"
	BlockAction         BlockKind = "action"
	BlockNavigation     BlockKind = "navigation"
	BlockExtraction     BlockKind = "extraction"
	BlockLogin          BlockKind = "login"
	BlockForLoop        BlockKind = "for_loop"
	BlockValidation     BlockKind = "validation"
	BlockWait           BlockKind = "wait"
	BlockCode           BlockKind = "code"
	BlockTextPrompt     BlockKind = "text_prompt"
	BlockPDFParser      BlockKind = "pdf_parser"
	BlockFileURLParser  BlockKind = "file_url_parser"
	BlockFileUpload     BlockKind = "file_upload"
	BlockFileDownload   BlockKind = "file_download"
	BlockBlobUpload     BlockKind = "blob_upload"
	BlockBlobDownload   BlockKind = "blob_download"
	BlockSendEmail      BlockKind = "send_email"
	BlockHTTPRequest    BlockKind = "http_request"
	BlockGotoURL        BlockKind = "goto_url"
)

// taskLikeKinds invoke the TaskEngine and share the workflow's browser
// session (§4.6 table row 1).
var taskLikeKinds = map[BlockKind]bool{
	BlockTask: true, BlockTaskV2: true, BlockNavigation: true,
	BlockExtraction: true, BlockAction: true, BlockLogin: true,
}

// TaskLike reports whether this block kind invokes the TaskEngine.
func (k BlockKind) TaskLike() bool { return taskLikeKinds[k] }

// ParallelConfig enables the optional bounded-parallel for_loop variant
// (off by default per §5 and spec.md §9 Open Questions).
type ParallelConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
}

// Block is one node in a workflow definition (§3.2), modeled as a shared
// envelope plus a Kind-specific input map rather than a deep class
// hierarchy (spec.md §9 redesign note).
type Block struct {
	Label             string         `yaml:"label" json:"label"`
	Kind              BlockKind      `yaml:"kind" json:"kind"`
	ContinueOnFailure bool           `yaml:"continue_on_failure" json:"continue_on_failure"`
	MaxRetries        int            `yaml:"max_retries" json:"max_retries"`
	Strict            bool           `yaml:"strict,omitempty" json:"strict,omitempty"`
	Inputs            map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	OutputName        string         `yaml:"output_name,omitempty" json:"output_name,omitempty"`

	// Nested blocks for for_loop (§3.2: "a for_loop block contains a
	// nested block list; there is no general DAG").
	LoopOver string          `yaml:"loop_over,omitempty" json:"loop_over,omitempty"`
	Parallel *ParallelConfig `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Blocks   []Block         `yaml:"blocks,omitempty" json:"blocks,omitempty"`
}

// InputSchema declares one expected workflow parameter (§3.1 Workflow
// parameter_schema).
type InputSchema struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
	Default  any    `yaml:"default,omitempty" json:"default,omitempty"`
}

// Definition is a workflow template's block graph (§3.2).
type Definition struct {
	Blocks          []Block       `yaml:"blocks" json:"blocks"`
	ParameterSchema []InputSchema `yaml:"parameter_schema,omitempty" json:"parameter_schema,omitempty"`
}

// Workflow is a reusable template (§3.1).
type Workflow struct {
	ID                 string     `json:"id"`
	OrgID              string     `json:"org_id"`
	WorkflowPermanentID string    `json:"workflow_permanent_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Version            int        `json:"version"`
	Definition         Definition `json:"definition"`
	CreatedAt          time.Time  `json:"created_at"`
	ModifiedAt         time.Time  `json:"modified_at"`
}

// WorkflowRunStatus is the closed set of run lifecycle states.
type WorkflowRunStatus string

const (
	RunCreated   WorkflowRunStatus = "created"
	RunRunning   WorkflowRunStatus = "running"
	RunCompleted WorkflowRunStatus = "completed"
	RunFailed    WorkflowRunStatus = "failed"
	RunCanceled  WorkflowRunStatus = "canceled"
)

func (s WorkflowRunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// WorkflowRun is one execution of a (workflow, version) (§3.1).
type WorkflowRun struct {
	ID                string            `json:"id"`
	OrgID             string            `json:"org_id"`
	WorkflowID        string            `json:"workflow_id"`
	WorkflowVersion   int               `json:"workflow_version"`
	Status            WorkflowRunStatus `json:"status"`
	CurrentBlockIndex int               `json:"current_block_index"`
	Parameters        map[string]any    `json:"parameters,omitempty"`
	Outputs           map[string]any    `json:"outputs,omitempty"`
	FailureReason     *FailureReason    `json:"failure_reason,omitempty"`
	SessionID         string            `json:"session_id,omitempty"`
	WebhookURL        string            `json:"webhook_url,omitempty"`
	MaxDuration       time.Duration     `json:"max_duration"`
	CreatedAt         time.Time         `json:"created_at"`
	ModifiedAt        time.Time         `json:"modified_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// RunBlockStatus mirrors StepStatus for a block execution.
type RunBlockStatus string

const (
	RunBlockCreated   RunBlockStatus = "created"
	RunBlockRunning   RunBlockStatus = "running"
	RunBlockCompleted RunBlockStatus = "completed"
	RunBlockFailed    RunBlockStatus = "failed"
	RunBlockSkipped   RunBlockStatus = "skipped"
)

func (s RunBlockStatus) Terminal() bool {
	switch s {
	case RunBlockCompleted, RunBlockFailed, RunBlockSkipped:
		return true
	default:
		return false
	}
}

// WorkflowRunBlock is one block execution within a run (§3.1).
type WorkflowRunBlock struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	Label       string         `json:"label"`
	BlockKind   BlockKind      `json:"block_kind"`
	Status      RunBlockStatus `json:"status"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Output      any            `json:"output,omitempty"`
	Attempts    int            `json:"attempts"`
	FailureReason *FailureReason `json:"failure_reason,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
