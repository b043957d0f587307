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

// ActionKind is the closed set of action kinds an oracle decision can
// produce (§3.1). Modeled as a tagged union per spec.md §9's redesign
// note rather than a class hierarchy: ActionKind selects which fields of
// Action are meaningful, and ActionExecutor dispatches with a total
// switch over Kind.
type ActionKind string

const (
	ActionClick        ActionKind = "click"
	ActionInputText    ActionKind = "input_text"
	ActionSelectOption ActionKind = "select_option"
	ActionUploadFile   ActionKind = "upload_file"
	ActionDownloadFile ActionKind = "download_file"
	ActionWait         ActionKind = "wait"
	ActionExtract      ActionKind = "extract"
	ActionScroll       ActionKind = "scroll"
	ActionScreenshot   ActionKind = "screenshot"
	ActionComplete     ActionKind = "complete"
	ActionTerminate    ActionKind = "terminate"
	ActionNull         ActionKind = "null_action"
	ActionSolveCaptcha ActionKind = "solve_captcha"
)

// cacheableKinds is the set of action kinds the decision cache may reuse
// (§4.5 "Decision-cache interaction").
var cacheableKinds = map[ActionKind]bool{
	ActionClick:        true,
	ActionInputText:    true,
	ActionWait:         true,
	ActionComplete:     true,
	ActionSelectOption: true,
}

// Cacheable reports whether actions of this kind may be served from the
// decision cache (§4.5).
func (k ActionKind) Cacheable() bool { return cacheableKinds[k] }

// Terminal reports whether an action of this kind ends the task's step
// loop (§3.3: "Exactly one action of kind complete or terminate may be
// the last action of a task's last step").
func (k ActionKind) Terminal() bool {
	return k == ActionComplete || k == ActionTerminate
}

// Coordinates is a 2D point used for synthesized click/scroll actions.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Action is what an AI decision step produced and what the executor ran
// (§3.1). All fields beyond Kind are optional and interpreted according
// to Kind; ActionExecutor.Apply does a total switch over Kind.
type Action struct {
	Kind                ActionKind   `json:"kind"`
	ElementRef          string       `json:"element_ref,omitempty"`
	ElementContentHash  string       `json:"element_content_hash,omitempty"`
	Text                string       `json:"text,omitempty"`
	Option              string       `json:"option,omitempty"`
	Coordinates         *Coordinates `json:"coordinates,omitempty"`
	Confidence          float64      `json:"confidence,omitempty"`
	Reasoning           string       `json:"reasoning,omitempty"`
	WaitSeconds         float64      `json:"wait_seconds,omitempty"`
	TerminateReason     string       `json:"terminate_reason,omitempty"`
	ExtractedData       any          `json:"extracted_data,omitempty"`
	StopOnFailure       bool         `json:"stop_execution_on_failure"`
}

// ExceptionKind identifies the failure category of a failed ActionResult.
// Values are the executor's own names (for example "ElementNotFound",
// "ClickFailed", or a terminate reason); they are not pkg/errors.Kind
// strings, which are spelled "ELEMENT_NOT_FOUND" and so on.
type ExceptionKind string

// ActionResult is what ActionExecutor.Apply returns for one Action
// (§4.3).
type ActionResult struct {
	Success             bool   `json:"success"`
	Data                any    `json:"data,omitempty"`
	ExceptionKind       ExceptionKind `json:"exception_kind,omitempty"`
	StopExecutionOnFailure bool `json:"stop_execution_on_failure"`
}
