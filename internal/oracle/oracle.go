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

// Package oracle frames the external DecisionOracle capability (§6.5):
// the AI decision-maker that maps a page snapshot to a list of actions.
// The core never inspects a prompt or response format; it only consumes
// the typed Decision this interface returns.
package oracle

import (
	"context"

	"github.com/skyvern-go/skyrun/internal/domain"
)

// Decision is what DecisionOracle.Decide returns for one step (§6.5).
type Decision struct {
	Actions    []domain.Action
	Reasoning  string
	Confidence float64
}

// HistoryEntry is one prior step shown to the oracle so it can see
// earlier attempts, including failed ones (§4.5 "Ordering & tie-breaks").
type HistoryEntry struct {
	Step   *domain.Step
	Actions []domain.Action
	Results []domain.ActionResult
}

// Oracle is the DecisionOracle capability (§6.5).
type Oracle interface {
	// Decide maps a scraped page to the actions to execute next.
	Decide(ctx context.Context, task *domain.Task, step *domain.Step, scraped any, history []HistoryEntry) (Decision, error)

	// CompleteText answers a rendered prompt for the text_prompt block
	// (§4.6).
	CompleteText(ctx context.Context, prompt string) (string, error)
}
