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

package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/skyvern-go/skyrun/internal/domain"
)

// Fake is a scripted Oracle for tests (§8 seed scenarios): each call to
// Decide pops the next entry from Script, in order.
type Fake struct {
	mu        sync.Mutex
	Script    []Decision
	TextReply string
	calls     int
}

// NewFake returns a Fake that replays script in order.
func NewFake(script ...Decision) *Fake {
	return &Fake{Script: script}
}

func (f *Fake) Decide(_ context.Context, _ *domain.Task, _ *domain.Step, _ any, _ []HistoryEntry) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.Script) {
		return Decision{}, fmt.Errorf("oracle: fake script exhausted after %d calls", f.calls)
	}
	d := f.Script[f.calls]
	f.calls++
	return d, nil
}

func (f *Fake) CompleteText(_ context.Context, _ string) (string, error) {
	if f.TextReply == "" {
		return "", fmt.Errorf("oracle: fake has no TextReply configured")
	}
	return f.TextReply, nil
}

// Calls returns how many times Decide has been invoked, for assertions
// like "decision cache hit reduces oracle calls to at most 1" (§8
// scenario 6).
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ Oracle = (*Fake)(nil)
