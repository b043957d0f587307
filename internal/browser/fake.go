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

package browser

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakePage is the Page implementation used by Fake.
type FakePage struct {
	id  string
	URL string
}

func (p *FakePage) ID() string { return p.id }

// Fake is an in-memory Driver for tests: it never touches a real
// browser, and its Evaluate/Screenshot results are scripted by the
// caller before use.
type Fake struct {
	mu sync.Mutex

	launched bool
	closed   bool
	pages    map[string]*FakePage
	seq      int
	shots    int

	// EvalResults, keyed by script, returned from Evaluate.
	EvalResults map[string]any
	// Screenshots returned from Screenshot, in call order; the last
	// entry repeats once exhausted.
	Screenshots [][]byte

	// FailSelect, when true, makes SelectOption return an error, for
	// exercising the OptionNotFound path in tests.
	FailSelect bool
	// FailClick, when true, makes ClickAt return an error.
	FailClick bool

	healthy bool
}

// NewFake returns a Fake driver, healthy until told otherwise.
func NewFake() *Fake {
	return &Fake{
		pages:       make(map[string]*FakePage),
		EvalResults: make(map[string]any),
		healthy:     true,
	}
}

func (f *Fake) Launch(_ context.Context, _ LaunchConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = true
	return nil
}

func (f *Fake) NewPage(_ context.Context) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.launched {
		return nil, fmt.Errorf("browser: driver not launched")
	}
	f.seq++
	p := &FakePage{id: fmt.Sprintf("page-%d", f.seq)}
	f.pages[p.id] = p
	return p, nil
}

func (f *Fake) ClosePage(_ context.Context, page Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pages, page.ID())
	return nil
}

func (f *Fake) Goto(_ context.Context, page Page, url string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.pages[page.ID()]
	if !ok {
		return fmt.Errorf("browser: unknown page %q", page.ID())
	}
	fp.URL = url
	return nil
}

func (f *Fake) Evaluate(_ context.Context, _ Page, script string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.EvalResults[script]; ok {
		return v, nil
	}
	return nil, nil
}

func (f *Fake) Screenshot(_ context.Context, _ Page, _ ScreenshotMode) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Screenshots) == 0 {
		return []byte("fake-screenshot"), nil
	}
	idx := f.shots
	f.shots++
	if idx >= len(f.Screenshots) {
		idx = len(f.Screenshots) - 1
	}
	return f.Screenshots[idx], nil
}

func (f *Fake) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.healthy = false
	return nil
}

func (f *Fake) ClickAt(_ context.Context, _ Page, _, _ float64) error {
	if f.FailClick {
		return fmt.Errorf("browser: fake click failed")
	}
	return nil
}
func (f *Fake) TypeInto(_ context.Context, _ Page, _, _ string) error { return nil }
func (f *Fake) SelectOption(_ context.Context, _ Page, _, _ string) error {
	if f.FailSelect {
		return fmt.Errorf("browser: fake select failed")
	}
	return nil
}
func (f *Fake) ScrollBy(_ context.Context, _ Page, _, _ float64) error      { return nil }
func (f *Fake) WaitForSelector(_ context.Context, _ Page, _ string, _ time.Duration) error {
	return nil
}

func (f *Fake) ConsoleLog(_ context.Context) ([]byte, error) { return nil, nil }
func (f *Fake) HAR(_ context.Context) ([]byte, error)        { return nil, nil }
func (f *Fake) Trace(_ context.Context) ([]byte, error)      { return nil, nil }
func (f *Fake) Video(_ context.Context) ([]byte, error)      { return nil, nil }

func (f *Fake) Healthy(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

// SetHealthy lets tests simulate driver degradation for
// BrowserSessionManager.health_check recovery paths (§4.4).
func (f *Fake) SetHealthy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = v
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ Driver = (*Fake)(nil)
