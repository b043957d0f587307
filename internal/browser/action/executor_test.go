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

package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/browser/scrape"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
)

func newTestPage(t *testing.T) (*browser.Fake, browser.Page) {
	t.Helper()
	driver := browser.NewFake()
	require.NoError(t, driver.Launch(context.Background(), browser.LaunchConfig{}))
	page, err := driver.NewPage(context.Background())
	require.NoError(t, err)
	driver.EvalResults["document.documentElement.outerHTML.length"] = float64(1)
	return driver, page
}

// pumpUntilDone advances fc in small steps until the result arrives,
// avoiding a race between the goroutine's first Clock.After call and a
// single upfront Advance.
func pumpUntilDone(t *testing.T, fc *clock.Fake, done chan domain.ActionResult) domain.ActionResult {
	t.Helper()
	for i := 0; i < 50; i++ {
		select {
		case result := <-done:
			return result
		case <-time.After(5 * time.Millisecond):
			fc.Advance(500 * time.Millisecond)
		}
	}
	t.Fatal("action did not complete in time")
	return domain.ActionResult{}
}

func TestApplyClickResolvesByElementRef(t *testing.T) {
	driver, page := newTestPage(t)
	fc := clock.NewFake(time.Unix(0, 0))
	ex := New(driver, scrape.New(driver, fc), fc)

	last := &scrape.ScrapedPage{
		IDToCSS:     map[string]string{"e1": "#signin"},
		IDToElement: map[string]scrape.Element{"e1": {Width: 40, Height: 20}},
	}

	done := make(chan domain.ActionResult, 1)
	go func() {
		result, _, err := ex.Apply(context.Background(), page, last, domain.Action{Kind: domain.ActionClick, ElementRef: "e1"})
		require.NoError(t, err)
		done <- result
	}()
	result := pumpUntilDone(t, fc, done)
	assert.True(t, result.Success)
}

func TestApplyClickMissingElementFails(t *testing.T) {
	driver, page := newTestPage(t)
	fc := clock.NewFake(time.Unix(0, 0))
	ex := New(driver, scrape.New(driver, fc), fc)

	last := &scrape.ScrapedPage{IDToCSS: map[string]string{}}
	var shot []byte
	done := make(chan domain.ActionResult, 1)
	go func() {
		result, s, err := ex.Apply(context.Background(), page, last, domain.Action{Kind: domain.ActionClick, ElementRef: "missing"})
		require.NoError(t, err)
		shot = s
		done <- result
	}()
	result := pumpUntilDone(t, fc, done)
	assert.False(t, result.Success)
	assert.Equal(t, ExceptionElementNotFound, result.ExceptionKind)
	assert.NotNil(t, shot, "a failed (non-null) action still gets a post-action screenshot")
}

func TestApplyCompleteIsTerminal(t *testing.T) {
	driver, page := newTestPage(t)
	fc := clock.NewFake(time.Unix(0, 0))
	ex := New(driver, scrape.New(driver, fc), fc)

	var shot []byte
	done := make(chan domain.ActionResult, 1)
	go func() {
		result, s, err := ex.Apply(context.Background(), page, nil, domain.Action{Kind: domain.ActionComplete, ExtractedData: map[string]any{"ok": true}})
		require.NoError(t, err)
		shot = s
		done <- result
	}()
	result := pumpUntilDone(t, fc, done)
	assert.True(t, result.Success)
	assert.NotNil(t, shot, "complete is terminal but not null_action, so it still gets a screenshot_action artifact")
}

func TestApplyWaitHonorsDuration(t *testing.T) {
	driver, page := newTestPage(t)
	fc := clock.NewFake(time.Unix(0, 0))
	ex := New(driver, scrape.New(driver, fc), fc)

	done := make(chan domain.ActionResult, 1)
	go func() {
		result, _, err := ex.Apply(context.Background(), page, nil, domain.Action{Kind: domain.ActionWait, WaitSeconds: 1})
		require.NoError(t, err)
		done <- result
	}()
	result := pumpUntilDone(t, fc, done)
	assert.True(t, result.Success)
}

func TestApplySelectOptionNotFound(t *testing.T) {
	driver, page := newTestPage(t)
	fc := clock.NewFake(time.Unix(0, 0))
	ex := New(driver, scrape.New(driver, fc), fc)
	driver.FailSelect = true

	last := &scrape.ScrapedPage{
		IDToCSS:     map[string]string{"e1": "#country"},
		IDToElement: map[string]scrape.Element{"e1": {Width: 40, Height: 20}},
	}

	done := make(chan domain.ActionResult, 1)
	go func() {
		result, _, err := ex.Apply(context.Background(), page, last, domain.Action{Kind: domain.ActionSelectOption, ElementRef: "e1", Option: "XX"})
		require.NoError(t, err)
		done <- result
	}()
	result := pumpUntilDone(t, fc, done)
	assert.False(t, result.Success)
	assert.Equal(t, ExceptionOptionNotFound, result.ExceptionKind)
}
