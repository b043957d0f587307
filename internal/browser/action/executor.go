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

// Package action implements ActionExecutor (§4.3): resolving a typed
// domain.Action against a live page and reporting an ActionResult.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/browser/scrape"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
)

// Exception kinds specific to action resolution and stability, used as
// domain.ActionResult.ExceptionKind values (§4.3).
const (
	ExceptionElementNotFound  domain.ExceptionKind = "ElementNotFound"
	ExceptionElementNotStable domain.ExceptionKind = "ElementNotStable"
	ExceptionOptionNotFound   domain.ExceptionKind = "OptionNotFound"
)

// Executor implements ActionExecutor (C3) against a browser.Driver,
// using the last scrape to resolve element_ref and element_content_hash
// per the §4.3 resolution rules.
type Executor struct {
	Driver  browser.Driver
	Scraper *scrape.Scraper
	Clock   clock.Clock

	// ElementStabilityTimeout defaults to 1s (§4.3).
	ElementStabilityTimeout time.Duration
	// PostActionSettleTimeout defaults to 2s (§4.3 "Post-action side
	// effects", bound lowered from §4.2's 30s).
	PostActionSettleTimeout time.Duration
}

// New returns an Executor with the §4.3 default timeouts.
func New(driver browser.Driver, scraper *scrape.Scraper, clk clock.Clock) *Executor {
	return &Executor{
		Driver:                  driver,
		Scraper:                 scraper,
		Clock:                   clk,
		ElementStabilityTimeout: time.Second,
		PostActionSettleTimeout: 2 * time.Second,
	}
}

// Apply resolves and applies one Action against page, returning its
// result and a post-action screenshot artifact. Every action gets one
// except null_action, which never reaches the page (§8: "an artifact of
// kind screenshot_action exists referencing its step unless a is
// null_action" — this includes the terminal complete/terminate actions).
func (e *Executor) Apply(ctx context.Context, page browser.Page, last *scrape.ScrapedPage, a domain.Action) (domain.ActionResult, []byte, error) {
	result, err := e.dispatch(ctx, page, last, a)
	if err != nil {
		return result, nil, err
	}
	if a.Kind == domain.ActionNull {
		return result, nil, nil
	}

	if err := e.awaitSettle(ctx, page); err != nil {
		// Settle timeout does not fail the action itself (§4.2 step 1:
		// "on timeout proceed anyway").
		_ = err
	}
	shot, shotErr := e.Driver.Screenshot(ctx, page, browser.ScreenshotViewport)
	if shotErr != nil {
		return result, nil, nil
	}
	return result, shot, nil
}

func (e *Executor) dispatch(ctx context.Context, page browser.Page, last *scrape.ScrapedPage, a domain.Action) (domain.ActionResult, error) {
	switch a.Kind {
	case domain.ActionClick:
		return e.click(ctx, page, last, a)
	case domain.ActionInputText:
		return e.inputText(ctx, page, last, a)
	case domain.ActionSelectOption:
		return e.selectOption(ctx, page, last, a)
	case domain.ActionScroll:
		return e.scroll(ctx, page, a)
	case domain.ActionWait:
		return e.wait(ctx, a)
	case domain.ActionExtract:
		return e.extract(ctx, page)
	case domain.ActionScreenshot:
		return e.screenshot(ctx, page)
	case domain.ActionUploadFile, domain.ActionDownloadFile:
		return e.fileTransfer(ctx, page, last, a)
	case domain.ActionSolveCaptcha:
		return domain.ActionResult{Success: false, ExceptionKind: "CaptchaNotSolvable", StopExecutionOnFailure: a.StopOnFailure}, nil
	case domain.ActionComplete:
		return domain.ActionResult{Success: true, Data: a.ExtractedData}, nil
	case domain.ActionTerminate:
		return domain.ActionResult{Success: false, ExceptionKind: domain.ExceptionKind(a.TerminateReason), StopExecutionOnFailure: true}, nil
	case domain.ActionNull:
		return domain.ActionResult{Success: true}, nil
	default:
		return domain.ActionResult{}, fmt.Errorf("action: unknown kind %q", a.Kind)
	}
}

// resolve implements the §4.3 resolution rules: element_ref against the
// last scrape's id_to_css, falling back to element_content_hash matching
// against id_to_hash for cache-personalized actions.
func (e *Executor) resolve(last *scrape.ScrapedPage, a domain.Action) (string, domain.ActionResult, bool) {
	if last == nil {
		return "", domain.ActionResult{Success: false, ExceptionKind: ExceptionElementNotFound, StopExecutionOnFailure: a.StopOnFailure}, false
	}
	if a.ElementRef != "" {
		if css, ok := last.IDToCSS[a.ElementRef]; ok {
			return css, domain.ActionResult{}, true
		}
	}
	if a.ElementContentHash != "" {
		var matchID string
		matches := 0
		for id, hash := range last.IDToHash {
			if hash == a.ElementContentHash {
				matches++
				matchID = id
			}
		}
		if matches == 1 {
			return last.IDToCSS[matchID], domain.ActionResult{}, true
		}
	}
	return "", domain.ActionResult{Success: false, ExceptionKind: ExceptionElementNotFound, StopExecutionOnFailure: a.StopOnFailure}, false
}

// awaitStable polls up to ElementStabilityTimeout for the resolved
// selector to become attached, visible and enabled (§4.3).
func (e *Executor) awaitStable(ctx context.Context, page browser.Page, css string) error {
	return e.Driver.WaitForSelector(ctx, page, css, e.ElementStabilityTimeout)
}

func (e *Executor) click(ctx context.Context, page browser.Page, last *scrape.ScrapedPage, a domain.Action) (domain.ActionResult, error) {
	css, failure, ok := e.resolve(last, a)
	if !ok {
		return failure, nil
	}
	if err := e.awaitStable(ctx, page, css); err != nil {
		return domain.ActionResult{Success: false, ExceptionKind: ExceptionElementNotStable, StopExecutionOnFailure: a.StopOnFailure}, nil
	}
	// el is the zero Element when only the content-hash fallback
	// matched, so the click then lands at (0,0). If ClickAt fails, one
	// retry is made at a.Coordinates when the action carries them.
	el := last.IDToElement[a.ElementRef]
	x, y := elementCenter(el)
	if err := e.Driver.ClickAt(ctx, page, x, y); err != nil {
		if a.Coordinates != nil {
			if retryErr := e.Driver.ClickAt(ctx, page, a.Coordinates.X, a.Coordinates.Y); retryErr == nil {
				return domain.ActionResult{Success: true}, nil
			}
		}
		return domain.ActionResult{Success: false, ExceptionKind: "ClickFailed", StopExecutionOnFailure: a.StopOnFailure}, nil
	}
	return domain.ActionResult{Success: true}, nil
}

func elementCenter(el scrape.Element) (float64, float64) {
	return el.Width / 2, el.Height / 2
}

func (e *Executor) inputText(ctx context.Context, page browser.Page, last *scrape.ScrapedPage, a domain.Action) (domain.ActionResult, error) {
	css, failure, ok := e.resolve(last, a)
	if !ok {
		return failure, nil
	}
	if err := e.awaitStable(ctx, page, css); err != nil {
		return domain.ActionResult{Success: false, ExceptionKind: ExceptionElementNotStable, StopExecutionOnFailure: a.StopOnFailure}, nil
	}
	if err := e.Driver.TypeInto(ctx, page, css, a.Text); err != nil {
		script := fmt.Sprintf("__skyrun_set_value(%q, %q)", css, a.Text)
		if _, jsErr := e.Driver.Evaluate(ctx, page, script); jsErr != nil {
			return domain.ActionResult{Success: false, ExceptionKind: "InputFailed", StopExecutionOnFailure: a.StopOnFailure}, nil
		}
	}
	return domain.ActionResult{Success: true}, nil
}

func (e *Executor) selectOption(ctx context.Context, page browser.Page, last *scrape.ScrapedPage, a domain.Action) (domain.ActionResult, error) {
	css, failure, ok := e.resolve(last, a)
	if !ok {
		return failure, nil
	}
	if err := e.awaitStable(ctx, page, css); err != nil {
		return domain.ActionResult{Success: false, ExceptionKind: ExceptionElementNotStable, StopExecutionOnFailure: a.StopOnFailure}, nil
	}
	if err := e.Driver.SelectOption(ctx, page, css, a.Option); err != nil {
		return domain.ActionResult{Success: false, ExceptionKind: ExceptionOptionNotFound, StopExecutionOnFailure: a.StopOnFailure}, nil
	}
	return domain.ActionResult{Success: true}, nil
}

func (e *Executor) scroll(ctx context.Context, page browser.Page, a domain.Action) (domain.ActionResult, error) {
	var dx, dy float64
	if a.Coordinates != nil {
		dx, dy = a.Coordinates.X, a.Coordinates.Y
	}
	if err := e.Driver.ScrollBy(ctx, page, dx, dy); err != nil {
		return domain.ActionResult{Success: false, ExceptionKind: "ScrollFailed", StopExecutionOnFailure: a.StopOnFailure}, nil
	}
	return domain.ActionResult{Success: true}, nil
}

// wait is bounded by stepWallClockBudget at the TaskEngine level; here
// it simply honors the requested duration via the injected clock.
func (e *Executor) wait(ctx context.Context, a domain.Action) (domain.ActionResult, error) {
	d := time.Duration(a.WaitSeconds * float64(time.Second))
	if d <= 0 {
		return domain.ActionResult{Success: true}, nil
	}
	select {
	case <-e.Clock.After(d):
		return domain.ActionResult{Success: true}, nil
	case <-ctx.Done():
		return domain.ActionResult{Success: false, ExceptionKind: "Canceled", StopExecutionOnFailure: a.StopOnFailure}, ctx.Err()
	}
}

func (e *Executor) extract(ctx context.Context, page browser.Page) (domain.ActionResult, error) {
	scraped, err := e.Scraper.Scrape(ctx, page, scrape.DefaultOptions())
	if err != nil {
		return domain.ActionResult{Success: false, ExceptionKind: "ExtractionFailed"}, nil
	}
	return domain.ActionResult{Success: true, Data: scraped.ExtractedText}, nil
}

func (e *Executor) screenshot(ctx context.Context, page browser.Page) (domain.ActionResult, error) {
	shot, err := e.Driver.Screenshot(ctx, page, browser.ScreenshotFullPage)
	if err != nil {
		return domain.ActionResult{Success: false, ExceptionKind: "ScreenshotFailed"}, nil
	}
	return domain.ActionResult{Success: true, Data: shot}, nil
}

func (e *Executor) fileTransfer(ctx context.Context, page browser.Page, last *scrape.ScrapedPage, a domain.Action) (domain.ActionResult, error) {
	css, failure, ok := e.resolve(last, a)
	if !ok {
		return failure, nil
	}
	if err := e.awaitStable(ctx, page, css); err != nil {
		return domain.ActionResult{Success: false, ExceptionKind: ExceptionElementNotStable, StopExecutionOnFailure: a.StopOnFailure}, nil
	}
	return domain.ActionResult{Success: true, Data: a.Text}, nil
}

// awaitSettle waits for page settle before the next scrape, bound to
// PostActionSettleTimeout (§4.3 "Post-action side effects").
func (e *Executor) awaitSettle(ctx context.Context, page browser.Page) error {
	deadline := e.Clock.Now().Add(e.PostActionSettleTimeout)
	last, err := e.Driver.Evaluate(ctx, page, "document.documentElement.outerHTML.length")
	if err != nil {
		return err
	}
	for e.Clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.Clock.After(250 * time.Millisecond):
		}
		cur, err := e.Driver.Evaluate(ctx, page, "document.documentElement.outerHTML.length")
		if err != nil {
			return err
		}
		if cur == last {
			return nil
		}
		last = cur
	}
	return nil
}
