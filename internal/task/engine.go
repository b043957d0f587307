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

// Package task implements TaskEngine (C5, §4.5): the step loop that
// drives one Task end-to-end by alternating PageScraper, DecisionOracle
// and ActionExecutor calls.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skyvern-go/skyrun/internal/blobstore"
	"github.com/skyvern-go/skyrun/internal/browser"
	browseraction "github.com/skyvern-go/skyrun/internal/browser/action"
	"github.com/skyvern-go/skyrun/internal/browser/scrape"
	"github.com/skyvern-go/skyrun/internal/cancel"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/metrics"
	"github.com/skyvern-go/skyrun/internal/oracle"
	"github.com/skyvern-go/skyrun/internal/session"
	"github.com/skyvern-go/skyrun/internal/storage"
	"github.com/skyvern-go/skyrun/internal/webhook"
	coreerrors "github.com/skyvern-go/skyrun/pkg/errors"
)

// SessionPage resolves a session id to its live page and driver, and
// probes driver liveness before each step, the slice of
// BrowserSessionManager this package depends on.
type SessionPage interface {
	Page(ctx context.Context, sessionID string) (browser.Page, browser.Driver, error)
	HealthCheck(ctx context.Context, sessionID string) (domain.HealthStatus, error)
}

// Engine implements TaskEngine. Scraper/Executor are built per step from
// the session's current driver (§4.2/§4.3 bind to one browser.Driver;
// this package constructs fresh ones rather than assuming a fixed
// session for the whole Engine).
type Engine struct {
	Store     storage.TaskStore
	Cache     storage.DecisionCacheStore // optional; nil disables the decision cache
	Artifacts storage.ArtifactStore      // optional; nil disables artifact persistence
	Blobs     blobstore.Store            // optional; nil disables artifact persistence
	Sessions  SessionPage
	Oracle    oracle.Oracle
	Clock     clock.Clock
	Webhooks  *webhook.Delivery
	Logger    *slog.Logger
	Metrics   *metrics.Collector // optional; nil-safe, records nothing
}

// decisionCacheTTL is the recommended TTL for cached decisions (§9 Open
// Questions: "recommended 24h").
const decisionCacheTTL = 24 * time.Hour

// maxSessionReplacedRestarts bounds how many times one step restarts for
// a replaced session before it fails outright, mirroring
// session.DefaultLimits().MaxRecoveries so a permanently errored session
// can't loop a step forever.
const maxSessionReplacedRestarts = 3

// Run executes task end-to-end against sessionID, implementing the
// §4.5 step loop exactly. It returns once the task reaches a terminal
// status or cancel fires.
func (e *Engine) Run(ctx context.Context, t *domain.Task, sessionID string, cancelSig *cancel.Signal) error {
	t.Status = domain.TaskRunning
	if err := e.Store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("task: update status running: %w", err)
	}

	var history []oracle.HistoryEntry
	order := 0

	for t.Status == domain.TaskRunning && order < t.MaxSteps && !cancelSig.Fired() {
		order++
		step := &domain.Step{
			ID:     uuid.NewString(),
			TaskID: t.ID,
			Order:  order,
			Status: domain.StepRunning,
		}
		if err := e.Store.CreateStep(ctx, step); err != nil {
			return fmt.Errorf("task: create step %d: %w", order, err)
		}

		retryIndex := 0
		sessionReplacedRestarts := 0
		for {
			entry, transientErr := e.runStep(ctx, t, step, sessionID, history)
			if transientErr != nil {
				var replaced *session.SessionReplacedError
				if errors.As(transientErr, &replaced) {
					// §7: a replaced session restarts the current step
					// without consuming a retry, bounded separately so a
					// session stuck errored doesn't loop the step forever.
					if sessionReplacedRestarts < maxSessionReplacedRestarts {
						sessionReplacedRestarts++
						step.Status = domain.StepRetrying
						_ = e.Store.UpdateStep(ctx, step)
						continue
					}
					step.Status = domain.StepFailed
					step.FailureReason = &domain.FailureReason{Code: string(coreerrors.KindSessionReplaced), Message: transientErr.Error()}
					_ = e.Store.UpdateStep(ctx, step)
					e.finish(ctx, t, domain.TaskFailed, step.FailureReason)
					return nil
				}
				if retryIndex < t.RetriesPerStep {
					retryIndex++
					step.RetryIndex = retryIndex
					step.Status = domain.StepRetrying
					_ = e.Store.UpdateStep(ctx, step)
					continue
				}
				step.Status = domain.StepFailed
				step.FailureReason = &domain.FailureReason{Code: string(coreerrors.KindOf(transientErr)), Message: transientErr.Error()}
				_ = e.Store.UpdateStep(ctx, step)
				e.finish(ctx, t, domain.TaskFailed, step.FailureReason)
				return nil
			}
			history = append(history, entry)
			break
		}

		if step.Status != domain.StepFailed && step.Status != domain.StepCompleted {
			step.Status = domain.StepCompleted
		}
		_ = e.Store.UpdateStep(ctx, step)
		e.Metrics.RecordStep(ctx, string(step.Status))

		if t.Status.Terminal() {
			return nil
		}
	}

	if order == t.MaxSteps && t.Status == domain.TaskRunning {
		e.finish(ctx, t, domain.TaskFailed, &domain.FailureReason{Code: string(coreerrors.KindMaxStepsReached), Message: "task exceeded max_steps"})
	} else if cancelSig.Fired() && t.Status == domain.TaskRunning {
		e.finish(ctx, t, domain.TaskCanceled, &domain.FailureReason{Code: string(coreerrors.KindCanceled), Message: cancelSig.Reason()})
	}
	return nil
}

// runStep executes one step's body. A non-nil error is the "except
// transient" branch of §4.5's pseudocode: scrape/oracle/executor
// infrastructure errors distinct from an unsuccessful ActionResult
// (which is handled inline via stop_execution_on_failure).
func (e *Engine) runStep(ctx context.Context, t *domain.Task, step *domain.Step, sessionID string, history []oracle.HistoryEntry) (oracle.HistoryEntry, error) {
	if _, err := e.Sessions.HealthCheck(ctx, sessionID); err != nil {
		return oracle.HistoryEntry{}, fmt.Errorf("task: session health check: %w", err)
	}
	page, driver, err := e.Sessions.Page(ctx, sessionID)
	if err != nil {
		return oracle.HistoryEntry{}, fmt.Errorf("task: resolve session page: %w", err)
	}
	scraper := scrape.New(driver, e.Clock)
	executor := browseraction.New(driver, scraper, e.Clock)

	if step.Order == 1 && t.URL != "" {
		if err := driver.Goto(ctx, page, t.URL, 30*time.Second); err != nil {
			return oracle.HistoryEntry{}, fmt.Errorf("task: initial navigation: %w", err)
		}
	}

	scraped, err := scraper.Scrape(ctx, page, scrape.DefaultOptions())
	if err != nil {
		return oracle.HistoryEntry{}, fmt.Errorf("task: scrape: %w", err)
	}
	step.Input = scraped.URL
	t.URL = scraped.URL

	if scraped.HTML != "" {
		e.persistArtifact(ctx, t, step, domain.ArtifactHTMLScrape, []byte(scraped.HTML), "text/html")
	}
	if len(scraped.ElementTree) > 0 {
		if treeJSON, merr := json.Marshal(scraped.ElementTree); merr == nil {
			e.persistArtifact(ctx, t, step, domain.ArtifactElementTree, treeJSON, "application/json")
		}
	}
	for _, shot := range scraped.Screenshots {
		e.persistArtifact(ctx, t, step, domain.ArtifactScreenshotStep, shot, "image/png")
	}

	actions, _, err := e.decide(ctx, t, step, scraped, history)
	if err != nil {
		return oracle.HistoryEntry{}, fmt.Errorf("task: decide: %w", err)
	}
	if len(actions) == 0 {
		actions = []domain.Action{{Kind: domain.ActionNull}}
	}
	step.GoalAchieved = new(bool)

	entry := oracle.HistoryEntry{Step: step, Actions: actions}
	last := scraped
	for _, a := range actions {
		result, shot, err := executor.Apply(ctx, page, last, a)
		if err != nil {
			return oracle.HistoryEntry{}, fmt.Errorf("task: apply action %s: %w", a.Kind, err)
		}
		entry.Results = append(entry.Results, result)
		if shot != nil {
			e.persistArtifact(ctx, t, step, domain.ArtifactScreenshotAction, shot, "image/png")
		}

		if a.Kind == domain.ActionExtract {
			step.Output = result.Data
			// strict_extraction (§9 Open Questions): a failed extract
			// action fails the step when set, otherwise its data is kept
			// and execution continues. The extracted data is not checked
			// against a schema.
			if !result.Success && t.StrictExtraction {
				step.Status = domain.StepFailed
				step.FailureReason = &domain.FailureReason{Code: string(result.ExceptionKind), Message: string(result.ExceptionKind)}
				break
			}
		}

		if a.Kind.Terminal() {
			if a.Kind == domain.ActionComplete {
				*step.GoalAchieved = true
				if step.Output == nil {
					step.Output = result.Data
				}
				t.ExtractedData = step.Output
				e.finish(ctx, t, domain.TaskCompleted, nil)
			} else {
				e.finish(ctx, t, domain.TaskFailed, &domain.FailureReason{Code: "Terminated", Message: a.TerminateReason})
			}
			return entry, nil
		}
		if !result.Success && a.StopOnFailure {
			step.Status = domain.StepFailed
			step.FailureReason = &domain.FailureReason{Code: string(result.ExceptionKind), Message: string(result.ExceptionKind)}
			break
		}
	}

	return entry, nil
}

// decide resolves actions for this step, preferring a cached decision
// when one exists and every cacheable action's element_content_hash
// still uniquely matches the current scrape (§4.5 "Decision-cache
// interaction").
func (e *Engine) decide(ctx context.Context, t *domain.Task, step *domain.Step, scraped *scrape.ScrapedPage, history []oracle.HistoryEntry) ([]domain.Action, string, error) {
	if e.Cache != nil {
		if actions, ok := e.tryCached(ctx, t, step, scraped); ok {
			return actions, "decision cache hit", nil
		}
	}

	decision, err := e.Oracle.Decide(ctx, t, step, scraped, history)
	if err != nil {
		return nil, "", err
	}

	if e.Cache != nil && allCacheable(decision.Actions) {
		_ = e.Cache.PutCachedDecision(ctx, &storage.CachedDecision{
			URLPattern: t.URL,
			Goal:       t.NavigationGoal,
			StepOrder:  step.Order,
			Actions:    decision.Actions,
			CachedAt:   e.Clock.Now(),
		})
	}
	return decision.Actions, decision.Reasoning, nil
}

func allCacheable(actions []domain.Action) bool {
	for _, a := range actions {
		if !a.Kind.Cacheable() && !a.Kind.Terminal() {
			return false
		}
	}
	return true
}

func (e *Engine) tryCached(ctx context.Context, t *domain.Task, step *domain.Step, scraped *scrape.ScrapedPage) ([]domain.Action, bool) {
	cached, ok, err := e.Cache.GetCachedDecision(ctx, t.URL, t.NavigationGoal, step.Order)
	if err != nil || !ok {
		return nil, false
	}
	if e.Clock.Now().Sub(cached.CachedAt) > decisionCacheTTL {
		return nil, false
	}
	for _, a := range cached.Actions {
		if !a.Kind.Cacheable() {
			continue
		}
		if a.ElementContentHash == "" {
			continue
		}
		if !uniqueHashMatch(scraped, a.ElementContentHash) {
			return nil, false
		}
	}
	return cached.Actions, true
}

// persistArtifact uploads data through Blobs and records an Artifact
// through Artifacts (§3.1, §8 "an artifact of kind ... exists referencing
// its step"). Both dependencies are optional; a missing one or empty
// data silently skips persistence, and a write failure is logged rather
// than failing the step it documents.
func (e *Engine) persistArtifact(ctx context.Context, t *domain.Task, step *domain.Step, kind domain.ArtifactKind, data []byte, contentType string) {
	if e.Blobs == nil || e.Artifacts == nil || len(data) == 0 {
		return
	}
	uri, err := e.Blobs.Put(ctx, data, contentType)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("task: persist artifact blob failed", "task_id", t.ID, "kind", kind, "error", err)
		}
		return
	}
	artifact := &domain.Artifact{
		ID:          uuid.NewString(),
		Kind:        kind,
		URI:         uri,
		BytesSize:   int64(len(data)),
		ContentType: contentType,
		TaskID:      t.ID,
		StepID:      step.ID,
		CreatedAt:   e.Clock.Now(),
	}
	if err := e.Artifacts.CreateArtifact(ctx, artifact); err != nil && e.Logger != nil {
		e.Logger.Warn("task: persist artifact record failed", "task_id", t.ID, "kind", kind, "error", err)
	}
}

func uniqueHashMatch(scraped *scrape.ScrapedPage, hash string) bool {
	matches := 0
	for _, h := range scraped.IDToHash {
		if h == hash {
			matches++
		}
	}
	return matches == 1
}

// finish transitions t to a terminal status and delivers the task
// webhook (§4.5 "Webhook delivery"); delivery failures are logged only.
func (e *Engine) finish(ctx context.Context, t *domain.Task, status domain.TaskStatus, reason *domain.FailureReason) {
	t.Status = status
	t.FailureReason = reason
	now := e.Clock.Now()
	t.CompletedAt = &now
	if err := e.Store.UpdateTask(ctx, t); err != nil && e.Logger != nil {
		e.Logger.Error("task: update terminal status failed", "task_id", t.ID, "error", err)
	}
	e.Metrics.RecordTask(ctx, string(status), now.Sub(t.CreatedAt).Seconds())

	if e.Webhooks == nil || t.WebhookURL == "" {
		return
	}
	event := webhook.EventTaskCompleted
	switch status {
	case domain.TaskFailed, domain.TaskTerminated:
		event = webhook.EventTaskFailed
	case domain.TaskCanceled:
		event = webhook.EventTaskCanceled
	}
	payload := webhook.Payload{Event: event, Data: t, Timestamp: now, RequestID: uuid.NewString()}
	if err := e.Webhooks.Send(ctx, t.WebhookURL, payload); err != nil && e.Logger != nil {
		e.Logger.Warn("task: webhook delivery failed", "task_id", t.ID, "error", err)
	}
}
