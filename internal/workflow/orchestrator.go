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

// Package workflow implements WorkflowOrchestrator (C7, §4.7): the
// traversal of one workflow run's block list, session sharing across
// its task-like blocks, for_loop child scopes, and terminal webhook
// delivery.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyvern-go/skyrun/internal/blobstore"
	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/cancel"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/email"
	"github.com/skyvern-go/skyrun/internal/metrics"
	"github.com/skyvern-go/skyrun/internal/oracle"
	"github.com/skyvern-go/skyrun/internal/secretsapi"
	"github.com/skyvern-go/skyrun/internal/storage"
	"github.com/skyvern-go/skyrun/internal/task"
	"github.com/skyvern-go/skyrun/internal/webhook"
	"github.com/skyvern-go/skyrun/internal/workflow/block"
	wfcontext "github.com/skyvern-go/skyrun/internal/workflow/context"
	coreerrors "github.com/skyvern-go/skyrun/pkg/errors"
)

// defaultRunMaxDuration is the §5 default for a workflow run's
// wall-clock budget (2h, vs. a task's 1h).
const defaultRunMaxDuration = 2 * time.Hour

// SessionHandle is the slice of BrowserSessionManager the orchestrator
// needs: acquire/release the one workflow_run-scoped session, plus page
// access for BlockRuntime (§4.7 "Session sharing").
type SessionHandle interface {
	Acquire(ctx context.Context, scope domain.SessionScope, orgID, runRef string) (*domain.BrowserSession, error)
	Release(ctx context.Context, sessionID string, cleanup bool) error
	Page(ctx context.Context, sessionID string) (browser.Page, browser.Driver, error)
}

// Deps bundles every external capability the orchestrator wires into
// the block runtime and task engine it drives.
type Deps struct {
	Runs       storage.WorkflowRunStore
	Tasks      storage.TaskStore
	Sessions   SessionHandle
	TaskEngine *task.Engine
	Oracle     oracle.Oracle
	Blobs      blobstore.Store
	Email      email.Sender
	Files      block.FileParser
	HTTP       block.HTTPDoer
	Secrets    secretsapi.Provider
	Masker     *secretsapi.Masker
	Clock      clock.Clock
	Webhooks   *webhook.Delivery
	Metrics    *metrics.Collector // optional; nil-safe, records nothing
	Logger     *slog.Logger
}

// Orchestrator implements WorkflowOrchestrator (C7).
type Orchestrator struct {
	deps Deps
}

// New returns an Orchestrator bound to deps.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Run traverses wf's block list for run, implementing the §4.7
// traversal exactly. It returns once run reaches a terminal status.
func (o *Orchestrator) Run(ctx context.Context, wf *domain.Workflow, run *domain.WorkflowRun, cancelSig *cancel.Signal) error {
	run.Status = domain.RunRunning
	if run.MaxDuration <= 0 {
		run.MaxDuration = defaultRunMaxDuration
	}
	deadline := o.deps.Clock.Now().Add(run.MaxDuration)
	if err := o.deps.Runs.UpdateWorkflowRun(ctx, run); err != nil {
		return fmt.Errorf("workflow: update run running: %w", err)
	}

	rc := wfcontext.New(o.deps.Secrets, o.deps.Masker)
	if err := o.registerParameters(ctx, wf, run, rc); err != nil {
		o.finish(ctx, run, domain.RunFailed, &domain.FailureReason{Code: string(coreerrors.KindParameterUnbound), Message: err.Error()})
		return nil
	}

	bridge := &taskBridge{
		engine: o.deps.TaskEngine,
		store:  o.deps.Tasks,
		orgID:  run.OrgID,
		clock:  o.deps.Clock,
		cancel: cancelSig,
		defaults: taskDefaults{
			MaxSteps:       10,
			RetriesPerStep: 2,
		},
	}
	rt := block.New(block.Deps{
		Tasks:    bridge,
		Sessions: o.deps.Sessions,
		Oracle:   o.deps.Oracle,
		Blobs:    o.deps.Blobs,
		Email:    o.deps.Email,
		Files:    o.deps.Files,
		HTTP:     o.deps.HTTP,
		Clock:    o.deps.Clock,
	})

	state := &runState{
		orch:      o,
		run:       run,
		rc:        rc,
		rt:        rt,
		bridge:    bridge,
		cancel:    cancelSig,
		deadline:  deadline,
		outputsMu: &sync.Mutex{},
	}

	_, failed, reason := state.execBlocks(ctx, wf.Definition.Blocks)

	if state.sessionAcquired {
		cleanup := cancelSig.Fired() && cancelSig.Force()
		if err := o.deps.Sessions.Release(ctx, state.sessionID, cleanup); err != nil && o.deps.Logger != nil {
			o.deps.Logger.Warn("workflow: release session failed", "run_id", run.ID, "error", err)
		}
	}

	switch {
	case failed && reason != nil && reason.Code == string(coreerrors.KindCanceled):
		o.finish(ctx, run, domain.RunCanceled, reason)
	case failed:
		o.finish(ctx, run, domain.RunFailed, reason)
	default:
		o.finish(ctx, run, domain.RunCompleted, nil)
	}
	return nil
}

// registerParameters implements §4.7 step 1: bind declared workflow
// parameters (resolving secret_parameter entries via SecretsProvider),
// then bind any additional ad hoc values the caller supplied.
//
// InputSchema.Type "secret" marks a secret_parameter (§9 Open Questions:
// its tagged union isn't given a wire shape here, so a declared
// parameter's value is taken to be the secret's *name*, resolved through
// RunContext.Secret rather than used literally).
func (o *Orchestrator) registerParameters(ctx context.Context, wf *domain.Workflow, run *domain.WorkflowRun, rc *wfcontext.RunContext) error {
	if run.Parameters == nil {
		run.Parameters = make(map[string]any)
	}
	declared := make(map[string]bool, len(wf.Definition.ParameterSchema))
	for _, p := range wf.Definition.ParameterSchema {
		declared[p.Name] = true
		val, provided := run.Parameters[p.Name]
		if !provided {
			if p.Default != nil {
				val = p.Default
			} else if p.Required {
				return fmt.Errorf("parameter %q is required", p.Name)
			}
		}
		if p.Type == "secret" {
			secretName, _ := val.(string)
			resolved, err := rc.Secret(ctx, secretName)
			if err != nil {
				return fmt.Errorf("resolve secret parameter %q: %w", p.Name, err)
			}
			val = resolved
		}
		if err := rc.Set(p.Name, val, false); err != nil {
			return fmt.Errorf("register parameter %q: %w", p.Name, err)
		}
	}
	for name, val := range run.Parameters {
		if declared[name] {
			continue
		}
		_ = rc.Set(name, val, false)
	}
	return nil
}

// finish transitions run to a terminal status and delivers the run
// webhook (§4.7 "Webhooks"); delivery failures are logged only.
func (o *Orchestrator) finish(ctx context.Context, run *domain.WorkflowRun, status domain.WorkflowRunStatus, reason *domain.FailureReason) {
	run.Status = status
	run.FailureReason = reason
	now := o.deps.Clock.Now()
	run.CompletedAt = &now
	if err := o.deps.Runs.UpdateWorkflowRun(ctx, run); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Error("workflow: update terminal run status failed", "run_id", run.ID, "error", err)
	}
	o.deps.Metrics.RecordRun(ctx, string(status), now.Sub(run.CreatedAt).Seconds())

	if o.deps.Webhooks == nil || run.WebhookURL == "" {
		return
	}
	event := webhook.EventWorkflowRunCompleted
	switch status {
	case domain.RunFailed:
		event = webhook.EventWorkflowRunFailed
	case domain.RunCanceled:
		event = webhook.EventWorkflowRunCanceled
	}
	payload := webhook.Payload{Event: event, Data: run, Timestamp: now, RequestID: uuid.NewString()}
	if err := o.deps.Webhooks.Send(ctx, run.WebhookURL, payload); err != nil && o.deps.Logger != nil {
		o.deps.Logger.Warn("workflow: webhook delivery failed", "run_id", run.ID, "error", err)
	}
}

// runState is the mutable traversal state of one Run call, threaded
// through nested for_loop recursion. outputsMu is a pointer so that a
// bounded-parallel for_loop's per-iteration copies (see
// execForLoopParallel) still serialize writes to the shared run.Outputs
// map through one lock.
type runState struct {
	orch            *Orchestrator
	run             *domain.WorkflowRun
	rc              *wfcontext.RunContext
	rt              *block.Runtime
	bridge          *taskBridge
	cancel          *cancel.Signal
	deadline        time.Time
	sessionID       string
	sessionAcquired bool
	outputsMu       *sync.Mutex
}

// execBlocks runs blocks in order (§4.7 step 2), honoring
// continue_on_failure (step 4) and returning the last executed block's
// output so for_loop can collect one representative value per iteration
// (§4.6 for_loop "Array of per-iteration output objects").
func (s *runState) execBlocks(ctx context.Context, blocks []domain.Block) (any, bool, *domain.FailureReason) {
	var last any
	for i := range blocks {
		blk := blocks[i]

		if s.cancel.Fired() {
			return last, true, &domain.FailureReason{Code: string(coreerrors.KindCanceled), Message: s.cancel.Reason()}
		}
		if !s.orch.deps.Clock.Now().Before(s.deadline) {
			return last, true, &domain.FailureReason{Code: string(coreerrors.KindTimeout), Message: "workflow run exceeded max_duration"}
		}

		out, failed, reason := s.execBlock(ctx, blk)
		s.recordOutput(blk, out)
		if failed {
			if blk.ContinueOnFailure {
				continue
			}
			return out, true, reason
		}
		last = out
	}
	return last, false, nil
}

// execBlock runs one block, persisting its WorkflowRunBlock record
// (§3.1) and acquiring the shared session lazily the first time a
// browser-requiring block is reached (§4.7 "Session sharing").
func (s *runState) execBlock(ctx context.Context, blk domain.Block) (any, bool, *domain.FailureReason) {
	if needsSession(blk.Kind) {
		if err := s.ensureSession(ctx); err != nil {
			return nil, true, &domain.FailureReason{Code: string(coreerrors.KindOf(err)), Message: err.Error()}
		}
	}

	rb := &domain.WorkflowRunBlock{
		ID:        uuid.NewString(),
		RunID:     s.run.ID,
		Label:     blk.Label,
		BlockKind: blk.Kind,
		Status:    domain.RunBlockRunning,
		Inputs:    blk.Inputs,
	}
	started := s.orch.deps.Clock.Now()
	rb.StartedAt = &started
	if s.orch.deps.Runs != nil {
		_ = s.orch.deps.Runs.CreateRunBlock(ctx, rb)
	}

	var output any
	var failed bool
	var reason *domain.FailureReason

	if blk.Kind == domain.BlockForLoop {
		output, failed, reason = s.execForLoop(ctx, blk)
	} else {
		s.bridge.setSession(s.sessionID)
		res, err := s.rt.Execute(ctx, blk, s.rc, s.sessionID)
		switch {
		case err != nil:
			failed = true
			reason = &domain.FailureReason{Code: string(coreerrors.KindOf(err)), Message: err.Error()}
		case res.Failed:
			failed = true
			code := res.Code
			if code == "" {
				code = coreerrors.KindInternal
			}
			reason = &domain.FailureReason{Code: string(code), Message: res.Message}
		default:
			output = res.Output
		}
	}

	completed := s.orch.deps.Clock.Now()
	rb.CompletedAt = &completed
	rb.Output = output
	rb.FailureReason = reason
	rb.Attempts++
	if failed {
		rb.Status = domain.RunBlockFailed
	} else {
		rb.Status = domain.RunBlockCompleted
	}
	if s.orch.deps.Runs != nil {
		_ = s.orch.deps.Runs.UpdateRunBlock(ctx, rb)
	}
	s.orch.deps.Metrics.RecordBlock(ctx, string(blk.Kind), completed.Sub(started).Seconds())
	return output, failed, reason
}

// execForLoop implements §4.7 step 5 and the §4.6 for_loop contract. A
// block.Parallel config switches to execForLoopParallel; the default is
// sequential iteration over a single shared scope stack.
func (s *runState) execForLoop(ctx context.Context, blk domain.Block) (any, bool, *domain.FailureReason) {
	items, err := resolveLoopItems(s.rc, blk.LoopOver)
	if err != nil {
		return nil, true, &domain.FailureReason{Code: "ForLoopError", Message: err.Error()}
	}

	var parentOutput any
	if s.run.Outputs != nil {
		parentOutput = s.run.Outputs[outputKey(blk)]
	}

	if blk.Parallel != nil && blk.Parallel.MaxConcurrency > 0 {
		return s.execForLoopParallel(ctx, blk, items, parentOutput)
	}

	results := make([]any, 0, len(items))
	for idx, item := range items {
		if s.cancel.Fired() {
			return results, true, &domain.FailureReason{Code: string(coreerrors.KindCanceled), Message: s.cancel.Reason()}
		}
		if !s.orch.deps.Clock.Now().Before(s.deadline) {
			return results, true, &domain.FailureReason{Code: string(coreerrors.KindTimeout), Message: "workflow run exceeded max_duration"}
		}

		vars := map[string]any{"current_item": item, "current_index": idx}
		if parentOutput != nil {
			vars["parent_output"] = parentOutput
		}
		pop := s.rc.PushScope(vars)
		out, failed, reason := s.execBlocks(ctx, blk.Blocks)
		pop()

		if failed {
			if blk.ContinueOnFailure {
				results = append(results, nil)
				continue
			}
			return results, true, reason
		}
		results = append(results, out)
	}
	return results, false, nil
}

// execForLoopParallel runs a for_loop's iterations concurrently, capped
// at blk.Parallel.MaxConcurrency in flight at once. Each iteration gets
// its own RunContext.Fork rather than sharing s.rc's scope stack, so
// concurrent pushes/pops can't corrupt one another's loop variables.
// The first iteration failure cancels iterations that haven't started
// yet, unless continue_on_failure is set.
func (s *runState) execForLoopParallel(ctx context.Context, blk domain.Block, items []any, parentOutput any) (any, bool, *domain.FailureReason) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, blk.Parallel.MaxConcurrency)

	type iterResult struct {
		index  int
		output any
		failed bool
		reason *domain.FailureReason
	}
	resultsCh := make(chan iterResult, len(items))

	var wg sync.WaitGroup
	for idx, item := range items {
		wg.Add(1)
		go func(idx int, item any) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultsCh <- iterResult{index: idx, failed: true, reason: &domain.FailureReason{Code: string(coreerrors.KindCanceled), Message: "canceled before iteration started"}}
				return
			}

			if s.cancel.Fired() {
				resultsCh <- iterResult{index: idx, failed: true, reason: &domain.FailureReason{Code: string(coreerrors.KindCanceled), Message: s.cancel.Reason()}}
				return
			}

			vars := map[string]any{"current_item": item, "current_index": idx}
			if parentOutput != nil {
				vars["parent_output"] = parentOutput
			}
			iter := *s
			iter.rc = s.rc.Fork(vars)

			out, failed, reason := iter.execBlocks(ctx, blk.Blocks)
			if failed && !blk.ContinueOnFailure {
				cancel()
			}
			resultsCh <- iterResult{index: idx, output: out, failed: failed, reason: reason}
		}(idx, item)
	}
	wg.Wait()
	close(resultsCh)

	results := make([]any, len(items))
	var firstFailure *domain.FailureReason
	firstFailureIndex := -1
	anyFailed := false
	for r := range resultsCh {
		results[r.index] = r.output
		if r.failed {
			anyFailed = true
			if firstFailureIndex == -1 || r.index < firstFailureIndex {
				firstFailure = r.reason
				firstFailureIndex = r.index
			}
		}
	}

	if anyFailed && !blk.ContinueOnFailure {
		return results, true, firstFailure
	}
	return results, false, nil
}

func outputKey(blk domain.Block) string {
	if blk.OutputName != "" {
		return blk.OutputName
	}
	return blk.Label
}

func (s *runState) recordOutput(blk domain.Block, output any) {
	name := outputKey(blk)
	if name == "" {
		return
	}
	_ = s.rc.Set(name, output, true)
	s.outputsMu.Lock()
	defer s.outputsMu.Unlock()
	if s.run.Outputs == nil {
		s.run.Outputs = make(map[string]any)
	}
	s.run.Outputs[name] = output
}

func (s *runState) ensureSession(ctx context.Context) error {
	if s.sessionAcquired {
		return nil
	}
	sess, err := s.orch.deps.Sessions.Acquire(ctx, domain.ScopeWorkflowRun, s.run.OrgID, s.run.ID)
	if err != nil {
		return err
	}
	s.sessionID = sess.ID
	s.run.SessionID = sess.ID
	s.sessionAcquired = true
	return nil
}

func needsSession(kind domain.BlockKind) bool {
	if kind.TaskLike() {
		return true
	}
	switch kind {
	case domain.BlockGotoURL, domain.BlockFileUpload, domain.BlockFileDownload:
		return true
	default:
		return false
	}
}

// resolveLoopItems resolves a for_loop's loop_over source (§4.6:
// "array or rendered expression"): a bound RunContext variable used
// directly if it is already a slice, otherwise the source is rendered
// as a template and parsed as a JSON array.
func resolveLoopItems(rc *wfcontext.RunContext, loopOver string) ([]any, error) {
	if v, ok := rc.Get(loopOver); ok {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("for_loop source %q is not an array", loopOver)
		}
		return items, nil
	}
	rendered, err := rc.Render(loopOver, false)
	if err != nil {
		return nil, fmt.Errorf("for_loop over %q: %w", loopOver, err)
	}
	var items []any
	if err := json.Unmarshal([]byte(rendered), &items); err != nil {
		return nil, fmt.Errorf("for_loop over %q: not an array: %w", loopOver, err)
	}
	return items, nil
}
