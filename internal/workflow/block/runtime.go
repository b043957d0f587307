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

// Package block implements BlockRuntime (§4.6): executing exactly one
// workflow block kind against a RunContext, with parameter rendering and
// exponential-backoff retry.
package block

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skyvern-go/skyrun/internal/blobstore"
	"github.com/skyvern-go/skyrun/internal/browser"
	browseraction "github.com/skyvern-go/skyrun/internal/browser/action"
	"github.com/skyvern-go/skyrun/internal/browser/scrape"
	"github.com/skyvern-go/skyrun/internal/clock"
	wfcontext "github.com/skyvern-go/skyrun/internal/workflow/context"
	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/email"
	"github.com/skyvern-go/skyrun/internal/oracle"
	"github.com/skyvern-go/skyrun/internal/retry"
	coreerrors "github.com/skyvern-go/skyrun/pkg/errors"
)

// TaskRunner is what the task-like block kinds (§4.6 row 1) invoke:
// TaskEngine, scoped to block-rendered params and the workflow's shared
// session.
type TaskRunner interface {
	RunBlockTask(ctx context.Context, kind domain.BlockKind, params map[string]any) (extractedData any, finalURL string, err error)
}

// BrowserHandle gives blocks that need page control (file_upload,
// file_download, goto_url) access to the workflow's shared session page.
type BrowserHandle interface {
	Page(ctx context.Context, sessionID string) (browser.Page, browser.Driver, error)
}

// Deps bundles the external capabilities a Runtime dispatches to.
// Scraper/Executor are built per call from the driver the workflow's
// session currently holds, since both are bound to one browser.Driver
// (§4.2/§4.3) and a workflow may rotate sessions across its run.
type Deps struct {
	Tasks    TaskRunner
	Sessions BrowserHandle
	Oracle   oracle.Oracle
	Blobs    blobstore.Store
	Email    email.Sender
	Files    FileParser
	HTTP     HTTPDoer
	Clock    clock.Clock
}

// Runtime implements BlockRuntime (C6).
type Runtime struct {
	deps Deps
	expr *Evaluator

	sessionMu    sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// New returns a Runtime bound to deps.
func New(deps Deps) *Runtime {
	return &Runtime{deps: deps, expr: NewEvaluator(), sessionLocks: make(map[string]*sync.Mutex)}
}

// sessionLock returns the mutex serializing every task-like or
// page-touching block that runs against sessionID. A for_loop's parallel
// variant (§5) forks a RunContext per iteration but shares this Runtime,
// so this is what keeps concurrent iterations from driving the same
// browser.Page at once (§4.1 single-threaded-per-page, §4.4/§5
// single-owner session).
func (r *Runtime) sessionLock(sessionID string) *sync.Mutex {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	l, ok := r.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.sessionLocks[sessionID] = l
	}
	return l
}

// usesSession mirrors orchestrator.needsSession: the block kinds that
// touch the workflow's shared browser session and so must be serialized
// per session.
func usesSession(kind domain.BlockKind) bool {
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

// Result is the outcome of one Execute call (§4.6: contract table
// "Output" column, plus the failure detail needed by the orchestrator).
// Code is drawn from the closed pkg/errors.Kind set so the orchestrator
// can record a FailureReason.Code consistent with task.Engine's, instead
// of an ad hoc string; it is only meaningful when Failed is true.
type Result struct {
	Output  any
	Failed  bool
	Message string
	Code    coreerrors.Kind
}

// Execute runs exactly one block kind (§4.6). On failure it re-renders
// parameters and retries up to block.MaxRetries with exponential
// backoff (200ms base, ×2, cap 5s, §4.6 "Retry").
func (r *Runtime) Execute(ctx context.Context, blk domain.Block, rc *wfcontext.RunContext, sessionID string) (Result, error) {
	policy := retry.Block(maxAttempts(blk.MaxRetries))
	var last Result
	err := retry.Do(ctx, r.deps.Clock, policy, nil, func(attempt int) error {
		params, rerr := r.renderInputs(blk, rc)
		if rerr != nil {
			last = Result{Failed: true, Message: rerr.Error(), Code: coreerrors.KindValidationError}
			return rerr
		}
		if sessionID != "" && usesSession(blk.Kind) {
			lock := r.sessionLock(sessionID)
			lock.Lock()
			defer lock.Unlock()
		}
		res, derr := r.dispatch(ctx, blk, rc, sessionID, params)
		last = res
		if derr != nil {
			return derr
		}
		if res.Failed {
			return fmt.Errorf("block: %s", res.Message)
		}
		return nil
	})
	if err != nil {
		last.Failed = true
		if last.Message == "" {
			last.Message = err.Error()
		}
		if last.Code == "" {
			last.Code = coreerrors.KindInternal
		}
		return last, nil
	}
	return last, nil
}

func maxAttempts(configured int) int {
	if configured <= 0 {
		return 1
	}
	return configured + 1
}

// renderInputs passes every string-typed input through the sandboxed
// renderer (§4.6 "Parameter rendering").
func (r *Runtime) renderInputs(blk domain.Block, rc *wfcontext.RunContext) (map[string]any, error) {
	out := make(map[string]any, len(blk.Inputs))
	for k, v := range blk.Inputs {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		rendered, err := rc.Render(s, blk.Strict)
		if err != nil {
			return nil, fmt.Errorf("block: render input %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func (r *Runtime) dispatch(ctx context.Context, blk domain.Block, rc *wfcontext.RunContext, sessionID string, params map[string]any) (Result, error) {
	if blk.Kind.TaskLike() {
		return r.execTaskLike(ctx, blk, params)
	}
	switch blk.Kind {
	case domain.BlockForLoop:
		return Result{}, fmt.Errorf("block: for_loop is executed by the orchestrator, not Runtime.Execute")
	case domain.BlockValidation:
		return r.execValidation(rc, blk, params)
	case domain.BlockWait:
		return r.execWait(ctx, params)
	case domain.BlockCode:
		return r.execCode(rc, params)
	case domain.BlockTextPrompt:
		return r.execTextPrompt(ctx, rc, blk, params)
	case domain.BlockPDFParser, domain.BlockFileURLParser:
		return r.execFileParser(ctx, params)
	case domain.BlockFileUpload, domain.BlockFileDownload:
		return r.execFileTransfer(ctx, blk, sessionID, params)
	case domain.BlockBlobUpload:
		return r.execBlobUpload(ctx, params)
	case domain.BlockBlobDownload:
		return r.execBlobDownload(ctx, params)
	case domain.BlockSendEmail:
		return r.execSendEmail(ctx, params)
	case domain.BlockHTTPRequest:
		return r.execHTTPRequest(ctx, params)
	case domain.BlockGotoURL:
		return r.execGotoURL(ctx, sessionID, params)
	default:
		return Result{}, fmt.Errorf("block: unknown kind %q", blk.Kind)
	}
}

func (r *Runtime) execTaskLike(ctx context.Context, blk domain.Block, params map[string]any) (Result, error) {
	data, finalURL, err := r.deps.Tasks.RunBlockTask(ctx, blk.Kind, params)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindOf(err)}, nil
	}
	return Result{Output: map[string]any{"extracted_data": data, "final_url": finalURL}}, nil
}

func (r *Runtime) execValidation(rc *wfcontext.RunContext, blk domain.Block, params map[string]any) (Result, error) {
	expression, _ := params["expression"].(string)
	vars := rc.Vars()
	for k, v := range params {
		vars[k] = v
	}
	ok, err := r.expr.EvalBool(expression, vars)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindValidationError}, nil
	}
	if !ok {
		return Result{Failed: true, Message: "validation expression evaluated false", Output: map[string]any{"valid": false}, Code: coreerrors.KindValidationError}, nil
	}
	return Result{Output: map[string]any{"valid": true}}, nil
}

func (r *Runtime) execWait(ctx context.Context, params map[string]any) (Result, error) {
	seconds, _ := params["seconds"].(float64)
	if seconds < 0 {
		seconds = 0
	}
	if seconds > 3600 {
		seconds = 3600
	}
	select {
	case <-r.deps.Clock.After(time.Duration(seconds * float64(time.Second))):
		return Result{Output: map[string]any{}}, nil
	case <-ctx.Done():
		return Result{Failed: true, Message: ctx.Err().Error(), Code: coreerrors.KindCanceled}, nil
	}
}

func (r *Runtime) execCode(rc *wfcontext.RunContext, params map[string]any) (Result, error) {
	code, _ := params["code"].(string)
	vars := rc.Vars()
	for k, v := range params {
		vars[k] = v
	}
	result, err := r.expr.EvalAny(code, vars)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindValidationError}, nil
	}
	return Result{Output: result}, nil
}

func (r *Runtime) execTextPrompt(ctx context.Context, _ *wfcontext.RunContext, _ domain.Block, params map[string]any) (Result, error) {
	prompt, _ := params["prompt"].(string)
	reply, err := r.deps.Oracle.CompleteText(ctx, prompt)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindOracleError}, nil
	}
	if reply == "" {
		return Result{Failed: true, Message: "text_prompt: empty response", Code: coreerrors.KindOracleError}, nil
	}
	return Result{Output: reply}, nil
}

// execFileParser has no dedicated Kind in the closed set (§7 lists
// neither a parse-format nor a jq-filter error); KindInternal is the
// deliberate fallback rather than inventing a one-off Kind for it.
func (r *Runtime) execFileParser(ctx context.Context, params map[string]any) (Result, error) {
	ref, _ := params["file"].(string)
	parsed, err := r.deps.Files.Parse(ctx, ref)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindInternal}, nil
	}
	filter, _ := params["jq_filter"].(string)
	projected, err := projectStructuredData(ctx, filter, parsed)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindValidationError}, nil
	}
	return Result{Output: projected}, nil
}

func (r *Runtime) execFileTransfer(ctx context.Context, blk domain.Block, sessionID string, params map[string]any) (Result, error) {
	page, driver, err := r.deps.Sessions.Page(ctx, sessionID)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindOf(err)}, nil
	}
	act := domain.Action{
		Kind:          domain.ActionUploadFile,
		ElementRef:    stringParam(params, "element_ref"),
		Text:          stringParam(params, "path"),
		StopOnFailure: true,
	}
	if blk.Kind == domain.BlockFileDownload {
		act.Kind = domain.ActionDownloadFile
	}
	scraper := scrape.New(driver, r.deps.Clock)
	scraped, err := scraper.Scrape(ctx, page, scrape.DefaultOptions())
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindPageUnresponsive}, nil
	}
	executor := browseraction.New(driver, scraper, r.deps.Clock)
	result, _, err := executor.Apply(ctx, page, scraped, act)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindInternal}, nil
	}
	if !result.Success {
		// result.ExceptionKind uses the executor's own names, so the
		// ones with a counterpart are mapped onto the closed Kind set.
		code := coreerrors.KindInternal
		switch result.ExceptionKind {
		case browseraction.ExceptionElementNotFound:
			code = coreerrors.KindElementNotFound
		case browseraction.ExceptionElementNotStable:
			code = coreerrors.KindElementNotStable
		case browseraction.ExceptionOptionNotFound:
			code = coreerrors.KindOptionNotFound
		}
		return Result{Failed: true, Message: string(result.ExceptionKind), Code: code}, nil
	}
	return Result{Output: map[string]any{"file_ref": result.Data}}, nil
}

func (r *Runtime) execBlobUpload(ctx context.Context, params map[string]any) (Result, error) {
	content := stringParam(params, "content")
	contentType := stringParam(params, "content_type")
	uri, err := r.deps.Blobs.Put(ctx, []byte(content), contentType)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindBlobStoreError}, nil
	}
	return Result{Output: map[string]any{"uri": uri}}, nil
}

func (r *Runtime) execBlobDownload(ctx context.Context, params map[string]any) (Result, error) {
	uri := stringParam(params, "uri")
	data, err := r.deps.Blobs.Get(ctx, uri)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindBlobStoreError}, nil
	}
	return Result{Output: map[string]any{"uri": uri, "bytes": data}}, nil
}

// execSendEmail has no dedicated Kind in the closed set; KindInternal is
// the deliberate fallback rather than inventing a one-off Kind for it.
func (r *Runtime) execSendEmail(ctx context.Context, params map[string]any) (Result, error) {
	msg := email.Message{
		To:      stringSliceParam(params, "to"),
		Subject: stringParam(params, "subject"),
		Body:    stringParam(params, "body"),
	}
	msgID, err := r.deps.Email.Send(ctx, msg)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindInternal}, nil
	}
	return Result{Output: map[string]any{"provider_msg_id": msgID}}, nil
}

func (r *Runtime) execGotoURL(ctx context.Context, sessionID string, params map[string]any) (Result, error) {
	page, driver, err := r.deps.Sessions.Page(ctx, sessionID)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindOf(err)}, nil
	}
	url := stringParam(params, "url")
	if err := driver.Goto(ctx, page, url, 30*time.Second); err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindPageUnresponsive}, nil
	}
	return Result{Output: map[string]any{"final_url": url}}, nil
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func stringSliceParam(params map[string]any, key string) []string {
	raw, ok := params[key].([]string)
	if ok {
		return raw
	}
	if anys, ok := params[key].([]any); ok {
		out := make([]string, 0, len(anys))
		for _, v := range anys {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := params[key].(string); ok {
		return []string{s}
	}
	return nil
}
