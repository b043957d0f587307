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

// Package webhook delivers the outbound run/task lifecycle notifications
// of §6.6, retrying with the exponential-backoff policy of §4.5/§4.7.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/metrics"
	"github.com/skyvern-go/skyrun/internal/retry"
)

// Event is the closed set of webhook event names (§6.6).
type Event string

const (
	EventTaskCreated         Event = "task.created"
	EventTaskCompleted       Event = "task.completed"
	EventTaskFailed          Event = "task.failed"
	EventTaskCanceled        Event = "task.canceled"
	EventWorkflowRunCompleted Event = "workflow_run.completed"
	EventWorkflowRunFailed    Event = "workflow_run.failed"
	EventWorkflowRunCanceled  Event = "workflow_run.canceled"
)

// Payload is the JSON body POSTed to the webhook URL (§6.6).
type Payload struct {
	Event     Event     `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Doer is the minimal http.Client surface used, so tests can substitute
// a fake transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Delivery failures do not alter task/run status (§4.5); callers should
// log the returned error and move on.
type Delivery struct {
	Client  Doer
	Clock   clock.Clock
	Policy  retry.Policy
	Logger  *slog.Logger
	Metrics *metrics.Collector // optional; nil-safe, records nothing
}

// NewDelivery returns a Delivery using the default retry policy (200ms
// base, cap 30s, 5 attempts, per §4.5).
func NewDelivery(client Doer, clk clock.Clock, logger *slog.Logger) *Delivery {
	if client == nil {
		client = http.DefaultClient
	}
	return &Delivery{Client: client, Clock: clk, Policy: retry.Default(), Logger: logger}
}

// Send POSTs payload to url, retrying transient failures. It never
// returns an error that should affect caller state beyond logging: per
// §4.5 "failures are logged but do not alter task status" — callers
// should log the returned error and continue rather than propagate it
// into a task/run's failure_reason.
func (d *Delivery) Send(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	err = retry.Do(ctx, d.Clock, d.Policy, nil, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-Id", payload.RequestID)

		resp, err := d.Client.Do(req)
		if err != nil {
			d.logAttempt(attempt, err)
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		err = fmt.Errorf("webhook: non-2xx status %d", resp.StatusCode)
		d.logAttempt(attempt, err)
		return err
	})
	if err != nil {
		d.Metrics.RecordWebhook(ctx, "failed")
	} else {
		d.Metrics.RecordWebhook(ctx, "delivered")
	}
	return err
}

func (d *Delivery) logAttempt(attempt int, err error) {
	if d.Logger == nil {
		return
	}
	d.Logger.Warn("webhook delivery attempt failed", "attempt", attempt, "error", err)
}
