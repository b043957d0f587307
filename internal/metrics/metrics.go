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

// Package metrics collects OpenTelemetry instruments for the execution
// substrate (run/task/block durations, session pool occupancy, webhook
// delivery outcomes) and exposes them to Prometheus via the OTel
// Prometheus exporter, scoped to browser-session and workflow-run
// concerns.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider owns the OTel meter provider and its Prometheus exporter. Call
// Handler to mount the scrape endpoint and Shutdown on daemon exit.
type Provider struct {
	mp       *sdkmetric.MeterProvider
	exporter *prometheus.Exporter
}

// NewProvider wires an OTel MeterProvider to a Prometheus exporter.
func NewProvider() (*Provider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return &Provider{mp: mp, exporter: exporter}, nil
}

// Handler returns the /metrics scrape endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

// Meter returns the underlying MeterProvider, for NewCollector.
func (p *Provider) Meter() metric.MeterProvider {
	return p.mp
}

// Shutdown flushes and releases the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// Collector holds the instruments the orchestrator, task engine and
// session manager report against. One Collector is shared process-wide.
type Collector struct {
	runsTotal     metric.Int64Counter
	runDuration   metric.Float64Histogram
	tasksTotal    metric.Int64Counter
	taskDuration  metric.Float64Histogram
	stepsTotal    metric.Int64Counter
	blockDuration metric.Float64Histogram
	sessionsInUse metric.Int64UpDownCounter
	webhookTotal  metric.Int64Counter
}

// NewCollector registers every instrument against the given meter
// provider's "skyrun" meter. A nil provider yields a no-op Collector so
// callers can construct one unconditionally in tests.
func NewCollector(mp metric.MeterProvider) (*Collector, error) {
	if mp == nil {
		return &Collector{}, nil
	}
	meter := mp.Meter("skyrun")

	c := &Collector{}
	var err error

	if c.runsTotal, err = meter.Int64Counter("skyrun_workflow_runs_total",
		metric.WithDescription("Workflow runs by terminal status"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if c.runDuration, err = meter.Float64Histogram("skyrun_workflow_run_duration_seconds",
		metric.WithDescription("Workflow run wall-clock duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if c.tasksTotal, err = meter.Int64Counter("skyrun_tasks_total",
		metric.WithDescription("Tasks by terminal status"),
		metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if c.taskDuration, err = meter.Float64Histogram("skyrun_task_duration_seconds",
		metric.WithDescription("Task wall-clock duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if c.stepsTotal, err = meter.Int64Counter("skyrun_steps_total",
		metric.WithDescription("Steps executed by outcome"),
		metric.WithUnit("{step}")); err != nil {
		return nil, err
	}
	if c.blockDuration, err = meter.Float64Histogram("skyrun_block_duration_seconds",
		metric.WithDescription("Workflow block execution duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if c.sessionsInUse, err = meter.Int64UpDownCounter("skyrun_sessions_in_use",
		metric.WithDescription("Browser sessions currently checked out of the pool"),
		metric.WithUnit("{session}")); err != nil {
		return nil, err
	}
	if c.webhookTotal, err = meter.Int64Counter("skyrun_webhook_deliveries_total",
		metric.WithDescription("Webhook delivery attempts by outcome"),
		metric.WithUnit("{delivery}")); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) RecordRun(ctx context.Context, status string, seconds float64) {
	if c == nil || c.runsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(statusAttr(status))
	c.runsTotal.Add(ctx, 1, attrs)
	c.runDuration.Record(ctx, seconds, attrs)
}

func (c *Collector) RecordTask(ctx context.Context, status string, seconds float64) {
	if c == nil || c.tasksTotal == nil {
		return
	}
	attrs := metric.WithAttributes(statusAttr(status))
	c.tasksTotal.Add(ctx, 1, attrs)
	c.taskDuration.Record(ctx, seconds, attrs)
}

func (c *Collector) RecordStep(ctx context.Context, outcome string) {
	if c == nil || c.stepsTotal == nil {
		return
	}
	c.stepsTotal.Add(ctx, 1, metric.WithAttributes(statusAttr(outcome)))
}

func (c *Collector) RecordBlock(ctx context.Context, kind string, seconds float64) {
	if c == nil || c.blockDuration == nil {
		return
	}
	c.blockDuration.Record(ctx, seconds, metric.WithAttributes(statusAttr(kind)))
}

func (c *Collector) SessionAcquired(ctx context.Context) {
	if c == nil || c.sessionsInUse == nil {
		return
	}
	c.sessionsInUse.Add(ctx, 1)
}

func (c *Collector) SessionReleased(ctx context.Context) {
	if c == nil || c.sessionsInUse == nil {
		return
	}
	c.sessionsInUse.Add(ctx, -1)
}

func (c *Collector) RecordWebhook(ctx context.Context, outcome string) {
	if c == nil || c.webhookTotal == nil {
		return
	}
	c.webhookTotal.Add(ctx, 1, metric.WithAttributes(statusAttr(outcome)))
}

func statusAttr(v string) attribute.KeyValue {
	return attribute.String("status", v)
}
