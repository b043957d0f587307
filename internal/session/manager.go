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

// Package session implements BrowserSessionManager (§4.4): the owner of
// the universe of live browser sessions, their pool limits, state
// machine, health recovery and workflow_run sharing rule.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
	"github.com/skyvern-go/skyrun/internal/metrics"
	"github.com/skyvern-go/skyrun/internal/storage"
)

// Limits configures the pool model of §4.4: global max G, per-tenant max
// T, acquisition wait and idle TTL.
type Limits struct {
	GlobalMax       int
	PerTenantMax    int
	AcquireTimeout  time.Duration
	IdleTTL         time.Duration
	MaxRecoveries   int
}

// DefaultLimits matches the §4.4 defaults: 100 global, 10 per tenant,
// 30s acquisition wait, 15 min idle TTL, 3 recoveries before errored.
func DefaultLimits() Limits {
	return Limits{
		GlobalMax:      100,
		PerTenantMax:   10,
		AcquireTimeout: 30 * time.Second,
		IdleTTL:        15 * time.Minute,
		MaxRecoveries:  3,
	}
}

// AcquisitionTimeoutError is returned by Acquire when the bounded wait
// elapses without a free slot (§4.4).
type AcquisitionTimeoutError struct{ Tenant string }

func (e *AcquisitionTimeoutError) Error() string {
	return fmt.Sprintf("session: acquisition timeout for tenant %q", e.Tenant)
}

// SessionReplacedError is surfaced to a consumer holding a session whose
// driver died and was replaced (§4.4 "Health & recovery"); the consumer
// must restart its current step.
type SessionReplacedError struct{ SessionID string }

func (e *SessionReplacedError) Error() string {
	return fmt.Sprintf("session: %s was replaced after driver failure", e.SessionID)
}

// live is the in-memory half of a session: the record plus its driver
// handle and page set, never persisted directly (§4.4 Persistence).
type live struct {
	record *domain.BrowserSession
	driver browser.Driver
	pages  []browser.Page
	mu     sync.Mutex // serializes workflow_run-scoped sharing (§4.4)
}

// DriverFactory launches a new browser.Driver for a fresh session.
type DriverFactory func(ctx context.Context, cfg browser.LaunchConfig) (browser.Driver, error)

// Manager implements BrowserSessionManager (C4).
type Manager struct {
	limits  Limits
	store   storage.SessionStore
	clock   clock.Clock
	newDrv  DriverFactory

	mu       sync.Mutex
	byID     map[string]*live
	byKey    map[string]string // (orgID, scope, runRef) -> session id, for workflow_run sharing
	tenants  map[string]int    // orgID -> in-flight count
	global   int

	metrics *metrics.Collector // optional; nil-safe, records nothing
}

// New returns a Manager bound to store for session identity records.
func New(store storage.SessionStore, clk clock.Clock, newDrv DriverFactory, limits Limits) *Manager {
	return &Manager{
		limits:  limits,
		store:   store,
		clock:   clk,
		newDrv:  newDrv,
		byID:    make(map[string]*live),
		byKey:   make(map[string]string),
		tenants: make(map[string]int),
	}
}

// WithMetrics attaches a Collector that records pool occupancy as
// sessions are created and closed; it may be called once after New.
func (m *Manager) WithMetrics(c *metrics.Collector) *Manager {
	m.metrics = c
	return m
}

func sharingKey(orgID string, scope domain.SessionScope, runRef string) string {
	return fmt.Sprintf("%s/%s/%s", orgID, scope, runRef)
}

// Acquire finds an existing session matching (scope, tenant, run_ref),
// or creates one respecting pool limits, per §4.4. Only workflow_run
// scope is shared across callers; task scope always creates a new
// session keyed by its own run_ref.
func (m *Manager) Acquire(ctx context.Context, scope domain.SessionScope, orgID, runRef string) (*domain.BrowserSession, error) {
	deadline := m.clock.Now().Add(m.limits.AcquireTimeout)
	for {
		sess, _, err := m.tryAcquire(ctx, scope, orgID, runRef)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
		if !m.clock.Now().Before(deadline) {
			return nil, &AcquisitionTimeoutError{Tenant: orgID}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.clock.After(100 * time.Millisecond):
		}
	}
}

func (m *Manager) tryAcquire(ctx context.Context, scope domain.SessionScope, orgID, runRef string) (*domain.BrowserSession, bool, error) {
	m.mu.Lock()

	if scope == domain.ScopeWorkflowRun {
		key := sharingKey(orgID, scope, runRef)
		if id, ok := m.byKey[key]; ok {
			l := m.byID[id]
			m.mu.Unlock()
			l.mu.Lock()
			l.record.State = domain.SessionInUse
			l.record.LastActivity = m.clock.Now()
			rec := *l.record
			l.mu.Unlock()
			return &rec, false, nil
		}
	}

	if m.global >= m.limits.GlobalMax || m.tenants[orgID] >= m.limits.PerTenantMax {
		m.mu.Unlock()
		return nil, false, nil
	}

	m.global++
	m.tenants[orgID]++
	m.mu.Unlock()

	sess, err := m.create(ctx, scope, orgID, runRef)
	if err != nil {
		m.mu.Lock()
		m.global--
		m.tenants[orgID]--
		m.mu.Unlock()
		return nil, false, err
	}
	return sess, true, nil
}

func (m *Manager) create(ctx context.Context, scope domain.SessionScope, orgID, runRef string) (*domain.BrowserSession, error) {
	now := m.clock.Now()
	record := &domain.BrowserSession{
		ID:           domain.NewSessionID(),
		OrgID:        orgID,
		Scope:        scope,
		State:        domain.SessionCreating,
		RunRef:       runRef,
		LastActivity: now,
		CreatedAt:    now,
		ModifiedAt:   now,
	}

	drv, err := m.newDrv(ctx, browser.LaunchConfig{})
	if err != nil {
		return nil, fmt.Errorf("session: launch driver: %w", err)
	}
	if err := drv.Launch(ctx, browser.LaunchConfig{}); err != nil {
		return nil, fmt.Errorf("session: launch driver: %w", err)
	}

	record.State = domain.SessionInUse
	l := &live{record: record, driver: drv}

	m.mu.Lock()
	m.byID[record.ID] = l
	if scope == domain.ScopeWorkflowRun {
		m.byKey[sharingKey(orgID, scope, runRef)] = record.ID
	}
	m.mu.Unlock()

	if err := m.store.UpsertSession(ctx, record); err != nil {
		return nil, fmt.Errorf("session: persist record: %w", err)
	}
	m.metrics.SessionAcquired(ctx)
	rec := *record
	return &rec, nil
}

// Page returns (creating if necessary) the single page associated with
// a live session, for callers that need a browser.Page handle.
func (m *Manager) Page(ctx context.Context, sessionID string) (browser.Page, browser.Driver, error) {
	m.mu.Lock()
	l, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("session: %s not found", sessionID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pages) > 0 {
		return l.pages[0], l.driver, nil
	}
	p, err := l.driver.NewPage(ctx)
	if err != nil {
		return nil, nil, err
	}
	l.pages = append(l.pages, p)
	return p, l.driver, nil
}

// Release returns a session to the pool, or closes it per scope rules
// (§4.4): task-scoped sessions are closed on release; workflow_run and
// persistent sessions go idle unless cleanup is requested.
func (m *Manager) Release(ctx context.Context, sessionID string, cleanup bool) error {
	m.mu.Lock()
	l, ok := m.byID[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	l.mu.Lock()
	scope := l.record.Scope
	l.mu.Unlock()

	if cleanup || scope == domain.ScopeTask {
		return m.close(ctx, sessionID)
	}

	l.mu.Lock()
	l.record.State = domain.SessionIdle
	l.record.LastActivity = m.clock.Now()
	rec := *l.record
	l.mu.Unlock()
	return m.store.UpsertSession(ctx, &rec)
}

func (m *Manager) close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	l, ok := m.byID[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.byID, sessionID)
	for k, id := range m.byKey {
		if id == sessionID {
			delete(m.byKey, k)
		}
	}
	m.global--
	m.tenants[l.record.OrgID]--
	m.mu.Unlock()

	l.mu.Lock()
	l.record.State = domain.SessionReleased
	l.mu.Unlock()

	if err := l.driver.Close(ctx); err != nil {
		return fmt.Errorf("session: close driver: %w", err)
	}
	m.metrics.SessionReleased(ctx)
	return m.store.DeleteSession(ctx, sessionID)
}

// Persist marks a session as surviving task end, recording identity so
// it can be reconstructed after a process restart (§4.4 Persistence).
func (m *Manager) Persist(ctx context.Context, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	l, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: %s not found", sessionID)
	}
	l.mu.Lock()
	l.record.Scope = domain.ScopePersistent
	l.record.PersistentTTL = ttl
	rec := *l.record
	l.mu.Unlock()
	return m.store.UpsertSession(ctx, &rec)
}

// CleanupForTask releases every session whose RunRef is taskID (scope
// task), per §4.4.
func (m *Manager) CleanupForTask(ctx context.Context, taskID string) error {
	return m.cleanupByRunRef(ctx, domain.ScopeTask, taskID)
}

// CleanupForWorkflowRun releases the shared session for a workflow run,
// per §4.4.
func (m *Manager) CleanupForWorkflowRun(ctx context.Context, runID string) error {
	return m.cleanupByRunRef(ctx, domain.ScopeWorkflowRun, runID)
}

func (m *Manager) cleanupByRunRef(ctx context.Context, scope domain.SessionScope, runRef string) error {
	m.mu.Lock()
	var ids []string
	for id, l := range m.byID {
		l.mu.Lock()
		if l.record.Scope == scope && l.record.RunRef == runRef {
			ids = append(ids, id)
		}
		l.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.close(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck probes driver liveness (§4.4). A healthy driver reports
// Healthy. An unhealthy driver counts one recovery attempt and reports
// Degraded; once Limits.MaxRecoveries attempts have been counted, the
// session is forced to errored and the call returns Unhealthy with a
// SessionReplacedError, on which callers restart their step. It opens
// no replacement page or context and does not replace the driver.
func (m *Manager) HealthCheck(ctx context.Context, sessionID string) (domain.HealthStatus, error) {
	m.mu.Lock()
	l, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return domain.Unhealthy, fmt.Errorf("session: %s not found", sessionID)
	}

	if l.driver.Healthy(ctx) {
		return domain.Healthy, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.record.RecoveryCount >= m.limits.MaxRecoveries {
		l.record.State = domain.SessionErrored
		_ = m.store.UpsertSession(ctx, l.record)
		return domain.Unhealthy, &SessionReplacedError{SessionID: sessionID}
	}
	l.record.RecoveryCount++
	l.record.State = domain.SessionActive
	_ = m.store.UpsertSession(ctx, l.record)
	return domain.Degraded, nil
}

// IdleExpire closes any idle session whose last activity is older than
// Limits.IdleTTL, for a daemon-level janitor loop.
func (m *Manager) IdleExpire(ctx context.Context) error {
	m.mu.Lock()
	var expired []string
	now := m.clock.Now()
	for id, l := range m.byID {
		l.mu.Lock()
		if l.record.State == domain.SessionIdle && now.Sub(l.record.LastActivity) > m.limits.IdleTTL {
			expired = append(expired, id)
		}
		l.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.close(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
