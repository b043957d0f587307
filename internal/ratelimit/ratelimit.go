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

// Package ratelimit enforces the per-tenant hourly quota and per-minute
// burst limit of §5: "a rolling-window counter keyed by (tenant,
// endpoint, hour) plus a short-window burst counter (per-minute)". The
// burst counter is a token bucket from golang.org/x/time/rate.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
)

// RateLimitedError is returned by Allow when a tenant is over quota.
type RateLimitedError struct {
	Tenant     string
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ratelimit: %s/%s over quota, retry after %v", e.Tenant, e.Endpoint, e.RetryAfter)
}

type bucketKey struct {
	tenant   string
	endpoint string
}

// hourBucket is the rolling-window counter for one (tenant, endpoint,
// hour): it resets whenever wall-clock crosses into a new hour.
type hourBucket struct {
	hour  time.Time
	count int
}

// Limiter enforces §5's quota model. One Limiter instance is shared
// across a process; callers look up quota per call by the tenant's
// domain.RateTier.
type Limiter struct {
	mu     sync.Mutex
	clock  clock.Clock
	hourly map[bucketKey]*hourBucket
	burst  map[bucketKey]*rate.Limiter
}

// New returns an empty Limiter.
func New(clk clock.Clock) *Limiter {
	return &Limiter{
		clock:  clk,
		hourly: make(map[bucketKey]*hourBucket),
		burst:  make(map[bucketKey]*rate.Limiter),
	}
}

// Allow checks and (on success) consumes one unit of quota for
// (tenant, endpoint) under tier's hourly budget. It returns a
// *RateLimitedError carrying retry_after when over either the hourly or
// the burst limit (§5, §7 "RateLimited").
func (l *Limiter) Allow(tenant, endpoint string, tier domain.RateTier) error {
	key := bucketKey{tenant: tenant, endpoint: endpoint}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	burstLimiter, ok := l.burst[key]
	if !ok {
		// The burst bucket starts full at the tier's hourly quota and
		// refills over a 60s window (§5 "short-window burst counter
		// (per-minute)"): a caller may spend its whole quota
		// immediately, but sustained overuse beyond quota/minute is
		// throttled independently of the rolling hourly counter.
		quota := tier.HourlyQuota()
		burstLimiter = rate.NewLimiter(rate.Limit(quota)/60, quota)
		l.burst[key] = burstLimiter
	}
	if !burstLimiter.AllowN(now, 1) {
		return &RateLimitedError{Tenant: tenant, Endpoint: endpoint, RetryAfter: time.Second}
	}

	hour := now.Truncate(time.Hour)
	b, ok := l.hourly[key]
	if !ok || !b.hour.Equal(hour) {
		b = &hourBucket{hour: hour}
		l.hourly[key] = b
	}

	quota := tier.HourlyQuota()
	if b.count >= quota {
		return &RateLimitedError{Tenant: tenant, Endpoint: endpoint, RetryAfter: b.hour.Add(time.Hour).Sub(now)}
	}
	b.count++
	return nil
}

// Remaining reports how many hourly-quota requests are left for
// (tenant, endpoint) under tier, for surfacing in API responses.
func (l *Limiter) Remaining(tenant, endpoint string, tier domain.RateTier) int {
	key := bucketKey{tenant: tenant, endpoint: endpoint}
	now := l.clock.Now()
	hour := now.Truncate(time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.hourly[key]
	if !ok || !b.hour.Equal(hour) {
		return tier.HourlyQuota()
	}
	remaining := tier.HourlyQuota() - b.count
	if remaining < 0 {
		return 0
	}
	return remaining
}
