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

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyvern-go/skyrun/internal/clock"
	"github.com/skyvern-go/skyrun/internal/domain"
)

func TestAllowUnderQuotaSucceeds(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(fc)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("org-1", "/tasks", domain.TierFree))
	}
	assert.Equal(t, domain.TierFree.HourlyQuota()-5, l.Remaining("org-1", "/tasks", domain.TierFree))
}

func TestAllowExhaustsHourlyQuota(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(fc)
	quota := domain.TierFree.HourlyQuota()
	for i := 0; i < quota; i++ {
		fc.Advance(2 * time.Second)
		require.NoError(t, l.Allow("org-1", "/tasks", domain.TierFree))
	}
	fc.Advance(2 * time.Second)
	err := l.Allow("org-1", "/tasks", domain.TierFree)
	require.Error(t, err)
	var rlErr *RateLimitedError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "org-1", rlErr.Tenant)
}

func TestAllowResetsOnNewHour(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 59, 0, 0, time.UTC))
	l := New(fc)
	quota := domain.TierEnterprise.HourlyQuota()
	for i := 0; i < quota; i++ {
		require.NoError(t, l.Allow("org-2", "/tasks", domain.TierEnterprise))
	}
	require.Error(t, l.Allow("org-2", "/tasks", domain.TierEnterprise))

	fc.Advance(2 * time.Minute)
	require.NoError(t, l.Allow("org-2", "/tasks", domain.TierEnterprise))
}

func TestAllowBurstLimitCapsInstantFlood(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(fc)
	quota := domain.TierFree.HourlyQuota()
	var rateLimited int
	for i := 0; i < quota+5; i++ {
		if err := l.Allow("org-3", "/tasks", domain.TierFree); err != nil {
			rateLimited++
		}
	}
	assert.Greater(t, rateLimited, 0)
}

func TestAllowSeparatesTenantsAndEndpoints(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(fc)
	require.NoError(t, l.Allow("org-a", "/tasks", domain.TierFree))
	require.NoError(t, l.Allow("org-b", "/tasks", domain.TierFree))
	require.NoError(t, l.Allow("org-a", "/workflows", domain.TierFree))
	assert.Equal(t, domain.TierFree.HourlyQuota()-1, l.Remaining("org-a", "/tasks", domain.TierFree))
	assert.Equal(t, domain.TierFree.HourlyQuota()-1, l.Remaining("org-b", "/tasks", domain.TierFree))
}
