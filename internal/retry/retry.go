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

// Package retry implements the exponential-backoff policy (C9, §4.9)
// shared by webhook delivery and block retries. The backoff curve is computed by
// cenkalti/backoff/v5; this package owns the attempt loop, context and
// cancel-signal plumbing, mirroring the retry loop shape of the
// teacher's pkg/httpclient retry transport but generalized beyond HTTP.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/skyvern-go/skyrun/internal/clock"
)

// Policy configures exponential backoff per spec.md §4.9:
// {base_ms, factor, cap_ms, max_attempts, jitter}.
type Policy struct {
	BaseMS      int
	Factor      float64
	CapMS       int
	MaxAttempts int
	Jitter      bool
}

// Default matches the webhook delivery policy in §4.5/§4.7: 200ms base,
// cap 30s, 5 attempts.
func Default() Policy {
	return Policy{BaseMS: 200, Factor: 2, CapMS: 30_000, MaxAttempts: 5, Jitter: true}
}

// Block matches the block retry policy in §4.6: 200ms base, cap 5s.
func Block(maxAttempts int) Policy {
	return Policy{BaseMS: 200, Factor: 2, CapMS: 5_000, MaxAttempts: maxAttempts, Jitter: true}
}

func (p Policy) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(p.BaseMS) * time.Millisecond
	b.Multiplier = p.Factor
	b.MaxInterval = time.Duration(p.CapMS) * time.Millisecond
	if !p.Jitter {
		b.RandomizationFactor = 0
	}
	return b
}

// Canceler lets callers short-circuit retries on a fired cancel.Signal
// without this package importing internal/cancel, avoiding an import
// cycle risk as the cancel package grows.
type Canceler interface {
	Fired() bool
	Done() <-chan struct{}
}

// Do runs fn up to policy.MaxAttempts times, sleeping with exponential
// backoff between failed attempts. It returns the last error if all
// attempts fail, or nil on the first success. A fired cancel signal or a
// canceled context aborts retries immediately without consuming an
// attempt's worth of backoff sleep.
func Do(ctx context.Context, clk clock.Clock, policy Policy, cancel Canceler, fn func(attempt int) error) error {
	b := policy.backoff()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if cancel != nil && cancel.Fired() {
			return ctx.Err()
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts {
			break
		}
		d := b.NextBackOff()
		var done <-chan struct{}
		if cancel != nil {
			done = cancel.Done()
		}
		select {
		case <-clk.After(d):
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return ctx.Err()
		}
	}
	return lastErr
}
