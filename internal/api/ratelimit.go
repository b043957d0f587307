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

package api

import (
	"net/http"
	"strconv"

	"github.com/skyvern-go/skyrun/internal/ratelimit"
	coreerrors "github.com/skyvern-go/skyrun/pkg/errors"
)

// rateLimitMiddleware enforces §5's per-(tenant, endpoint) quota ahead
// of every handler. A nil limiter disables enforcement.
func rateLimitMiddleware(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFromContext(r.Context())
		endpoint := r.Method + " " + r.Pattern

		if err := limiter.Allow(tenant.OrgID, endpoint, tenant.Tier); err != nil {
			if rle, ok := err.(*ratelimit.RateLimitedError); ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
			}
			writeErrorKind(w, coreerrors.KindRateLimited, err.Error(), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
