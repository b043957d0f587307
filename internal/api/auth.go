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
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skyvern-go/skyrun/internal/domain"
	coreerrors "github.com/skyvern-go/skyrun/pkg/errors"
)

type tenantContextKey struct{}

// tenantInfo is what the REST layer resolves a verified bearer token
// down to before handing a request to a handler: everything downstream
// of this middleware deals in TenantID, never the token itself.
type tenantInfo struct {
	OrgID string
	Tier  domain.RateTier
}

// tenantClaims is the JWT payload shape behind an opaque API key
// (§6.1 "opaque API key mapped to organization"). The core never
// inspects the key; issuing and rotating it is out of scope here.
type tenantClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
	Tier  string `json:"tier"`
}

// TenantAuthenticator verifies the bearer token on every request and
// resolves it to a tenantInfo carried on the request context. A nil
// Secret disables verification entirely, so the daemon is runnable
// without an identity provider wired in.
type TenantAuthenticator struct {
	Secret []byte
	Logger *slog.Logger
}

func (a *TenantAuthenticator) middleware(next http.Handler) http.Handler {
	if a == nil || len(a.Secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			writeErrorKind(w, coreerrors.KindUnauthorized, "missing bearer token", a.Logger)
			return
		}

		claims := &tenantClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return a.Secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || claims.OrgID == "" {
			writeErrorKind(w, coreerrors.KindUnauthorized, "invalid bearer token", a.Logger)
			return
		}

		tier := domain.RateTier(claims.Tier)
		if tier == "" {
			tier = domain.TierFree
		}
		ctx := context.WithValue(r.Context(), tenantContextKey{}, tenantInfo{OrgID: claims.OrgID, Tier: tier})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantFromContext returns the verified tenant for r, or a zero-value
// "anonymous" tenant at the free tier when no TenantAuthenticator is
// wired in.
func tenantFromContext(ctx context.Context) tenantInfo {
	if t, ok := ctx.Value(tenantContextKey{}).(tenantInfo); ok {
		return t
	}
	return tenantInfo{OrgID: "anonymous", Tier: domain.TierFree}
}
