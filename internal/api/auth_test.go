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
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, secret []byte, orgID, tier string) string {
	t.Helper()
	claims := tenantClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		OrgID:            orgID,
		Tier:             tier,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestTenantAuthenticatorNilSecretDisabled(t *testing.T) {
	var auth *TenantAuthenticator
	var reached bool
	h := auth.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached = true }))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/1", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, reached)
}

func TestTenantAuthenticatorRejectsMissingToken(t *testing.T) {
	auth := &TenantAuthenticator{Secret: []byte("s3cr3t")}
	h := auth.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTenantAuthenticatorAcceptsValidToken(t *testing.T) {
	secret := []byte("s3cr3t")
	auth := &TenantAuthenticator{Secret: secret}

	var resolved tenantInfo
	h := auth.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved = tenantFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/1", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, secret, "org-1", "pro"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "org-1", resolved.OrgID)
	assert.EqualValues(t, "pro", resolved.Tier)
}
