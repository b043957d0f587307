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

// Package secretsapi frames the external SecretsProvider capability
// (§6.4) and the redaction mask every registered secret value must pass
// through before it reaches a log line or an artifact payload (§4.8).
package secretsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Provider resolves a named secret to its value. Implementations talk to
// a vault, environment, or keychain; the core never logs the result.
type Provider interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// ErrNotFound is returned by a Provider when name has no value.
type ErrNotFound struct{ Name string }

func (e ErrNotFound) Error() string { return fmt.Sprintf("secret %q not found", e.Name) }

// Masker tracks resolved secret values and scrubs them from strings and
// nested data structures. Grounded on the pattern of matching a small set
// of sensitive-value substrings and replacing them outright, rather than
// attempting field-name heuristics, so the mask works on arbitrary
// artifact payloads (scraped HTML, extracted_data) not just config maps.
type Masker struct {
	mu      sync.RWMutex
	secrets map[string]struct{}
}

// NewMasker returns an empty Masker. Register values with Add as they
// are resolved from a Provider.
func NewMasker() *Masker {
	return &Masker{secrets: make(map[string]struct{})}
}

// Add registers a resolved secret value for masking. Empty values are
// ignored so masking can't accidentally blank out ordinary text.
func (m *Masker) Add(value string) {
	if value == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[value] = struct{}{}
}

// Mask replaces every occurrence of a registered secret value in s with
// "***".
func (m *Masker) Mask(s string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := s
	for secret := range m.secrets {
		if strings.Contains(result, secret) {
			result = strings.ReplaceAll(result, secret, "***")
		}
	}
	return result
}

// MaskValue recursively masks secrets found anywhere inside an
// artifact-shaped value (maps, slices, strings) before it is persisted
// or logged.
func (m *Masker) MaskValue(v any) any {
	switch val := v.(type) {
	case string:
		return m.Mask(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = m.MaskValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = m.MaskValue(item)
		}
		return out
	default:
		return val
	}
}

// MaskJSON masks secrets inside a JSON-encoded payload, falling back to
// plain string masking if the payload does not parse as JSON.
func (m *Masker) MaskJSON(payload string) string {
	var data any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return m.Mask(payload)
	}
	masked := m.MaskValue(data)
	out, err := json.Marshal(masked)
	if err != nil {
		return m.Mask(payload)
	}
	return string(out)
}

// ResolvingProvider wraps a Provider so that every resolved value is
// automatically registered with a Masker, satisfying the §6.4 guarantee
// that "the core never logs" a secret once it has been resolved once.
type ResolvingProvider struct {
	Provider Provider
	Masker   *Masker
}

func (p *ResolvingProvider) Resolve(ctx context.Context, name string) (string, error) {
	v, err := p.Provider.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	if p.Masker != nil {
		p.Masker.Add(v)
	}
	return v, nil
}
