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

// Package context implements RunContext / ParameterRegistry (§4.8): a
// write-once parameter map with a stack of loop scopes, a sandboxed
// template renderer, and secret redaction.
package context

import (
	stdctx "context"
	"fmt"
	"sync"

	"github.com/skyvern-go/skyrun/internal/secretsapi"
)

// ErrAlreadySet is returned by Set when name has already been written,
// except for the block-output-on-retry exception (§4.8).
type ErrAlreadySet struct{ Name string }

func (e *ErrAlreadySet) Error() string {
	return fmt.Sprintf("context: %q already set (write-once)", e.Name)
}

// ErrUndefined is returned by Get for an unknown name.
type ErrUndefined struct{ Name string }

func (e *ErrUndefined) Error() string {
	return fmt.Sprintf("context: %q is undefined", e.Name)
}

// scope is one frame of the loop-variable stack (§4.8 "Scopes are
// stack-structured").
type scope struct {
	vars map[string]any
}

// RunContext implements ParameterRegistry (C8) for one workflow run.
type RunContext struct {
	mu       sync.RWMutex
	params   map[string]any
	scopes   []scope
	secrets  secretsapi.Provider
	masker   *secretsapi.Masker
}

// New returns an empty RunContext. masker may be nil if redaction is not
// required by the caller (tests).
func New(secrets secretsapi.Provider, masker *secretsapi.Masker) *RunContext {
	return &RunContext{
		params:  make(map[string]any),
		secrets: secrets,
		masker:  masker,
	}
}

// Get resolves name by searching loop scopes top-down, then the
// write-once parameter map (§4.8).
func (c *RunContext) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if v, ok := c.scopes[i].vars[name]; ok {
			return v, true
		}
	}
	if v, ok := c.params[name]; ok {
		return v, true
	}
	return nil, false
}

// Vars returns a flattened snapshot of every name currently resolvable
// by Get — params overlaid by scopes, top-down — for callers (the
// validation and code blocks' expression evaluator) that need a plain
// map rather than one name at a time.
func (c *RunContext) Vars() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	for _, s := range c.scopes {
		for k, v := range s.vars {
			out[k] = v
		}
	}
	return out
}

// Set writes name once. allowOverwrite covers the §4.8 exception: a
// block output being re-recorded after a retry.
func (c *RunContext) Set(name string, value any, allowOverwrite bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.params[name]; exists && !allowOverwrite {
		return &ErrAlreadySet{Name: name}
	}
	c.params[name] = value
	return nil
}

// PushScope pushes a new loop-variable frame (§4.8, for for_loop
// iteration) and returns a function that pops it.
func (c *RunContext) PushScope(vars map[string]any) func() {
	c.mu.Lock()
	c.scopes = append(c.scopes, scope{vars: vars})
	depth := len(c.scopes)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.scopes) >= depth {
			c.scopes = c.scopes[:depth-1]
		}
	}
}

// Fork returns an isolated RunContext seeded with a flattened snapshot
// of c's current params/scopes plus vars as its first scope frame.
// Writes through the fork (nested Set/PushScope calls) never reach c —
// this is what lets bounded-parallel for_loop give each concurrent
// iteration its own scope stack instead of racing on c's.
func (c *RunContext) Fork(vars map[string]any) *RunContext {
	fork := &RunContext{
		params:  c.Vars(),
		scopes:  []scope{{vars: vars}},
		secrets: c.secrets,
		masker:  c.masker,
	}
	return fork
}

// Secret resolves name via the SecretsProvider and registers its value
// with the masker so future log/artifact output redacts it (§4.8).
func (c *RunContext) Secret(ctx stdctx.Context, name string) (string, error) {
	if c.secrets == nil {
		return "", fmt.Errorf("context: no secrets provider configured")
	}
	val, err := c.secrets.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	if c.masker != nil {
		c.masker.Add(val)
	}
	return val, nil
}
