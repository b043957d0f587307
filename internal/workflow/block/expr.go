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

package block

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and caches expressions for the validation block
// (boolean condition against RunContext variables) and the code block
// (sandboxed evaluator with no filesystem or network access, per §4.6).
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator returns an empty Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

func (e *Evaluator) compile(expression string, opts ...expr.Option) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

// EvalBool evaluates expression against vars and requires a boolean
// result, for the validation block (§4.6).
func (e *Evaluator) EvalBool(expression string, vars map[string]any) (bool, error) {
	prog, err := e.compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("block: compile validation expression: %w", err)
	}
	result, err := expr.Run(prog, vars)
	if err != nil {
		return false, fmt.Errorf("block: evaluate validation expression: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("block: validation expression returned %T, want bool", result)
	}
	return b, nil
}

// EvalAny evaluates expression against vars and returns its raw result,
// for the code block (§4.6): "Run caller-supplied code in a sandboxed
// evaluator with read access to RunContext variables and no
// filesystem/network". expr's expression language has no I/O or
// arbitrary statement execution, so this satisfies the sandbox by
// construction rather than by an allow/deny list.
func (e *Evaluator) EvalAny(expression string, vars map[string]any) (any, error) {
	prog, err := e.compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("block: compile code expression: %w", err)
	}
	result, err := expr.Run(prog, vars)
	if err != nil {
		return nil, fmt.Errorf("block: evaluate code expression: %w", err)
	}
	return result, nil
}
