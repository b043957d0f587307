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

package context

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetIsWriteOnce(t *testing.T) {
	c := New(nil, nil)
	require.NoError(t, c.Set("x", 1, false))
	err := c.Set("x", 2, false)
	require.Error(t, err)
	var already *ErrAlreadySet
	require.ErrorAs(t, err, &already)
}

func TestSetAllowsOverwriteForRetry(t *testing.T) {
	c := New(nil, nil)
	require.NoError(t, c.Set("block_out", "v1", false))
	require.NoError(t, c.Set("block_out", "v2", true))
	v, ok := c.Get("block_out")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestPushScopeShadowsAndPops(t *testing.T) {
	c := New(nil, nil)
	require.NoError(t, c.Set("current_item", "outer", false))

	pop := c.PushScope(map[string]any{"current_item": "inner"})
	v, ok := c.Get("current_item")
	require.True(t, ok)
	assert.Equal(t, "inner", v)

	pop()
	v, ok = c.Get("current_item")
	require.True(t, ok)
	assert.Equal(t, "outer", v)
}

func TestForkIsolatesWritesFromParent(t *testing.T) {
	c := New(nil, nil)
	require.NoError(t, c.Set("shared", "parent-value", false))

	fork := c.Fork(map[string]any{"current_item": "x"})
	require.NoError(t, fork.Set("fork_only", "v1", false))

	v, ok := fork.Get("shared")
	require.True(t, ok)
	assert.Equal(t, "parent-value", v, "fork should see the parent's vars at fork time")

	_, ok = c.Get("fork_only")
	assert.False(t, ok, "writes through the fork must not reach the parent")

	item, ok := fork.Get("current_item")
	require.True(t, ok)
	assert.Equal(t, "x", item)
}

func TestForkScopesDoNotRaceAcrossGoroutines(t *testing.T) {
	c := New(nil, nil)
	require.NoError(t, c.Set("base", 1, false))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fork := c.Fork(map[string]any{"current_index": i})
			pop := fork.PushScope(map[string]any{"nested": i * 2})
			defer pop()
			v, ok := fork.Get("current_index")
			assert.True(t, ok)
			assert.Equal(t, i, v)
		}(i)
	}
	wg.Wait()
}

func TestRenderSubstitutesVariable(t *testing.T) {
	c := New(nil, nil)
	require.NoError(t, c.Set("name", "Ada", false))
	out, err := c.Render("hello {{name}}", false)
	require.NoError(t, err)
	assert.Equal(t, "hello Ada", out)
}

func TestRenderAppliesFilters(t *testing.T) {
	c := New(nil, nil)
	require.NoError(t, c.Set("name", "  ada  ", false))
	out, err := c.Render("{{name|trim|upper}}", false)
	require.NoError(t, err)
	assert.Equal(t, "ADA", out)
}

func TestRenderDefaultFilter(t *testing.T) {
	c := New(nil, nil)
	out, err := c.Render("{{missing|default:fallback}}", false)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestRenderUndefinedNonStrictIsEmpty(t *testing.T) {
	c := New(nil, nil)
	out, err := c.Render("[{{missing}}]", false)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestRenderUndefinedStrictFails(t *testing.T) {
	c := New(nil, nil)
	_, err := c.Render("{{missing}}", true)
	require.Error(t, err)
	var undefined *ErrUndefined
	require.ErrorAs(t, err, &undefined)
}

func TestRenderTojson(t *testing.T) {
	c := New(nil, nil)
	require.NoError(t, c.Set("items", []any{"a", "b"}, false))
	out, err := c.Render("{{items|tojson}}", false)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, out)
}
