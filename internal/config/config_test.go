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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasSaneValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "memory", cfg.Backend.Type)
	assert.Greater(t, cfg.Session.GlobalMax, 0)
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Listen.Addr, cfg.Listen.Addr)
}

func TestLoadFileOverridesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skyrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  addr: \"0.0.0.0:9000\"\nbackend:\n  type: memory\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen.Addr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skyrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  addr: \"0.0.0.0:9000\"\n"), 0o644))
	t.Setenv("SKYRUN_LISTEN_ADDR", "10.0.0.1:1234")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:1234", cfg.Listen.Addr)
}
