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

package blobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store used by tests and single-process daemons.
type Memory struct {
	mu   sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri := fmt.Sprintf("mem://blob/%s", uuid.NewString())
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[uri] = cp
	_ = contentType
	return uri, nil
}

func (m *Memory) Get(_ context.Context, uri string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[uri]
	if !ok {
		return nil, fmt.Errorf("blobstore: %q not found", uri)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) Sign(_ context.Context, uri string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("%s?expires=%d", uri, time.Now().Add(ttl).Unix()), nil
}

func (m *Memory) Delete(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, uri)
	return nil
}

var _ Store = (*Memory)(nil)
