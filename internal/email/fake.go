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

package email

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory Sender for tests.
type Fake struct {
	mu   sync.Mutex
	Sent []Message
}

// NewFake returns an empty Fake sender.
func NewFake() *Fake { return &Fake{} }

func (f *Fake) Send(_ context.Context, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, msg)
	return uuid.NewString(), nil
}

var _ Sender = (*Fake)(nil)
