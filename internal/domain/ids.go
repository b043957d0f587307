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

// Package domain holds the entity types shared by every subsystem: the
// record shapes from spec.md §3, with opaque prefixed ids (a convention,
// not a contract per §3).
package domain

import "github.com/google/uuid"

// newID returns an opaque id of the form "<prefix>_<uuid>".
func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func NewOrgID() string          { return newID("org") }
func NewTaskID() string         { return newID("task") }
func NewStepID() string         { return newID("step") }
func NewArtifactID() string     { return newID("art") }
func NewWorkflowID() string     { return newID("wf") }
func NewWorkflowRunID() string  { return newID("wfr") }
func NewRunBlockID() string     { return newID("wfrb") }
func NewSessionID() string      { return newID("sess") }
