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

// Package errors defines the closed set of error kinds the execution
// substrate surfaces, and small wrap/unwrap helpers built on the
// standard library's errors package.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable, loggable identifier for an error category. Kind
// strings are the REST error "code" values (§6.1) and the failure_reason
// codes recorded on terminal entities (§7).
type Kind string

const (
	// Input errors.
	KindValidationError     Kind = "VALIDATION_ERROR"
	KindWorkflowGraphInvalid Kind = "WORKFLOW_GRAPH_INVALID"
	KindParameterUnbound     Kind = "PARAMETER_UNBOUND"
	KindNotFound             Kind = "NOT_FOUND"

	// Auth/quota errors.
	KindUnauthorized           Kind = "UNAUTHORIZED"
	KindForbidden              Kind = "FORBIDDEN"
	KindRateLimited            Kind = "RATE_LIMITED"
	KindOrganizationLimitExceeded Kind = "ORGANIZATION_LIMIT_EXCEEDED"

	// Resource errors.
	KindSessionAcquisitionTimeout Kind = "SESSION_ACQUISITION_TIMEOUT"
	KindSessionReplaced           Kind = "SESSION_REPLACED"
	KindPageUnresponsive          Kind = "PAGE_UNRESPONSIVE"
	KindElementNotFound           Kind = "ELEMENT_NOT_FOUND"
	KindElementNotStable          Kind = "ELEMENT_NOT_STABLE"
	KindOptionNotFound            Kind = "OPTION_NOT_FOUND"

	// Lifecycle errors.
	KindCanceled        Kind = "CANCELED"
	KindTimeout         Kind = "TIMEOUT"
	KindMaxStepsReached Kind = "MAX_STEPS_REACHED"

	// External errors.
	KindOracleError          Kind = "ORACLE_ERROR"
	KindStorageError         Kind = "STORAGE_ERROR"
	KindBlobStoreError       Kind = "BLOB_STORE_ERROR"
	KindWebhookDeliveryFailed Kind = "WEBHOOK_DELIVERY_FAILED"
	KindHTTPRequestError     Kind = "HTTP_REQUEST_ERROR"

	// Internal errors.
	KindInternal Kind = "INTERNAL"
	KindBug      Kind = "BUG"
)

// CoreError is the error type every subsystem returns for a recognized
// failure. The message is safe to surface to callers; Cause is redacted
// from production responses but kept for logs.
type CoreError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Code returns the stable error-code string for the REST error envelope.
func (e *CoreError) Code() string { return string(e.Kind) }

// New constructs a CoreError with no underlying cause.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap constructs a CoreError carrying an underlying cause. If err is
// nil, Wrap returns nil so call sites can use it unconditionally.
func Wrap(kind Kind, message string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return &CoreError{Kind: kind, Message: message, Cause: err}
}

// Is reports whether err's Kind matches kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err is
// not a *CoreError.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}

// Redact returns a message safe for production responses: the Kind and
// Message, but never the wrapped Cause (which may embed internal detail).
func (e *CoreError) Redact() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
