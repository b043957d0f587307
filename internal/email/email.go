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

// Package email frames the external email capability invoked by the
// send_email block (§4.6). The concrete provider (SMTP relay, SES,
// SendGrid) is out of scope for the core.
package email

import "context"

// Message is one outbound email.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender is the email capability.
type Sender interface {
	// Send returns the provider's message id on success (§4.6: "Provider
	// ack").
	Send(ctx context.Context, msg Message) (providerMsgID string, err error)
}
