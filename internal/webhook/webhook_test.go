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

package webhook

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyvern-go/skyrun/internal/clock"
)

type stubDoer struct {
	responses []*http.Response
	errs      []error
	calls     int
	requests  []*http.Request
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	i := s.calls
	s.calls++
	s.requests = append(s.requests, req)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var resp *http.Response
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

func newResp(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}
}

func TestDeliverySendSucceedsFirstTry(t *testing.T) {
	doer := &stubDoer{responses: []*http.Response{newResp(200)}}
	d := NewDelivery(doer, clock.NewFake(time.Unix(0, 0)), nil)

	err := d.Send(context.Background(), "https://example.test/hook", Payload{
		Event:     EventTaskCompleted,
		RequestID: "req-1",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, doer.calls)
	assert.Equal(t, "req-1", doer.requests[0].Header.Get("X-Request-Id"))
}

func TestDeliverySendRetriesOnFailureThenSucceeds(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	doer := &stubDoer{responses: []*http.Response{newResp(500), newResp(200)}}
	d := NewDelivery(doer, fc, nil)

	done := make(chan error, 1)
	go func() {
		done <- d.Send(context.Background(), "https://example.test/hook", Payload{Event: EventTaskFailed})
	}()

	advanceUntilDone(t, fc, done)
	assert.Equal(t, 2, doer.calls)
}

func TestDeliverySendExhaustsAttempts(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	resps := make([]*http.Response, 5)
	for i := range resps {
		resps[i] = newResp(500)
	}
	doer := &stubDoer{responses: resps}
	d := NewDelivery(doer, fc, nil)

	done := make(chan error, 1)
	go func() {
		done <- d.Send(context.Background(), "https://example.test/hook", Payload{Event: EventTaskFailed})
	}()

	err := advanceUntilDone(t, fc, done)
	assert.Error(t, err)
	assert.Equal(t, 5, doer.calls)
}

func advanceUntilDone(t *testing.T, fc *clock.Fake, done chan error) error {
	t.Helper()
	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Millisecond):
			fc.Advance(time.Minute)
		}
	}
	t.Fatal("delivery did not complete in time")
	return nil
}
