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
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	coreerrors "github.com/skyvern-go/skyrun/pkg/errors"
)

// httpRequestTimeout and httpMaxRedirects bound the http_request block
// (§4.6): a reasonable default timeout and a redirect cap so a
// misbehaving endpoint cannot hang or loop a block execution forever.
const (
	httpRequestTimeout = 30 * time.Second
	httpMaxRedirects   = 5
)

// HTTPDoer is the external capability behind the http_request block.
// *http.Client satisfies it directly.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an HTTPDoer configured per §4.6: bounded
// redirects, a default timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: httpRequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= httpMaxRedirects {
				return fmt.Errorf("block: stopped after %d redirects", httpMaxRedirects)
			}
			return nil
		},
	}
}

func (r *Runtime) execHTTPRequest(ctx context.Context, params map[string]any) (Result, error) {
	method := stringParam(params, "method")
	if method == "" {
		method = http.MethodGet
	}
	url := stringParam(params, "url")
	body := stringParam(params, "body")

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, strings.NewReader(body))
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindValidationError}, nil
	}
	for k, v := range params {
		if !strings.HasPrefix(k, "header.") {
			continue
		}
		if s, ok := v.(string); ok {
			req.Header.Set(strings.TrimPrefix(k, "header."), s)
		}
	}

	resp, err := r.deps.HTTP.Do(req)
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindHTTPRequestError}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, jqMaxInputSize))
	if err != nil {
		return Result{Failed: true, Message: err.Error(), Code: coreerrors.KindHTTPRequestError}, nil
	}

	if !successCode(resp.StatusCode, params) {
		return Result{
			Failed:  true,
			Message: fmt.Sprintf("http_request: status %d", resp.StatusCode),
			Output:  map[string]any{"status_code": resp.StatusCode, "body": string(respBody)},
			Code:    coreerrors.KindHTTPRequestError,
		}, nil
	}
	return Result{Output: map[string]any{"status_code": resp.StatusCode, "body": string(respBody)}}, nil
}

// successCode checks resp.StatusCode against a caller-supplied
// success_codes list (§4.6), defaulting to the conventional 2xx range.
func successCode(status int, params map[string]any) bool {
	codes, ok := params["success_codes"].([]any)
	if !ok || len(codes) == 0 {
		return status >= 200 && status < 300
	}
	for _, c := range codes {
		if f, ok := c.(float64); ok && int(f) == status {
			return true
		}
	}
	return false
}
