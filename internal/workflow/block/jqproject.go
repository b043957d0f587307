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
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

// jqProjectionTimeout and jqMaxInputSize bound pdf_parser/file_url_parser
// projections (§4.6: "produce structured data matching schema"); a
// caller-supplied jq filter decides the projection.
const (
	jqProjectionTimeout = 2 * time.Second
	jqMaxInputSize      = 10 * 1024 * 1024
)

// projectStructuredData runs a jq filter over data, returning the
// projected structured result. An empty filter returns data unchanged.
func projectStructuredData(ctx context.Context, filter string, data any) (any, error) {
	if filter == "" {
		return data, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("block: marshal parsed data: %w", err)
	}
	if len(raw) > jqMaxInputSize {
		return nil, fmt.Errorf("block: parsed data size %d exceeds limit %d", len(raw), jqMaxInputSize)
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("block: parse jq filter: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("block: compile jq filter: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, jqProjectionTimeout)
	defer cancel()

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		iter := code.Run(data)
		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errCh <- err
				return
			}
			results = append(results, v)
		}
		switch len(results) {
		case 0:
			resultCh <- nil
		case 1:
			resultCh <- results[0]
		default:
			resultCh <- results
		}
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, fmt.Errorf("block: jq filter: %w", err)
	case <-execCtx.Done():
		return nil, fmt.Errorf("block: jq filter timed out after %v", jqProjectionTimeout)
	}
}
