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

import "context"

// FileParser is the external capability behind the pdf_parser and
// file_url_parser blocks (§4.6): it turns a file reference into a first
// approximation of structured data, which a caller-supplied jq filter
// (see jqproject.go) may further project to match a target schema.
type FileParser interface {
	Parse(ctx context.Context, ref string) (data any, err error)
}
