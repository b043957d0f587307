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

// Package blobstore frames the external blob storage capability (§6.3)
// used for screenshots, HAR, traces and downloads.
package blobstore

import (
	"context"
	"time"
)

// Store is the BlobStore capability.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (uri string, err error)
	Get(ctx context.Context, uri string) ([]byte, error)
	Sign(ctx context.Context, uri string, ttl time.Duration) (signedURL string, err error)
	Delete(ctx context.Context, uri string) error
}
