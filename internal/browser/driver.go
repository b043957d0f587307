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

// Package browser frames the external BrowserDriver capability (§4.1):
// the concrete browser automation library is out of scope for the core,
// which depends only on this interface. A page is single-threaded; the
// core must serialize operations against one page itself (§4.1).
package browser

import (
	"context"
	"time"
)

// ScreenshotMode selects how Driver.Screenshot frames the page.
type ScreenshotMode string

const (
	ScreenshotViewport ScreenshotMode = "viewport"
	ScreenshotFullPage ScreenshotMode = "full_page"
)

// LaunchConfig parameterizes Driver.Launch.
type LaunchConfig struct {
	Headless      bool
	ProxyLocation string
	UserDataDir   string
}

// Page is an opaque handle to one browser tab/page owned by a Driver.
type Page interface {
	ID() string
}

// Driver is the BrowserDriver capability (§4.1): launch, pages,
// navigation, evaluation, screenshots and primitive input operations.
type Driver interface {
	Launch(ctx context.Context, cfg LaunchConfig) error
	NewPage(ctx context.Context) (Page, error)
	ClosePage(ctx context.Context, page Page) error
	Goto(ctx context.Context, page Page, url string, timeout time.Duration) error
	Evaluate(ctx context.Context, page Page, script string) (any, error)
	Screenshot(ctx context.Context, page Page, mode ScreenshotMode) ([]byte, error)
	Close(ctx context.Context) error

	ClickAt(ctx context.Context, page Page, x, y float64) error
	TypeInto(ctx context.Context, page Page, selector, text string) error
	SelectOption(ctx context.Context, page Page, selector, value string) error
	ScrollBy(ctx context.Context, page Page, dx, dy float64) error
	WaitForSelector(ctx context.Context, page Page, selector string, timeout time.Duration) error

	// ConsoleLog, HAR, Trace and Video return the accumulated artifact
	// bytes for the session's current page set, for §4.4's "artifact
	// accumulation" rule. An implementation that does not collect one
	// of these returns (nil, nil).
	ConsoleLog(ctx context.Context) ([]byte, error)
	HAR(ctx context.Context) ([]byte, error)
	Trace(ctx context.Context) ([]byte, error)
	Video(ctx context.Context) ([]byte, error)

	// Healthy reports whether the driver's underlying process/context is
	// still alive, feeding BrowserSessionManager.health_check (§4.4).
	Healthy(ctx context.Context) bool
}
