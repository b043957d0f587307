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

package scrape

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/clock"
)

func TestElementInteractable(t *testing.T) {
	cases := []struct {
		name string
		el   Element
		want bool
	}{
		{"button tag", Element{Tag: "button", Width: 10, Height: 10}, true},
		{"div with click handler", Element{Tag: "div", Width: 10, Height: 10, HasClickEvent: true}, true},
		{"div with hover color change", Element{Tag: "div", Width: 10, Height: 10, HoverChanges: []string{"color"}}, true},
		{"aria role button", Element{Tag: "div", Width: 10, Height: 10, Role: "button"}, true},
		{"hidden button", Element{Tag: "button", Width: 10, Height: 10, Hidden: true}, false},
		{"zero area", Element{Tag: "button", Width: 0, Height: 10}, false},
		{"plain div", Element{Tag: "div", Width: 10, Height: 10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.el.Interactable())
		})
	}
}

func TestScrapeProducesElementTreeAndHashes(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	driver := browser.NewFake()
	require.NoError(t, driver.Launch(context.Background(), browser.LaunchConfig{}))
	page, err := driver.NewPage(context.Background())
	require.NoError(t, err)

	driver.EvalResults["document.documentElement.outerHTML.length"] = float64(100)
	driver.EvalResults[walkScript] = rawDOM{
		URL:  "https://example.test/login",
		HTML: "<html></html>",
		Elements: []Element{
			{ID: "e1", Tag: "button", Text: "Sign in", CSS: "#signin", Width: 40, Height: 20},
			{ID: "e2", Tag: "div", Width: 40, Height: 20},
		},
	}

	s := New(driver, fc)
	scraped, err := pumpScrapeUntilDone(t, fc, func() (*ScrapedPage, error) {
		return s.Scrape(context.Background(), page, DefaultOptions())
	})
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/login", scraped.URL)
	assert.Len(t, scraped.Elements, 2)
	assert.Len(t, scraped.ElementTree, 1, "non-interactable leaf should be pruned")
	assert.Equal(t, "#signin", scraped.IDToCSS["e1"])
	assert.NotEmpty(t, scraped.IDToHash["e1"])
	assert.Contains(t, scraped.ExtractedText, "Sign in")
	assert.Len(t, scraped.Screenshots, 1)
}

func TestScrapeFallsBackToHTMLTextWhenTreeIsEmpty(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	driver := browser.NewFake()
	require.NoError(t, driver.Launch(context.Background(), browser.LaunchConfig{}))
	page, err := driver.NewPage(context.Background())
	require.NoError(t, err)

	driver.EvalResults["document.documentElement.outerHTML.length"] = float64(50)
	driver.EvalResults[walkScript] = rawDOM{
		URL:  "https://example.test/frame",
		HTML: "<html><body><p>Verify you are human</p></body></html>",
	}

	s := New(driver, fc)
	scraped, err := pumpScrapeUntilDone(t, fc, func() (*ScrapedPage, error) {
		return s.Scrape(context.Background(), page, DefaultOptions())
	})
	require.NoError(t, err)
	assert.Empty(t, scraped.ElementTree)
	assert.Contains(t, scraped.ExtractedText, "Verify you are human")
}

func TestScrapeSplitScreenshotsRespectsMax(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	driver := browser.NewFake()
	require.NoError(t, driver.Launch(context.Background(), browser.LaunchConfig{}))
	page, err := driver.NewPage(context.Background())
	require.NoError(t, err)
	driver.EvalResults["document.documentElement.outerHTML.length"] = float64(1)
	driver.EvalResults[walkScript] = rawDOM{URL: "https://example.test"}

	opts := DefaultOptions()
	opts.SplitScreenshots = true
	opts.MaxScreenshots = 3

	s := New(driver, fc)
	scraped, err := pumpScrapeUntilDone(t, fc, func() (*ScrapedPage, error) {
		return s.Scrape(context.Background(), page, opts)
	})
	require.NoError(t, err)
	assert.Len(t, scraped.Screenshots, 3)
}

// pumpScrapeUntilDone runs fn in a goroutine while repeatedly advancing
// fc, avoiding a race between fn's first Clock.After call and a single
// upfront Advance.
func pumpScrapeUntilDone(t *testing.T, fc *clock.Fake, fn func() (*ScrapedPage, error)) (*ScrapedPage, error) {
	t.Helper()
	type result struct {
		page *ScrapedPage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := fn()
		done <- result{p, err}
	}()
	for i := 0; i < 50; i++ {
		select {
		case r := <-done:
			return r.page, r.err
		case <-time.After(5 * time.Millisecond):
			fc.Advance(500 * time.Millisecond)
		}
	}
	t.Fatal("scrape did not complete in time")
	return nil, nil
}
