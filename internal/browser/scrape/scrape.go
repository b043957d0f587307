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

// Package scrape implements PageScraper (§4.2): it injects a DOM-walk
// routine through the BrowserDriver, classifies interactable elements,
// and produces the ScrapedPage snapshot consumed by the decision oracle
// and the action executor.
package scrape

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/skyvern-go/skyrun/internal/browser"
	"github.com/skyvern-go/skyrun/internal/clock"
)

// interactableTags and interactableRoles are the closed sets of §4.2
// step 3(a) and 3(d).
var (
	interactableTags = map[string]struct{}{
		"input": {}, "button": {}, "select": {}, "textarea": {}, "a": {},
	}
	interactableRoles = map[string]struct{}{
		"button": {}, "link": {}, "menuitem": {}, "checkbox": {}, "radio": {},
		"tab": {}, "option": {}, "switch": {},
	}
	hoverProperties = map[string]struct{}{
		"background": {}, "color": {}, "border": {}, "transform": {}, "box-shadow": {}, "opacity": {},
	}
)

// Element is one node of the pruned interactable tree (§4.2).
type Element struct {
	ID            string    `json:"id"`
	Tag           string    `json:"tag"`
	Role          string    `json:"role"`
	Text          string    `json:"text"`
	CSS           string    `json:"css"`
	HasClickEvent bool      `json:"has_click_event"`
	HoverChanges  []string  `json:"hover_changes"`
	Width         float64   `json:"width"`
	Height        float64   `json:"height"`
	Hidden        bool      `json:"hidden"`
	Children      []Element `json:"children"`
}

// Interactable applies the §4.2 step 3 closed-set rule.
func (e Element) Interactable() bool {
	if e.Hidden || e.Width <= 0 || e.Height <= 0 {
		return false
	}
	if _, ok := interactableTags[strings.ToLower(e.Tag)]; ok {
		return true
	}
	if e.HasClickEvent {
		return true
	}
	for _, p := range e.HoverChanges {
		if _, ok := hoverProperties[p]; ok {
			return true
		}
	}
	if _, ok := interactableRoles[strings.ToLower(e.Role)]; ok {
		return true
	}
	return false
}

// rawDOM is the shape expected back from the injected walk script.
type rawDOM struct {
	URL      string    `json:"url"`
	HTML     string    `json:"html"`
	Elements []Element `json:"elements"`
}

// ScrapedPage is the output contract of §4.2.
type ScrapedPage struct {
	Elements      []Element
	ElementTree   []Element
	IDToCSS       map[string]string
	IDToElement   map[string]Element
	IDToHash      map[string]string
	Screenshots   [][]byte
	HTML          string
	URL           string
	ExtractedText string

	// EventMapAvailable is false when criterion (b) of §4.2 step 3
	// could not be evaluated (CSP rejection or cross-origin iframe),
	// per the failure modes listed for PageScraper.
	EventMapAvailable bool
}

// Options configures one Scrape call (§4.2 step 1 and step 5).
type Options struct {
	PageReadyTimeout time.Duration
	SplitScreenshots bool
	MaxScreenshots   int
	ScreenshotMode   browser.ScreenshotMode
}

// DefaultOptions matches the defaults named in §4.2: 30s page-ready
// timeout, single viewport screenshot, 5 max when splitting.
func DefaultOptions() Options {
	return Options{
		PageReadyTimeout: 30 * time.Second,
		SplitScreenshots: false,
		MaxScreenshots:   5,
		ScreenshotMode:   browser.ScreenshotViewport,
	}
}

// walkScript is the injected DOM-walk routine (§4.2 step 2). The core
// never interprets its body; BrowserDriver.Evaluate runs it and returns
// JSON matching rawDOM.
const walkScript = "__skyrun_scrape_dom_walk()"

// PageUnresponsiveError means scrape gave up waiting for the page to
// settle and the page never answered a trivial evaluation (§4.2 failure
// modes).
type PageUnresponsiveError struct{ Cause error }

func (e *PageUnresponsiveError) Error() string {
	return fmt.Sprintf("scrape: page unresponsive: %v", e.Cause)
}
func (e *PageUnresponsiveError) Unwrap() error { return e.Cause }

// Scraper implements PageScraper (C2) against a browser.Driver.
type Scraper struct {
	Driver browser.Driver
	Clock  clock.Clock
}

// New returns a Scraper bound to driver.
func New(driver browser.Driver, clk clock.Clock) *Scraper {
	return &Scraper{Driver: driver, Clock: clk}
}

// Scrape produces a ScrapedPage for page, per the §4.2 algorithm.
func (s *Scraper) Scrape(ctx context.Context, page browser.Page, opts Options) (*ScrapedPage, error) {
	if err := s.awaitSettled(ctx, page, opts.PageReadyTimeout); err != nil {
		return nil, &PageUnresponsiveError{Cause: err}
	}

	raw, eventMapAvailable, err := s.walk(ctx, page)
	if err != nil {
		return nil, err
	}

	flat := flatten(raw.Elements)
	tree := pruneTree(raw.Elements)

	idToCSS := make(map[string]string, len(flat))
	idToElement := make(map[string]Element, len(flat))
	idToHash := make(map[string]string, len(flat))
	for _, el := range flat {
		idToCSS[el.ID] = el.CSS
		idToElement[el.ID] = el
		idToHash[el.ID] = contentHash(el)
	}

	screenshots, err := s.captureScreenshots(ctx, page, opts)
	if err != nil {
		return nil, err
	}

	// When the event map could not be evaluated (CSP rejection or a
	// cross-origin iframe, §4.2 failure modes) the tree walk yields no
	// interactable elements; extractText falls back to a plain-text
	// pass over the raw markup so the oracle still gets page content.
	extracted := extractText(tree)
	if extracted == "" && raw.HTML != "" {
		extracted = extractTextFromHTML(raw.HTML)
	}

	return &ScrapedPage{
		Elements:          flat,
		ElementTree:       tree,
		IDToCSS:           idToCSS,
		IDToElement:       idToElement,
		IDToHash:          idToHash,
		Screenshots:       screenshots,
		HTML:              raw.HTML,
		URL:               raw.URL,
		ExtractedText:     extracted,
		EventMapAvailable: eventMapAvailable,
	}, nil
}

// awaitSettled waits for a networkidle-equivalent signal with a small
// quiet window, capped at timeout, per §4.2 step 1. On timeout it
// proceeds rather than failing; only a driver error (page truly dead)
// is surfaced.
func (s *Scraper) awaitSettled(ctx context.Context, page browser.Page, timeout time.Duration) error {
	const quietWindow = time.Second
	deadline := s.Clock.Now().Add(timeout)
	lastHTML, err := s.Driver.Evaluate(ctx, page, "document.documentElement.outerHTML.length")
	if err != nil {
		return err
	}
	for s.Clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(quietWindow):
		}
		cur, err := s.Driver.Evaluate(ctx, page, "document.documentElement.outerHTML.length")
		if err != nil {
			return err
		}
		if cur == lastHTML {
			return nil
		}
		lastHTML = cur
	}
	return nil
}

// walk injects the DOM-walk routine and decodes its JSON result. A CSP
// rejection is reported by the driver returning a nil value without
// error; in that case the walk falls back to a DOM-only pass with no
// event map (§4.2 failure modes).
func (s *Scraper) walk(ctx context.Context, page browser.Page) (rawDOM, bool, error) {
	result, err := s.Driver.Evaluate(ctx, page, walkScript)
	if err != nil {
		return rawDOM{}, false, fmt.Errorf("scrape: dom walk: %w", err)
	}
	if result == nil {
		markup, herr := s.Driver.Evaluate(ctx, page, "document.documentElement.outerHTML")
		if herr != nil {
			return rawDOM{}, false, fmt.Errorf("scrape: dom-only fallback: %w", herr)
		}
		href, _ := s.Driver.Evaluate(ctx, page, "document.location.href")
		pageHTML, _ := markup.(string)
		pageURL, _ := href.(string)
		return rawDOM{HTML: pageHTML, URL: pageURL}, false, nil
	}

	var raw rawDOM
	switch v := result.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			return rawDOM{}, false, fmt.Errorf("scrape: decode dom walk result: %w", err)
		}
	case rawDOM:
		raw = v
	default:
		return rawDOM{}, false, fmt.Errorf("scrape: unexpected dom walk result type %T", v)
	}
	return raw, true, nil
}

func flatten(elements []Element) []Element {
	var out []Element
	var visit func([]Element)
	visit = func(els []Element) {
		for _, el := range els {
			out = append(out, el)
			visit(el.Children)
		}
	}
	visit(elements)
	return out
}

// pruneTree keeps only interactable elements and their nearest labeling
// ancestors, per §4.2 step 4.
func pruneTree(elements []Element) []Element {
	var prune func([]Element) []Element
	prune = func(els []Element) []Element {
		var kept []Element
		for _, el := range els {
			children := prune(el.Children)
			if el.Interactable() || len(children) > 0 {
				el.Children = children
				kept = append(kept, el)
			}
		}
		return kept
	}
	return prune(elements)
}

func extractText(tree []Element) string {
	var b strings.Builder
	var visit func([]Element)
	visit = func(els []Element) {
		for _, el := range els {
			if el.Text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(el.Text)
			}
			visit(el.Children)
		}
	}
	visit(tree)
	return b.String()
}

// extractTextFromHTML walks raw's parsed DOM node-by-node, for the
// DOM-only fallback pass named in §4.2's failure modes.
func extractTextFromHTML(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return b.String()
}

// contentHash is independent of DOM position, for cache matching across
// scrapes (§4.2 step 2, and the §4.4 decision-cache personalization
// rule).
func contentHash(el Element) string {
	h := sha256.New()
	h.Write([]byte(el.Tag))
	h.Write([]byte{0})
	h.Write([]byte(el.Role))
	h.Write([]byte{0})
	h.Write([]byte(el.Text))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Scraper) captureScreenshots(ctx context.Context, page browser.Page, opts Options) ([][]byte, error) {
	if !opts.SplitScreenshots {
		shot, err := s.Driver.Screenshot(ctx, page, opts.ScreenshotMode)
		if err != nil {
			return nil, fmt.Errorf("scrape: screenshot: %w", err)
		}
		return [][]byte{shot}, nil
	}

	max := opts.MaxScreenshots
	if max <= 0 {
		max = 5
	}
	shots := make([][]byte, 0, max)
	for i := 0; i < max; i++ {
		shot, err := s.Driver.Screenshot(ctx, page, browser.ScreenshotViewport)
		if err != nil {
			return nil, fmt.Errorf("scrape: screenshot %d: %w", i, err)
		}
		shots = append(shots, shot)
		if _, err := s.Driver.Evaluate(ctx, page, "__skyrun_scroll_next_viewport(0.2)"); err != nil {
			break
		}
	}
	return shots, nil
}
