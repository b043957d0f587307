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

package context

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// filters is the closed set named in §4.6 "Parameter rendering":
// identity, upper, lower, trim, tojson, length, default. The renderer
// grants no filesystem, network or arbitrary code execution: filters
// are plain string transforms over an already-resolved value, never
// user-supplied code.
var filters = map[string]func(v any, arg string) (any, error){
	"identity": func(v any, _ string) (any, error) { return v, nil },
	"upper":    func(v any, _ string) (any, error) { return strings.ToUpper(stringify(v)), nil },
	"lower":    func(v any, _ string) (any, error) { return strings.ToLower(stringify(v)), nil },
	"trim":     func(v any, _ string) (any, error) { return strings.TrimSpace(stringify(v)), nil },
	"tojson": func(v any, _ string) (any, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("tojson: %w", err)
		}
		return string(b), nil
	},
	"length": func(v any, _ string) (any, error) {
		switch t := v.(type) {
		case string:
			return strconv.Itoa(len(t)), nil
		case []any:
			return strconv.Itoa(len(t)), nil
		case map[string]any:
			return strconv.Itoa(len(t)), nil
		default:
			return "0", nil
		}
	},
	"default": func(v any, arg string) (any, error) {
		if v == nil {
			return arg, nil
		}
		if s, ok := v.(string); ok && s == "" {
			return arg, nil
		}
		return v, nil
	},
}

// Render applies the sandboxed template language of §4.6 to tmpl:
// `{{name}}` substitutes a resolved variable; `{{name|filter}}` and
// `{{name|filter:arg}}` apply one of the closed filters. Undefined
// variables render as empty unless strict is set, in which case
// rendering fails.
func (c *RunContext) Render(tmpl string, strict bool) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		out.WriteString(tmpl[i : i+start])
		i += start
		end := strings.Index(tmpl[i:], "}}")
		if end < 0 {
			return "", fmt.Errorf("context: unterminated template expression in %q", truncate(tmpl[i:]))
		}
		expr := tmpl[i+2 : i+end]
		i += end + 2

		rendered, err := c.renderExpr(expr, strict)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
	}
	return out.String(), nil
}

func (c *RunContext) renderExpr(expr string, strict bool) (string, error) {
	parts := strings.Split(expr, "|")
	name := strings.TrimSpace(parts[0])

	value, ok := c.Get(name)
	if !ok {
		if strict {
			return "", &ErrUndefined{Name: name}
		}
		value = ""
	}

	for _, stage := range parts[1:] {
		stage = strings.TrimSpace(stage)
		filterName, arg, _ := strings.Cut(stage, ":")
		fn, ok := filters[strings.TrimSpace(filterName)]
		if !ok {
			return "", fmt.Errorf("context: unknown filter %q", filterName)
		}
		var err error
		value, err = fn(value, arg)
		if err != nil {
			return "", err
		}
	}
	return stringify(value), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		var s string
		if json.Unmarshal(b, &s) == nil {
			return s
		}
		return string(b)
	}
}

func truncate(s string) string {
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}
