// Package sanitizer converts an LLM webhook's raw response body into a
// dict via the first technique that succeeds, in a fixed order that is
// never skipped and never raises.
package sanitizer

import (
	"encoding/json"
	"regexp"
	"strings"
)

// EmptyBody is the fixed object produced for a genuinely empty response
// body.
const EmptyBody = `{"output":"(empty)"}`

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// Sanitize runs, strictly in order:
//  1. empty body -> {"output":"(empty)"},
//  2. direct JSON parse,
//  3. extraction from the first fenced code block,
//  4. extraction of the first balanced {...} substring,
//  5. wrap the raw text as {"output": raw_text}.
//
// The boolean result reports whether the object came from genuine JSON
// (techniques 2-4) as opposed to a raw-text wrap (technique 1 or 5);
// Sanitize itself never errors.
func Sanitize(raw string) (map[string]interface{}, bool) {
	trimmed := strings.TrimSpace(raw)

	if trimmed == "" {
		return mustUnmarshal(EmptyBody), false
	}

	if obj, ok := tryUnmarshal(trimmed); ok {
		return obj, true
	}

	if match := fencedBlock.FindStringSubmatch(trimmed); match != nil {
		if obj, ok := tryUnmarshal(strings.TrimSpace(match[1])); ok {
			return obj, true
		}
	}

	if span := firstBalancedObject(trimmed); span != "" {
		if obj, ok := tryUnmarshal(span); ok {
			return obj, true
		}
	}

	return map[string]interface{}{"output": raw}, false
}

func mustUnmarshal(s string) map[string]interface{} {
	obj, _ := tryUnmarshal(s)
	return obj
}

func tryUnmarshal(s string) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// firstBalancedObject scans for the first top-level {...} span, respecting
// string literals and escapes so braces inside quoted values don't
// unbalance the scan.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, ignore braces
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
