package runner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSONObject means none of the extraction strategies found a parseable
// JSON object in the captured output.
var ErrNoJSONObject = fmt.Errorf("no JSON object found in output")

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// unwrapKeys is the fixed set of string-typed member names the unwrap
// strategy looks under, in order.
var unwrapKeys = []string{"result", "output", "text", "message", "content"}

// ExtractJSON implements the output parsing contract. Fenced ```json code
// blocks are stripped to their content first. If the whole text parses as
// a single top-level object wrapping its real answer under a known key
// (result/output/text/message/content), that nested answer is preferred;
// otherwise the outermost {...} span is extracted directly.
func ExtractJSON(raw string) (map[string]any, error) {
	text := stripFence(raw)

	var whole any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &whole); err == nil {
		if obj, ok := whole.(map[string]any); ok {
			if unwrapped, ok := tryUnwrap(obj); ok {
				return unwrapped, nil
			}
			return obj, nil
		}
	}

	if obj, ok := tryDirect(text); ok {
		return obj, nil
	}

	return nil, ErrNoJSONObject
}

func stripFence(text string) string {
	if m := fencedBlockPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

func tryDirect(text string) (map[string]any, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return nil, false
	}
	candidate := text[start : end+1]

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return obj, true
	}

	// Providers occasionally emit near-JSON (trailing commas, unquoted
	// keys, stray comments) when producing structured output freehand;
	// repair before giving up.
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func tryUnwrap(obj map[string]any) (map[string]any, bool) {
	for _, key := range unwrapKeys {
		val, ok := obj[key]
		if !ok {
			continue
		}
		switch v := val.(type) {
		case string:
			if inner, ok := tryDirect(stripFence(v)); ok {
				return inner, true
			}
		case []any:
			var sb strings.Builder
			for _, item := range v {
				entry, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if text, ok := entry["text"].(string); ok {
					sb.WriteString(text)
				}
			}
			if inner, ok := tryDirect(stripFence(sb.String())); ok {
				return inner, true
			}
		}
	}
	return nil, false
}
