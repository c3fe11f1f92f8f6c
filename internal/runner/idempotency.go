package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// CanonicalSource is the fixed shape the idempotency key is computed over:
// {task:{id,type,title,prompt}, interpret:{objective}}.
type CanonicalSource struct {
	Task struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Title  string `json:"title"`
		Prompt string `json:"prompt"`
	} `json:"task"`
	Interpret struct {
		Objective string `json:"objective"`
	} `json:"interpret"`
}

// resolvePath walks a dot-path ("task.id", "interpret.objective") against
// the canonical source's JSON representation.
func resolvePath(src map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = src
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// IdempotencyKey computes the canonical string + its SHA-256 hex digest for
// a policy-declared field list. With a non-empty field list where at least
// one path resolves, the canonical string is the "|"-joined
// "<path>=<json-value-or-null>" list in the given order. Otherwise it falls
// back to "id|type|title|prompt|objective".
func IdempotencyKey(fields []string, src CanonicalSource) (canonical string, hash string) {
	asMap := canonicalSourceToMap(src)

	if len(fields) > 0 {
		var resolvedAny bool
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			val, ok := resolvePath(asMap, f)
			if ok {
				resolvedAny = true
			}
			encoded, _ := json.Marshal(val)
			if !ok {
				encoded = []byte("null")
			}
			parts = append(parts, f+"="+string(encoded))
		}
		if resolvedAny {
			canonical = strings.Join(parts, "|")
			return canonical, hashHex(canonical)
		}
	}

	canonical = strings.Join([]string{
		src.Task.ID, src.Task.Type, src.Task.Title, src.Task.Prompt, src.Interpret.Objective,
	}, "|")
	return canonical, hashHex(canonical)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func canonicalSourceToMap(src CanonicalSource) map[string]any {
	encoded, _ := json.Marshal(src)
	var m map[string]any
	_ = json.Unmarshal(encoded, &m)
	return m
}
