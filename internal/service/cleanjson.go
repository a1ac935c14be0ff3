package service

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// Placeholder values substituted when model output cannot be repaired.
const (
	ErrNoJSONStructure = "Error: No valid JSON structure found"
	ErrUnparseableJSON = "Error: Could not parse response as JSON"
)

var tagPattern = regexp.MustCompile(`</?[\w\s]+>`)

// CleanResponse decodes a model answer that should be a JSON object. Failing a
// direct parse, it strips <tag> markers and decodes the span between the first
// '{' and the last '}'. Unrecoverable input yields a placeholder object whose
// "resources" field carries the error text.
func CleanResponse(text string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil && out != nil {
		return out
	}

	cleaned := tagPattern.ReplaceAllString(text, "")
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		slog.Error("no JSON object in model response", "response", text)
		return map[string]any{"resources": ErrNoJSONStructure}
	}

	out = nil
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err != nil || out == nil {
		slog.Error("model response is not JSON after cleaning", "error", err, "response", text)
		return map[string]any{"resources": ErrUnparseableJSON}
	}
	return out
}

// fieldText renders one field of a cleaned response as prompt text.
// Strings are used as-is; other JSON values are re-encoded.
func fieldText(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}
