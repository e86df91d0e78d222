// Package llmutil recovers structured JSON from free-form model output.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

var (
	// Backticks are written as \x60 because raw strings cannot hold them.
	fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*({.*})\\s*\x60\x60\x60")
	fencedArrayRegex  = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ExtractJSON returns the JSON document embedded in response. It unwraps
// markdown fences and trims conversational text around the outermost object
// or array. When nothing looks like JSON the trimmed input is returned.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)
	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.Contains(response, "```") {
		var m []string
		if isObject {
			m = fencedObjectRegex.FindStringSubmatch(response)
		}
		if len(m) <= 1 && isArray {
			m = fencedArrayRegex.FindStringSubmatch(response)
		}
		if len(m) > 1 {
			return m[1]
		}
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}
	if isObject {
		if fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}"); fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	if isArray {
		if fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]"); fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	return response
}

// ParseJSONResponse extracts and decodes response into a T.
func ParseJSONResponse[T any](response string) (*T, error) {
	doc := ExtractJSON(response)
	var result T
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(doc, 500))
	}
	return &result, nil
}

// ParseObject decodes response as a JSON object. Arrays, scalars and null are errors.
func ParseObject(response string) (map[string]any, error) {
	m, err := ParseJSONResponse[map[string]any](response)
	if err != nil {
		return nil, err
	}
	if *m == nil {
		return nil, fmt.Errorf("LLM response is not a JSON object")
	}
	return *m, nil
}

// Truncate shortens s to at most maxLen bytes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
