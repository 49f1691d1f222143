package agents

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Model responses frequently wrap their JSON in markdown code fences or
// prose, and occasionally leave a trailing comma. decodeResponse cleans
// and extracts the first JSON object so one malformed token does not turn
// a good answer into a failed attempt.

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// trailing commas before a closing brace or bracket
var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// decodeResponse extracts and unmarshals the first JSON object found in a
// model response into v.
func decodeResponse(text string, v interface{}) error {
	candidate := strings.TrimSpace(text)
	if m := codeFenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	obj, err := extractObject(candidate)
	if err != nil {
		return err
	}

	if jsonErr := json.Unmarshal([]byte(obj), v); jsonErr != nil {
		// One cleanup pass for trailing commas, then give up
		cleaned := trailingCommaRe.ReplaceAllString(obj, "$1")
		if jsonErr2 := json.Unmarshal([]byte(cleaned), v); jsonErr2 != nil {
			return fmt.Errorf("invalid JSON in model response: %w", jsonErr)
		}
	}
	return nil
}

// extractObject returns the first balanced top-level JSON object in text.
// Brace counting ignores braces inside string literals.
func extractObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in model response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in model response")
}
