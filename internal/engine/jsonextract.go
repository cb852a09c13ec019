package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fencedCodeBlockPattern matches a ```json ... ``` or ``` ... ``` fenced block.
var fencedCodeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// firstObjectPattern grabs the first brace-delimited object in the text.
var firstObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// pairPattern is the last-resort fallback: a single "key": "value" pair.
var pairPattern = regexp.MustCompile(`"([^"]+)"\s*:\s*"([^"]*)"`)

// extractJSON is the single robust JSON extraction utility shared by the
// Plan Builder and the Placeholder Resolver (§4.2 step 3, §4.3, and the
// Design Notes' instruction that this must be one shared utility). It tries,
// in order: a raw parse of the whole string; a fenced code-block capture;
// the first brace-delimited object; and a single string-key/string-value
// pair. It reports ok=false if none of the four stages produce valid JSON.
func extractJSON(content string, out any) bool {
	trimmed := strings.TrimSpace(content)

	if json.Unmarshal([]byte(trimmed), out) == nil {
		return true
	}

	if m := fencedCodeBlockPattern.FindStringSubmatch(trimmed); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Unmarshal([]byte(candidate), out) == nil {
			return true
		}
	}

	if m := firstObjectPattern.FindString(trimmed); m != "" {
		if json.Unmarshal([]byte(m), out) == nil {
			return true
		}
	}

	if m := pairPattern.FindStringSubmatch(trimmed); m != nil {
		fallback := fmt.Sprintf(`{"%s":"%s"}`, m[1], m[2])
		if json.Unmarshal([]byte(fallback), out) == nil {
			return true
		}
	}

	return false
}

// stripThinkBlock removes a leading "<think>...</think>" block from a
// one-shot (non-streaming) LLM response and returns the remainder, trimmed.
// Used by the need-for-tools classifier and the polling LLM fallback, which
// both consume a single blocking completion rather than a stream.
var thinkBlockPattern = regexp.MustCompile(`(?s)</think>(.*)`)

func stripThinkBlock(content string) string {
	if m := thinkBlockPattern.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
