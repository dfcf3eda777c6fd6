package analysis

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"nexvmeta/internal/domain"
)

var fencePattern = regexp.MustCompile("(?i)```(?:json)?")

// ExtractJSON returns the outermost {...} span of a model reply after removing
// markdown code fences. Prose before or after the object is ignored.
func ExtractJSON(raw string) (string, error) {
	text := strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))
	if text == "" {
		return "", &domain.MalformedResponseError{Raw: raw, Err: errors.New("empty reply")}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", &domain.MalformedResponseError{Raw: raw, Err: errors.New("no json object found")}
	}
	return text[start : end+1], nil
}

// ParseJSON extracts and decodes a model reply into T.
func ParseJSON[T any](raw string) (T, error) {
	var zero T
	fragment, err := ExtractJSON(raw)
	if err != nil {
		return zero, err
	}
	var decoded T
	if err := json.Unmarshal([]byte(fragment), &decoded); err != nil {
		return zero, &domain.MalformedResponseError{Raw: raw, Err: err}
	}
	return decoded, nil
}
