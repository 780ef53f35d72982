package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// parseTags accepts {"tags": [...]} or a bare JSON array, optionally
// wrapped in a markdown fence or surrounded by prose.
func parseTags(text string) ([]string, error) {
	body, err := jsonBody(text)
	if err != nil {
		return nil, fmt.Errorf("parse tag response: %w", err)
	}
	if strings.HasPrefix(body, "[") {
		var tags []string
		if err := json.Unmarshal([]byte(body), &tags); err != nil {
			return nil, fmt.Errorf("parse tag array: %w", err)
		}
		return tags, nil
	}
	var resp tagResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("parse tag object: %w", err)
	}
	if resp.Tags == nil {
		return nil, errors.New("parse tag response: no tags field")
	}
	return resp.Tags, nil
}

// jsonBody returns the span from the first '{' or '[' to its last matching
// closer. Fence lines fall outside that span.
func jsonBody(text string) (string, error) {
	open := strings.IndexAny(text, "{[")
	if open < 0 {
		return "", errors.New("no JSON in model output")
	}
	closer := "}"
	if text[open] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < open {
		return "", fmt.Errorf("unterminated JSON in model output (length %d)", len(text))
	}
	return text[open : end+1], nil
}
