package worker

import (
	"encoding/json"
	"strings"
)

// ExtractResult pulls the worker's final JSON document out of its stdout.
// The contract says the last stdout line is a single JSON object or array,
// but workers interleave log lines and some pretty-print the document, so we
// scan from the end for the last balanced JSON value.
func ExtractResult(stdout string) (json.RawMessage, bool) {
	lines := strings.Split(stdout, "\n")

	// Walk candidate start lines from the bottom up; the first suffix that
	// begins a JSON value and validates wins.
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if trimmed[0] != '{' && trimmed[0] != '[' {
			continue
		}
		candidate := strings.TrimSpace(strings.Join(lines[i:], "\n"))
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
	}
	return nil, false
}
