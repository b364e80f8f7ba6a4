// ABOUTME: Best-effort extraction of a useful error message from worker stderr.
// ABOUTME: Scans the log tail backwards, preferring structured error lines.

package pool

import (
	"encoding/json"
	"os"
	"strings"
)

// tailLines bounds how far back into the stderr capture we look.
const tailLines = 50

// noiseMarkers are matched anywhere in the line: interpreter warnings carry a
// "file:line:" prefix before the warning class.
var noiseMarkers = []string{
	"Warning:",
	"SyntaxWarning",
	"DeprecationWarning",
	"FutureWarning",
	"--- Worker Started at",
}

func isNoise(line string) bool {
	for _, m := range noiseMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// extractWorkerError reads the tail of a worker's stderr capture and returns
// the most informative line it can find: a structured error message if one was
// emitted, otherwise the last line that is not interpreter noise. Returns ""
// when nothing useful is there.
func extractWorkerError(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}

	fallback := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || isNoise(line) {
			continue
		}

		if strings.HasPrefix(line, "{") {
			if msg := structuredError(line); msg != "" {
				return msg
			}
		}

		if fallback == "" {
			fallback = line
		}
	}
	return fallback
}

// structuredError pulls the message out of a JSON line shaped like
// {"error": "..."} or {"error": {"message": "..."}}.
func structuredError(line string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return ""
	}
	raw, ok := obj["error"]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var inner struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &inner); err == nil && inner.Message != "" {
		return inner.Message
	}
	return ""
}
