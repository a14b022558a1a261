package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// displaySpec maps a tool to the verb and argument keys worth showing
// in a one-line summary.
type displaySpec struct {
	verb string
	keys []string
}

var displaySpecs = map[string]displaySpec{
	"planner":      {verb: "planning", keys: []string{"action", "content"}},
	AskUserName:    {verb: "asking", keys: []string{"question"}},
	"fetch_result": {verb: "fetching", keys: []string{"handle"}},
	"file_read":    {verb: "reading", keys: []string{"path"}},
	"file_write":   {verb: "writing", keys: []string{"path"}},
	"shell":        {verb: "running", keys: []string{"command"}},
	"web_fetch":    {verb: "fetching", keys: []string{"url"}},
	"call_agent":   {verb: "delegating", keys: []string{"specialist", "mission"}},
}

// maxDetailLen caps each summarized argument value.
const maxDetailLen = 80

// SummarizeCall renders a tool call as a short human-readable line,
// e.g. "shell: running ls -la". Unknown tools fall back to the tool
// name with its raw input.
func SummarizeCall(name string, input json.RawMessage) string {
	spec, ok := displaySpecs[name]
	if !ok {
		detail := strings.TrimSpace(string(input))
		if detail == "" || detail == "{}" || detail == "null" {
			return name
		}
		return fmt.Sprintf("%s: %s", name, truncateDetail(detail))
	}

	var args map[string]any
	if len(input) > 0 {
		_ = json.Unmarshal(input, &args)
	}

	var details []string
	for _, key := range spec.keys {
		value := displayValue(args[key])
		if value == "" {
			continue
		}
		details = append(details, truncateDetail(shortenHomePath(value)))
	}

	if len(details) == 0 {
		return fmt.Sprintf("%s: %s", name, spec.verb)
	}
	return fmt.Sprintf("%s: %s %s", name, spec.verb, strings.Join(details, " "))
}

func displayValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%g", value)
	case bool:
		return fmt.Sprintf("%t", value)
	default:
		return ""
	}
}

func truncateDetail(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > maxDetailLen {
		return s[:maxDetailLen-3] + "..."
	}
	return s
}

// shortenHomePath replaces the user's home directory prefix with ~.
func shortenHomePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	clean := filepath.Clean(path)
	cleanHome := filepath.Clean(home)
	if clean != cleanHome && strings.HasPrefix(clean, cleanHome+string(filepath.Separator)) {
		return "~" + clean[len(cleanHome):]
	}
	return path
}
