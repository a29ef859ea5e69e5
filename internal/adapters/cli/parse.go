package cli

import (
	"encoding/json"
	"regexp"
	"strings"
)

// sessionIDPattern matches session ids the CLIs print into raw output when
// JSON parsing is unavailable.
var sessionIDPattern = regexp.MustCompile(`(?i)session[_ -]?id[":\s]+"?([a-zA-Z0-9-]{8,})"?`)

// parseJSONOutput decodes agent stdout. It tries a direct decode first,
// then falls back to the first balanced {...} substring in mixed output.
// Returns nil when no JSON object can be recovered.
func parseJSONOutput(output string) map[string]interface{} {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(output), &parsed); err == nil {
		return parsed
	}

	extracted := extractJSON(output)
	if extracted == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(extracted), &parsed); err != nil {
		return nil
	}
	return parsed
}

// extractJSON finds the first balanced JSON object in mixed text output,
// respecting string literals and escapes.
func extractJSON(output string) string {
	start := strings.Index(output, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(output); i++ {
		c := output[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return output[start : i+1]
			}
		}
	}
	return ""
}

// detectCompletion checks the family's sentinel patterns against raw output
// and the parsed JSON status field.
func detectCompletion(raw string, parsed map[string]interface{}, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(strings.ToLower(raw), strings.ToLower(p)) {
			return true
		}
	}
	if parsed != nil {
		if status, ok := parsed["status"].(string); ok {
			switch strings.ToLower(status) {
			case "completed", "done", "complete", "finished":
				return true
			}
		}
	}
	return false
}

// extractFilesChanged unions files_modified and files_created from parsed
// output, preserving order and dropping duplicates.
func extractFilesChanged(parsed map[string]interface{}) []string {
	if parsed == nil {
		return nil
	}
	seen := make(map[string]bool)
	var files []string
	for _, key := range []string{"files_modified", "files_created"} {
		list, ok := parsed[key].([]interface{})
		if !ok {
			continue
		}
		for _, v := range list {
			s, ok := v.(string)
			if !ok || s == "" || seen[s] {
				continue
			}
			seen[s] = true
			files = append(files, s)
		}
	}
	return files
}

// extractCost reads cost_usd from the top level or nested usage object.
func extractCost(parsed map[string]interface{}) float64 {
	if parsed == nil {
		return 0
	}
	if cost, ok := parsed["cost_usd"].(float64); ok {
		return cost
	}
	if usage, ok := parsed["usage"].(map[string]interface{}); ok {
		if cost, ok := usage["cost_usd"].(float64); ok {
			return cost
		}
	}
	return 0
}

// extractSessionID reads the session id the CLI actually used: top-level
// session_id, nested metadata.session_id, then a regex over raw text.
func extractSessionID(raw string, parsed map[string]interface{}) string {
	if parsed != nil {
		if id, ok := parsed["session_id"].(string); ok && id != "" {
			return id
		}
		if meta, ok := parsed["metadata"].(map[string]interface{}); ok {
			if id, ok := meta["session_id"].(string); ok && id != "" {
				return id
			}
		}
	}
	if m := sessionIDPattern.FindStringSubmatch(raw); len(m) == 2 {
		return m[1]
	}
	return ""
}
