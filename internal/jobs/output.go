package jobs

import (
	"encoding/json"
	"strings"
)

// decodeOutput turns the agent's final text into a result payload. Markdown
// fences and prose around the outermost JSON object are ignored. Text that
// does not parse is kept as {"summary": text}.
func decodeOutput(text string) map[string]any {
	trimmed := strings.TrimSpace(stripFences(text))
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err == nil && parsed != nil {
			return parsed
		}
	}
	return map[string]any{"summary": strings.TrimSpace(text)}
}

func stripFences(text string) string {
	open := strings.Index(text, "```")
	if open < 0 {
		return text
	}
	body := text[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// drop the language tag line, e.g. ```json
		if lang := strings.TrimSpace(body[:nl]); !strings.ContainsAny(lang, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}
