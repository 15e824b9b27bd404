package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseEnvelope finds the JSON object between the first '{' and the last
// '}' of text. It returns false when there is no such span or the span is
// not a valid object.
func ParseEnvelope(text string) (map[string]any, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, false
	}
	return out, true
}

// ParseList finds the JSON array between the first '[' and the last ']'
// of text. ok is false when text holds no valid array; isList is false when
// text holds valid JSON that is not an array of strings.
func ParseList(text string) (items []string, isList bool, ok bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		var raw []any
		if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err == nil {
			for _, v := range raw {
				if s, isStr := v.(string); isStr && strings.TrimSpace(s) != "" {
					items = append(items, strings.TrimSpace(s))
				}
			}
			return items, true, true
		}
	}
	if _, parsed := ParseEnvelope(text); parsed {
		return nil, false, true
	}
	return nil, false, false
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		p, err := ParsePrice(v)
		if err != nil || strings.TrimSpace(v) == "" {
			return 0, false
		}
		return p, true
	}
	return 0, false
}
