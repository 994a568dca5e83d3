package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fenceOpenRe  = regexp.MustCompile("^```(?:json)?\r?\n")
	fenceCloseRe = regexp.MustCompile("\r?\n```$")
	urlRe        = regexp.MustCompile(`https?://[\w\-\.\?\=/#%&:+]+`)
)

// StripFences removes a leading ```json / ``` line and a trailing ``` line.
func StripFences(text string) string {
	t := strings.TrimSpace(text)
	t = fenceOpenRe.ReplaceAllString(t, "")
	t = fenceCloseRe.ReplaceAllString(t, "")
	return t
}

// ExtractArray pulls a JSON array of objects out of model output.
//
// It tries, in order: the slice from the first '[' to the last ']' (or to
// the end when the array was truncated); every complete {...} object found
// by brace balancing from the first '[' on; the whole text. Non-object array
// elements are skipped. ok is false when nothing usable was found.
func ExtractArray(text string) (out []map[string]any, ok bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	t := StripFences(text)

	if start := strings.IndexByte(t, '['); start >= 0 {
		end := strings.LastIndexByte(t, ']')
		snippet := t[start:]
		if end > start {
			snippet = t[start : end+1]
		}
		var arr []any
		if err := json.Unmarshal([]byte(snippet), &arr); err == nil {
			return objectsOf(arr), true
		}
		// The last ']' may sit inside a string of a truncated array, so
		// salvage scans everything after the opening bracket.
		if objs := salvageObjects(t[start:]); len(objs) > 0 {
			return objs, true
		}
	}

	var arr []any
	if err := json.Unmarshal([]byte(t), &arr); err == nil {
		return objectsOf(arr), true
	}
	return nil, false
}

func objectsOf(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// salvageObjects scans s for balanced {...} runs and keeps the ones that
// parse as objects. Braces inside JSON strings are ignored.
func salvageObjects(s string) []map[string]any {
	var out []map[string]any
	depth, start := 0, -1
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inStr = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				var m map[string]any
				if err := json.Unmarshal([]byte(s[start:i+1]), &m); err == nil {
					out = append(out, m)
				}
				start = -1
			}
		}
	}
	return out
}

// ExtractObject pulls a JSON object out of model output: first '{' to last
// '}', then the whole text. It returns an empty non-nil map on failure.
func ExtractObject(text string) map[string]any {
	t := StripFences(text)
	if t == "" {
		return map[string]any{}
	}
	if start, end := strings.IndexByte(t, '{'), strings.LastIndexByte(t, '}'); start >= 0 && end > start {
		var m map[string]any
		if err := json.Unmarshal([]byte(t[start:end+1]), &m); err == nil && m != nil {
			return m
		}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(t), &m); err == nil && m != nil {
		return m
	}
	return map[string]any{}
}

// ExtractURLs returns the distinct http(s) URLs in text, in order of first
// appearance, capped at limit (0 = no cap).
func ExtractURLs(text string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range urlRe.FindAllString(text, -1) {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// String reads m[key] as a trimmed string; numbers are formatted, other
// types yield "".
func String(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			b, _ := json.Marshal(v)
			return string(b)
		}
	}
	return ""
}
