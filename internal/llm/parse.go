package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
)

// Generation is the structured reply expected from the code generator.
type Generation struct {
	Thought string `json:"thought"`
	Code    string `json:"code"`
}

var (
	fenceRe     = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")
	stKeywordRe = regexp.MustCompile(`(?m)^\s*(FUNCTION_BLOCK|FUNCTION|PROGRAM|TYPE|INTERFACE|CONFIGURATION)\b`)
	errNoJSON   = errors.New("no JSON value in response")
)

// CleanJSON strips markdown fences and surrounding prose, returning the
// outermost JSON object or array in s.
func CleanJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		return s, nil
	}
	if strings.HasPrefix(s, "```") {
		if m := fenceRe.FindStringSubmatch(s); m != nil {
			s = strings.TrimSpace(m[1])
			if json.Valid([]byte(s)) {
				return s, nil
			}
		}
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}
	return "", errNoJSON
}

// ParseGeneration decodes a {thought, code} reply. When the reply is not
// valid JSON the code is recovered from the raw text with ExtractCode and the
// thought is left empty.
func ParseGeneration(content string) Generation {
	if raw, err := CleanJSON(content); err == nil {
		var g Generation
		if err := json.Unmarshal([]byte(raw), &g); err == nil && strings.TrimSpace(g.Code) != "" {
			g.Code = ExtractCode(g.Code)
			return g
		}
	}
	return Generation{Code: ExtractCode(content)}
}

// ExtractCode pulls Structured Text out of free-form model output: the first
// fenced block if any, then everything from the first POU keyword on.
func ExtractCode(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if loc := stKeywordRe.FindStringIndex(s); loc != nil {
		s = s[loc[0]:]
	}
	return strings.TrimSpace(s)
}

// ParseStringList accepts a JSON list of strings, an object with a "tasks"
// list, or an object whose first list-valued field holds strings.
func ParseStringList(content string) ([]string, error) {
	raw, err := CleanJSON(content)
	if err != nil {
		return nil, err
	}

	var list []any
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return stringsOf(list), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, err
	}
	if tasks, ok := obj["tasks"]; ok {
		if err := json.Unmarshal(tasks, &list); err == nil {
			return stringsOf(list), nil
		}
	}
	// Fall back to any list-valued field; map order is random, so prefer
	// the lexically first key for stable results.
	var keys []string
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := json.Unmarshal(obj[k], &list); err == nil {
			return stringsOf(list), nil
		}
	}
	return nil, errNoJSON
}

func stringsOf(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
