// Package template fills {placeholder} tokens inside strings and nested
// string/array/object trees from a flat key→value argument map. It is
// pure and synchronous; the substitution values come from tool-call
// arguments merged with the tool's private environment.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentforge/engine/internal/domain"
)

// FillString resolves placeholders in template against data.
//
// A template that consists of exactly one placeholder spanning the whole
// string resolves to the raw typed value bound to that key, so callers
// can pass numbers and booleans through untouched. In every other case
// the result is a string: each {key} occurrence is substituted with the
// value's string form (string/number/bool) or its canonical JSON text
// (object/array/null). Escaped braces \{ and \} are emitted literally
// with the escape stripped. Keys absent from data are left as literal
// unexpanded tokens; downstream validation is the backstop.
func FillString(template string, data map[string]any) (any, error) {
	if key, ok := wholeToken(template); ok {
		if v, exists := data[key]; exists {
			return v, nil
		}
	}

	var b strings.Builder
	i := 0
	for i < len(template) {
		c := template[i]
		if c == '\\' && i+1 < len(template) && (template[i+1] == '{' || template[i+1] == '}') {
			b.WriteByte(template[i+1])
			i += 2
			continue
		}
		if c == '{' {
			if end := tokenEnd(template, i); end >= 0 {
				key := template[i+1 : end]
				if v, exists := data[key]; exists {
					s, err := stringify(v)
					if err != nil {
						return nil, err
					}
					b.WriteString(s)
				} else {
					b.WriteString(template[i : end+1])
				}
				i = end + 1
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), nil
}

// FillTree recurses structurally over a template tree: string leaves go
// through FillString, array leaves element-wise, nested objects recurse.
// Any other leaf type is a contract violation.
func FillTree(template map[string]any, data map[string]any) (map[string]any, error) {
	filled := make(map[string]any, len(template))
	for key, value := range template {
		switch v := value.(type) {
		case string:
			fv, err := FillString(v, data)
			if err != nil {
				return nil, err
			}
			filled[key] = fv
		case []any:
			items := make([]any, len(v))
			for i, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, domain.NewError(domain.CodeInvalidTemplateValue,
						fmt.Sprintf("template array %q holds %T, want string", key, item))
				}
				fv, err := FillString(s, data)
				if err != nil {
					return nil, err
				}
				items[i] = fv
			}
			filled[key] = items
		case []string:
			items := make([]any, len(v))
			for i, item := range v {
				fv, err := FillString(item, data)
				if err != nil {
					return nil, err
				}
				items[i] = fv
			}
			filled[key] = items
		case map[string]any:
			sub, err := FillTree(v, data)
			if err != nil {
				return nil, err
			}
			filled[key] = sub
		default:
			return nil, domain.NewError(domain.CodeInvalidTemplateValue,
				fmt.Sprintf("template key %q holds unsupported type %T", key, value))
		}
	}
	return filled, nil
}

// wholeToken reports whether template is a single placeholder spanning
// the entire string, returning the enclosed key.
func wholeToken(template string) (string, bool) {
	if len(template) < 2 || template[0] != '{' {
		return "", false
	}
	end := tokenEnd(template, 0)
	if end != len(template)-1 {
		return "", false
	}
	return template[1:end], true
}

// tokenEnd returns the index of the first unescaped '}' after the '{'
// at start, or -1 if the token never closes.
func tokenEnd(template string, start int) int {
	for i := start + 1; i < len(template); i++ {
		switch template[i] {
		case '\\':
			i++ // skip the escaped character
		case '}':
			return i
		}
	}
	return -1
}

// Stringify renders a substitution value the way it appears inside a
// larger template string: native form for scalars, canonical JSON for
// objects, arrays, and null.
func Stringify(v any) (string, error) {
	return stringify(v)
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case json.Number:
		return t.String(), nil
	case nil, []any, []string, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", domain.WrapError(domain.CodeInvalidTemplateValue, "marshaling template value", err)
		}
		return string(b), nil
	default:
		return "", domain.NewError(domain.CodeInvalidTemplateValue,
			fmt.Sprintf("unsupported template value type %T", v))
	}
}
