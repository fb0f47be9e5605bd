package cpi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Render replaces every occurrence of the literal {key} in template with
// the coerced value for that key. Placeholders with no matching key are
// left verbatim: templates may legitimately carry brace tokens that are
// not parameters, such as docker --format strings. Pure string transform;
// nothing is executed here.
func Render(template string, params map[string]any) string {
	out := template
	for key, value := range params {
		out = strings.ReplaceAll(out, "{"+key+"}", coerce(value))
	}
	return out
}

// coerce converts a parameter value to its template text form: strings
// raw, numbers and booleans in canonical form, nil as the literal "null".
// Sequences and mappings serialize as compact JSON with the single
// outermost delimiter pair stripped, so ["80:80","443:443"] renders as
// "80:80","443:443" and a mapping as its comma-joined "key":"value" pairs
// without surrounding braces.
func coerce(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return "null"
	default:
		return stripOuter(compactJSON(v))
	}
}

// compactJSON marshals without HTML escaping; the shell must receive
// characters like & and > untouched.
func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// stripOuter removes one outermost []/{} pair. Nested delimiters stay
// intact.
func stripOuter(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '[' && s[len(s)-1] == ']') || (s[0] == '{' && s[len(s)-1] == '}') {
		return s[1 : len(s)-1]
	}
	return s
}
