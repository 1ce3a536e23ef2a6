// Package repair turns JSON-ish text produced by generative models into
// something the standard decoder accepts. Models wrap objects in prose or
// fenced code blocks, leave string values unquoted, and let raw newlines
// leak into values; repair is the single best-effort textual transform that
// undoes those, isolated here so callers never see the heuristics.
package repair

import (
	"encoding/json"
	"strings"
)

// Repair returns a best-effort JSON-parseable form of raw. It never fails;
// if the result still does not parse, the caller decides what to do with it.
// Input that is already valid JSON is returned byte-identical, which makes
// Repair safe to apply unconditionally.
func Repair(raw string) string {
	if json.Valid([]byte(raw)) {
		return raw
	}

	s := extractCandidate(raw)
	if json.Valid([]byte(s)) {
		return s
	}

	s = quoteBarewords(s, false)
	if json.Valid([]byte(s)) {
		return s
	}
	return quoteBarewords(s, true)
}

// Decode repairs raw and unmarshals the result into a generic map.
func Decode(raw string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(Repair(raw)), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// extractCandidate isolates the JSON payload: the contents of a fenced code
// block if one is present, otherwise the first balanced top-level object.
func extractCandidate(raw string) string {
	if inner, ok := extractFenced(raw); ok {
		raw = inner
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	if obj, ok := extractBalancedObject(trimmed); ok {
		return obj
	}
	return trimmed
}

func extractFenced(raw string) (string, bool) {
	start := strings.Index(raw, "```")
	if start < 0 {
		return "", false
	}
	rest := raw[start+3:]
	// drop the language tag ("json") up to end of the fence line
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

func extractBalancedObject(s string) (string, bool) {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// quoteBarewords scans for `"key": value` pairs whose value is not a valid
// JSON literal and re-serializes the value as a properly escaped string.
// With multiline=false a bareword must terminate at a `,`, `}` or `]` on the
// same line; with multiline=true the value may span lines and ends at the
// next such terminator.
func quoteBarewords(s string, multiline bool) string {
	var b strings.Builder
	b.Grow(len(s))
	i, n := 0, len(s)
	for i < n {
		if s[i] != '"' {
			b.WriteByte(s[i])
			i++
			continue
		}

		j := skipString(s, i)
		b.WriteString(s[i:j])
		i = j

		// only `"key":` introduces a value position
		k := i
		for k < n && (s[k] == ' ' || s[k] == '\t') {
			k++
		}
		if k >= n || s[k] != ':' {
			continue
		}
		b.WriteString(s[i : k+1])
		i = k + 1

		m := i
		for m < n && (s[m] == ' ' || s[m] == '\t') {
			m++
		}
		b.WriteString(s[i:m])
		i = m

		if i >= n || validValueStart(s, i) {
			continue
		}
		end, ok := barewordEnd(s, i, multiline)
		if !ok {
			continue
		}
		b.WriteString(quoteValue(s[i:end]))
		i = end
	}
	return b.String()
}

// skipString returns the index just past the string literal opening at i.
func skipString(s string, i int) int {
	j := i + 1
	for j < len(s) {
		switch s[j] {
		case '\\':
			j += 2
			continue
		case '"':
			return j + 1
		}
		j++
	}
	return j
}

// validValueStart reports whether position i opens a valid JSON literal.
func validValueStart(s string, i int) bool {
	switch c := s[i]; {
	case c == '"' || c == '{' || c == '[' || c == '-':
		return true
	case c >= '0' && c <= '9':
		return true
	}
	for _, kw := range [...]string{"true", "false", "null"} {
		if strings.HasPrefix(s[i:], kw) {
			rest := s[i+len(kw):]
			if rest == "" || isDelimiter(rest[0]) {
				return true
			}
		}
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case ',', '}', ']', ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// barewordEnd finds where the unquoted value ends.
func barewordEnd(s string, i int, multiline bool) (int, bool) {
	j := i
	for j < len(s) {
		switch s[j] {
		case ',', '}', ']':
			return j, true
		case '\n':
			if !multiline {
				return 0, false
			}
		}
		j++
	}
	if multiline {
		return j, true
	}
	return 0, false
}

// quoteValue re-serializes a bareword as an escaped JSON string. Backslashes,
// quotes, newlines and tabs are escaped; other control characters are dropped.
func quoteValue(v string) string {
	v = strings.TrimSpace(v)
	var b strings.Builder
	b.Grow(len(v) + 2)
	b.WriteByte('"')
	for _, r := range v {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
