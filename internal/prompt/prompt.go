package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrUnresolvedPlaceholder reports placeholders left in a template after
// substitution. A prompt with a literal {key} sent to the model silently
// corrupts the step's output, so rendering is strict about this.
type ErrUnresolvedPlaceholder struct {
	Keys []string
}

func (e ErrUnresolvedPlaceholder) Error() string {
	return fmt.Sprintf("unresolved placeholders: %s", strings.Join(e.Keys, ", "))
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Render fills every {key} placeholder in template from ctx. Structured
// values are serialized before substitution: string slices become bulleted
// lists, maps and other composites become indented JSON. Returns
// ErrUnresolvedPlaceholder if any placeholder has no matching context entry.
func Render(template string, ctx map[string]interface{}) (string, error) {
	missing := make(map[string]struct{})
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := ctx[key]
		if !ok {
			missing[key] = struct{}{}
			return m
		}
		return Stringify(v)
	})

	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", ErrUnresolvedPlaceholder{Keys: keys}
	}
	return out, nil
}

// Placeholders returns the distinct placeholder keys referenced by template,
// in first-appearance order.
func Placeholders(template string) []string {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	seen := make(map[string]struct{}, len(matches))
	var keys []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		keys = append(keys, m[1])
	}
	return keys
}

// Stringify converts a context value into a human-readable substitution.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case []string:
		if len(t) == 0 {
			return ""
		}
		var b strings.Builder
		for i, item := range t {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("- ")
			b.WriteString(item)
		}
		return b.String()
	case []interface{}:
		all := make([]string, 0, len(t))
		strs := true
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				strs = false
				break
			}
			all = append(all, s)
		}
		if strs {
			return Stringify(all)
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
