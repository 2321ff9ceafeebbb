// Package resolve implements the Context Resolver: substituting
// "{dotted.path}" placeholders in action parameters against a trigger's
// context object.
//
// Grounded line-for-line on automation_engine.py's resolve_context_values.
// Two placeholder grammars coexist there, and both are kept here:
//
//   - Inside a string, "{a.b[1]}" is replaced in place, leaving the
//     surrounding text untouched; a lookup miss leaves that one
//     occurrence as literal text rather than failing the whole string.
//   - When an entire dict value is exactly one placeholder ("{a.b}" with
//     nothing else around it), a miss drops the key from the resolved
//     dict instead of leaving the brace text behind, and a dotted lookup
//     that succeeds keeps the resolved value's original type (a number
//     or object) instead of stringifying it.
package resolve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([^}]+)\}`)

// Resolve walks params (a JSON-like tree of map[string]any, []any, string,
// or scalar) and substitutes placeholders against context.
func Resolve(params any, context map[string]any) any {
	switch v := params.(type) {
	case map[string]any:
		return resolveMap(v, context)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, context)
		}
		return out
	case string:
		return resolveString(v, context)
	default:
		return v
	}
}

func resolveMap(m map[string]any, context map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		s, isString := v.(string)
		if !isString || !isFullPlaceholder(s) {
			out[k] = Resolve(v, context)
			continue
		}

		placeholder := s[1 : len(s)-1]
		if strings.Contains(placeholder, ".") {
			if value, ok := lookupDotted(context, placeholder); ok {
				out[k] = value
			}
			// miss: drop the key entirely
			continue
		}
		if value, ok := context[placeholder]; ok {
			out[k] = value
			continue
		}
		// miss: drop the key entirely
	}
	return out
}

func isFullPlaceholder(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && strings.Count(s, "{") == 1
}

func resolveString(s string, context map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := match[1 : len(match)-1]
		value, ok := lookupIndexed(context, path)
		if !ok {
			return match // leave the literal placeholder text in place
		}
		return stringify(value)
	})
}

// lookupDotted walks a dotted path through nested maps only, matching
// resolve_context_values' dict-branch retry (no array index support).
func lookupDotted(context map[string]any, path string) (any, bool) {
	var current any = context
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// lookupIndexed walks a dotted path supporting "name[idx]" segments
// against maps and slices, matching resolve_context_values' string-branch
// substitution.
func lookupIndexed(context map[string]any, path string) (any, bool) {
	if !strings.Contains(path, ".") && !strings.Contains(path, "[") {
		value, ok := context[path]
		return value, ok
	}

	var current any = context
	for _, part := range strings.Split(path, ".") {
		key, idx, hasIndex := splitIndex(part)
		if hasIndex {
			next, ok := index(current, key)
			if !ok {
				return nil, false
			}
			list, ok := next.([]any)
			if !ok || idx < 0 || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
			continue
		}

		var ok bool
		current, ok = index(current, part)
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// splitIndex splits "name[3]" into ("name", 3, true), or returns
// (part, 0, false) when part carries no index.
func splitIndex(part string) (string, int, bool) {
	open := strings.IndexByte(part, '[')
	close := strings.IndexByte(part, ']')
	if open < 0 || close < open {
		return part, 0, false
	}
	idx, err := strconv.Atoi(part[open+1 : close])
	if err != nil {
		return part, 0, false
	}
	return part[:open], idx, true
}

// index looks up key against either a map or, if key is a bare integer, a
// list by position.
func index(current any, key string) (any, bool) {
	switch c := current.(type) {
	case map[string]any:
		v, ok := c[key]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
