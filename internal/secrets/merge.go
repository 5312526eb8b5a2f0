// Package secrets is the structure-preserving editor for the .env
// family of files: the canonical secrets store plus the derived env
// files the control plane maintains. Merging keeps comments, blank
// lines, and ordering intact; only the targeted keys change.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// KeyRe is the accepted env key shape.
var KeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MergeOptions tunes Merge behavior.
type MergeOptions struct {
	// Uncomment activates commented-out keys: "#KEY=x" becomes "KEY=new".
	Uncomment bool
	// SectionHeader is written as a comment above appended keys.
	SectionHeader string
}

// Merge applies updates to raw, preserving file structure. Existing
// keys are rewritten in place (first occurrence wins); missing keys are
// appended. Values that need it are quoted.
func Merge(raw string, updates map[string]string, opts MergeOptions) string {
	lines := splitLines(raw)
	remaining := make(map[string]string, len(updates))
	for k, v := range updates {
		remaining[k] = v
	}

	for i, line := range lines {
		key := lineKey(line, opts.Uncomment)
		if key == "" {
			continue
		}
		if value, ok := remaining[key]; ok {
			lines[i] = key + "=" + quoteValue(value)
			delete(remaining, key)
		}
	}

	if len(remaining) > 0 {
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		if opts.SectionHeader != "" {
			lines = append(lines, "# "+opts.SectionHeader)
		}
		for _, key := range sortedKeys(remaining) {
			lines = append(lines, key+"="+quoteValue(remaining[key]))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

// Parse reads raw into a key/value map. Comments and blank lines are
// skipped; quoted values are unquoted.
func Parse(raw string) map[string]string {
	result := make(map[string]string)
	for _, line := range splitLines(raw) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if !KeyRe.MatchString(key) {
			continue
		}
		if _, seen := result[key]; seen {
			continue
		}
		result[key] = unquoteValue(value)
	}
	return result
}

// lineKey returns the line's env key when the line is an assignment, or
// "" otherwise. With uncomment, a single leading "#" is stripped first
// so commented-out keys match.
func lineKey(line string, uncomment bool) string {
	trimmed := strings.TrimSpace(line)
	if uncomment {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
	}
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	key, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return ""
	}
	key = strings.TrimSpace(key)
	if !KeyRe.MatchString(key) {
		return ""
	}
	return key
}

// quoteValue quotes a value when the unquoted form would be ambiguous:
// hashes, quotes, backslashes, newlines, equals, or edge whitespace.
// Single quotes (literal) are preferred; double quotes with escapes are
// the fallback when the value itself contains a single quote or a
// control character.
func quoteValue(value string) string {
	if value == "" {
		return value
	}
	if !strings.ContainsAny(value, "#'\"\\\n\r=") &&
		strings.TrimSpace(value) == value {
		return value
	}
	if !strings.ContainsAny(value, "'\n\r") {
		return "'" + value + "'"
	}
	escaped := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
	).Replace(value)
	return `"` + escaped + `"`
}

// unquoteValue reverses quoteValue for parsing.
func unquoteValue(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		return value[1 : len(value)-1]
	}
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		inner := value[1 : len(value)-1]
		return strings.NewReplacer(
			`\n`, "\n",
			`\r`, "\r",
			`\"`, `"`,
			`\\`, `\`,
		).Replace(inner)
	}
	// Unquoted: a trailing comment is not part of the value.
	if idx := strings.Index(value, " #"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return value
}

func splitLines(raw string) []string {
	if raw == "" {
		return nil
	}
	raw = strings.TrimSuffix(raw, "\n")
	return strings.Split(raw, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Remove drops the assignment lines for the given keys, leaving the
// rest of the file untouched.
func Remove(raw string, keys ...string) string {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	var kept []string
	for _, line := range splitLines(raw) {
		if key := lineKey(line, false); key != "" && drop[key] {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, "\n") + "\n"
}

// Validate checks that every update key is mergeable.
func Validate(updates map[string]string) error {
	for key := range updates {
		if !KeyRe.MatchString(key) {
			return fmt.Errorf("invalid env key %q", key)
		}
	}
	return nil
}
