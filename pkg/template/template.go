// Package template renders the {variable} placeholders of automation messages.
package template

import (
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Render replaces every {name} in input with vars[name]. Placeholders without
// a value are left untouched so a missing variable stays visible.
func Render(input string, vars map[string]string) string {
	if input == "" || len(vars) == 0 || !strings.Contains(input, "{") {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		value, ok := vars[match[1:len(match)-1]]
		if !ok {
			return match
		}

		return value
	})
}

// Placeholders lists the distinct variable names used in input, sorted.
func Placeholders(input string) []string {
	seen := make(map[string]struct{})

	for _, match := range placeholder.FindAllStringSubmatch(input, -1) {
		seen[match[1]] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Missing returns the placeholders of input that vars does not define.
func Missing(input string, vars map[string]string) []string {
	var missing []string

	for _, name := range Placeholders(input) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}

	return missing
}
