package templating

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
)

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render replaces every {{name}} with the string form of variables[name].
// Placeholders without a usable value stay verbatim.
func Render(text string, variables map[string]any) string {
	if text == "" {
		return text
	}

	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-2]

		value, ok := variables[name]
		if !ok || value == nil {
			return match
		}

		return Stringify(value)
	})
}

// Value returns the string form of variables[name], and false when it is absent or null.
func Value(variables map[string]any, name string) (string, bool) {
	value, ok := variables[name]
	if !ok || value == nil {
		return "", false
	}

	return Stringify(value), true
}

// Placeholders returns the distinct placeholder names of all texts in first-seen order.
func Placeholders(texts ...string) []string {
	seen := make(map[string]struct{})

	var names []string

	for _, text := range texts {
		for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
			if _, ok := seen[m[1]]; ok {
				continue
			}

			seen[m[1]] = struct{}{}
			names = append(names, m[1])
		}
	}

	return names
}

// Validate fails with MISSING_VARIABLES when a placeholder of body or subject has no
// value. Empty strings and zero values are present; only absent or null keys are missing.
func Validate(body, subject string, variables map[string]any) error {
	var missing []string

	for _, name := range Placeholders(body, subject) {
		value, ok := variables[name]
		if !ok || value == nil {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)

	return message.New(
		message.CodeMissingVariables,
		"Missing required variables: "+strings.Join(missing, ", "),
		map[string]any{"missing": missing},
	)
}

func Stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; integral values render without a fraction.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}

		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
