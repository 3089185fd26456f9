package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderRe matches {{PLACEHOLDER_NAME}} tokens in a task description.
var placeholderRe = regexp.MustCompile(`\{\{([A-Z][A-Z0-9_]*)\}\}`)

// legacyPreamble is prepended to descriptions that predate placeholder
// substitution (spec §4.2.3: "a task description with no recognized
// placeholders is rendered as-is, prefixed with a deterministic notice
// naming every locator value the run produced, so the agent still learns
// where its sandboxed state landed").
const legacyPreambleHeader = "The following values describe the live resources prepared for this run:"

// Render substitutes every {{PLACEHOLDER}} token in description with the
// matching entry from locators. It fails fast: a placeholder with no
// corresponding locator value is an error, never silently left in place or
// blanked out (spec §4.2.3 edge case).
//
// When description contains no recognized placeholders at all, Render falls
// back to the legacy preamble instead, so older task descriptions (written
// before templating existed) still surface the run's locators to the agent.
func Render(description string, locators map[string]string) (string, error) {
	matches := placeholderRe.FindAllStringSubmatch(description, -1)
	if len(matches) == 0 {
		return legacyPreamble(locators) + description, nil
	}

	var missing []string
	seen := make(map[string]bool)
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := locators[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("catalog: description references undefined placeholder(s): %s", strings.Join(missing, ", "))
	}

	return placeholderRe.ReplaceAllStringFunc(description, func(tok string) string {
		name := placeholderRe.FindStringSubmatch(tok)[1]
		return locators[name]
	}), nil
}

func legacyPreamble(locators map[string]string) string {
	if len(locators) == 0 {
		return ""
	}
	keys := make([]string, 0, len(locators))
	for k := range locators {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(legacyPreambleHeader + "\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, locators[k])
	}
	b.WriteString("\n")
	return b.String()
}
