package catalog

import "strings"

// Filter selects a subset of a catalog by the spec §4.2.2 expression
// language: "all", "<service>", "<service>/<category>", or
// "<service>/<category>/<name>". An expression that matches nothing
// (unknown service/category/name) yields an empty result — it is never an
// error, since a typo'd filter is far more common than a malformed one and
// the caller (cmd/evalctl) reports an empty selection back to the operator.
func Filter(tasks []Task, expr string) []Task {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "all" {
		return tasks
	}

	parts := strings.Split(expr, "/")
	var out []Task
	for _, t := range tasks {
		if matches(t, parts) {
			out = append(out, t)
		}
	}
	return out
}

func matches(t Task, parts []string) bool {
	switch len(parts) {
	case 1:
		return t.Service == parts[0]
	case 2:
		return t.Service == parts[0] && t.Category == parts[1]
	case 3:
		return t.Service == parts[0] && t.Category == parts[1] && t.Name == parts[2]
	default:
		return false
	}
}

// FilterAll applies each expression in exprs and unions the results,
// de-duplicating by Path so a task matched by more than one expression is
// only evaluated once (spec §6.7: --tasks accepts a comma-separated list).
func FilterAll(tasks []Task, exprs []string) []Task {
	if len(exprs) == 0 {
		return tasks
	}

	seen := make(map[string]bool)
	var out []Task
	for _, expr := range exprs {
		for _, t := range Filter(tasks, expr) {
			if seen[t.Path()] {
				continue
			}
			seen[t.Path()] = true
			out = append(out, t)
		}
	}
	return out
}
