// Package render performs literal {{variable}} substitution for notification
// templates.
//
// This is deliberately not text/template: no conditionals, no pipelines, no
// errors on missing keys. Keys absent from the variable map stay literal, so
// retries and escalations render identically from the same variable snapshot.
package render

import "strings"

// Render replaces every {{key}} occurrence for each key present in vars.
// It is pure and idempotent; unknown placeholders are left untouched.
func Render(template string, vars map[string]string) string {
	if template == "" || len(vars) == 0 {
		return template
	}
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// Placeholders returns the distinct placeholder names referenced by template,
// in order of first appearance. Used to validate templates at creation time.
func Placeholders(template string) []string {
	var names []string
	seen := map[string]bool{}
	rest := template
	for {
		i := strings.Index(rest, "{{")
		if i < 0 {
			break
		}
		rest = rest[i+2:]
		j := strings.Index(rest, "}}")
		if j < 0 {
			break
		}
		name := strings.TrimSpace(rest[:j])
		rest = rest[j+2:]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
