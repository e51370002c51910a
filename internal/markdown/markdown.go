// Package markdown finds and rewrites the record links inside text blocks.
//
// A record link is an ordinary markdown link whose target is a lair
// location, e.g. [run 12](ab12cd34_Run 12.toml). Targets with a URL scheme,
// query or fragment are not record links.
package markdown

import (
	"regexp"
	"strings"
)

var linkRe = regexp.MustCompile(`(\[[^\]]*\])\(([\w\-./ ]+)\)`)

// Links returns the deduplicated link targets in text, in order of first
// appearance.
func Links(text string) []string {
	matches := linkRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := strings.TrimSpace(m[2])
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// RewriteLinks replaces every link target that resolve knows with the value
// it returns. Unknown targets are left alone.
func RewriteLinks(text string, resolve func(target string) (string, bool)) string {
	return linkRe.ReplaceAllStringFunc(text, func(m string) string {
		parts := linkRe.FindStringSubmatch(m)
		if v, ok := resolve(strings.TrimSpace(parts[2])); ok {
			return parts[1] + "(" + v + ")"
		}
		return m
	})
}
