// Package importer reads markdown vaults: front-matter, [[wikilinks]],
// inline tags and line-addressed sections, ready for indexing.
package importer

import (
	"regexp"
	"strings"

	"github.com/scrypster/memento-graph/internal/textutil"
)

// wikilinkRe matches [[link]] and [[link|alias]] patterns.
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|]+?)(?:\|([^\[\]]+?))?\]\]`)

// WikiLink is a parsed [[target|alias]] reference.
type WikiLink struct {
	Target string
	Alias  string // empty without |alias
	Raw    string
}

// ExtractWikiLinks returns the links in content, deduplicated by folded
// target and ordered by first appearance. Heading anchors ("[[note#part]]")
// keep only the note.
func ExtractWikiLinks(content string) []WikiLink {
	seen := make(map[string]bool)
	var links []WikiLink

	for _, m := range wikilinkRe.FindAllStringSubmatch(content, -1) {
		target := strings.TrimSpace(m[1])
		if i := strings.IndexByte(target, '#'); i >= 0 {
			target = strings.TrimSpace(target[:i])
		}
		if target == "" {
			continue
		}
		key := textutil.Fold(target)
		if seen[key] {
			continue
		}
		seen[key] = true
		links = append(links, WikiLink{Target: target, Alias: strings.TrimSpace(m[2]), Raw: m[0]})
	}
	return links
}

// LinkTargets returns the targets of every link in content.
func LinkTargets(content string) []string {
	links := ExtractWikiLinks(content)
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.Target)
	}
	return out
}

// StripWikiLinks replaces links with their alias, or target when no alias is set.
func StripWikiLinks(content string) string {
	return wikilinkRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := wikilinkRe.FindStringSubmatch(match)
		if len(parts) >= 3 && strings.TrimSpace(parts[2]) != "" {
			return strings.TrimSpace(parts[2])
		}
		return strings.TrimSpace(parts[1])
	})
}
