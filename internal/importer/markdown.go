package importer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Document is one parsed markdown note.
type Document struct {
	// Path is the note path relative to the vault root, slash-separated.
	Path string

	// Title comes from front-matter, the first H1 or the file name, in that order.
	Title string

	// Frontmatter holds the parsed YAML block, empty when absent.
	Frontmatter map[string]interface{}

	// Body is the text after the front-matter block.
	Body string

	// BodyStartLine is the 1-based file line on which Body begins.
	BodyStartLine int

	// Tags merges front-matter tags and inline #tags.
	Tags []string

	// Domain is the front-matter domain or the top-level directory.
	Domain string

	Links []WikiLink

	// Timestamp is the front-matter date, zero when absent.
	Timestamp time.Time
}

// ParseDocument parses a markdown note. relPath derives title and domain.
func ParseDocument(content []byte, relPath string) (*Document, error) {
	relPath = filepath.ToSlash(relPath)
	fm, body, bodyStart, err := SplitFrontmatter(string(content))
	if err != nil {
		return nil, fmt.Errorf("frontmatter parse error in %s: %w", relPath, err)
	}

	title := titleFromPath(relPath)
	if fmTitle := ExtractString(fm, "title"); fmTitle != "" {
		title = fmTitle
	} else if h1 := extractH1(body); h1 != "" {
		title = h1
	}

	domain := domainFromPath(relPath)
	if fmDomain := ExtractString(fm, "domain"); fmDomain != "" {
		domain = fmDomain
	}

	return &Document{
		Path:          relPath,
		Title:         title,
		Frontmatter:   fm,
		Body:          body,
		BodyStartLine: bodyStart,
		Tags:          mergeTags(ExtractTags(fm), ExtractInlineTags(body)),
		Domain:        domain,
		Links:         ExtractWikiLinks(body),
		Timestamp:     ExtractTimestamp(fm),
	}, nil
}

// SplitFrontmatter separates a leading YAML block (between --- lines) from
// the body. bodyStartLine is the 1-based line on which the body begins, so
// chunk line numbers stay file-relative. Without front-matter the whole text
// is the body and bodyStartLine is 1.
func SplitFrontmatter(text string) (fm map[string]interface{}, body string, bodyStartLine int, err error) {
	fm = map[string]interface{}{}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return fm, text, 1, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return fm, text, 1, nil
	}

	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		return map[string]interface{}{}, text, 1, fmt.Errorf("invalid YAML: %w", err)
	}
	if fm == nil {
		fm = map[string]interface{}{}
	}
	return fm, strings.Join(lines[closeIdx+1:], "\n"), closeIdx + 2, nil
}

// ExtractTags reads tags from front-matter in list or comma-separated form.
func ExtractTags(fm map[string]interface{}) []string {
	return ExtractList(fm, "tags")
}

// ExtractList reads a string list from front-matter. A scalar string is
// split on commas.
func ExtractList(fm map[string]interface{}, key string) []string {
	raw, ok := fm[key]
	if !ok {
		return nil
	}

	var out []string
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" && item != nil {
				out = append(out, strings.TrimPrefix(s, "#"))
			}
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, strings.TrimPrefix(s, "#"))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, strings.TrimPrefix(s, "#"))
			}
		}
	}
	return out
}

// ExtractTimestamp reads the first parseable date field from front-matter.
func ExtractTimestamp(fm map[string]interface{}) time.Time {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"2006.01.02",
		"January 2, 2006",
		"Jan 2, 2006",
	}

	for _, key := range []string{"date", "created", "created_at"} {
		raw, ok := fm[key]
		if !ok {
			continue
		}
		if t, ok := raw.(time.Time); ok {
			return t
		}
		s := strings.TrimSpace(fmt.Sprint(raw))
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// ExtractString returns the trimmed string value of key, or "".
func ExtractString(fm map[string]interface{}, key string) string {
	v, ok := fm[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case int, int64, float64, bool:
		return fmt.Sprint(s)
	}
	return ""
}

// inlineTagRe finds #hashtags, including Hangul ones. Markdown headings
// ("# Title") do not match because a letter must follow the #.
var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([\p{L}][\p{L}\p{N}_/-]*)`)

// ExtractInlineTags finds #hashtag patterns in body text.
func ExtractInlineTags(body string) []string {
	var tags []string
	for _, m := range inlineTagRe.FindAllStringSubmatch(body, -1) {
		tags = append(tags, strings.TrimSpace(m[1]))
	}
	return mergeTags(nil, tags)
}

// mergeTags combines two tag slices deduplicating by lowercase value.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, list := range [][]string{a, b} {
		for _, tag := range list {
			lower := strings.ToLower(tag)
			if tag == "" || seen[lower] {
				continue
			}
			seen[lower] = true
			result = append(result, tag)
		}
	}
	return result
}

// domainFromPath returns the top-level directory, or "" at the vault root.
func domainFromPath(rel string) string {
	parts := strings.Split(rel, "/")
	if len(parts) > 1 {
		return sanitizeSegment(parts[0])
	}
	return ""
}

// titleFromPath derives a title from the file name.
func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

func extractH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// sanitizeSegment makes a path segment safe to use as a domain.
func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
