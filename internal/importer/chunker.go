package importer

import (
	"strings"
)

// DefaultMaxSectionTokens bounds a section when Chunker.MaxTokens is unset.
const DefaultMaxSectionTokens = 400

// Section is a line-addressed slice of a note.
type Section struct {
	StartLine int // 1-based, inclusive
	EndLine   int // inclusive
	Text      string
}

// Chunker splits note bodies into sections. A heading always starts a new
// section; blank-line separated blocks are merged until MaxTokens would be
// exceeded. Lines are never split.
type Chunker struct {
	MaxTokens int
}

// Split cuts body into sections. firstLine is the file line of body's first
// line. Whitespace-only blocks produce no section.
func (c *Chunker) Split(body string, firstLine int) []Section {
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxSectionTokens
	}
	if firstLine < 1 {
		firstLine = 1
	}

	var (
		sections []Section
		cur      []string
		curStart int
		curTok   int
	)
	flush := func(endLine int) {
		text := strings.TrimRight(strings.Join(cur, "\n"), "\n ")
		if strings.TrimSpace(text) != "" {
			// Trailing blank lines are not part of the section.
			end := curStart + len(strings.Split(text, "\n")) - 1
			if end > endLine {
				end = endLine
			}
			sections = append(sections, Section{StartLine: curStart, EndLine: end, Text: text})
		}
		cur, curTok = nil, 0
	}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lineNo := firstLine + i
		trimmed := strings.TrimSpace(line)

		if len(cur) == 0 {
			if trimmed == "" {
				continue
			}
			curStart = lineNo
		} else if isHeading(trimmed) {
			flush(lineNo - 1)
			curStart = lineNo
		} else if trimmed != "" && curTok+EstimateTokens(line) > maxTokens && endsBlock(cur) {
			flush(lineNo - 1)
			curStart = lineNo
		}

		cur = append(cur, line)
		curTok += EstimateTokens(line)
	}
	if len(cur) > 0 {
		flush(firstLine + len(lines) - 1)
	}
	return sections
}

// endsBlock reports whether the pending lines end at a blank line, the only
// place a size-driven cut is allowed. A block larger than the budget on its
// own stays whole.
func endsBlock(lines []string) bool {
	return len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == ""
}

func isHeading(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	level := len(line) - len(strings.TrimLeft(line, "#"))
	return level <= 6 && len(line) > level && line[level] == ' '
}

// EstimateTokens approximates tokens at four bytes each.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
