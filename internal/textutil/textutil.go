// Package textutil normalises names, link targets and snippets so that the
// same entity written in different Unicode forms or cases compares equal.
package textutil

import (
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns s in NFC with surrounding space trimmed and inner runs
// of whitespace collapsed to one space. Hangul typed on different keyboards
// (composed vs decomposed jamo) becomes identical.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// NormalizeText returns note text in NFC with CRLF line endings turned into
// LF and surrounding whitespace trimmed. Inner lines are kept as written.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(norm.NFC.String(s), "\r\n", "\n")
	return strings.TrimSpace(s)
}

// Fold returns the case-folded, normalised form of s for comparisons.
func Fold(s string) string {
	return cases.Fold().String(Normalize(s))
}

// EqualFold reports whether a and b are equal after normalisation and folding.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}

// ContainsFold reports whether substr occurs in s, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}

// LinkKey reduces a link target or file path to the key used to match links
// against files: the folded base name without a markdown extension.
// "notes/People/민수씨.md" and "[[민수씨]]" share the key "민수씨".
func LinkKey(target string) string {
	t := strings.TrimSpace(target)
	t = strings.TrimPrefix(t, "[[")
	t = strings.TrimSuffix(t, "]]")
	if i := strings.IndexByte(t, '|'); i >= 0 {
		t = t[:i]
	}
	if i := strings.IndexByte(t, '#'); i >= 0 {
		t = t[:i]
	}
	t = path.Base(strings.ReplaceAll(t, "\\", "/"))
	for _, ext := range []string{".md", ".markdown", ".txt"} {
		if strings.HasSuffix(strings.ToLower(t), ext) {
			t = t[:len(t)-len(ext)]
			break
		}
	}
	if t == "." || t == "/" {
		return ""
	}
	return Fold(t)
}

// Keys maps every value through fn, dropping empties and duplicates while
// keeping first-seen order.
func Keys(values []string, fn func(string) string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		k := fn(v)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// UniqueFold removes case-insensitive duplicates, keeping the first spelling.
func UniqueFold(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := Normalize(v)
		if n == "" {
			continue
		}
		k := Fold(n)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Snippet returns at most maxRunes runes of s on a single line, with an
// ellipsis when truncated.
func Snippet(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
