// Package search ranks chunks for a query by fusing vector, lexical and
// graph signals, filters the fused list, and appends related context
// reached through the registered relation sources.
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/pkg/types"
)

var (
	entityCues = newCueSet(
		"who is", "who was", "who's", "who did", "whom", "about person", "relationship with",
		"누구", "누가", "사람", "관계",
	)
	temporalCues = newCueSet(
		"when", "yesterday", "today", "tomorrow", "last week", "last month", "last year",
		"this week", "recently", "recent", "ago", "since", "latest",
		"언제", "어제", "오늘", "지난", "최근", "작년", "올해", "이번 주",
	)
	explanatoryCues = newCueSet(
		"how to", "how do", "how does", "how can", "what is", "what are", "why", "explain",
		"difference between", "meaning of",
		"어떻게", "왜", "무엇", "뭐야", "설명", "차이",
	)
)

var (
	queryHonorificRe = regexp.MustCompile(`[가-힣]{1,4}(?:선생님|사장님|씨|님)`)
	queryHandleRe    = regexp.MustCompile(`(?:^|\s)@[A-Za-z0-9_]`)
	queryDateRe      = regexp.MustCompile(`\b\d{4}-\d{2}(?:-\d{2})?\b`)
	quotedRe         = regexp.MustCompile(`"[^"]+"|` + "`[^`]+`")
	camelCaseRe      = regexp.MustCompile(`\b[a-z]+[A-Z][A-Za-z0-9]*\b|\b[A-Z][a-z0-9]+[A-Z][A-Za-z0-9]*\b`)
	snakeCaseRe      = regexp.MustCompile(`\b[A-Za-z0-9]+_[A-Za-z0-9_]+\b`)
	codeTokenRe      = regexp.MustCompile(`\b[A-Z]{2,}-?\d+\b|\w+\.(?:go|md|py|ts|js|json|yaml|yml)\b|\w+\(\)`)
)

// ignoredHonorifics end in an honorific syllable without naming a person.
var ignoredHonorifics = map[string]bool{"날씨": true, "솜씨": true, "손님": true, "선생님": true, "사장님": true}

// QueryClassifier assigns a QueryType to a natural-language query. Known
// entity names registered on the classifier count as entity cues.
type QueryClassifier struct {
	mu       sync.RWMutex
	entities map[string]struct{}
}

// NewQueryClassifier creates a classifier with no known entities.
func NewQueryClassifier() *QueryClassifier {
	return &QueryClassifier{entities: make(map[string]struct{})}
}

// RegisterEntities adds names that mark a query as entity-centric.
func (c *QueryClassifier) RegisterEntities(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		if k := textutil.Fold(n); len([]rune(k)) >= 2 {
			c.entities[k] = struct{}{}
		}
	}
}

// KnownEntities reports how many names are registered.
func (c *QueryClassifier) KnownEntities() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// ClassifyQueryType checks, in order: entity cues, temporal cues, exact-term
// cues, explanatory cues. A query matching none is semantic.
func (c *QueryClassifier) ClassifyQueryType(query string) types.QueryType {
	q := textutil.Normalize(query)
	if q == "" {
		return types.QuerySemantic
	}
	folded := textutil.Fold(q)

	switch {
	case c.hasEntityCue(q, folded):
		return types.QueryEntity
	case temporalCues.match(folded) || queryDateRe.MatchString(q):
		return types.QueryTemporal
	case quotedRe.MatchString(q) || camelCaseRe.MatchString(q) || snakeCaseRe.MatchString(q) || codeTokenRe.MatchString(q):
		return types.QueryExact
	case explanatoryCues.match(folded):
		return types.QueryKnowledge
	}
	return types.QuerySemantic
}

func (c *QueryClassifier) hasEntityCue(q, folded string) bool {
	if entityCues.match(folded) || queryHandleRe.MatchString(q) {
		return true
	}
	for _, m := range queryHonorificRe.FindAllString(q, -1) {
		if !ignoredHonorifics[m] {
			return true
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for name := range c.entities {
		if strings.Contains(folded, name) {
			return true
		}
	}
	return false
}

// MatchEntities returns the entity references in query: registered names it
// contains (folded) and honorific Korean names, in that order.
func (c *QueryClassifier) MatchEntities(query string) []string {
	q := textutil.Normalize(query)
	folded := textutil.Fold(q)

	var names []string
	c.mu.RLock()
	for name := range c.entities {
		if strings.Contains(folded, name) {
			names = append(names, name)
		}
	}
	c.mu.RUnlock()
	sort.Strings(names)

	for _, m := range queryHonorificRe.FindAllString(q, -1) {
		if !ignoredHonorifics[m] {
			names = append(names, m)
		}
	}
	return textutil.UniqueFold(names)
}

// cueSet matches Latin cues as whole words, so "ago" does not fire inside
// "Chicago". Hangul cues attach to particles and match as substrings.
type cueSet struct {
	words  *regexp.Regexp
	hangul []string
}

func newCueSet(cues ...string) cueSet {
	var s cueSet
	var latin []string
	for _, cue := range cues {
		if isHangul(cue) {
			s.hangul = append(s.hangul, cue)
			continue
		}
		latin = append(latin, regexp.QuoteMeta(cue))
	}
	if len(latin) > 0 {
		s.words = regexp.MustCompile(`\b(?:` + strings.Join(latin, "|") + `)\b`)
	}
	return s
}

func (s cueSet) match(folded string) bool {
	if s.words != nil && s.words.MatchString(folded) {
		return true
	}
	for _, cue := range s.hangul {
		if strings.Contains(folded, cue) {
			return true
		}
	}
	return false
}

func isHangul(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
