// Package classify turns free-text notes into structured metadata with
// ordered keyword and pattern rules, English and Korean alike. It performs
// no I/O; an optional LLMFallback refines results no rule could read.
package classify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/memento-graph/internal/importer"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/pkg/types"
)

// EntityIndex answers whether an entity already exists in the graph.
type EntityIndex interface {
	Has(name string, nodeType types.NodeType) bool
}

// Input is one classification request.
type Input struct {
	// Text is the note. A leading front-matter block is parsed when
	// Frontmatter is nil.
	Text string

	Frontmatter map[string]interface{}

	// Now anchors relative dates ("yesterday", "어제"). Zero means time.Now.
	Now time.Time

	// Known marks entities that already exist. Nil treats every entity as new.
	Known EntityIndex
}

// Classifier applies the rule tables. The zero value is ready to use.
type Classifier struct{}

// New returns a Classifier.
func New() *Classifier {
	return &Classifier{}
}

// Classify reads in. It never fails: when nothing matches the defaults of
// types.DefaultClassification are returned with Fallback set.
func (c *Classifier) Classify(in Input) *types.ClassificationResult {
	text, fm := in.Text, in.Frontmatter
	if fm == nil {
		if parsed, body, _, err := importer.SplitFrontmatter(text); err == nil {
			fm, text = parsed, body
		}
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	res := types.DefaultClassification()
	lower := strings.ToLower(text)
	matched := false

	// Entities
	people := detectPeople(text)
	cases := detectCases(text)
	places := detectPlaces(text)

	// Keyword tables
	if t, ok := detectEntryType(lower); ok {
		res.Type = t
		matched = true
	}
	if emotion, cue := firstCue(emotionCues, lower); emotion != "" {
		res.Emotion, res.EmotionRaw = emotion, originalSpan(text, lower, cue)
		if res.Type == types.EntryKnowledge && !matched {
			res.Type = types.EntryEmotion
		}
		matched = true
	}
	if domain := bestCue(domainCues, lower); domain != "" {
		res.Domain = domain
		matched = true
	}
	if status, _ := firstCue(statusCues, lower); status != "" {
		res.Status = types.ParseNodeStatus(status)
	}

	res.Tags = importer.ExtractInlineTags(text)
	res.OutgoingLinks = importer.LinkTargets(text)

	res.TemporalExpressions, res.OccurredAt = detectTemporal(lower, now)
	if len(res.TemporalExpressions) > 0 && res.Type == types.EntryKnowledge && !matched {
		res.Type = types.EntryEvent
	}

	res.Importance = scoreImportance(lower, res, len(cases) > 0)

	// Front-matter overrides rules.
	if len(fm) > 0 {
		applyFrontmatter(res, fm, &people, &cases, &places)
		res.Frontmatter, _ = types.PropertiesFromMap(fm)
		matched = true
	}

	res.People = people
	if len(cases) > 0 {
		res.CaseRef = cases[0]
	}
	if len(places) > 0 {
		res.Place = places[0]
	}
	res.Entities = buildEntities(people, cases, places, in.Known)
	res.Relationships = buildRelationships(people, cases, places)
	res.SuggestedLinks = suggestedLinks(res)

	if len(res.Entities) > 0 || len(res.Tags) > 0 || len(res.OutgoingLinks) > 0 || len(res.TemporalExpressions) > 0 {
		matched = true
	}
	res.Fallback = !matched
	return res
}

func detectEntryType(lower string) (types.MemoryEntryType, bool) {
	for _, row := range entryTypeCues {
		for _, cue := range row.cues {
			if strings.Contains(lower, cue) {
				return row.entry, true
			}
		}
	}
	return types.EntryKnowledge, false
}

// firstCue returns the first label with a matching cue, and that cue.
func firstCue(table cueTable, lower string) (string, string) {
	for _, row := range table {
		for _, cue := range row.cues {
			if strings.Contains(lower, cue) {
				return row.label, cue
			}
		}
	}
	return "", ""
}

// originalSpan returns cue as it is written in text, where lower is text
// lower-cased.
func originalSpan(text, lower, cue string) string {
	if len(lower) == len(text) {
		if i := strings.Index(lower, cue); i >= 0 {
			return text[i : i+len(cue)]
		}
	}
	if m := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(cue)).FindString(text); m != "" {
		return m
	}
	return cue
}

// bestCue returns the label with the most matching cues, earliest on ties.
func bestCue(table cueTable, lower string) string {
	best, bestHits := "", 0
	for _, row := range table {
		hits := 0
		for _, cue := range row.cues {
			hits += strings.Count(lower, cue)
		}
		if hits > bestHits {
			best, bestHits = row.label, hits
		}
	}
	return best
}

func containsAny(lower string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

func scoreImportance(lower string, res *types.ClassificationResult, hasCase bool) int {
	score := types.DefaultImportance
	if containsAny(lower, urgencyCues) {
		score += 2
	}
	if containsAny(lower, minorCues) {
		score -= 2
	}
	if res.Type == types.EntryDecision {
		score++
	}
	if res.Emotion != "" {
		score++
	}
	if hasCase {
		score++
	}
	return clamp(score, 1, 10)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// detectPeople returns people in order of first appearance.
func detectPeople(text string) []types.PersonRef {
	type span struct{ start, end int }
	var spans []span
	for _, re := range []*regexp.Regexp{honorificRe, handleRe, socialVerbRe} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			spans = append(spans, span{m[2], m[3]})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var people []types.PersonRef
	for _, sp := range spans {
		name := textutil.Normalize(text[sp.start:sp.end])
		if name == "" || notPeople[name] || notPeople[strings.Fields(name)[0]] {
			continue
		}
		dup := false
		for _, p := range people {
			if textutil.EqualFold(p.Name, name) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		ref := types.PersonRef{Name: name}
		if m := identifierRe.FindStringSubmatch(text[sp.end:]); m != nil {
			ref.Identifier = strings.TrimSpace(m[1])
		}
		people = append(people, ref)
	}
	return people
}

func detectCases(text string) []string {
	var cases []string
	for _, m := range caseColonRe.FindAllStringSubmatch(text, -1) {
		cases = append(cases, m[1])
	}
	for _, m := range caseHashRe.FindAllStringSubmatch(text, -1) {
		cases = append(cases, m[1])
	}
	for _, m := range caseKoRe.FindAllStringSubmatch(text, -1) {
		cases = append(cases, m[1]+" "+m[2])
	}
	return textutil.UniqueFold(cases)
}

func detectPlaces(text string) []string {
	var places []string
	for _, m := range placeEnRe.FindAllStringSubmatch(text, -1) {
		words := strings.Fields(strings.ToLower(m[1]))
		if len(words) == 2 && placeTrailers[words[1]] {
			words = words[:1]
		}
		if notPlaces[words[0]] {
			continue
		}
		places = append(places, strings.Join(words, " "))
	}
	for _, m := range placeKoRe.FindAllStringSubmatch(text, -1) {
		if !notKoPlaces[m[1]] {
			places = append(places, m[1])
		}
	}
	return textutil.UniqueFold(places)
}

// detectTemporal lists relative and ISO date expressions in order of
// appearance and resolves the first one against now.
func detectTemporal(lower string, now time.Time) ([]string, *time.Time) {
	type hit struct {
		pos  int
		expr string
		at   time.Time
	}
	var hits []hit
	covered := make([]bool, len(lower))

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, tc := range temporalCues {
		from := 0
		for {
			i := strings.Index(lower[from:], tc.cue)
			if i < 0 {
				break
			}
			pos := from + i
			from = pos + len(tc.cue)
			if covered[pos] {
				continue
			}
			for k := pos; k < from; k++ {
				covered[k] = true
			}
			hits = append(hits, hit{pos: pos, expr: tc.cue, at: day.AddDate(0, 0, tc.offset)})
		}
	}
	for _, m := range isoDateRe.FindAllStringSubmatchIndex(lower, -1) {
		expr := lower[m[2]:m[3]]
		t, err := time.ParseInLocation("2006-01-02", expr, now.Location())
		if err != nil {
			continue
		}
		hits = append(hits, hit{pos: m[2], expr: expr, at: t})
	}
	if len(hits) == 0 {
		return nil, nil
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	exprs := make([]string, 0, len(hits))
	for _, h := range hits {
		exprs = append(exprs, h.expr)
	}
	at := hits[0].at
	return exprs, &at
}

func applyFrontmatter(res *types.ClassificationResult, fm map[string]interface{}, people *[]types.PersonRef, cases, places *[]string) {
	if v := importer.ExtractString(fm, "type"); v != "" {
		if t := types.ParseEntryType(v); t != types.EntryUnknown {
			res.Type = t
		}
	}
	if tags := importer.ExtractTags(fm); len(tags) > 0 {
		res.Tags = textutil.UniqueFold(append(tags, res.Tags...))
	}
	if v := importer.ExtractString(fm, "importance"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			res.Importance = clamp(n, 1, 10)
		}
	}
	if v := importer.ExtractString(fm, "domain"); v != "" {
		res.Domain = v
	}
	if v := importer.ExtractString(fm, "status"); v != "" {
		if st := types.ParseNodeStatus(v); st != types.StatusUnknown {
			res.Status = st
		}
	}
	if v := importer.ExtractString(fm, "emotion"); v != "" {
		res.Emotion, res.EmotionRaw = strings.ToLower(v), v
	}
	if v := importer.ExtractString(fm, "case"); v != "" {
		*cases = textutil.UniqueFold(append([]string{v}, *cases...))
	}
	if v := importer.ExtractString(fm, "place"); v != "" {
		*places = textutil.UniqueFold(append([]string{v}, *places...))
	}
	if names := importer.ExtractList(fm, "people"); len(names) > 0 {
		merged := make([]types.PersonRef, 0, len(names)+len(*people))
		for _, n := range names {
			merged = append(merged, parsePersonRef(n))
		}
		for _, p := range *people {
			dup := false
			for _, m := range merged {
				if textutil.EqualFold(m.Name, p.Name) {
					dup = true
					break
				}
			}
			if !dup {
				merged = append(merged, p)
			}
		}
		*people = merged
	}
	if ts := importer.ExtractTimestamp(fm); !ts.IsZero() {
		res.OccurredAt = &ts
	}
}

// parsePersonRef reads "민수씨 (neighbor, 40s)" into a name and identifier.
func parsePersonRef(s string) types.PersonRef {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '('); i > 0 && strings.HasSuffix(s, ")") {
		return types.PersonRef{
			Name:       textutil.Normalize(s[:i]),
			Identifier: strings.TrimSpace(s[i+1 : len(s)-1]),
		}
	}
	return types.PersonRef{Name: textutil.Normalize(s)}
}

func buildEntities(people []types.PersonRef, cases, places []string, known EntityIndex) []types.ExtractedEntity {
	var out []types.ExtractedEntity
	add := func(name string, t types.NodeType, identifier string) {
		isNew := known == nil || !known.Has(name, t)
		out = append(out, types.ExtractedEntity{Name: name, Type: t, Identifier: identifier, IsNew: isNew})
	}
	for _, p := range people {
		add(p.Name, types.NodeTypePerson, p.Identifier)
	}
	for _, c := range cases {
		add(c, types.NodeTypeCase, "")
	}
	for _, p := range places {
		add(p, types.NodeTypePlace, "")
	}
	return out
}

func buildRelationships(people []types.PersonRef, cases, places []string) []types.ExtractedRelationship {
	var rels []types.ExtractedRelationship
	rel := func(from string, ft types.NodeType, to string, tt types.NodeType, label string) {
		rels = append(rels, types.ExtractedRelationship{From: from, FromType: ft, To: to, ToType: tt, Relationship: label})
	}

	for _, p := range people {
		for _, c := range cases {
			rel(p.Name, types.NodeTypePerson, c, types.NodeTypeCase, "involved_in")
		}
	}
	for _, c := range cases {
		for _, pl := range places {
			rel(c, types.NodeTypeCase, pl, types.NodeTypePlace, "located_at")
		}
	}
	for _, p := range people {
		for _, pl := range places {
			rel(p.Name, types.NodeTypePerson, pl, types.NodeTypePlace, "visited")
		}
	}
	for i := 0; i < len(people); i++ {
		for j := i + 1; j < len(people); j++ {
			rel(people[i].Name, types.NodeTypePerson, people[j].Name, types.NodeTypePerson, "mentioned_with")
		}
	}
	return rels
}

func suggestedLinks(res *types.ClassificationResult) []string {
	links := append([]string{}, res.OutgoingLinks...)
	for _, p := range res.People {
		links = append(links, p.Name)
	}
	if res.CaseRef != "" {
		links = append(links, res.CaseRef)
	}
	if res.Place != "" {
		links = append(links, res.Place)
	}
	return textutil.UniqueFold(links)
}
