package sqlite

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/textutil"
)

// LexicalSearch ranks chunks with FTS5 bm25 and normalises the scores to
// 0-1, the best hit scoring 1.
//
// bm25() is negative (more negative is better), so ordering ascending gives
// the best match first and negating gives a positive relevance.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]storage.LexicalHit, error) {
	if limit <= 0 {
		limit = 10
	}
	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.path, c.start_line, c.end_line, c.text, bm25(chunks_fts)
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts)
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: lexical search MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.LexicalHit
	var best float64
	for rows.Next() {
		var h storage.LexicalHit
		var text string
		var raw float64
		if err := rows.Scan(&h.ChunkID, &h.Path, &h.StartLine, &h.EndLine, &text, &raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan lexical hit: %w", err)
		}
		h.Score = -raw
		if h.Score > best {
			best = h.Score
		}
		h.Snippet = textutil.Snippet(text, snippetRunes)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate lexical hits: %w", err)
	}

	for i := range hits {
		if best > 0 {
			hits[i].Score /= best
		} else {
			hits[i].Score = 1
		}
		if hits[i].Score < 0 {
			hits[i].Score = 0
		}
	}
	return hits, nil
}

// stopWords carry no discriminative value in English queries.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true, "about": true,
	"what": true, "how": true, "when": true, "where": true, "why": true, "who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true,
}

// sanitiseFTSQuery turns free-form input into a safe FTS5 MATCH expression:
// punctuation is dropped, stop words removed and every remaining term
// becomes a prefix term joined with OR. Korean particles attached to a noun
// ("민수씨가") still match through the prefix.
//
// Example: "What did 민수씨 say about the garden?" → `"민수씨"* OR "say"* OR "garden"*`
func sanitiseFTSQuery(query string) string {
	words := strings.FieldsFunc(strings.ToLower(textutil.Normalize(query)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if stopWords[w] || seen[w] {
			continue
		}
		if utf8.RuneCountInString(w) < 2 && w[0] < utf8.RuneSelf {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"*`)
	}
	return strings.Join(terms, " OR ")
}
