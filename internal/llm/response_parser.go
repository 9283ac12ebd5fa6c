package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scrypster/memento-graph/pkg/types"
)

// PersonResponse is a person named by the model.
type PersonResponse struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
}

// ClassificationResponse is the model's reading of a note.
type ClassificationResponse struct {
	Type       string           `json:"type"`
	Importance int              `json:"importance"`
	People     []PersonResponse `json:"people"`
	Case       string           `json:"case"`
	Place      string           `json:"place"`
	Tags       []string         `json:"tags"`
	Domain     string           `json:"domain"`
	Emotion    string           `json:"emotion"`
	Status     string           `json:"status"`
}

// ClassificationPrompt asks for a single JSON object describing content.
func ClassificationPrompt(content string) string {
	names := make([]string, 0, len(types.ValidEntryTypes))
	for _, t := range types.ValidEntryTypes {
		names = append(names, string(t))
	}
	return fmt.Sprintf(`TASK: Classify a personal note.
OUTPUT: ONLY one JSON object. NO markdown. NO code blocks.

FIELDS:
- type: one of %s
- importance: integer 1-10 (5 is ordinary)
- people: [{"name": "...", "identifier": "short description or empty"}]
- case: ongoing matter or dispute the note is about, or ""
- place: where it happened, or ""
- tags: short lowercase keywords
- domain: life area such as home, work, health, family, finance, or ""
- emotion: dominant feeling such as angry, sad, happy, anxious, or ""
- status: active, resolved or archived

NOTE:
%s

JSON:`, strings.Join(names, ", "), content)
}

// extractJSON extracts the first valid JSON object from a string that may contain extra text.
// This handles cases where LLMs add explanations before/after the JSON despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		// Only count braces outside of strings
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text
}

// ParseClassificationResponse parses the model output. An unknown type is
// an error; an out-of-range importance is clamped; people without a name
// are dropped.
func ParseClassificationResponse(raw string) (*ClassificationResponse, error) {
	var resp ClassificationResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse classification JSON: %w", err)
	}

	t := types.ParseEntryType(resp.Type)
	if t == types.EntryUnknown {
		return nil, fmt.Errorf("invalid entry type: %q", resp.Type)
	}
	resp.Type = string(t)

	switch {
	case resp.Importance == 0:
		resp.Importance = types.DefaultImportance
	case resp.Importance < 1:
		resp.Importance = 1
	case resp.Importance > 10:
		resp.Importance = 10
	}

	people := resp.People[:0]
	for _, p := range resp.People {
		if p.Name = strings.TrimSpace(p.Name); p.Name != "" {
			people = append(people, p)
		}
	}
	resp.People = people
	return &resp, nil
}
