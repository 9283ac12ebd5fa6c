package types

import (
	"fmt"
	"strings"
	"time"
)

// Chunk is an immutable, line-addressed unit of indexed text. Embedding is
// produced outside this module and treated as opaque.
type Chunk struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Source    string    `json:"source,omitempty"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Text      string    `json:"text"`
	Hash      string    `json:"hash"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// Location is the (path, start line) key used to deduplicate results.
func (c *Chunk) Location() string {
	return LocationKey(c.Path, c.StartLine)
}

// LocationKey formats a (path, start line) pair.
func LocationKey(path string, startLine int) string {
	return fmt.Sprintf("%s#L%d", path, startLine)
}

// PersonRef names a person mentioned in a chunk. Identifier disambiguates
// people sharing a name (for example "neighbor, 40s, gardens").
type PersonRef struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
}

// String renders the reference the way it appears in notes.
func (p PersonRef) String() string {
	if p.Identifier == "" {
		return p.Name
	}
	return p.Name + " (" + p.Identifier + ")"
}

// ChunkMetadata is the classifier output for one chunk. It is written whole
// or not at all; only ChunkID and MemoryFile are mandatory.
type ChunkMetadata struct {
	ChunkID       string          `json:"chunk_id" validate:"required"`
	MemoryFile    string          `json:"memory_file" validate:"required"`
	Type          MemoryEntryType `json:"type"`
	CreatedAt     time.Time       `json:"created_at"`
	People        []PersonRef     `json:"people,omitempty"`
	CaseRef       string          `json:"case,omitempty"`
	Place         string          `json:"place,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Importance    int             `json:"importance" validate:"min=0,max=10"`
	Domain        string          `json:"domain,omitempty"`
	Emotion       string          `json:"emotion,omitempty"`
	EmotionRaw    string          `json:"emotion_raw,omitempty"`
	Status        NodeStatus      `json:"status"`
	LinkedNodes   []string        `json:"linked_nodes,omitempty"`
	OutgoingLinks []string        `json:"outgoing_links,omitempty"`
	Frontmatter   Properties      `json:"frontmatter,omitempty"`

	// Access tracking feeds time decay.
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// PeopleNames returns the bare names of every referenced person.
func (m *ChunkMetadata) PeopleNames() []string {
	names := make([]string, 0, len(m.People))
	for _, p := range m.People {
		names = append(names, p.Name)
	}
	return names
}

// MentionsPerson reports whether name appears among the people (case-insensitive).
func (m *ChunkMetadata) MentionsPerson(name string) bool {
	for _, p := range m.People {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}
