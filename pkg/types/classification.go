package types

import "time"

// ExtractedEntity is an entity detected in chunk text.
type ExtractedEntity struct {
	Name       string   `json:"name"`
	Type       NodeType `json:"type"`
	Identifier string   `json:"identifier,omitempty"`

	// IsNew is true when no existing node matches (Name, Type).
	IsNew bool `json:"is_new"`
}

// ExtractedRelationship is a directed relation between two extracted
// entities, referenced by name.
type ExtractedRelationship struct {
	From         string   `json:"from"`
	FromType     NodeType `json:"from_type"`
	To           string   `json:"to"`
	ToType       NodeType `json:"to_type"`
	Relationship string   `json:"relationship"`
}

// ClassificationResult is the structured reading of one chunk. A result is
// always complete: when no rule matched, defaults are used and Fallback is set.
type ClassificationResult struct {
	Type          MemoryEntryType         `json:"type"`
	Entities      []ExtractedEntity       `json:"entities,omitempty"`
	Relationships []ExtractedRelationship `json:"relationships,omitempty"`
	People        []PersonRef             `json:"people,omitempty"`
	CaseRef       string                  `json:"case,omitempty"`
	Place         string                  `json:"place,omitempty"`
	Tags          []string                `json:"tags,omitempty"`
	Importance    int                     `json:"importance"`
	Emotion       string                  `json:"emotion,omitempty"`
	EmotionRaw    string                  `json:"emotion_raw,omitempty"`
	Domain        string                  `json:"domain,omitempty"`
	Status        NodeStatus              `json:"status"`

	// Temporal fields
	OccurredAt          *time.Time `json:"occurred_at,omitempty"`
	TemporalExpressions []string   `json:"temporal_expressions,omitempty"`

	// OutgoingLinks are explicit [[wikilink]] targets found in the text.
	OutgoingLinks []string `json:"outgoing_links,omitempty"`

	// SuggestedLinks are targets worth linking: explicit links plus the
	// names of detected people, the case and the place.
	SuggestedLinks []string `json:"suggested_links,omitempty"`

	Frontmatter Properties `json:"frontmatter,omitempty"`

	// Fallback is true when no pattern matched and defaults were applied.
	Fallback bool `json:"fallback"`
}

// DefaultImportance is the importance assigned when nothing suggests otherwise.
const DefaultImportance = 5

// DefaultClassification returns the result used when no rule applies.
func DefaultClassification() *ClassificationResult {
	return &ClassificationResult{
		Type:       EntryKnowledge,
		Importance: DefaultImportance,
		Status:     StatusActive,
		Fallback:   true,
	}
}
