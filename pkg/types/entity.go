package types

import "time"

// GraphNode is a typed entity in the knowledge graph. The pair (Name, Type)
// is unique: upserting an existing pair merges into the stored node.
type GraphNode struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       NodeType   `json:"type"`
	Subtype    string     `json:"subtype,omitempty"`
	Importance int        `json:"importance"`          // 0-10
	Status     NodeStatus `json:"status"`
	Confidence float64    `json:"confidence"`          // 0.0-1.0
	Properties Properties `json:"properties,omitempty"`

	// Validity window
	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	// Provenance
	MemoryFile string `json:"memory_file,omitempty"`
	Source     string `json:"source,omitempty"`

	// Tags attached in the same write as the node.
	Tags []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tag is a reusable label. Re-registering existing tag text increments
// UsageCount instead of inserting a duplicate.
type Tag struct {
	ID         string `json:"id"`
	Tag        string `json:"tag"`
	Category   string `json:"category,omitempty"`
	UsageCount int    `json:"usage_count"`
}
