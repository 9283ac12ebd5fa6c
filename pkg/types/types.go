// Package types defines the core data structures for the memento-graph
// knowledge-memory engine: graph nodes and edges, tags, indexed chunks and
// their classification metadata.
//
// Every "type" string that crosses a storage or tool boundary is modelled as
// a closed enum with an explicit unknown variant. Parsing never fails; input
// that is not recognised maps to the unknown variant so that records written
// by newer versions still load.
package types

import "strings"

// NodeType classifies a GraphNode.
type NodeType string

// Node type constants.
const (
	NodeTypePerson       NodeType = "person"
	NodeTypeOrganization NodeType = "organization"
	NodeTypeCase         NodeType = "case"
	NodeTypeTopic        NodeType = "topic"
	NodeTypePlace        NodeType = "place"
	NodeTypeDocument     NodeType = "document"
	NodeTypeConcept      NodeType = "concept"
	NodeTypeEvent        NodeType = "event"
	NodeTypeKnowledge    NodeType = "knowledge"
	NodeTypeUnknown      NodeType = "unknown"
)

// ValidNodeTypes lists every known node type (excluding unknown).
var ValidNodeTypes = []NodeType{
	NodeTypePerson,
	NodeTypeOrganization,
	NodeTypeCase,
	NodeTypeTopic,
	NodeTypePlace,
	NodeTypeDocument,
	NodeTypeConcept,
	NodeTypeEvent,
	NodeTypeKnowledge,
}

// ParseNodeType maps a string to a NodeType. Unrecognised input yields
// NodeTypeUnknown.
func ParseNodeType(s string) NodeType {
	t := NodeType(normaliseEnum(s))
	if t.IsValid() {
		return t
	}
	return NodeTypeUnknown
}

// IsValid reports whether t is one of the known node types.
func (t NodeType) IsValid() bool {
	for _, v := range ValidNodeTypes {
		if t == v {
			return true
		}
	}
	return false
}

// NodeStatus is the lifecycle status of a node or chunk.
type NodeStatus string

// Status constants. Decay rate grows from active to archived.
const (
	StatusActive   NodeStatus = "active"
	StatusResolved NodeStatus = "resolved"
	StatusArchived NodeStatus = "archived"
	StatusUnknown  NodeStatus = "unknown"
)

// ValidStatuses lists every known status (excluding unknown).
var ValidStatuses = []NodeStatus{StatusActive, StatusResolved, StatusArchived}

// ParseNodeStatus maps a string to a NodeStatus. The empty string is treated
// as active; anything else unrecognised yields StatusUnknown.
func ParseNodeStatus(s string) NodeStatus {
	n := normaliseEnum(s)
	if n == "" {
		return StatusActive
	}
	st := NodeStatus(n)
	if st.IsValid() {
		return st
	}
	return StatusUnknown
}

// IsValid reports whether s is one of the known statuses.
func (s NodeStatus) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// MemoryEntryType classifies a chunk of memory text.
type MemoryEntryType string

// Memory entry type constants.
const (
	EntryEvent        MemoryEntryType = "event"
	EntryDecision     MemoryEntryType = "decision"
	EntryEmotion      MemoryEntryType = "emotion"
	EntryInsight      MemoryEntryType = "insight"
	EntryPreference   MemoryEntryType = "preference"
	EntryRelationship MemoryEntryType = "relationship"
	EntryTask         MemoryEntryType = "task"
	EntryKnowledge    MemoryEntryType = "knowledge"
	EntryUnknown      MemoryEntryType = "unknown"
)

// ValidEntryTypes lists every known entry type (excluding unknown).
var ValidEntryTypes = []MemoryEntryType{
	EntryEvent,
	EntryDecision,
	EntryEmotion,
	EntryInsight,
	EntryPreference,
	EntryRelationship,
	EntryTask,
	EntryKnowledge,
}

// ParseEntryType maps a string to a MemoryEntryType. Unrecognised input
// yields EntryUnknown.
func ParseEntryType(s string) MemoryEntryType {
	t := MemoryEntryType(normaliseEnum(s))
	if t.IsValid() {
		return t
	}
	return EntryUnknown
}

// IsValid reports whether t is one of the known entry types.
func (t MemoryEntryType) IsValid() bool {
	for _, v := range ValidEntryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Direction selects which edges of a node are returned.
type Direction string

// Direction constants.
const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionBoth Direction = "both"
)

// ParseDirection maps a string to a Direction, defaulting to both.
func ParseDirection(s string) Direction {
	switch Direction(normaliseEnum(s)) {
	case DirectionIn:
		return DirectionIn
	case DirectionOut:
		return DirectionOut
	default:
		return DirectionBoth
	}
}

func normaliseEnum(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}
