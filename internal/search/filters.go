package search

import (
	"fmt"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/internal/validation"
	"github.com/scrypster/memento-graph/pkg/types"
)

// Filters narrow fused results. Set fields are AND-combined.
type Filters struct {
	// Type must equal the result's entry type.
	Type string `json:"type,omitempty"`

	MinImportance int `json:"minImportance,omitempty" validate:"min=0,max=10"`

	// People match when any listed name is a case-insensitive substring of
	// a person on the result.
	People []string `json:"people,omitempty"`

	// Case must equal the result's case reference.
	Case string `json:"case,omitempty"`

	// Tags match when any listed tag is a case-insensitive substring of a
	// tag on the result.
	Tags []string `json:"tags,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.Type == "" && f.MinImportance == 0 && len(f.People) == 0 && f.Case == "" && len(f.Tags) == 0
}

// ApplyFilters keeps the results that pass every set filter, in order.
// Invalid filters yield an empty list and an error wrapping
// storage.ErrInvalidInput.
func ApplyFilters(results []Result, f Filters) ([]Result, error) {
	if f.IsZero() {
		return results, nil
	}
	if err := validation.Struct(f); err != nil {
		return []Result{}, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	var entryType types.MemoryEntryType
	if f.Type != "" {
		entryType = types.ParseEntryType(f.Type)
		if entryType == types.EntryUnknown {
			return []Result{}, fmt.Errorf("%w: unknown entry type %q", storage.ErrInvalidInput, f.Type)
		}
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		if entryType != "" && r.Type != entryType {
			continue
		}
		if r.Importance < f.MinImportance {
			continue
		}
		if len(f.People) > 0 && !overlapFold(r.People, f.People) {
			continue
		}
		if f.Case != "" && textutil.Normalize(r.Case) != textutil.Normalize(f.Case) {
			continue
		}
		if len(f.Tags) > 0 && !overlapFold(r.Tags, f.Tags) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// overlapFold reports whether any want is a substring of any have.
func overlapFold(have, want []string) bool {
	for _, w := range want {
		if textutil.Normalize(w) == "" {
			continue
		}
		for _, h := range have {
			if textutil.ContainsFold(h, w) {
				return true
			}
		}
	}
	return false
}
