// Provides sorting and paging of query results.

package query

import (
	"slices"

	"github.com/maruel/deeb/document"
)

// Sort orders results by a field path.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Options are applied after filtering, in this order: sort, skip, limit.
type Options struct {
	// Sort keys, most significant first. Ties keep table order.
	Sort []Sort `json:"sort,omitempty"`
	// Skip drops the first Skip results.
	Skip int `json:"skip,omitempty"`
	// Limit caps the number of results. 0 means no limit.
	Limit int `json:"limit,omitempty"`
}

// Apply sorts, skips and limits docs in place and returns the resulting slice.
func (o *Options) Apply(docs []*document.Document) []*document.Document {
	if o == nil {
		return docs
	}
	if len(o.Sort) > 0 {
		SortDocuments(docs, o.Sort)
	}
	if o.Skip > 0 {
		if o.Skip >= len(docs) {
			return docs[:0]
		}
		docs = docs[o.Skip:]
	}
	if o.Limit > 0 && o.Limit < len(docs) {
		docs = docs[:o.Limit]
	}
	return docs
}

// SortDocuments stably sorts docs by the given keys.
//
// Documents lacking a sort field come first in ascending order. Values of
// different types are ranked by [document.SortCompare].
func SortDocuments(docs []*document.Document, sorts []Sort) {
	slices.SortStableFunc(docs, func(a, b *document.Document) int {
		for i := range sorts {
			s := &sorts[i]
			va, okA := a.Lookup(s.Field)
			vb, okB := b.Lookup(s.Field)
			var c int
			switch {
			case !okA && !okB:
				c = 0
			case !okA:
				c = -1
			case !okB:
				c = 1
			default:
				c = document.SortCompare(va, vb)
			}
			if c != 0 {
				if s.Desc {
					return -c
				}
				return c
			}
		}
		return 0
	})
}
