package protoindex

import (
	"iter"
	"math"

	"github.com/hyphanet/plugin-Library-sub002/posting"
)

// relevanceMultiplier scales page relevances by how rare a term is: ln(totalPages/entries). Counts are best effort, so whenever this comes out non-positive or undefined it is 1 instead.
func relevanceMultiplier(totalPages, entries int64) float64 {
	if totalPages <= 0 || entries <= 0 {
		return 1
	}
	m := math.Log(float64(totalPages) / float64(entries))
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return 1
	}
	return m
}

// PostingsView is a read-only view of the postings of one term. Page entries come out with their relevance scaled by the term's multiplier; the stored entries are never touched.
type PostingsView struct {
	Term string

	entries    []posting.Entry
	multiplier float64
}

func newPostingsView(term string, entries []posting.Entry, totalPages int64) *PostingsView {
	return &PostingsView{
		Term:       term,
		entries:    entries,
		multiplier: relevanceMultiplier(totalPages, int64(len(entries))),
	}
}

func (v *PostingsView) Len() int {
	return len(v.entries)
}

func (v *PostingsView) Multiplier() float64 {
	return v.multiplier
}

func (v *PostingsView) adjust(e posting.Entry) posting.Entry {
	if e.Kind() != posting.KindPage || v.multiplier == 1 {
		return e
	}
	return posting.WithRelevance(e, float32(float64(e.Relevance())*v.multiplier))
}

// All yields the entries in their natural order.
func (v *PostingsView) All() iter.Seq[posting.Entry] {
	return func(yield func(posting.Entry) bool) {
		for _, e := range v.entries {
			if !yield(v.adjust(e)) {
				return
			}
		}
	}
}

func (v *PostingsView) Entries() []posting.Entry {
	out := make([]posting.Entry, len(v.entries))
	for i, e := range v.entries {
		out[i] = v.adjust(e)
	}
	return out
}
