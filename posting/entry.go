package posting

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind is the entry type. Its numeric value is part of the wire format.
type Kind int32

const (
	KindTerm  Kind = 0
	KindIndex Kind = 1
	KindPage  Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTerm:
		return "term"
	case KindIndex:
		return "index"
	case KindPage:
		return "page"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "term":
		return KindTerm, nil
	case "index":
		return KindIndex, nil
	case "page":
		return KindPage, nil
	default:
		return 0, fmt.Errorf("unknown entry kind %q", s)
	}
}

// Entry is one posting: something known about Subject (an index term).
type Entry interface {
	Kind() Kind
	Subject() string
	Relevance() float32
	// target is the type-specific secondary key
	target() string
	withRelevance(r float32) Entry
}

// TermEntry points at a related term.
type TermEntry struct {
	Subj string
	Rel  float32
	Term string
}

// IndexEntry points at another index which holds more postings for the subject.
type IndexEntry struct {
	Subj  string
	Rel   float32
	Index string
}

// PageEntry points at a page the subject occurs in. Positions maps word positions to the text fragment around them; an empty fragment means the position is known but the fragment is not.
type PageEntry struct {
	Subj      string
	Rel       float32
	Page      string
	Title     string
	Positions map[int32]string
}

func (e *TermEntry) Kind() Kind         { return KindTerm }
func (e *TermEntry) Subject() string    { return e.Subj }
func (e *TermEntry) Relevance() float32 { return e.Rel }
func (e *TermEntry) target() string     { return e.Term }

func (e *TermEntry) withRelevance(r float32) Entry {
	c := *e
	c.Rel = r
	return &c
}

func (e *IndexEntry) Kind() Kind         { return KindIndex }
func (e *IndexEntry) Subject() string    { return e.Subj }
func (e *IndexEntry) Relevance() float32 { return e.Rel }
func (e *IndexEntry) target() string     { return e.Index }

func (e *IndexEntry) withRelevance(r float32) Entry {
	c := *e
	c.Rel = r
	return &c
}

func (e *PageEntry) Kind() Kind         { return KindPage }
func (e *PageEntry) Subject() string    { return e.Subj }
func (e *PageEntry) Relevance() float32 { return e.Rel }
func (e *PageEntry) target() string     { return e.Page }

// shares Positions with the original
func (e *PageEntry) withRelevance(r float32) Entry {
	c := *e
	c.Rel = r
	return &c
}

// SortedPositions returns the known positions in increasing order.
func (e *PageEntry) SortedPositions() []int32 {
	return slices.Sorted(maps.Keys(e.Positions))
}

// WithRelevance returns a copy of e with its relevance replaced.
func WithRelevance(e Entry, r float32) Entry {
	return e.withRelevance(r)
}

// Compare is the natural order of entries: by subject, then kind, then target. Relevance and page details do not take part, so a sorted set holds at most one entry per target.
func Compare(a, b Entry) int {
	if c := strings.Compare(a.Subject(), b.Subject()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Kind(), b.Kind()); c != 0 {
		return c
	}
	return strings.Compare(a.target(), b.target())
}

// EqualsTarget reports whether two entries point at the same thing, whatever their subject and relevance.
func EqualsTarget(a, b Entry) bool {
	if a.Kind() != b.Kind() || a.target() != b.target() {
		return false
	}
	pa, ok := a.(*PageEntry)
	if !ok {
		return true
	}
	pb := b.(*PageEntry)
	return pa.Title == pb.Title && maps.Equal(pa.Positions, pb.Positions)
}

// Equal is full structural equality.
func Equal(a, b Entry) bool {
	return a.Subject() == b.Subject() && a.Relevance() == b.Relevance() && EqualsTarget(a, b)
}
