package task

import mapset "github.com/deckarep/golang-set/v2"

// OrderedSet keeps insertion order with constant-time membership checks.
// It is persisted as a plain list.
type OrderedSet struct {
	items []string
	index mapset.Set[string]
}

func NewOrderedSet(items ...string) *OrderedSet {
	s := &OrderedSet{index: mapset.NewThreadUnsafeSet[string]()}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add appends id unless already present and reports whether it was added.
func (s *OrderedSet) Add(id string) bool {
	if !s.index.Add(id) {
		return false
	}
	s.items = append(s.items, id)
	return true
}

func (s *OrderedSet) Contains(id string) bool { return s.index.Contains(id) }

func (s *OrderedSet) Len() int { return len(s.items) }

// Items returns a copy of the members in insertion order.
func (s *OrderedSet) Items() []string {
	return append([]string(nil), s.items...)
}

// Set exposes the membership index for set algebra.
func (s *OrderedSet) Set() mapset.Set[string] { return s.index.Clone() }
