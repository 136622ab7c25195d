package deposit

import "fmt"

// EntitySet is a resolved, ordered collection of entities keyed by
// normalized identifier. It is read-only once constructed and safe to share
// between concurrent builds.
type EntitySet struct {
	order []string
	byID  map[string]Entity
}

// NewEntitySet creates a set from entities, preserving their order.
// Duplicate or empty identifiers are rejected.
func NewEntitySet(entities ...Entity) (*EntitySet, error) {
	s := &EntitySet{
		order: make([]string, 0, len(entities)),
		byID:  make(map[string]Entity, len(entities)),
	}
	for _, e := range entities {
		if e == nil {
			return nil, fmt.Errorf("nil entity")
		}
		id := NormalizeID(e.EntityID())
		if id == "" {
			return nil, fmt.Errorf("%s entity has empty id", e.Kind())
		}
		if _, exists := s.byID[id]; exists {
			return nil, fmt.Errorf("duplicate entity id %s", id)
		}
		s.order = append(s.order, id)
		s.byID[id] = e
	}
	return s, nil
}

// Get returns the entity with the given identifier.
func (s *EntitySet) Get(id string) (Entity, bool) {
	e, ok := s.byID[NormalizeID(id)]
	return e, ok
}

// Len returns the number of entities in the set.
func (s *EntitySet) Len() int {
	return len(s.order)
}

// All returns the entities in insertion order.
func (s *EntitySet) All() []Entity {
	out := make([]Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
