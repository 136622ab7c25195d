// Package memory is an in-memory entity source, loaded from JSON fixtures.
package memory

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/entities"
)

// Source holds entities in insertion order. It implements both
// entities.Fetcher and deposit.EntitySource.
type Source struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]deposit.Entity
	walker *entities.Walker
}

// New creates a source holding the given entities.
func New(es ...deposit.Entity) (*Source, error) {
	s := &Source{byID: make(map[string]deposit.Entity)}
	s.walker = entities.NewWalker(s)
	for _, e := range es {
		if err := s.Put(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Load decodes a JSON array of typed entities from r.
func Load(r io.Reader) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read entities: %w", err)
	}
	es, err := deposit.DecodeEntities(data)
	if err != nil {
		return nil, err
	}
	return New(es...)
}

// LoadFile decodes the JSON fixture at path.
func LoadFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open entities: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Put inserts or replaces an entity. A replaced entity keeps its position.
func (s *Source) Put(e deposit.Entity) error {
	if e == nil {
		return fmt.Errorf("nil entity")
	}
	id := deposit.NormalizeID(e.EntityID())
	if id == "" {
		return fmt.Errorf("%s entity has empty id", e.Kind())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[id]; !exists {
		s.order = append(s.order, id)
	}
	s.byID[id] = e
	return nil
}

func (s *Source) Get(ctx context.Context, id string) (deposit.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[deposit.NormalizeID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrNotFound, id)
	}
	return e, nil
}

func (s *Source) FilesFor(ctx context.Context, submissionID string) ([]*deposit.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var files []*deposit.File
	for _, id := range s.order {
		if f, ok := s.byID[id].(*deposit.File); ok && f.BelongsTo(submissionID) {
			files = append(files, f)
		}
	}
	return files, nil
}

// Resolve walks the graph of submissionID.
func (s *Source) Resolve(ctx context.Context, submissionID string) (*deposit.EntitySet, error) {
	return s.walker.Resolve(ctx, submissionID)
}

// ListSubmissions returns the submissions matching filter in insertion order.
func (s *Source) ListSubmissions(ctx context.Context, filter entities.SubmissionFilter) ([]*deposit.SubmissionEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*deposit.SubmissionEntity
	skipped := 0
	for _, id := range s.order {
		sub, ok := s.byID[id].(*deposit.SubmissionEntity)
		if !ok || !filter.Match(sub) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, sub)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
