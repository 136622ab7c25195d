// Package entities resolves the entity graph of a submission from a backing
// store into a deposit.EntitySet.
package entities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-deposit/pkg/deposit"
)

// ErrNotFound is returned by a Fetcher for an unknown identifier.
var ErrNotFound = errors.New("entity not found")

// Fetcher loads single entities and the files attached to a submission.
type Fetcher interface {
	// Get returns the entity with the given identifier or ErrNotFound.
	Get(ctx context.Context, id string) (deposit.Entity, error)

	// FilesFor returns the files whose submission back-reference matches
	// submissionID, in the store's order.
	FilesFor(ctx context.Context, submissionID string) ([]*deposit.File, error)
}

// DefaultLimit bounds the number of entities a single walk may collect.
const DefaultLimit = 10000

// Walker implements deposit.EntitySource over a Fetcher by following
// references breadth-first from the submission.
type Walker struct {
	fetcher Fetcher
	logger  *slog.Logger
	limit   int
}

// Option configures a Walker
type Option func(*Walker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Walker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithLimit caps the number of entities collected per walk.
func WithLimit(n int) Option {
	return func(w *Walker) {
		w.limit = n
	}
}

// NewWalker creates a Walker reading from fetcher.
func NewWalker(fetcher Fetcher, options ...Option) *Walker {
	w := &Walker{
		fetcher: fetcher,
		logger:  slog.Default(),
		limit:   DefaultLimit,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Resolve collects the submission, every entity reachable from it and its
// files. Dangling references are left out of the set; the builder reports
// them with the referring field.
func (w *Walker) Resolve(ctx context.Context, submissionID string) (*deposit.EntitySet, error) {
	rootID := deposit.NormalizeID(submissionID)
	if rootID == "" {
		return nil, fmt.Errorf("%w: empty submission id", deposit.ErrSubmissionNotFound)
	}

	root, err := w.fetcher.Get(ctx, rootID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", deposit.ErrSubmissionNotFound, rootID)
	} else if err != nil {
		return nil, fmt.Errorf("fetch submission %s: %w", rootID, err)
	}

	seen := map[string]bool{rootID: true}
	collected := []deposit.Entity{root}
	queue := root.References()

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := deposit.NormalizeID(queue[0])
		queue = queue[1:]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		e, err := w.fetcher.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			w.logger.DebugContext(ctx, "dangling reference", "submission", rootID, "id", id)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("fetch entity %s: %w", id, err)
		}
		if len(collected) >= w.limit {
			return nil, fmt.Errorf("submission %s: entity graph exceeds %d entities", rootID, w.limit)
		}
		collected = append(collected, e)
		queue = append(queue, e.References()...)
	}

	files, err := w.fetcher.FilesFor(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("fetch files of %s: %w", rootID, err)
	}
	for _, f := range files {
		id := deposit.NormalizeID(f.ID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		collected = append(collected, f)
	}

	w.logger.DebugContext(ctx, "resolved entity graph", "submission", rootID, "entities", len(collected), "files", len(files))
	return deposit.NewEntitySet(collected...)
}
