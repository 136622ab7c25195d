package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-deposit/pkg/deposit"
)

// Resolver opens file content by location. Each registered prefix maps to
// a content store; the longest matching prefix wins and the rest of the
// location is used as the object key.
type Resolver struct {
	mu     sync.RWMutex
	mounts []mount
}

type mount struct {
	prefix   string
	store    deposit.ContentStore
	verbatim bool
}

// MountOption configures one mount.
type MountOption func(*mount)

// Verbatim passes object keys to the store exactly as they appear in the
// location, for stores that address objects by URL themselves.
func Verbatim() MountOption {
	return func(m *mount) { m.verbatim = true }
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Mount registers store for locations starting with prefix. Mounting the
// same prefix again replaces the store.
//
// When prefix is a URI prefix (it contains "://") the rest of the location
// is percent-decoded once to form the key. Plain path prefixes and Verbatim
// mounts use the rest of the location as is.
func (r *Resolver) Mount(prefix string, store deposit.ContentStore, opts ...MountOption) {
	m := mount{prefix: prefix, store: store, verbatim: !strings.Contains(prefix, "://")}
	for _, opt := range opts {
		opt(&m)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.mounts {
		if r.mounts[i].prefix == prefix {
			r.mounts[i] = m
			return
		}
	}
	r.mounts = append(r.mounts, m)
	sort.SliceStable(r.mounts, func(i, j int) bool {
		return len(r.mounts[i].prefix) > len(r.mounts[j].prefix)
	})
}

// Prefixes returns the mounted prefixes, longest first.
func (r *Resolver) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.mounts))
	for i, m := range r.mounts {
		out[i] = m.prefix
	}
	return out
}

// Lookup returns the store and object key for location.
func (r *Resolver) Lookup(location string) (deposit.ContentStore, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.mounts {
		if !strings.HasPrefix(location, m.prefix) {
			continue
		}
		key := strings.TrimPrefix(location, m.prefix)
		if !m.verbatim {
			unescaped, err := url.PathUnescape(key)
			if err != nil {
				return nil, "", fmt.Errorf("location %s: %w", location, err)
			}
			key = unescaped
		}
		if key == "" {
			return nil, "", fmt.Errorf("location %s names no object", location)
		}
		return m.store, key, nil
	}
	return nil, "", fmt.Errorf("%w: %s", deposit.ErrNoStore, location)
}

// Open returns the content at location with its size, or -1 when the store
// cannot tell it.
func (r *Resolver) Open(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	store, key, err := r.Lookup(location)
	if err != nil {
		return nil, 0, err
	}

	if o, ok := store.(deposit.Opener); ok {
		rc, size, err := o.Open(ctx, key)
		switch {
		case errors.Is(err, deposit.ErrObjectNotFound):
			return nil, 0, err
		case err != nil:
			return nil, 0, fmt.Errorf("open %s: %w", location, err)
		}
		return rc, size, nil
	}

	size := int64(-1)
	meta, err := store.GetObjectMeta(ctx, key)
	switch {
	case errors.Is(err, deposit.ErrObjectNotFound):
		return nil, 0, err
	case err == nil && meta != nil:
		size = meta.Size
	}

	rc, err := store.Download(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", location, err)
	}
	return rc, size, nil
}
