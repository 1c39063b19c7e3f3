// Package store keeps package bundles for the server. Stores are kv.KV values
// keyed by package name, so they compose with the cachekv and layerkv helpers.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chenyanchen/kv"
	"github.com/chenyanchen/kv/cachekv"
	"github.com/chenyanchen/kv/layerkv"

	"github.com/chenyanchen/lazypkg/bundle"
)

// ErrNotFound is returned by Get for unknown packages.
var ErrNotFound = kv.ErrNotFound

// Store is a bundle store that can enumerate its packages.
type Store interface {
	kv.KV[string, bundle.Bundle]
	List(ctx context.Context) ([]string, error)
}

// Cached is a store fronted by an in-memory LRU. Reads fill the cache, writes go
// through to the backend.
type Cached struct {
	kv.KV[string, bundle.Bundle]
	lru     kv.KV[string, bundle.Bundle]
	backend Store
}

// NewCached wraps backend with an LRU of size entries that expire after ttl.
func NewCached(backend Store, size int, ttl time.Duration) (*Cached, error) {
	if backend == nil {
		return nil, fmt.Errorf("new cached store: nil backend")
	}
	lru, err := cachekv.NewLRU[string, bundle.Bundle](size, nil, ttl)
	if err != nil {
		return nil, fmt.Errorf("new cached store: %w", err)
	}
	layered, err := layerkv.New[string, bundle.Bundle](lru, backend, layerkv.WithWriteThrough())
	if err != nil {
		return nil, fmt.Errorf("new cached store: %w", err)
	}
	return &Cached{KV: layered, lru: lru, backend: backend}, nil
}

// List lists the backend.
func (c *Cached) List(ctx context.Context) ([]string, error) {
	return c.backend.List(ctx)
}

// Invalidate drops names from the cache only.
func (c *Cached) Invalidate(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := c.lru.Del(ctx, name); err != nil {
			return fmt.Errorf("invalidate %s: %w", name, err)
		}
	}
	return nil
}

// LoadAll returns every bundle in s, sorted by name.
func LoadAll(ctx context.Context, s Store) ([]bundle.Bundle, error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	sort.Strings(names)
	out := make([]bundle.Bundle, 0, len(names))
	for _, name := range names {
		b, err := s.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load bundle %s: %w", name, err)
		}
		out = append(out, b)
	}
	return out, nil
}
