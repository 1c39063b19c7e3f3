package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/chenyanchen/lazypkg"
	"github.com/chenyanchen/lazypkg/bundle"
	"github.com/chenyanchen/lazypkg/store"
)

type snapshotNode struct {
	hash  string
	deps  []string
	stamp int64
}

// Result describes the package changes of one reconciliation.
type Result struct {
	Added   []string // Package exists only in the new set.
	Removed []string // Package exists only in the old set.
	Changed []string // Package content changed.
	Reused  []string // Package keeps its stamp.
	Rebuilt []string // Package gets a new stamp (added, changed or a dependency rebuilt).
}

// Empty reports whether nothing changed.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Rebuilt) == 0
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the stamp source.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		r.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// Reconciler keeps the published bundle snapshot and its manifest.
type Reconciler struct {
	clock  func() time.Time
	logger *log.Logger

	mu        sync.RWMutex
	snapshot  map[string]snapshotNode
	order     []string
	lastStamp int64
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	return r
}

// Manifest returns the manifest of the current snapshot, dependencies first.
func (r *Reconciler) Manifest() lazypkg.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := lazypkg.Manifest{Packages: make([]lazypkg.ManifestEntry, 0, len(r.order))}
	for _, name := range r.order {
		node := r.snapshot[name]
		m.Packages = append(m.Packages, lazypkg.ManifestEntry{
			Name:      name,
			Deps:      append([]string(nil), node.deps...),
			Stamp:     node.stamp,
			Available: true,
		})
	}
	return m
}

// ReconcileStore loads every bundle in s and reconciles them.
func (r *Reconciler) ReconcileStore(ctx context.Context, s store.Store) (Result, error) {
	bundles, err := store.LoadAll(ctx, s)
	if err != nil {
		return Result{}, err
	}
	return r.Reconcile(bundles)
}

// Reconcile switches the snapshot to bundles.
func (r *Reconciler) Reconcile(bundles []bundle.Bundle) (Result, error) {
	nextSnapshot, order, err := buildSnapshot(bundles)
	if err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	diff := diffSnapshots(r.snapshot, nextSnapshot, r.order, order)
	for _, name := range diff.Reused {
		node := nextSnapshot[name]
		node.stamp = r.snapshot[name].stamp
		nextSnapshot[name] = node
	}
	for _, name := range diff.Rebuilt {
		node := nextSnapshot[name]
		node.stamp = r.nextStamp()
		nextSnapshot[name] = node
	}

	r.snapshot = nextSnapshot
	r.order = order
	if !diff.Empty() {
		r.logger.Info("bundles reconciled",
			"added", len(diff.Added),
			"removed", len(diff.Removed),
			"changed", len(diff.Changed),
			"rebuilt", len(diff.Rebuilt))
	}
	return diff, nil
}

// Poll reconciles s every interval until ctx is done, calling onChange after each
// reconciliation that changed something. The first reconciliation runs at once.
func (r *Reconciler) Poll(ctx context.Context, s store.Store, interval time.Duration, onChange func(Result) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := r.ReconcileStore(ctx, s)
		if err != nil {
			r.logger.Error("reconcile failed", "err", err)
		} else if !res.Empty() && onChange != nil {
			if err := onChange(res); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// nextStamp is strictly increasing so a rebuilt package never reuses a URL.
func (r *Reconciler) nextStamp() int64 {
	now := r.clock().UnixMilli()
	if now <= r.lastStamp {
		now = r.lastStamp + 1
	}
	r.lastStamp = now
	return now
}

func buildSnapshot(bundles []bundle.Bundle) (map[string]snapshotNode, []string, error) {
	sorted := append([]bundle.Bundle(nil), bundles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	// A scratch runtime checks names, duplicates and cycles and yields the order.
	rt := lazypkg.New()
	m := lazypkg.Manifest{Packages: make([]lazypkg.ManifestEntry, 0, len(sorted))}
	out := make(map[string]snapshotNode, len(sorted))
	for _, b := range sorted {
		if err := b.Validate(); err != nil {
			return nil, nil, fmt.Errorf("build snapshot: %w", err)
		}
		deps := append([]string(nil), b.Deps...)
		sort.Strings(deps)
		out[b.Name] = snapshotNode{hash: hashBundle(b, deps), deps: deps}
		m.Packages = append(m.Packages, lazypkg.ManifestEntry{Name: b.Name, Deps: deps})
	}
	if err := rt.ApplyManifest(m); err != nil {
		return nil, nil, fmt.Errorf("build snapshot: %w", err)
	}
	for _, b := range sorted {
		for _, dep := range b.Deps {
			if _, ok := out[dep]; !ok {
				return nil, nil, fmt.Errorf("build snapshot: bundle %s: %w", b.Name, lazypkg.UnregisteredPackageError{Name: dep})
			}
		}
	}
	g, err := rt.Graph()
	if err != nil {
		return nil, nil, fmt.Errorf("build snapshot: %w", err)
	}
	return out, g.TopoOrder, nil
}

func hashBundle(b bundle.Bundle, deps []string) string {
	var sb strings.Builder
	sb.WriteString(b.Name)
	sb.WriteByte('\n')
	for _, dep := range deps {
		sb.WriteString("dep ")
		sb.WriteString(dep)
		sb.WriteByte('\n')
	}
	for _, id := range b.ModuleIDs() {
		src := b.Modules[id]
		fmt.Fprintf(&sb, "module %s %d\n%s\n", id, len(src), src)
	}
	for _, sheet := range b.Stylesheets {
		fmt.Fprintf(&sb, "style %s %d\n%s\n", sheet.Media, len(sheet.CSS), sheet.CSS)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func diffSnapshots(
	oldSnap map[string]snapshotNode,
	newSnap map[string]snapshotNode,
	oldTopo []string,
	newTopo []string,
) Result {
	addedSet := make(map[string]struct{})
	removedSet := make(map[string]struct{})
	changedSet := make(map[string]struct{})

	for name, newNode := range newSnap {
		oldNode, ok := oldSnap[name]
		if !ok {
			addedSet[name] = struct{}{}
			continue
		}
		if newNode.hash != oldNode.hash {
			changedSet[name] = struct{}{}
		}
	}
	for name := range oldSnap {
		if _, ok := newSnap[name]; !ok {
			removedSet[name] = struct{}{}
		}
	}

	// A rebuilt dependency rebuilds its dependents.
	rebuildSet := make(map[string]struct{}, len(newSnap))
	for name := range addedSet {
		rebuildSet[name] = struct{}{}
	}
	for name := range changedSet {
		rebuildSet[name] = struct{}{}
	}
	for _, name := range newTopo {
		if _, already := rebuildSet[name]; already {
			continue
		}
		for _, dep := range newSnap[name].deps {
			if _, rebuilt := rebuildSet[dep]; rebuilt {
				rebuildSet[name] = struct{}{}
				break
			}
		}
	}

	var result Result
	for _, name := range newTopo {
		if _, ok := addedSet[name]; ok {
			result.Added = append(result.Added, name)
		}
		if _, ok := changedSet[name]; ok {
			result.Changed = append(result.Changed, name)
		}
		if _, ok := rebuildSet[name]; ok {
			result.Rebuilt = append(result.Rebuilt, name)
		} else {
			result.Reused = append(result.Reused, name)
		}
	}
	for _, name := range oldTopo {
		if _, ok := removedSet[name]; ok {
			result.Removed = append(result.Removed, name)
		}
	}
	return result
}
