package reload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyanchen/lazypkg"
	"github.com/chenyanchen/lazypkg/bundle"
	"github.com/chenyanchen/lazypkg/store"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func bundles() []bundle.Bundle {
	return []bundle.Bundle{
		{Name: "ui", Deps: []string{"base"}, Modules: map[string]string{".": "exports.ui = 1;"}},
		{Name: "base", Modules: map[string]string{".": "exports.base = 1;"}},
		{Name: "extra", Stylesheets: []lazypkg.Stylesheet{{Media: "all", CSS: "p{}"}}},
	}
}

func stamps(m lazypkg.Manifest) map[string]int64 {
	out := make(map[string]int64, len(m.Packages))
	for _, e := range m.Packages {
		out[e.Name] = e.Stamp
	}
	return out
}

func TestReconcile_Initial(t *testing.T) {
	r := New(WithClock(fixedClock(1000)))

	res, err := r.Reconcile(bundles())
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "extra", "ui"}, res.Added)
	assert.Equal(t, []string{"base", "extra", "ui"}, res.Rebuilt)
	assert.Empty(t, res.Reused)

	m := r.Manifest()
	require.Len(t, m.Packages, 3)
	assert.Equal(t, "base", m.Packages[0].Name)
	assert.Equal(t, "ui", m.Packages[2].Name)
	assert.Equal(t, []string{"base"}, m.Packages[2].Deps)
	assert.True(t, m.Packages[2].Available)
	assert.Equal(t, map[string]int64{"base": 1000, "extra": 1001, "ui": 1002}, stamps(m))
}

func TestReconcile_ReuseAndRebuild(t *testing.T) {
	r := New(WithClock(fixedClock(1000)))
	_, err := r.Reconcile(bundles())
	require.NoError(t, err)

	next := bundles()
	next[1].Modules["."] = "exports.base = 2;"
	res, err := r.Reconcile(next)
	require.NoError(t, err)

	assert.Empty(t, res.Added)
	assert.Empty(t, res.Removed)
	assert.Equal(t, []string{"base"}, res.Changed)
	assert.Equal(t, []string{"base", "ui"}, res.Rebuilt)
	assert.Equal(t, []string{"extra"}, res.Reused)
	assert.Equal(t, map[string]int64{"base": 1003, "extra": 1001, "ui": 1004}, stamps(r.Manifest()))
}

func TestReconcile_NoChange(t *testing.T) {
	r := New(WithClock(fixedClock(1000)))
	_, err := r.Reconcile(bundles())
	require.NoError(t, err)

	res, err := r.Reconcile(bundles())
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, []string{"base", "extra", "ui"}, res.Reused)
}

func TestReconcile_Removed(t *testing.T) {
	r := New(WithClock(fixedClock(1000)))
	_, err := r.Reconcile(bundles())
	require.NoError(t, err)

	res, err := r.Reconcile(bundles()[:2])
	require.NoError(t, err)
	assert.Equal(t, []string{"extra"}, res.Removed)
	assert.Len(t, r.Manifest().Packages, 2)
}

func TestReconcile_Invalid(t *testing.T) {
	r := New()

	_, err := r.Reconcile([]bundle.Bundle{{Name: "ui", Deps: []string{"ghost"}}})
	var unregistered lazypkg.UnregisteredPackageError
	require.True(t, errors.As(err, &unregistered))
	assert.Equal(t, "ghost", unregistered.Name)

	_, err = r.Reconcile([]bundle.Bundle{
		{Name: "a", Deps: []string{"b"}},
		{Name: "b", Deps: []string{"a"}},
	})
	var cycle lazypkg.CycleDetectedError
	require.True(t, errors.As(err, &cycle))

	_, err = r.Reconcile([]bundle.Bundle{{Name: "a"}, {Name: "a"}})
	var dup lazypkg.DuplicateRegistrationError
	require.True(t, errors.As(err, &dup))

	assert.Empty(t, r.Manifest().Packages, "failed reconciliations keep the snapshot")
}

func TestReconcileStore(t *testing.T) {
	dir, err := store.NewDirStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, b := range bundles() {
		require.NoError(t, dir.Set(ctx, b.Name, b))
	}

	r := New(WithClock(fixedClock(1000)))
	res, err := r.ReconcileStore(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, res.Added, 3)
}

func TestPoll(t *testing.T) {
	dir, err := store.NewDirStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, dir.Set(ctx, "base", bundle.Bundle{Name: "base"}))

	r := New()
	changes := make(chan Result, 4)
	done := make(chan error, 1)
	go func() {
		done <- r.Poll(ctx, dir, 10*time.Millisecond, func(res Result) error {
			changes <- res
			return nil
		})
	}()

	first := <-changes
	assert.Equal(t, []string{"base"}, first.Added)

	require.NoError(t, dir.Set(ctx, "ui", bundle.Bundle{Name: "ui", Deps: []string{"base"}}))
	second := <-changes
	assert.Equal(t, []string{"ui"}, second.Added)
	assert.Equal(t, []string{"base"}, second.Reused)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
