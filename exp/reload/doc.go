// Package reload tracks the bundle set a server publishes and decides which
// packages get a new version stamp when it changes.
//
// Reconciler is the core type and performs:
// 1. hash every bundle (deps, module sources, stylesheets)
// 2. diff against the previous snapshot
// 3. propagate changes to dependents in topological order
// 4. stamp rebuilt packages, keep the stamps of reused ones
// 5. publish the resulting manifest
//
// This package is EXPERIMENTAL and its API may change before v1.
package reload
