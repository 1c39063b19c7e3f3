// Package lazypkg provides a lazy package and module loading runtime.
//
// It offers:
// - package registration with declared dependencies (Define) and one-time implementation (Implement)
// - transitive dependency satisfaction with deferred callbacks (Ensure)
// - batched fetch requests, at most one backend request per loop tick
// - CommonJS-style modules per package with memoized, exactly-once factories (Require)
// - a cooperative single-goroutine Loop that owns all runtime state
package lazypkg
