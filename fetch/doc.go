// Package fetch is an HTTP loader backend for lazypkg.
//
// A Client holds what runtimes can share: the HTTP client, the compiled program
// cache and in-flight request deduplication. Each runtime gets its own Backend from
// Client.Backend.
//
// The injection strategy follows document readiness. Before the runtime is ready a
// request is fetched inline on the loop tick that flushed it, blocking like a
// parser-inserted script. Afterwards it is fetched on its own goroutine and the
// result is posted back to the loop.
package fetch
