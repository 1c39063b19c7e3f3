package lazypkg

import (
	"github.com/charmbracelet/log"
)

// Runtime is the package registry, resolver and module loader.
//
// A Runtime is not safe for concurrent use: every method must run on the goroutine
// that drives its Loop. Other goroutines hand work over with Loop().Defer or
// Loop().Do.
type Runtime struct {
	cfg    config
	loop   *Loop
	logger *log.Logger

	packages   map[string]*Package
	order      []string
	dependents map[string][]string
	lastStamp  int64
	handlers   []Handler

	waiting map[string]*Signal[string]

	requests       []string
	requested      map[string]struct{}
	flushScheduled bool

	ready      bool
	readyQueue Queue[struct{}]
}

// New returns an empty runtime.
func New(opts ...Option) *Runtime {
	cfg := applyOptions(opts)
	rt := &Runtime{
		cfg:        cfg,
		logger:     cfg.logger,
		packages:   make(map[string]*Package),
		dependents: make(map[string][]string),
		waiting:    make(map[string]*Signal[string]),
		requested:  make(map[string]struct{}),
	}
	rt.loop = cfg.loop
	if rt.loop == nil {
		rt.loop = NewLoop(func(err error) {
			rt.logger.Error("loop task failed", "err", err)
		})
	}
	return rt
}

// Loop returns the loop that owns the runtime.
func (rt *Runtime) Loop() *Loop {
	return rt.loop
}

// Global returns the execution context handed to module factories.
func (rt *Runtime) Global() any {
	return rt.cfg.global
}

// Use registers a handler that runs for every package reaching StateDone, before
// its stylesheets are injected and its main module runs.
func (rt *Runtime) Use(handler Handler) {
	if handler == nil {
		return
	}
	rt.handlers = append(rt.handlers, handler)
}

// Ready runs cb once the document is ready. If it already is, cb runs on the next
// tick.
func (rt *Runtime) Ready(cb func() error) {
	if cb == nil {
		return
	}
	if rt.ready {
		rt.loop.Defer(cb)
		return
	}
	rt.readyQueue.Add(func(struct{}) error {
		return cb()
	})
}

// DocumentReady is called by the backend when the host document is ready. Only the
// first call has an effect. Callbacks passed to Ready while the queue drains run
// on a later tick.
func (rt *Runtime) DocumentReady() error {
	if rt.ready {
		return nil
	}
	rt.ready = true
	rt.logger.Debug("document ready", "callbacks", rt.readyQueue.Len())
	return rt.readyQueue.Execute(struct{}{})
}

// IsReady reports whether DocumentReady was called.
func (rt *Runtime) IsReady() bool {
	return rt.ready
}
