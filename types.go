package lazypkg

// State is the lifecycle state of a registered package.
// States only move forward.
type State uint8

const (
	// StateRegistered means the package was defined but nothing is known about its resources.
	StateRegistered State = iota
	// StateAvailable means the backend can deliver the package but nobody asked for it yet.
	StateAvailable
	// StateLoading means the package is part of an outstanding backend request.
	StateLoading
	// StateResolving means resources are attached and the package waits for its dependencies.
	StateResolving
	// StateDone means dependencies are met and the main module has been executed (terminal).
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateAvailable:
		return "available"
	case StateLoading:
		return "loading"
	case StateResolving:
		return "resolving"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// MainModule is the id of a package's main module.
const MainModule = "."

// Factory initialises one module.
//
// exports is the initial export object (module.Exports before the call). A factory
// may fill it or replace module.Exports entirely. global is the execution context
// configured on the runtime with WithGlobal.
type Factory func(scope Scope, exports map[string]any, module *Module, global any) error

// Value returns a Factory whose module exports v as-is.
func Value(v any) Factory {
	return func(_ Scope, _ map[string]any, module *Module, _ any) error {
		module.Exports = v
		return nil
	}
}

// Stylesheet is CSS text scoped to a media query.
type Stylesheet struct {
	Media string `json:"media" yaml:"media"`
	CSS   string `json:"css" yaml:"css"`
}

// Resources is the bundle attached to a package by Implement.
type Resources struct {
	Modules     map[string]Factory
	Stylesheets []Stylesheet
}

// HasModules reports whether the bundle declares any module.
func (r *Resources) HasModules() bool {
	return r != nil && len(r.Modules) > 0
}

// Module is the live record of an instantiated module.
// Parent is the package whose Require call instantiated the module, if any.
type Module struct {
	ID      string
	Package string
	Parent  string
	Main    bool
	Exports any
	Loaded  bool
}

// Package is the registry record of one package.
//
// Children lists the modules instantiated by Require calls made on behalf of this
// package.
type Package struct {
	Name      string
	Deps      []string
	Stamp     int64
	State     State
	Resources *Resources
	Children  []*Module

	slots map[string]*moduleSlot
}

type moduleSlot struct {
	factory Factory
	live    *Module
}

// Backend is the loader collaborator the runtime calls into.
type Backend interface {
	// RequestPackages fetches the named packages. stamp is the newest registration
	// stamp among names and can be used as a cache key. The backend is expected to
	// eventually call Implement for each name.
	RequestPackages(names []string, stamp int64) error
	// InjectStylesheet applies css for the given media query.
	InjectStylesheet(css string, media string) error
}

// Handler observes packages as they reach StateDone.
type Handler func(pkg *Package) error

// EnsureFunc receives the main module exports of the ensured packages, in request
// order. Packages without modules contribute nil.
type EnsureFunc func(exports []any) error

// Task is a unit of work run by the Loop.
type Task func() error
