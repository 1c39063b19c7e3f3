package lazypkg

import (
	"fmt"
	"strings"
)

// Scope is the context a module factory runs in: the package and module id that
// relative requires are resolved against.
type Scope struct {
	rt      *Runtime
	Package string
	Module  string
}

// Require loads a module relative to the scope. Specifiers starting with "." or
// ".." address modules of the same package; anything else is "package[/module]".
func (s Scope) Require(specifier string) (any, error) {
	if s.rt == nil {
		return nil, fmt.Errorf("require %q: scope is not bound to a runtime", specifier)
	}
	target := resolveSpecifier(s, specifier)
	parent := ""
	if target.Package != s.Package {
		parent = s.Package
	}
	return s.rt.require(target.Package, target.Module, parent)
}

// Ensure is Runtime.Ensure, available to factories that load packages on demand.
func (s Scope) Ensure(names []string, cb EnsureFunc) error {
	if s.rt == nil {
		return fmt.Errorf("ensure: scope is not bound to a runtime")
	}
	return s.rt.Ensure(names, cb)
}

// Require returns the exports of module id in package name, running its factory
// on first use. An empty id means the main module.
func (rt *Runtime) Require(name string, id string) (any, error) {
	return rt.require(name, id, "")
}

func (rt *Runtime) require(name string, id string, parent string) (any, error) {
	if id == "" {
		id = MainModule
	}
	pkg, ok := rt.packages[name]
	if !ok {
		return nil, UnregisteredPackageError{Name: name}
	}
	slot, ok := pkg.slots[id]
	if !ok {
		return nil, ModuleNotFoundError{Package: name, ID: id}
	}
	if pkg.State != StateDone {
		return nil, DependenciesNotMetError{Name: name}
	}
	if slot.live != nil {
		return slot.live.Exports, nil
	}

	exports := make(map[string]any)
	mod := &Module{
		ID:      id,
		Package: name,
		Parent:  parent,
		Main:    id == MainModule,
		Exports: exports,
	}
	factory := slot.factory
	slot.live = mod
	slot.factory = nil
	if parent != "" {
		if owner, ok := rt.packages[parent]; ok {
			owner.Children = append(owner.Children, mod)
		}
	}

	if factory != nil {
		scope := Scope{rt: rt, Package: name, Module: id}
		if err := factory(scope, exports, mod, rt.cfg.global); err != nil {
			return nil, fmt.Errorf("execute module %s/%s: %w", name, id, err)
		}
	}
	mod.Loaded = true
	return mod.Exports, nil
}

// target names one module of one package.
type target struct {
	Package string
	Module  string
}

func resolveSpecifier(from Scope, specifier string) target {
	head, rest, _ := strings.Cut(specifier, "/")
	if head == "." || head == ".." {
		return target{Package: from.Package, Module: ResolveModuleID(from.Module, specifier)}
	}
	if rest == "" {
		rest = MainModule
	}
	return target{Package: head, Module: rest}
}

// ResolveModuleID resolves rel against the module id abs:
//
//	ResolveModuleID("./a/b/c", "./test")   == "./a/b/test"
//	ResolveModuleID("./a/b/c", "../test")  == "./a/test"
//	ResolveModuleID("./a/b/c", "./c/d/e")  == "./a/b/c/d/e"
func ResolveModuleID(abs string, rel string) string {
	segments := strings.Split(abs, "/")
	segments = segments[:len(segments)-1]
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		case ".":
		default:
			segments = append(segments, seg)
		}
	}
	return strings.Join(segments, "/")
}
