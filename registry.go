package lazypkg

import (
	"fmt"
)

// Define registers a package and its dependencies. If res is not nil the package is
// implemented right away.
func (rt *Runtime) Define(name string, deps []string, res *Resources) error {
	if err := rt.define(name, deps, 0); err != nil {
		return err
	}
	if res != nil {
		return rt.Implement(name, res)
	}
	return nil
}

func (rt *Runtime) define(name string, deps []string, stamp int64) error {
	if name == "" {
		return fmt.Errorf("define package: name is empty")
	}
	if _, exists := rt.packages[name]; exists {
		return DuplicateRegistrationError{Name: name}
	}
	for _, dep := range deps {
		if dep == "" {
			return fmt.Errorf("define package %s: dependency name is empty", name)
		}
	}

	pkg := &Package{
		Name:  name,
		Deps:  append([]string(nil), deps...),
		Stamp: rt.nextStamp(stamp),
		State: StateRegistered,
	}
	rt.packages[name] = pkg
	rt.order = append(rt.order, name)
	for _, dep := range pkg.Deps {
		rt.dependents[dep] = append(rt.dependents[dep], name)
	}
	rt.logger.Debug("package registered", "package", name, "deps", pkg.Deps, "stamp", pkg.Stamp)
	return nil
}

// nextStamp returns the registration stamp for a new package. Clock stamps are
// strictly increasing; an explicit stamp is kept as-is and raises the floor.
func (rt *Runtime) nextStamp(explicit int64) int64 {
	if explicit > 0 {
		if explicit > rt.lastStamp {
			rt.lastStamp = explicit
		}
		return explicit
	}
	now := rt.cfg.clock().UnixMilli()
	if now <= rt.lastStamp {
		now = rt.lastStamp + 1
	}
	rt.lastStamp = now
	return now
}

// MarkAvailable flags registered packages as fetchable from the backend. Packages
// past StateRegistered are left untouched.
func (rt *Runtime) MarkAvailable(names ...string) error {
	for _, name := range names {
		if _, ok := rt.packages[name]; !ok {
			return UnregisteredPackageError{Name: name}
		}
	}
	for _, name := range names {
		pkg := rt.packages[name]
		if pkg.State == StateRegistered {
			pkg.State = StateAvailable
		}
	}
	return nil
}

// Implement attaches resources to a registered package and resolves it once all of
// its dependencies are done.
func (rt *Runtime) Implement(name string, res *Resources) error {
	pkg, ok := rt.packages[name]
	if !ok {
		return UnregisteredPackageError{Name: name}
	}
	if pkg.Resources != nil {
		return AlreadyImplementedError{Name: name}
	}
	plan, err := rt.plan(pkg.Deps)
	if err != nil {
		return fmt.Errorf("implement %s: %w", name, err)
	}

	if res == nil {
		res = &Resources{}
	}
	pkg.Resources = res
	pkg.slots = make(map[string]*moduleSlot, len(res.Modules))
	for id, factory := range res.Modules {
		pkg.slots[id] = &moduleSlot{factory: factory}
	}
	pkg.State = StateResolving
	rt.logger.Debug("package implemented", "package", name, "modules", len(res.Modules), "waiting", len(plan.wait))

	return rt.commit(plan, func() error {
		return rt.complete(pkg)
	})
}

// complete moves pkg to StateDone and wakes everything waiting on it.
func (rt *Runtime) complete(pkg *Package) error {
	if pkg.State == StateDone {
		return nil
	}
	pkg.State = StateDone

	for _, handler := range rt.handlers {
		if err := handler(pkg); err != nil {
			return fmt.Errorf("handle package %s: %w", pkg.Name, err)
		}
	}
	for _, sheet := range pkg.Resources.Stylesheets {
		if err := rt.cfg.backend.InjectStylesheet(sheet.CSS, sheet.Media); err != nil {
			return fmt.Errorf("inject stylesheet for %s (media=%q): %w", pkg.Name, sheet.Media, err)
		}
	}
	if pkg.Resources.HasModules() {
		if _, err := rt.require(pkg.Name, MainModule, ""); err != nil {
			return err
		}
	}
	rt.logger.Debug("package done", "package", pkg.Name)

	signal, ok := rt.waiting[pkg.Name]
	if !ok {
		return nil
	}
	delete(rt.waiting, pkg.Name)
	return signal.Settle(pkg.Name)
}

// Package returns the registry record for name. The record is owned by the runtime
// and must not be modified.
func (rt *Runtime) Package(name string) (*Package, bool) {
	pkg, ok := rt.packages[name]
	return pkg, ok
}

// State returns the lifecycle state of name.
func (rt *Runtime) State(name string) (State, bool) {
	pkg, ok := rt.packages[name]
	if !ok {
		return 0, false
	}
	return pkg.State, true
}

// Dependents returns the packages that declared name as a dependency, in
// registration order.
func (rt *Runtime) Dependents(name string) []string {
	return append([]string(nil), rt.dependents[name]...)
}

// Names returns every registered package name in registration order.
func (rt *Runtime) Names() []string {
	return append([]string(nil), rt.order...)
}
