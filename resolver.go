package lazypkg

import (
	"fmt"
	"strings"
)

// ensurePlan is the expanded form of one Ensure request.
//
// req keeps the requested names in order, wait holds every package in the
// transitive closure that is not done, load the subset that must be fetched.
type ensurePlan struct {
	req  []string
	wait []string
	load []string
}

// Ensure calls cb once every package in names, and transitively all of their
// dependencies, reached StateDone. cb always runs on a later tick, even when
// nothing has to be waited for.
//
// Unknown packages and dependency cycles are reported before any state changes.
func (rt *Runtime) Ensure(names []string, cb EnsureFunc) error {
	plan, err := rt.plan(names)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", strings.Join(names, ","), err)
	}
	req := plan.req
	return rt.commit(plan, func() error {
		exports, err := rt.exportsOf(req)
		if err != nil {
			return err
		}
		if cb == nil {
			return nil
		}
		return cb(exports)
	})
}

func (rt *Runtime) plan(names []string) (ensurePlan, error) {
	if _, err := walkDeps(names, rt.packages, false); err != nil {
		return ensurePlan{}, err
	}

	p := ensurePlan{req: append([]string(nil), names...)}
	visited := make(map[string]struct{}, len(names))
	work := append([]string(nil), names...)
	for i := 0; i < len(work); i++ {
		name := work[i]
		if _, seen := visited[name]; seen {
			continue
		}
		visited[name] = struct{}{}

		pkg := rt.packages[name]
		if pkg.State != StateDone {
			p.wait = append(p.wait, name)
		}
		if pkg.State == StateAvailable {
			p.load = append(p.load, name)
		}
		work = append(work, pkg.Deps...)
	}
	return p, nil
}

// commit applies a plan: available packages start loading, done is queued on the
// wait list of every pending package and fires after the last one settles.
func (rt *Runtime) commit(p ensurePlan, done Task) error {
	for _, name := range p.load {
		rt.packages[name].State = StateLoading
	}
	if len(p.wait) == 0 {
		rt.loop.Defer(done)
		return nil
	}

	w := &waiter{pending: append([]string(nil), p.wait...), done: done}
	for _, name := range p.wait {
		signal, ok := rt.waiting[name]
		if !ok {
			signal = &Signal[string]{}
			rt.waiting[name] = signal
		}
		signal.Subscribe(w.settle)
	}
	if len(p.load) > 0 {
		return rt.RequestPackages(p.load)
	}
	return nil
}

// waiter is the continuation shared by every wait list of one request.
type waiter struct {
	pending []string
	fired   bool
	done    Task
}

func (w *waiter) settle(name string) error {
	for i := range w.pending {
		if w.pending[i] == name {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			break
		}
	}
	if len(w.pending) > 0 || w.fired {
		return nil
	}
	w.fired = true
	return w.done()
}

func (rt *Runtime) exportsOf(names []string) ([]any, error) {
	exports := make([]any, len(names))
	for i, name := range names {
		pkg := rt.packages[name]
		if !pkg.Resources.HasModules() {
			continue
		}
		v, err := rt.require(name, MainModule, "")
		if err != nil {
			return nil, err
		}
		exports[i] = v
	}
	return exports, nil
}

// RequestPackages buffers names for the backend. All calls made within one tick
// are flushed together as a single backend request.
func (rt *Runtime) RequestPackages(names []string) error {
	for _, name := range names {
		if _, ok := rt.packages[name]; !ok {
			return UnregisteredPackageError{Name: name}
		}
	}
	for _, name := range names {
		if _, dup := rt.requested[name]; dup {
			continue
		}
		rt.requested[name] = struct{}{}
		rt.requests = append(rt.requests, name)
	}
	if len(rt.requests) > 0 && !rt.flushScheduled {
		rt.flushScheduled = true
		rt.loop.Defer(rt.flush)
	}
	return nil
}

// flush hands the buffered batch to the backend. The buffer is reset before the
// backend runs so requests it triggers start a new batch.
func (rt *Runtime) flush() error {
	rt.flushScheduled = false
	names := rt.requests
	rt.requests = nil
	rt.requested = make(map[string]struct{})
	if len(names) == 0 {
		return nil
	}

	var stamp int64
	for _, name := range names {
		stamp = max(stamp, rt.packages[name].Stamp)
	}
	rt.logger.Debug("requesting packages", "packages", names, "stamp", stamp)
	if err := rt.cfg.backend.RequestPackages(names, stamp); err != nil {
		return fmt.Errorf("request packages %s: %w", strings.Join(names, ";"), err)
	}
	return nil
}

// walkDeps returns the packages reachable from roots, dependencies first. Unknown
// names fail with UnregisteredPackageError unless skipMissing is set, in which
// case they are left out.
func walkDeps(roots []string, packages map[string]*Package, skipMissing bool) ([]string, error) {
	const (
		stateNew uint8 = iota
		stateVisiting
		stateDone
	)

	state := make(map[string]uint8, len(packages))
	stack := make([]string, 0, len(roots))
	stackPos := make(map[string]int, len(roots))
	topo := make([]string, 0, len(packages))

	var dfs func(name string) error
	dfs = func(name string) error {
		switch state[name] {
		case stateDone:
			return nil
		case stateVisiting:
			cycle := append([]string(nil), stack[stackPos[name]:]...)
			return CycleDetectedError{Path: append(cycle, name)}
		}

		pkg, ok := packages[name]
		if !ok {
			if skipMissing {
				state[name] = stateDone
				return nil
			}
			return UnregisteredPackageError{Name: name}
		}

		state[name] = stateVisiting
		stackPos[name] = len(stack)
		stack = append(stack, name)
		for _, dep := range pkg.Deps {
			if err := dfs(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(stackPos, name)
		state[name] = stateDone
		topo = append(topo, name)
		return nil
	}

	for _, name := range roots {
		if err := dfs(name); err != nil {
			return nil, err
		}
	}
	return topo, nil
}
