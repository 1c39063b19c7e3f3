package lazypkg

import (
	"fmt"
	"strings"
)

// DuplicateRegistrationError means a package name is defined more than once.
type DuplicateRegistrationError struct {
	Name string
}

func (e DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("package already registered: %s", e.Name)
}

// UnregisteredPackageError means a package name was used before Define.
type UnregisteredPackageError struct {
	Name string
}

func (e UnregisteredPackageError) Error() string {
	return fmt.Sprintf("package not registered: %s", e.Name)
}

// AlreadyImplementedError means Implement was called twice for one package.
type AlreadyImplementedError struct {
	Name string
}

func (e AlreadyImplementedError) Error() string {
	return fmt.Sprintf("package already implemented: %s", e.Name)
}

// ModuleNotFoundError means the package bundle has no module with the requested id.
type ModuleNotFoundError struct {
	Package string
	ID      string
}

func (e ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module not implemented: %s/%s", e.Package, e.ID)
}

// DependenciesNotMetError means a module was required before its package reached StateDone.
type DependenciesNotMetError struct {
	Name string
}

func (e DependenciesNotMetError) Error() string {
	return fmt.Sprintf("package dependencies have not been met: %s", e.Name)
}

// CycleDetectedError means the dependency graph reachable from a request has a cycle.
type CycleDetectedError struct {
	Path []string
}

func (e CycleDetectedError) Error() string {
	if len(e.Path) == 0 {
		return "package dependency cycle detected"
	}
	return "package dependency cycle detected: " + strings.Join(e.Path, " -> ")
}
