// Package bundle defines the wire format packages travel in between the server
// and the fetch backend.
package bundle

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chenyanchen/lazypkg"
)

// Bundle is the source form of one package: JavaScript modules keyed by module id
// and its stylesheets.
type Bundle struct {
	Name        string               `json:"name" yaml:"name"`
	Deps        []string             `json:"deps,omitempty" yaml:"deps,omitempty"`
	Modules     map[string]string    `json:"modules,omitempty" yaml:"modules,omitempty"`
	Stylesheets []lazypkg.Stylesheet `json:"stylesheets,omitempty" yaml:"stylesheets,omitempty"`
}

// ModuleIDs returns the module ids in sorted order.
func (b Bundle) ModuleIDs() []string {
	ids := make([]string, 0, len(b.Modules))
	for id := range b.Modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that the bundle can be implemented.
func (b Bundle) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("bundle: name is empty")
	}
	if strings.ContainsAny(b.Name, ";/?") {
		return fmt.Errorf("bundle %s: name must not contain ';', '/' or '?'", b.Name)
	}
	for _, dep := range b.Deps {
		if dep == "" {
			return fmt.Errorf("bundle %s: dependency name is empty", b.Name)
		}
	}
	return nil
}

// Payload is the response body of a package request.
type Payload struct {
	Packages []Bundle `json:"packages"`
}

// Separator joins package names in a request key.
const Separator = ";"

// Key builds the request path segment for names, "a;b?t=stamp". A zero stamp is
// left out.
func Key(names []string, stamp int64) string {
	key := strings.Join(names, Separator)
	if stamp > 0 {
		key += "?t=" + strconv.FormatInt(stamp, 10)
	}
	return key
}

// SplitNames parses the names part of a request key.
func SplitNames(s string) []string {
	parts := strings.Split(s, Separator)
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}

// ParseKey is the inverse of Key.
func ParseKey(key string) ([]string, int64, error) {
	names, query, found := strings.Cut(key, "?")
	var stamp int64
	if found {
		raw, ok := strings.CutPrefix(query, "t=")
		if !ok {
			return nil, 0, fmt.Errorf("parse key %q: want t=<stamp>", key)
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("parse key %q: %w", key, err)
		}
		stamp = v
	}
	return SplitNames(names), stamp, nil
}
