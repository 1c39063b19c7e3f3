package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/chenyanchen/lazypkg"
	"github.com/chenyanchen/lazypkg/bundle"
)

// PackageFile is the name of the descriptor inside each package directory.
const PackageFile = "package.yaml"

// packageFile is the on-disk descriptor. Sources live next to it and are named
// relative to the package directory.
type packageFile struct {
	Deps        []string          `yaml:"deps,omitempty"`
	Modules     map[string]string `yaml:"modules,omitempty"`
	Stylesheets []styleFile       `yaml:"stylesheets,omitempty"`
}

type styleFile struct {
	Media string `yaml:"media,omitempty"`
	File  string `yaml:"file"`
}

// DirStore keeps one directory per package:
//
//	<root>/<name>/package.yaml
//	<root>/<name>/index.js
//	<root>/<name>/lib/x.js
//	<root>/<name>/style-0.css
type DirStore struct {
	root string
}

// NewDirStore returns a store rooted at dir, creating it if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("new dir store: empty path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("new dir store: %w", err)
	}
	return &DirStore{root: dir}, nil
}

func (s *DirStore) pkgDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || !filepath.IsLocal(name) || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid package name %q", name)
	}
	return filepath.Join(s.root, name), nil
}

func (s *DirStore) Get(_ context.Context, name string) (bundle.Bundle, error) {
	dir, err := s.pkgDir(name)
	if err != nil {
		return bundle.Bundle{}, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, PackageFile))
	if errors.Is(err, fs.ErrNotExist) {
		return bundle.Bundle{}, ErrNotFound
	}
	if err != nil {
		return bundle.Bundle{}, err
	}
	var pf packageFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return bundle.Bundle{}, fmt.Errorf("parse %s/%s: %w", name, PackageFile, err)
	}

	out := bundle.Bundle{Name: name, Deps: pf.Deps}
	if len(pf.Modules) > 0 {
		out.Modules = make(map[string]string, len(pf.Modules))
	}
	for id, file := range pf.Modules {
		src, err := readLocal(dir, file)
		if err != nil {
			return bundle.Bundle{}, fmt.Errorf("read module %s/%s: %w", name, id, err)
		}
		out.Modules[id] = src
	}
	for _, sf := range pf.Stylesheets {
		css, err := readLocal(dir, sf.File)
		if err != nil {
			return bundle.Bundle{}, fmt.Errorf("read stylesheet %s/%s: %w", name, sf.File, err)
		}
		out.Stylesheets = append(out.Stylesheets, lazypkg.Stylesheet{Media: sf.Media, CSS: css})
	}
	return out, nil
}

func (s *DirStore) Set(_ context.Context, name string, b bundle.Bundle) error {
	dir, err := s.pkgDir(name)
	if err != nil {
		return err
	}
	b.Name = name
	if err := b.Validate(); err != nil {
		return err
	}
	// Rewrite from scratch so stale module files do not linger.
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	pf := packageFile{Deps: b.Deps}
	if len(b.Modules) > 0 {
		pf.Modules = make(map[string]string, len(b.Modules))
	}
	for _, id := range b.ModuleIDs() {
		file := moduleFile(id)
		if err := writeLocal(dir, file, b.Modules[id]); err != nil {
			return fmt.Errorf("write module %s/%s: %w", name, id, err)
		}
		pf.Modules[id] = file
	}
	for i, sheet := range b.Stylesheets {
		file := "style-" + strconv.Itoa(i) + ".css"
		if err := writeLocal(dir, file, sheet.CSS); err != nil {
			return fmt.Errorf("write stylesheet %s/%s: %w", name, file, err)
		}
		pf.Stylesheets = append(pf.Stylesheets, styleFile{Media: sheet.Media, File: file})
	}

	raw, err := yaml.Marshal(pf)
	if err != nil {
		return err
	}
	return writeLocal(dir, PackageFile, string(raw))
}

func (s *DirStore) Del(_ context.Context, name string) error {
	dir, err := s.pkgDir(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// List returns the directories that hold a package descriptor.
func (s *DirStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), PackageFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func moduleFile(id string) string {
	if id == lazypkg.MainModule {
		return "index.js"
	}
	return filepath.FromSlash(id) + ".js"
}

func readLocal(dir, file string) (string, error) {
	if !filepath.IsLocal(file) {
		return "", fmt.Errorf("path %q escapes package directory", file)
	}
	raw, err := os.ReadFile(filepath.Join(dir, file))
	return string(raw), err
}

func writeLocal(dir, file, content string) error {
	if !filepath.IsLocal(file) {
		return fmt.Errorf("path %q escapes package directory", file)
	}
	path := filepath.Join(dir, file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
