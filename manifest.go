package lazypkg

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestEntry advertises one package the backend can deliver.
type ManifestEntry struct {
	Name      string   `json:"name" yaml:"name"`
	Deps      []string `json:"deps,omitempty" yaml:"deps,omitempty"`
	Stamp     int64    `json:"stamp,omitempty" yaml:"stamp,omitempty"`
	Available bool     `json:"available" yaml:"available"`
}

// Manifest is the list of packages known ahead of any fetch.
type Manifest struct {
	Packages []ManifestEntry `json:"packages" yaml:"packages"`
}

// LoadManifest decodes a YAML (or JSON) manifest.
func LoadManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, nil
		}
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// ReadManifestFile loads a manifest from path.
func ReadManifestFile(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()
	return LoadManifest(f)
}

// ApplyManifest defines every entry and marks the available ones. Entry stamps,
// when set, replace the registration time as the package's version stamp.
func (rt *Runtime) ApplyManifest(m Manifest) error {
	available := make([]string, 0, len(m.Packages))
	for _, entry := range m.Packages {
		if err := rt.define(entry.Name, entry.Deps, entry.Stamp); err != nil {
			return fmt.Errorf("apply manifest: %w", err)
		}
		if entry.Available {
			available = append(available, entry.Name)
		}
	}
	return rt.MarkAvailable(available...)
}
