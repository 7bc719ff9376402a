// Package manifest reads the YAML description of the sweeps to scale and
// turns it into sweep specs backed by static indexers.
package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/lattice"
	"github.com/xia2/xia2-sub002/internal/sweep"
	"gopkg.in/yaml.v3"
)

// Manifest lists the sweeps of one crystal.
type Manifest struct {
	Project string  `yaml:"project"`
	Crystal string  `yaml:"crystal"`
	Sweeps  []Sweep `yaml:"sweeps"`

	// dir resolves relative file paths.
	dir string
}

// Sweep is one integrated sweep as written in the manifest.
type Sweep struct {
	Name    string `yaml:"name"`
	Dataset string `yaml:"dataset"`
	// Project and Crystal override the manifest-wide values.
	Project string `yaml:"project,omitempty"`
	Crystal string `yaml:"crystal,omitempty"`

	File    string `yaml:"file"`
	Lattice string `yaml:"lattice"`
	// LatticeFiles holds data integrated in other lattices, used once the
	// indexer has been moved to that lattice.
	LatticeFiles map[string]string `yaml:"lattice_files,omitempty"`

	Epoch       int        `yaml:"epoch"`
	Wavelength  float64    `yaml:"wavelength"`
	PhiPerImage float64    `yaml:"phi_per_image"`
	Dose        sweep.Dose `yaml:"dose"`
}

// Load reads the manifest at path. Relative sweep files are resolved
// against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes and validates a manifest. Unknown keys are rejected.
func Parse(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Wrap(errors.ErrInvalidInput, "empty manifest")
		}
		return nil, errors.Wrapf(errors.ErrInvalidInput, "malformed manifest: %v", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every sweep is fully described and uniquely named.
func (m *Manifest) Validate() error {
	if len(m.Sweeps) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "manifest lists no sweeps")
	}
	seen := make(map[string]bool, len(m.Sweeps))
	for i, s := range m.Sweeps {
		where := fmt.Sprintf("sweeps[%d]", i)
		if s.Name != "" {
			where = s.Name
		}
		switch {
		case s.Name == "":
			return errors.Wrapf(errors.ErrInvalidInput, "%s: name is required", where)
		case seen[s.Name]:
			return errors.Wrapf(errors.ErrInvalidInput, "%s: duplicate sweep name", where)
		case s.Dataset == "":
			return errors.Wrapf(errors.ErrInvalidInput, "%s: dataset is required", where)
		case s.File == "":
			return errors.Wrapf(errors.ErrInvalidInput, "%s: file is required", where)
		case !lattice.Valid(s.Lattice):
			return errors.Wrapf(errors.ErrInvalidInput, "%s: unknown lattice %q", where, s.Lattice)
		case s.project(m) == "" || s.crystal(m) == "":
			return errors.Wrapf(errors.ErrInvalidInput, "%s: project and crystal are required", where)
		case s.Wavelength < 0 || s.PhiPerImage < 0 || s.Dose.PerImage < 0:
			return errors.Wrapf(errors.ErrInvalidInput, "%s: negative wavelength, oscillation or dose", where)
		}
		for l := range s.LatticeFiles {
			if !lattice.Valid(l) {
				return errors.Wrapf(errors.ErrInvalidInput, "%s: unknown lattice %q in lattice_files", where, l)
			}
		}
		seen[s.Name] = true
	}
	return nil
}

func (s Sweep) project(m *Manifest) string {
	if s.Project != "" {
		return s.Project
	}
	return m.Project
}

func (s Sweep) crystal(m *Manifest) string {
	if s.Crystal != "" {
		return s.Crystal
	}
	return m.Crystal
}

func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.dir == "" {
		return path
	}
	return filepath.Join(m.dir, path)
}

// Specs returns one sweep spec per manifest entry, in manifest order, each
// backed by a fresh static indexer.
func (m *Manifest) Specs() []sweep.Spec {
	specs := make([]sweep.Spec, len(m.Sweeps))
	for i, s := range m.Sweeps {
		files := make(map[string]string, len(s.LatticeFiles))
		for l, f := range s.LatticeFiles {
			files[l] = m.resolve(f)
		}
		specs[i] = sweep.Spec{
			Key: sweep.Key{
				Project: s.project(m),
				Crystal: s.crystal(m),
				Dataset: s.Dataset,
			},
			Name:        s.Name,
			Epoch:       s.Epoch,
			Wavelength:  s.Wavelength,
			PhiPerImage: s.PhiPerImage,
			Dose:        s.Dose,
			Source:      NewIndexer(s.Name, s.Lattice, m.resolve(s.File), files),
		}
	}
	return specs
}
