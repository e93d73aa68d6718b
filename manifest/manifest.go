// Package manifest handles udonasm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "udonasm.toml"

// stateDir holds dependencies, the lock file and the build cache.
const stateDir = ".udonasm"

// Manifest represents a udonasm.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Source       Source                `toml:"source"`
	Dependencies map[string]Dependency `toml:"dependencies"`
	Output       Output                `toml:"output"`
	Registry     RegistryConfig        `toml:"registry"`
	Cache        Cache                 `toml:"cache"`
	Log          Log                   `toml:"log"`
	Conventions  []Convention          `toml:"conventions"`

	// Dir is the directory containing the udonasm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name      string `toml:"name"`
	Namespace string `toml:"namespace"`
	Version   string `toml:"version"`
}

// Source configures the program inputs. Entry is the host program; every
// .uasm or .uimg file under Dirs is linked into it as a library.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// Dependency represents a single library dependency.
type Dependency struct {
	Git       string `toml:"git"`
	Tag       string `toml:"tag"`
	Path      string `toml:"path"`
	Namespace string `toml:"namespace"`
	// Artifact is the file to link, relative to the dependency root.
	// Defaults to the dependency's own output image or text.
	Artifact string `toml:"artifact"`
}

// Output configures what a build writes.
type Output struct {
	Path        string `toml:"path"`
	Image       string `toml:"image"`
	UpdateOrder *int   `toml:"update-order"` // nil keeps the host program's
	Optimize    *bool  `toml:"optimize"`
}

// RegistryConfig points at an event/reserved-name extension file.
type RegistryConfig struct {
	Events string `toml:"events"`
}

// Cache configures the build cache.
type Cache struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Convention declares an extra calling-convention detector: a program
// that defines every anchor symbol follows Kind ("native" or "legacy").
type Convention struct {
	Name    string   `toml:"name"`
	Anchors []string `toml:"anchors"`
	Kind    string   `toml:"kind"`
}

// Load parses a udonasm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main.uasm"
	}
	if m.Output.Path == "" {
		name := m.Project.Name
		if name == "" {
			name = "out"
		}
		m.Output.Path = filepath.Join("build", name+".uasm")
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(stateDir, "cache.db")
	}

	for i, c := range m.Conventions {
		if c.Name == "" || len(c.Anchors) == 0 {
			return nil, fmt.Errorf("%s: conventions[%d] needs a name and at least one anchor", path, i)
		}
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a udonasm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// EntryPath returns the host program path. A relative entry is looked up
// in the first source directory.
func (m *Manifest) EntryPath() string {
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry
	}
	return filepath.Join(m.SourceDirPaths()[0], m.Source.Entry)
}

// LibraryPaths lists the library inputs found in the source directories,
// excluding the entry, sorted by path.
func (m *Manifest) LibraryPaths() ([]string, error) {
	entry := m.EntryPath()
	var out []string
	for _, dir := range m.SourceDirPaths() {
		for _, ext := range []string{"*.uasm", "*.uimg"} {
			matches, err := filepath.Glob(filepath.Join(dir, ext))
			if err != nil {
				return nil, err
			}
			for _, p := range matches {
				if p != entry {
					out = append(out, p)
				}
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// OutputPath returns the absolute path of the assembly text output.
func (m *Manifest) OutputPath() string { return m.abs(m.Output.Path) }

// ImagePath returns the absolute path of the image output, or "".
func (m *Manifest) ImagePath() string { return m.abs(m.Output.Image) }

// CachePath returns the absolute path of the build cache database.
func (m *Manifest) CachePath() string { return m.abs(m.Cache.Path) }

// RegistryPath returns the absolute path of the registry extension, or "".
func (m *Manifest) RegistryPath() string { return m.abs(m.Registry.Events) }

// Optimize reports whether the peephole pass runs. It defaults to true.
func (m *Manifest) Optimize() bool {
	return m.Output.Optimize == nil || *m.Output.Optimize
}

// DepsDir returns the path to the .udonasm/deps directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, stateDir, "deps")
}

// LockFilePath returns the path to .udonasm/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, stateDir, "lock.toml")
}
