package buildpipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// BuildSystem mirrors the `[build-system]` table of pyproject.toml.
type BuildSystem struct {
	Requires     []string `toml:"requires"`
	BuildBackend string   `toml:"build-backend"`
	BackendPath  []string `toml:"backend-path"`
}

// Project mirrors the subset of PEP 621's `[project]` table this build
// pipeline needs to decide whether a metadata fast path applies.
type Project struct {
	Name                 string              `toml:"name"`
	Version              string              `toml:"version"`
	Dependencies         []string            `toml:"dependencies"`
	OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	Dynamic              []string            `toml:"dynamic"`
	RequiresPython       string              `toml:"requires-python"`
}

// PyProject is the parsed pyproject.toml of a source distribution.
type PyProject struct {
	BuildSystem BuildSystem `toml:"build-system"`
	Project     Project     `toml:"project"`
}

// defaultBuildSystem is used when a project carries no pyproject.toml at
// all (a legacy setup.py-only project), per PEP 517's fallback rule.
func defaultBuildSystem() BuildSystem {
	return BuildSystem{
		Requires:     []string{"setuptools>=40.8.0", "wheel"},
		BuildBackend: "setuptools.build_meta:__legacy__",
	}
}

// ParsePyProject reads and parses pyproject.toml at path. If the file
// does not exist, it returns a PyProject carrying PEP 517's implicit
// setuptools fallback build system, leaving Project zeroed — callers
// should then check HasSetupPy/HasSetupCfg to confirm a legacy project
// layout is actually present.
func ParsePyProject(path string) (PyProject, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return PyProject{BuildSystem: defaultBuildSystem()}, nil
	}
	if err != nil {
		return PyProject{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc PyProject
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return PyProject{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if doc.BuildSystem.BuildBackend == "" {
		doc.BuildSystem = defaultBuildSystem()
	}

	return doc, nil
}

// ValidateLayout checks that dir is actually buildable before a build
// slot is spent on it: a pyproject.toml, or a legacy setup.py/setup.cfg
// that the implicit setuptools fallback can drive. A directory with
// neither, whose subdirectories carry their own pyproject.toml files,
// gets the specific workspace-root diagnostic instead of a generic
// missing-backend failure.
func ValidateLayout(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, "pyproject.toml")); err == nil {
		return nil
	}

	legacy := detectLegacyLayout(dir)
	if legacy.HasSetupPy || legacy.HasSetupCfg {
		return nil
	}

	if looksLikeWorkspaceRoot(dir) {
		return fmt.Errorf("%s looks like a workspace root (members carry their own pyproject.toml); build one of its member directories instead", dir)
	}

	return fmt.Errorf("%s has no pyproject.toml, setup.py, or setup.cfg; nothing to build", dir)
}

func looksLikeWorkspaceRoot(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if _, err := os.Stat(filepath.Join(dir, e.Name(), "pyproject.toml")); err == nil {
			return true
		}
	}

	return false
}

// legacyLayout reports whether dir looks like a pre-PEP-517 project: no
// pyproject.toml, but a setup.py or setup.cfg present. ValidateLayout
// accepts such a directory as buildable; the build then goes through the
// implicit setuptools fallback backend from defaultBuildSystem.
type legacyLayout struct {
	HasSetupPy  bool
	HasSetupCfg bool
}

func detectLegacyLayout(dir string) legacyLayout {
	var l legacyLayout

	if _, err := os.Stat(dir + "/setup.py"); err == nil {
		l.HasSetupPy = true
	}

	if _, err := os.Stat(dir + "/setup.cfg"); err == nil {
		l.HasSetupCfg = true
	}

	return l
}

// DynamicallyDerivesDependencies reports whether dynamic includes
// "dependencies" or "optional-dependencies" for a backend known to
// compute those fields only during the build_wheel hook rather than
// prepare_metadata_for_build_wheel, the metadata fast-path exception.
func (p PyProject) DynamicallyDerivesDependencies() bool {
	if !p.hasDynamicDependencyField() {
		return false
	}

	return backendDerivesDynamicDependenciesAtBuild(p.BuildSystem.BuildBackend)
}

func (p PyProject) hasDynamicDependencyField() bool {
	for _, d := range p.Project.Dynamic {
		if d == "dependencies" || d == "optional-dependencies" {
			return true
		}
	}

	return false
}

// backendsThatDeriveDynamicDepsAtBuild lists build backends whose
// build_wheel hook is the only place dynamic dependency metadata becomes
// accurate — prepare_metadata_for_build_wheel under these backends may
// report an incomplete dependency set.
var backendsThatDeriveDynamicDepsAtBuild = map[string]bool{
	"setuptools.build_meta":            true,
	"setuptools.build_meta:__legacy__": true,
	"hatchling.build":                  true,
}

func backendDerivesDynamicDependenciesAtBuild(backend string) bool {
	return backendsThatDeriveDynamicDepsAtBuild[backend]
}
