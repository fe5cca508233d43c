package forkresolver

import (
	"context"
	"fmt"

	"github.com/pipg-project/pipg/internal/pep440"
	"github.com/pipg-project/pipg/internal/registry"
)

// PackageVersion is one version of a package as the forking resolver sees
// it: the parsed version, its declared dependencies (raw PEP 508
// requirement strings, the same shape as METADATA's Requires-Dist), its
// requires-python constraint, and whether it is yanked.
type PackageVersion struct {
	Version        pep440.Version
	RequiresDist   []string
	RequiresPython string
	Yanked         bool
}

// MetadataProvider is the resolver's view of the registry and metadata
// pipeline. A source-distribution-backed implementation dispatches through
// the build pipeline to obtain metadata; the resolver itself is agnostic
// to where a PackageVersion's fields came from.
type MetadataProvider interface {
	Versions(ctx context.Context, name string) ([]PackageVersion, error)
}

// RegistryProvider serves the resolver from a package index, the on-line
// path `pipg lock` and `pipg install` use.
type RegistryProvider struct {
	client registry.Client
}

// NewRegistryProvider wraps client as a MetadataProvider.
func NewRegistryProvider(client registry.Client) *RegistryProvider {
	return &RegistryProvider{client: client}
}

// Versions implements MetadataProvider: one PackageVersion per release the
// index lists with at least one file. The latest release's Requires-Dist
// comes with the project document; older releases need a per-version
// fetch, done lazily and tolerated to fail (a release whose metadata the
// index cannot serve still participates in version selection, with no
// dependencies recorded).
func (p *RegistryProvider) Versions(ctx context.Context, name string) ([]PackageVersion, error) {
	proj, err := p.client.Project(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("listing versions of %s: %w", name, err)
	}

	if len(proj.Versions) == 0 {
		v, err := pep440.Parse(proj.Latest.Version)
		if err != nil {
			return nil, fmt.Errorf("parsing version %q of %s: %w", proj.Latest.Version, name, err)
		}

		return []PackageVersion{{
			Version:        v,
			RequiresDist:   proj.Latest.RequiresDist,
			RequiresPython: proj.Latest.RequiresPython,
			Yanked:         proj.Latest.Yanked,
		}}, nil
	}

	var out []PackageVersion

	for raw, files := range proj.Versions {
		if len(files) == 0 {
			continue
		}

		v, err := pep440.Parse(raw)
		if err != nil {
			continue // unparseable release string: skip rather than fail the whole fetch
		}

		pv := PackageVersion{Version: v, Yanked: allYanked(files)}

		for _, f := range files {
			if f.RequiresPython != "" {
				pv.RequiresPython = f.RequiresPython

				break
			}
		}

		if raw == proj.Latest.Version {
			pv.RequiresDist = proj.Latest.RequiresDist
		} else if rel, err := p.client.Release(ctx, name, raw); err == nil {
			pv.RequiresDist = rel.RequiresDist
		}

		out = append(out, pv)
	}

	return out, nil
}

// allYanked reports whether every file of a release is yanked, which is
// when the release as a whole should be avoided; a release with one
// yanked wheel among live ones is still installable.
func allYanked(files []registry.File) bool {
	for _, f := range files {
		if !f.Yanked {
			return false
		}
	}

	return true
}
