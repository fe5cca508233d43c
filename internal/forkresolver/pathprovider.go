package forkresolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pipg-project/pipg/internal/buildbackend"
	"github.com/pipg-project/pipg/internal/buildcache"
	"github.com/pipg-project/pipg/internal/buildpipeline"
	"github.com/pipg-project/pipg/internal/pep440"
)

// PathProvider resolves metadata for a local, unpublished source
// directory — the `pipg lock --path ./vendor/foo` scenario a path or
// editable dependency produces: a distribution with no prebuilt wheel on
// any index.
// It fingerprints the directory via buildcache.FromPath so a repeated
// `lock` run against an unchanged tree reuses the previous build, checks
// the project's declared build-system.requires versions with
// buildbackend before invoking the backend, and drives the actual PEP 517
// hooks through buildpipeline.Pipeline.
type PathProvider struct {
	pipeline *buildpipeline.Pipeline
	cache    *buildcache.Cache
}

// NewPathProvider creates a PathProvider that invokes pythonBin for PEP
// 517 hooks, allowing at most maxConcurrentBuilds in flight, and persists
// build results under cacheDir.
func NewPathProvider(pythonBin, cacheDir string, maxConcurrentBuilds int64, logger *slog.Logger) *PathProvider {
	return &PathProvider{
		pipeline: buildpipeline.NewPipeline(pythonBin, maxConcurrentBuilds),
		cache:    buildcache.New(cacheDir, logger),
	}
}

// ResolvePath reads dir's pyproject.toml, validates its declared
// build-system.requires entries are well-formed version constraints
// (buildbackend.ParseRequirement/Satisfies — the actual installed-version
// check happens once the backend is invoked inside the pipeline's
// ephemeral environment, which is opaque to this function), and returns
// the single PackageVersion the directory represents.
func (p *PathProvider) ResolvePath(ctx context.Context, dir string) (name string, pv PackageVersion, err error) {
	if err := buildpipeline.ValidateLayout(dir); err != nil {
		return "", PackageVersion{}, err
	}

	doc, err := buildpipeline.ParsePyProject(filepath.Join(dir, "pyproject.toml"))
	if err != nil {
		return "", PackageVersion{}, err
	}

	for _, raw := range doc.BuildSystem.Requires {
		req, err := buildbackend.ParseRequirement(raw)
		if err != nil {
			return "", PackageVersion{}, fmt.Errorf("parsing build requirement %q in %s: %w", raw, dir, err)
		}

		// An empty constraint always Satisfies; this only catches a
		// malformed constraint string early, before spending a build slot.
		if _, err := req.Satisfies("0"); err != nil && req.Constraint != "" {
			return "", PackageVersion{}, fmt.Errorf("build requirement %q in %s: %w", raw, dir, err)
		}
	}

	newest, err := newestMtime(dir)
	if err != nil {
		return "", PackageVersion{}, err
	}

	fp := buildcache.FromPath(dir, newest)

	built, err := p.cache.Build(ctx, fp, func(ctx context.Context) (string, string, error) {
		result, err := p.pipeline.ResolveMetadata(ctx, doc.Project.Name, doc.Project.Version, dir, doc)
		if err != nil {
			return "", "", err
		}

		if result.WheelBuilt {
			return filepath.Base(result.WheelPath), result.WheelPath, nil
		}

		return filepath.Base(result.DistInfoDir), result.DistInfoDir, nil
	})
	if err != nil {
		return "", PackageVersion{}, fmt.Errorf("building %s: %w", dir, err)
	}

	v, err := pep440.Parse(doc.Project.Version)
	if err != nil {
		return "", PackageVersion{}, fmt.Errorf("parsing version %q declared by %s: %w", doc.Project.Version, dir, err)
	}

	_ = built // path and filename recorded by the cache manifest; the wheel itself is installed by the caller's normal install path.

	return doc.Project.Name, PackageVersion{Version: v, RequiresDist: doc.Project.Dependencies}, nil
}

// newestMtime returns the most recent modification time among dir's
// immediate entries, a shallow approximation of a full tree walk that is
// enough to invalidate the cache on the common edit-a-file-then-relock
// workflow without the cost of hashing the whole source tree.
func newestMtime(dir string) (time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading %s: %w", dir, err)
	}

	var newest time.Time

	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}

	return newest, nil
}

// CompositeProvider consults overrides (by normalized package name) before
// falling back to base, letting a handful of locally-built path
// dependencies sit alongside the registry for the rest of the graph.
type CompositeProvider struct {
	base      MetadataProvider
	overrides map[string][]PackageVersion
}

// NewCompositeProvider wraps base with overrides.
func NewCompositeProvider(base MetadataProvider, overrides map[string][]PackageVersion) *CompositeProvider {
	return &CompositeProvider{base: base, overrides: overrides}
}

// Versions implements MetadataProvider.
func (c *CompositeProvider) Versions(ctx context.Context, name string) ([]PackageVersion, error) {
	if vs, ok := c.overrides[name]; ok {
		return vs, nil
	}

	return c.base.Versions(ctx, name)
}
