package buildpipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/semaphore"
)

// prepareMetadataHook and buildWheelHook are the two PEP 517 hooks this
// pipeline may invoke for a given source distribution.
const (
	prepareMetadataHook = "prepare_metadata_for_build_wheel"
	buildWheelHook      = "build_wheel"
)

// Pipeline builds wheel metadata (and, when necessary, full wheels) from
// source distributions, bounding concurrent backend invocations with a
// weighted semaphore so a resolution with many sdists doesn't spawn an
// unbounded number of Python interpreters at once.
type Pipeline struct {
	pythonBin string
	sem       *semaphore.Weighted
}

// NewPipeline creates a Pipeline allowing at most maxConcurrent backend
// invocations in flight simultaneously.
func NewPipeline(pythonBin string, maxConcurrent int64) *Pipeline {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Pipeline{pythonBin: pythonBin, sem: semaphore.NewWeighted(maxConcurrent)}
}

// MetadataResult is the outcome of resolving a source distribution's
// wheel metadata, either via the fast path (prepare_metadata_for_build_wheel)
// or by falling back to a full build_wheel invocation.
type MetadataResult struct {
	DistInfoDir string
	WheelBuilt  bool
	WheelPath   string
}

// ResolveMetadata implements the metadata fast path:
// when the backend advertises prepare_metadata_for_build_wheel and the
// project doesn't dynamically derive its dependency list at build time
// for a backend known to do so unreliably at the metadata stage, call
// that hook alone. Otherwise fall back to a full build_wheel and derive
// metadata from the resulting wheel.
func (p *Pipeline) ResolveMetadata(ctx context.Context, pkg, version, srcDir string, doc PyProject) (MetadataResult, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return MetadataResult{}, fmt.Errorf("acquiring build slot: %w", err)
	}
	defer p.sem.Release(1)

	env, err := NewEphemeralEnv()
	if err != nil {
		return MetadataResult{}, err
	}
	defer func() { _ = env.Close() }()

	inv := NewInvoker(p.pythonBin, pkg, version)

	if !doc.DynamicallyDerivesDependencies() {
		result, err := inv.Invoke(ctx, doc.BuildSystem.BuildBackend, prepareMetadataHook, srcDir, env.Root, doc.BuildSystem.BackendPath, nil)
		if err == nil {
			return MetadataResult{DistInfoDir: filepath.Join(env.Root, result.Value)}, nil
		}

		var buildErr *BuildError
		if !isBuildError(err, &buildErr) || !buildErr.HookUnsupported() {
			return MetadataResult{}, err
		}
		// The backend genuinely doesn't support the fast path; fall
		// through to a full build. Any other failure (a real metadata
		// error) was already returned above.
	}

	result, err := inv.Invoke(ctx, doc.BuildSystem.BuildBackend, buildWheelHook, srcDir, env.Root, doc.BuildSystem.BackendPath, nil)
	if err != nil {
		return MetadataResult{}, err
	}

	wheelPath := filepath.Join(env.Root, result.Value)

	return MetadataResult{WheelBuilt: true, WheelPath: wheelPath}, nil
}

func isBuildError(err error, target **BuildError) bool {
	be, ok := err.(*BuildError)
	if ok {
		*target = be
	}

	return ok
}
