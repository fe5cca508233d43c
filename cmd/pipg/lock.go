package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipg-project/pipg/internal/buildbackend"
	"github.com/pipg-project/pipg/internal/buildpipeline"
	"github.com/pipg-project/pipg/internal/forkresolver"
	"github.com/pipg-project/pipg/internal/httpcache"
	"github.com/pipg-project/pipg/internal/lockfile"
	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/pep440"
	"github.com/pipg-project/pipg/internal/registry"
	"github.com/pipg-project/pipg/internal/resolution"
)

// cacheSubdir returns a named subdirectory of pipg's cache root,
// following the same PIPG_CACHE_DIR convention the wheel cache uses.
func cacheSubdir(name string) string {
	if dir := os.Getenv("PIPG_CACHE_DIR"); dir != "" {
		return filepath.Join(dir, name)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pipg", name)
	}

	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "pipg", name)
	}

	return filepath.Join(home, ".cache", "pipg", name)
}

func newLockCmd() *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock [packages...]",
		Short: "Resolve dependencies into a universal lockfile",
		Long: "lock runs the forking universal resolver across every supported\n" +
			"Python version and platform simultaneously and writes the result as a\n" +
			"deterministic pipg.lock TOML document.",
		Args: cobra.MinimumNArgs(0),
		RunE: runLock,
	}

	lockCmd.Flags().StringP("requirements", "r", "", "Read requirements from a file")
	lockCmd.Flags().String("requires-python", "", "Target requires-python specifier, e.g. \">=3.9\"")
	lockCmd.Flags().StringP("output", "o", "pipg.lock", "Lockfile output path")
	lockCmd.Flags().Bool("lowest", false, "Resolve every dependency to its lowest compatible version")
	lockCmd.Flags().Bool("lowest-direct", false, "Resolve direct dependencies to their lowest compatible version")
	lockCmd.Flags().StringSlice("path", nil, "Build and resolve a local source directory (pyproject.toml) as a root dependency")
	lockCmd.Flags().String("python", "python3", "Python binary used to run PEP 517 build hooks for --path entries")
	lockCmd.Flags().StringArray("conflict", nil, "Declare mutually exclusive extras/groups, e.g. \"torch[cpu],torch[gpu]\" (repeatable)")
	lockCmd.Flags().Bool("verbose", false, "Verbose output")

	return lockCmd
}

func runLock(cmd *cobra.Command, args []string) error {
	reqFile, _ := cmd.Flags().GetString("requirements")
	requiresPython, _ := cmd.Flags().GetString("requires-python")
	output, _ := cmd.Flags().GetString("output")
	lowest, _ := cmd.Flags().GetBool("lowest")
	lowestDirect, _ := cmd.Flags().GetBool("lowest-direct")
	paths, _ := cmd.Flags().GetStringSlice("path")
	pythonBin, _ := cmd.Flags().GetString("python")
	conflictFlags, _ := cmd.Flags().GetStringArray("conflict")
	verbose, _ := cmd.Flags().GetBool("verbose")

	requirements, err := collectRequirements(args, reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 && len(paths) == 0 {
		return fmt.Errorf("no packages specified; use 'pipg lock <pkg>', 'pipg lock -r requirements.txt', or 'pipg lock --path <dir>'")
	}

	logger := newLogger(verbose)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	universe := marker.NewUniverse()

	targetSpec, err := pep440.ParseSpecifier(requiresPython)
	if err != nil {
		return fmt.Errorf("parsing --requires-python: %w", err)
	}

	roots := make([]forkresolver.Requirement, 0, len(requirements))

	for _, r := range requirements {
		req, err := forkresolver.ParseRequirement(universe, r)
		if err != nil {
			return fmt.Errorf("parsing requirement %q: %w", r, err)
		}

		roots = append(roots, req)
	}

	mode := forkresolver.Highest

	switch {
	case lowest:
		mode = forkresolver.Lowest
	case lowestDirect:
		mode = forkresolver.LowestDirect
	}

	conflictSets, err := parseConflictSets(conflictFlags)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	// Registry metadata responses are served through the revalidating
	// cache so a re-lock against an unchanged index costs one conditional
	// request per package rather than a full refetch.
	if store, err := httpcache.NewStore(cacheSubdir("http"), logger); err == nil {
		httpClient.Transport = httpcache.NewTransport(store, nil, logger)
	} else {
		logger.Debug("http cache unavailable, continuing without it", slog.String("error", err.Error()))
	}

	client := registry.NewClient(registry.WithHTTPClient(httpClient), registry.WithClientLogger(logger))

	var provider forkresolver.MetadataProvider = forkresolver.NewRegistryProvider(client)

	pathSources := make(map[string]string)                   // package name -> source directory
	buildDeps := make(map[string][]lockfile.BuildDependency) // package name -> build-system.requires

	if len(paths) > 0 {
		overrides := make(map[string][]forkresolver.PackageVersion, len(paths))
		pathProvider := forkresolver.NewPathProvider(pythonBin, cacheSubdir("builds"), int64(max(1, len(paths))), logger)

		for _, dir := range paths {
			name, pv, err := pathProvider.ResolvePath(ctx, dir)
			if err != nil {
				return fmt.Errorf("resolving path dependency %s: %w", dir, err)
			}

			overrides[name] = []forkresolver.PackageVersion{pv}
			pathSources[name] = dir
			buildDeps[name] = collectBuildDependencies(dir)

			pinned, err := forkresolver.ParseRequirement(universe, fmt.Sprintf("%s==%s", name, pv.Version.String()))
			if err != nil {
				return fmt.Errorf("pinning path dependency %s: %w", dir, err)
			}

			roots = append(roots, pinned)
		}

		provider = forkresolver.NewCompositeProvider(provider, overrides)
	}

	resolver := forkresolver.New(provider, universe,
		forkresolver.WithMode(mode),
		forkresolver.WithTargetPython(targetSpec),
		forkresolver.WithLogger(logger),
	)

	fmt.Println("Resolving universal lockfile...")

	resolutions, err := resolver.Resolve(ctx, roots)
	if err != nil {
		return fmt.Errorf("resolving dependencies: %w", err)
	}

	global := resolution.GlobalConflict{Marker: marker.ExclusionMarker(universe, conflictSets)}

	graph, err := forkresolver.ToGraph(universe, resolutions, global, true, mode != forkresolver.Highest)
	if err != nil {
		return fmt.Errorf("building resolution graph: %w", err)
	}

	for _, d := range graph.Diagnostics {
		fmt.Printf("  warning: %s: %s\n", d.Kind, d.Message)
	}

	sources := make(map[int]lockfile.Source, len(graph.Nodes))
	for _, n := range graph.Nodes {
		if dir, ok := pathSources[n.Key.Name]; ok {
			sources[n.Index] = lockfile.Source{Kind: "directory", Path: dir}
			continue
		}

		sources[n.Index] = lockfile.Source{Kind: "registry"}
	}

	wheels, sdists := collectArtifacts(ctx, universe, graph, pathSources, client, logger)

	doc := lockfile.FromGraph(graph, sources, wheels, sdists, requiresPython, "", forkresolver.ForkCover(resolutions))

	for i := range doc.Package {
		if deps, ok := buildDeps[doc.Package[i].Name]; ok {
			doc.Package[i].BuildDependencies = deps
		}
	}

	data, err := lockfile.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serializing lockfile: %w", err)
	}

	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	fmt.Printf("Resolved %d packages across %d fork(s) in %s\n", len(graph.Nodes), len(resolutions), output)

	return nil
}

// parseConflictSets parses repeated --conflict values into declared
// mutually exclusive sets. Each value is a comma-separated list of
// "pkg[extra]" or "pkg:group" items.
func parseConflictSets(values []string) ([]marker.ConflictSet, error) {
	var sets []marker.ConflictSet

	for _, value := range values {
		var set marker.ConflictSet

		for _, raw := range strings.Split(value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}

			item, err := parseConflictItem(raw)
			if err != nil {
				return nil, fmt.Errorf("parsing --conflict %q: %w", value, err)
			}

			set.Items = append(set.Items, item)
		}

		if len(set.Items) < 2 {
			return nil, fmt.Errorf("--conflict %q must name at least two extras/groups", value)
		}

		sets = append(sets, set)
	}

	return sets, nil
}

func parseConflictItem(raw string) (marker.ConflictItem, error) {
	if open := strings.Index(raw, "["); open > 0 && strings.HasSuffix(raw, "]") {
		return marker.ConflictItem{Package: raw[:open], Extra: raw[open+1 : len(raw)-1]}, nil
	}

	if colon := strings.Index(raw, ":"); colon > 0 && colon < len(raw)-1 {
		return marker.ConflictItem{Package: raw[:colon], Group: raw[colon+1:]}, nil
	}

	return marker.ConflictItem{}, fmt.Errorf("expected pkg[extra] or pkg:group, got %q", raw)
}

// collectBuildDependencies reads a path dependency's declared
// build-system.requires for the lockfile's build-dependencies section.
// Best-effort: a directory whose pyproject.toml just drove a successful
// build parses again here; anything unparseable simply yields no section.
func collectBuildDependencies(dir string) []lockfile.BuildDependency {
	doc, err := buildpipeline.ParsePyProject(filepath.Join(dir, "pyproject.toml"))
	if err != nil {
		return nil
	}

	var deps []lockfile.BuildDependency

	for _, raw := range doc.BuildSystem.Requires {
		req, err := buildbackend.ParseRequirement(raw)
		if err != nil {
			continue
		}

		deps = append(deps, lockfile.BuildDependency{Name: req.Name, Version: req.Constraint})
	}

	return deps
}

// collectArtifacts fetches each registry node's file listing and projects
// it into the lockfile's wheel/sdist descriptors. Wheels whose platform
// tag implies a marker disjoint from the node's own reachability marker
// are omitted: no environment that can reach the node could ever install
// them, so recording them would only bloat the lockfile.
func collectArtifacts(ctx context.Context, u *marker.Universe, graph *resolution.Graph, pathSources map[string]string, client registry.Client, logger *slog.Logger) (map[int][]lockfile.WheelFile, map[int]*lockfile.SdistFile) {
	wheels := make(map[int][]lockfile.WheelFile)
	sdists := make(map[int]*lockfile.SdistFile)

	fetched := make(map[string][]registry.File)

	for _, n := range graph.Nodes {
		if _, isPath := pathSources[n.Key.Name]; isPath || n.Key.Extra != "" || n.Key.Group != "" {
			continue
		}

		cacheKey := n.Key.Name + "==" + n.Version.String()

		files, ok := fetched[cacheKey]
		if !ok {
			rel, err := client.Release(ctx, n.Key.Name, n.Version.String())
			if err != nil {
				logger.Debug("skipping artifact listing", slog.String("package", cacheKey), slog.String("error", err.Error()))
				fetched[cacheKey] = nil

				continue
			}

			files = rel.Files
			fetched[cacheKey] = files
		}

		for _, f := range files {
			hash := ""
			if f.SHA256 != "" {
				hash = "sha256:" + f.SHA256
			}

			if f.Kind != registry.FileWheel {
				if sdists[n.Index] == nil {
					sdists[n.Index] = &lockfile.SdistFile{URL: f.URL, Hash: hash, Size: f.Size}
				}

				continue
			}

			_, _, _, tag, err := registry.ParseWheelFilename(f.Filename)
			if err != nil {
				continue
			}

			implied, err := marker.ImpliedMarkers(u, tag.Platform)
			if err == nil && implied.IsDisjoint(n.Marker.Env) {
				continue
			}

			wheels[n.Index] = append(wheels[n.Index], lockfile.WheelFile{URL: f.URL, Hash: hash, Size: f.Size})
		}
	}

	return wheels, sdists
}
