package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipg-project/pipg/internal/downloader"
	"github.com/pipg-project/pipg/internal/forkresolver"
	"github.com/pipg-project/pipg/internal/installer"
	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/pep440"
	"github.com/pipg-project/pipg/internal/python"
	"github.com/pipg-project/pipg/internal/registry"
	"github.com/pipg-project/pipg/internal/resolution"
	"github.com/pipg-project/pipg/internal/wheelcache"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "pipg",
		Short:         "A fast Python package installer",
		Long:          "pipg resolves Python dependencies with a universal forking resolver and installs them concurrently.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	installCmd := &cobra.Command{
		Use:   "install [packages...]",
		Short: "Install Python packages",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runInstall,
	}

	installCmd.Flags().StringP("requirements", "r", "", "Install from requirements file")
	installCmd.Flags().IntP("jobs", "j", 0, "Max concurrent downloads (default: GOMAXPROCS)")
	installCmd.Flags().String("python", "python3", "Python binary to use")
	installCmd.Flags().String("target", "", "Target directory (default: auto-detect site-packages)")
	installCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	installCmd.Flags().Bool("dry-run", false, "Show the plan without downloading or installing")
	installCmd.Flags().Bool("no-deps", false, "Skip dependencies, install only specified packages")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(newLockCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newBumpCmd())

	return rootCmd.Execute()
}

func runInstall(cmd *cobra.Command, args []string) error {
	start := time.Now()

	reqFile, _ := cmd.Flags().GetString("requirements")
	jobs, _ := cmd.Flags().GetInt("jobs")
	pythonBin, _ := cmd.Flags().GetString("python")
	targetDir, _ := cmd.Flags().GetString("target")
	verbose, _ := cmd.Flags().GetBool("verbose")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noDeps, _ := cmd.Flags().GetBool("no-deps")

	requirements, err := collectRequirements(args, reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no packages specified; use 'pipg install <pkg>' or 'pipg install -r requirements.txt'")
	}

	logger := newLogger(verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target, err := probeTarget(ctx, pythonBin, targetDir, logger)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	client := registry.NewClient(registry.WithHTTPClient(httpClient), registry.WithClientLogger(logger))

	fmt.Println("Resolving dependencies...")

	graph, err := resolveForEnvironment(ctx, requirements, client, noDeps, logger)
	if err != nil {
		return err
	}

	wanted := applicableNodes(graph, target.MarkerEnvironment())
	if len(wanted) == 0 {
		fmt.Println("Nothing to install for this environment.")

		return nil
	}

	printResolutionTree(graph, wanted)

	plans, err := planDownloads(ctx, graph, wanted, client, installPolicy(target))
	if err != nil {
		return err
	}

	if dryRun {
		printDryRun(plans)

		return nil
	}

	results, tmpDir, err := downloadPackages(ctx, plans, jobs, httpClient, logger)
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	printDownloadResults(results)

	fmt.Println("\nInstalling...")

	inst := installer.New(target, installer.WithLogger(logger))
	if err := inst.Install(ctx, results); err != nil {
		return fmt.Errorf("installing packages: %w", err)
	}

	fmt.Printf("  ✓ %d packages installed\n", len(results))
	fmt.Printf("\nDone in %.1fs\n", time.Since(start).Seconds())

	return nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// probeTarget detects the interpreter being installed into, honoring an
// explicit --target override of its site-packages.
func probeTarget(ctx context.Context, pythonBin, targetDir string, logger *slog.Logger) (*python.Interpreter, error) {
	target, err := python.New(python.WithPythonBin(pythonBin)).Probe(ctx)
	if err != nil {
		return nil, fmt.Errorf("probing Python environment: %w", err)
	}

	if targetDir != "" {
		absTarget, err := filepath.Abs(targetDir)
		if err != nil {
			return nil, fmt.Errorf("resolving target directory: %w", err)
		}

		target.SitePackages = absTarget
	}

	logger.Debug("probed Python environment",
		slog.String("prefix", target.Prefix),
		slog.String("site-packages", target.SitePackages),
		slog.String("platform", target.PlatformTag),
		slog.String("version", target.Version),
		slog.Bool("venv", target.IsVirtualEnv),
	)

	return target, nil
}

// resolveForEnvironment runs the forking resolver over the requirements
// and merges the forks into one marker-annotated graph. Installation then
// picks the slice of that graph applicable to the probed interpreter, so
// install and lock share one resolution engine.
func resolveForEnvironment(ctx context.Context, requirements []string, client registry.Client, noDeps bool, logger *slog.Logger) (*resolution.Graph, error) {
	universe := marker.NewUniverse()

	roots := make([]forkresolver.Requirement, 0, len(requirements))

	for _, raw := range requirements {
		req, err := forkresolver.ParseRequirement(universe, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing requirement %q: %w", raw, err)
		}

		roots = append(roots, req)
	}

	r := forkresolver.New(forkresolver.NewRegistryProvider(client), universe,
		forkresolver.WithNoDeps(noDeps),
		forkresolver.WithLogger(logger),
	)

	resolutions, err := r.Resolve(ctx, roots)
	if err != nil {
		return nil, fmt.Errorf("resolving dependencies: %w", err)
	}

	global := resolution.GlobalConflict{Marker: universe.TrueConflict()}

	graph, err := forkresolver.ToGraph(universe, resolutions, global, false, false)
	if err != nil {
		return nil, fmt.Errorf("building resolution graph: %w", err)
	}

	return graph, nil
}

// applicableNodes returns the indices of base package nodes whose marker
// holds in env — the slice of the universal graph this interpreter
// actually installs.
func applicableNodes(graph *resolution.Graph, env marker.Environment) map[int]bool {
	wanted := make(map[int]bool)

	for _, n := range graph.Nodes {
		if n.Key.Extra != "" || n.Key.Group != "" {
			continue
		}

		if n.Marker.Env.Eval(env, nil) {
			wanted[n.Index] = true
		}
	}

	return wanted
}

// installPolicy derives the candidate-labeling policy for the probed
// interpreter.
func installPolicy(target *python.Interpreter) registry.Policy {
	policy := registry.Policy{
		CompatTags: registry.CompatTags(target.CPTag, target.WheelPlatform()),
	}

	if v, err := pep440.Parse(target.Version); err == nil {
		policy.PythonVersion = v
	}

	return policy
}

// downloadPlan pairs a pinned package with the index file selected for it.
type downloadPlan struct {
	name    string
	version string
	file    registry.File
}

// planDownloads selects an installable wheel for every wanted node.
func planDownloads(ctx context.Context, graph *resolution.Graph, wanted map[int]bool, client registry.Client, policy registry.Policy) ([]downloadPlan, error) {
	var plans []downloadPlan

	for _, n := range graph.Nodes {
		if !wanted[n.Index] {
			continue
		}

		rel, err := client.Release(ctx, n.Key.Name, n.Version.String())
		if err != nil {
			return nil, fmt.Errorf("fetching files for %s %s: %w", n.Key.Name, n.Version, err)
		}

		dist := registry.Classify(n.Key.Name, n.Version, rel.Files, policy)

		selection, err := dist.Select()
		if err != nil {
			return nil, err
		}

		if selection.BuildFromSource {
			return nil, fmt.Errorf("%s %s has no installable wheel for this environment", n.Key.Name, n.Version)
		}

		plans = append(plans, downloadPlan{
			name:    n.Key.Name,
			version: n.Version.String(),
			file:    selection.Wheel.File,
		})
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].name < plans[j].name })

	return plans, nil
}

func printDryRun(plans []downloadPlan) {
	fmt.Printf("\nWould download %d packages:\n", len(plans))

	for _, p := range plans {
		fmt.Printf("  %s (%s)\n", p.file.Filename, formatSize(p.file.Size))
	}

	fmt.Println("\nDry run, no changes made.")
}

func printDownloadResults(results []downloader.Result) {
	for _, r := range results {
		suffix := ""
		if r.Cached {
			suffix = " (cached)"
		}

		fmt.Printf("  ✓ %s (%s)%s\n", filepath.Base(r.FilePath), formatSize(r.Size), suffix)
	}
}

// printResolutionTree renders the applicable slice of the graph as an
// indented dependency tree rooted at the direct requirements.
func printResolutionTree(graph *resolution.Graph, wanted map[int]bool) {
	children := make(map[int][]int)
	isRoot := make(map[int]bool)

	for _, e := range graph.Edges {
		if !wanted[e.To] {
			continue
		}

		if e.From < 0 {
			isRoot[e.To] = true
			continue
		}

		if wanted[e.From] {
			children[e.From] = append(children[e.From], e.To)
		}
	}

	var roots []int
	for idx := range isRoot {
		roots = append(roots, idx)
	}

	sort.Slice(roots, func(i, j int) bool {
		return graph.Nodes[roots[i]].Key.Name < graph.Nodes[roots[j]].Key.Name
	})

	visited := make(map[int]bool)

	for _, root := range roots {
		n := graph.Nodes[root]
		fmt.Printf("  %s %s\n", n.Key.Name, n.Version)

		visited[root] = true
		printSubTree(graph, children, root, "  ", visited)
	}
}

func printSubTree(graph *resolution.Graph, children map[int][]int, node int, prefix string, visited map[int]bool) {
	deps := children[node]

	sort.Slice(deps, func(i, j int) bool {
		return graph.Nodes[deps[i]].Key.Name < graph.Nodes[deps[j]].Key.Name
	})

	for i, dep := range deps {
		n := graph.Nodes[dep]

		connector, childPrefix := "├── ", "│   "
		if i == len(deps)-1 {
			connector, childPrefix = "└── ", "    "
		}

		fmt.Printf("%s%s%s %s\n", prefix, connector, n.Key.Name, n.Version)

		if !visited[dep] && len(children[dep]) > 0 {
			visited[dep] = true
			printSubTree(graph, children, dep, prefix+childPrefix, visited)
		}
	}
}

// downloadPackages downloads all planned packages concurrently with cache
// support. Caller is responsible for cleaning up tmpDir after
// installation.
func downloadPackages(ctx context.Context, plans []downloadPlan, jobs int, httpClient *http.Client, logger *slog.Logger) ([]downloader.Result, string, error) {
	tmpDir, err := os.MkdirTemp("", "pipg-downloads-*")
	if err != nil {
		return nil, "", fmt.Errorf("creating temp directory: %w", err)
	}

	requests := make([]downloader.Request, len(plans))
	for i, p := range plans {
		requests[i] = downloader.Request{
			Name:     p.name,
			Version:  p.version,
			URL:      p.file.URL,
			SHA256:   p.file.SHA256,
			Filename: p.file.Filename,
		}
	}

	fmt.Printf("\nDownloading %d packages...\n", len(requests))

	dlOpts := []downloader.Option{
		downloader.WithHTTPClient(httpClient),
		downloader.WithLogger(logger),
	}

	if cache, err := wheelcache.Open(wheelcache.WithLogger(logger)); err == nil {
		dlOpts = append(dlOpts, downloader.WithCache(cache))
	} else {
		logger.Debug("wheel cache unavailable, continuing without it", slog.String("error", err.Error()))
	}

	if jobs > 0 {
		dlOpts = append(dlOpts, downloader.WithMaxWorkers(jobs))
	}

	results, err := downloader.New(tmpDir, dlOpts...).Download(ctx, requests)
	if err != nil {
		_ = os.RemoveAll(tmpDir)

		return nil, "", fmt.Errorf("downloading packages: %w", err)
	}

	return results, tmpDir, nil
}

// collectRequirements merges CLI args and requirements file entries.
func collectRequirements(args []string, reqFile string) ([]string, error) {
	requirements := append([]string(nil), args...)

	if reqFile != "" {
		fileReqs, err := parseRequirementsFile(reqFile)
		if err != nil {
			return nil, err
		}

		requirements = append(requirements, fileReqs...)
	}

	return requirements, nil
}

// parseRequirementsFile reads a pip-compatible requirements file,
// skipping comments, blank lines, and pip option lines.
func parseRequirementsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var reqs []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}

		reqs = append(reqs, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements file %s: %w", path, err)
	}

	return reqs, nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%d KB", bytes/(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
