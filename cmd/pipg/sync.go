package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipg-project/pipg/internal/installer"
	"github.com/pipg-project/pipg/internal/lockfile"
	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/pep440"
	"github.com/pipg-project/pipg/internal/registry"
)

func newSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Install the exact packages pinned in a lockfile",
		Long: "sync reads a pipg.lock document, picks the package version applicable\n" +
			"to the current interpreter and platform out of the universal\n" +
			"resolution it encodes, and installs exactly that set.",
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	syncCmd.Flags().StringP("lockfile", "l", "pipg.lock", "Lockfile to install from")
	syncCmd.Flags().String("python", "python3", "Python binary to use")
	syncCmd.Flags().String("target", "", "Target directory (default: auto-detect site-packages)")
	syncCmd.Flags().IntP("jobs", "j", 0, "Max concurrent downloads (default: GOMAXPROCS)")
	syncCmd.Flags().BoolP("verbose", "v", false, "Verbose output")

	return syncCmd
}

func runSync(cmd *cobra.Command, args []string) error {
	start := time.Now()

	lockPath, _ := cmd.Flags().GetString("lockfile")
	pythonBin, _ := cmd.Flags().GetString("python")
	targetDir, _ := cmd.Flags().GetString("target")
	jobs, _ := cmd.Flags().GetInt("jobs")
	verbose, _ := cmd.Flags().GetBool("verbose")

	logger := newLogger(verbose)

	raw, err := os.ReadFile(lockPath)
	if err != nil {
		return fmt.Errorf("reading lockfile %s: %w", lockPath, err)
	}

	doc, err := lockfile.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("parsing lockfile %s: %w", lockPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target, err := probeTarget(ctx, pythonBin, targetDir, logger)
	if err != nil {
		return err
	}

	universe := marker.NewUniverse()

	plan, err := selectSyncPlan(universe, doc, target.MarkerEnvironment())
	if err != nil {
		return err
	}

	if len(plan) == 0 {
		fmt.Println("Nothing to install: lockfile has no packages applicable to this environment.")

		return nil
	}

	fmt.Printf("Installing %d packages pinned in %s...\n", len(plan), lockPath)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	client := registry.NewClient(registry.WithHTTPClient(httpClient), registry.WithClientLogger(logger))

	plans, err := selectWheelsForPlan(ctx, plan, client, installPolicy(target))
	if err != nil {
		return err
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

// syncEntry is one package this environment needs to install, pinned to the
// exact version the lockfile's universal resolution selected for it.
type syncEntry struct {
	Name    string
	Version string
}

// selectSyncPlan picks, for every package name in doc, the single version
// applicable to env out of the (possibly several, fork-pinned) versions the
// universal lockfile records.
//
// The lockfile format omits a per-node reachability marker for
// directly-required root packages — only dependency edges carry a
// marker; root edges are not serialized, and sync reads nothing but the
// lockfile, so the root requirements' markers are not available. So a name
// with only one recorded version is installed unconditionally; a name
// with several versions (a platform fork) is resolved by checking which
// version has at least one incoming dependency edge whose
// marker evaluates true against env. If none can be distinguished this way
// (e.g. it's itself only ever required from the project root, never as a
// transitive dependency), the highest version is installed, matching the
// conservative default a plain `pip install` would apply.
func selectSyncPlan(u *marker.Universe, doc lockfile.Document, env marker.Environment) ([]syncEntry, error) {
	byName := make(map[string][]lockfile.Package)
	for _, pkg := range doc.Package {
		byName[pkg.Name] = append(byName[pkg.Name], pkg)
	}

	// incoming[name][version] = true if some dependency edge requires that
	// exact version under a marker true in env.
	incoming := make(map[string]map[string]bool)

	for _, pkg := range doc.Package {
		for _, dep := range pkg.Dependencies {
			mt, err := lockfile.ParseMarker(u, dep.Marker)
			if err != nil {
				return nil, fmt.Errorf("parsing dependency marker for %s -> %s: %w", pkg.Name, dep.Name, err)
			}

			if !mt.Eval(env, nil) {
				continue
			}

			if incoming[dep.Name] == nil {
				incoming[dep.Name] = make(map[string]bool)
			}

			incoming[dep.Name][dep.Version] = true
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}

	sort.Strings(names)

	plan := make([]syncEntry, 0, len(names))

	for _, name := range names {
		versions := byName[name]
		if len(versions) == 1 {
			plan = append(plan, syncEntry{Name: name, Version: versions[0].Version})
			continue
		}

		chosen := ""

		for _, v := range versions {
			if incoming[name][v.Version] {
				chosen = v.Version
				break
			}
		}

		if chosen == "" {
			chosen = highestVersion(versions)
		}

		plan = append(plan, syncEntry{Name: name, Version: chosen})
	}

	return plan, nil
}

func highestVersion(versions []lockfile.Package) string {
	best := versions[0]
	bestV, bestErr := pep440.Parse(best.Version)

	for _, v := range versions[1:] {
		parsed, err := pep440.Parse(v.Version)
		if err != nil {
			continue
		}

		if bestErr != nil || parsed.GreaterThan(bestV) {
			best = v
			bestV = parsed
			bestErr = nil
		}
	}

	return best.Version
}

// selectWheelsForPlan resolves a wheel download URL for each pinned
// package by classifying every file the registry offers and applying the
// wheel-vs-source selection rule, surfacing the per-candidate rejection
// reason when nothing installable remains.
func selectWheelsForPlan(ctx context.Context, plan []syncEntry, client registry.Client, policy registry.Policy) ([]downloadPlan, error) {
	var plans []downloadPlan

	for _, entry := range plan {
		rel, err := client.Release(ctx, entry.Name, entry.Version)
		if err != nil {
			return nil, fmt.Errorf("fetching %s %s: %w", entry.Name, entry.Version, err)
		}

		version, err := pep440.Parse(entry.Version)
		if err != nil {
			return nil, fmt.Errorf("parsing locked version %q for %s: %w", entry.Version, entry.Name, err)
		}

		dist := registry.Classify(entry.Name, version, rel.Files, policy)

		selection, err := dist.Select()
		if err != nil {
			return nil, err
		}

		if selection.BuildFromSource {
			reason := "no wheel published"
			if selection.Wheel != nil {
				reason = selection.Wheel.Verdict.Reason.String()
			}

			return nil, fmt.Errorf("%s %s has no installable wheel for this environment (%s); source builds are not part of sync", entry.Name, entry.Version, reason)
		}

		plans = append(plans, downloadPlan{
			name:    entry.Name,
			version: entry.Version,
			file:    selection.Wheel.File,
		})
	}

	return plans, nil
}
