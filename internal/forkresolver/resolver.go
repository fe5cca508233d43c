package forkresolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/xerrors"

	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/pep440"
	"github.com/pipg-project/pipg/internal/resolution"
)

// errVersionConflict identifies the two places within a single fork's
// walk where no version can satisfy every requirement reaching a
// package — the terminal case of the incompatibility chain a full
// PubGrub derivation tree would otherwise build up explicitly.
var errVersionConflict = xerrors.New("forkresolver: version conflict")

// Mode selects which candidate version a fork prefers: highest, lowest,
// or lowest for direct requirements only.
type Mode int

const (
	Highest Mode = iota
	Lowest
	LowestDirect
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithMode sets the candidate-selection mode.
func WithMode(m Mode) Option { return func(r *Resolver) { r.mode = m } }

// WithTargetPython records the project's target requires-python. Each
// candidate's requires-python is checked against it through
// compatibleTargets, which currently accepts every pair, so no candidate
// is discarded on requires-python grounds.
func WithTargetPython(spec pep440.Specifier) Option {
	return func(r *Resolver) { r.targetPython = spec }
}

// WithPreferences supplies existing lockfile entries: when the resolution
// mode permits, the resolver prefers a preferred version over recomputing
// the default (highest/lowest) choice.
func WithPreferences(prefs map[string]string) Option {
	return func(r *Resolver) { r.preferred = prefs }
}

// WithNoDeps restricts resolution to the root requirements themselves:
// candidates are still selected and pinned, but their dependencies are
// not expanded.
func WithNoDeps(noDeps bool) Option {
	return func(r *Resolver) { r.noDeps = noDeps }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resolver drives the forking walk. It holds no per-run mutable state of
// its own; every fork owns an independent copy of the in-progress
// selection, so merging fork outputs later is pure.
type Resolver struct {
	provider     MetadataProvider
	universe     *marker.Universe
	mode         Mode
	targetPython pep440.Specifier
	preferred    map[string]string
	noDeps       bool
	logger       *slog.Logger
}

// New creates a Resolver backed by provider, using u as the shared
// marker-interning arena (the same Universe the caller later passes to
// resolution.NewBuilder, so markers compare equal across packages).
func New(provider MetadataProvider, u *marker.Universe, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		universe: u,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolution is one fork's self-consistent sub-resolution: the fork's
// marker, the selected (package, version, extra?) nodes, and the edges
// among them.
type Resolution struct {
	ForkMarker marker.UniversalMarker
	Nodes      []ResolvedNode
	Edges      []ResolvedEdge
}

// ResolvedNode is one (package, version, extra?, group?) triple selected
// within a fork.
type ResolvedNode struct {
	Key          resolution.NodeKey
	Version      pep440.Version
	RequiresDist []string
	Yanked       bool
}

// ResolvedEdge is one dependency edge within a fork, annotated with the
// universal marker under which it applies within that fork (before the
// output stage's cross-fork disjunction).
type ResolvedEdge struct {
	FromRoot bool
	From     resolution.NodeKey
	To       resolution.NodeKey
	Marker   marker.UniversalMarker
}

// pendingReq is one not-yet-resolved queue entry: a requirement reached by
// following an edge from fromKey (or the root, if fromRoot) whose
// applicability within the current fork is f.envMarker AND pathEnv AND
// pathConflict.
type pendingReq struct {
	req          Requirement
	fromRoot     bool
	fromKey      resolution.NodeKey
	pathEnv      marker.MarkerTree
	pathConflict marker.ConflictMarker
}

// fork is one branch of resolver state under a specific marker
// constraint. Cloned on a fork point; never mutated by more than one
// goroutine (Resolve runs forks sequentially via an explicit stack, not
// concurrently, since the resolver's inner loop never suspends).
type fork struct {
	envMarker marker.MarkerTree
	conflict  marker.ConflictMarker

	selected map[resolution.NodeKey]ResolvedNode
	order    []resolution.NodeKey
	edges    []ResolvedEdge
	queue    []pendingReq
}

func cloneFork(f *fork) *fork {
	nf := &fork{
		envMarker: f.envMarker,
		conflict:  f.conflict,
		selected:  make(map[resolution.NodeKey]ResolvedNode, len(f.selected)),
		order:     append([]resolution.NodeKey(nil), f.order...),
		edges:     append([]ResolvedEdge(nil), f.edges...),
		queue:     append([]pendingReq(nil), f.queue...),
	}

	for k, v := range f.selected {
		nf.selected[k] = v
	}

	return nf
}

// Resolve runs the forking walk starting from roots (the project's direct
// requirements) and returns one Resolution per completed fork.
func (r *Resolver) Resolve(ctx context.Context, roots []Requirement) ([]Resolution, error) {
	root := &fork{
		envMarker: r.universe.TrueTree(),
		conflict:  r.universe.TrueConflict(),
		selected:  make(map[resolution.NodeKey]ResolvedNode),
	}

	for _, req := range roots {
		root.queue = append(root.queue, pendingReq{
			req:          req,
			fromRoot:     true,
			pathEnv:      req.Marker,
			pathConflict: r.universe.TrueConflict(),
		})
	}

	var (
		completed []*fork
		stack     = []*fork{root}
	)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := r.drain(ctx, f)
		if err != nil {
			return nil, err
		}

		if len(children) == 0 {
			completed = append(completed, f)
			continue
		}

		r.logger.Debug("resolver forked",
			slog.String("parent", f.envMarker.String()),
			slog.Int("children", len(children)),
		)

		stack = append(stack, children...)
	}

	out := make([]Resolution, 0, len(completed))

	for _, f := range completed {
		nodes := make([]ResolvedNode, 0, len(f.order))
		for _, k := range f.order {
			nodes = append(nodes, f.selected[k])
		}

		out = append(out, Resolution{
			ForkMarker: marker.UniversalMarker{Env: f.envMarker, Conflict: f.conflict},
			Nodes:      nodes,
			Edges:      f.edges,
		})
	}

	return out, nil
}

// drain processes f's queue until it is empty (f is a completed leaf, nil
// returned) or a fork point is found, in which case the two children
// replacing f on the stack are returned and f itself is discarded.
func (r *Resolver) drain(ctx context.Context, f *fork) ([]*fork, error) {
	for len(f.queue) > 0 {
		if a, b, ok := splitOnForkPoint(f); ok {
			return []*fork{a, b}, nil
		}

		pr := f.queue[0]
		f.queue = f.queue[1:]

		if err := r.resolveOne(ctx, f, pr); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

// splitOnForkPoint finds a fork point: two unincorporated (still-queued)
// requirements on the same package whose markers are not equal. Here we
// handle the detectable, resolvable case — a pair whose markers are
// disjoint, the platform-fork shape. A pair that overlaps without being
// disjoint or equal is left unforked and processed as a single merged
// requirement set instead; splitting it properly needs general region
// subtraction over marker environments, which the interned tree does not
// carry.
func splitOnForkPoint(f *fork) (*fork, *fork, bool) {
	type entry struct {
		idx  int
		full marker.MarkerTree
	}

	byName := make(map[string][]entry)

	for i, pr := range f.queue {
		byName[pr.req.Name] = append(byName[pr.req.Name], entry{idx: i, full: f.envMarker.And(pr.pathEnv)})
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		entries := byName[name]

		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				a, b := entries[i], entries[j]

				if a.full.Equal(b.full) || !a.full.IsDisjoint(b.full) {
					continue
				}

				childA := cloneFork(f)
				childA.envMarker = f.envMarker.And(a.full)
				childA.queue = keepOnly(childA.queue, name, a.idx)

				childB := cloneFork(f)
				childB.envMarker = f.envMarker.And(b.full)
				childB.queue = keepOnly(childB.queue, name, b.idx)

				return childA, childB, true
			}
		}
	}

	return nil, nil, false
}

// keepOnly drops every queue entry named name except the one at keepIdx
// (an index into the pre-clone queue, still valid since clones copy the
// slice verbatim before this runs).
func keepOnly(queue []pendingReq, name string, keepIdx int) []pendingReq {
	out := make([]pendingReq, 0, len(queue))

	for i, pr := range queue {
		if pr.req.Name == name && i != keepIdx {
			continue
		}

		out = append(out, pr)
	}

	return out
}

// resolveOne resolves a single dequeued requirement against f: selecting a
// candidate (or reusing an already-selected one), registering edges, and
// queuing its own dependencies and extras.
func (r *Resolver) resolveOne(ctx context.Context, f *fork, pr pendingReq) error {
	full := f.envMarker.And(pr.pathEnv)
	if full.IsFalse() {
		return nil // unreachable under this fork's accumulated constraint; prune silently
	}

	name := pr.req.Name
	key := resolution.NodeKey{Name: name}
	edgeMarker := marker.UniversalMarker{Env: pr.pathEnv, Conflict: pr.pathConflict}

	if existing, ok := f.selected[key]; ok {
		if !pr.req.Specifier.Matches(existing.Version) {
			// A genuine PubGrub-style incompatibility: two requirements on the
			// same package within one fork cannot both be satisfied.
			// xerrors.Errorf keeps this distinguishable (via errors.Is/As on
			// its wrapped chain) from the plain-fmt.Errorf bookkeeping errors
			// elsewhere in this file.
			return xerrors.Errorf("forkresolver: %s requires %s but %s %s is already selected in this fork: %w",
				name, pr.req.Specifier.String(), name, existing.Version, errVersionConflict)
		}

		f.addEdge(pr, existing.Key, edgeMarker)

		return r.expandExtras(f, pr, existing.Key, existing)
	}

	versions, err := r.provider.Versions(ctx, name)
	if err != nil {
		return fmt.Errorf("fetching versions for %s: %w", name, err)
	}

	chosen, ok := r.choose(name, versions, pr.req.Specifier, pr.fromRoot)
	if !ok {
		return xerrors.Errorf("no version of %s satisfies %s: %w", name, pr.req.Specifier.String(), errVersionConflict)
	}

	key.Version = chosen.Version.String()

	node := ResolvedNode{Key: key, Version: chosen.Version, RequiresDist: chosen.RequiresDist, Yanked: chosen.Yanked}
	f.selected[resolution.NodeKey{Name: name}] = node
	f.selected[key] = node
	f.order = append(f.order, key)

	f.addEdge(pr, key, edgeMarker)

	if r.noDeps {
		return r.expandExtras(f, pr, key, node)
	}

	for _, raw := range chosen.RequiresDist {
		depReq, err := ParseRequirement(r.universe, raw)
		if err != nil {
			r.logger.Debug("skipping unparseable requirement", slog.String("package", name), slog.String("raw", raw))
			continue
		}

		envOnly, extras := depReq.Marker.ExtractExtras()
		depReq.Marker = envOnly
		depReq.Extras = extras

		conflict := pr.pathConflict
		for _, e := range extras {
			conflict = conflict.And(r.universe.ConflictAtom(marker.ConflictItem{Package: name, Extra: e}))
		}

		f.queue = append(f.queue, pendingReq{
			req:          depReq,
			fromKey:      key,
			pathEnv:      pr.pathEnv.And(envOnly),
			pathConflict: conflict,
		})
	}

	return r.expandExtras(f, pr, key, node)
}

// expandExtras registers a pkg[extra] node and its enabling edge for every
// extra the requirement activates: expanding pkg[x] introduces an edge
// from the base node to the pkg[x] node with the pkg[x]-enabled conflict
// marker ANDed into its weight.
func (r *Resolver) expandExtras(f *fork, pr pendingReq, baseKey resolution.NodeKey, base ResolvedNode) error {
	for _, extra := range pr.req.OwnExtras {
		extraKey := resolution.NodeKey{Name: baseKey.Name, Version: baseKey.Version, Extra: extra}
		enabled := r.universe.ConflictAtom(marker.ConflictItem{Package: baseKey.Name, Extra: extra})

		if _, ok := f.selected[extraKey]; !ok {
			f.selected[extraKey] = ResolvedNode{Key: extraKey, Version: base.Version}
			f.order = append(f.order, extraKey)
		}

		f.edges = append(f.edges, ResolvedEdge{
			From:   baseKey,
			To:     extraKey,
			Marker: marker.UniversalMarker{Env: r.universe.TrueTree(), Conflict: enabled},
		})
	}

	return nil
}

func (f *fork) addEdge(pr pendingReq, to resolution.NodeKey, m marker.UniversalMarker) {
	f.edges = append(f.edges, ResolvedEdge{
		FromRoot: pr.fromRoot,
		From:     pr.fromKey,
		To:       to,
		Marker:   m,
	})
}

// choose picks the best candidate for spec per the resolver's mode; direct
// reports whether the requirement comes from the root, which LowestDirect
// needs. Versions whose requires-python fails compatibleTargets are
// discarded (compatibleTargets currently accepts every pair).
func (r *Resolver) choose(name string, versions []PackageVersion, spec pep440.Specifier, direct bool) (PackageVersion, bool) {
	var candidates []PackageVersion

	for _, v := range versions {
		if !spec.Matches(v.Version) {
			continue
		}

		if v.RequiresPython != "" {
			rpSpec, err := pep440.ParseSpecifier(v.RequiresPython)
			if err == nil && !r.targetPython.Empty() {
				if !compatibleTargets(rpSpec, r.targetPython) {
					continue
				}
			}
		}

		candidates = append(candidates, v)
	}

	if len(candidates) == 0 {
		return PackageVersion{}, false
	}

	if pref, ok := r.preferred[name]; ok {
		for _, c := range candidates {
			if c.Version.String() == pref {
				return c, true
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Version.LessThan(candidates[j].Version)
	})

	switch {
	case r.mode == Lowest, r.mode == LowestDirect && direct:
		return candidates[0], true
	default:
		return candidates[len(candidates)-1], true
	}
}

// compatibleTargets reports whether a candidate's requires-python
// specifier can coexist with the project's target requires-python. It
// returns true for every pair: no comparison of the two specifier ranges
// is made, so a candidate whose requires-python is disjoint from the
// target is not rejected here.
func compatibleTargets(candidateSpec, targetSpec pep440.Specifier) bool {
	return true
}
