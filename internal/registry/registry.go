// Package registry is the candidate-set layer over a package index:
// fetching per-project documents, labeling every wheel and sdist a
// release offers with a compatibility Verdict, and picking the best
// candidate by an explicit wheel-vs-source preference rule.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/pipg-project/pipg/internal/pep440"
)

// HashComparison ranks a candidate's recorded digest, used to break ties
// between an otherwise-equal wheel and source distribution. Classify
// assigns HashMatched whenever the index lists a sha256 and HashMissing
// otherwise; it compares against no expected digest, so it never assigns
// HashMismatched.
type HashComparison int

const (
	HashMissing HashComparison = iota
	HashMismatched
	HashMatched
)

// IncompatibleReason enumerates why a candidate was rejected, ordered from
// most to least "fixable" for tie-breaking among rejections.
type IncompatibleReason int

const (
	ReasonExcludeNewer IncompatibleReason = iota
	ReasonTagMismatch
	ReasonRequiresPythonMismatch
	ReasonYanked
	ReasonNoBinary
)

func (r IncompatibleReason) String() string {
	switch r {
	case ReasonExcludeNewer:
		return "published after exclude-newer cutoff"
	case ReasonTagMismatch:
		return "tag mismatch"
	case ReasonRequiresPythonMismatch:
		return "requires-python mismatch"
	case ReasonYanked:
		return "yanked"
	case ReasonNoBinary:
		return "no-binary policy"
	default:
		return "incompatible"
	}
}

// Verdict is the compatibility outcome for a single candidate file.
// Exactly one of Incompatible or Compatible fields is meaningful, selected
// by the Compatible flag.
type Verdict struct {
	Compatible bool

	// Populated when Compatible is true.
	Hash        HashComparison
	TagPriority int // lower is better; -1 for source distributions (no tag)
	BuildTag    string

	// Populated when Compatible is false.
	Reason IncompatibleReason
}

// betterThan reports whether v is strictly preferred over other as a
// same-kind (both wheel, or both source) candidate.
func (v Verdict) betterThan(other Verdict) bool {
	if v.Compatible != other.Compatible {
		return v.Compatible
	}

	if !v.Compatible {
		return v.Reason < other.Reason
	}

	if v.Hash != other.Hash {
		return v.Hash > other.Hash
	}

	return v.TagPriority < other.TagPriority
}

// Candidate pairs an index file entry with its compatibility verdict.
type Candidate struct {
	File    File
	Verdict Verdict
}

// PrioritizedDistribution is one package version's full candidate set: its
// wheels (ordered by selection rule, kept in case the resolver wants to
// reconsider with different expected hashes) and its optional source
// distribution.
type PrioritizedDistribution struct {
	Name    string
	Version pep440.Version

	Wheels []Candidate
	Source *Candidate
}

// Selection is the outcome of the candidate rule: the most-compatible
// wheel. When a compatible source strictly beats that wheel on hash
// comparison, Select sets both Wheel and Source but leaves BuildFromSource
// false, so nothing marks the source as the one to install. If no wheel is compatible but a source
// is, BuildFromSource is true so callers know metadata must come from the
// build pipeline rather than a wheel's RECORD/METADATA.
type Selection struct {
	Wheel           *Candidate
	Source          *Candidate
	BuildFromSource bool
}

// Select applies the selection rule over a PrioritizedDistribution.
func (d PrioritizedDistribution) Select() (Selection, error) {
	var bestWheel *Candidate

	for i := range d.Wheels {
		c := &d.Wheels[i]
		if bestWheel == nil || c.Verdict.betterThan(bestWheel.Verdict) {
			bestWheel = c
		}
	}

	switch {
	case bestWheel != nil && bestWheel.Verdict.Compatible:
		if d.Source != nil && d.Source.Verdict.Compatible && d.Source.Verdict.Hash > bestWheel.Verdict.Hash {
			return Selection{Wheel: bestWheel, Source: d.Source}, nil
		}

		return Selection{Wheel: bestWheel}, nil
	case d.Source != nil && d.Source.Verdict.Compatible:
		return Selection{Wheel: bestWheel, Source: d.Source, BuildFromSource: true}, nil
	default:
		return Selection{}, fmt.Errorf("no compatible wheel or source distribution for %s %s", d.Name, d.Version)
	}
}

// Policy carries the inputs needed to label each candidate file: the
// caller's accepted wheel tags (priority ordered), whether binary
// installation is disallowed (no-binary), the resolving interpreter's
// python_version for requires-python checks, and an optional
// exclude-newer cutoff.
type Policy struct {
	CompatTags    []Tag
	NoBinary      bool
	PythonVersion pep440.Version
	ExcludeNewer  time.Time            // zero value disables the check
	UploadTimes   map[string]time.Time // filename -> upload time, when known
}

// Classify builds a PrioritizedDistribution from a release's file list,
// labeling each file per Policy.
func Classify(name string, version pep440.Version, files []File, policy Policy) PrioritizedDistribution {
	dist := PrioritizedDistribution{Name: name, Version: version}

	for _, f := range files {
		if reason, rejected := policy.reject(f); rejected {
			dist.add(f, Verdict{Reason: reason})
			continue
		}

		if f.Kind != FileWheel {
			dist.add(f, Verdict{Compatible: true, Hash: hashVerdict(f), TagPriority: -1})
			continue
		}

		if policy.NoBinary {
			dist.add(f, Verdict{Reason: ReasonNoBinary})
			continue
		}

		_, _, build, tag, err := ParseWheelFilename(f.Filename)
		if err != nil {
			dist.add(f, Verdict{Reason: ReasonTagMismatch})
			continue
		}

		priority, ok := matchPriority(tag, policy.CompatTags)
		if !ok {
			dist.add(f, Verdict{Reason: ReasonTagMismatch})
			continue
		}

		dist.add(f, Verdict{
			Compatible:  true,
			Hash:        hashVerdict(f),
			TagPriority: priority,
			BuildTag:    build,
		})
	}

	sort.SliceStable(dist.Wheels, func(i, j int) bool {
		return dist.Wheels[i].Verdict.betterThan(dist.Wheels[j].Verdict)
	})

	return dist
}

// reject applies the file-kind-independent rejection checks: yanked,
// exclude-newer, requires-python.
func (p Policy) reject(f File) (IncompatibleReason, bool) {
	if f.Yanked {
		return ReasonYanked, true
	}

	if !p.ExcludeNewer.IsZero() {
		if t, ok := p.UploadTimes[f.Filename]; ok && t.After(p.ExcludeNewer) {
			return ReasonExcludeNewer, true
		}
	}

	if f.RequiresPython != "" {
		spec, err := pep440.ParseSpecifier(f.RequiresPython)
		if err == nil && !spec.Matches(p.PythonVersion) {
			return ReasonRequiresPythonMismatch, true
		}
	}

	return 0, false
}

// add files a candidate under the right slot: wheels accumulate, the
// source slot keeps the best-verdict sdist seen so far.
func (d *PrioritizedDistribution) add(f File, v Verdict) {
	c := Candidate{File: f, Verdict: v}

	if f.Kind == FileWheel {
		d.Wheels = append(d.Wheels, c)

		return
	}

	if d.Source == nil || c.Verdict.betterThan(d.Source.Verdict) {
		d.Source = &c
	}
}

func hashVerdict(f File) HashComparison {
	if f.SHA256 == "" {
		return HashMissing
	}

	return HashMatched
}

// matchPriority finds the accepted-tag index of the first tag the wheel's
// own tag satisfies.
func matchPriority(tag Tag, accepted []Tag) (int, bool) {
	for i, a := range accepted {
		if tag.Matches(a) {
			return i, true
		}
	}

	return 0, false
}
