package pep440

import (
	"fmt"
	"strconv"
	"strings"
)

// BumpKind selects which release segment to increment.
type BumpKind int

const (
	BumpPatch BumpKind = iota
	BumpMinor
	BumpMajor
)

// BumpResult is the outcome of bumping a version, including a warning when
// non-release segments (epoch, pre/post/dev, local) were discarded.
type BumpResult struct {
	Version Version
	Warning string
}

// Bump increments the given release segment of v, zeroing every segment to
// its right and clearing any epoch, pre-release, post-release, dev-release,
// or local-version segment. Clearing those segments produces a Warning,
// since it silently changes how the version compares to its predecessor.
//
// Examples: "1.10.31" bump-patch -> "1.10.32"; "1.10.31" bump-minor ->
// "1.11.0"; "1.10.31" bump-major -> "2.0.0"; "1!2a3.post4.dev5+deadbeef6"
// bump-major -> "3" with a pre-release-cleared warning.
func Bump(raw string, kind BumpKind) (BumpResult, error) {
	v, err := Parse(raw)
	if err != nil {
		return BumpResult{}, err
	}

	if v.IsSentinel() {
		return BumpResult{}, fmt.Errorf("cannot bump sentinel version")
	}

	release, hadExtra := releaseSegments(raw)

	idx := 0

	switch kind {
	case BumpMajor:
		idx = 0
	case BumpMinor:
		idx = 1
	case BumpPatch:
		idx = 2
	}

	for len(release) <= idx {
		release = append(release, 0)
	}

	release[idx]++
	for i := idx + 1; i < len(release); i++ {
		release[i] = 0
	}

	parts := make([]string, len(release))
	for i, n := range release {
		parts[i] = strconv.Itoa(n)
	}

	bumped := strings.Join(parts, ".")

	newVer, err := Parse(bumped)
	if err != nil {
		return BumpResult{}, fmt.Errorf("formatting bumped version %q: %w", bumped, err)
	}

	result := BumpResult{Version: newVer}
	if hadExtra {
		result.Warning = fmt.Sprintf(
			"version %q has epoch/pre/post/dev/local segments that were cleared by the bump", raw)
	}

	return result, nil
}

// releaseSegments extracts the dotted release-number prefix of a raw
// version string (ignoring a leading epoch and any trailing
// pre/post/dev/local segment), and reports whether any such non-release
// segment was present.
func releaseSegments(raw string) ([]int, bool) {
	s := raw
	hadExtra := false

	// Strip epoch: "N!".
	if idx := strings.Index(s, "!"); idx >= 0 {
		s = s[idx+1:]
		hadExtra = true
	}

	// Trim at the first character that doesn't belong to a plain
	// dotted-digit release segment.
	end := 0

	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' || c == '.' {
			end++

			continue
		}

		break
	}

	if end < len(s) {
		hadExtra = true
	}

	releasePart := s[:end]
	releasePart = strings.TrimRight(releasePart, ".")

	var segments []int

	for _, tok := range strings.Split(releasePart, ".") {
		if tok == "" {
			continue
		}

		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}

		segments = append(segments, n)
	}

	return segments, hadExtra
}
