package marker

import "strings"

// ImpliedMarkers derives the environment marker implied by a wheel's
// platform tag: the marker that must hold for this wheel to be
// installable at all, independent of any dependency specifier. This runs
// platform-tag expansion (registry's expandPlatforms) in reverse —
// instead of expanding a running interpreter's tag into the candidate
// wheel tags it accepts, this takes a wheel's own tag and derives what
// interpreter/OS/architecture could have produced it.
//
// Unrecognized or unparseable platform components are skipped rather than
// treated as an error: this only ever narrows resolution, and a tag it
// cannot interpret should widen (TRUE) rather than break resolution.
func ImpliedMarkers(u *Universe, platformTag string) (MarkerTree, error) {
	if platformTag == "" || platformTag == "any" {
		return u.TrueTree(), nil
	}

	var out MarkerTree

	first := true

	for _, part := range strings.Split(platformTag, ".") {
		m, err := impliedMarkerForTag(u, part)
		if err != nil {
			return MarkerTree{}, err
		}

		if first {
			out = m
			first = false

			continue
		}

		out = out.Or(m)
	}

	return out, nil
}

func impliedMarkerForTag(u *Universe, tag string) (MarkerTree, error) {
	switch {
	case tag == "any":
		return u.TrueTree(), nil
	case strings.HasPrefix(tag, "manylinux") || strings.HasPrefix(tag, "linux_"):
		return linuxMarker(u, tag)
	case strings.HasPrefix(tag, "musllinux_"):
		return linuxMarker(u, tag)
	case strings.HasPrefix(tag, "macosx_"):
		return macosMarker(u, tag)
	case strings.HasPrefix(tag, "win"):
		return windowsMarker(u, tag)
	default:
		// Unrecognized platform family (e.g. a future tag this build
		// doesn't know about): don't narrow resolution over it.
		return u.TrueTree(), nil
	}
}

// linuxMarker derives sys_platform == "linux" [and platform_machine ==
// arch] from a manylinux/musllinux/linux_* tag. The architecture is always
// the tag's last underscore-separated component.
func linuxMarker(u *Universe, tag string) (MarkerTree, error) {
	sysPlatform, err := u.Atom("sys_platform", "==", "linux")
	if err != nil {
		return MarkerTree{}, err
	}

	arch := lastComponent(tag)
	if arch == "" {
		return sysPlatform, nil
	}

	machine, err := u.Atom("platform_machine", "==", arch)
	if err != nil {
		return MarkerTree{}, err
	}

	return sysPlatform.And(machine), nil
}

// macosMarker derives sys_platform == "darwin" [and platform_machine ==
// arch] from a macosx_{major}_{minor}_{arch} tag. "universal2" expands to
// the disjunction of x86_64 and arm64, since a universal2 wheel runs on
// either architecture.
func macosMarker(u *Universe, tag string) (MarkerTree, error) {
	sysPlatform, err := u.Atom("sys_platform", "==", "darwin")
	if err != nil {
		return MarkerTree{}, err
	}

	arch := lastComponent(tag)

	switch arch {
	case "":
		return sysPlatform, nil
	case "universal2", "intel":
		x86, err := u.Atom("platform_machine", "==", "x86_64")
		if err != nil {
			return MarkerTree{}, err
		}

		arm, err := u.Atom("platform_machine", "==", "arm64")
		if err != nil {
			return MarkerTree{}, err
		}

		return sysPlatform.And(x86.Or(arm)), nil
	default:
		machine, err := u.Atom("platform_machine", "==", arch)
		if err != nil {
			return MarkerTree{}, err
		}

		return sysPlatform.And(machine), nil
	}
}

// windowsMarker derives sys_platform == "win32" [and platform_machine ==
// arch] from a win32/win_amd64/win_arm64 tag.
func windowsMarker(u *Universe, tag string) (MarkerTree, error) {
	sysPlatform, err := u.Atom("sys_platform", "==", "win32")
	if err != nil {
		return MarkerTree{}, err
	}

	switch tag {
	case "win32":
		return sysPlatform, nil
	case "win_amd64":
		machine, err := u.Atom("platform_machine", "==", "AMD64")
		if err != nil {
			return MarkerTree{}, err
		}

		return sysPlatform.And(machine), nil
	case "win_arm64":
		machine, err := u.Atom("platform_machine", "==", "ARM64")
		if err != nil {
			return MarkerTree{}, err
		}

		return sysPlatform.And(machine), nil
	default:
		return sysPlatform, nil
	}
}

// knownArches lists the platform_machine values this tag parser recognizes.
// They are matched as suffixes before falling back to a last-underscore
// split, so a multi-word architecture like "x86_64" is not cut to "64".
var knownArches = []string{
	"x86_64", "aarch64", "ppc64le", "ppc64", "s390x", "armv7l", "arm64", "i686",
}

// lastComponent extracts the trailing architecture component of a platform
// tag such as "manylinux_2_17_x86_64" or "macosx_11_0_arm64".
func lastComponent(tag string) string {
	for _, arch := range knownArches {
		if strings.HasSuffix(tag, "_"+arch) {
			return arch
		}
	}

	idx := strings.LastIndexByte(tag, '_')
	if idx < 0 {
		return ""
	}

	return tag[idx+1:]
}
