package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is one PEP 425 compatibility tag triple.
type Tag struct {
	Interpreter string // e.g. "cp312", "py3"
	ABI         string // e.g. "cp312", "abi3", "none"
	Platform    string // e.g. "manylinux_2_17_x86_64", "any"
}

// ParseWheelFilename splits a wheel filename into its distribution name,
// version, optional build tag, and compatibility tag. The format is
// {name}-{version}(-{build})?-{interpreter}-{abi}-{platform}.whl; a build
// tag is present when six dash-separated fields remain after trimming the
// extension.
func ParseWheelFilename(filename string) (name, version, build string, tag Tag, err error) {
	stem, ok := strings.CutSuffix(filename, ".whl")
	if !ok {
		return "", "", "", Tag{}, fmt.Errorf("not a wheel filename: %q", filename)
	}

	fields := strings.Split(stem, "-")

	switch len(fields) {
	case 5:
		// name-version-interpreter-abi-platform
	case 6:
		build = fields[2]
	default:
		return "", "", "", Tag{}, fmt.Errorf("malformed wheel filename %q: %d fields", filename, len(fields))
	}

	tag = Tag{
		Interpreter: fields[len(fields)-3],
		ABI:         fields[len(fields)-2],
		Platform:    fields[len(fields)-1],
	}

	return fields[0], fields[1], build, tag, nil
}

// Matches reports whether t (a wheel's own tag, whose fields may carry
// "."-compound values like "py2.py3") satisfies a single accepted tag.
func (t Tag) Matches(accepted Tag) bool {
	return compoundContains(t.Interpreter, accepted.Interpreter) &&
		compoundContains(t.ABI, accepted.ABI) &&
		compoundContains(t.Platform, accepted.Platform)
}

func compoundContains(compound, want string) bool {
	for _, part := range strings.Split(compound, ".") {
		if part == want {
			return true
		}
	}

	return false
}

// CompatTags generates the accepted tag list for an interpreter, most
// preferred first: native CPython wheels, then stable-ABI, then
// ABI-agnostic, then pure-Python, then platform-independent.
// cpTag is the bare "{major}{minor}" digits ("312"); platform is the
// wheel-format platform tag ("manylinux_2_35_x86_64").
func CompatTags(cpTag, platform string) []Tag {
	cp := "cp" + cpTag
	py := "py" + cpTag[:1]

	platforms := expandPlatforms(platform)

	var tags []Tag

	for _, abi := range []string{cp, "abi3", "none"} {
		for _, plat := range platforms {
			tags = append(tags, Tag{Interpreter: cp, ABI: abi, Platform: plat})
		}
	}

	for _, plat := range platforms {
		tags = append(tags, Tag{Interpreter: py, ABI: "none", Platform: plat})
	}

	tags = append(tags,
		Tag{Interpreter: cp, ABI: "none", Platform: "any"},
		Tag{Interpreter: py, ABI: "none", Platform: "any"},
	)

	return tags
}

// expandPlatforms widens a concrete platform tag into the priority-ordered
// list of tags whose wheels can run there: manylinux generations on Linux,
// older macOS releases and universal2 on Darwin.
func expandPlatforms(platform string) []string {
	out := []string{platform}

	if arch, ok := strings.CutPrefix(platform, "linux_"); ok {
		for _, generation := range []string{
			"manylinux_2_35", "manylinux_2_34", "manylinux_2_31",
			"manylinux_2_28", "manylinux_2_17", "manylinux2014",
		} {
			out = append(out, generation+"_"+arch)
		}

		return out
	}

	if rest, ok := strings.CutPrefix(platform, "macosx_"); ok {
		parts := strings.SplitN(rest, "_", 3) // major, minor, arch
		if len(parts) != 3 {
			return out
		}

		major, err := strconv.Atoi(parts[0])
		if err != nil {
			return out
		}

		arch := parts[2]

		out = append(out, fmt.Sprintf("macosx_%s_%s_universal2", parts[0], parts[1]))

		// arm64 wheels start at macOS 11; x86_64 goes back to 10.9.
		floor := 10
		if arch == "arm64" {
			floor = 11
		}

		for v := major - 1; v >= floor; v-- {
			minor := "0"
			if v == 10 {
				minor = "9"
			}

			out = append(out,
				fmt.Sprintf("macosx_%d_%s_%s", v, minor, arch),
				fmt.Sprintf("macosx_%d_%s_universal2", v, minor),
			)
		}
	}

	return out
}
