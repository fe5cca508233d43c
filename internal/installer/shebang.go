package installer

import (
	"bytes"
	"fmt"
)

// maxShebangLen is the longest interpreter path the kernel's `#!` line can
// reliably execute across the platforms this installer targets; past this,
// or when the path contains a space, the script must be wrapped in the
// POSIX `exec` trampoline instead.
const maxShebangLen = 127

// RewriteShebang rewrites a wheel-bundled script's `#!python` (or
// `#!pythonw`) placeholder shebang to point at pythonPath, the
// interpreter actually installed into this environment. Scripts not
// starting with one of those placeholders are returned unchanged, since
// they were not generated for shebang substitution.
//
// If relocatable is true, the rewritten shebang resolves the interpreter
// relative to the script's own location at run time
// (`$(dirname -- "$(realpath -- "$0")")/python`) instead of hardcoding
// pythonPath, so the install tree can be moved without breaking scripts.
func RewriteShebang(content []byte, pythonPath string, relocatable bool) []byte {
	rest, ok := stripPlaceholderShebang(content)
	if !ok {
		return content
	}

	shebangLine := buildShebangLine(pythonPath, relocatable)

	out := make([]byte, 0, len(shebangLine)+1+len(rest))
	out = append(out, shebangLine...)
	out = append(out, '\n')
	out = append(out, rest...)

	return out
}

func stripPlaceholderShebang(content []byte) (rest []byte, ok bool) {
	for _, placeholder := range [][]byte{[]byte("#!python\n"), []byte("#!pythonw\n")} {
		if bytes.HasPrefix(content, placeholder) {
			return content[len(placeholder):], true
		}
	}

	for _, placeholder := range [][]byte{[]byte("#!python"), []byte("#!pythonw")} {
		if bytes.Equal(content, placeholder) {
			return nil, true
		}
	}

	return nil, false
}

// buildShebangLine picks between a plain shebang, a relocatable one, and
// the exec-trampoline form required when pythonPath is too long or
// contains whitespace the kernel's #! parsing can't handle portably.
func buildShebangLine(pythonPath string, relocatable bool) string {
	if relocatable {
		return `#!/bin/sh` + "\n" + execTrampoline(`$(dirname -- "$(realpath -- "$0")")/python`)
	}

	if len(pythonPath) <= maxShebangLen && !bytes.ContainsAny([]byte(pythonPath), " \t") {
		return "#!" + pythonPath
	}

	return `#!/bin/sh` + "\n" + execTrampoline(quoteShell(pythonPath))
}

// execTrampoline builds the POSIX `exec` re-invocation line used when the
// real interpreter path can't fit or survive a kernel `#!` line: the
// shell-level shebang re-execs the script through the real interpreter,
// passing the script itself as argv[0] and forwarding all arguments.
func execTrampoline(interpreter string) string {
	return fmt.Sprintf(`'''exec' %s "$0" "$@"
' '''`, interpreter)
}

func quoteShell(s string) string {
	return `"` + s + `"`
}
