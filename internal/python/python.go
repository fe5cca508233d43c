// Package python probes a Python interpreter for the facts resolution and
// installation need: where site-packages lives, which wheel tags the
// interpreter accepts, and the PEP 508 environment values its platform
// implies. The interpreter is only ever a target — resolution itself never
// runs against it.
package python

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pipg-project/pipg/internal/marker"
)

// probeScript is the single diagnostic invocation whose fixed-format
// output describes the interpreter. One value per line, in the order
// probeFields expects.
const probeScript = `import platform, site, sys, sysconfig
print(sys.executable)
print(sys.prefix)
print(sys.base_prefix)
print(site.getsitepackages()[0])
print(sysconfig.get_platform())
print(f'{sys.version_info.major}{sys.version_info.minor}')
print(platform.python_version())
print(sys.platform)
print(platform.machine())
print(sys.implementation.name)`

// probeFields is the number of lines probeScript prints.
const probeFields = 10

// Interpreter is a probed Python installation.
type Interpreter struct {
	Executable   string // sys.executable
	Prefix       string // sys.prefix
	SitePackages string
	PlatformTag  string // sysconfig platform, e.g. "macosx-14.0-arm64"
	CPTag        string // bare "{major}{minor}" digits, e.g. "312"
	Version      string // dotted full version, e.g. "3.12.4"

	SysPlatform    string // "linux", "darwin", "win32"
	Machine        string // "x86_64", "arm64"
	Implementation string // "cpython"

	IsVirtualEnv bool
}

// WheelPlatform is the interpreter's platform in wheel-tag form:
// "macosx-14.0-arm64" becomes "macosx_14_0_arm64".
func (i *Interpreter) WheelPlatform() string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '.' {
			return '_'
		}

		return r
	}, i.PlatformTag)
}

// MarkerEnvironment converts the probed facts into the environment PEP
// 508 markers are evaluated against.
func (i *Interpreter) MarkerEnvironment() marker.Environment {
	short := i.Version
	if parts := strings.SplitN(i.Version, ".", 3); len(parts) >= 2 {
		short = parts[0] + "." + parts[1]
	}

	osName := "posix"
	if i.SysPlatform == "win32" {
		osName = "nt"
	}

	return marker.Environment{
		PythonVersion:      short,
		PythonFullVersion:  i.Version,
		OSName:             osName,
		SysPlatform:        i.SysPlatform,
		PlatformMachine:    i.Machine,
		ImplementationName: i.Implementation,
	}
}

// CommandRunner executes a command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// EnvLookup looks up an environment variable.
type EnvLookup func(string) string

// Option configures a Prober.
type Option func(*Prober)

// WithPythonBin sets the interpreter binary to probe. Defaults to
// "python3".
func WithPythonBin(bin string) Option {
	return func(p *Prober) {
		if bin != "" {
			p.bin = bin
		}
	}
}

// WithCommandRunner substitutes the process spawner, for tests.
func WithCommandRunner(fn CommandRunner) Option {
	return func(p *Prober) {
		if fn != nil {
			p.run = fn
		}
	}
}

// WithEnvLookup substitutes environment-variable lookup, for tests.
func WithEnvLookup(fn EnvLookup) Option {
	return func(p *Prober) {
		if fn != nil {
			p.getenv = fn
		}
	}
}

// Prober runs the diagnostic invocation against a configured binary.
type Prober struct {
	bin    string
	run    CommandRunner
	getenv EnvLookup
}

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		bin: "python3",
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		getenv: os.Getenv,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Probe invokes the interpreter and parses its self-description.
func (p *Prober) Probe(ctx context.Context) (*Interpreter, error) {
	out, err := p.run(ctx, p.bin, "-c", probeScript)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", p.bin, err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != probeFields {
		return nil, fmt.Errorf("probing %s: expected %d output lines, got %d", p.bin, probeFields, len(lines))
	}

	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	basePrefix := lines[2]

	interp := &Interpreter{
		Executable:     lines[0],
		Prefix:         lines[1],
		SitePackages:   lines[3],
		PlatformTag:    lines[4],
		CPTag:          lines[5],
		Version:        lines[6],
		SysPlatform:    lines[7],
		Machine:        lines[8],
		Implementation: lines[9],
	}

	interp.IsVirtualEnv = interp.Prefix != basePrefix || p.getenv("VIRTUAL_ENV") != ""

	return interp, nil
}
