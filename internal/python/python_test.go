package python_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pipg-project/pipg/internal/python"
)

func fakeRunner(lines ...string) python.CommandRunner {
	return func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		out := ""
		for _, l := range lines {
			out += l + "\n"
		}

		return []byte(out), nil
	}
}

func linuxProbeOutput() []string {
	return []string{
		"/usr/bin/python3.12",
		"/usr",
		"/usr",
		"/usr/lib/python3.12/site-packages",
		"linux-x86_64",
		"312",
		"3.12.4",
		"linux",
		"x86_64",
		"cpython",
	}
}

func TestProbeParsesInterpreter(t *testing.T) {
	p := python.New(
		python.WithPythonBin("python3"),
		python.WithCommandRunner(fakeRunner(linuxProbeOutput()...)),
		python.WithEnvLookup(func(string) string { return "" }),
	)

	interp, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if interp.Executable != "/usr/bin/python3.12" {
		t.Errorf("Executable = %q", interp.Executable)
	}

	if interp.SitePackages != "/usr/lib/python3.12/site-packages" {
		t.Errorf("SitePackages = %q", interp.SitePackages)
	}

	if interp.CPTag != "312" || interp.Version != "3.12.4" {
		t.Errorf("version fields = %q / %q", interp.CPTag, interp.Version)
	}

	if interp.SysPlatform != "linux" || interp.Machine != "x86_64" || interp.Implementation != "cpython" {
		t.Errorf("platform fields = %q / %q / %q", interp.SysPlatform, interp.Machine, interp.Implementation)
	}

	if interp.IsVirtualEnv {
		t.Error("expected a system interpreter not to be flagged as a virtualenv")
	}
}

func TestProbeDetectsVirtualEnvFromPrefixes(t *testing.T) {
	lines := linuxProbeOutput()
	lines[1] = "/home/user/venv" // sys.prefix diverges from base_prefix

	p := python.New(
		python.WithCommandRunner(fakeRunner(lines...)),
		python.WithEnvLookup(func(string) string { return "" }),
	)

	interp, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if !interp.IsVirtualEnv {
		t.Error("expected prefix != base_prefix to flag a virtualenv")
	}
}

func TestProbeRejectsShortOutput(t *testing.T) {
	p := python.New(python.WithCommandRunner(fakeRunner("/usr/bin/python3", "/usr")))

	if _, err := p.Probe(context.Background()); err == nil {
		t.Fatal("expected an error for truncated probe output")
	}
}

func TestMarkerEnvironment(t *testing.T) {
	p := python.New(
		python.WithCommandRunner(fakeRunner(linuxProbeOutput()...)),
		python.WithEnvLookup(func(string) string { return "" }),
	)

	interp, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	env := interp.MarkerEnvironment()

	if env.PythonVersion != "3.12" || env.PythonFullVersion != "3.12.4" {
		t.Errorf("python versions = %q / %q", env.PythonVersion, env.PythonFullVersion)
	}

	if env.SysPlatform != "linux" || env.OSName != "posix" || env.PlatformMachine != "x86_64" {
		t.Errorf("platform env = %+v", env)
	}
}

func TestWheelPlatform(t *testing.T) {
	interp := &python.Interpreter{PlatformTag: "macosx-14.0-arm64"}

	if got := interp.WheelPlatform(); got != "macosx_14_0_arm64" {
		t.Errorf("WheelPlatform() = %q, want macosx_14_0_arm64", got)
	}
}

func TestProbePropagatesRunnerError(t *testing.T) {
	p := python.New(python.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return nil, fmt.Errorf("no such binary")
	}))

	if _, err := p.Probe(context.Background()); err == nil {
		t.Fatal("expected the runner error to surface")
	}
}
