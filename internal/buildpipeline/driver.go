package buildpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// driverScript is the PEP 517 hook-invocation driver, the build-pipeline
// analogue of internal/python's probeScript: a single embedded Python
// command whose fixed-format output this package parses, rather than
// shelling out to an on-disk helper file.
const driverScript = `import importlib, json, sys
backend_name, hook_name, srcdir, resultfile, configfile = sys.argv[1:6]
with open(configfile) as f:
    config = json.load(f)
for extra in config.get("backend_path") or []:
    sys.path.insert(0, extra)
sys.path.insert(0, srcdir)
module_name, _, object_path = backend_name.partition(":")
backend = importlib.import_module(module_name)
for attr in filter(None, object_path.split(".")):
    backend = getattr(backend, attr)
hook = getattr(backend, hook_name, None)
if hook is None:
    result = {"ok": False, "error": f"backend {backend_name!r} has no hook {hook_name!r}"}
else:
    try:
        value = hook(config["build_dir"], config.get("config_settings"))
        result = {"ok": True, "value": value}
    except Exception as exc:
        result = {"ok": False, "error": str(exc)}
with open(resultfile, "w") as f:
    json.dump(result, f)
`

// stderrTailLimit bounds how much of a failed hook's stderr is kept in the
// resulting BuildError. The full stderr is buffered while the hook runs
// and trimmed to this tail afterwards.
const stderrTailLimit = 8192

// HookResult is the decoded return value of a successful PEP 517 hook
// invocation (e.g. the wheel filename from build_wheel, or the dist-info
// directory name from prepare_metadata_for_build_wheel).
type HookResult struct {
	Value string
}

// BuildError reports a failed backend hook invocation.
type BuildError struct {
	Package       string
	Version       string
	Hook          string
	StderrTail    string
	MissingHeader bool
}

func (e *BuildError) Error() string {
	if e.MissingHeader {
		return fmt.Sprintf("%s %s: %s failed (missing system header):\n%s", e.Package, e.Version, e.Hook, e.StderrTail)
	}

	return fmt.Sprintf("%s %s: %s failed:\n%s", e.Package, e.Version, e.Hook, e.StderrTail)
}

// hookResultFile is the on-disk shape the driver script writes; it
// mirrors HookResult but stays unexported since it's a wire format, not
// public API.
type hookResultFile struct {
	OK    bool   `json:"ok"`
	Value string `json:"value"`
	Error string `json:"error"`
}

// Invoker spawns pythonBin with driverScript to run one PEP 517 hook
// inside srcDir, using buildDir as the hook's build_directory argument.
type Invoker struct {
	pythonBin string
	pkg       string
	version   string
}

// NewInvoker creates an Invoker bound to the package/version being built,
// purely for attaching context to any resulting BuildError.
func NewInvoker(pythonBin, pkg, version string) *Invoker {
	return &Invoker{pythonBin: pythonBin, pkg: pkg, version: version}
}

// HookUnsupported reports whether the failure was the backend not
// providing the requested hook at all (the driver's "has no hook"
// result), as opposed to the hook running and failing. The metadata fast
// path falls back to a full build only in the former case.
func (e *BuildError) HookUnsupported() bool {
	return strings.Contains(e.StderrTail, "has no hook")
}

// Invoke runs backend.hook against srcDir/buildDir and returns its
// decoded result, or a *BuildError on non-zero exit or a hook-reported
// failure. backendPath entries are prepended to the driver's module
// search path before the backend is imported.
func (inv *Invoker) Invoke(ctx context.Context, backend, hook, srcDir, buildDir string, backendPath []string, configSettings map[string]string) (HookResult, error) {
	workDir, err := os.MkdirTemp("", "pipg-hook-*")
	if err != nil {
		return HookResult{}, fmt.Errorf("creating hook scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	resultFile := filepath.Join(workDir, "result.json")
	configFile := filepath.Join(workDir, "config.json")

	configPayload := map[string]any{
		"build_dir":       buildDir,
		"backend_path":    backendPath,
		"config_settings": configSettings,
	}

	encodedConfig, err := json.Marshal(configPayload)
	if err != nil {
		return HookResult{}, fmt.Errorf("encoding hook config: %w", err)
	}

	if err := os.WriteFile(configFile, encodedConfig, 0o644); err != nil {
		return HookResult{}, fmt.Errorf("writing hook config: %w", err)
	}

	cmd := exec.CommandContext(ctx, inv.pythonBin, "-c", driverScript, backend, hook, srcDir, resultFile, configFile)
	cmd.Dir = srcDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	tail := tailString(stderr.String(), stderrTailLimit)

	if runErr != nil {
		return HookResult{}, &BuildError{
			Package:       inv.pkg,
			Version:       inv.version,
			Hook:          hook,
			StderrTail:    tail,
			MissingHeader: looksLikeMissingHeader(tail),
		}
	}

	raw, err := os.ReadFile(resultFile)
	if err != nil {
		return HookResult{}, fmt.Errorf("reading hook result: %w", err)
	}

	var result hookResultFile
	if err := json.Unmarshal(raw, &result); err != nil {
		return HookResult{}, fmt.Errorf("decoding hook result: %w", err)
	}

	if !result.OK {
		return HookResult{}, &BuildError{
			Package:       inv.pkg,
			Version:       inv.version,
			Hook:          hook,
			StderrTail:    result.Error,
			MissingHeader: looksLikeMissingHeader(result.Error),
		}
	}

	return HookResult{Value: result.Value}, nil
}

func tailString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[len(s)-limit:]
}
