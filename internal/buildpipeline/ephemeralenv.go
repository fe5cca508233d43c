package buildpipeline

import (
	"fmt"
	"os"
)

// EphemeralEnv is a scoped temporary directory that serves as a PEP 517
// hook's build directory. No build requirements are installed into it;
// the hook runs against the packages of the interpreter that invokes it.
// Callers must call Close (typically via defer) to guarantee cleanup on
// every exit path.
type EphemeralEnv struct {
	Root string
}

// NewEphemeralEnv creates a fresh temp directory under the OS default
// temp location, prefixed for easy identification in `/tmp` listings
// during debugging.
func NewEphemeralEnv() (*EphemeralEnv, error) {
	root, err := os.MkdirTemp("", "pipg-build-*")
	if err != nil {
		return nil, fmt.Errorf("creating ephemeral build environment: %w", err)
	}

	return &EphemeralEnv{Root: root}, nil
}

// Close removes the ephemeral environment and everything installed into
// it. Safe to call multiple times.
func (e *EphemeralEnv) Close() error {
	if e == nil || e.Root == "" {
		return nil
	}

	if err := os.RemoveAll(e.Root); err != nil {
		return fmt.Errorf("removing ephemeral build environment %s: %w", e.Root, err)
	}

	return nil
}
