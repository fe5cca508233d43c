package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipg-project/pipg/internal/pep440"
)

func newBumpCmd() *cobra.Command {
	bumpCmd := &cobra.Command{
		Use:   "bump <version> <major|minor|patch>",
		Short: "Bump a PEP 440 version's release segment",
		Long: "bump increments the requested release segment of a PEP 440 version,\n" +
			"zeroing everything to its right. Epoch, pre/post/dev, and local\n" +
			"segments are cleared, with a warning.",
		Args: cobra.ExactArgs(2),
		RunE: runBump,
	}

	return bumpCmd
}

func runBump(cmd *cobra.Command, args []string) error {
	var kind pep440.BumpKind

	switch args[1] {
	case "major":
		kind = pep440.BumpMajor
	case "minor":
		kind = pep440.BumpMinor
	case "patch":
		kind = pep440.BumpPatch
	default:
		return fmt.Errorf("unknown bump segment %q: expected major, minor, or patch", args[1])
	}

	result, err := pep440.Bump(args[0], kind)
	if err != nil {
		return err
	}

	if result.Warning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", result.Warning)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Version.String())

	return nil
}
