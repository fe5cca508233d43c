package resolution

import (
	"fmt"

	"github.com/pipg-project/pipg/internal/pep440"
)

// CheckLowerBound diagnoses, under the `lowest` resolution mode, a direct
// or transitive dependency specifier lacking any lower bound, since
// "lowest" otherwise silently picks whatever ancient release satisfies an
// upper-bound-only constraint.
func (b *Builder) CheckLowerBound(requiringPackage, dependencyName string, spec pep440.Specifier) {
	if spec.HasLowerBound() {
		return
	}

	b.Diagnose("missing-lower-bound", fmt.Sprintf(
		"%s's dependency on %s (%q) has no lower bound; `lowest` mode may select an unexpectedly old version",
		requiringPackage, dependencyName, spec.String(),
	))
}
