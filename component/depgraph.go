package component

import (
	"fmt"

	crimperrors "github.com/wippyai/crimp-decompose/errors"
)

// ValidateInstantiationOrder asserts that comp.CoreInstances is already a
// valid instantiation order: every Instantiated instance's arguments name
// only core instances that precede it. The linking-metadata builder
// trusts core-instance index order as instantiation order (spec.md
// §4.4 Step 2); this is the one-pass check that makes that trust safe,
// adapted from the teacher's general-purpose dependency-graph/topological
// sort into a targeted validation rather than a full DAG computation a
// live runtime linker would need for concurrent instantiation.
func ValidateInstantiationOrder(comp *Component) error {
	for i, inst := range comp.CoreInstances {
		if inst.Kind != CoreInstanceInstantiated {
			continue
		}
		for _, arg := range inst.Args {
			dep := int(arg.InstanceIndex)
			if dep >= len(comp.CoreInstances) {
				return crimperrors.OutOfBounds(crimperrors.PhaseResolve,
					[]string{"core-instances", fmt.Sprint(i)}, dep, len(comp.CoreInstances))
			}
			if dep >= i {
				return crimperrors.Invariant(crimperrors.PhaseResolve,
					[]string{"core-instances", fmt.Sprint(i)},
					fmt.Sprintf("instantiates before its dependency at index %d", dep))
			}
		}
	}
	return nil
}
