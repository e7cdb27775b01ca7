// Package rewrite turns a linked module instance into a standalone core
// module: every import that used to be satisfied by the component
// runtime's wiring is rewritten to point either at a peer instance's
// export (a Rename) or at a crimp-replay placeholder (a Builtin or
// TrueImport stub), and a crimp-replay custom section records enough to
// replay the original instantiation graph without a component runtime.
package rewrite

import (
	"fmt"
	"sort"

	crimperrors "github.com/wippyai/crimp-decompose/errors"
	"github.com/wippyai/crimp-decompose/internal/corewasm"
	"github.com/wippyai/crimp-decompose/linkmeta"
)

// Rewrite produces the standalone, re-validated core module bytes for
// the module instance addressed by instanceID.
func Rewrite(lm *linkmeta.LinkingMetadata, instanceID linkmeta.ModuleInstanceID) ([]byte, error) {
	Logger().Sugar().Debugf("rewriting instance %d", instanceID)

	inst, ok := lm.Instantiations[instanceID]
	if !ok {
		return nil, crimperrors.Invariant(crimperrors.PhaseRewrite, []string{"instances", fmt.Sprint(instanceID)}, "no instantiation metadata for this instance")
	}
	moduleID, ok := lm.InstanceMap[instanceID]
	if !ok {
		return nil, crimperrors.Invariant(crimperrors.PhaseRewrite, []string{"instances", fmt.Sprint(instanceID)}, "no module mapped to this instance")
	}
	mm, ok := lm.Modules[moduleID]
	if !ok {
		return nil, crimperrors.Invariant(crimperrors.PhaseRewrite, []string{"modules", fmt.Sprint(moduleID)}, "module metadata missing")
	}

	mod := cloneModule(mm.Core)
	name := instanceName(moduleID, instanceID)
	mod.Name = &name

	var adapters []ImportAdapter
	var counter uint32

	for id := 0; id < len(mod.Imports); id++ {
		impID := corewasm.ImportID(id)
		kind, ok := inst.Imports[impID]
		if !ok {
			return nil, crimperrors.Invariant(crimperrors.PhaseRewrite,
				[]string{"modules", fmt.Sprint(moduleID), "imports", fmt.Sprint(id)},
				"import slot has no resolved linking classification")
		}

		switch k := kind.(type) {
		case linkmeta.Builtin:
			mod.SetImport(impID, CustomSectionName, fmt.Sprintf("builtin%d", counter))
			counter++

		case linkmeta.TrueImport:
			var memExp, reallocExp *linkmeta.ModuleInstanceExport
			if k.Options != nil {
				if k.Options.PostReturn != nil {
					return nil, crimperrors.Invariant(crimperrors.PhaseRewrite,
						[]string{"modules", fmt.Sprint(moduleID), "imports", fmt.Sprint(id)},
						"a lowered import cannot carry a post-return option")
				}
				memExp, reallocExp = k.Options.Memory, k.Options.Realloc
			}
			mod.SetImport(impID, CustomSectionName, fmt.Sprintf("stub%d", counter))
			adapters = append(adapters, ImportAdapter{
				TargetImportID: uint32(id),
				Memory:         toWireExport(memExp),
				Realloc:        toWireExport(reallocExp),
			})
			counter++

		case linkmeta.Rename:
			peerModuleID, ok := lm.InstanceMap[k.Package]
			if !ok {
				return nil, crimperrors.Invariant(crimperrors.PhaseRewrite,
					[]string{"modules", fmt.Sprint(moduleID), "imports", fmt.Sprint(id)},
					"renamed import targets a module instance absent from the instance map")
			}
			mod.SetImport(impID, instanceName(peerModuleID, k.Package), k.Member)

		default:
			return nil, crimperrors.Invariant(crimperrors.PhaseRewrite,
				[]string{"modules", fmt.Sprint(moduleID), "imports", fmt.Sprint(id)}, "unknown import kind")
		}
	}

	exportMeta := lm.ExportFuncs[instanceID]
	exports := make([]ExportFunc, 0, len(exportMeta))
	for _, e := range exportMeta {
		exports = append(exports, ExportFunc{RecordID: e.RecordID, Name: e.Name, Options: toWireOptions(e.Options)})
	}

	section := &CrimpSection{
		Checksum:         lm.Checksum,
		InstanceID:       uint32(instanceID),
		InstantiateOrder: inst.InstantiateOrder,
		ImportAdapters:   adapters,
		Exports:          exports,
	}
	mod.AppendCustomSection(CustomSectionName, section.Encode())

	encoded := mod.Encode()
	if _, err := corewasm.ParseModuleValidate(encoded); err != nil {
		return nil, crimperrors.Invalid(crimperrors.PhaseEmit,
			fmt.Sprintf("rewritten module %s failed re-validation", name), err)
	}
	return encoded, nil
}

// Output is one rewritten module instance's bytes, alongside the name
// Rewrite gave it (module{m}_instance{i}), for callers that write one
// file per instance.
type Output struct {
	Name  string
	Bytes []byte
}

// RewriteAll rewrites every module instance in lm, in instantiation
// order, so a caller writing files sequentially reproduces the original
// graph's dependency order in its output listing.
func RewriteAll(lm *linkmeta.LinkingMetadata) ([]Output, error) {
	ids := make([]linkmeta.ModuleInstanceID, 0, len(lm.Instantiations))
	for id := range lm.Instantiations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return lm.Instantiations[ids[i]].InstantiateOrder < lm.Instantiations[ids[j]].InstantiateOrder
	})

	out := make([]Output, 0, len(ids))
	for _, id := range ids {
		bytes, err := Rewrite(lm, id)
		if err != nil {
			return nil, err
		}
		moduleID := lm.InstanceMap[id]
		out = append(out, Output{Name: instanceName(moduleID, id), Bytes: bytes})
	}
	return out, nil
}

func instanceName(moduleID linkmeta.ModuleID, instanceID linkmeta.ModuleInstanceID) string {
	return fmt.Sprintf("module%d_instance%d", moduleID, instanceID)
}

func cloneModule(m *corewasm.Module) *corewasm.Module {
	clone := *m
	clone.Imports = append([]corewasm.Import(nil), m.Imports...)
	clone.CustomSections = append([]corewasm.CustomSection(nil), m.CustomSections...)
	return &clone
}

func toWireExport(mie *linkmeta.ModuleInstanceExport) *ModuleInstanceExport {
	if mie == nil {
		return nil
	}
	return &ModuleInstanceExport{InstanceID: uint32(mie.Instance), ExportName: mie.Name}
}

func toWireOptions(idx *linkmeta.CanonicalOptionsIndex) *CanonicalOptions {
	if idx == nil {
		return nil
	}
	return &CanonicalOptions{
		Memory:     toWireExport(idx.Memory),
		Realloc:    toWireExport(idx.Realloc),
		PostReturn: toWireExport(idx.PostReturn),
	}
}
