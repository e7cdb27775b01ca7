package linkmeta

import (
	"fmt"

	"github.com/wippyai/crimp-decompose/component"
	crimperrors "github.com/wippyai/crimp-decompose/errors"
	"github.com/wippyai/crimp-decompose/internal/corewasm"
)

// maxChaseDepth bounds the from-exports indirection walk against
// cyclic/malformed input; a well-formed component never comes close.
const maxChaseDepth = 256

// Build links a parsed component into its LinkingMetadata: which module
// backs each instance, how each instance's imports are satisfied, and
// which instance backs each component-level export.
//
// Build asserts the component's own core-instance ordering is already a
// valid instantiation order (every Instantiated instance's args reference
// an earlier index) before trusting it; callers that skip
// component.ValidateInstantiationOrder upstream still get the check here.
func Build(comp *component.Component, checksum [32]byte) (*LinkingMetadata, error) {
	Logger().Sugar().Debugf("building linking metadata for %d core instance(s)", len(comp.CoreInstances))

	if err := component.ValidateInstantiationOrder(comp); err != nil {
		return nil, err
	}
	resolver := component.NewResolver(comp)

	lm := &LinkingMetadata{
		Checksum:       checksum,
		Modules:        map[ModuleID]*ModuleMetadata{},
		InstanceMap:    map[ModuleInstanceID]ModuleID{},
		Instantiations: map[ModuleInstanceID]*InstantiationMetadata{},
		ExportFuncs:    map[ModuleInstanceID][]ExportFuncMetadata{},
	}

	seenModule := map[ModuleID]ModuleInstanceID{}
	var order uint32

	for i, inst := range comp.CoreInstances {
		idx := uint32(i)

		switch inst.Kind {
		case component.CoreInstanceFromExportsNode:
			// Consumed directly as an instantiation arg's export source;
			// it never gets a ModuleInstanceID of its own.
			continue

		case component.CoreInstanceInstantiated:
			mid := ModuleID(inst.ModuleIndex)
			if prior, ok := seenModule[mid]; ok {
				return nil, crimperrors.Invariant(crimperrors.PhaseLink,
					[]string{"core-instances", fmt.Sprint(idx)},
					fmt.Sprintf("module %d instantiated more than once (already instance %d)", mid, prior))
			}
			seenModule[mid] = ModuleInstanceID(idx)
			lm.InstanceMap[ModuleInstanceID(idx)] = mid

			mm, ok := lm.Modules[mid]
			if !ok {
				var err error
				mm, err = buildModuleMetadata(resolver, mid)
				if err != nil {
					return nil, err
				}
				lm.Modules[mid] = mm
			}

			imports, err := linkInstantiation(comp, resolver, lm, mm, inst, idx)
			if err != nil {
				return nil, err
			}
			lm.Instantiations[ModuleInstanceID(idx)] = &InstantiationMetadata{
				InstantiateOrder: order,
				Imports:          imports,
			}
			order++

		default:
			return nil, crimperrors.Invariant(crimperrors.PhaseLink,
				[]string{"core-instances", fmt.Sprint(idx)}, "unknown core-instance node kind")
		}
	}

	if err := buildExportFuncs(comp, resolver, lm); err != nil {
		return nil, err
	}

	if len(lm.InstanceMap) != len(lm.Modules) {
		return nil, crimperrors.Invariant(crimperrors.PhaseLink, nil,
			"module-id to module-instance-id mapping is not one-to-one")
	}
	for instID := range lm.ExportFuncs {
		if _, ok := lm.Instantiations[instID]; !ok {
			return nil, crimperrors.Invariant(crimperrors.PhaseLink, nil,
				"export_funcs references a module instance absent from instantiations")
		}
	}

	return lm, nil
}

func buildModuleMetadata(resolver *component.Resolver, mid ModuleID) (*ModuleMetadata, error) {
	raw, err := resolver.ResolveModule(uint32(mid))
	if err != nil {
		return nil, err
	}
	mod, err := corewasm.ParseModuleValidate(raw)
	if err != nil {
		return nil, crimperrors.Wrap(crimperrors.PhaseLink, crimperrors.KindMalformed, err,
			fmt.Sprintf("module %d failed to parse", mid))
	}

	importMap := make(map[string]map[string]corewasm.ImportID)
	for i, imp := range mod.Imports {
		members, ok := importMap[imp.Module]
		if !ok {
			members = map[string]corewasm.ImportID{}
			importMap[imp.Module] = members
		}
		members[imp.Name] = corewasm.ImportID(i)
	}

	return &ModuleMetadata{ModuleID: mid, Core: mod, ImportIndexMap: importMap}, nil
}

// linkInstantiation classifies every import of the module backing inst
// (a CoreInstanceInstantiated node at core-instance index instIdx),
// matching each arg bundle's exports against the module's expected
// imports by name.
func linkInstantiation(comp *component.Component, resolver *component.Resolver, lm *LinkingMetadata, mm *ModuleMetadata, inst component.CoreInstanceNode, instIdx uint32) (map[corewasm.ImportID]ImportKind, error) {
	expected := make(map[string]map[string]corewasm.ImportID, len(mm.ImportIndexMap))
	for modName, members := range mm.ImportIndexMap {
		cp := make(map[string]corewasm.ImportID, len(members))
		for k, v := range members {
			cp[k] = v
		}
		expected[modName] = cp
	}

	if len(inst.Args) != len(expected) {
		return nil, crimperrors.Invariant(crimperrors.PhaseLink,
			[]string{"core-instances", fmt.Sprint(instIdx)},
			fmt.Sprintf("instantiation supplies %d arg(s) but module %d imports from %d distinct module name(s)",
				len(inst.Args), mm.ModuleID, len(expected)))
	}

	out := map[corewasm.ImportID]ImportKind{}

	for _, arg := range inst.Args {
		if arg.Kind != component.CoreInstantiateInstance {
			return nil, crimperrors.Unsupported(crimperrors.PhaseLink,
				[]string{"core-instances", fmt.Sprint(instIdx), arg.Name},
				"instantiation argument kind other than an instance reference is unsupported")
		}

		members, ok := expected[arg.Name]
		if !ok {
			return nil, crimperrors.Invariant(crimperrors.PhaseLink,
				[]string{"core-instances", fmt.Sprint(instIdx), arg.Name},
				"module does not import anything under this name")
		}
		delete(expected, arg.Name)

		exports, err := instanceExports(comp, lm, arg.InstanceIndex)
		if err != nil {
			return nil, err
		}
		for _, exp := range exports {
			impID, ok := members[exp.Name]
			if !ok {
				continue // export not needed by this import bundle
			}
			delete(members, exp.Name)

			kind, err := classifyExport(comp, resolver, arg.InstanceIndex, exp)
			if err != nil {
				return nil, err
			}
			out[impID] = kind
		}

		if len(members) > 0 {
			return nil, crimperrors.Invariant(crimperrors.PhaseLink,
				[]string{"core-instances", fmt.Sprint(instIdx), arg.Name},
				fmt.Sprintf("%d import member(s) left unsatisfied", len(members)))
		}
	}

	if len(expected) > 0 {
		return nil, crimperrors.Invariant(crimperrors.PhaseLink,
			[]string{"core-instances", fmt.Sprint(instIdx)},
			"not every imported module name was supplied an instantiation argument")
	}

	return out, nil
}

// instanceExports enumerates the named exports visible through core
// instance sourceIdx: a real module's export table when it was
// Instantiated (already linked earlier, by instantiation-order
// invariant), or the literal bundle when it is a from-exports instance.
func instanceExports(comp *component.Component, lm *LinkingMetadata, sourceIdx uint32) ([]component.CoreInstanceExport, error) {
	if int(sourceIdx) >= len(comp.CoreInstances) {
		return nil, crimperrors.OutOfBounds(crimperrors.PhaseLink, []string{"core-instances"}, int(sourceIdx), len(comp.CoreInstances))
	}
	inst := comp.CoreInstances[sourceIdx]

	switch inst.Kind {
	case component.CoreInstanceInstantiated:
		mid, ok := lm.InstanceMap[ModuleInstanceID(sourceIdx)]
		if !ok {
			return nil, crimperrors.Invariant(crimperrors.PhaseLink, []string{"core-instances", fmt.Sprint(sourceIdx)},
				"instantiation argument references a module instance that has not been linked yet")
		}
		mm := lm.Modules[mid]
		out := make([]component.CoreInstanceExport, len(mm.Core.Exports))
		for i, exp := range mm.Core.Exports {
			out[i] = component.CoreInstanceExport{Name: exp.Name, Kind: exp.Kind, Index: exp.Idx}
		}
		return out, nil

	case component.CoreInstanceFromExportsNode:
		return inst.Exports, nil

	default:
		return nil, crimperrors.Invariant(crimperrors.PhaseLink, []string{"core-instances", fmt.Sprint(sourceIdx)}, "unknown core-instance node kind")
	}
}

// classifyExport decides the ImportKind a matching import should take,
// given that it is satisfied by exp — one of sourceIdx's own exports (as
// enumerated by instanceExports).
func classifyExport(comp *component.Component, resolver *component.Resolver, sourceIdx uint32, exp component.CoreInstanceExport) (ImportKind, error) {
	switch exp.Kind {
	case component.CoreExportFunc:
		return classifyFuncArg(comp, resolver, sourceIdx, exp.Name, 0)
	case component.CoreExportTable:
		r, err := classifyAliasArg(comp, resolver, sourceIdx, exp.Name, component.CoreExportTable, 0)
		if err != nil {
			return nil, err
		}
		return r, nil
	case component.CoreExportMemory:
		r, err := classifyAliasArg(comp, resolver, sourceIdx, exp.Name, component.CoreExportMemory, 0)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, crimperrors.Unsupported(crimperrors.PhaseLink, []string{exp.Name}, "global and tag imports are unsupported")
	}
}

// classifyFuncArg resolves the func named name, reachable through core
// instance sourceIdx's export table, down to the ImportKind a consuming
// module's import of it should take.
func classifyFuncArg(comp *component.Component, resolver *component.Resolver, sourceIdx uint32, name string, depth int) (ImportKind, error) {
	if depth > maxChaseDepth {
		return nil, crimperrors.Invariant(crimperrors.PhaseLink, []string{"core-instances"}, "from-exports indirection chain exceeded maximum depth (cycle?)")
	}
	if int(sourceIdx) >= len(comp.CoreInstances) {
		return nil, crimperrors.OutOfBounds(crimperrors.PhaseLink, []string{"core-instances"}, int(sourceIdx), len(comp.CoreInstances))
	}
	inst := comp.CoreInstances[sourceIdx]

	if inst.Kind == component.CoreInstanceInstantiated {
		return Rename{Package: ModuleInstanceID(sourceIdx), Member: name}, nil
	}

	for _, e := range inst.Exports {
		if e.Name != name || e.Kind != component.CoreExportFunc {
			continue
		}
		rcf, err := resolver.ResolveCoreFunc(e.Index)
		if err != nil {
			return nil, err
		}
		return classifyResolvedFunc(comp, resolver, rcf, depth)
	}
	return nil, crimperrors.Invariant(crimperrors.PhaseLink,
		[]string{"core-instances", fmt.Sprint(sourceIdx)}, fmt.Sprintf("export %q (func) not found", name))
}

// classifyResolvedFunc classifies an already-resolved core func.
func classifyResolvedFunc(comp *component.Component, resolver *component.Resolver, rcf *component.ResolvedCoreFunc, depth int) (ImportKind, error) {
	switch rcf.Kind {
	case component.CoreFuncAliasedExport:
		return classifyFuncArg(comp, resolver, rcf.CoreInstanceIndex, rcf.ExportName, depth+1)

	case component.CoreFuncLowered:
		if rcf.Lowered.Kind != component.FuncImported {
			return nil, crimperrors.Unsupported(crimperrors.PhaseLink, []string{"core-funcs"},
				"canon lower of a non-imported component function is unsupported")
		}
		opts, err := buildCanonicalOptionsIndex(comp, resolver, rcf.Options, depth+1)
		if err != nil {
			return nil, err
		}
		return TrueImport{Options: opts}, nil

	case component.CoreFuncResourceDropFn:
		return Builtin{}, nil

	case component.CoreFuncResourceNewFn, component.CoreFuncResourceRepFn:
		return nil, crimperrors.Unsupported(crimperrors.PhaseLink, []string{"core-funcs"}, "resource.new/resource.rep imports are unsupported")

	default:
		return nil, crimperrors.Invariant(crimperrors.PhaseLink, []string{"core-funcs"}, "unknown resolved core-func kind")
	}
}

// classifyAliasArg resolves a table/memory export reachable through core
// instance sourceIdx: always a Rename, since tables and memories never
// pass through the canonical ABI.
func classifyAliasArg(comp *component.Component, resolver *component.Resolver, sourceIdx uint32, name string, wantKind byte, depth int) (Rename, error) {
	if depth > maxChaseDepth {
		return Rename{}, crimperrors.Invariant(crimperrors.PhaseLink, []string{"core-instances"}, "from-exports indirection chain exceeded maximum depth (cycle?)")
	}
	if int(sourceIdx) >= len(comp.CoreInstances) {
		return Rename{}, crimperrors.OutOfBounds(crimperrors.PhaseLink, []string{"core-instances"}, int(sourceIdx), len(comp.CoreInstances))
	}
	inst := comp.CoreInstances[sourceIdx]

	if inst.Kind == component.CoreInstanceInstantiated {
		return Rename{Package: ModuleInstanceID(sourceIdx), Member: name}, nil
	}

	for _, e := range inst.Exports {
		if e.Name != name || e.Kind != wantKind {
			continue
		}
		var (
			rce *component.ResolvedCoreExport
			err error
		)
		switch wantKind {
		case component.CoreExportMemory:
			rce, err = resolver.ResolveCoreMemory(e.Index)
		case component.CoreExportTable:
			rce, err = resolver.ResolveCoreTable(e.Index)
		}
		if err != nil {
			return Rename{}, err
		}
		return classifyAliasArg(comp, resolver, rce.CoreInstanceIndex, rce.ExportName, wantKind, depth+1)
	}
	return Rename{}, crimperrors.Invariant(crimperrors.PhaseLink,
		[]string{"core-instances", fmt.Sprint(sourceIdx)}, fmt.Sprintf("export %q not found", name))
}

// buildCanonicalOptionsIndex resolves a canon lift/lower's options into a
// CanonicalOptionsIndex. UTF8/UTF16/compact-UTF16 carry no module-instance
// reference and are no-ops here.
func buildCanonicalOptionsIndex(comp *component.Component, resolver *component.Resolver, opts []component.CanonOption, depth int) (*CanonicalOptionsIndex, error) {
	idx := &CanonicalOptionsIndex{}
	for _, opt := range opts {
		switch opt.Kind {
		case component.CanonOptUTF8, component.CanonOptUTF16, component.CanonOptCompactUTF16:
			// no-op: string encoding isn't tracked in the linking metadata

		case component.CanonOptMemory:
			rce, err := resolver.ResolveCoreMemory(opt.Index)
			if err != nil {
				return nil, err
			}
			r, err := classifyAliasArg(comp, resolver, rce.CoreInstanceIndex, rce.ExportName, component.CoreExportMemory, depth)
			if err != nil {
				return nil, err
			}
			idx.Memory = &ModuleInstanceExport{Instance: r.Package, Name: r.Member}

		case component.CanonOptRealloc:
			mie, err := resolveFuncOption(comp, resolver, opt.Index, depth)
			if err != nil {
				return nil, err
			}
			idx.Realloc = mie

		case component.CanonOptPostReturn:
			mie, err := resolveFuncOption(comp, resolver, opt.Index, depth)
			if err != nil {
				return nil, err
			}
			idx.PostReturn = mie

		default:
			return nil, crimperrors.Unsupported(crimperrors.PhaseLink, []string{"canon-options"},
				fmt.Sprintf("canonical option kind 0x%02x is unsupported", opt.Kind))
		}
	}
	return idx, nil
}

// resolveFuncOption resolves a realloc/post-return canon option: it must
// terminate at a real module export, never a canon-lowered import or a
// resource builtin.
func resolveFuncOption(comp *component.Component, resolver *component.Resolver, coreFuncIndex uint32, depth int) (*ModuleInstanceExport, error) {
	rcf, err := resolver.ResolveCoreFunc(coreFuncIndex)
	if err != nil {
		return nil, err
	}
	kind, err := classifyResolvedFunc(comp, resolver, rcf, depth)
	if err != nil {
		return nil, err
	}
	rn, ok := kind.(Rename)
	if !ok {
		return nil, crimperrors.Unsupported(crimperrors.PhaseLink, []string{"canon-options"},
			"realloc/post-return must reference a real module export")
	}
	return &ModuleInstanceExport{Instance: rn.Package, Name: rn.Member}, nil
}

// buildExportFuncs builds the component-level function exports: each
// must be a canon lift whose core function originates from a module
// export, and is recorded against the module instance that backs it.
func buildExportFuncs(comp *component.Component, resolver *component.Resolver, lm *LinkingMetadata) error {
	var recordID uint32
	for _, exp := range comp.Exports {
		if exp.Sort != component.SortFunc {
			continue
		}
		rf, err := resolver.ResolveComponentFunc(exp.SortIndex)
		if err != nil {
			return err
		}
		if rf.Kind != component.FuncLifted {
			return crimperrors.Unsupported(crimperrors.PhaseLink, []string{"exports", exp.Name}, "exported function must be a canon lift")
		}

		rcf, err := resolver.ResolveCoreFunc(rf.Lift.CoreFuncIndex)
		if err != nil {
			return err
		}
		if rcf.Kind != component.CoreFuncAliasedExport {
			return crimperrors.Unsupported(crimperrors.PhaseLink, []string{"exports", exp.Name}, "exported function's core function must originate from a module export")
		}

		kind, err := classifyFuncArg(comp, resolver, rcf.CoreInstanceIndex, rcf.ExportName, 0)
		if err != nil {
			return err
		}
		rn, ok := kind.(Rename)
		if !ok {
			return crimperrors.Unsupported(crimperrors.PhaseLink, []string{"exports", exp.Name}, "exported function must originate from a module export")
		}

		opts, err := buildCanonicalOptionsIndex(comp, resolver, rf.Lift.Options, 0)
		if err != nil {
			return err
		}

		lm.ExportFuncs[rn.Package] = append(lm.ExportFuncs[rn.Package], ExportFuncMetadata{
			RecordID: recordID,
			Name:     exp.Name,
			Options:  opts,
		})
		recordID++
	}
	return nil
}
