package component

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	crimperrors "github.com/wippyai/crimp-decompose/errors"
)

// externDesc kinds (component-level import/export extern kind byte)
const (
	ExternCoreModule byte = 0x00
	ExternFunc       byte = 0x01
	ExternValue      byte = 0x02
	ExternType       byte = 0x03
	ExternComponent  byte = 0x04
	ExternInstance   byte = 0x05
)

// Sort kinds (component-level alias/export sort byte)
const (
	SortCore      byte = 0x00
	SortFunc      byte = 0x01
	SortValue     byte = 0x02
	SortType      byte = 0x03
	SortComponent byte = 0x04
	SortInstance  byte = 0x05
)

// maxNameLength bounds allocations to prevent OOM from malformed binaries.
const maxNameLength = 100000

// IsComponent reports whether data begins with the Component Model binary
// preamble (magic + a layer-2-or-above version field).
func IsComponent(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	if data[0] != 0x00 || data[1] != 0x61 || data[2] != 0x73 || data[3] != 0x6D {
		return false
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	return version > 1
}

// Parse decodes a Component Model binary into the Component IR, rejecting
// anything outside the supported feature set (spec.md §1 Non-goals) as an
// unsupported-feature error rather than silently dropping it.
func Parse(data []byte) (*Component, error) {
	if !IsComponent(data) {
		return nil, crimperrors.Malformed(crimperrors.PhaseParse, nil, "not a component binary (bad magic/version)")
	}

	Logger().Sugar().Debugf("parsing component (%d bytes)", len(data))

	r := getReader(data[8:])
	defer putReader(r)

	comp := &Component{}

	sectionCount := 0
	const maxSections = 100000

	for {
		sectionCount++
		if sectionCount > maxSections {
			return nil, crimperrors.Malformed(crimperrors.PhaseParse, nil, fmt.Sprintf("exceeded maximum section count %d", maxSections))
		}

		sectionID, err := readByte(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read section ID")
		}

		size, err := readLEB128(r)
		if err != nil {
			return nil, crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read section size")
		}
		if size > uint32(len(data)) {
			return nil, crimperrors.Malformed(crimperrors.PhaseParse, nil, fmt.Sprintf("section %d size %d exceeds component size %d", sectionCount, size, len(data)))
		}

		sectionData := make([]byte, size)
		if _, err := io.ReadFull(r, sectionData); err != nil {
			return nil, crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read section data")
		}

		path := []string{"section", fmt.Sprint(sectionID)}

		switch sectionID {
		case 0:
			cs, err := decodeCustomSection(sectionData)
			if err != nil {
				return nil, crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "decode custom section")
			}
			comp.CustomSections = append(comp.CustomSections, cs)

		case 1: // Core Module Section — always Defined; imported core modules are unsupported.
			comp.Modules = append(comp.Modules, ModuleNode{Kind: ModuleDefined, Bytes: sectionData})

		case 2: // Core Instance Section
			parsed, err := ParseCoreInstanceSection(sectionData)
			if err != nil {
				return nil, crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "parse core instance section")
			}
			for _, p := range parsed {
				switch p.Kind {
				case CoreInstanceInstantiate:
					comp.CoreInstances = append(comp.CoreInstances, CoreInstanceNode{
						Kind:        CoreInstanceInstantiated,
						ModuleIndex: p.ModuleIndex,
						Args:        p.Args,
					})
				case CoreInstanceFromExports:
					comp.CoreInstances = append(comp.CoreInstances, CoreInstanceNode{
						Kind:    CoreInstanceFromExportsNode,
						Exports: p.Exports,
					})
					if err := registerFromExportsNodes(comp, p.Exports); err != nil {
						return nil, err
					}
				default:
					return nil, crimperrors.Unsupported(crimperrors.PhaseParse, path, fmt.Sprintf("core instance kind 0x%02x", p.Kind))
				}
			}

		case 3: // Core Type Section — left opaque, counted only.
			for _, raw := range splitCoreTypeVec(sectionData) {
				comp.CoreTypes = append(comp.CoreTypes, CoreTypeNode{RawData: raw})
			}

		case 4: // Component Section — a literal nested component is unsupported.
			return nil, crimperrors.Unsupported(crimperrors.PhaseParse, path, "nested components")

		case 5: // Instance Section (component-level) — Instantiate/FromExports entries are unsupported.
			if err := parseComponentInstanceSection(comp, sectionData); err != nil {
				return nil, err
			}

		case 6: // Alias Section
			if err := parseAliasSectionInto(comp, sectionData); err != nil {
				return nil, err
			}

		case 7: // Type Section — left opaque, counted only.
			for _, raw := range splitCoreTypeVec(sectionData) {
				comp.Types = append(comp.Types, TypeNode{RawData: raw})
			}

		case 8: // Canon Section
			canon, err := ParseCanonSection(sectionData)
			if err != nil {
				return nil, crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "parse canon section")
			}
			if err := registerCanon(comp, canon); err != nil {
				return nil, err
			}

		case 9: // Start Section
			start, err := parseStartSection(sectionData)
			if err != nil {
				return nil, crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "parse start section")
			}
			if len(start.Args) > 0 {
				return nil, crimperrors.Unsupported(crimperrors.PhaseParse, path, "start function with value arguments")
			}
			comp.Start = start

		case 10: // Import Section
			imports, err := decodeComponentImports(sectionData)
			if err != nil {
				return nil, crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "decode imports")
			}
			for _, imp := range imports {
				comp.Imports = append(comp.Imports, imp)
				switch imp.ExternKind {
				case ExternInstance:
					comp.Instances = append(comp.Instances, InstanceNode{Kind: InstanceImported, ImportName: imp.Name})
				case ExternFunc:
					comp.Funcs = append(comp.Funcs, FuncNode{Kind: FuncImported, ImportName: imp.Name})
				case ExternComponent:
					comp.Components = append(comp.Components, ComponentNode{Kind: ComponentImported, ImportName: imp.Name})
				case ExternType:
					comp.Types = append(comp.Types, TypeNode{})
				case ExternCoreModule:
					return nil, crimperrors.Unsupported(crimperrors.PhaseParse, path, "imported core module")
				case ExternValue:
					return nil, crimperrors.Unsupported(crimperrors.PhaseParse, path, "imported value")
				}
			}

		case 11: // Export Section
			exports, err := decodeComponentExports(sectionData)
			if err != nil {
				return nil, crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "decode exports")
			}
			comp.Exports = append(comp.Exports, exports...)
		}
	}

	if len(comp.Modules) == 0 {
		return nil, crimperrors.Malformed(crimperrors.PhaseParse, nil, "no core modules found in component")
	}

	return comp, nil
}

func registerFromExportsNodes(comp *Component, exports []CoreInstanceExport) error {
	// FromExports entries produce no new index-space entries beyond the
	// core-instance itself; memories/tables/globals/funcs reachable
	// through it are addressed via alias, not directly registered here.
	return nil
}

func registerCanon(comp *Component, canon *CanonDef) error {
	path := []string{"canon"}
	switch canon.Kind {
	case CanonLift:
		comp.Funcs = append(comp.Funcs, FuncNode{
			Kind: FuncLifted,
			Lift: &LiftedFunc{
				CoreFuncIndex: canon.FuncIndex,
				Options:       canon.Options,
				TypeIndex:     canon.TypeIndex,
			},
		})
	case CanonLower:
		comp.CoreFuncs = append(comp.CoreFuncs, CoreFuncNode{
			Kind:  CoreFuncLowered,
			Lower: &LoweredFunc{FuncIndex: canon.FuncIndex, Options: canon.Options},
		})
	case CanonResourceDrop:
		comp.CoreFuncs = append(comp.CoreFuncs, CoreFuncNode{Kind: CoreFuncResourceDropFn, ResourceID: canon.ResourceType})
	case CanonResourceNew:
		comp.CoreFuncs = append(comp.CoreFuncs, CoreFuncNode{Kind: CoreFuncResourceNewFn, ResourceID: canon.ResourceType})
	case CanonResourceRep:
		comp.CoreFuncs = append(comp.CoreFuncs, CoreFuncNode{Kind: CoreFuncResourceRepFn, ResourceID: canon.ResourceType})
	default:
		return crimperrors.Unsupported(crimperrors.PhaseParse, path, fmt.Sprintf("canon kind 0x%02x", canon.Kind))
	}
	return nil
}

func parseComponentInstanceSection(comp *Component, data []byte) error {
	r := getReader(data)
	defer putReader(r)

	count, err := readLEB128(r)
	if err != nil {
		return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read component instance count")
	}

	path := []string{"instances"}
	for i := uint32(0); i < count; i++ {
		kind, err := readByte(r)
		if err != nil {
			return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read component instance kind")
		}
		switch kind {
		case 0x00: // instantiate
			return crimperrors.Unsupported(crimperrors.PhaseParse, path, "in-line component instance instantiation")
		case 0x01: // from-exports
			return crimperrors.Unsupported(crimperrors.PhaseParse, path, "in-line component instance from-exports")
		default:
			return crimperrors.Unsupported(crimperrors.PhaseParse, path, fmt.Sprintf("component instance kind 0x%02x", kind))
		}
	}
	return nil
}

func parseAliasSectionInto(comp *Component, data []byte) error {
	r := getReader(data)
	defer putReader(r)

	count, err := readLEB128(r)
	if err != nil {
		return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read alias count")
	}

	path := []string{"aliases"}
	for i := uint32(0); i < count; i++ {
		sort, err := readByte(r)
		if err != nil {
			return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read alias sort")
		}

		var coreSort byte
		if sort == SortCore {
			coreSort, err = readByte(r)
			if err != nil {
				return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read alias core:sort")
			}
		}

		targetKind, err := readByte(r)
		if err != nil {
			return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read alias target kind")
		}

		var info AliasInfo
		switch targetKind {
		case 0x00, 0x01: // instance-export / core-instance-export
			instIdx, err := readLEB128(r)
			if err != nil {
				return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read alias instance index")
			}
			name, err := readName(r)
			if err != nil {
				return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read alias export name")
			}
			kind := AliasInstanceExport
			if targetKind == 0x01 {
				kind = AliasCoreInstanceExport
			}
			info = AliasInfo{Kind: kind, InstanceIndex: instIdx, ExportName: name, TargetSort: sort}
			if sort == SortCore {
				info.TargetSort = coreSort
			}

		case 0x02: // outer
			ct, err := readLEB128(r)
			if err != nil {
				return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read alias outer count")
			}
			idx, err := readLEB128(r)
			if err != nil {
				return crimperrors.Wrap(crimperrors.PhaseParse, crimperrors.KindMalformed, err, "read alias outer index")
			}
			if ct == 0 {
				return crimperrors.Malformed(crimperrors.PhaseParse, path, "outer alias count must be >= 1 (0 means 'this scope', which isn't an outer alias)")
			}
			info = AliasInfo{Kind: AliasOuter, OuterCount: ct, OuterIndex: idx}

		default:
			return crimperrors.Malformed(crimperrors.PhaseParse, path, fmt.Sprintf("unknown alias target kind 0x%02x", targetKind))
		}

		if err := appendAliasNode(comp, sort, coreSort, info); err != nil {
			return err
		}
	}
	return nil
}

// appendAliasNode places an alias into the index space its sort addresses.
func appendAliasNode(comp *Component, sort, coreSort byte, info AliasInfo) error {
	path := []string{"aliases"}
	if sort == SortCore {
		switch coreSort {
		case 0x00: // func
			comp.CoreFuncs = append(comp.CoreFuncs, CoreFuncNode{Kind: CoreFuncAliasedExport, Alias: info})
		case 0x01: // table
			comp.CoreTables = append(comp.CoreTables, CoreTableNode{Alias: info})
		case 0x02: // memory
			comp.CoreMemories = append(comp.CoreMemories, CoreMemoryNode{Alias: info})
		case 0x03: // global
			comp.CoreGlobals = append(comp.CoreGlobals, CoreGlobalNode{Alias: info})
		case 0x04: // module
			comp.Modules = append(comp.Modules, ModuleNode{Kind: ModuleAliased, Alias: info})
		default:
			return crimperrors.Unsupported(crimperrors.PhaseParse, path, fmt.Sprintf("core alias sort 0x%02x", coreSort))
		}
		return nil
	}

	switch sort {
	case SortFunc:
		comp.Funcs = append(comp.Funcs, FuncNode{Kind: FuncAliased, Alias: info})
	case SortInstance:
		comp.Instances = append(comp.Instances, InstanceNode{Kind: InstanceAliased, Alias: info})
	case SortComponent:
		comp.Components = append(comp.Components, ComponentNode{Kind: ComponentAliased, Alias: info})
	case SortType:
		comp.Types = append(comp.Types, TypeNode{})
	case SortValue:
		return crimperrors.Unsupported(crimperrors.PhaseParse, path, "value alias")
	default:
		return crimperrors.Malformed(crimperrors.PhaseParse, path, fmt.Sprintf("unknown alias sort 0x%02x", sort))
	}
	return nil
}

func decodeCustomSection(data []byte) (CustomSection, error) {
	r := getReader(data)
	defer putReader(r)

	nameLen, err := readLEB128(r)
	if err != nil {
		return CustomSection{}, fmt.Errorf("read custom section name length: %w", err)
	}
	if nameLen > maxNameLength || nameLen > uint32(len(data)) {
		return CustomSection{}, fmt.Errorf("custom section name length %d out of range", nameLen)
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return CustomSection{}, fmt.Errorf("read custom section name: %w", err)
	}
	remaining := make([]byte, r.Len())
	if _, err := io.ReadFull(r, remaining); err != nil && !errors.Is(err, io.EOF) {
		return CustomSection{}, fmt.Errorf("read custom section data: %w", err)
	}
	return CustomSection{Name: string(nameBytes), Data: remaining}, nil
}

func parseStartSection(data []byte) (*StartFunc, error) {
	r := getReader(data)
	defer putReader(r)

	funcIdx, err := readLEB128(r)
	if err != nil {
		return nil, fmt.Errorf("read func index: %w", err)
	}
	argCount, err := readLEB128(r)
	if err != nil {
		return nil, fmt.Errorf("read arg count: %w", err)
	}
	args := make([]uint32, argCount)
	for i := uint32(0); i < argCount; i++ {
		if args[i], err = readLEB128(r); err != nil {
			return nil, fmt.Errorf("read arg %d: %w", i, err)
		}
	}
	results, err := readLEB128(r)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return &StartFunc{FuncIndex: funcIdx, Args: args, Results: results}, nil
}

func decodeComponentImports(data []byte) ([]ComponentImport, error) {
	r := getReader(data)
	defer putReader(r)

	count, err := readLEB128(r)
	if err != nil {
		return nil, err
	}
	if count > 100000 {
		return nil, fmt.Errorf("import count %d exceeds maximum", count)
	}

	imports := make([]ComponentImport, 0, count)
	for i := uint32(0); i < count; i++ {
		if _, err := readByte(r); err != nil { // name kind
			return nil, fmt.Errorf("import %d: read name kind: %w", i, err)
		}
		name, err := readName(r)
		if err != nil {
			return nil, fmt.Errorf("import %d: read name: %w", i, err)
		}

		externKind, err := readByte(r)
		if err != nil {
			return nil, fmt.Errorf("import %d: read extern kind: %w", i, err)
		}

		if externKind == ExternCoreModule {
			extra, err := readByte(r)
			if err != nil {
				return nil, fmt.Errorf("import %d: read core module extra byte: %w", i, err)
			}
			if extra != 0x11 {
				return nil, fmt.Errorf("import %d: expected 0x11 after 0x00, got 0x%02x", i, extra)
			}
		}

		var typeIndex uint32
		if externKind == ExternType {
			boundsKind, err := readByte(r)
			if err != nil {
				return nil, fmt.Errorf("import %d: read type bounds kind: %w", i, err)
			}
			switch boundsKind {
			case 0x00:
				if typeIndex, err = readLEB128(r); err != nil {
					return nil, fmt.Errorf("import %d: read type bounds index: %w", i, err)
				}
			case 0x01:
				typeIndex = 0
			default:
				return nil, fmt.Errorf("import %d: unknown type bounds kind 0x%02x", i, boundsKind)
			}
		} else {
			if typeIndex, err = readLEB128(r); err != nil {
				return nil, fmt.Errorf("import %d: read type index: %w", i, err)
			}
		}

		imports = append(imports, ComponentImport{Name: name, ExternKind: externKind, TypeIndex: typeIndex})
	}
	return imports, nil
}

func decodeComponentExports(data []byte) ([]ComponentExport, error) {
	r := getReader(data)
	defer putReader(r)

	count, err := readLEB128(r)
	if err != nil {
		return nil, err
	}
	if count > 100000 {
		return nil, fmt.Errorf("export count %d exceeds maximum", count)
	}

	exports := make([]ComponentExport, 0, count)
	for i := uint32(0); i < count; i++ {
		if _, err := readByte(r); err != nil { // name kind
			return nil, fmt.Errorf("export %d: read name kind: %w", i, err)
		}
		name, err := readName(r)
		if err != nil {
			return nil, fmt.Errorf("export %d: read name: %w", i, err)
		}

		sort, err := readByte(r)
		if err != nil {
			return nil, fmt.Errorf("export %d: read sort: %w", i, err)
		}
		if sort == SortCore {
			if _, err := readByte(r); err != nil {
				return nil, fmt.Errorf("export %d: read core sort: %w", i, err)
			}
		}

		sortIndex, err := readLEB128(r)
		if err != nil {
			return nil, fmt.Errorf("export %d: read sort index: %w", i, err)
		}

		exports = append(exports, ComponentExport{Name: name, Sort: sort, SortIndex: sortIndex})
	}
	return exports, nil
}

// splitCoreTypeVec reports how many type-space entries a type section
// contributes, without interpreting the WIT/core type grammar of any
// individual entry (this tool never structurally resolves types — it
// only needs correct index-space sizes for alias/outer bounds checks).
// The section's leading vec count is trusted; all but the first returned
// entry carry no data, since per-entry byte ranges are never needed.
func splitCoreTypeVec(data []byte) [][]byte {
	r := getReader(data)
	defer putReader(r)
	count, err := readLEB128(r)
	if err != nil || count == 0 {
		return nil
	}
	entries := make([][]byte, count)
	entries[0] = data
	return entries
}

func readLEB128(r io.Reader) (uint32, error) {
	var result uint32
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := readByte(r)
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 32 {
			return 0, fmt.Errorf("LEB128 value too large")
		}
	}
	return 0, fmt.Errorf("LEB128 encoding exceeded maximum length")
}
