// Package linkmeta builds the linking metadata that ties a parsed
// Component IR's module instantiations together: which module backs each
// instance, how each of a module's imports is satisfied (by a peer
// instance's export, by a canon-lowered component import, or by a
// resource builtin), and which instance backs each component-level
// export. rewrite.Rewrite consumes this metadata to produce the
// per-instance core modules that replay the graph without a component
// runtime.
package linkmeta

import (
	"github.com/wippyai/crimp-decompose/internal/corewasm"
)

// ModuleID addresses an entry in the component's "modules" index space
// (always a ModuleDefined node — this tool never links an aliased
// module).
type ModuleID uint32

// ModuleInstanceID addresses an Instantiated entry in the component's
// core-instances index space.
type ModuleInstanceID uint32

// ModuleMetadata caches a module's decoded form and its import bookkeeping.
type ModuleMetadata struct {
	ModuleID ModuleID
	Core     *corewasm.Module

	// ImportIndexMap maps an import's (module-name, member-name) pair to
	// the ImportID of the matching entry in Core.Imports.
	ImportIndexMap map[string]map[string]corewasm.ImportID
}

// ModuleInstanceExport names a single export of a module instance: the
// instance that owns it and the export's name within that module.
type ModuleInstanceExport struct {
	Instance ModuleInstanceID
	Name     string
}

// CanonicalOptionsIndex resolves a canon lift/lower's memory, realloc, and
// post-return options down to the module-instance export that backs each
// one. A nil field means that option was absent.
type CanonicalOptionsIndex struct {
	Memory     *ModuleInstanceExport
	Realloc    *ModuleInstanceExport
	PostReturn *ModuleInstanceExport
}

// ImportKind classifies how a single module import is satisfied once the
// component's wiring has been fully resolved.
type ImportKind interface {
	isImportKind()
}

// TrueImport marks an import that crosses the canonical ABI boundary: the
// underlying component function is itself Imported (comes from outside
// the component entirely), so the rewritten module must keep importing
// it, routed through a stub that carries the resolved canonical options.
type TrueImport struct {
	Options *CanonicalOptionsIndex
}

func (TrueImport) isImportKind() {}

// Builtin marks an import satisfied by a canonical-ABI builtin
// (resource.drop) rather than by any module's code.
type Builtin struct{}

func (Builtin) isImportKind() {}

// Rename marks an import satisfied by another module instance's export:
// the rewritten module should import it from that peer instance instead.
type Rename struct {
	Package ModuleInstanceID
	Member  string
}

func (Rename) isImportKind() {}

// InstantiationMetadata describes how one module instance's imports are
// wired, and where it falls in the instantiation order.
type InstantiationMetadata struct {
	InstantiateOrder uint32
	Imports          map[corewasm.ImportID]ImportKind
}

// ExportFuncMetadata describes one component-level function export as
// seen from the module instance whose export backs it.
type ExportFuncMetadata struct {
	RecordID uint32
	Name     string
	Options  *CanonicalOptionsIndex
}

// LinkingMetadata is the complete result of linking a parsed component: a
// checksum of the original input, every module touched, the instance
// each module occupies, how each instance's imports resolve, and which
// instance backs each component export.
type LinkingMetadata struct {
	Checksum [32]byte

	Modules        map[ModuleID]*ModuleMetadata
	InstanceMap    map[ModuleInstanceID]ModuleID
	Instantiations map[ModuleInstanceID]*InstantiationMetadata
	ExportFuncs    map[ModuleInstanceID][]ExportFuncMetadata
}
