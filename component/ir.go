package component

import "fmt"

// Component is the decoded Component IR: twelve index spaces (six at the
// component level, six at the core level), each an ordered, append-only
// slice of tagged Node values addressed by position.
//
// Only the subset of the Component Model binary format this tool supports
// is represented. Constructs outside that subset (nested components,
// imported core modules, tag/value index spaces, canonical options beyond
// memory/realloc/post-return/utf8/utf16, resource ops beyond
// resource.drop) are rejected by the parser before a Component value is
// ever produced — see Parse in decoder.go.
type Component struct {
	// Component-level index spaces.
	Modules    []ModuleNode
	Components []ComponentNode
	Instances  []InstanceNode
	Funcs      []FuncNode
	Values     []ValueNode
	Types      []TypeNode

	// Core-level index spaces.
	CoreInstances []CoreInstanceNode
	CoreFuncs     []CoreFuncNode
	CoreMemories  []CoreMemoryNode
	CoreTables    []CoreTableNode
	CoreGlobals   []CoreGlobalNode
	CoreTypes     []CoreTypeNode

	Start          *StartFunc
	Imports        []ComponentImport
	Exports        []ComponentExport
	CustomSections []CustomSection
}

// --- Component-level "modules" index space ---

type ModuleNodeKind byte

const (
	// ModuleDefined is a core module embedded directly (Core Module
	// Section, id 1). Imported core modules are unsupported.
	ModuleDefined ModuleNodeKind = iota
	ModuleAliased
)

type ModuleNode struct {
	Kind  ModuleNodeKind
	Bytes []byte    // populated when Kind == ModuleDefined: the raw core-module binary
	Alias AliasInfo // populated when Kind == ModuleAliased
}

// --- Component-level "components" index space ---

// ComponentNodeKind enumerates how a components-space entry arose. Only
// ComponentImported and ComponentAliased are ever produced — a literal
// nested Component Section makes the input unsupported, per spec.
type ComponentNodeKind byte

const (
	ComponentImported ComponentNodeKind = iota
	ComponentAliased
)

type ComponentNode struct {
	Kind       ComponentNodeKind
	ImportName string // populated when Kind == ComponentImported
	Alias      AliasInfo
}

// --- Component-level "instances" index space ---

// InstanceNodeKind enumerates how a component-level instance arose.
// Instantiated and FromExports component instances (a literal
// Instantiate/FromExports entry in the component Instance Section) are
// unsupported; only instances that arrive via import or alias are ever
// produced by the parser.
type InstanceNodeKind byte

const (
	InstanceImported InstanceNodeKind = iota
	InstanceAliased
)

type InstanceNode struct {
	Kind       InstanceNodeKind
	ImportName string
	Alias      AliasInfo
}

// --- Component-level "funcs" index space ---

type FuncNodeKind byte

const (
	FuncLifted FuncNodeKind = iota // canon lift
	FuncImported
	FuncAliased
)

type FuncNode struct {
	Kind       FuncNodeKind
	ImportName string
	Alias      AliasInfo
	Lift       *LiftedFunc // populated when Kind == FuncLifted
}

// LiftedFunc records a canon lift: the core function it wraps and the
// canonical options that governed the lift.
type LiftedFunc struct {
	CoreFuncIndex uint32
	Options       []CanonOption
	TypeIndex     uint32
}

// --- Component-level "values" index space (Non-goal: left opaque) ---

type ValueNode struct {
	// Values are never resolved by this tool (tag/value index spaces are
	// out of scope); a non-empty Values space that a reachable node
	// actually depends on causes an unsupported-feature error.
}

// --- Component-level "types" index space (left opaque: this tool never
// structurally resolves WIT value types, only counts them for bounds
// checking alias/import type references) ---

type TypeNode struct {
	RawData []byte
}

// --- Core-level "instances" index space ---

type CoreInstanceNodeKind byte

const (
	CoreInstanceInstantiated CoreInstanceNodeKind = iota
	CoreInstanceFromExportsNode
)

type CoreInstanceNode struct {
	Kind        CoreInstanceNodeKind
	ModuleIndex uint32               // populated when Kind == CoreInstanceInstantiated
	Args        []CoreInstanceArg    // populated when Kind == CoreInstanceInstantiated
	Exports     []CoreInstanceExport // populated when Kind == CoreInstanceFromExportsNode
}

// --- Core-level "funcs" index space ---

type CoreFuncNodeKind byte

const (
	CoreFuncAliasedExport CoreFuncNodeKind = iota
	CoreFuncLowered
	CoreFuncResourceDropFn
	// CoreFuncResourceNewFn and CoreFuncResourceRepFn are recognized so the
	// parser doesn't reject a component purely for declaring them, but any
	// import that resolves to one of them is rejected downstream as
	// unsupported (see classifyResolvedFunc in linkmeta/builder.go), per the resource.new/resource.rep
	// Non-goal.
	CoreFuncResourceNewFn
	CoreFuncResourceRepFn
)

type CoreFuncNode struct {
	Kind       CoreFuncNodeKind
	Alias      AliasInfo   // populated when Kind == CoreFuncAliasedExport
	Lower      *LoweredFunc // populated when Kind == CoreFuncLowered
	ResourceID uint32       // populated for the resource.* kinds
}

// LoweredFunc records a canon lower: the component function it wraps and
// the canonical options that governed the lower.
type LoweredFunc struct {
	FuncIndex uint32
	Options   []CanonOption
}

// --- Core-level "memories"/"tables"/"globals" index spaces: every entry
// this tool needs to resolve arrives as an alias to a core-instance
// export (a module never imports a bare memory/table/global from the
// component level in the inputs this tool accepts) ---

type CoreMemoryNode struct{ Alias AliasInfo }
type CoreTableNode struct{ Alias AliasInfo }
type CoreGlobalNode struct{ Alias AliasInfo }

// --- Core-level "types" index space (left opaque; only used for bounds
// checking) ---

type CoreTypeNode struct {
	RawData []byte
}

// --- Alias info: three variants per spec, tagged via Kind ---

type AliasKind byte

const (
	AliasInstanceExport AliasKind = iota
	AliasCoreInstanceExport
	AliasOuter
)

// AliasInfo is the resolved shape of a Component Model alias (Section 6
// entry). Exactly one of the field groups below is populated, selected by
// Kind.
type AliasInfo struct {
	Kind AliasKind

	// AliasInstanceExport / AliasCoreInstanceExport
	InstanceIndex uint32
	ExportName    string
	TargetSort    byte // Sort (component-level) or CoreSort (core-level)

	// AliasOuter
	OuterCount uint32
	OuterIndex uint32
}

func (a AliasInfo) String() string {
	switch a.Kind {
	case AliasInstanceExport:
		return fmt.Sprintf("instance-export(instance=%d, name=%q)", a.InstanceIndex, a.ExportName)
	case AliasCoreInstanceExport:
		return fmt.Sprintf("core-instance-export(instance=%d, name=%q)", a.InstanceIndex, a.ExportName)
	case AliasOuter:
		return fmt.Sprintf("outer(count=%d, index=%d)", a.OuterCount, a.OuterIndex)
	default:
		return "unknown-alias"
	}
}

// --- Imports / exports / custom sections at the component level ---

type ComponentImport struct {
	Name       string
	ExternKind byte // Extern* constants
	TypeIndex  uint32
}

type ComponentExport struct {
	Name      string
	Sort      byte
	SortIndex uint32
}

type CustomSection struct {
	Name string
	Data []byte
}

// StartFunc holds the component's start function (Section 9). Its value
// arguments are never resolved (value index space is out of scope); a
// start function with any args makes the component unsupported.
type StartFunc struct {
	FuncIndex uint32
	Args      []uint32
	Results   uint32
}
