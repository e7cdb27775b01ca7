package component

import (
	"fmt"

	crimperrors "github.com/wippyai/crimp-decompose/errors"
)

// Resolver walks alias chains in a Component IR down to a terminal,
// non-alias origin: a Defined core module, an Imported component-level
// item, a canon Lift/Lower, or a resource builtin.
//
// scopes holds the chain of enclosing components an Outer alias may
// reach into, innermost first. The real parser never produces more than
// one scope (nested components are unsupported), so scopes normally has
// exactly one entry; tests exercise the outer-alias walk directly by
// constructing a multi-element chain by hand.
type Resolver struct {
	scopes []*Component
}

// NewResolver builds a Resolver for comp with no enclosing scopes.
func NewResolver(comp *Component) *Resolver {
	return &Resolver{scopes: []*Component{comp}}
}

// NewNestedResolver builds a Resolver for comp with the given chain of
// enclosing scopes (innermost-to-outermost, not including comp itself).
// Exists for tests that exercise outer-alias resolution; the production
// parser never yields more than the single, unnested scope.
func NewNestedResolver(comp *Component, enclosing ...*Component) *Resolver {
	return &Resolver{scopes: append([]*Component{comp}, enclosing...)}
}

func (r *Resolver) scope() *Component { return r.scopes[0] }

func (r *Resolver) outerResolver(count uint32) (*Resolver, error) {
	if count == 0 || int(count) >= len(r.scopes) {
		return nil, crimperrors.Invariant(crimperrors.PhaseResolve, nil,
			fmt.Sprintf("outer alias count %d has no enclosing scope (have %d)", count, len(r.scopes)-1))
	}
	return &Resolver{scopes: r.scopes[count:]}, nil
}

// --- Resolved terminal forms ---

// ResolvedComponentFunc is the terminal origin of a component-level
// function index, after following any Aliased hop.
type ResolvedComponentFunc struct {
	Kind FuncNodeKind // FuncImported or FuncLifted; never FuncAliased
	// ImportName is the dotted/hashed import path when Kind == FuncImported
	// (e.g. "wasi:http/types@0.2.0#new-fields", built up by appending
	// "#export-name" for each instance-export hop walked through).
	ImportName string
	Lift       *LiftedFunc // populated when Kind == FuncLifted
}

// ResolvedInstance is the terminal origin of a component-level instance
// index, after following any Aliased hop.
type ResolvedInstance struct {
	ImportName string // always populated: Instantiated/FromExports instances are unsupported, so every instance terminates at an import
}

// ResolvedCoreFunc is the terminal origin of a core-level function index.
type ResolvedCoreFunc struct {
	Kind CoreFuncNodeKind

	// Populated when Kind == CoreFuncAliasedExport.
	CoreInstanceIndex uint32
	ExportName        string

	// Populated when Kind == CoreFuncLowered.
	Lowered *ResolvedComponentFunc
	Options []CanonOption

	// Populated for the resource.* kinds.
	ResourceID uint32
}

// ResolvedCoreExport is the terminal origin of a core-level memory,
// table, or global index: always a core-instance export, since this tool
// only accepts inputs where such index spaces are alias-only.
type ResolvedCoreExport struct {
	CoreInstanceIndex uint32
	ExportName        string
}

// ResolveComponentFunc resolves comp.Funcs[index] to its terminal origin.
func (r *Resolver) ResolveComponentFunc(index uint32) (*ResolvedComponentFunc, error) {
	return r.resolveComponentFunc(index, 0)
}

func (r *Resolver) resolveComponentFunc(index uint32, depth int) (*ResolvedComponentFunc, error) {
	if depth > maxAliasDepth {
		return nil, aliasCycleError(crimperrors.PhaseResolve, "funcs")
	}
	node, ok := indexAt(r.scope().Funcs, index)
	if !ok {
		return nil, outOfBounds("funcs", index, len(r.scope().Funcs))
	}

	switch node.Kind {
	case FuncImported:
		return &ResolvedComponentFunc{Kind: FuncImported, ImportName: node.ImportName}, nil
	case FuncLifted:
		return &ResolvedComponentFunc{Kind: FuncLifted, Lift: node.Lift}, nil
	case FuncAliased:
		return r.resolveAliasedFunc(node.Alias, depth)
	default:
		return nil, crimperrors.Invariant(crimperrors.PhaseResolve, []string{"funcs", fmt.Sprint(index)}, "unknown func node kind")
	}
}

func (r *Resolver) resolveAliasedFunc(alias AliasInfo, depth int) (*ResolvedComponentFunc, error) {
	switch alias.Kind {
	case AliasInstanceExport:
		inst, err := r.resolveInstance(alias.InstanceIndex, depth+1)
		if err != nil {
			return nil, err
		}
		return &ResolvedComponentFunc{Kind: FuncImported, ImportName: inst.ImportName + "#" + alias.ExportName}, nil
	case AliasOuter:
		outerR, err := r.outerResolver(alias.OuterCount)
		if err != nil {
			return nil, err
		}
		return outerR.resolveComponentFunc(alias.OuterIndex, depth+1)
	default:
		return nil, crimperrors.Invariant(crimperrors.PhaseResolve, nil, "func alias must be instance-export or outer")
	}
}

// ResolveInstance resolves comp.Instances[index] to its terminal import.
func (r *Resolver) ResolveInstance(index uint32) (*ResolvedInstance, error) {
	return r.resolveInstance(index, 0)
}

func (r *Resolver) resolveInstance(index uint32, depth int) (*ResolvedInstance, error) {
	if depth > maxAliasDepth {
		return nil, aliasCycleError(crimperrors.PhaseResolve, "instances")
	}
	node, ok := indexAt(r.scope().Instances, index)
	if !ok {
		return nil, outOfBounds("instances", index, len(r.scope().Instances))
	}

	switch node.Kind {
	case InstanceImported:
		return &ResolvedInstance{ImportName: node.ImportName}, nil
	case InstanceAliased:
		switch node.Alias.Kind {
		case AliasInstanceExport:
			parent, err := r.resolveInstance(node.Alias.InstanceIndex, depth+1)
			if err != nil {
				return nil, err
			}
			return &ResolvedInstance{ImportName: parent.ImportName + "#" + node.Alias.ExportName}, nil
		case AliasOuter:
			outerR, err := r.outerResolver(node.Alias.OuterCount)
			if err != nil {
				return nil, err
			}
			return outerR.resolveInstance(node.Alias.OuterIndex, depth+1)
		default:
			return nil, crimperrors.Invariant(crimperrors.PhaseResolve, nil, "instance alias must be instance-export or outer")
		}
	default:
		return nil, crimperrors.Invariant(crimperrors.PhaseResolve, []string{"instances", fmt.Sprint(index)}, "unknown instance node kind")
	}
}

// ResolveCoreFunc resolves comp.CoreFuncs[index] to its terminal origin.
func (r *Resolver) ResolveCoreFunc(index uint32) (*ResolvedCoreFunc, error) {
	return r.resolveCoreFunc(index, 0)
}

func (r *Resolver) resolveCoreFunc(index uint32, depth int) (*ResolvedCoreFunc, error) {
	if depth > maxAliasDepth {
		return nil, aliasCycleError(crimperrors.PhaseResolve, "core-funcs")
	}
	node, ok := indexAt(r.scope().CoreFuncs, index)
	if !ok {
		return nil, outOfBounds("core-funcs", index, len(r.scope().CoreFuncs))
	}

	switch node.Kind {
	case CoreFuncAliasedExport:
		switch node.Alias.Kind {
		case AliasCoreInstanceExport:
			return &ResolvedCoreFunc{Kind: CoreFuncAliasedExport, CoreInstanceIndex: node.Alias.InstanceIndex, ExportName: node.Alias.ExportName}, nil
		case AliasOuter:
			outerR, err := r.outerResolver(node.Alias.OuterCount)
			if err != nil {
				return nil, err
			}
			return outerR.resolveCoreFunc(node.Alias.OuterIndex, depth+1)
		default:
			return nil, crimperrors.Invariant(crimperrors.PhaseResolve, []string{"core-funcs"}, "alias must be core-instance-export or outer")
		}
	case CoreFuncLowered:
		lowered, err := r.resolveComponentFunc(node.Lower.FuncIndex, depth+1)
		if err != nil {
			return nil, err
		}
		return &ResolvedCoreFunc{Kind: CoreFuncLowered, Lowered: lowered, Options: node.Lower.Options}, nil
	case CoreFuncResourceDropFn, CoreFuncResourceNewFn, CoreFuncResourceRepFn:
		return &ResolvedCoreFunc{Kind: node.Kind, ResourceID: node.ResourceID}, nil
	default:
		return nil, crimperrors.Invariant(crimperrors.PhaseResolve, []string{"core-funcs", fmt.Sprint(index)}, "unknown core func node kind")
	}
}

// ResolveCoreMemory resolves comp.CoreMemories[index] to the core-instance
// export it aliases.
func (r *Resolver) ResolveCoreMemory(index uint32) (*ResolvedCoreExport, error) {
	return resolveAliasOnlySpace(r, index, 0, "core-memories",
		func(c *Component) []CoreMemoryNode { return c.CoreMemories },
		func(n CoreMemoryNode) AliasInfo { return n.Alias })
}

// ResolveCoreTable resolves comp.CoreTables[index] to the core-instance
// export it aliases.
func (r *Resolver) ResolveCoreTable(index uint32) (*ResolvedCoreExport, error) {
	return resolveAliasOnlySpace(r, index, 0, "core-tables",
		func(c *Component) []CoreTableNode { return c.CoreTables },
		func(n CoreTableNode) AliasInfo { return n.Alias })
}

// ResolveCoreGlobal resolves comp.CoreGlobals[index] to the core-instance
// export it aliases.
func (r *Resolver) ResolveCoreGlobal(index uint32) (*ResolvedCoreExport, error) {
	return resolveAliasOnlySpace(r, index, 0, "core-globals",
		func(c *Component) []CoreGlobalNode { return c.CoreGlobals },
		func(n CoreGlobalNode) AliasInfo { return n.Alias })
}

// resolveAliasOnlySpace is the shared outer-chain walk for the three
// index spaces whose entries are alias-only (memories/tables/globals):
// every entry is either a direct core-instance-export alias or an outer
// alias into an enclosing scope's same-named space.
func resolveAliasOnlySpace[N any](r *Resolver, index uint32, depth int, label string, space func(*Component) []N, aliasOf func(N) AliasInfo) (*ResolvedCoreExport, error) {
	if depth > maxAliasDepth {
		return nil, aliasCycleError(crimperrors.PhaseResolve, label)
	}
	nodes := space(r.scope())
	node, ok := indexAt(nodes, index)
	if !ok {
		return nil, outOfBounds(label, index, len(nodes))
	}
	alias := aliasOf(node)
	switch alias.Kind {
	case AliasCoreInstanceExport:
		return &ResolvedCoreExport{CoreInstanceIndex: alias.InstanceIndex, ExportName: alias.ExportName}, nil
	case AliasOuter:
		outerR, err := r.outerResolver(alias.OuterCount)
		if err != nil {
			return nil, err
		}
		return resolveAliasOnlySpace(outerR, alias.OuterIndex, depth+1, label, space, aliasOf)
	default:
		return nil, crimperrors.Invariant(crimperrors.PhaseResolve, []string{label}, "alias must be core-instance-export or outer")
	}
}

// ResolveModule resolves comp.Modules[index] to its raw core-module bytes.
func (r *Resolver) ResolveModule(index uint32) ([]byte, error) {
	return r.resolveModule(index, 0)
}

func (r *Resolver) resolveModule(index uint32, depth int) ([]byte, error) {
	if depth > maxAliasDepth {
		return nil, aliasCycleError(crimperrors.PhaseResolve, "modules")
	}
	node, ok := indexAt(r.scope().Modules, index)
	if !ok {
		return nil, outOfBounds("modules", index, len(r.scope().Modules))
	}
	switch node.Kind {
	case ModuleDefined:
		return node.Bytes, nil
	case ModuleAliased:
		if node.Alias.Kind != AliasOuter {
			return nil, crimperrors.Unsupported(crimperrors.PhaseResolve, []string{"modules", fmt.Sprint(index)}, "module alias other than outer")
		}
		outerR, err := r.outerResolver(node.Alias.OuterCount)
		if err != nil {
			return nil, err
		}
		return outerR.resolveModule(node.Alias.OuterIndex, depth+1)
	default:
		return nil, crimperrors.Invariant(crimperrors.PhaseResolve, []string{"modules", fmt.Sprint(index)}, "unknown module node kind")
	}
}

// maxAliasDepth bounds the alias-chain walk against cyclic/malformed input.
const maxAliasDepth = 256

func aliasCycleError(phase crimperrors.Phase, label string) error {
	return crimperrors.Invariant(phase, []string{label}, "alias chain exceeded maximum depth (cycle?)")
}

func outOfBounds(label string, index uint32, length int) error {
	return crimperrors.OutOfBounds(crimperrors.PhaseResolve, []string{label}, int(index), length)
}

func indexAt[T any](s []T, index uint32) (T, bool) {
	var zero T
	if int(index) >= len(s) {
		return zero, false
	}
	return s[index], true
}
