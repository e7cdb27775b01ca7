package wat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/crimp-decompose/internal/corewasm"
	"github.com/wippyai/crimp-decompose/wat/internal/opcode"
)

// Disassemble renders a decoded core module back into WebAssembly text
// format, as a flat (non-folded) instruction listing: one mnemonic per
// line rather than the nested s-expression form Compile accepts. This is
// the `-wat` output path for the decomposer's CLI — a rewritten module's
// re-encoded bytes are turned back into something a person can read
// without round-tripping through Compile.
//
// Coverage matches the package doc's supported feature set: SIMD,
// threads/atomics, exception handling and GC instructions are emitted as
// a commented-out hex placeholder rather than a mnemonic, since Compile
// cannot parse them back in either.
func Disassemble(m *corewasm.Module) (string, error) {
	var b strings.Builder
	name := "module"
	if m.Name != nil && *m.Name != "" {
		name = *m.Name
	}
	fmt.Fprintf(&b, "(module $%s\n", name)

	for i, t := range m.Types {
		fmt.Fprintf(&b, "  (type (;%d;) (func%s%s))\n", i, paramsText(t.Params), resultsText(t.Results))
	}

	for _, imp := range m.Imports {
		fmt.Fprintf(&b, "  (import %q %q %s)\n", imp.Module, imp.Name, importDescText(imp.Desc))
	}

	numImportedFuncs := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == corewasm.KindFunc {
			numImportedFuncs++
		}
	}

	for i, typeIdx := range m.Funcs {
		funcIdx := numImportedFuncs + i
		fmt.Fprintf(&b, "  (func $f%d (type %d)\n", funcIdx, typeIdx)
		if i < len(m.Code) {
			writeFuncBody(&b, m, i)
		}
		b.WriteString("  )\n")
	}

	for i, tbl := range m.Tables {
		fmt.Fprintf(&b, "  (table (;%d;) %s %s)\n", i, limitsText(tbl.Limits), refTypeText(tbl))
	}
	for i, mem := range m.Memories {
		fmt.Fprintf(&b, "  (memory (;%d;) %s)\n", i, limitsText(mem.Limits))
	}
	for i, g := range m.Globals {
		mut := ""
		if g.Type.Mutable {
			mut = "mut "
		}
		fmt.Fprintf(&b, "  (global (;%d;) (%s%s) (;init omitted;))\n", i, mut, g.Type.ValType.String())
	}
	for _, e := range m.Exports {
		fmt.Fprintf(&b, "  (export %q (%s %d))\n", e.Name, exportKindText(e.Kind), e.Idx)
	}
	if m.Start != nil {
		fmt.Fprintf(&b, "  (start %d)\n", *m.Start)
	}
	for _, cs := range m.CustomSections {
		fmt.Fprintf(&b, "  ;; custom section %q (%d bytes)\n", cs.Name, len(cs.Data))
	}

	b.WriteString(")\n")
	return b.String(), nil
}

func paramsText(params []corewasm.ValType) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.String()
	}
	return " (param " + strings.Join(parts, " ") + ")"
}

func resultsText(results []corewasm.ValType) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.String()
	}
	return " (result " + strings.Join(parts, " ") + ")"
}

func limitsText(l corewasm.Limits) string {
	if l.Max != nil {
		return fmt.Sprintf("%d %d", l.Min, *l.Max)
	}
	return fmt.Sprintf("%d", l.Min)
}

func refTypeText(t corewasm.TableType) string {
	switch t.ElemType {
	case byte(corewasm.ValExtern):
		return "externref"
	default:
		return "funcref"
	}
}

func exportKindText(kind byte) string {
	switch kind {
	case corewasm.KindFunc:
		return "func"
	case corewasm.KindTable:
		return "table"
	case corewasm.KindMemory:
		return "memory"
	case corewasm.KindGlobal:
		return "global"
	case corewasm.KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

func importDescText(d corewasm.ImportDesc) string {
	switch d.Kind {
	case corewasm.KindFunc:
		return fmt.Sprintf("(func (type %d))", d.TypeIdx)
	case corewasm.KindTable:
		return fmt.Sprintf("(table %s %s)", limitsText(d.Table.Limits), refTypeText(*d.Table))
	case corewasm.KindMemory:
		return fmt.Sprintf("(memory %s)", limitsText(d.Memory.Limits))
	case corewasm.KindGlobal:
		mut := ""
		if d.Global.Mutable {
			mut = "mut "
		}
		return fmt.Sprintf("(global (%s%s))", mut, d.Global.ValType.String())
	case corewasm.KindTag:
		return fmt.Sprintf("(tag (type %d))", d.Tag.TypeIdx)
	default:
		return "(unknown)"
	}
}

// writeFuncBody renders one function's decoded instruction stream as a
// flat, indented listing. Block/loop/if nesting increases indent; end
// decreases it, matching the structure a reader would expect even though
// the instructions themselves are not folded into s-expressions.
func writeFuncBody(b *strings.Builder, m *corewasm.Module, funcIdx int) {
	body := m.Code[funcIdx]
	instrs, err := corewasm.DecodeInstructions(body.Code)
	if err != nil {
		fmt.Fprintf(b, "    ;; failed to decode body: %v\n", err)
		return
	}

	indent := 2
	for _, instr := range instrs {
		line, dIndentBefore, dIndentAfter := instrText(instr)
		indent += dIndentBefore
		fmt.Fprintf(b, "%s%s\n", strings.Repeat("  ", indent), line)
		indent += dIndentAfter
	}
}

// instrText renders a single decoded instruction as its WAT mnemonic
// plus immediate, and reports how the line should affect indentation of
// the lines that follow (end/else dedent before printing; block/loop/if
// indent after).
func instrText(instr corewasm.Instruction) (line string, before, after int) {
	switch instr.Opcode {
	case corewasm.OpEnd:
		return "end", -1, 0
	case corewasm.OpElse:
		return "else", -1, 1
	case corewasm.OpBlock:
		return blockLine("block", instr), 0, 1
	case corewasm.OpLoop:
		return blockLine("loop", instr), 0, 1
	case corewasm.OpIf:
		return blockLine("if", instr), 0, 1
	}

	if name, ok := opcode.Name(instr.Opcode); ok {
		return name + immText(instr.Imm), 0, 0
	}
	if name, ok := opcode.MemoryName(instr.Opcode); ok {
		return name + memArgText(instr.Imm), 0, 0
	}

	switch instr.Opcode {
	case corewasm.OpCallIndirect:
		if ci, ok := instr.Imm.(corewasm.CallIndirectImm); ok {
			return fmt.Sprintf("call_indirect (type %d) (table %d)", ci.TypeIdx, ci.TableIdx), 0, 0
		}
	case corewasm.OpBrTable:
		if bt, ok := instr.Imm.(corewasm.BrTableImm); ok {
			labels := make([]string, len(bt.Labels))
			for i, l := range bt.Labels {
				labels[i] = strconv.FormatUint(uint64(l), 10)
			}
			return fmt.Sprintf("br_table %s %d", strings.Join(labels, " "), bt.Default), 0, 0
		}
	case corewasm.OpSelect:
		return "select", 0, 0
	case corewasm.OpSelectType:
		if st, ok := instr.Imm.(corewasm.SelectTypeImm); ok && len(st.Types) > 0 {
			return fmt.Sprintf("select (result %s)", st.Types[0].String()), 0, 0
		}
		return "select", 0, 0
	case corewasm.OpRefNull:
		if rn, ok := instr.Imm.(corewasm.RefNullImm); ok {
			return fmt.Sprintf("ref.null %s", heapTypeText(rn.HeapType)), 0, 0
		}
	case corewasm.OpRefFunc:
		if rf, ok := instr.Imm.(corewasm.RefFuncImm); ok {
			return fmt.Sprintf("ref.func %d", rf.FuncIdx), 0, 0
		}
	case corewasm.OpTableGet:
		if ti, ok := instr.Imm.(corewasm.TableImm); ok {
			return fmt.Sprintf("table.get %d", ti.TableIdx), 0, 0
		}
	case corewasm.OpTableSet:
		if ti, ok := instr.Imm.(corewasm.TableImm); ok {
			return fmt.Sprintf("table.set %d", ti.TableIdx), 0, 0
		}
	}

	if mi, ok := instr.Imm.(corewasm.MiscImm); ok {
		if name, ok := opcode.PrefixedName(mi.SubOpcode); ok {
			parts := make([]string, len(mi.Operands))
			for i, op := range mi.Operands {
				parts[i] = strconv.FormatUint(uint64(op), 10)
			}
			if len(parts) == 0 {
				return name, 0, 0
			}
			return name + " " + strings.Join(parts, " "), 0, 0
		}
	}

	return fmt.Sprintf(";; unsupported opcode 0x%02x", instr.Opcode), 0, 0
}

func blockLine(kind string, instr corewasm.Instruction) string {
	bi, ok := instr.Imm.(corewasm.BlockImm)
	if !ok {
		return kind
	}
	switch bi.Type {
	case corewasm.BlockTypeVoid:
		return kind
	case corewasm.BlockTypeI32, corewasm.BlockTypeI64, corewasm.BlockTypeF32, corewasm.BlockTypeF64:
		return fmt.Sprintf("%s (result %s)", kind, blockValType(bi.Type))
	default:
		return fmt.Sprintf("%s (type %d)", kind, bi.Type)
	}
}

func blockValType(t int32) string {
	switch t {
	case corewasm.BlockTypeI32:
		return "i32"
	case corewasm.BlockTypeI64:
		return "i64"
	case corewasm.BlockTypeF32:
		return "f32"
	case corewasm.BlockTypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

func heapTypeText(ht int64) string {
	switch ht {
	case -16:
		return "func"
	case -17:
		return "extern"
	default:
		return strconv.FormatInt(ht, 10)
	}
}

func immText(imm any) string {
	switch v := imm.(type) {
	case corewasm.LocalImm:
		return fmt.Sprintf(" %d", v.LocalIdx)
	case corewasm.GlobalImm:
		return fmt.Sprintf(" %d", v.GlobalIdx)
	case corewasm.BranchImm:
		return fmt.Sprintf(" %d", v.LabelIdx)
	case corewasm.CallImm:
		return fmt.Sprintf(" %d", v.FuncIdx)
	case corewasm.I32Imm:
		return fmt.Sprintf(" %d", v.Value)
	case corewasm.I64Imm:
		return fmt.Sprintf(" %d", v.Value)
	case corewasm.F32Imm:
		return fmt.Sprintf(" %v", v.Value)
	case corewasm.F64Imm:
		return fmt.Sprintf(" %v", v.Value)
	case corewasm.MemoryIdxImm:
		if v.MemIdx != 0 {
			return fmt.Sprintf(" %d", v.MemIdx)
		}
		return ""
	default:
		return ""
	}
}

func memArgText(imm any) string {
	m, ok := imm.(corewasm.MemoryImm)
	if !ok {
		return ""
	}
	var b strings.Builder
	if m.Offset != 0 {
		fmt.Fprintf(&b, " offset=%d", m.Offset)
	}
	fmt.Fprintf(&b, " align=%d", m.Align)
	return b.String()
}
