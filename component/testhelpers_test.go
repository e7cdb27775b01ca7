package component

import (
	"github.com/wippyai/crimp-decompose/wat"
)

// Minimal binary encoding helpers for building Component Model test
// fixtures by hand. The production decoder only ever reads component
// binaries, so there is no exported encoder to reuse here; these mirror
// the shape of the section layouts decoder.go parses.

func testLEB128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

func testName(s string) []byte {
	return append(testLEB128(uint32(len(s))), []byte(s)...)
}

func testSection(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, testLEB128(uint32(len(payload)))...)
	return append(out, payload...)
}

func testComponentHeader() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x0a, 0x00, 0x01, 0x00}
}

// testCoreInstanceInstantiateSection encodes a single vec(instance) section
// (id 2) with one Instantiate entry, no args.
func testCoreInstanceInstantiateSection(moduleIdx uint32) []byte {
	payload := []byte{0x01, 0x00} // count=1, kind=instantiate
	payload = append(payload, testLEB128(moduleIdx)...)
	payload = append(payload, 0x00) // arg count = 0
	return testSection(2, payload)
}

// testCoreAliasFuncSection encodes an alias section (id 6) with one
// core:func alias to a core-instance export.
func testCoreAliasFuncSection(instanceIdx uint32, exportName string) []byte {
	payload := []byte{0x01}       // count=1
	payload = append(payload, SortCore, 0x00) // sort=core, core:sort=func
	payload = append(payload, 0x01)           // target kind = core-instance-export
	payload = append(payload, testLEB128(instanceIdx)...)
	payload = append(payload, testName(exportName)...)
	return testSection(6, payload)
}

// testCanonLiftSection encodes a canon section (id 8) lifting coreFuncIdx
// with no canonical options, typed at typeIdx.
func testCanonLiftSection(coreFuncIdx, typeIdx uint32) []byte {
	payload := []byte{0x01, CanonLift, 0x00} // count=1, kind=lift, sub-kind=0
	payload = append(payload, testLEB128(coreFuncIdx)...)
	payload = append(payload, 0x00) // options count = 0
	payload = append(payload, testLEB128(typeIdx)...)
	return testSection(8, payload)
}

// testExportFuncSection encodes an export section (id 11) exporting
// funcs[sortIdx] under name.
func testExportFuncSection(name string, sortIdx uint32) []byte {
	payload := []byte{0x01} // count=1
	payload = append(payload, 0x00) // name kind
	payload = append(payload, testName(name)...)
	payload = append(payload, SortFunc)
	payload = append(payload, testLEB128(sortIdx)...)
	return testSection(11, payload)
}

func testImportCoreModuleSection(name string) []byte {
	payload := []byte{0x01} // count=1
	payload = append(payload, 0x00) // name kind
	payload = append(payload, testName(name)...)
	payload = append(payload, ExternCoreModule, 0x11)
	payload = append(payload, 0x00) // type index (unused by the decoder's core-module-import rejection path)
	return testSection(10, payload)
}

// buildMinimalComponentBytes assembles a component with a single core
// module (exporting "run"), instantiated once with no imports, aliased
// and lifted into a single component-level export of the same name.
func buildMinimalComponentBytes(t interface{ Fatalf(string, ...any) }) []byte {
	modBytes, err := wat.Compile(`(module (func (export "run") (result i32) (i32.const 1)))`)
	if err != nil {
		t.Fatalf("compile fixture module: %v", err)
	}

	var out []byte
	out = append(out, testComponentHeader()...)
	out = append(out, testSection(1, modBytes)...)
	out = append(out, testCoreInstanceInstantiateSection(0)...)
	out = append(out, testCoreAliasFuncSection(0, "run")...)
	out = append(out, testCanonLiftSection(0, 0)...)
	out = append(out, testExportFuncSection("run", 0)...)
	return out
}
