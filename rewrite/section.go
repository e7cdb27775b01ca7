package rewrite

import (
	"bytes"
	"fmt"
)

// CustomSectionName is the name every rewritten module's trailer custom
// section is registered under.
const CustomSectionName = "crimp-replay"

// ModuleInstanceExport names a single export of a module instance, as
// recorded in a crimp-replay section.
type ModuleInstanceExport struct {
	InstanceID uint32
	ExportName string
}

// CanonicalOptions is the wire form of a resolved canon lift/lower's
// memory, realloc, and post-return options.
type CanonicalOptions struct {
	Memory     *ModuleInstanceExport
	Realloc    *ModuleInstanceExport
	PostReturn *ModuleInstanceExport
}

// ImportAdapter records how one rewritten true-import stub should marshal
// its arguments: which module import slot it replaces, and the memory/
// realloc pair (if any) a caller needs to bridge the canonical ABI.
type ImportAdapter struct {
	TargetImportID uint32
	Memory         *ModuleInstanceExport
	Realloc        *ModuleInstanceExport
}

// ExportFunc records one component-level function export as seen from
// this module instance.
type ExportFunc struct {
	RecordID uint32
	Name     string
	Options  *CanonicalOptions
}

// CrimpSection is the decoded form of a rewritten module's crimp-replay
// custom section: everything a replay tool needs to reconstruct this
// instance's place in the original instantiation graph without a
// component runtime.
type CrimpSection struct {
	Checksum         [32]byte
	InstanceID       uint32
	InstantiateOrder uint32
	ImportAdapters   []ImportAdapter
	Exports          []ExportFunc
}

// Encode serializes s deterministically: the same CrimpSection value
// always produces the same bytes, so re-running the decomposer on
// identical input reproduces byte-identical output (idempotence).
func (s *CrimpSection) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(s.Checksum[:])
	writeU32(&buf, s.InstanceID)
	writeU32(&buf, s.InstantiateOrder)

	writeU32(&buf, uint32(len(s.ImportAdapters)))
	for _, a := range s.ImportAdapters {
		writeU32(&buf, a.TargetImportID)
		writeOptExport(&buf, a.Memory)
		writeOptExport(&buf, a.Realloc)
	}

	writeU32(&buf, uint32(len(s.Exports)))
	for _, e := range s.Exports {
		writeU32(&buf, e.RecordID)
		writeString(&buf, e.Name)
		writeOptCanonicalOptions(&buf, e.Options)
	}

	return buf.Bytes()
}

// DecodeCrimpSection parses a crimp-replay custom section's payload back
// into a CrimpSection. Used by round-trip tests and any tool that wants
// to inspect a rewritten module without re-running the decomposer.
func DecodeCrimpSection(data []byte) (*CrimpSection, error) {
	r := bytes.NewReader(data)
	s := &CrimpSection{}

	if _, err := r.Read(s.Checksum[:]); err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}

	var err error
	if s.InstanceID, err = readU32(r); err != nil {
		return nil, fmt.Errorf("read instance id: %w", err)
	}
	if s.InstantiateOrder, err = readU32(r); err != nil {
		return nil, fmt.Errorf("read instantiate order: %w", err)
	}

	adapterCount, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("read import adapter count: %w", err)
	}
	s.ImportAdapters = make([]ImportAdapter, adapterCount)
	for i := range s.ImportAdapters {
		targetID, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("read import adapter %d target: %w", i, err)
		}
		mem, err := readOptExport(r)
		if err != nil {
			return nil, fmt.Errorf("read import adapter %d memory: %w", i, err)
		}
		realloc, err := readOptExport(r)
		if err != nil {
			return nil, fmt.Errorf("read import adapter %d realloc: %w", i, err)
		}
		s.ImportAdapters[i] = ImportAdapter{TargetImportID: targetID, Memory: mem, Realloc: realloc}
	}

	exportCount, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("read export count: %w", err)
	}
	s.Exports = make([]ExportFunc, exportCount)
	for i := range s.Exports {
		recordID, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("read export %d record id: %w", i, err)
		}
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("read export %d name: %w", i, err)
		}
		opts, err := readOptCanonicalOptions(r)
		if err != nil {
			return nil, fmt.Errorf("read export %d options: %w", i, err)
		}
		s.Exports[i] = ExportFunc{RecordID: recordID, Name: name, Options: opts}
	}

	return s, nil
}

// --- LEB128 + presence-flag wire helpers ---

func writeU32(buf *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf.WriteByte(b | 0x80)
		} else {
			buf.WriteByte(b)
			return
		}
	}
}

func readU32(r *bytes.Reader) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, fmt.Errorf("leb128 u32 overflow")
		}
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeOptExport(buf *bytes.Buffer, e *ModuleInstanceExport) {
	if e == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeU32(buf, e.InstanceID)
	writeString(buf, e.ExportName)
}

func readOptExport(r *bytes.Reader) (*ModuleInstanceExport, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	instID, err := readU32(r)
	if err != nil {
		return nil, err
	}
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	return &ModuleInstanceExport{InstanceID: instID, ExportName: name}, nil
}

func writeOptCanonicalOptions(buf *bytes.Buffer, o *CanonicalOptions) {
	if o == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeOptExport(buf, o.Memory)
	writeOptExport(buf, o.Realloc)
	writeOptExport(buf, o.PostReturn)
}

func readOptCanonicalOptions(r *bytes.Reader) (*CanonicalOptions, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	mem, err := readOptExport(r)
	if err != nil {
		return nil, err
	}
	realloc, err := readOptExport(r)
	if err != nil {
		return nil, err
	}
	postReturn, err := readOptExport(r)
	if err != nil {
		return nil, err
	}
	return &CanonicalOptions{Memory: mem, Realloc: realloc, PostReturn: postReturn}, nil
}
