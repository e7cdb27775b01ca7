// Package orchestrator drives the full decompose pipeline end to end:
// read a component binary, parse it, link its module graph, rewrite
// each instantiated module into a standalone core module, and write the
// results to an output directory.
package orchestrator

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wippyai/crimp-decompose/component"
	crimperrors "github.com/wippyai/crimp-decompose/errors"
	"github.com/wippyai/crimp-decompose/internal/corewasm"
	"github.com/wippyai/crimp-decompose/linkmeta"
	"github.com/wippyai/crimp-decompose/rewrite"
	"github.com/wippyai/crimp-decompose/wat"
)

// Options configures a single Decompose run.
type Options struct {
	InputPath string // path to the input component binary
	OutputDir string // directory the rewritten modules are written to
	Overwrite bool   // replace a non-empty OutputDir instead of erroring
	EmitText  bool   // write a .wat text rendering alongside the .wasm binary

	// Progress, if non-nil, is called once per rewritten-and-written
	// module instance, in instantiation order, as (done, total). The
	// CLI's -progress flag wires this to a bubbles/progress bar; tests
	// and library callers can leave it nil.
	Progress func(done, total int)
}

// Result reports what Decompose produced.
type Result struct {
	Checksum    [32]byte
	OutputPaths []string
}

// Decompose reads the component at opts.InputPath, links its module
// instantiation graph, rewrites every instantiated module into a
// standalone core module carrying a crimp-replay custom section, and
// writes each one to opts.OutputDir as "<name>.wasm".
//
// A component with no module instantiations produces zero output files;
// that is success, not an error, though the output directory is still
// prepared. The output directory is prepared as soon as the input is
// confirmed to be a component binary, so it's left created-but-empty even
// when a later stage (linking, rewriting) rejects the input.
func Decompose(opts Options) (*Result, error) {
	data, err := os.ReadFile(opts.InputPath)
	if err != nil {
		return nil, crimperrors.IO(fmt.Sprintf("read %s", opts.InputPath), err)
	}

	if !component.IsComponent(data) {
		return nil, crimperrors.Malformed(crimperrors.PhaseParse, []string{opts.InputPath}, "input is not a WebAssembly component binary")
	}

	if err := prepareOutputDir(opts.OutputDir, opts.Overwrite); err != nil {
		return nil, err
	}

	checksum := sha256.Sum256(data)
	Logger().Sugar().Infof("input checksum %x", checksum)

	comp, err := component.Parse(data)
	if err != nil {
		return nil, err
	}

	if err := component.ValidateInstantiationOrder(comp); err != nil {
		return nil, err
	}

	lm, err := linkmeta.Build(comp, checksum)
	if err != nil {
		return nil, err
	}
	Logger().Sugar().Infof("linked %d module instance(s)", len(lm.Instantiations))

	outputs, err := rewrite.RewriteAll(lm)
	if err != nil {
		return nil, err
	}

	result := &Result{Checksum: checksum}
	for i, o := range outputs {
		path := filepath.Join(opts.OutputDir, o.Name+".wasm")
		if err := os.WriteFile(path, o.Bytes, 0o644); err != nil {
			return nil, crimperrors.IO(fmt.Sprintf("write %s", path), err)
		}
		result.OutputPaths = append(result.OutputPaths, path)
		Logger().Sugar().Infof("wrote %s (%d bytes)", path, len(o.Bytes))

		if opts.EmitText {
			textPath, err := writeTextRendering(opts.OutputDir, o)
			if err != nil {
				return nil, err
			}
			result.OutputPaths = append(result.OutputPaths, textPath)
		}

		if opts.Progress != nil {
			opts.Progress(i+1, len(outputs))
		}
	}

	return result, nil
}

// writeTextRendering decodes o's already-validated bytes back into a
// corewasm.Module and pretty-prints it as WAT text, for the CLI's -wat
// flag.
func writeTextRendering(outDir string, o rewrite.Output) (string, error) {
	mod, err := corewasm.ParseModule(o.Bytes)
	if err != nil {
		return "", crimperrors.Invariant(crimperrors.PhaseEmit, []string{o.Name}, "re-decoding a just-validated module for text output failed")
	}
	text, err := wat.Disassemble(mod)
	if err != nil {
		return "", crimperrors.Invalid(crimperrors.PhaseEmit, fmt.Sprintf("rendering %s as text", o.Name), err)
	}
	path := filepath.Join(outDir, o.Name+".wat")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", crimperrors.IO(fmt.Sprintf("write %s", path), err)
	}
	Logger().Sugar().Infof("wrote %s", path)
	return path, nil
}

// prepareOutputDir ensures dir exists and is ready to receive output: a
// missing directory is created, an empty one is reused, and a non-empty
// one is only replaced when overwrite is set.
func prepareOutputDir(dir string, overwrite bool) error {
	entries, err := os.ReadDir(dir)
	switch {
	case err == nil:
		if len(entries) == 0 {
			return nil
		}
		if !overwrite {
			return crimperrors.IO(fmt.Sprintf("output directory %s is not empty (pass -overwrite to replace it)", dir), nil)
		}
		if err := os.RemoveAll(dir); err != nil {
			return crimperrors.IO(fmt.Sprintf("clear output directory %s", dir), err)
		}
		return os.MkdirAll(dir, 0o755)

	case os.IsNotExist(err):
		return os.MkdirAll(dir, 0o755)

	default:
		return crimperrors.IO(fmt.Sprintf("stat output directory %s", dir), err)
	}
}
