// Command crimp-decompose reads a WebAssembly Component binary, links its
// core-module instantiation graph, and emits one standalone core Wasm
// module per instantiated module instance, each carrying a crimp-replay
// custom section describing how to relink it without a component runtime.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wippyai/crimp-decompose/component"
	"github.com/wippyai/crimp-decompose/internal/corewasm"
	"github.com/wippyai/crimp-decompose/linkmeta"
	"github.com/wippyai/crimp-decompose/orchestrator"
	"github.com/wippyai/crimp-decompose/rewrite"
	"go.uber.org/zap"
)

func main() {
	var (
		componentPath = flag.String("component", "", "path to the input WebAssembly component binary (required)")
		outDir        = flag.String("outdir", "", "directory to write rewritten core modules to (required)")
		emitText      = flag.Bool("wat", false, "also emit a .wat text rendering of each rewritten module")
		overwrite     = flag.Bool("overwrite", false, "replace a non-empty output directory instead of erroring")
		showProgress  = flag.Bool("progress", false, "render a progress bar while rewriting module instances")
	)
	flag.Parse()

	if *componentPath == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "Usage: crimp-decompose -component <file.wasm> -outdir <dir> [-wat] [-overwrite] [-progress]")
		os.Exit(1)
	}

	configureLogging()

	opts := orchestrator.Options{
		InputPath: *componentPath,
		OutputDir: *outDir,
		Overwrite: *overwrite,
		EmitText:  *emitText,
	}

	var finishProgress func()
	if *showProgress && stdoutIsTerminal() {
		update, finish := runProgressUI()
		opts.Progress = update
		finishProgress = finish
	}

	result, err := orchestrator.Decompose(opts)

	if finishProgress != nil {
		finishProgress()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "crimp-decompose: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("checksum %x\n", result.Checksum)
	for _, p := range result.OutputPaths {
		fmt.Println(p)
	}
}

// configureLogging builds the zap logger used across every package from
// the CRIMP_LOG environment variable (debug, info, warn, error; default
// warn).
func configureLogging() {
	level := zap.WarnLevel
	switch os.Getenv("CRIMP_LOG") {
	case "debug":
		level = zap.DebugLevel
	case "info":
		level = zap.InfoLevel
	case "warn", "":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}

	orchestrator.SetLogger(logger)
	component.SetLogger(logger)
	linkmeta.SetLogger(logger)
	rewrite.SetLogger(logger)
	corewasm.SetLogger(logger)
}
