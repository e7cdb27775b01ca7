package orchestrator

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the orchestrator package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the orchestrator package's logger. Call this
// before Decompose to see progress and diagnostic output.
func SetLogger(l *zap.Logger) {
	logger = l
}
