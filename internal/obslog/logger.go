package obslog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once sync.Once
	base *zap.SugaredLogger
)

// L returns the process-wide structured logger, built lazily on
// first use so tests that never touch it pay nothing.
func L() *zap.SugaredLogger {
	once.Do(func() {
		logger, err := zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
		base = logger.Sugar()
	})
	return base
}

// SetForTesting installs a logger built from a *testing.T-friendly
// zap core (or any custom logger); primarily used by package tests
// that want assertions on emitted log lines.
func SetForTesting(l *zap.SugaredLogger) {
	once.Do(func() {})
	base = l
}
