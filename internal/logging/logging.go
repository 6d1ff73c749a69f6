// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger shape.
type Options struct {
	Level   string // debug, info, warn, error
	JSON    bool
	Verbose bool // forces debug
}

// New builds a production logger. Console encoding is used when JSON is off,
// which is what the interactive commands want.
func New(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if !opts.JSON {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Sync flushes the logger, ignoring the EINVAL stderr returns on some
// platforms.
func Sync(logger *zap.Logger) {
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !isStdSyncErr(err) {
		fmt.Fprintf(os.Stderr, "logger sync: %v\n", err)
	}
}

func isStdSyncErr(err error) bool {
	pe, ok := err.(*os.PathError)
	return ok && (pe.Path == "/dev/stderr" || pe.Path == "/dev/stdout")
}
