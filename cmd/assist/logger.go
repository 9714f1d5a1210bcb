package main

import (
	"go.uber.org/zap"
)

// newLogger builds the process-wide *zap.Logger every component receives
// via constructor injection (SPEC_FULL.md section 3's ambient-stack
// decision). Foreground runs also log to stderr; a detached background
// run logs to logPath alone, since nothing is attached to read stderr.
func newLogger(logPath string, alsoStderr bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.EncoderConfig.TimeKey = "ts"

	paths := []string{logPath}
	if alsoStderr {
		paths = append(paths, "stderr")
	}
	cfg.OutputPaths = paths
	cfg.ErrorOutputPaths = paths

	return cfg.Build()
}
