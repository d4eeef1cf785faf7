// logging/logging.go
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BootstrapLogger returns a console logger usable before config is loaded.
func BootstrapLogger() *zap.Logger {
	logger, err := newConfig("info", "dev").Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// IsValidLogLevel reports whether level names a zap level (case-insensitive).
func IsValidLogLevel(level string) bool {
	_, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	return err == nil && level != ""
}

// BuildLogger constructs the service logger: JSON in prod, the development
// console encoder otherwise, ISO8601 times, stderr output. An invalid level
// falls back to info with a warning on stderr.
func BuildLogger(level, env string) (*zap.Logger, error) {
	if !IsValidLogLevel(level) {
		fmt.Fprintf(os.Stderr, "WARNING: invalid log level %q; defaulting to \"info\"\n", level)
		level = "info"
	}
	return newConfig(level, env).Build()
}

// MustBuildLogger is BuildLogger for main(); it exits on failure.
func MustBuildLogger(level, env string) *zap.Logger {
	logger, err := BuildLogger(level, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func newConfig(level, env string) zap.Config {
	var cfg zap.Config
	if env == "prod" {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(strings.ToLower(level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}
