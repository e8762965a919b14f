// Package observability owns the process-wide CLI logger.
package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

// CLILogger is the logger used by commands. Library packages receive a
// logger explicitly and never read this variable.
var CLILogger = zap.NewNop()

// InitCLILogger installs a console logger on stderr at info, or debug
// when verbose is set.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, err := newLogger(name, level, ProfileConsole, zapcore.Lock(os.Stderr), stderrIsTerminal())
	if err != nil {
		CLILogger = zap.NewNop()
		return
	}
	CLILogger = logger
}

// Configure replaces CLILogger using the configured level and profile.
func Configure(name, level, profile string) error {
	logger, err := newLogger(name, level, profile, zapcore.Lock(os.Stderr), stderrIsTerminal())
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// NewLogger builds a logger writing to w. Profile structured emits JSON
// lines; console emits a human encoder without timestamps.
func NewLogger(name, level, profile string, w zapcore.WriteSyncer) (*zap.Logger, error) {
	return newLogger(name, level, profile, w, isTerminal(w))
}

func newLogger(name, level, profile string, w zapcore.WriteSyncer, color bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case ProfileStructured, "":
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	case ProfileConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.TimeKey = ""
		cfg.CallerKey = ""
		cfg.NameKey = ""
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !color {
			cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, fmt.Errorf("unknown log profile %q", profile)
	}

	core := zapcore.NewCore(enc, w, lvl)
	return zap.New(core).Named(name), nil
}

func isTerminal(w zapcore.WriteSyncer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func stderrIsTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}
