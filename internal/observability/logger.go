// Package observability owns the process-wide zap loggers.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "STRUCTURED"
	ProfileSimple     = "SIMPLE"
)

// CLILogger is the human-facing logger used by commands. It is never nil.
var CLILogger = zap.NewNop()

// ServerLogger is the structured logger used by long-running services.
var ServerLogger = zap.NewNop()

// InitCLILogger configures CLILogger for terminal output on stderr.
func InitCLILogger(name string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.NameKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !isTerminal(os.Stderr) {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	CLILogger = zap.New(core).Named(name)
}

// InitServerLogger configures ServerLogger. profile selects JSON (STRUCTURED)
// or console (SIMPLE) encoding.
func InitServerLogger(name, level, profile string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	switch strings.ToUpper(strings.TrimSpace(profile)) {
	case "", ProfileStructured:
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	case ProfileSimple:
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.CallerKey = ""
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown logging profile %q", profile)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	ServerLogger = zap.New(core).Named(name).With(zap.Int("pid", os.Getpid()))
	return ServerLogger, nil
}

// ParseLevel maps a config string onto a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
