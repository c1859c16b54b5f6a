// Package logging configures structured JSON logging for the settlement
// daemon. Every line carries the service name, the deployment environment and
// the emitting component, so log pipelines can split the resolution loop,
// gateway and RPC streams without parsing message text.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// envLogLevel selects the minimum level at runtime ("debug", "info", "warn",
// "error"). Unset or unrecognised values default to info.
const envLogLevel = "OMEN_LOG_LEVEL"

// Options controls logger construction. The zero value logs at info to
// stdout with no service identification.
type Options struct {
	Service string
	Env     string
	Level   slog.Leveler
	Writer  io.Writer
}

// Setup builds the daemon-wide logger, installs it as the slog default and
// bridges the standard library logger into it. The level comes from
// OMEN_LOG_LEVEL.
func Setup(service, env string) *slog.Logger {
	return New(Options{
		Service: service,
		Env:     env,
		Level:   LevelFromEnv(),
	})
}

// New builds a logger from explicit options without touching process-global
// state beyond the slog default. Tests pass their own writer.
func New(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: renameStandardKeys,
	})

	args := []any{slog.String("service", strings.TrimSpace(opts.Service))}
	if env := strings.TrimSpace(opts.Env); env != "" {
		args = append(args, slog.String("env", env))
	}

	base := slog.New(handler).With(args...)
	slog.SetDefault(base)
	bridgeStdLog(base)
	return base
}

// WithComponent tags a logger for one subsystem of the daemon. The resolution
// loop, gateway and RPC server each log under their own component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", strings.TrimSpace(component)))
}

// LevelFromEnv reads the minimum log level from OMEN_LOG_LEVEL.
func LevelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envLogLevel))) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// renameStandardKeys maps slog's built-in keys onto the field names the log
// pipeline indexes: ts, level (lowercase) and msg.
func renameStandardKeys(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "ts"
	case slog.LevelKey:
		return slog.String("level", strings.ToLower(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "msg"
	}
	return attr
}

// bridgeStdLog routes the standard library logger through the structured
// handler so stray log.Printf calls in dependencies keep the JSON shape.
func bridgeStdLog(logger *slog.Logger) {
	bridge := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
}
