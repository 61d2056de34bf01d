package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type loggerContextKey struct{}

// ParseLevel maps a config string to a slog level.
// Accepts levels: debug, info, warn, error. Defaults to info on unknown input.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// InitLogger configures the global slog logger with JSON output and level.
// When logsDir (or fallbackDir) is set, output is also written to a rotating
// <service>.log file. The returned cleanup closes the file writer.
func InitLogger(level, service, logsDir, fallbackDir string) (*slog.Logger, func()) {
	var out io.Writer = os.Stdout
	cleanup := func() {}

	dir := strings.TrimSpace(logsDir)
	if dir == "" {
		dir = strings.TrimSpace(fallbackDir)
	}
	service = strings.TrimSpace(service)
	if service == "" {
		service = "app"
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			rotator := &lumberjack.Logger{
				Filename:   filepath.Join(dir, service+".log"),
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     14,
				Compress:   true,
			}
			out = io.MultiWriter(os.Stdout, rotator)
			cleanup = func() { _ = rotator.Close() }
		} else {
			fmt.Fprintf(os.Stderr, "logs dir %s unavailable, logging to stdout only: %v\n", dir, err)
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
	})
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger, cleanup
}

// Fatal logs at error level and exits the process.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

// ContextWithLogger stores a request-scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext returns the request-scoped logger or slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}
