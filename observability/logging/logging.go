package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileRotation describes an optional size-rotated log file that mirrors
// stdout. A zero value disables the file route.
type FileRotation struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (r FileRotation) enabled() bool {
	return strings.TrimSpace(r.Path) != ""
}

// Setup configures the standard library logger to emit structured JSON and
// returns the underlying slog.Logger for richer logging within the service.
// All log lines include the service name and environment when provided.
func Setup(service, env string) *slog.Logger {
	logger, _ := SetupWithFile(service, env, FileRotation{})
	return logger
}

// SetupWithFile is Setup with an additional rotated file route. The file's
// directory is created up front; the file itself appears on first write.
func SetupWithFile(service, env string, rotation FileRotation) (*slog.Logger, error) {
	output := io.Writer(os.Stdout)
	if rotation.enabled() {
		if dir := filepath.Dir(rotation.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		rotated := &lumberjack.Logger{
			Filename:   rotation.Path,
			MaxSize:    defaultInt(rotation.MaxSizeMB, 100),
			MaxBackups: defaultInt(rotation.MaxBackups, 10),
			MaxAge:     defaultInt(rotation.MaxAgeDays, 30),
			Compress:   rotation.Compress,
		}
		output = io.MultiWriter(os.Stdout, rotated)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, nil
}

func defaultInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
