package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents the logging level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
	FatalLevel LogLevel = "fatal"
	PanicLevel LogLevel = "panic"
)

// Logger holds the zerolog logger instance
type Logger struct {
	logger zerolog.Logger
}

// LogContext holds contextual information for logging
type LogContext struct {
	ScanID   string `json:"scan_id,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	SpanID   string `json:"span_id,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	FileID   int64  `json:"file_id,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
	Module   string `json:"module,omitempty"`
	Function string `json:"function,omitempty"`
}

// NewLogger creates a new logger instance with the specified log level
func NewLogger(logLevel LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	// Parse log level
	level, err := zerolog.ParseLevel(string(logLevel))
	if err != nil {
		level = zerolog.InfoLevel // Default to info level
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{
		logger: logger,
	}
}

// Zerolog returns the underlying zerolog logger
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.logger
}

// WithContext adds trace and span ids from ctx to the logger
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logCtx := l.logger.With()

	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		logCtx = logCtx.Str("trace_id", spanCtx.TraceID().String())
		logCtx = logCtx.Str("span_id", spanCtx.SpanID().String())
	}

	contextualLogger := logCtx.Logger()

	return &contextualLogger
}

// WithContextFields adds context-specific fields to the logger
func (l *Logger) WithContextFields(ctx LogContext) *zerolog.Logger {
	logCtx := l.logger.With()

	if ctx.ScanID != "" {
		logCtx = logCtx.Str("scan_id", ctx.ScanID)
	}
	if ctx.TraceID != "" {
		logCtx = logCtx.Str("trace_id", ctx.TraceID)
	}
	if ctx.SpanID != "" {
		logCtx = logCtx.Str("span_id", ctx.SpanID)
	}
	if ctx.FilePath != "" {
		logCtx = logCtx.Str("file_path", ctx.FilePath)
	}
	if ctx.FileID != 0 {
		logCtx = logCtx.Int64("file_id", ctx.FileID)
	}
	if ctx.Duration != 0 {
		logCtx = logCtx.Int64("duration_ms", ctx.Duration)
	}
	if ctx.Module != "" {
		logCtx = logCtx.Str("module", ctx.Module)
	}
	if ctx.Function != "" {
		logCtx = logCtx.Str("function", ctx.Function)
	}

	logger := logCtx.Logger()
	return &logger
}

// LogIndexPass logs the outcome of one file's index pass
func (l *Logger) LogIndexPass(ctx context.Context, filePath string, fileID int64, duration time.Duration, comments, pictures int, err error, reason string) {
	event := l.WithContext(ctx).With().
		Str("file_path", filePath).
		Int64("duration_ms", duration.Milliseconds()).
		Logger()

	if err == nil {
		event.Info().
			Int64("file_id", fileID).
			Int("comments", comments).
			Int("pictures", pictures).
			Msg("File indexed")
	} else {
		event.Error().Err(err).Str("reason", reason).Msg("File indexing failed")
	}
}

// LogRewrite logs a tag rewrite
func (l *Logger) LogRewrite(ctx context.Context, filePath, mode string, oldSize, newSize int64) {
	l.WithContext(ctx).Info().
		Str("file_path", filePath).
		Str("mode", mode).
		Int64("old_size", oldSize).
		Int64("new_size", newSize).
		Msg("Comment block rewritten")
}

// LogMetadataDrift logs comment rows that kept their identity but moved
// within the file since the previous pass
func (l *Logger) LogMetadataDrift(ctx context.Context, filePath string, moved int) {
	l.WithContext(ctx).Debug().
		Str("file_path", filePath).
		Int("moved", moved).
		Msg("Metadata drift detected")
}

// SetLogLevel dynamically changes the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) error {
	level, err := zerolog.ParseLevel(string(logLevel))
	if err != nil {
		return fmt.Errorf("invalid log level: %s", logLevel)
	}

	l.logger = l.logger.Level(level)
	return nil
}
