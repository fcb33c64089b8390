package logger

import (
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	json bool
	z    *zap.Logger
}

// New builds a logger writing to stdout, JSON lines when jsonOutput is set and
// console lines otherwise.
func New(jsonOutput bool) *Logger {
	return NewWithCore(jsonOutput, zapcore.AddSync(os.Stdout), zapcore.InfoLevel)
}

// NewVerbose is New with debug lines enabled.
func NewVerbose(jsonOutput bool) *Logger {
	return NewWithCore(jsonOutput, zapcore.AddSync(os.Stdout), zapcore.DebugLevel)
}

func NewWithCore(jsonOutput bool, out zapcore.WriteSyncer, level zapcore.Level) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	var enc zapcore.Encoder
	if jsonOutput {
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	return &Logger{json: jsonOutput, z: zap.New(zapcore.NewCore(enc, out, level))}
}

// Nop discards everything.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// With returns a child logger that adds fields to every line.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{json: l.json, z: l.z.With(toZap(fields)...)}
}

func (l *Logger) log(level zapcore.Level, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	if ce := l.z.Check(level, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(zapcore.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(zapcore.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(zapcore.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(zapcore.ErrorLevel, msg, fields) }

// Sync flushes buffered lines.
func (l *Logger) Sync() {
	if l != nil {
		_ = l.z.Sync()
	}
}

// JSONEnabled reports whether this logger is configured to emit JSON output.
func (l *Logger) JSONEnabled() bool { return l != nil && l.json }

// toZap keeps field order stable so console lines diff cleanly.
func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
