package logger

import (
	"context"
	"fmt"
	"log/slog"
)

// SLogLogger adapts a standard library slog.Logger to the facade.
type SLogLogger struct {
	l *slog.Logger
}

// NewSLogLogger wraps l, falling back to slog.Default when nil.
func NewSLogLogger(l *slog.Logger) *SLogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SLogLogger{l: l}
}

func (s *SLogLogger) Debug(msg string, keyvals ...any) { s.log(slog.LevelDebug, msg, keyvals) }
func (s *SLogLogger) Info(msg string, keyvals ...any)  { s.log(slog.LevelInfo, msg, keyvals) }
func (s *SLogLogger) Error(msg string, keyvals ...any) { s.log(slog.LevelError, msg, keyvals) }

func (s *SLogLogger) log(level slog.Level, msg string, keyvals []any) {
	attrs := make([]slog.Attr, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		switch v := keyvals[i+1].(type) {
		case string:
			attrs = append(attrs, slog.String(key, v))
		case bool:
			attrs = append(attrs, slog.Bool(key, v))
		case int:
			attrs = append(attrs, slog.Int(key, v))
		default:
			attrs = append(attrs, slog.Any(key, v))
		}
	}
	s.l.LogAttrs(context.Background(), level, msg, attrs...)
}
