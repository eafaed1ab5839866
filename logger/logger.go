package logger

// Logger is the minimal structured logging facade the iam packages write to.
// Implementations must be safe for concurrent use. keyvals is an alternating
// key/value list; a trailing key without a value is dropped.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}
