package logger

// Logger is the minimal structured logging interface the engine, store
// and audit pipeline depend on. Implementations accept alternating
// key/value pairs as variadic arguments.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}
