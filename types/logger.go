package types

// Logger is the structured logger every reconf component writes through.
//
// Fields are alternating key-value pairs. Components use a shared set of
// keys so records from the manager, the coordinator and the executor client
// can be joined: "term", "candidate_id", "operator_id", "phase", "kind"
// and "error".
//
// internal/logging provides zap, slog, no-op and testing.T adapters.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// Fatal logs and terminates the process. The manager's default fatal
	// error handler calls it when a leader process cannot be created,
	// started or torn down.
	Fatal(msg string, keysAndValues ...any)
}
