package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/arloliu/reconf/types"
)

// SlogLogger implements types.Logger on top of log/slog.
//
// Fatal has no slog level of its own: the record is written at Error level
// with fatal=true and the process exits through the configured exit func.
type SlogLogger struct {
	logger *slog.Logger
	exit   func(code int)
}

var _ types.Logger = (*SlogLogger)(nil)

// NewSlog wraps a slog.Logger. A nil logger selects slog.Default().
//
// Example:
//
//	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
//	mgr, err := reconf.NewManager(&cfg, nc, factory,
//	    reconf.WithLogger(logging.NewSlog(slog.New(handler))))
func NewSlog(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &SlogLogger{logger: logger, exit: os.Exit}
}

// NewSlogJSON writes JSON records at or above level to w.
func NewSlogJSON(w io.Writer, level slog.Leveler) *SlogLogger {
	return NewSlog(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// With returns a logger that adds keysAndValues to every record, e.g. the
// candidate ID or the bucket a watcher follows.
func (l *SlogLogger) With(keysAndValues ...any) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(keysAndValues...), exit: l.exit}
}

func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}

// Fatal logs at Error level and exits with status 1.
func (l *SlogLogger) Fatal(msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "fatal", true)...)
	l.exit(1)
}
