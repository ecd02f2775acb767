// Package logging provides types.Logger adapters for the reconf library.
package logging

import "github.com/arloliu/reconf/types"

// NopLogger is a no-op logger that discards all log messages.
//
// It is the default logger of every component, which removes the need for
// nil checks at log sites.
//
// Example:
//
//	c, _ := coordinator.New(term, seed, exec, coordinator.WithLogger(logging.NewNop()))
type NopLogger struct{}

// Compile-time assertion that NopLogger implements Logger.
var _ types.Logger = (*NopLogger)(nil)

// NewNop creates a new no-op logger that discards all messages.
func NewNop() *NopLogger {
	return &NopLogger{}
}

// Debug discards the message.
func (n *NopLogger) Debug(_ string, _ ...any) {}

// Info discards the message.
func (n *NopLogger) Info(_ string, _ ...any) {}

// Warn discards the message.
func (n *NopLogger) Warn(_ string, _ ...any) {}

// Error discards the message.
func (n *NopLogger) Error(_ string, _ ...any) {}

// Fatal discards the message (does NOT call os.Exit).
func (n *NopLogger) Fatal(_ string, _ ...any) {}
