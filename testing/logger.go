package testing

import (
	"testing"

	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/types"
)

// NewTestLogger creates a logger that writes to t.Log.
//
// Fatal fails the test instead of exiting the process.
func NewTestLogger(t testing.TB) types.Logger {
	return logging.NewTest(t)
}
