// Package testing provides test utilities for reconf.
//
// It mirrors net/http/httptest: helpers here are meant to be imported from
// _test.go files of this module and of applications embedding it.
//
// Key utilities:
//   - StartEmbeddedNATS: In-process NATS server with JetStream
//   - CreateJetStreamKV: Memory-backed KV bucket
//   - RecordingExecutor: Remote executor double that records phase calls
//   - NewTestLogger: Logger writing to testing.T
//
// Example usage:
//
//	import (
//	    "testing"
//	    reconftest "github.com/arloliu/reconf/testing"
//	)
//
//	func TestRescale(t *testing.T) {
//	    exec := reconftest.NewRecordingExecutor()
//	    // drive a coordinator and inspect exec.Phases()
//	}
package testing
