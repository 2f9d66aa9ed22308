package ftpfs

import "time"

// PathRedactor is a function type for custom path redaction in logs and
// error messages. It takes a remote path and returns a redacted version.
//
// Example:
//
//	// Keep only the last component
//	func(p string) string {
//	    return ".../" + path.Base(p)
//	}
type PathRedactor func(path string) string

// MetricsCollector is an optional interface for collecting pool metrics.
// Implementations can export them to Prometheus, StatsD, and so on; see the
// metrics package for a Prometheus collector.
//
// Methods are called inline from pool and router operations and should not
// block. Labels derived from a ConnectionKey must not include the user.
type MetricsCollector interface {
	// RecordAcquire records a successful Acquire. reused is true when an
	// idle session was handed out; wait is the time spent waiting for the
	// key's slot.
	RecordAcquire(scheme string, reused bool, wait time.Duration)

	// RecordConnect records a connection attempt, including login.
	RecordConnect(scheme string, success bool, duration time.Duration)

	// RecordEviction records a session leaving the pool. reason is one of
	// "idle", "capacity", "dead", "invalidated" or "shutdown".
	RecordEviction(reason string)

	// RecordRetry records a router retry after a connection-level failure.
	RecordRetry(op string)

	// SetLiveSessions reports the number of open sessions.
	SetLiveSessions(n int)
}
