package pgfs

// Logger is the narrow logging contract this package depends on, so it
// never imports a concrete syslog client directly. The root command wires
// a srslog-backed implementation in; tests use nopLogger, which discards.
// Critf is reserved for detected invariant violations (a duplicate inode for
// a unique path, a partial-write affecting the wrong number of rows) — the
// same LOG_CRIT level pgsql.c reserves for "this should never happen".
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Critf(format string, args ...interface{})
}

// nopLogger discards everything. Used when a Filesystem is built without an
// explicit logger, e.g. from tests that don't care about log output.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Critf(string, ...interface{})  {}
