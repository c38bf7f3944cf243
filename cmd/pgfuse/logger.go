package main

import (
	"fmt"
	"log"
	"os"

	"github.com/RackSec/srslog"

	"github.com/armos-pg/pgfuse/internal/pgfs"
)

// syslogLogger implements pgfs.Logger over an RackSec/srslog writer, one
// syslog() call per handler entry or failure, matching pgfuse.c's direct
// syslog(LOG_INFO, ...)/syslog(LOG_ERR, ...)/syslog(LOG_CRIT, ...) call
// sites. When no syslog daemon is reachable at startup, every level falls
// back to a local *log.Logger on stderr instead of failing the mount.
type syslogLogger struct {
	w  *srslog.Writer
	bk *log.Logger
}

// newSyslogLogger dials the local syslog daemon tagged "pgfuse"; on failure
// it returns a logger backed only by stderr, since a working mount
// shouldn't depend on syslog being present.
func newSyslogLogger() pgfs.Logger {
	w, err := srslog.New(srslog.LOG_USER|srslog.LOG_INFO, "pgfuse")
	l := &syslogLogger{w: w, bk: log.New(os.Stderr, "pgfuse: ", log.LstdFlags)}
	if err != nil {
		l.w = nil
	}
	return l
}

func (l *syslogLogger) Debugf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.w != nil {
		l.w.Debug(msg)
		return
	}
	l.bk.Print("DEBUG " + msg)
}

func (l *syslogLogger) Infof(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.w != nil {
		l.w.Info(msg)
		return
	}
	l.bk.Print("INFO " + msg)
}

func (l *syslogLogger) Errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.w != nil {
		l.w.Err(msg)
		return
	}
	l.bk.Print("ERROR " + msg)
}

func (l *syslogLogger) Critf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.w != nil {
		l.w.Crit(msg)
		return
	}
	l.bk.Print("CRIT " + msg)
}
