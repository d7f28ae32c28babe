package rtspsession

import "log"

// LogLevel classifies a logged event, mirroring the severities the
// teacher's ServerHandler callbacks imply (OnConnClose/OnPacketLost/
// OnDecodeError carry different weights even though the teacher routes
// them all through a single handler interface).
type LogLevel int

// Levels, low to high.
const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// Logger receives every anomaly and lifecycle event a Session produces:
// dropped RTP packets, audio-drift adjustments, decode errors,
// termination causes. The teacher routes the same kind of events
// through callback fields on ServerHandler
// (OnPacketLost/OnDecodeError/OnStreamWriteError in server_session.go)
// that fall back to nothing if unset; here they are collected behind
// one interface with a default backed by the standard log package,
// since the teacher itself never reaches for a structured-logging
// library (see DESIGN.md).
type Logger interface {
	Log(level LogLevel, format string, args ...interface{})
}

// StdLogger is the default Logger, printing through log.Printf.
type StdLogger struct{}

// Log implements Logger.
func (StdLogger) Log(level LogLevel, format string, args ...interface{}) {
	prefix := "[INFO] "
	switch level {
	case LogDebug:
		prefix = "[DEBUG] "
	case LogWarn:
		prefix = "[WARN] "
	case LogError:
		prefix = "[ERROR] "
	}
	log.Printf(prefix+format, args...)
}

// NopLogger discards everything.
type NopLogger struct{}

// Log implements Logger.
func (NopLogger) Log(LogLevel, string, ...interface{}) {}
