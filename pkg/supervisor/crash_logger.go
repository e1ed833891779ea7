package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/magi-os/sessiond/pkg/errors"
)

// Event names the lifecycle transitions worth a durable record.
type Event string

const (
	EventStarted         Event = "started"
	EventExited          Event = "exited"
	EventSpawnError      Event = "spawn_error"
	EventProbeTimeout    Event = "probe_timeout"
	EventCooldownEntered Event = "cooldown_entered"
	EventStopped         Event = "stopped"
)

// CrashLogger appends human-readable lifecycle records to one log file
// per session, named by the session start timestamp. Records are
// write-once; nothing in the running process reads them back. Writes
// are serialized so concurrent unit loops cannot interleave lines.
type CrashLogger struct {
	path      string
	sessionID string
	now       func() time.Time

	mutex sync.Mutex
	file  *os.File
}

// NewCrashLogger creates the session log under dir. The session ID is
// derived from the session start time, so consecutive sessions never
// share a file.
func NewCrashLogger(dir string, sessionStart time.Time) (*CrashLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewIOError("failed to create session log directory", err).WithContext("dir", dir)
	}

	sessionID := sessionStart.Format("20060102-150405")
	path := filepath.Join(dir, "session-"+sessionID+".log")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.NewIOError("failed to open session log", err).WithContext("path", path)
	}

	return &CrashLogger{
		path:      path,
		sessionID: sessionID,
		now:       time.Now,
		file:      file,
	}, nil
}

// Record appends one event line. The detail is quoted, so multi-line
// captured output still occupies a single record.
func (l *CrashLogger) Record(unitID string, event Event, detail string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file == nil {
		return errors.NewIOError("session log is closed", nil).WithContext("path", l.path)
	}

	line := fmt.Sprintf("%s session=%s unit=%s event=%s",
		l.now().Format("2006-01-02T15:04:05.000Z07:00"), l.sessionID, unitID, event)
	if detail != "" {
		line += fmt.Sprintf(" detail=%q", detail)
	}
	line += "\n"

	if _, err := l.file.WriteString(line); err != nil {
		return errors.NewIOError("failed to append session log record", err).WithContext("path", l.path)
	}
	return nil
}

// Sync flushes buffered records to disk.
func (l *CrashLogger) Sync() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close flushes and closes the session log. Further records fail.
func (l *CrashLogger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if closeErr := l.file.Close(); err == nil {
		err = closeErr
	}
	l.file = nil
	return err
}

func (l *CrashLogger) Path() string {
	return l.path
}

func (l *CrashLogger) SessionID() string {
	return l.sessionID
}
