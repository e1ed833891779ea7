package supervisor

import (
	"os"
	"sync"
	"time"

	"github.com/magi-os/sessiond/pkg/logging"
)

// exitResult is what the wait goroutine reports when a child is gone.
type exitResult struct {
	code   int
	status string
	err    error
}

// unit pairs an immutable UnitConfig with the mutable run state of its
// current process. The supervisor that created it is the only writer.
type unit struct {
	config  UnitConfig
	logger  logging.Logger
	tracker *CrashTracker

	mutex      sync.Mutex
	process    *os.Process
	done       chan exitResult
	tail       *OutputTail
	drainDone  chan struct{}
	lastStart  time.Time
	lastExit   *exitResult
	generation int
}

func (u *unit) ID() string {
	return u.config.ID
}

// setRunning installs a freshly spawned process and returns the new
// restart-loop generation.
func (u *unit) setRunning(proc *os.Process, done chan exitResult, tail *OutputTail, drainDone chan struct{}) int {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.process = proc
	u.done = done
	u.tail = tail
	u.drainDone = drainDone
	u.lastStart = time.Now()
	u.generation++
	return u.generation
}

// awaitDrain waits for the capture goroutine to see pipe EOF, so an
// exit record includes the child's final output. Bounded: a grandchild
// holding the pipe open must not stall the restart loop.
func (u *unit) awaitDrain(limit time.Duration) {
	u.mutex.Lock()
	drainDone := u.drainDone
	u.mutex.Unlock()

	if drainDone == nil {
		return
	}
	select {
	case <-drainDone:
	case <-time.After(limit):
	}
}

func (u *unit) markExited(res exitResult) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.process = nil
	u.lastExit = &res
}

// current returns the live process handle and its exit channel, or nil
// when nothing is running.
func (u *unit) current() (*os.Process, chan exitResult) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	return u.process, u.done
}

func (u *unit) doneChan() chan exitResult {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	return u.done
}

func (u *unit) currentTail() *OutputTail {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	return u.tail
}

func (u *unit) pid() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.process == nil {
		return 0
	}
	return u.process.Pid
}
