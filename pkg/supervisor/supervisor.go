package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/magi-os/sessiond/pkg/errors"
	"github.com/magi-os/sessiond/pkg/logging"
	"github.com/magi-os/sessiond/pkg/probe"
	"github.com/magi-os/sessiond/pkg/process"
)

// killWaitTimeout is how long a unit loop waits for the wait goroutine
// to report after SIGKILL. Survival past this point means an
// unkillable (likely D-state) child; the loop gives up rather than
// hang shutdown forever.
const killWaitTimeout = 2 * time.Second

// pidFileName holds this supervisor's own PID inside the cache
// directory, guarding against two sessions fighting over the same
// processes.
const pidFileName = "sessiond.pid"

// staleListenerWait bounds how long conflict-port cleanup waits for a
// stale listener to die after SIGTERM before escalating.
const staleListenerWait = 3 * time.Second

// Supervisor starts the configured units in order, gates startup on
// their readiness probes, and keeps each unit running according to its
// restart policy until the primary (last) unit stops or the context is
// cancelled.
type Supervisor struct {
	config Config
	logger logging.Logger
	units  []*unit

	crashLog *CrashLogger
}

// New validates the configuration and builds a supervisor. Nothing is
// spawned until Run.
func New(config Config, logger logging.Logger) (*Supervisor, error) {
	if logger == nil {
		return nil, errors.NewValidationError("logger cannot be nil", nil)
	}
	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	supervisor := &Supervisor{
		config: config,
		logger: logger,
	}

	for i := range config.Units {
		unitConfig := config.Units[i]
		unitLogger := logging.NewLogger("unit: "+unitConfig.ID+" , ", logging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
		supervisor.units = append(supervisor.units, &unit{
			config:  unitConfig,
			logger:  unitLogger,
			tracker: NewCrashTracker(config.Session.CrashWindow),
		})
	}

	return supervisor, nil
}

// Run executes one session: serial ordered startup with probe gating,
// then per-unit supervision until the primary unit reaches a stopped
// state or ctx is cancelled. Run blocks for the whole session and
// returns after all children are down and the session log is flushed.
func (s *Supervisor) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	crashLog, err := NewCrashLogger(s.config.Session.CacheDir, time.Now())
	if err != nil {
		return err
	}
	s.crashLog = crashLog
	defer func() {
		if err := crashLog.Close(); err != nil {
			s.logger.Warnf("Failed to close session log: %v", err)
		}
	}()

	pidFile := filepath.Join(s.config.Session.CacheDir, pidFileName)
	if err := process.WritePIDFile(pidFile); err != nil {
		return err
	}
	defer func() {
		if err := process.RemovePIDFile(pidFile); err != nil {
			s.logger.Warnf("Failed to remove PID file: %v", err)
		}
	}()

	s.logger.Infof("Session %s starting, units: %d, session log: %s",
		crashLog.SessionID(), len(s.units), crashLog.Path())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	primaryDone := make(chan struct{})
	primaryIndex := len(s.units) - 1

	for i, u := range s.units {
		if runCtx.Err() != nil {
			break
		}
		isPrimary := i == primaryIndex

		if u.config.ConflictPort > 0 {
			s.clearConflictPort(u)
		}

		started := true
		if err := s.startUnit(runCtx, u); err != nil {
			started = false
			u.logger.Errorf("Failed to spawn unit: %v", err)
			s.record(u, EventSpawnError, err.Error())
			u.tracker.RecordExit()
			if !isPrimary && u.config.RestartPolicy == RestartNever {
				// Startup continues degraded; later units may still be useful.
				s.record(u, EventStopped, "restart policy never")
				continue
			}
		}

		wg.Add(1)
		go func(u *unit, running, isPrimary bool) {
			defer wg.Done()
			s.superviseUnit(runCtx, u, running)
			if isPrimary {
				close(primaryDone)
			}
		}(u, started, isPrimary)

		if started && u.config.Readiness != nil {
			s.awaitReadiness(runCtx, u)
		}
	}

	select {
	case <-primaryDone:
		s.logger.Infof("Primary unit stopped, ending session")
	case <-runCtx.Done():
		s.logger.Infof("Shutdown requested, stopping units")
	}

	cancel()
	s.waitForUnits(&wg)

	if err := crashLog.Sync(); err != nil {
		s.logger.Warnf("Failed to flush session log: %v", err)
	}
	s.logger.Infof("Session %s stopped", crashLog.SessionID())
	return nil
}

// awaitReadiness blocks the startup sequence on the unit's probe. A
// timed-out probe is recorded and startup continues; only supervisor
// shutdown aborts the wait.
func (s *Supervisor) awaitReadiness(ctx context.Context, u *unit) {
	spec := *u.config.Readiness
	switch probe.AwaitReady(ctx, spec, u.pid(), u.logger) {
	case probe.OutcomeReady:
		u.logger.Infof("Unit is ready")
	case probe.OutcomeTimedOut:
		u.logger.Warnf("Readiness probe timed out after %v, continuing startup", spec.Timeout)
		s.record(u, EventProbeTimeout, fmt.Sprintf("kind=%s target=%s timeout=%s", spec.Kind, spec.Target, spec.Timeout))
	case probe.OutcomeCancelled:
		// Shutdown won the race; the startup loop unwinds on the next iteration.
	}
}

// superviseUnit owns a unit's lifecycle from (attempted) first spawn to
// its stopped record. running says whether the caller already has a
// live process for this unit.
func (s *Supervisor) superviseUnit(ctx context.Context, u *unit, running bool) {
	for {
		if !running {
			if u.config.RestartPolicy == RestartNever {
				s.record(u, EventStopped, "restart policy never")
				return
			}
			if !s.backoff(ctx, u) {
				s.record(u, EventStopped, "shutdown")
				return
			}
			if err := s.startUnit(ctx, u); err != nil {
				u.logger.Errorf("Failed to respawn unit: %v", err)
				s.record(u, EventSpawnError, err.Error())
				u.tracker.RecordExit()
				continue
			}
			running = true
		}

		select {
		case res := <-u.doneChan():
			running = false
			u.awaitDrain(500 * time.Millisecond)
			tail := u.currentTail()
			u.markExited(res)
			u.logger.Warnf("Unit exited, code: %d", res.code)
			s.record(u, EventExited, exitDetail(res, tail))
			u.tracker.RecordExit()
			if res.code == 0 && u.config.RestartPolicy != RestartAlways {
				s.record(u, EventStopped, "clean exit")
				return
			}
		case <-ctx.Done():
			s.stopUnit(u)
			s.record(u, EventStopped, "shutdown")
			return
		}
	}
}

// backoff sleeps between restart attempts. When the exit count inside
// the crash window reaches the threshold, the delay stretches to the
// cool-down period. Returns false if the context was cancelled before
// the delay elapsed.
func (s *Supervisor) backoff(ctx context.Context, u *unit) bool {
	session := s.config.Session
	if count := u.tracker.Count(); count >= session.CrashThreshold {
		u.logger.Warnf("Crash loop detected, exits in window: %d, cooling down for %v", count, session.Cooldown)
		s.record(u, EventCooldownEntered,
			fmt.Sprintf("exits_in_window=%d window=%s cooldown=%s", count, session.CrashWindow, session.Cooldown))
		return sleepCtx(ctx, session.Cooldown)
	}
	return sleepCtx(ctx, session.RestartDelay)
}

// startUnit spawns the unit's process and wires up the output capture
// and wait goroutines. The tail is per-generation: records for one run
// never carry output from a previous one.
func (s *Supervisor) startUnit(ctx context.Context, u *unit) error {
	tail := NewOutputTail(s.config.Session.OutputTailLines)

	proc, stdout, err := process.Spawn(ctx, process.SpawnConfig{
		Command:          u.config.Command,
		WorkingDirectory: u.config.WorkingDirectory,
		Environment:      u.config.Environment,
	}, u.config.ID, u.logger)
	if err != nil {
		return err
	}

	done := make(chan exitResult, 1)
	drainDone := make(chan struct{})
	generation := u.setRunning(proc, done, tail, drainDone)

	go func() {
		defer close(drainDone)
		tail.Drain(stdout)
		stdout.Close()
	}()

	go func() {
		state, waitErr := proc.Wait()
		res := exitResult{code: -1, err: waitErr}
		if state != nil {
			res.code = state.ExitCode()
			res.status = state.String()
		}
		done <- res
	}()

	u.logger.Infof("Unit started, PID: %d", proc.Pid)
	s.record(u, EventStarted, fmt.Sprintf("pid=%d generation=%d", proc.Pid, generation))
	return nil
}

// stopUnit runs the termination ladder for a unit's current process:
// SIGTERM to the group, a graceful wait, then SIGKILL.
func (s *Supervisor) stopUnit(u *unit) {
	proc, done := u.current()
	if proc == nil {
		return
	}
	timeout := s.config.Session.GracefulTimeout

	u.logger.Infof("Terminating unit, PID: %d", proc.Pid)
	if err := process.SendTerminationSignal(proc.Pid); err != nil {
		u.logger.Debugf("Termination signal failed, PID: %d, error: %v", proc.Pid, err)
	}

	select {
	case res := <-done:
		u.markExited(res)
		return
	case <-time.After(timeout):
	}

	u.logger.Warnf("Unit did not exit within %v, killing PID %d", timeout, proc.Pid)
	if err := process.SendKillSignal(proc.Pid); err != nil {
		u.logger.Debugf("Kill signal failed, PID: %d, error: %v", proc.Pid, err)
	}

	select {
	case res := <-done:
		u.markExited(res)
	case <-time.After(killWaitTimeout):
		u.logger.Errorf("PID %d survived kill escalation", proc.Pid)
	}
}

// clearConflictPort terminates a stale listener occupying the unit's
// declared port. Failures are logged and ignored: the spawn either
// succeeds anyway or the unit's own exit handling reports the problem.
func (s *Supervisor) clearConflictPort(u *unit) {
	port := u.config.ConflictPort

	pid, err := process.FindListenerPID(port)
	if err != nil {
		u.logger.Debugf("Conflict port scan failed, port: %d, error: %v", port, err)
		return
	}
	if pid == 0 || pid == os.Getpid() {
		return
	}

	u.logger.Warnf("Port %d is held by stale PID %d, terminating it", port, pid)
	if err := process.Terminate(pid); err != nil {
		u.logger.Warnf("Failed to terminate stale listener, PID: %d, error: %v", pid, err)
		return
	}

	deadline := time.Now().Add(staleListenerWait)
	for time.Now().Before(deadline) {
		if !process.IsProcessRunning(pid) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	u.logger.Warnf("Stale listener ignored termination, killing PID %d", pid)
	if err := process.ForceKill(pid); err != nil {
		u.logger.Warnf("Failed to kill stale listener, PID: %d, error: %v", pid, err)
	}
}

// waitForUnits waits for all supervise loops to drain, bounded by the
// worst-case termination ladder plus slack.
func (s *Supervisor) waitForUnits(wg *sync.WaitGroup) {
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	limit := s.config.Session.GracefulTimeout + killWaitTimeout + 5*time.Second
	select {
	case <-drained:
	case <-time.After(limit):
		s.logger.Errorf("Timed out waiting for unit loops to stop after %v", limit)
	}
}

func (s *Supervisor) record(u *unit, event Event, detail string) {
	if err := s.crashLog.Record(u.config.ID, event, detail); err != nil {
		u.logger.Warnf("Failed to record %s event: %v", event, err)
	}
}

func exitDetail(res exitResult, tail *OutputTail) string {
	detail := fmt.Sprintf("exit_code=%d", res.code)
	if res.status != "" {
		detail += " status=" + res.status
	}
	if res.err != nil {
		detail += fmt.Sprintf(" wait_error=%v", res.err)
	}
	if tail != nil {
		if output := tail.String(); output != "" {
			detail += "\n" + output
		}
	}
	return detail
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns true if
// the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
