package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/magi-os/sessiond/pkg/errors"
	"github.com/magi-os/sessiond/pkg/probe"
	"github.com/magi-os/sessiond/pkg/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Simple test logger that implements logging.Logger interface
type TestLogger struct{}

func (l *TestLogger) Debugf(format string, args ...interface{}) {}
func (l *TestLogger) Infof(format string, args ...interface{})  {}
func (l *TestLogger) Warnf(format string, args ...interface{})  {}
func (l *TestLogger) Errorf(format string, args ...interface{}) {}

func requirePOSIXShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses /bin/sh")
	}
}

func newTestConfig(t *testing.T, units ...UnitConfig) Config {
	t.Helper()
	config := Config{
		Session: SessionOptions{
			CacheDir:        t.TempDir(),
			LogLevel:        "info",
			CrashWindow:     time.Minute,
			CrashThreshold:  5,
			Cooldown:        time.Hour,
			RestartDelay:    10 * time.Millisecond,
			OutputTailLines: 10,
			GracefulTimeout: 2 * time.Second,
		},
		Units: units,
	}
	setConfigDefaults(&config)
	return config
}

func shellUnit(id, script string) UnitConfig {
	return UnitConfig{
		ID:      id,
		Command: []string{"/bin/sh", "-c", script},
	}
}

type sessionRecord struct {
	unit   string
	event  Event
	detail string
}

var recordPattern = regexp.MustCompile(`unit=(\S+) event=(\S+)(?: detail=(".*"))?$`)

func readSessionRecords(t *testing.T, s *Supervisor) []sessionRecord {
	t.Helper()
	require.NotNil(t, s.crashLog, "session must have run")

	data, err := os.ReadFile(s.crashLog.Path())
	require.NoError(t, err)

	var records []sessionRecord
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		match := recordPattern.FindStringSubmatch(line)
		require.NotNil(t, match, "unparseable session record: %q", line)
		record := sessionRecord{unit: match[1], event: Event(match[2])}
		if match[3] != "" {
			record.detail, err = strconv.Unquote(match[3])
			require.NoError(t, err)
		}
		records = append(records, record)
	}
	return records
}

func eventsForUnit(records []sessionRecord, unitID string) []Event {
	var events []Event
	for _, record := range records {
		if record.unit == unitID {
			events = append(events, record.event)
		}
	}
	return events
}

func countEvents(records []sessionRecord, unitID string, event Event) int {
	count := 0
	for _, record := range records {
		if record.unit == unitID && record.event == event {
			count++
		}
	}
	return count
}

func runSessionForTest(t *testing.T, ctx context.Context, config Config) *Supervisor {
	t.Helper()
	supervisor, err := New(config, &TestLogger{})
	require.NoError(t, err)
	require.NoError(t, supervisor.Run(ctx))
	return supervisor
}

func TestNew_RejectsInvalidInput(t *testing.T) {
	_, err := New(Config{}, &TestLogger{})
	assert.Error(t, err, "config without units must be rejected")

	_, err = New(newTestConfig(t, shellUnit("shell", "exit 0")), nil)
	assert.Error(t, err, "nil logger must be rejected")
}

func TestSupervisor_PrimaryCleanExitEndsSession(t *testing.T) {
	requirePOSIXShell(t)

	config := newTestConfig(t, shellUnit("shell", "exit 0"))
	supervisor := runSessionForTest(t, context.Background(), config)

	records := readSessionRecords(t, supervisor)
	assert.Equal(t, []Event{EventStarted, EventExited, EventStopped}, eventsForUnit(records, "shell"))
}

func TestSupervisor_PrimaryFailureWithNeverPolicyEndsSession(t *testing.T) {
	requirePOSIXShell(t)

	config := newTestConfig(t, shellUnit("shell", "echo boom; exit 3"))
	supervisor := runSessionForTest(t, context.Background(), config)

	records := readSessionRecords(t, supervisor)
	assert.Equal(t, []Event{EventStarted, EventExited, EventStopped}, eventsForUnit(records, "shell"))

	for _, record := range records {
		if record.event == EventExited {
			assert.Contains(t, record.detail, "exit_code=3")
			assert.Contains(t, record.detail, "boom", "exit record carries the output tail")
		}
	}
}

func TestSupervisor_StartupOrderFollowsUnitOrder(t *testing.T) {
	requirePOSIXShell(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := newTestConfig(t,
		UnitConfig{
			ID:      "service",
			Command: []string{"/bin/sh", "-c", "sleep 30"},
			Readiness: &probe.Spec{
				Kind:         probe.KindHTTPGet,
				Target:       server.URL,
				PollInterval: 50 * time.Millisecond,
				Timeout:      5 * time.Second,
			},
		},
		shellUnit("shell", "exit 0"),
	)
	supervisor := runSessionForTest(t, context.Background(), config)

	records := readSessionRecords(t, supervisor)

	var startedOrder []string
	for _, record := range records {
		if record.event == EventStarted {
			startedOrder = append(startedOrder, record.unit)
		}
	}
	assert.Equal(t, []string{"service", "shell"}, startedOrder)
	assert.Zero(t, countEvents(records, "service", EventProbeTimeout))

	// The long-running service is torn down once the primary stops.
	assert.Equal(t, 1, countEvents(records, "service", EventStopped))
}

func TestSupervisor_ProbeTimeoutContinuesStartup(t *testing.T) {
	requirePOSIXShell(t)

	config := newTestConfig(t,
		UnitConfig{
			ID:      "service",
			Command: []string{"/bin/sh", "-c", "sleep 30"},
			Readiness: &probe.Spec{
				Kind:         probe.KindHTTPGet,
				Target:       "http://127.0.0.1:1/status",
				PollInterval: 50 * time.Millisecond,
				Timeout:      200 * time.Millisecond,
			},
		},
		shellUnit("shell", "exit 0"),
	)
	supervisor := runSessionForTest(t, context.Background(), config)

	records := readSessionRecords(t, supervisor)
	assert.Equal(t, 1, countEvents(records, "service", EventProbeTimeout))
	assert.Equal(t, 1, countEvents(records, "shell", EventStarted), "startup continues past a timed-out probe")
}

func TestSupervisor_OnFailureRestartsUntilCleanExit(t *testing.T) {
	requirePOSIXShell(t)

	marker := filepath.Join(t.TempDir(), "marker")
	script := fmt.Sprintf("if [ ! -f %s ]; then touch %s; exit 1; fi; exit 0", marker, marker)

	unit := shellUnit("shell", script)
	unit.RestartPolicy = RestartOnFailure

	config := newTestConfig(t, unit)
	supervisor := runSessionForTest(t, context.Background(), config)

	records := readSessionRecords(t, supervisor)
	assert.Equal(t, []Event{
		EventStarted, EventExited, // first run fails
		EventStarted, EventExited, // second run succeeds
		EventStopped,
	}, eventsForUnit(records, "shell"))
}

func TestSupervisor_AlwaysPolicyRestartsAfterCleanExit(t *testing.T) {
	requirePOSIXShell(t)

	unit := shellUnit("shell", "exit 0")
	unit.RestartPolicy = RestartAlways

	config := newTestConfig(t, unit)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	supervisor := runSessionForTest(t, ctx, config)

	records := readSessionRecords(t, supervisor)
	assert.GreaterOrEqual(t, countEvents(records, "shell", EventStarted), 2,
		"always policy restarts even after exit code 0")
	assert.Equal(t, 1, countEvents(records, "shell", EventStopped))
}

func TestSupervisor_ShutdownTerminatesChildren(t *testing.T) {
	requirePOSIXShell(t)

	unit := shellUnit("shell", "sleep 300")
	unit.RestartPolicy = RestartAlways

	config := newTestConfig(t, unit)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	supervisor := runSessionForTest(t, ctx, config)
	assert.Less(t, time.Since(start), 5*time.Second, "shutdown must not wait out the sleep")

	records := readSessionRecords(t, supervisor)
	assert.Equal(t, 1, countEvents(records, "shell", EventStopped))

	// The child process group is gone.
	for _, record := range records {
		if record.unit == "shell" && record.event == EventStarted {
			var pid, generation int
			_, err := fmt.Sscanf(record.detail, "pid=%d generation=%d", &pid, &generation)
			require.NoError(t, err)
			assert.Eventually(t, func() bool {
				return !process.IsProcessRunning(pid)
			}, 2*time.Second, 50*time.Millisecond, "PID %d should be terminated", pid)
		}
	}
}

func TestSupervisor_CrashLoopEntersCooldown(t *testing.T) {
	requirePOSIXShell(t)

	unit := shellUnit("shell", "exit 1")
	unit.RestartPolicy = RestartAlways

	config := newTestConfig(t, unit)
	config.Session.CrashThreshold = 2
	config.Session.RestartDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	supervisor := runSessionForTest(t, ctx, config)
	assert.Less(t, time.Since(start), 10*time.Second, "shutdown interrupts the cooldown sleep")

	records := readSessionRecords(t, supervisor)
	assert.GreaterOrEqual(t, countEvents(records, "shell", EventCooldownEntered), 1)
	assert.GreaterOrEqual(t, countEvents(records, "shell", EventExited), 2)
}

func TestSupervisor_SpawnErrorCountsTowardCrashLoop(t *testing.T) {
	unit := UnitConfig{
		ID:            "shell",
		Command:       []string{"/nonexistent-binary-for-test"},
		RestartPolicy: RestartAlways,
	}

	config := newTestConfig(t, unit)
	config.Session.CrashThreshold = 2
	config.Session.RestartDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	supervisor := runSessionForTest(t, ctx, config)

	records := readSessionRecords(t, supervisor)
	assert.GreaterOrEqual(t, countEvents(records, "shell", EventSpawnError), 2)
	assert.GreaterOrEqual(t, countEvents(records, "shell", EventCooldownEntered), 1,
		"failed spawns count as exits for crash-loop detection")
	assert.Zero(t, countEvents(records, "shell", EventStarted))
}

func TestSupervisor_AuxiliarySpawnFailureDoesNotAbortStartup(t *testing.T) {
	requirePOSIXShell(t)

	config := newTestConfig(t,
		UnitConfig{ID: "service", Command: []string{"/nonexistent-binary-for-test"}},
		shellUnit("shell", "exit 0"),
	)
	supervisor := runSessionForTest(t, context.Background(), config)

	records := readSessionRecords(t, supervisor)
	assert.Equal(t, []Event{EventSpawnError, EventStopped}, eventsForUnit(records, "service"))
	assert.Equal(t, []Event{EventStarted, EventExited, EventStopped}, eventsForUnit(records, "shell"))
}

func TestSupervisor_PIDFileGuardsAgainstConcurrentSessions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on PID 1 being alive")
	}

	config := newTestConfig(t, shellUnit("shell", "exit 0"))

	pidFile := filepath.Join(config.Session.CacheDir, pidFileName)
	require.NoError(t, os.WriteFile(pidFile, []byte("1\n"), 0o644))

	supervisor, err := New(config, &TestLogger{})
	require.NoError(t, err)

	err = supervisor.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
}

func TestSupervisor_RemovesPIDFileAfterRun(t *testing.T) {
	requirePOSIXShell(t)

	config := newTestConfig(t, shellUnit("shell", "exit 0"))
	runSessionForTest(t, context.Background(), config)

	_, err := os.Stat(filepath.Join(config.Session.CacheDir, pidFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestSupervisor_EnvironmentOverlay(t *testing.T) {
	requirePOSIXShell(t)

	outFile := filepath.Join(t.TempDir(), "env.out")
	unit := shellUnit("shell", fmt.Sprintf(`echo "$MAGI_TEST_VALUE" > %s`, outFile))
	unit.Environment = []string{"MAGI_TEST_VALUE=overlay-wins"}

	config := newTestConfig(t, unit)
	runSessionForTest(t, context.Background(), config)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "overlay-wins", strings.TrimSpace(string(data)))
}
