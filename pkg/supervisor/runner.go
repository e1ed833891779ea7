package supervisor

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/magi-os/sessiond/pkg/errors"
	"github.com/magi-os/sessiond/pkg/logging"
)

// RunSession is the top-level entry point used by the CLI: it loads the
// configuration, builds the supervisor, and runs one session until the
// primary unit stops, a termination signal arrives, or the optional run
// duration elapses. logLevel, when non-empty, overrides the configured
// level.
func RunSession(runDuration int, configFile string, logLevel string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}
	if logLevel != "" {
		config.Session.LogLevel = logLevel
	}
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	zapLogger, flush, err := logging.NewZapLogger(config.Session.LogLevel)
	if err != nil {
		return errors.NewInternalError("failed to create logger", err)
	}
	defer flush()

	sessionLogger := logging.NewLogger("session , ", logging.LogFuncs{
		Debugf: zapLogger.Debugf,
		Infof:  zapLogger.Infof,
		Warnf:  zapLogger.Warnf,
		Errorf: zapLogger.Errorf,
	})

	sessionLogger.Infof("Session runner starting...")
	sessionLogger.Infof("Using CONFIGURATION FILE: %s", configFile)
	sessionLogger.Infof("Configuration loaded, units: %d", len(config.Units))

	ctx := context.Background()
	var cancelTimeout context.CancelFunc
	if runDuration > 0 {
		duration := time.Duration(runDuration) * time.Second
		sessionLogger.Infof("Using RUN DURATION of %v", duration)
		ctx, cancelTimeout = context.WithTimeout(ctx, duration)
		defer cancelTimeout()
	}

	supervisor, err := New(*config, sessionLogger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	go func() {
		select {
		case receivedSignal := <-sig:
			sessionLogger.Infof("Session runner received signal: %v", receivedSignal)
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := supervisor.Run(runCtx); err != nil {
		return err
	}

	sessionLogger.Infof("Session runner stopped")
	return nil
}
