// Package supervisor runs the listener lifecycle: start from fresh
// settings, watch for the restart signal, drain, rebuild, restart.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailfold/mailfold/internal/audit"
	"github.com/mailfold/mailfold/internal/metrics"
	"github.com/mailfold/mailfold/internal/settings"
)

// State is the supervisor lifecycle state.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateRestarting
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Defaults for the control loop intervals.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultRestartBackoff = 5 * time.Second
)

// Listener is the protocol listener run by the supervisor. ListenAndServe
// blocks until the context is cancelled (returning nil) or the listener
// fails.
type Listener interface {
	ListenAndServe(ctx context.Context) error
}

// ListenerFactory builds a fresh listener from a settings snapshot. It is
// invoked once per start cycle so a rebuilt listener picks up new settings.
type ListenerFactory func(snapshot *settings.ServerSettings) Listener

// Supervisor drives the listener lifecycle and applies configuration
// changes signalled through the settings store without dropping in-flight
// sessions. It recovers from unexpected failures with a fixed backoff and
// never terminates the process on its own.
type Supervisor struct {
	cache   *settings.Cache
	sink    audit.Sink
	factory ListenerFactory

	pollInterval time.Duration
	backoff      time.Duration

	// marker is the last-observed restart signal; compared with strict
	// greater-than against the stored value.
	marker time.Time
}

// New creates a Supervisor. Zero intervals select the defaults.
func New(cache *settings.Cache, sink audit.Sink, factory ListenerFactory, pollInterval, backoff time.Duration) *Supervisor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if backoff <= 0 {
		backoff = DefaultRestartBackoff
	}
	return &Supervisor{
		cache:        cache,
		sink:         sink,
		factory:      factory,
		pollInterval: pollInterval,
		backoff:      backoff,
	}
}

// Run drives the lifecycle until the context is cancelled. It always
// returns nil: every failure inside a cycle is logged and answered with a
// restart, only cancellation ends the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.runCycle(ctx)

		if ctx.Err() != nil {
			s.setState(StateStopped)
			s.sink.Record(audit.LevelInfo, "Supervisor stopped", nil, "supervisor")
			return nil
		}

		if err != nil {
			// Crash-only recovery: log, back off, start over.
			s.sink.Record(audit.LevelError, "Supervisor cycle failed, restarting", err, "supervisor")
			metrics.Restarts.WithLabelValues("crash").Inc()
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				s.setState(StateStopped)
				return nil
			}
		}
	}
}

// runCycle performs one Starting -> Running -> Draining pass. It returns
// nil when the cycle ended deliberately (restart signal, cancellation) and
// an error when something unexpected broke the cycle.
func (s *Supervisor) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervisor cycle panicked: %v", r)
		}
	}()

	s.setState(StateStarting)

	snapshot := s.cache.Refresh(ctx)
	for _, problem := range snapshot.Validate() {
		// Fail-open, log-loud: the listener starts regardless.
		slog.Error("configuration problem", "problem", problem)
	}

	// Seed the marker from the current stored value so a stale
	// pre-existing signal is not misread as a trigger at boot.
	s.marker = snapshot.RestartRequested

	listener := s.factory(snapshot)

	lnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- listener.ListenAndServe(lnCtx)
	}()

	s.setState(StateRunning)
	s.sink.Record(audit.LevelInfo, "SMTP listener started", nil, "supervisor")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateDraining)
			s.drain(cancel, errCh)
			return nil

		case lnErr := <-errCh:
			if lnErr == nil {
				lnErr = fmt.Errorf("listener exited without error before shutdown")
			}
			// Propagated so Run applies the crash backoff before the
			// next start cycle.
			s.setState(StateRestarting)
			return fmt.Errorf("listener terminated unexpectedly: %w", lnErr)

		case <-ticker.C:
			signal, sigErr := s.cache.RestartSignal(ctx)
			if sigErr != nil {
				slog.Warn("restart signal poll failed", "error", sigErr)
				continue
			}
			if !signal.After(s.marker) {
				continue
			}

			s.marker = signal
			s.sink.Record(audit.LevelInfo,
				"Restart requested, recycling listener",
				nil, "supervisor")
			metrics.Restarts.WithLabelValues("signal").Inc()

			s.setState(StateDraining)
			s.drain(cancel, errCh)
			s.setState(StateRestarting)
			return nil
		}
	}
}

// drain stops the listener and waits for it to finish its in-flight work.
// There is no timeout here beyond the listener's own shutdown cooperation;
// drain errors are logged, never propagated.
func (s *Supervisor) drain(cancel context.CancelFunc, errCh <-chan error) {
	cancel()
	if err := <-errCh; err != nil {
		slog.Warn("error during listener drain", "error", err)
	}
}

// setState records the state transition for logs and metrics.
func (s *Supervisor) setState(state State) {
	metrics.SupervisorState.Set(float64(state))
	slog.Info("supervisor state changed", "state", state.String())
}
