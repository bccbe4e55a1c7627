package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the supervisor's lifecycle state. The machine is strictly
// idle → (retrying ↔ active) → failed; there is no hidden restart once
// failed is reached.
type State string

const (
	StateIdle     State = "idle"
	StateRetrying State = "retrying"
	StateActive   State = "active"
	StateFailed   State = "failed"
)

// Default supervision parameters.
const (
	defaultMaxRestarts    = 5
	defaultRestartBackoff = 1 * time.Second
)

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	// Recognizer opens the underlying sessions.
	Recognizer Recognizer

	// Stream is passed to every session start.
	Stream StreamConfig

	// OnResult receives every hypothesis. Must be non-nil.
	OnResult func(Result)

	// OnState observes state transitions. May be nil.
	OnState func(State)

	// MaxRestarts bounds consecutive failed session starts. A session that
	// reaches active resets the budget, so routine no-speech restarts can
	// continue indefinitely. Defaults to 5.
	MaxRestarts int

	// RestartBackoff is the fixed delay before each restart. Defaults to 1s.
	RestartBackoff time.Duration
}

// Supervisor keeps one recognition stream alive. Recognition services end
// streams routinely (silence timeouts, connection recycling); the supervisor
// restarts those silently. Permanent failures ([ErrPermanent]) and an
// exhausted restart budget park the machine in failed.
type Supervisor struct {
	cfg SupervisorConfig

	mu      sync.Mutex
	state   State
	session Session
}

// NewSupervisor creates a supervisor in the idle state.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("speech: supervisor needs a recognizer")
	}
	if cfg.OnResult == nil {
		return nil, fmt.Errorf("speech: supervisor needs an OnResult callback")
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = defaultRestartBackoff
	}
	return &Supervisor{cfg: cfg, state: StateIdle}, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SendAudio forwards one PCM chunk to the live session. Chunks arriving
// between sessions are dropped; speech across a restart boundary is lost
// anyway.
func (s *Supervisor) SendAudio(chunk []byte) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.SendAudio(chunk)
}

// Run drives the session lifecycle until ctx is cancelled or the machine
// fails. It returns nil on cancellation and the terminal error on failure.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.clearSession()

	restarts := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.setState(StateRetrying)

		sess, err := s.cfg.Recognizer.Start(ctx, s.cfg.Stream)
		if err != nil {
			if isPermanent(err) {
				s.setState(StateFailed)
				return fmt.Errorf("speech: recognizer failed permanently: %w", err)
			}
			restarts++
			if restarts > s.cfg.MaxRestarts {
				s.setState(StateFailed)
				return fmt.Errorf("speech: recognizer failed %d consecutive starts: %w", restarts, err)
			}
			slog.Warn("recognizer start failed, retrying",
				"attempt", restarts, "max", s.cfg.MaxRestarts, "error", err)
			if !sleepCtx(ctx, s.cfg.RestartBackoff) {
				return nil
			}
			continue
		}

		restarts = 0
		s.mu.Lock()
		s.session = sess
		s.mu.Unlock()
		s.setState(StateActive)

		// Pump until the stream ends. A closed channel is a routine end
		// of stream, not an error; loop around and restart silently.
		for r := range sess.Results() {
			s.cfg.OnResult(r)
		}
		sess.Close()
		s.clearSession()

		if ctx.Err() != nil {
			return nil
		}
		slog.Debug("recognition stream ended, restarting")
	}
}

func (s *Supervisor) clearSession() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed && s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

func isPermanent(err error) bool {
	return err != nil && errors.Is(err, ErrPermanent)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
