package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSession struct {
	results chan Result

	mu     sync.Mutex
	audio  [][]byte
	closed bool
}

func (s *fakeSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, chunk)
	return nil
}

func (s *fakeSession) Results() <-chan Result { return s.results }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

// startStep scripts one Recognizer.Start call: either an error, or a session
// preloaded with results. A hold step keeps the results channel open so the
// supervisor stays active until the test cancels.
type startStep struct {
	err     error
	results []Result
	hold    bool
}

type fakeRecognizer struct {
	mu       sync.Mutex
	script   []startStep
	starts   int
	sessions []*fakeSession
}

func (f *fakeRecognizer) Start(ctx context.Context, _ StreamConfig) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step := startStep{hold: true}
	if f.starts < len(f.script) {
		step = f.script[f.starts]
	}
	f.starts++
	if step.err != nil {
		return nil, step.err
	}
	sess := &fakeSession{results: make(chan Result, len(step.results)+1)}
	for _, r := range step.results {
		sess.results <- r
	}
	if step.hold {
		// Held sessions end with the context, as real sessions do.
		go func() {
			<-ctx.Done()
			close(sess.results)
		}()
	} else {
		close(sess.results)
	}
	f.sessions = append(f.sessions, sess)
	return sess, nil
}

func (f *fakeRecognizer) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeRecognizer) lastSession() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not reached within 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSupervisor_SilentRestartResetsBudget(t *testing.T) {
	t.Parallel()

	transient := errors.New("stream hiccup")
	rec := &fakeRecognizer{script: []startStep{
		{err: transient},
		{results: []Result{{Text: "incendio", IsFinal: true, Confidence: 0.9}}},
		{err: transient},
		{results: []Result{{Text: "protego", IsFinal: true, Confidence: 0.8}}},
		{hold: true},
	}}

	var mu sync.Mutex
	var got []Result
	sup, err := NewSupervisor(SupervisorConfig{
		Recognizer: rec,
		OnResult: func(r Result) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		},
		MaxRestarts:    1,
		RestartBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Each successful session resets the budget, so two separate transient
	// failures survive a MaxRestarts of 1.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Text != "incendio" || got[1].Text != "protego" {
		t.Fatalf("results = %+v", got)
	}
}

func TestSupervisor_PermanentFailureStopsImmediately(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{script: []startStep{
		{err: fmt.Errorf("auth rejected: %w", ErrPermanent)},
	}}
	sup, err := NewSupervisor(SupervisorConfig{
		Recognizer:     rec,
		OnResult:       func(Result) {},
		RestartBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	err = sup.Run(context.Background())
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("Run error = %v, want ErrPermanent", err)
	}
	if got := sup.State(); got != StateFailed {
		t.Fatalf("state = %q, want failed", got)
	}
	if n := rec.startCount(); n != 1 {
		t.Fatalf("starts = %d, want 1 (no retry on permanent failure)", n)
	}
}

func TestSupervisor_BudgetExhaustion(t *testing.T) {
	t.Parallel()

	transient := errors.New("connection refused")
	rec := &fakeRecognizer{script: []startStep{
		{err: transient}, {err: transient}, {err: transient}, {err: transient},
	}}
	sup, err := NewSupervisor(SupervisorConfig{
		Recognizer:     rec,
		OnResult:       func(Result) {},
		MaxRestarts:    2,
		RestartBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	err = sup.Run(context.Background())
	if !errors.Is(err, transient) {
		t.Fatalf("Run error = %v, want wrapped transient error", err)
	}
	if got := sup.State(); got != StateFailed {
		t.Fatalf("state = %q, want failed", got)
	}
	if n := rec.startCount(); n != 3 {
		t.Fatalf("starts = %d, want 3 (initial + 2 retries)", n)
	}
}

func TestSupervisor_StateSequence(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{script: []startStep{
		{err: errors.New("cold start")},
		{results: []Result{{Text: "spark", IsFinal: true}}},
		{hold: true},
	}}

	var mu sync.Mutex
	var states []State
	sup, err := NewSupervisor(SupervisorConfig{
		Recognizer: rec,
		OnResult:   func(Result) {},
		OnState: func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
		MaxRestarts:    3,
		RestartBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Failed start does not re-enter retrying, so the sequence collapses to
	// retrying, active, retrying, active.
	want := []State{StateRetrying, StateActive, StateRetrying, StateActive}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= len(want)
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i, st := range want {
		if states[i] != st {
			t.Fatalf("states = %v, want prefix %v", states, want)
		}
	}
}

func TestSupervisor_SendAudio(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{script: []startStep{{hold: true}}}
	sup, err := NewSupervisor(SupervisorConfig{
		Recognizer:     rec,
		OnResult:       func(Result) {},
		RestartBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	// No session yet: audio is dropped, not an error.
	if err := sup.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio while idle: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, func() bool { return sup.State() == StateActive })
	if err := sup.SendAudio([]byte{4, 5, 6}); err != nil {
		t.Fatalf("SendAudio while active: %v", err)
	}
	sess := rec.lastSession()
	waitFor(t, func() bool { return sess.chunks() == 1 })

	cancel()
	<-done
}

func TestNewSupervisor_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewSupervisor(SupervisorConfig{OnResult: func(Result) {}}); err == nil {
		t.Fatal("want error for missing recognizer")
	}
	if _, err := NewSupervisor(SupervisorConfig{Recognizer: &fakeRecognizer{}}); err == nil {
		t.Fatal("want error for missing OnResult")
	}
}
