// Package scripted provides a speech.Recognizer that replays a fixed
// sequence of utterances. It backs offline play and deterministic tests
// where a live recognition service is unavailable or unwanted.
package scripted

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eikq/arcanum/pkg/speech"
)

// Line is one scripted utterance. Delay is measured from the previous
// line (or from session start for the first one).
type Line struct {
	Text       string
	Delay      time.Duration
	Confidence float64
}

// Option is a functional option for configuring the Recognizer.
type Option func(*Recognizer)

// WithLoop makes the session replay the script from the top instead of
// ending the stream after the last line.
func WithLoop() Option {
	return func(r *Recognizer) {
		r.loop = true
	}
}

// WithInterim emits an interim hypothesis at half the final confidence
// immediately before each final line.
func WithInterim() Option {
	return func(r *Recognizer) {
		r.interim = true
	}
}

// Recognizer implements speech.Recognizer by replaying a script.
type Recognizer struct {
	lines   []Line
	loop    bool
	interim bool
}

// New creates a scripted recognizer. The script must not be empty.
func New(lines []Line, opts ...Option) (*Recognizer, error) {
	if len(lines) == 0 {
		return nil, errors.New("scripted: script must not be empty")
	}
	r := &Recognizer{lines: lines}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Start begins replaying the script. The stream config is ignored; the
// script already decides what is heard.
func (r *Recognizer) Start(ctx context.Context, _ speech.StreamConfig) (speech.Session, error) {
	sess := &session{
		results: make(chan speech.Result, 8),
		done:    make(chan struct{}),
	}
	go sess.replay(ctx, r)
	return sess, nil
}

type session struct {
	results chan speech.Result

	done chan struct{}
	once sync.Once
}

// SendAudio discards the chunk. The script does not listen.
func (s *session) SendAudio([]byte) error {
	select {
	case <-s.done:
		return errors.New("scripted: session is closed")
	default:
		return nil
	}
}

func (s *session) Results() <-chan speech.Result { return s.results }

func (s *session) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *session) replay(ctx context.Context, r *Recognizer) {
	defer close(s.results)
	for {
		for _, line := range r.lines {
			if !s.sleep(ctx, line.Delay) {
				return
			}
			conf := line.Confidence
			if conf == 0 {
				conf = 1
			}
			if r.interim {
				if !s.emit(ctx, speech.Result{Text: line.Text, Confidence: conf / 2}) {
					return
				}
			}
			if !s.emit(ctx, speech.Result{Text: line.Text, IsFinal: true, Confidence: conf}) {
				return
			}
		}
		if !r.loop {
			return
		}
	}
}

func (s *session) emit(ctx context.Context, res speech.Result) bool {
	select {
	case s.results <- res:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *session) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}
