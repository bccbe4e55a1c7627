// Package speech defines the streaming speech-recognition contract used by
// the casting pipeline, plus a supervisor that keeps a recognizer session
// alive across routine restarts without retrying permanent failures.
package speech

import (
	"context"
	"errors"
)

// Result is one recognition hypothesis. Interim results carry IsFinal=false
// and may be revised; a final result closes the utterance.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// KeywordBoost biases recognition toward a domain word.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// StreamConfig configures one recognition session.
type StreamConfig struct {
	// SampleRate of the PCM input in Hz.
	SampleRate int

	// Language is a BCP-47 code. Empty means the recognizer's default.
	Language string

	// Keywords bias recognition toward the spell lexicon.
	Keywords []KeywordBoost
}

// Session is one live recognition stream. Results is closed when the stream
// ends, whether by Close or by the service hanging up.
type Session interface {
	// SendAudio queues one PCM chunk. Returns an error once closed.
	SendAudio(chunk []byte) error

	// Results delivers interim and final hypotheses in order.
	Results() <-chan Result

	Close() error
}

// Recognizer opens recognition sessions.
type Recognizer interface {
	Start(ctx context.Context, cfg StreamConfig) (Session, error)
}

// ErrPermanent marks failures that restarting cannot fix: bad credentials,
// missing microphone permission. Implementations wrap it; the supervisor
// checks it with errors.Is and gives up immediately.
var ErrPermanent = errors.New("speech: permanent failure")
