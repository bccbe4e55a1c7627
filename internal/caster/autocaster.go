package caster

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/eikq/arcanum/internal/spellbook"
	"github.com/eikq/arcanum/pkg/audio"
)

// Default pipeline tuning.
const (
	defaultMinScore = 0.45
	defaultMinRMS   = 0.03
	defaultCooldown = 1500 * time.Millisecond
)

// Intent is a single resolved cast, emitted at most once per finalized
// transcript.
type Intent struct {
	SpellID  string
	Accuracy float64 // rescorer score, in [0, 1]
	Loudness float64 // normalized RMS, in [0, 1]
	Power    float64 // effect magnitude, in [0, 1]
	At       time.Time

	// Assist marks casts allowed despite low match confidence (the lexicon
	// fallback was used) or low volume (assist mode let it through).
	Assist bool
}

// Config wires an [AutoCaster].
type Config struct {
	// Book is the spell lexicon. Required.
	Book *spellbook.Book

	// OnCast receives the single intent produced per accepted utterance.
	// Required.
	OnCast func(Intent)

	// OnReject, when non-nil, receives every gate denial with its reason.
	// This is a diagnostics channel — denials are routine, not errors.
	OnReject func(reason Reason, transcript string)

	// MinScore is the rescorer threshold below which the fallback spell is
	// substituted. Defaults to 0.45.
	MinScore float64

	// MinRMS is the raw volume threshold for the gate. Defaults to 0.03.
	MinRMS float64

	// Cooldown is the minimum time between two casts. Defaults to 1.5s.
	Cooldown time.Duration

	// AlwaysCast enables assist mode: volume denials become reduced-power
	// casts instead of rejections.
	AlwaysCast bool

	// Hotword, when non-empty, must be spoken in the utterance. It is
	// stripped before spell matching.
	Hotword string

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// AutoCaster orchestrates rescorer → gate → power for every finalized
// recognizer event. It owns the cast history and serializes evaluations, so
// rapid-fire finals from the recognizer cannot race the cooldown memory.
type AutoCaster struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	hist History
}

// New validates cfg and returns an AutoCaster.
func New(cfg Config) (*AutoCaster, error) {
	if cfg.Book == nil {
		return nil, errors.New("caster: Book must not be nil")
	}
	if cfg.OnCast == nil {
		return nil, errors.New("caster: OnCast must not be nil")
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaultMinScore
	}
	if cfg.MinRMS <= 0 {
		cfg.MinRMS = defaultMinRMS
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &AutoCaster{cfg: cfg, now: now}, nil
}

// OnFinal processes one finalized transcript together with the energy
// reading sampled during the utterance. It emits exactly one intent via
// OnCast, or one denial via OnReject. Interim transcripts must not be passed
// here — feed them to UI code only.
func (a *AutoCaster) OnFinal(text string, reading audio.Reading) {
	a.mu.Lock()
	defer a.mu.Unlock()

	match := a.cfg.Book.BestOrFallback(a.stripHotword(text), a.cfg.MinScore)

	verdict := Evaluate(GateInput{
		IsFinal:        true,
		Transcript:     text,
		Now:            a.now(),
		RMS:            reading.RMS,
		NormRMS:        reading.Norm,
		History:        a.hist,
		Cooldown:       a.cfg.Cooldown,
		MinRMS:         a.cfg.MinRMS,
		AlwaysCast:     a.cfg.AlwaysCast,
		HotwordEnabled: a.cfg.Hotword != "",
		Hotword:        a.cfg.Hotword,
	})
	if !verdict.OK {
		if a.cfg.OnReject != nil {
			a.cfg.OnReject(verdict.Reason, text)
		}
		return
	}

	at := a.now()
	a.hist = History{LastCastAt: at, LastTranscript: text}

	a.cfg.OnCast(Intent{
		SpellID:  match.Entry.ID,
		Accuracy: match.Score,
		Loudness: reading.Norm,
		Power:    Power(match.Score, reading.Norm, match.Matched),
		At:       at,
		Assist:   verdict.Assist || !match.Matched,
	})
}

// ResetHistory clears the cooldown/duplicate memory between rematches.
func (a *AutoCaster) ResetHistory() {
	a.mu.Lock()
	a.hist.Reset()
	a.mu.Unlock()
}

// stripHotword removes the first occurrence of the hotword so "cast
// stupefy" matches against "stupefy", not the whole phrase.
func (a *AutoCaster) stripHotword(text string) string {
	if a.cfg.Hotword == "" {
		return text
	}
	norm := spellbook.Normalize(text)
	hot := spellbook.Normalize(a.cfg.Hotword)
	if hot == "" {
		return text
	}
	if idx := strings.Index(norm, hot); idx >= 0 {
		return strings.TrimSpace(norm[:idx] + " " + norm[idx+len(hot):])
	}
	return text
}
