// Package caster implements the client-side cast pipeline: the gate that
// decides whether a finalized utterance may cast at all, the power
// calculator that maps accuracy and loudness onto effect magnitude, and the
// auto-caster that sequences the two around the spellbook rescorer.
//
// Gate denials happen at normal operating frequency — most utterances fail
// some check — so they are structured verdicts with machine-readable reason
// codes, never errors.
package caster

import (
	"strings"
	"time"

	"github.com/eikq/arcanum/internal/spellbook"
)

// Reason is a machine-readable gate verdict code.
type Reason string

const (
	ReasonNoFinal        Reason = "NO_FINAL"
	ReasonNoTranscript   Reason = "NO_TRANSCRIPT"
	ReasonHotwordMissing Reason = "HOTWORD_MISSING"
	ReasonOnCooldown     Reason = "ON_COOLDOWN"
	ReasonDuplicate      Reason = "DUPLICATE"
	ReasonLowVolume      Reason = "LOW_VOLUME"

	// ReasonAssistMode marks an ALLOWED cast that failed the volume check
	// but went through anyway because assist mode is enabled.
	ReasonAssistMode Reason = "ASSIST_MODE"
)

const (
	// duplicateWindow is how long an identical transcript after a cast is
	// treated as recognizer stutter rather than a deliberate re-cast.
	duplicateWindow = 500 * time.Millisecond

	// normRMSFloor is the normalized-volume threshold that passes the gate
	// independently of the raw RMS threshold. Raw RMS calibration varies by
	// device; whichever check the hardware can satisfy is accepted.
	normRMSFloor = 0.25
)

// History is the cast memory the gate's cooldown and duplicate checks read.
// It is owned by the caller (one per match session) and passed into every
// evaluation, so the gate itself stays a pure function.
type History struct {
	// LastCastAt is when the previous cast was emitted. Zero means no cast
	// has happened yet.
	LastCastAt time.Time

	// LastTranscript is the finalized transcript of the previous cast.
	LastTranscript string
}

// Reset clears the history, e.g., between rematches.
func (h *History) Reset() {
	*h = History{}
}

// GateInput is everything the gate needs for one decision.
type GateInput struct {
	IsFinal    bool
	Transcript string
	Now        time.Time

	// RMS and NormRMS come from the energy meter reading taken alongside
	// the utterance.
	RMS     float64
	NormRMS float64

	History  History
	Cooldown time.Duration
	MinRMS   float64

	// AlwaysCast converts a volume denial into an assist-tagged allowance.
	// It never bypasses the cooldown.
	AlwaysCast bool

	// Hotword, when HotwordEnabled is set, must appear somewhere in the
	// normalized transcript.
	HotwordEnabled bool
	Hotword        string
}

// Verdict is the gate's decision. Reason is set for every denial and for
// assist-tagged allowances.
type Verdict struct {
	OK     bool
	Assist bool
	Reason Reason
}

// Evaluate runs the gate checks in their fixed rejection order and returns
// the first failure, or an allowance. Evaluate is pure: identical inputs
// always produce identical verdicts, and all mutable state lives in the
// caller's [History].
func Evaluate(in GateInput) Verdict {
	if !in.IsFinal {
		return Verdict{Reason: ReasonNoFinal}
	}

	norm := spellbook.Normalize(in.Transcript)
	if norm == "" {
		return Verdict{Reason: ReasonNoTranscript}
	}

	if in.HotwordEnabled && in.Hotword != "" {
		if !strings.Contains(norm, spellbook.Normalize(in.Hotword)) {
			return Verdict{Reason: ReasonHotwordMissing}
		}
	}

	if !in.History.LastCastAt.IsZero() && in.Now.Sub(in.History.LastCastAt) < in.Cooldown {
		return Verdict{Reason: ReasonOnCooldown}
	}

	if in.History.LastTranscript != "" &&
		in.Transcript == in.History.LastTranscript &&
		in.Now.Sub(in.History.LastCastAt) < duplicateWindow {
		return Verdict{Reason: ReasonDuplicate}
	}

	if in.RMS < in.MinRMS && in.NormRMS < normRMSFloor {
		if in.AlwaysCast {
			return Verdict{OK: true, Assist: true, Reason: ReasonAssistMode}
		}
		return Verdict{Reason: ReasonLowVolume}
	}

	return Verdict{OK: true}
}
