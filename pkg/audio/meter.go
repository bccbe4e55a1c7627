// Package audio provides the microphone energy meter feeding the cast gate.
//
// The meter consumes 16-bit little-endian PCM frames and produces a
// [Reading] per frame: the raw RMS level plus a normalized level relative to
// the loudest speech observed recently. Raw RMS calibration varies wildly
// between devices, so gating decisions should consider both values.
package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// Default meter parameters.
const (
	// defaultPeakDecay is the per-frame multiplicative decay applied to the
	// tracked peak, so a single shout does not depress normalized levels for
	// the rest of the match.
	defaultPeakDecay = 0.995

	// minPeak is the floor for the tracked peak. Prevents silence from
	// normalizing noise up to full scale.
	minPeak = 0.02
)

// Reading is one energy measurement of a PCM frame.
type Reading struct {
	// RMS is the raw root-mean-square level in [0, 1] of full scale.
	RMS float64

	// Norm is RMS relative to the decaying observed peak, clamped to [0, 1].
	Norm float64
}

// Meter tracks a decaying peak across frames to normalize device-dependent
// input levels. Safe for concurrent use, though a single microphone stream
// normally feeds it from one goroutine.
type Meter struct {
	mu        sync.Mutex
	peak      float64
	peakDecay float64
}

// NewMeter returns a Meter with default peak tracking.
func NewMeter() *Meter {
	return &Meter{
		peak:      minPeak,
		peakDecay: defaultPeakDecay,
	}
}

// Measure computes the energy reading for one frame of 16-bit little-endian
// PCM samples and updates the tracked peak. Odd trailing bytes are ignored.
func (m *Meter) Measure(pcm []byte) Reading {
	rms := RMS(pcm)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.peak *= m.peakDecay
	if m.peak < minPeak {
		m.peak = minPeak
	}
	if rms > m.peak {
		m.peak = rms
	}

	norm := rms / m.peak
	if norm > 1 {
		norm = 1
	}
	return Reading{RMS: rms, Norm: norm}
}

// Reset clears the tracked peak, e.g., between matches or input devices.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.peak = minPeak
	m.mu.Unlock()
}

// RMS returns the root-mean-square level of 16-bit little-endian PCM in
// [0, 1] of full scale. Returns 0 for frames shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
