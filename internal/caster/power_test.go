package caster_test

import (
	"math"
	"testing"

	"github.com/eikq/arcanum/internal/caster"
)

func TestPower_Formula(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		accuracy float64
		normRMS  float64
		matched  bool
		want     float64
	}{
		{"perfect", 1, 1, true, 1},
		{"accuracy only", 1, 0, true, 0.6},
		{"loudness only", 0, 1, true, 0.4},
		{"mixed", 0.5, 0.5, true, 0.5},
		{"fallback penalty", 1, 1, false, 0.6},
		{"zero", 0, 0, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := caster.Power(tt.accuracy, tt.normRMS, tt.matched)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Power(%v, %v, %v) = %v, want %v", tt.accuracy, tt.normRMS, tt.matched, got, tt.want)
			}
		})
	}
}

// The fallback penalty is exactly a 0.6 multiplier across the whole input
// range.
func TestPower_FallbackRatio(t *testing.T) {
	t.Parallel()
	for acc := 0.0; acc <= 1.0; acc += 0.1 {
		for rms := 0.0; rms <= 1.0; rms += 0.1 {
			matched := caster.Power(acc, rms, true)
			fallback := caster.Power(acc, rms, false)
			if math.Abs(fallback-0.6*matched) > 1e-9 {
				t.Fatalf("Power(%v, %v): fallback %v != 0.6 × matched %v", acc, rms, fallback, matched)
			}
		}
	}
}

func TestPower_ClampsOutOfRangeInputs(t *testing.T) {
	t.Parallel()
	if got := caster.Power(2, 3, true); got != 1 {
		t.Errorf("Power(2, 3, true) = %v, want 1", got)
	}
	if got := caster.Power(-1, -1, true); got != 0 {
		t.Errorf("Power(-1, -1, true) = %v, want 0", got)
	}
}
