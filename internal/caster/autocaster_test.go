package caster_test

import (
	"testing"
	"time"

	"github.com/eikq/arcanum/internal/caster"
	"github.com/eikq/arcanum/internal/spellbook"
	"github.com/eikq/arcanum/pkg/audio"
)

// harness collects emitted intents and rejections behind a fake clock.
type harness struct {
	ac      *caster.AutoCaster
	now     time.Time
	intents []caster.Intent
	rejects []caster.Reason
}

func newHarness(t *testing.T, mutate func(*caster.Config)) *harness {
	t.Helper()
	h := &harness{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}

	cfg := caster.Config{
		Book:     spellbook.Default(),
		MinScore: 0.45,
		MinRMS:   0.03,
		Cooldown: 1500 * time.Millisecond,
		OnCast:   func(i caster.Intent) { h.intents = append(h.intents, i) },
		OnReject: func(r caster.Reason, _ string) { h.rejects = append(h.rejects, r) },
		Clock:    func() time.Time { return h.now },
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ac, err := caster.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ac = ac
	return h
}

func loud() audio.Reading { return audio.Reading{RMS: 0.2, Norm: 0.8} }

func TestAutoCaster_EmitsOneIntentPerFinal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.ac.OnFinal("stupefy", loud())
	if len(h.intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(h.intents))
	}
	got := h.intents[0]
	if got.SpellID != "stupefy" {
		t.Errorf("spell = %s, want stupefy", got.SpellID)
	}
	if got.Assist {
		t.Error("clean cast tagged assist")
	}
	if got.Power <= 0 || got.Power > 1 {
		t.Errorf("power = %v, want in (0, 1]", got.Power)
	}
	if !got.At.Equal(h.now) {
		t.Errorf("At = %v, want %v", got.At, h.now)
	}
}

func TestAutoCaster_CooldownBetweenCasts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.ac.OnFinal("stupefy", loud())
	h.now = h.now.Add(500 * time.Millisecond)
	h.ac.OnFinal("incendio", loud())

	if len(h.intents) != 1 {
		t.Fatalf("intents = %d, want 1 (second cast on cooldown)", len(h.intents))
	}
	if len(h.rejects) != 1 || h.rejects[0] != caster.ReasonOnCooldown {
		t.Fatalf("rejects = %v, want [ON_COOLDOWN]", h.rejects)
	}

	h.now = h.now.Add(2 * time.Second)
	h.ac.OnFinal("incendio", loud())
	if len(h.intents) != 2 {
		t.Fatalf("intents = %d, want 2 after cooldown elapsed", len(h.intents))
	}
}

func TestAutoCaster_FallbackCastIsAssistWithReducedPower(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.ac.OnFinal("unintelligible mumbling noise", loud())
	if len(h.intents) != 1 {
		t.Fatalf("intents = %d, want 1 (fallback guarantee)", len(h.intents))
	}
	got := h.intents[0]
	if got.SpellID != spellbook.Default().Fallback().ID {
		t.Errorf("spell = %s, want the lexicon fallback", got.SpellID)
	}
	if !got.Assist {
		t.Error("fallback cast must be tagged assist")
	}
	want := caster.Power(got.Accuracy, got.Loudness, false)
	if got.Power != want {
		t.Errorf("power = %v, want penalized %v", got.Power, want)
	}
}

func TestAutoCaster_QuietWithAssistMode(t *testing.T) {
	t.Parallel()
	quiet := audio.Reading{RMS: 0.01, Norm: 0.1}

	strict := newHarness(t, nil)
	strict.ac.OnFinal("stupefy", quiet)
	if len(strict.intents) != 0 {
		t.Fatalf("strict mode emitted %d intents, want 0", len(strict.intents))
	}
	if len(strict.rejects) != 1 || strict.rejects[0] != caster.ReasonLowVolume {
		t.Fatalf("rejects = %v, want [LOW_VOLUME]", strict.rejects)
	}

	assist := newHarness(t, func(c *caster.Config) { c.AlwaysCast = true })
	assist.ac.OnFinal("stupefy", quiet)
	if len(assist.intents) != 1 {
		t.Fatalf("assist mode emitted %d intents, want 1", len(assist.intents))
	}
	if !assist.intents[0].Assist {
		t.Error("quiet assist cast must be tagged assist")
	}
}

func TestAutoCaster_ResetHistoryAllowsImmediateRecast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.ac.OnFinal("stupefy", loud())
	h.now = h.now.Add(100 * time.Millisecond)
	h.ac.ResetHistory()
	h.ac.OnFinal("stupefy", loud())

	if len(h.intents) != 2 {
		t.Fatalf("intents = %d, want 2 after ResetHistory", len(h.intents))
	}
}

func TestAutoCaster_HotwordStrippedBeforeMatching(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *caster.Config) { c.Hotword = "cast" })

	h.ac.OnFinal("cast stupefy", loud())
	if len(h.intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(h.intents))
	}
	if h.intents[0].SpellID != "stupefy" {
		t.Errorf("spell = %s, want stupefy", h.intents[0].SpellID)
	}

	h.now = h.now.Add(2 * time.Second)
	h.ac.OnFinal("stupefy", loud())
	if len(h.rejects) != 1 || h.rejects[0] != caster.ReasonHotwordMissing {
		t.Fatalf("rejects = %v, want [HOTWORD_MISSING]", h.rejects)
	}
}
