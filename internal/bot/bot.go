// Package bot runs the server-side practice opponent. Each bot match is one
// goroutine that wakes on a randomized schedule, reads the authoritative
// room snapshot, and feeds well-formed casts back into the hub through the
// same resolution path as human casts.
package bot

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/eikq/arcanum/internal/caster"
	"github.com/eikq/arcanum/internal/protocol"
	"github.com/eikq/arcanum/internal/room"
	"github.com/eikq/arcanum/internal/spellbook"
)

// Difficulty selects a casting profile.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// IsValid reports whether d is a known difficulty.
func (d Difficulty) IsValid() bool {
	switch d {
	case Easy, Medium, Hard:
		return true
	}
	return false
}

// Profile tunes one difficulty's behaviour.
type Profile struct {
	// MinInterval / MaxInterval bound the randomized pause between casts.
	MinInterval time.Duration
	MaxInterval time.Duration

	// Reaction is an extra fixed delay before the first cast of a match.
	Reaction time.Duration

	// AccuracyMin / AccuracyMax bound the simulated recognition accuracy.
	AccuracyMin float64
	AccuracyMax float64

	// LoudnessMin / LoudnessMax bound the simulated voice energy.
	LoudnessMin float64
	LoudnessMax float64

	// Mistake is the probability of a degraded cast (accuracy halved).
	Mistake float64

	// CooldownScale stretches per-spell cooldowns; sloppier opponents
	// repeat spells more slowly.
	CooldownScale float64
}

var profiles = map[Difficulty]Profile{
	Easy: {
		MinInterval: 3500 * time.Millisecond,
		MaxInterval: 6 * time.Second,
		Reaction:    1200 * time.Millisecond,
		AccuracyMin: 0.5, AccuracyMax: 0.8,
		LoudnessMin: 0.3, LoudnessMax: 0.7,
		Mistake:       0.25,
		CooldownScale: 1.5,
	},
	Medium: {
		MinInterval: 2500 * time.Millisecond,
		MaxInterval: 4500 * time.Millisecond,
		Reaction:    800 * time.Millisecond,
		AccuracyMin: 0.65, AccuracyMax: 0.9,
		LoudnessMin: 0.4, LoudnessMax: 0.8,
		Mistake:       0.12,
		CooldownScale: 1.2,
	},
	Hard: {
		MinInterval: 1800 * time.Millisecond,
		MaxInterval: 3200 * time.Millisecond,
		Reaction:    400 * time.Millisecond,
		AccuracyMin: 0.8, AccuracyMax: 0.98,
		LoudnessMin: 0.5, LoudnessMax: 0.9,
		Mistake:       0.05,
		CooldownScale: 1.0,
	},
}

// DefaultProfile returns the built-in profile for d.
func DefaultProfile(d Difficulty) Profile {
	p, ok := profiles[d]
	if !ok {
		return profiles[Medium]
	}
	return p
}

// lowHPThreshold is the HP below which the bot starts favouring heals and
// shields over attacks.
const lowHPThreshold = 35

// Config configures a [Driver].
type Config struct {
	Hub  *room.Hub
	Book *spellbook.Book

	// Difficulty selects the built-in profile. Default Medium.
	Difficulty Difficulty

	// Profile overrides the difficulty's built-in profile when non-nil.
	Profile *Profile

	// Seed makes the schedule and spell choice deterministic in tests.
	// Zero means time-seeded.
	Seed int64
}

// Driver schedules bot casts for every live bot room. It implements
// [room.BotDriver].
type Driver struct {
	hub     *room.Hub
	book    *spellbook.Book
	profile Profile

	mu      sync.Mutex
	rng     *rand.Rand
	matches map[string]context.CancelFunc
}

// New creates a bot driver. Attach it with [room.Hub.SetBotDriver].
func New(cfg Config) *Driver {
	if cfg.Difficulty == "" {
		cfg.Difficulty = Medium
	}
	profile := DefaultProfile(cfg.Difficulty)
	if cfg.Profile != nil {
		profile = *cfg.Profile
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Driver{
		hub:     cfg.Hub,
		book:    cfg.Book,
		profile: profile,
		rng:     rand.New(rand.NewSource(seed)),
		matches: make(map[string]context.CancelFunc),
	}
}

// StartMatch begins casting for one bot room. Called by the hub with its
// lock held, so all work happens on a fresh goroutine.
func (d *Driver) StartMatch(roomID, botID string) {
	ctx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	if prev, ok := d.matches[roomID]; ok {
		prev()
	}
	d.matches[roomID] = cancel
	d.mu.Unlock()

	go d.play(ctx, roomID, botID)
}

// StopMatch halts casting for a room. Idempotent.
func (d *Driver) StopMatch(roomID string) {
	d.mu.Lock()
	cancel, ok := d.matches[roomID]
	delete(d.matches, roomID)
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// play is the per-match casting loop.
func (d *Driver) play(ctx context.Context, roomID, botID string) {
	slog.Info("bot match started", "room", roomID, "bot", botID)
	defer slog.Info("bot match ended", "room", roomID, "bot", botID)

	lastCast := make(map[string]time.Time)

	if !sleepCtx(ctx, d.profile.Reaction) {
		return
	}
	for {
		if !sleepCtx(ctx, d.nextInterval()) {
			return
		}

		snap, ok := d.hub.RoomView(roomID)
		if !ok || snap.State != protocol.StatePlaying {
			return
		}
		self, opp := rosterViews(snap, botID)
		if self == nil || opp == nil {
			return
		}

		entry := d.pickSpell(self, lastCast)
		if entry == nil {
			continue // nothing affordable and off cooldown this tick
		}
		lastCast[entry.ID] = time.Now()

		accuracy, loudness := d.rollDelivery()
		power := caster.Power(accuracy, loudness, true)

		d.hub.BotCast(roomID, botID, protocol.Cast{
			SpellID:  entry.ID,
			Accuracy: accuracy,
			Loudness: loudness,
			Power:    power,
			TS:       time.Now().UnixMilli(),
		})
	}
}

// nextInterval draws the next pause between casts.
func (d *Driver) nextInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	span := d.profile.MaxInterval - d.profile.MinInterval
	if span <= 0 {
		return d.profile.MinInterval
	}
	return d.profile.MinInterval + time.Duration(d.rng.Int63n(int64(span)))
}

// rollDelivery draws accuracy and loudness for one cast, with the profile's
// mistake chance degrading accuracy.
func (d *Driver) rollDelivery() (accuracy, loudness float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	accuracy = d.profile.AccuracyMin + d.rng.Float64()*(d.profile.AccuracyMax-d.profile.AccuracyMin)
	loudness = d.profile.LoudnessMin + d.rng.Float64()*(d.profile.LoudnessMax-d.profile.LoudnessMin)
	if d.rng.Float64() < d.profile.Mistake {
		accuracy *= 0.5
	}
	return accuracy, loudness
}

// pickSpell chooses the next spell by weighted draw over everything
// affordable and off cooldown. Attacks dominate; heals and shields only
// enter the pool when the bot is hurt, weighted up sharply below the
// low-HP threshold.
func (d *Driver) pickSpell(self *protocol.PlayerView, lastCast map[string]time.Time) *spellbook.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	type weighted struct {
		entry  *spellbook.Entry
		weight float64
	}
	var pool []weighted
	total := 0.0

	entries := d.book.Entries()
	for i := range entries {
		entry := &entries[i]
		if entry.ManaCost > self.Mana {
			continue
		}
		cooldown := time.Duration(float64(entry.Cooldown()) * d.profile.CooldownScale)
		if last, ok := lastCast[entry.ID]; ok && now.Sub(last) < cooldown {
			continue
		}

		var w float64
		switch entry.Kind {
		case spellbook.KindAttack, spellbook.KindUtility:
			// Favour damage per mana so the pool tracks efficiency.
			w = 1 + float64(entry.Damage)/float64(entry.ManaCost)
		case spellbook.KindHeal:
			if self.HP >= 100 {
				continue
			}
			w = 0.5
			if self.HP < lowHPThreshold {
				w = 6
			}
		case spellbook.KindShield:
			if self.Shield > 0 {
				continue
			}
			w = 0.8
			if self.HP < lowHPThreshold {
				w = 3
			}
		}
		pool = append(pool, weighted{entry, w})
		total += w
	}

	if len(pool) == 0 {
		return nil
	}
	draw := d.rng.Float64() * total
	for _, c := range pool {
		draw -= c.weight
		if draw <= 0 {
			return c.entry
		}
	}
	return pool[len(pool)-1].entry
}

// rosterViews splits the snapshot into the bot's own view and the opponent's.
func rosterViews(snap protocol.RoomSnapshot, botID string) (self, opp *protocol.PlayerView) {
	for i := range snap.Players {
		if snap.Players[i].ID == botID {
			self = &snap.Players[i]
		} else {
			opp = &snap.Players[i]
		}
	}
	return self, opp
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
