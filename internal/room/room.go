// Package room implements the authoritative match state machine: the room
// lifecycle (lobby → countdown → playing → finished), the matchmaking queue
// with its bot fallback, heartbeat supervision, and server-side combat
// resolution.
//
// The [Hub] owns the only shared mutable state on the server — the room
// table, the queue, and the connection registry — behind a single mutex.
// Timers are the only source of spontaneous state change; every timer
// callback re-acquires the lock and re-checks that its room still exists and
// is still in the state the timer was armed for, so a deleted room can never
// receive a late transition.
package room

import (
	"math"
	"time"

	"github.com/eikq/arcanum/internal/protocol"
	"github.com/eikq/arcanum/internal/spellbook"
)

// Capacity limits per mode.
const (
	maxPlayers    = 2
	minPlayersPvP = 2
	minPlayersBot = 1
)

const (
	fullHP   = 100
	fullMana = 100
)

// Sender delivers protocol messages to one connected client. Messages sent
// through a single Sender are observed by the client in call order.
// Implementations must not block the caller.
type Sender interface {
	Send(msg protocol.Message)

	// CloseWithTimeout tears down the transport after a heartbeat timeout.
	CloseWithTimeout()
}

// Player is one roster entry. All fields are owned by the Hub and mutated
// only with the hub lock held.
type Player struct {
	ID       string
	Nick     string
	HP       int
	Mana     int
	Shield   int
	Ready    bool
	MicReady bool
	Bot      bool

	sender     Sender // nil for the bot
	lastCastAt time.Time
	manaAt     time.Time // last lazy mana-regen checkpoint
}

// Room is one duel. Owned exclusively by the Hub.
type Room struct {
	ID      string
	State   protocol.RoomState
	Players []*Player
	VsBot   bool
	Winner  string

	CountdownEndsAt time.Time
	RoundEndsAt     time.Time

	countdownTimer *time.Timer
	roundTimer     *time.Timer
	createdAt      time.Time
}

// minPlayers returns the roster size required before the lobby can arm the
// countdown.
func (r *Room) minPlayers() int {
	if r.VsBot {
		return minPlayersBot
	}
	return minPlayersPvP
}

// player returns the roster entry with the given ID, or nil.
func (r *Room) player(id string) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// opponent returns the first roster entry that is not id, or nil.
func (r *Room) opponent(id string) *Player {
	for _, p := range r.Players {
		if p.ID != id {
			return p
		}
	}
	return nil
}

// humansLeft counts non-bot roster entries.
func (r *Room) humansLeft() int {
	n := 0
	for _, p := range r.Players {
		if !p.Bot {
			n++
		}
	}
	return n
}

// allReady reports whether every roster entry is ready with a live mic and
// the roster meets the mode minimum.
func (r *Room) allReady() bool {
	if len(r.Players) < r.minPlayers() {
		return false
	}
	for _, p := range r.Players {
		if !p.Ready || !p.MicReady {
			return false
		}
	}
	return true
}

// broadcast sends msg to every connected roster entry in order.
func (r *Room) broadcast(msg protocol.Message) {
	for _, p := range r.Players {
		if p.sender != nil {
			p.sender.Send(msg)
		}
	}
}

// snapshot builds the authoritative wire view of the room.
func (r *Room) snapshot(now time.Time) protocol.RoomSnapshot {
	players := make([]protocol.PlayerView, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, protocol.PlayerView{
			ID:       p.ID,
			Nick:     p.Nick,
			HP:       p.HP,
			Mana:     p.Mana,
			Shield:   p.Shield,
			Ready:    p.Ready,
			MicReady: p.MicReady,
			Bot:      p.Bot,
		})
	}

	snap := protocol.RoomSnapshot{
		ID:        r.ID,
		State:     r.State,
		Players:   players,
		VsBot:     r.VsBot,
		Winner:    r.Winner,
		ServerNow: now.UnixMilli(),
	}
	if r.State == protocol.StateCountdown {
		snap.CountdownEndsAt = r.CountdownEndsAt.UnixMilli()
	}
	if r.State == protocol.StatePlaying {
		snap.RoundEndsAt = r.RoundEndsAt.UnixMilli()
	}
	return snap
}

// stopTimers cancels any armed transition timers. Called on room deletion
// and on early finish.
func (r *Room) stopTimers() {
	if r.countdownTimer != nil {
		r.countdownTimer.Stop()
		r.countdownTimer = nil
	}
	if r.roundTimer != nil {
		r.roundTimer.Stop()
		r.roundTimer = nil
	}
}

// regenMana applies lazy mana regeneration for p up to now.
func (p *Player) regenMana(now time.Time, perSecond float64) {
	if p.manaAt.IsZero() {
		p.manaAt = now
		return
	}
	elapsed := now.Sub(p.manaAt).Seconds()
	if elapsed <= 0 {
		return
	}
	p.Mana += int(elapsed * perSecond)
	if p.Mana > fullMana {
		p.Mana = fullMana
	}
	p.manaAt = now
}

// effectScale maps a cast's power in [0, 1] onto the effect multiplier.
// Even a zero-power cast lands at half strength; pace-of-play over punishing
// quiet players.
func effectScale(power float64) float64 {
	return 0.5 + 0.5*power
}

// applyEffect resolves a validated cast against the room's roster: damage
// to the opponent through their shield, healing and shields to the caster.
// Returns true when the cast ended the match.
func (r *Room) applyEffect(caster *Player, entry *spellbook.Entry, power float64) bool {
	scale := effectScale(power)

	switch entry.Kind {
	case spellbook.KindShield:
		shield := int(math.Round(float64(entry.Shield) * scale))
		if shield > caster.Shield {
			caster.Shield = shield
		}
		return false

	case spellbook.KindHeal:
		caster.HP += int(math.Round(float64(entry.Healing) * scale))
		if caster.HP > fullHP {
			caster.HP = fullHP
		}
		return false
	}

	// Attack and utility spells damage the opponent.
	target := r.opponent(caster.ID)
	if target == nil {
		return false
	}
	dmg := int(math.Round(float64(entry.Damage) * scale))
	if target.Shield > 0 {
		absorbed := dmg
		if absorbed > target.Shield {
			absorbed = target.Shield
		}
		target.Shield -= absorbed
		dmg -= absorbed
	}
	target.HP -= dmg
	if target.HP <= 0 {
		target.HP = 0
		return true
	}
	return false
}

// decideWinner picks the round-timeout winner: highest remaining HP, empty
// on a tie. With a roster that somehow lost both players it returns empty.
func (r *Room) decideWinner() string {
	if len(r.Players) < 2 {
		if len(r.Players) == 1 {
			return r.Players[0].ID
		}
		return ""
	}
	a, b := r.Players[0], r.Players[1]
	switch {
	case a.HP > b.HP:
		return a.ID
	case b.HP > a.HP:
		return b.ID
	default:
		return ""
	}
}
