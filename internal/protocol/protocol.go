// Package protocol defines the wire messages exchanged between duel clients
// and the relay server.
//
// Every frame on the wire is an [Envelope]: a kind tag plus a JSON payload.
// The payload set is closed — [Decode] rejects unknown kinds and validates
// every field before the message reaches game logic, so malformed input
// fails fast at the transport boundary with a typed error.
//
// All timestamps are Unix milliseconds in the SERVER's clock. Clients must
// apply their measured clock offset before rendering deadlines locally.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind tags a wire message.
type Kind string

// Client → server kinds.
const (
	KindQueueJoin Kind = "queue:join"
	KindRoomReady Kind = "room:ready"
	KindRoomLeave Kind = "room:leave"
	KindCast      Kind = "cast"
	KindSignal    Kind = "rtc:signal"
	KindHeartbeat Kind = "heartbeat"
)

// Server → client kinds. KindCast and KindSignal travel both directions;
// the server stamps From before relaying.
const (
	KindJoinResult    Kind = "queue:result"
	KindQueueWaiting  Kind = "queue:waiting"
	KindRoomSnapshot  Kind = "room:snapshot"
	KindMatchStart    Kind = "match:start"
	KindMatchPlaying  Kind = "match:playing"
	KindMatchFinished Kind = "match:finished"
	KindOpponentLeft  Kind = "opponent:left"
	KindError         Kind = "error"
)

// Mode selects how a client wants to be matched into a room.
type Mode string

const (
	ModeQuick Mode = "quick" // FIFO queue, bot fallback after a wait
	ModeCode  Mode = "code"  // join or create a room by 6-character code
	ModeBot   Mode = "bot"   // solo practice against the bot immediately
)

// IsValid reports whether m is a recognised matchmaking mode.
func (m Mode) IsValid() bool {
	return m == ModeQuick || m == ModeCode || m == ModeBot
}

// RoomState is the lifecycle state of a room as seen on the wire.
type RoomState string

const (
	StateLobby     RoomState = "lobby"
	StateCountdown RoomState = "countdown"
	StatePlaying   RoomState = "playing"
	StateFinished  RoomState = "finished"
)

// Error codes carried by [ErrorMsg].
const (
	CodeHeartbeatTimeout = "HEARTBEAT_TIMEOUT"
	CodeRoomFull         = "ROOM_FULL"
	CodeRoomNotFound     = "ROOM_NOT_FOUND"
	CodeNotInRoom        = "NOT_IN_ROOM"
	CodeRateLimited      = "RATE_LIMITED"
	CodeBadMessage       = "BAD_MESSAGE"
)

// Envelope is the outer frame of every wire message.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is any protocol payload. The set of implementations in this
// package is closed; consumers switch exhaustively on the concrete type.
type Message interface {
	// MessageKind returns the envelope kind this payload travels under.
	MessageKind() Kind

	// Validate checks the payload's invariants after decoding.
	Validate() error
}

// ── Client → server payloads ─────────────────────────────────────────────────

// QueueJoin asks to be placed in a room.
type QueueJoin struct {
	Mode     Mode   `json:"mode"`
	RoomCode string `json:"roomCode,omitempty"`
	Nick     string `json:"nick,omitempty"`
}

func (QueueJoin) MessageKind() Kind { return KindQueueJoin }

func (m QueueJoin) Validate() error {
	if !m.Mode.IsValid() {
		return fmt.Errorf("protocol: queue:join mode %q is invalid", m.Mode)
	}
	if m.Mode == ModeCode && len(m.RoomCode) != 6 {
		return fmt.Errorf("protocol: queue:join room code must be 6 characters, got %d", len(m.RoomCode))
	}
	if len(m.Nick) > 32 {
		return fmt.Errorf("protocol: queue:join nick exceeds 32 characters")
	}
	return nil
}

// RoomReady updates the sender's ready/micReady flags.
type RoomReady struct {
	RoomID   string `json:"roomId"`
	Ready    bool   `json:"ready"`
	MicReady bool   `json:"micReady"`
}

func (RoomReady) MessageKind() Kind { return KindRoomReady }

func (m RoomReady) Validate() error { return requireRoomID("room:ready", m.RoomID) }

// RoomLeave removes the sender from a room.
type RoomLeave struct {
	RoomID string `json:"roomId"`
}

func (RoomLeave) MessageKind() Kind { return KindRoomLeave }

func (m RoomLeave) Validate() error { return requireRoomID("room:leave", m.RoomID) }

// Cast is a spell cast. Clients send it without From; the server stamps the
// caster's player ID before relaying and before resolving damage.
type Cast struct {
	RoomID   string  `json:"roomId"`
	SpellID  string  `json:"spellId"`
	Accuracy float64 `json:"accuracy"`
	Loudness float64 `json:"loudness"`
	Power    float64 `json:"power"`
	TS       int64   `json:"ts"`
	Assist   bool    `json:"assist,omitempty"`
	From     string  `json:"from,omitempty"`
}

func (Cast) MessageKind() Kind { return KindCast }

func (m Cast) Validate() error {
	if err := requireRoomID("cast", m.RoomID); err != nil {
		return err
	}
	if m.SpellID == "" {
		return fmt.Errorf("protocol: cast spellId is required")
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"accuracy", m.Accuracy},
		{"loudness", m.Loudness},
		{"power", m.Power},
	} {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("protocol: cast %s %v is out of range [0, 1]", f.name, f.value)
		}
	}
	return nil
}

// Signal carries opaque WebRTC signaling data between room members. The
// relay never inspects Data.
type Signal struct {
	RoomID string          `json:"roomId"`
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Data   json.RawMessage `json:"data"`
}

func (Signal) MessageKind() Kind { return KindSignal }

func (m Signal) Validate() error {
	if err := requireRoomID("rtc:signal", m.RoomID); err != nil {
		return err
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("protocol: rtc:signal data is required")
	}
	return nil
}

// Heartbeat keeps the sender's connection alive. T is the client's local
// send time (Unix milliseconds), echoed for diagnostics only.
type Heartbeat struct {
	RoomID string `json:"roomId,omitempty"`
	T      int64  `json:"t"`
}

func (Heartbeat) MessageKind() Kind { return KindHeartbeat }

func (Heartbeat) Validate() error { return nil }

// ── Server → client payloads ─────────────────────────────────────────────────

// JoinResult acknowledges a QueueJoin.
type JoinResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	RoomID  string `json:"roomId,omitempty"`

	// PlayerID is the server-assigned identity of the joiner; subsequent
	// snapshots reference it.
	PlayerID string `json:"playerId,omitempty"`
}

func (JoinResult) MessageKind() Kind { return KindJoinResult }

func (JoinResult) Validate() error { return nil }

// QueueWaiting tells a quick-match client it is still queued.
type QueueWaiting struct {
	// ETAMs is the remaining wait before the bot fallback, when known.
	ETAMs int64 `json:"etaMs,omitempty"`
}

func (QueueWaiting) MessageKind() Kind { return KindQueueWaiting }

func (QueueWaiting) Validate() error { return nil }

// PlayerView is one roster entry inside a snapshot.
type PlayerView struct {
	ID       string `json:"id"`
	Nick     string `json:"nick"`
	HP       int    `json:"hp"`
	Mana     int    `json:"mana"`
	Shield   int    `json:"shield"`
	Ready    bool   `json:"ready"`
	MicReady bool   `json:"micReady"`
	Bot      bool   `json:"bot,omitempty"`
}

// RoomSnapshot is the full authoritative room state, sent on every change.
type RoomSnapshot struct {
	ID      string       `json:"id"`
	State   RoomState    `json:"state"`
	Players []PlayerView `json:"players"`
	VsBot   bool         `json:"vsBot"`
	Winner  string       `json:"winner,omitempty"`

	// ServerNow lets clients measure their offset from the server clock.
	ServerNow int64 `json:"serverNow"`

	// CountdownEndsAt / RoundEndsAt are zero outside their states.
	CountdownEndsAt int64 `json:"countdownEndsAt,omitempty"`
	RoundEndsAt     int64 `json:"roundEndsAt,omitempty"`
}

func (RoomSnapshot) MessageKind() Kind { return KindRoomSnapshot }

func (m RoomSnapshot) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("protocol: room:snapshot id is required")
	}
	return nil
}

// MatchStart announces the lobby → countdown transition.
type MatchStart struct {
	RoomID          string `json:"roomId"`
	CountdownEndsAt int64  `json:"countdownEndsAt"`
}

func (MatchStart) MessageKind() Kind { return KindMatchStart }

func (m MatchStart) Validate() error { return requireRoomID("match:start", m.RoomID) }

// MatchPlaying announces the countdown → playing transition.
type MatchPlaying struct {
	RoomID      string `json:"roomId"`
	RoundEndsAt int64  `json:"roundEndsAt"`
}

func (MatchPlaying) MessageKind() Kind { return KindMatchPlaying }

func (m MatchPlaying) Validate() error { return requireRoomID("match:playing", m.RoomID) }

// MatchFinished announces the end of a match. Winner is empty on a draw.
type MatchFinished struct {
	RoomID string `json:"roomId"`
	Winner string `json:"winner,omitempty"`
}

func (MatchFinished) MessageKind() Kind { return KindMatchFinished }

func (m MatchFinished) Validate() error { return requireRoomID("match:finished", m.RoomID) }

// OpponentLeft tells the remaining member(s) that a player departed.
type OpponentLeft struct {
	RoomID string `json:"roomId"`
}

func (OpponentLeft) MessageKind() Kind { return KindOpponentLeft }

func (m OpponentLeft) Validate() error { return requireRoomID("opponent:left", m.RoomID) }

// ErrorMsg carries a machine-readable error code plus a human-readable
// message.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (ErrorMsg) MessageKind() Kind { return KindError }

func (m ErrorMsg) Validate() error {
	if m.Code == "" {
		return fmt.Errorf("protocol: error code is required")
	}
	return nil
}

func requireRoomID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("protocol: %s roomId is required", kind)
	}
	return nil
}
