package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eikq/arcanum/internal/observe"
	"github.com/eikq/arcanum/internal/protocol"
	"github.com/eikq/arcanum/internal/spellbook"
)

// roomCodeChars excludes ambiguous characters (0/O, 1/I) so codes survive
// being read out loud.
const roomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// Options tunes the hub. Zero values take the documented defaults.
type Options struct {
	// Countdown is the lobby → playing countdown. Default 3s.
	Countdown time.Duration

	// RoundTime is the playing-state duration. Default 90s.
	RoundTime time.Duration

	// CastMinInterval is the per-socket floor between two casts, enforced
	// independently of client-side cooldowns. Default 800ms.
	CastMinInterval time.Duration

	// QueueBotFallback is how long a quick-match waiter sits in the queue
	// before being placed against the bot. Default 15s.
	QueueBotFallback time.Duration

	// HeartbeatSweep is the supervision interval. Default 5s.
	HeartbeatSweep time.Duration

	// HeartbeatTimeout disconnects a connection silent for longer than
	// this. Default 12s.
	HeartbeatTimeout time.Duration

	// ManaRegenPerSec is the lazy mana regeneration rate. Default 6.
	ManaRegenPerSec float64

	// Metrics, when non-nil, receives room/cast instrumentation.
	Metrics *observe.Metrics

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (o *Options) withDefaults() {
	if o.Countdown <= 0 {
		o.Countdown = 3 * time.Second
	}
	if o.RoundTime <= 0 {
		o.RoundTime = 90 * time.Second
	}
	if o.CastMinInterval <= 0 {
		o.CastMinInterval = 800 * time.Millisecond
	}
	if o.QueueBotFallback <= 0 {
		o.QueueBotFallback = 15 * time.Second
	}
	if o.HeartbeatSweep <= 0 {
		o.HeartbeatSweep = 5 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 12 * time.Second
	}
	if o.ManaRegenPerSec <= 0 {
		o.ManaRegenPerSec = 6
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// BotDriver is implemented by the bot opponent runner. The hub notifies it
// when a bot room starts playing and when the bot's services are no longer
// needed. Calls are made with the hub lock held; implementations must not
// call back into the hub synchronously.
type BotDriver interface {
	StartMatch(roomID, botID string)
	StopMatch(roomID string)
}

// waiter is one quick-match queue entry.
type waiter struct {
	connID   string
	nick     string
	joinedAt time.Time
	fallback *time.Timer
}

// connInfo is the hub's view of one live connection.
type connInfo struct {
	sender   Sender
	roomID   string
	lastSeen time.Time
}

// Hub owns the room table, the matchmaking queue, and connection
// supervision. All exported methods are safe for concurrent use.
type Hub struct {
	book *spellbook.Book
	opts Options

	mu    sync.Mutex
	rooms map[string]*Room
	queue []*waiter
	conns map[string]*connInfo
	bots  BotDriver
}

// NewHub creates a hub over the given spell lexicon.
func NewHub(book *spellbook.Book, opts Options) *Hub {
	opts.withDefaults()
	return &Hub{
		book:  book,
		opts:  opts,
		rooms: make(map[string]*Room),
		conns: make(map[string]*connInfo),
	}
}

// SetBotDriver wires the bot opponent runner. Must be called before any bot
// room can start playing.
func (h *Hub) SetBotDriver(d BotDriver) {
	h.mu.Lock()
	h.bots = d
	h.mu.Unlock()
}

// Run executes the heartbeat sweeper until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.HeartbeatSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.sweep()
		}
	}
}

// RoomCount returns the number of live rooms. Used by readiness checks and
// diagnostics.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// QueueDepth returns the number of quick-match waiters not yet paired.
func (h *Hub) QueueDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// RoomView returns the wire snapshot of a room, for the bot driver and for
// tests.
func (h *Hub) RoomView(roomID string) (protocol.RoomSnapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return protocol.RoomSnapshot{}, false
	}
	return r.snapshot(h.opts.Clock()), true
}

// ── Join flows ───────────────────────────────────────────────────────────────

// Register adds a connection to the supervision table. The transport calls
// it at accept time, so even a client that never joins is swept on silence.
func (h *Hub) Register(connID string, s Sender) {
	h.mu.Lock()
	h.conns[connID] = &connInfo{sender: s, lastSeen: h.opts.Clock()}
	h.mu.Unlock()
}

// Join places the connection into a room according to mode and returns the
// acknowledgement. The connection is registered for heartbeat supervision as
// a side effect.
func (h *Hub) Join(connID string, s Sender, join protocol.QueueJoin) protocol.JoinResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.opts.Clock()
	if c, ok := h.conns[connID]; ok {
		c.sender, c.lastSeen = s, now
	} else {
		h.conns[connID] = &connInfo{sender: s, lastSeen: now}
	}

	switch join.Mode {
	case protocol.ModeBot:
		r := h.createBotRoom(connID, s, join.Nick)
		return protocol.JoinResult{OK: true, RoomID: r.ID, PlayerID: connID}

	case protocol.ModeQuick:
		return h.joinQuick(connID, s, join.Nick, now)

	case protocol.ModeCode:
		return h.joinByCode(connID, s, join.Nick, join.RoomCode)
	}

	// Decode validation rejects unknown modes before dispatch.
	return protocol.JoinResult{OK: false, Message: "unknown matchmaking mode"}
}

// joinQuick implements the FIFO quick-match queue: pair with the head when
// possible, otherwise wait with a bot fallback armed.
func (h *Hub) joinQuick(connID string, s Sender, nick string, now time.Time) protocol.JoinResult {
	// A repeat quick-match join replaces any earlier queue entry for the same
	// connection. One player never holds two waiting slots, so a stale entry
	// can never hand an already-paired player to the bot fallback.
	h.dropQueuedLocked(connID)

	// Match the queue head when it exists.
	for len(h.queue) > 0 {
		head := h.queue[0]
		h.queue = h.queue[1:]
		head.fallback.Stop()

		headConn, ok := h.conns[head.connID]
		if !ok {
			continue // head vanished between queueing and now; try the next
		}

		r := h.createRoom(false)
		h.addPlayer(r, head.connID, headConn.sender, head.nick)
		h.addPlayer(r, connID, s, nick)
		// The waiter only got queue:waiting; it learns its room here.
		headConn.sender.Send(protocol.JoinResult{OK: true, RoomID: r.ID, PlayerID: head.connID})
		h.broadcastSnapshot(r)
		if m := h.opts.Metrics; m != nil {
			m.QueueWait.Record(context.Background(), now.Sub(head.joinedAt).Seconds())
		}
		slog.Info("quick match paired", "room", r.ID, "players", len(r.Players))
		return protocol.JoinResult{OK: true, RoomID: r.ID, PlayerID: connID}
	}

	w := &waiter{connID: connID, nick: nick, joinedAt: now}
	w.fallback = time.AfterFunc(h.opts.QueueBotFallback, func() { h.queueFallback(connID) })
	h.queue = append(h.queue, w)
	s.Send(protocol.QueueWaiting{ETAMs: h.opts.QueueBotFallback.Milliseconds()})
	return protocol.JoinResult{OK: true, PlayerID: connID}
}

// queueFallback fires when a quick-match waiter has been queued too long:
// it is removed from the queue and placed against the bot.
func (h *Hub) queueFallback(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, w := range h.queue {
		if w.connID != connID {
			continue
		}
		h.queue = append(h.queue[:i], h.queue[i+1:]...)

		c, ok := h.conns[connID]
		if !ok {
			return // disconnected while waiting
		}
		r := h.createBotRoom(connID, c.sender, w.nick)
		c.sender.Send(protocol.JoinResult{OK: true, RoomID: r.ID, PlayerID: connID,
			Message: "no opponent found, matched against the bot"})
		if m := h.opts.Metrics; m != nil {
			m.QueueWait.Record(context.Background(), h.opts.Clock().Sub(w.joinedAt).Seconds())
		}
		slog.Info("queue fallback to bot room", "room", r.ID, "conn", connID)
		return
	}
}

// joinByCode joins an existing room by its code or creates it as fresh
// lobby. A full room rejects the join; the code is never regenerated.
func (h *Hub) joinByCode(connID string, s Sender, nick, code string) protocol.JoinResult {
	if r, ok := h.rooms[code]; ok {
		if len(r.Players) >= maxPlayers {
			return protocol.JoinResult{OK: false, Message: "room is full"}
		}
		if r.State != protocol.StateLobby {
			return protocol.JoinResult{OK: false, Message: "match already started"}
		}
		h.addPlayer(r, connID, s, nick)
		h.broadcastSnapshot(r)
		return protocol.JoinResult{OK: true, RoomID: r.ID, PlayerID: connID}
	}

	r := h.createRoomWithID(code, false)
	h.addPlayer(r, connID, s, nick)
	h.broadcastSnapshot(r)
	return protocol.JoinResult{OK: true, RoomID: r.ID, PlayerID: connID}
}

// ── Room construction ────────────────────────────────────────────────────────

func (h *Hub) createRoom(vsBot bool) *Room {
	// Collision-check against live rooms; ten tries over a 32^6 space not
	// colliding is effectively certain.
	var id string
	for attempt := 0; attempt < 10; attempt++ {
		id = generateRoomCode()
		if _, exists := h.rooms[id]; !exists {
			break
		}
	}
	return h.createRoomWithID(id, vsBot)
}

func (h *Hub) createRoomWithID(id string, vsBot bool) *Room {
	r := &Room{
		ID:        id,
		State:     protocol.StateLobby,
		VsBot:     vsBot,
		createdAt: h.opts.Clock(),
	}
	h.rooms[id] = r
	if m := h.opts.Metrics; m != nil {
		m.ActiveRooms.Add(context.Background(), 1)
	}
	slog.Info("room created", "room", id, "vs_bot", vsBot)
	return r
}

func (h *Hub) createBotRoom(connID string, s Sender, nick string) *Room {
	r := h.createRoom(true)
	h.addPlayer(r, connID, s, nick)

	// The bot occupies a full roster slot but has no transport and is
	// always ready.
	r.Players = append(r.Players, &Player{
		ID:       "bot:" + uuid.NewString(),
		Nick:     "Archivist",
		HP:       fullHP,
		Mana:     fullMana,
		Ready:    true,
		MicReady: true,
		Bot:      true,
		manaAt:   h.opts.Clock(),
	})

	h.broadcastSnapshot(r)
	return r
}

func (h *Hub) addPlayer(r *Room, connID string, s Sender, nick string) {
	if nick == "" {
		nick = "Duelist"
	}
	now := h.opts.Clock()
	r.Players = append(r.Players, &Player{
		ID:     connID,
		Nick:   nick,
		HP:     fullHP,
		Mana:   fullMana,
		sender: s,
		manaAt: now,
	})
	if c, ok := h.conns[connID]; ok {
		c.roomID = r.ID
	}
	if m := h.opts.Metrics; m != nil {
		m.ActivePlayers.Add(context.Background(), 1)
	}
}

func generateRoomCode() string {
	b := make([]byte, roomCodeLength)
	rand.Read(b)
	code := make([]byte, roomCodeLength)
	for i := range code {
		code[i] = roomCodeChars[int(b[i])%len(roomCodeChars)]
	}
	return string(code)
}

// ── Message handling ─────────────────────────────────────────────────────────

var (
	errRoomNotFound = errors.New("room not found")
	errNotInRoom    = errors.New("not a member of this room")
)

// membershipCode maps a memberRoom error onto its wire error code.
func membershipCode(err error) string {
	if errors.Is(err, errNotInRoom) {
		return protocol.CodeNotInRoom
	}
	return protocol.CodeRoomNotFound
}

// memberRoom resolves the (room, player) pair for a message sender, with
// the hub lock held.
func (h *Hub) memberRoom(connID, roomID string) (*Room, *Player, error) {
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, nil, errRoomNotFound
	}
	p := r.player(connID)
	if p == nil {
		return nil, nil, errNotInRoom
	}
	return r, p, nil
}

// SetReady updates a member's ready flags and arms the countdown when the
// lobby becomes fully ready.
func (h *Hub) SetReady(connID string, msg protocol.RoomReady) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.touchLocked(connID)
	r, p, err := h.memberRoom(connID, msg.RoomID)
	if err != nil {
		h.sendError(connID, membershipCode(err), err.Error())
		return
	}
	if r.State != protocol.StateLobby {
		return // ready toggles are meaningless outside the lobby
	}

	p.Ready = msg.Ready
	p.MicReady = msg.MicReady

	if r.allReady() {
		h.beginCountdown(r)
	}
	h.broadcastSnapshot(r)
}

// beginCountdown transitions lobby → countdown and arms the one-shot
// playing timer. Callers hold the hub lock.
func (h *Hub) beginCountdown(r *Room) {
	now := h.opts.Clock()
	r.State = protocol.StateCountdown
	r.CountdownEndsAt = now.Add(h.opts.Countdown)

	roomID := r.ID
	r.countdownTimer = time.AfterFunc(h.opts.Countdown, func() { h.countdownElapsed(roomID) })

	r.broadcast(protocol.MatchStart{RoomID: r.ID, CountdownEndsAt: r.CountdownEndsAt.UnixMilli()})
	slog.Info("countdown started", "room", r.ID, "ends_at", r.CountdownEndsAt)
}

// countdownElapsed fires the countdown → playing transition. The room may
// have been deleted or emptied since the timer was armed.
func (h *Hub) countdownElapsed(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok || r.State != protocol.StateCountdown {
		return
	}
	h.beginPlaying(r)
}

// beginPlaying transitions countdown → playing, arms the round timer, and
// starts the bot for solo rooms. Callers hold the hub lock.
func (h *Hub) beginPlaying(r *Room) {
	now := h.opts.Clock()
	r.State = protocol.StatePlaying
	r.RoundEndsAt = now.Add(h.opts.RoundTime)
	r.countdownTimer = nil

	roomID := r.ID
	r.roundTimer = time.AfterFunc(h.opts.RoundTime, func() { h.roundElapsed(roomID) })

	for _, p := range r.Players {
		p.manaAt = now
	}

	r.broadcast(protocol.MatchPlaying{RoomID: r.ID, RoundEndsAt: r.RoundEndsAt.UnixMilli()})
	h.broadcastSnapshot(r)
	slog.Info("match playing", "room", r.ID, "ends_at", r.RoundEndsAt)

	if r.VsBot && h.bots != nil {
		if bot := h.botPlayer(r); bot != nil {
			h.bots.StartMatch(r.ID, bot.ID)
		}
	}
}

// roundElapsed ends the match on round-timer expiry.
func (h *Hub) roundElapsed(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok || r.State != protocol.StatePlaying {
		return
	}
	h.finish(r, r.decideWinner())
}

// finish transitions the room to finished. Callers hold the hub lock.
func (h *Hub) finish(r *Room, winner string) {
	r.stopTimers()
	r.State = protocol.StateFinished
	r.Winner = winner

	if r.VsBot && h.bots != nil {
		h.bots.StopMatch(r.ID)
	}
	if m := h.opts.Metrics; m != nil {
		m.MatchDuration.Record(context.Background(), h.opts.Clock().Sub(r.createdAt).Seconds())
	}

	r.broadcast(protocol.MatchFinished{RoomID: r.ID, Winner: winner})
	h.broadcastSnapshot(r)
	slog.Info("match finished", "room", r.ID, "winner", winner)
}

// HandleCast validates, rate-limits, resolves, and relays one cast.
func (h *Hub) HandleCast(connID string, msg protocol.Cast) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.touchLocked(connID)
	r, p, err := h.memberRoom(connID, msg.RoomID)
	if err != nil {
		h.sendError(connID, membershipCode(err), err.Error())
		return
	}
	h.castLocked(r, p, msg)
}

// BotCast feeds a bot-originated cast through the same resolution path as a
// human cast.
func (h *Hub) BotCast(roomID, botID string, msg protocol.Cast) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	p := r.player(botID)
	if p == nil {
		return
	}
	msg.RoomID = roomID
	h.castLocked(r, p, msg)
}

// recordDenial counts one cast rejected before resolution.
func (h *Hub) recordDenial(reason string) {
	if m := h.opts.Metrics; m != nil {
		m.RecordGateDenial(context.Background(), reason)
	}
}

// castLocked is the shared cast path. Callers hold the hub lock.
func (h *Hub) castLocked(r *Room, p *Player, msg protocol.Cast) {
	if r.State != protocol.StatePlaying {
		h.recordDenial("not_playing")
		return // casts outside playing are dropped silently
	}

	now := h.opts.Clock()

	// Server-side rate limit, independent of the client's cooldown.
	if !p.lastCastAt.IsZero() && now.Sub(p.lastCastAt) < h.opts.CastMinInterval {
		h.recordDenial("rate_limited")
		h.sendError(p.ID, protocol.CodeRateLimited, "casting too fast")
		return
	}

	entry := h.book.Get(msg.SpellID)
	if entry == nil {
		h.recordDenial("unknown_spell")
		h.sendError(p.ID, protocol.CodeBadMessage, fmt.Sprintf("unknown spell %q", msg.SpellID))
		return
	}

	p.regenMana(now, h.opts.ManaRegenPerSec)
	if p.Mana < entry.ManaCost {
		h.recordDenial("no_mana")
		h.sendError(p.ID, protocol.CodeRateLimited, "not enough mana")
		return
	}
	p.Mana -= entry.ManaCost
	p.lastCastAt = now

	// Relay the cast to all members with the caster stamped, then resolve
	// its effect server-side and publish the resulting state.
	msg.From = p.ID
	r.broadcast(msg)

	ended := r.applyEffect(p, entry, msg.Power)

	if m := h.opts.Metrics; m != nil {
		m.RecordCast(context.Background(), entry.ID, string(entry.Kind), msg.Assist)
	}

	if ended {
		h.finish(r, p.ID)
		return
	}
	h.broadcastSnapshot(r)
}

// HandleSignal relays opaque RTC signaling to the addressee, or to every
// other member when To is empty.
func (h *Hub) HandleSignal(connID string, msg protocol.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.touchLocked(connID)
	r, _, err := h.memberRoom(connID, msg.RoomID)
	if err != nil {
		h.sendError(connID, membershipCode(err), err.Error())
		return
	}

	msg.From = connID
	for _, p := range r.Players {
		if p.ID == connID || p.sender == nil {
			continue
		}
		if msg.To != "" && p.ID != msg.To {
			continue
		}
		p.sender.Send(msg)
	}
}

// Leave removes the sender from its room.
func (h *Hub) Leave(connID string, msg protocol.RoomLeave) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoom(connID, msg.RoomID)
}

// Heartbeat records liveness for the sweeper.
func (h *Hub) Heartbeat(connID string, _ protocol.Heartbeat) {
	h.mu.Lock()
	h.touchLocked(connID)
	h.mu.Unlock()
}

// Touch records liveness for any inbound traffic from connID.
func (h *Hub) Touch(connID string) {
	h.mu.Lock()
	h.touchLocked(connID)
	h.mu.Unlock()
}

func (h *Hub) touchLocked(connID string) {
	if c, ok := h.conns[connID]; ok {
		c.lastSeen = h.opts.Clock()
	}
}

// Disconnect handles a transport-level connection loss: the departed player
// is removed from its room, remaining members learn immediately, and any
// queue entry is dropped.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropQueuedLocked(connID)

	if c, ok := h.conns[connID]; ok && c.roomID != "" {
		h.removeFromRoom(connID, c.roomID)
	}
	delete(h.conns, connID)
}

// dropQueuedLocked removes connID from the quick-match queue if present.
func (h *Hub) dropQueuedLocked(connID string) {
	for i, w := range h.queue {
		if w.connID == connID {
			w.fallback.Stop()
			h.queue = append(h.queue[:i], h.queue[i+1:]...)
			return
		}
	}
}

// removeFromRoom takes connID out of roomID's roster, notifies the rest,
// and deletes the room when no humans remain. Callers hold the hub lock.
func (h *Hub) removeFromRoom(connID, roomID string) {
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}

	found := false
	for i, p := range r.Players {
		if p.ID == connID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}
	if c, ok := h.conns[connID]; ok && c.roomID == roomID {
		c.roomID = ""
	}
	if m := h.opts.Metrics; m != nil {
		m.ActivePlayers.Add(context.Background(), -1)
	}

	if r.humansLeft() == 0 {
		h.deleteRoom(r)
		return
	}

	r.broadcast(protocol.OpponentLeft{RoomID: r.ID})
	h.broadcastSnapshot(r)
	slog.Info("player left room", "room", r.ID, "conn", connID, "state", r.State)
}

// deleteRoom cancels the room's timers and drops it from the table.
// Callers hold the hub lock.
func (h *Hub) deleteRoom(r *Room) {
	r.stopTimers()
	if r.VsBot && h.bots != nil {
		h.bots.StopMatch(r.ID)
	}
	delete(h.rooms, r.ID)
	if m := h.opts.Metrics; m != nil {
		m.ActiveRooms.Add(context.Background(), -1)
	}
	slog.Info("room deleted", "room", r.ID)
}

// ── Supervision ──────────────────────────────────────────────────────────────

// sweep disconnects every connection that has been silent beyond the
// heartbeat timeout.
func (h *Hub) sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.opts.Clock()
	for connID, c := range h.conns {
		if now.Sub(c.lastSeen) <= h.opts.HeartbeatTimeout {
			continue
		}
		slog.Warn("heartbeat timeout", "conn", connID, "last_seen", c.lastSeen)
		c.sender.Send(protocol.ErrorMsg{
			Code:    protocol.CodeHeartbeatTimeout,
			Message: "no heartbeat received",
		})
		c.sender.CloseWithTimeout()

		h.dropQueuedLocked(connID)
		if c.roomID != "" {
			h.removeFromRoom(connID, c.roomID)
		}
		delete(h.conns, connID)
	}
}

// broadcastSnapshot publishes the room's authoritative state to all
// members. Callers hold the hub lock.
func (h *Hub) broadcastSnapshot(r *Room) {
	r.broadcast(r.snapshot(h.opts.Clock()))
}

// sendError delivers an error message to one connection, when it is still
// registered. Callers hold the hub lock.
func (h *Hub) sendError(connID, code, message string) {
	if c, ok := h.conns[connID]; ok {
		c.sender.Send(protocol.ErrorMsg{Code: code, Message: message})
	}
}

// botPlayer returns the room's bot roster entry, or nil.
func (h *Hub) botPlayer(r *Room) *Player {
	for _, p := range r.Players {
		if p.Bot {
			return p
		}
	}
	return nil
}
