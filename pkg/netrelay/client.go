// Package netrelay is the client side of the duel relay: a WebSocket session
// that survives transient drops with a bounded fixed-backoff reconnect,
// throttles outbound casts independently of the server, and fans decoded
// server messages out to typed handlers.
package netrelay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/eikq/arcanum/internal/protocol"
)

// State is the connection state of a [Client].
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Client-side send throttles. The server enforces its own floor; these keep
// a glitching matcher from flooding the socket in the first place.
const (
	globalThrottle   = 1 * time.Second
	perSpellThrottle = 500 * time.Millisecond
)

// Default session parameters.
const (
	defaultMaxRetries        = 5
	defaultBackoff           = 2 * time.Second
	defaultHeartbeatInterval = 4 * time.Second
)

var (
	// ErrThrottled is returned by SendCast when the client-side throttle
	// suppresses a cast. The cast is dropped, not queued.
	ErrThrottled = errors.New("netrelay: cast throttled")

	// ErrNotConnected is returned by operations attempted without a live
	// session.
	ErrNotConnected = errors.New("netrelay: not connected")
)

// Handlers receives decoded server messages. Any field may be nil. Handlers
// are invoked from the session's read goroutine; they must not block.
type Handlers struct {
	JoinResult    func(protocol.JoinResult)
	QueueWaiting  func(protocol.QueueWaiting)
	Snapshot      func(protocol.RoomSnapshot)
	MatchStart    func(protocol.MatchStart)
	MatchPlaying  func(protocol.MatchPlaying)
	MatchFinished func(protocol.MatchFinished)
	Cast          func(protocol.Cast)
	Signal        func(protocol.Signal)
	OpponentLeft  func(protocol.OpponentLeft)
	Error         func(protocol.ErrorMsg)

	// StateChange observes connection-state transitions, including each
	// reconnect attempt's connecting→connected cycle.
	StateChange func(State)
}

// Config configures a [Client].
type Config struct {
	// URL is the relay WebSocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string

	// Handlers receive server messages.
	Handlers Handlers

	// MaxRetries bounds reconnect attempts per drop. Defaults to 5.
	MaxRetries int

	// Backoff is the fixed delay between reconnect attempts. Defaults to 2s.
	Backoff time.Duration

	// HeartbeatInterval is how often the session heartbeats. Must stay well
	// under the server's idle timeout. Defaults to 4s.
	HeartbeatInterval time.Duration
}

// Client is one relay session. All methods are safe for concurrent use.
type Client struct {
	cfg Config

	mu          sync.Mutex
	ws          *websocket.Conn
	state       State
	roomID      string
	playerID    string
	offsetMs    int64
	lastCastAt  time.Time
	lastSpellAt map[string]time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a client. Call [Client.Dial] to open the session.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("netrelay: URL is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Client{
		cfg:         cfg,
		state:       StateDisconnected,
		lastSpellAt: make(map[string]time.Time),
		done:        make(chan struct{}),
	}, nil
}

// Dial opens the session and starts the read and heartbeat goroutines. The
// session lives until [Client.Close] or until a drop exhausts its reconnect
// budget; ctx bounds the whole session, not just the handshake.
func (c *Client) Dial(ctx context.Context) error {
	c.setState(StateConnecting)
	ws, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("netrelay: dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(ctx)
	go c.heartbeatLoop(ctx)
	return nil
}

// Close ends the session. Safe to call multiple times.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.setState(StateDisconnected)
	if ws != nil {
		return ws.Close(websocket.StatusNormalClosure, "client closed")
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomID returns the room assigned by the last successful join, if any.
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// PlayerID returns the identity assigned by the last successful join.
func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// ServerOffsetMs is the latest observed serverNow − localNow, updated from
// every snapshot. Add it to local Unix-millisecond times to compare against
// server deadlines.
func (c *Client) ServerOffsetMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsetMs
}

// ── Operations ───────────────────────────────────────────────────────────────

// QuickMatch enters the quick-match queue.
func (c *Client) QuickMatch(nick string) error {
	return c.send(protocol.QueueJoin{Mode: protocol.ModeQuick, Nick: nick})
}

// PlayBot requests a solo room against the bot.
func (c *Client) PlayBot(nick string) error {
	return c.send(protocol.QueueJoin{Mode: protocol.ModeBot, Nick: nick})
}

// CreateRoom generates a fresh room code and joins it. The server creates
// the room on first join, so creating and joining are the same wire
// operation. Returns the code to share with the opponent.
func (c *Client) CreateRoom(nick string) (string, error) {
	code := newRoomCode()
	return code, c.JoinRoom(code, nick)
}

// JoinRoom joins an existing room by its 6-character code.
func (c *Client) JoinRoom(code, nick string) error {
	return c.send(protocol.QueueJoin{Mode: protocol.ModeCode, RoomCode: code, Nick: nick})
}

// SetReady updates the ready and mic flags for the current room.
func (c *Client) SetReady(ready, micReady bool) error {
	roomID := c.RoomID()
	if roomID == "" {
		return ErrNotConnected
	}
	return c.send(protocol.RoomReady{RoomID: roomID, Ready: ready, MicReady: micReady})
}

// LeaveRoom leaves the current room.
func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	roomID := c.roomID
	c.roomID = ""
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return c.send(protocol.RoomLeave{RoomID: roomID})
}

// SendCast fires one cast, fire-and-forget. The client throttle (1s global,
// 500ms per spell) runs independently of any cooldown upstream; a throttled
// cast returns [ErrThrottled] and is not queued.
func (c *Client) SendCast(spellID string, accuracy, loudness, power float64, assist bool) error {
	c.mu.Lock()
	roomID := c.roomID
	if roomID == "" {
		c.mu.Unlock()
		return ErrNotConnected
	}
	now := time.Now()
	if !c.lastCastAt.IsZero() && now.Sub(c.lastCastAt) < globalThrottle {
		c.mu.Unlock()
		return ErrThrottled
	}
	if last, ok := c.lastSpellAt[spellID]; ok && now.Sub(last) < perSpellThrottle {
		c.mu.Unlock()
		return ErrThrottled
	}
	c.lastCastAt = now
	c.lastSpellAt[spellID] = now
	c.mu.Unlock()
	return c.send(protocol.Cast{
		RoomID:   roomID,
		SpellID:  spellID,
		Accuracy: accuracy,
		Loudness: loudness,
		Power:    power,
		TS:       now.UnixMilli(),
		Assist:   assist,
	})
}

// SendSignal relays opaque RTC signaling data. to may be empty to address
// the whole room.
func (c *Client) SendSignal(to string, data json.RawMessage) error {
	roomID := c.RoomID()
	if roomID == "" {
		return ErrNotConnected
	}
	return c.send(protocol.Signal{RoomID: roomID, To: to, Data: data})
}

// ── Session internals ────────────────────────────────────────────────────────

func (c *Client) send(msg protocol.Message) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("netrelay: encode %s: %w", msg.MessageKind(), err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("netrelay: send %s: %w", msg.MessageKind(), err)
	}
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.cfg.Handlers.StateChange != nil {
		c.cfg.Handlers.StateChange(s)
	}
}

// heartbeatLoop keeps the server's idle sweeper at bay.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			_ = c.send(protocol.Heartbeat{RoomID: c.RoomID(), T: time.Now().UnixMilli()})
		}
	}
}

// readLoop consumes server frames and fans them out. On a drop it attempts
// reconnection with a fixed backoff; exhausting the budget ends the session.
func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}

		_, frame, err := ws.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if !c.reconnect(ctx) {
				c.Close()
				return
			}
			continue
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			slog.Warn("undecodable server frame", "error", err)
			continue
		}
		c.handle(msg)
	}
}

// reconnect retries the dial with a fixed backoff. Reports whether a new
// connection was established.
func (c *Client) reconnect(ctx context.Context) bool {
	c.setState(StateConnecting)

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-c.done:
			return false
		case <-time.After(c.cfg.Backoff):
		}

		slog.Info("relay reconnect attempt",
			"attempt", attempt, "max_retries", c.cfg.MaxRetries)

		ws, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
		if err == nil {
			c.mu.Lock()
			c.ws = ws
			c.mu.Unlock()
			c.setState(StateConnected)
			slog.Info("relay reconnected", "attempt", attempt)
			return true
		}
		slog.Warn("relay reconnect failed", "attempt", attempt, "error", err)
	}

	slog.Error("relay reconnect exhausted", "max_retries", c.cfg.MaxRetries)
	return false
}

// handle fans one decoded server message out to its typed handler.
func (c *Client) handle(msg protocol.Message) {
	h := c.cfg.Handlers
	switch m := msg.(type) {
	case *protocol.JoinResult:
		if m.OK {
			c.mu.Lock()
			if m.RoomID != "" {
				c.roomID = m.RoomID
			}
			if m.PlayerID != "" {
				c.playerID = m.PlayerID
			}
			c.mu.Unlock()
		}
		if h.JoinResult != nil {
			h.JoinResult(*m)
		}
	case *protocol.QueueWaiting:
		if h.QueueWaiting != nil {
			h.QueueWaiting(*m)
		}
	case *protocol.RoomSnapshot:
		c.mu.Lock()
		c.offsetMs = m.ServerNow - time.Now().UnixMilli()
		c.mu.Unlock()
		if h.Snapshot != nil {
			h.Snapshot(*m)
		}
	case *protocol.MatchStart:
		if h.MatchStart != nil {
			h.MatchStart(*m)
		}
	case *protocol.MatchPlaying:
		if h.MatchPlaying != nil {
			h.MatchPlaying(*m)
		}
	case *protocol.MatchFinished:
		if h.MatchFinished != nil {
			h.MatchFinished(*m)
		}
	case *protocol.Cast:
		if h.Cast != nil {
			h.Cast(*m)
		}
	case *protocol.Signal:
		if h.Signal != nil {
			h.Signal(*m)
		}
	case *protocol.OpponentLeft:
		if h.OpponentLeft != nil {
			h.OpponentLeft(*m)
		}
	case *protocol.ErrorMsg:
		if h.Error != nil {
			h.Error(*m)
		}
	}
}

// roomCodeChars matches the server's unambiguous code alphabet.
const roomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newRoomCode() string {
	b := make([]byte, 6)
	rand.Read(b)
	code := make([]byte, 6)
	for i := range code {
		code[i] = roomCodeChars[int(b[i])%len(roomCodeChars)]
	}
	return string(code)
}
