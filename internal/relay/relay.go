// Package relay is the WebSocket edge of the server: it accepts connections,
// decodes wire frames, and dispatches them to the room hub. Each connection
// gets a dedicated writer goroutine fed by a bounded channel, so hub
// broadcasts never block on a slow socket and every client observes its
// messages in send order.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/eikq/arcanum/internal/observe"
	"github.com/eikq/arcanum/internal/protocol"
	"github.com/eikq/arcanum/internal/room"
)

const (
	// sendBufferSize bounds the per-connection outbound queue. A client
	// that falls this far behind starts losing snapshots; it will catch up
	// on the next one.
	sendBufferSize = 64

	writeTimeout   = 10 * time.Second
	maxMessageSize = 32 << 10
)

// Handler upgrades HTTP requests to duel-relay WebSocket connections.
type Handler struct {
	hub     *room.Hub
	metrics *observe.Metrics
}

// NewHandler returns the WebSocket handler for the given hub. metrics may be
// nil.
func NewHandler(hub *room.Hub, metrics *observe.Metrics) *Handler {
	return &Handler{hub: hub, metrics: metrics}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients are served from arbitrary origins during
		// development; the relay carries no credentials.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan protocol.Message, sendBufferSize),
		done: make(chan struct{}),
	}
	slog.Info("connection opened", "conn", c.id, "remote", r.RemoteAddr)
	h.hub.Register(c.id, c)

	go c.writeLoop()
	h.readLoop(r.Context(), c)
}

// readLoop consumes frames until the connection drops, dispatching each
// decoded message to the hub. On exit the hub forgets the connection and the
// writer is released.
func (h *Handler) readLoop(ctx context.Context, c *conn) {
	defer func() {
		h.hub.Disconnect(c.id)
		c.shutdown()
		slog.Info("connection closed", "conn", c.id)
	}()

	for {
		_, frame, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				slog.Debug("websocket read ended", "conn", c.id, "error", err)
			}
			return
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			c.Send(protocol.ErrorMsg{Code: protocol.CodeBadMessage, Message: err.Error()})
			continue
		}
		kind := string(msg.MessageKind())
		if h.metrics != nil {
			h.metrics.RecordMessageIn(ctx, kind)
		}
		_, span := observe.MessageSpan(ctx, kind, c.id)
		h.dispatch(c, msg)
		span.End()
	}
}

// dispatch routes one decoded client message to the hub. Server-to-client
// kinds arriving from a client are protocol violations.
func (h *Handler) dispatch(c *conn, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.QueueJoin:
		c.Send(h.hub.Join(c.id, c, *m))
	case *protocol.RoomReady:
		h.hub.SetReady(c.id, *m)
	case *protocol.RoomLeave:
		h.hub.Leave(c.id, *m)
	case *protocol.Cast:
		h.hub.HandleCast(c.id, *m)
	case *protocol.Signal:
		h.hub.HandleSignal(c.id, *m)
	case *protocol.Heartbeat:
		h.hub.Heartbeat(c.id, *m)
	default:
		c.Send(protocol.ErrorMsg{
			Code:    protocol.CodeBadMessage,
			Message: "kind " + string(msg.MessageKind()) + " is not a client message",
		})
	}
}

// conn is one live WebSocket connection. It implements [room.Sender].
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan protocol.Message
	done chan struct{}
}

// Send queues msg for the writer goroutine. When the buffer is full the
// message is dropped rather than blocking the hub.
func (c *conn) Send(msg protocol.Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		slog.Warn("send buffer full, dropping message",
			"conn", c.id, "kind", msg.MessageKind())
	}
}

// CloseWithTimeout tears the connection down after a heartbeat timeout. The
// read loop observes the closure and runs the usual cleanup.
func (c *conn) CloseWithTimeout() {
	c.ws.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
}

func (c *conn) shutdown() {
	close(c.done)
	c.ws.Close(websocket.StatusNormalClosure, "")
}

// writeLoop drains the send channel onto the socket, preserving queue order.
func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			frame, err := protocol.Encode(msg)
			if err != nil {
				slog.Error("encode outbound message", "conn", c.id, "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err = c.ws.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "conn", c.id, "error", err)
				return
			}
		}
	}
}
