package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/satlink/sathub/internal/protocol"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Client represents a single WebSocket connection. Each client runs two
// goroutines (readPump and writePump) and is fed by the Hub through its send
// channel. Role and group membership are written only by the Hub's Register
// and RemoveSession paths; last-seen is refreshed by the router on every
// inbound frame.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	id        uuid.UUID
	addr      string
	createdAt time.Time

	// lastSeen holds UTC milliseconds. Atomic because the router writes it
	// while the heartbeat supervisor reads it.
	lastSeen atomic.Int64

	// done is closed to request connection teardown. The send channel is
	// never closed directly; writePump and enqueue both select on done to
	// detect termination, avoiding send-on-closed-channel panics when
	// RemoveSession races with a broadcast.
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	role    protocol.Role
	groupID string
}

func newClient(hub *Hub, conn *websocket.Conn, addr string, logger zerolog.Logger) *Client {
	now := time.Now().UTC()
	c := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, hub.cfg.SendBufferSize),
		done:      make(chan struct{}),
		id:        uuid.New(),
		addr:      addr,
		createdAt: now,
		role:      protocol.RoleUnknown,
		log:       logger,
	}
	c.lastSeen.Store(now.UnixMilli())
	return c
}

// ID returns the server-minted client identifier.
func (c *Client) ID() uuid.UUID { return c.id }

// Addr returns the peer's remote address.
func (c *Client) Addr() string { return c.addr }

// Role returns the client's current role. RoleUnknown until Register
// succeeds.
func (c *Client) Role() protocol.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// GroupID returns the group the client is joined to, or "" when unjoined.
func (c *Client) GroupID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groupID
}

// setMembership records the role and group assigned by a successful Register.
// Only the Hub calls this: Register directly, and Register and RemoveSession
// through clearMembership.
func (c *Client) setMembership(role protocol.Role, groupID string) {
	c.mu.Lock()
	c.role = role
	c.groupID = groupID
	c.mu.Unlock()
}

// clearMembership resets the client to the unjoined state.
func (c *Client) clearMembership() {
	c.setMembership(protocol.RoleUnknown, "")
}

// touch refreshes the last-seen clock. Called by the router for every inbound
// frame; heartbeat traffic is data-plane, a Ping refreshes exactly like a
// business message.
func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UTC().UnixMilli())
}

// LastSeen returns the last-seen instant.
func (c *Client) LastSeen() time.Time {
	return time.UnixMilli(c.lastSeen.Load()).UTC()
}

// closeRequested reports whether teardown has been requested.
func (c *Client) closeRequested() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// requestClose signals both I/O pumps to stop. Safe to call from multiple
// goroutines; only the first call has any effect.
func (c *Client) requestClose() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads frames from the socket and hands them to the router. It runs
// in its own goroutine and is responsible for removing the session when the
// read loop exits for any reason.
func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveSession(c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSizeBytes))

	for {
		if c.closeRequested() {
			return
		}

		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		// Only text frames carry protocol envelopes. A binary frame is a
		// protocol error, reported to the sender with the session kept open.
		if msgType != websocket.TextMessage {
			c.touch()
			c.hub.sendError(c, "", "BadPayload: binary frames are not supported")
			continue
		}

		c.hub.route(c, frame)
	}
}

// writePump drains the send channel onto the socket. It runs in its own
// goroutine and exits when done is closed, draining any buffered frames first
// so the client receives everything enqueued before the close.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// enqueue serialises the message onto the client's outbound queue. A full
// queue drops that one delivery (logged) rather than stalling the caller, so
// a slow peer cannot hold up its group. Returns false when the delivery was
// dropped or the client is shutting down.
func (c *Client) enqueue(msg protocol.Message) bool {
	raw, err := msg.Encode()
	if err != nil {
		c.log.Error().Err(err).Str("message_type", msg.MessageType).Msg("Failed to encode outbound message")
		return false
	}
	return c.enqueueRaw(raw, msg.MessageType)
}

func (c *Client) enqueueRaw(raw []byte, messageType string) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- raw:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Str("message_type", messageType).Msg("Client send buffer full, dropping delivery")
		return false
	}
}

// closeWithFrame sends a WebSocket close frame and closes the underlying
// connection. Used for server-initiated shutdown.
func (c *Client) closeWithFrame(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}
