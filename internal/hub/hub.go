// Package hub is the server-side core of the collaboration service: the
// connection registry and group index, the per-group task-state authority
// wiring, the inbound message router, and the heartbeat supervisor.
package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/satlink/sathub/internal/config"
	"github.com/satlink/sathub/internal/protocol"
	"github.com/satlink/sathub/internal/task"
)

// Sentinel errors for register failures. Their text is what lands in
// RegisterResponse.message.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRoleConflict    = errors.New("role slot occupied")
	ErrTaskMismatch    = errors.New("task mismatch")
	ErrInvalidRole     = errors.New("invalid role")
)

// group binds a member set to its task-state authority. Members are keyed by
// client id and hold the client pointer; a client refers back to its group
// only by the group id string.
type group struct {
	id        string
	authority *task.Authority
	members   map[uuid.UUID]*Client

	// emptySince is non-zero while the group has no members and is riding
	// out the retention grace window.
	emptySince time.Time
}

// Hub owns every live session and group in the process. All index mutations
// happen under mu; broadcast reads a member snapshot under the lock and
// releases it before enqueueing so a slow recipient cannot stall other
// groups.
type Hub struct {
	cfg *config.Config
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
	groups  map[string]*group
}

// New creates an empty hub.
func New(cfg *config.Config, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		clients: make(map[uuid.UUID]*Client),
		groups:  make(map[string]*group),
		log:     logger.With().Str("component", "hub").Logger(),
	}
}

// ServeWebSocket owns an upgraded connection: it creates the session and runs
// the I/O pumps. It returns when the connection is torn down.
func (h *Hub) ServeWebSocket(conn *websocket.Conn) {
	client := h.AddSession(conn, conn.RemoteAddr().String())
	go client.writePump()
	client.readPump()
}

// AddSession mints a session for an accepted connection and inserts it into
// the registry. The session has no group affiliation yet.
func (h *Hub) AddSession(conn *websocket.Conn, addr string) *Client {
	client := newClient(h, conn, addr, h.log)

	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Stringer("client_id", client.id).Str("addr", addr).Int("total", total).
		Msg("Client connected")
	return client
}

// RemoveSession removes the session from the registry and its group, notifies
// the remaining partner, and requests socket teardown. Idempotent: a second
// call for the same id is a no-op and emits no further notices.
func (h *Hub) RemoveSession(clientID uuid.UUID) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, clientID)

	notices := h.detachFromGroupLocked(client)
	h.mu.Unlock()

	client.clearMembership()
	client.requestClose()
	h.deliver(notices)

	h.log.Info().Stringer("client_id", clientID).Msg("Client removed")
}

// pendingSend is a message bound for a client, built under the hub lock and
// delivered after it is released.
type pendingSend struct {
	to  *Client
	msg protocol.Message
}

// deliver enqueues each pending message, logging per-recipient failures
// without interrupting the rest.
func (h *Hub) deliver(sends []pendingSend) {
	for _, s := range sends {
		if !s.to.enqueue(s.msg) {
			h.log.Warn().Stringer("client_id", s.to.id).Str("message_type", s.msg.MessageType).
				Msg("Delivery failed")
		}
	}
}

// detachFromGroupLocked removes the client from its group, builds the
// partner-offline notices, and applies the empty-group policy. Callers hold
// h.mu.
func (h *Hub) detachFromGroupLocked(client *Client) []pendingSend {
	groupID := client.GroupID()
	if groupID == "" {
		return nil
	}
	g, ok := h.groups[groupID]
	if !ok {
		return nil
	}
	delete(g.members, client.id)

	var notices []pendingSend
	offline := protocol.PartnerStatusPayload{
		PartnerRole:     client.Role(),
		PartnerClientID: client.id,
		IsOnline:        false,
		GroupID:         groupID,
	}
	for _, member := range g.members {
		if msg, err := protocol.New(protocol.TypePartnerStatusUpdate, offline); err == nil {
			notices = append(notices, pendingSend{to: member, msg: msg})
		}
	}

	if len(g.members) == 0 {
		g.emptySince = time.Now().UTC()
		h.scheduleGroupExpiry(g)
	}
	return notices
}

// scheduleGroupExpiry discards the group once the retention window elapses,
// unless a member rejoined in the meantime. The preserved authority lets a
// peer that reconnects within the window recover the task state.
func (h *Hub) scheduleGroupExpiry(g *group) {
	emptiedAt := g.emptySince
	time.AfterFunc(h.cfg.GroupRetention(), func() {
		h.mu.Lock()
		current, ok := h.groups[g.id]
		if ok && current == g && len(current.members) == 0 && current.emptySince.Equal(emptiedAt) {
			delete(h.groups, g.id)
			h.mu.Unlock()
			h.log.Info().Str("group_id", g.id).Str("task_id", g.authority.TaskID()).
				Msg("Empty group expired")
			return
		}
		h.mu.Unlock()
	})
}

// Register validates and applies a Register request, then enqueues the
// response sequence: RegisterResponse and the state snapshot to the joining
// client, followed by a partner-online notice to the other member. A Register
// with an invalid role changes nothing. Otherwise a session already in a group
// leaves it before the task and role checks run, so a Register that then fails
// leaves the session unjoined; for an unjoined session a failed Register
// changes nothing.
func (h *Hub) Register(clientID uuid.UUID, p protocol.RegisterPayload) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		h.log.Warn().Stringer("client_id", clientID).Err(ErrSessionNotFound).Msg("Register for unknown session")
		return
	}

	if !protocol.ValidRole(p.Role) {
		h.mu.Unlock()
		h.sendRegisterFailure(client, fmt.Errorf("%w: %q", ErrInvalidRole, p.Role))
		return
	}

	// A session already in a group leaves it first, with the same partner
	// notifications a disconnect would produce.
	notices := h.detachFromGroupLocked(client)
	client.clearMembership()

	g, ok := h.groups[p.GroupID]
	if !ok {
		g = &group{
			id:        p.GroupID,
			authority: task.NewAuthority(p.TaskID, h.cfg.MaxCustomSharedDataBytes),
			members:   make(map[uuid.UUID]*Client),
		}
		h.groups[p.GroupID] = g
	} else if g.authority.TaskID() != p.TaskID {
		h.mu.Unlock()
		h.deliver(notices)
		h.sendRegisterFailure(client, fmt.Errorf("%w: group %q is bound to task %q", ErrTaskMismatch, p.GroupID, g.authority.TaskID()))
		return
	}

	for _, member := range g.members {
		if member.Role() == p.Role {
			h.mu.Unlock()
			h.deliver(notices)
			h.sendRegisterFailure(client, ErrRoleConflict)
			return
		}
	}

	client.setMembership(p.Role, p.GroupID)
	g.members[client.id] = client
	g.emptySince = time.Time{}
	snapshot := g.authority.Snapshot()

	online := protocol.PartnerStatusPayload{
		PartnerRole:     p.Role,
		PartnerClientID: client.id,
		IsOnline:        true,
		GroupID:         p.GroupID,
	}
	var partnerNotices []pendingSend
	for _, member := range g.members {
		if member.id == client.id {
			continue
		}
		if msg, err := protocol.New(protocol.TypePartnerStatusUpdate, online); err == nil {
			partnerNotices = append(partnerNotices, pendingSend{to: member, msg: msg})
		}
	}
	h.mu.Unlock()

	h.deliver(notices)

	// Ordering matters: RegisterResponse, then the snapshot, then partner
	// notices triggered by this join.
	resp := protocol.RegisterResponsePayload{
		Success:          true,
		AssignedClientID: client.id,
		EffectiveGroupID: p.GroupID,
		EffectiveRole:    p.Role,
	}
	if msg, err := protocol.New(protocol.TypeRegisterResponse, resp); err == nil {
		client.enqueue(msg)
	}
	if msg, err := protocol.New(protocol.TypeTaskStateUpdate, snapshot); err == nil {
		client.enqueue(msg)
	} else {
		h.log.Error().Err(err).Str("group_id", p.GroupID).Msg("Failed to encode state snapshot")
	}
	h.deliver(partnerNotices)

	event := h.log.Info().Stringer("client_id", client.id).Str("group_id", p.GroupID).
		Str("task_id", p.TaskID).Str("role", string(p.Role))
	if p.ClientDisplayName != "" {
		event = event.Str("client_display_name", p.ClientDisplayName)
	}
	if p.ClientSoftwareVersion != "" {
		event = event.Str("client_software_version", p.ClientSoftwareVersion)
	}
	event.Msg("Client registered")
}

func (h *Hub) sendRegisterFailure(client *Client, reason error) {
	h.log.Warn().Stringer("client_id", client.id).Err(reason).Msg("Register rejected")
	resp := protocol.RegisterResponsePayload{
		Success:          false,
		Message:          reason.Error(),
		AssignedClientID: client.id,
	}
	if msg, err := protocol.New(protocol.TypeRegisterResponse, resp); err == nil {
		client.enqueue(msg)
	}
}

// BroadcastToGroup enqueues the message to every member of the group except
// excludeClientID (uuid.Nil excludes nobody). Failures are logged
// per-recipient and never interrupt the remaining deliveries.
func (h *Hub) BroadcastToGroup(groupID string, msg protocol.Message, excludeClientID uuid.UUID) {
	h.mu.RLock()
	g, ok := h.groups[groupID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	recipients := make([]*Client, 0, len(g.members))
	for _, member := range g.members {
		if member.id == excludeClientID {
			continue
		}
		recipients = append(recipients, member)
	}
	h.mu.RUnlock()

	for _, member := range recipients {
		if !member.enqueue(msg) {
			h.log.Warn().Stringer("client_id", member.id).Str("group_id", groupID).
				Str("message_type", msg.MessageType).Msg("Broadcast delivery failed")
		}
	}
}

// authorityFor returns the state authority of the group, or nil when the
// group does not exist.
func (h *Hub) authorityFor(groupID string) *task.Authority {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if g, ok := h.groups[groupID]; ok {
		return g.authority
	}
	return nil
}

// SnapshotSessions returns a consistent slice of all live sessions for the
// heartbeat supervisor.
func (h *Hub) SnapshotSessions() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sessions := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		sessions = append(sessions, c)
	}
	return sessions
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupCount returns the number of live groups, including empty ones still
// inside the retention window.
func (h *Hub) GroupCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

// Shutdown closes every active connection with a Going Away status and clears
// the registry.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[uuid.UUID]*Client)
	h.groups = make(map[string]*group)
	h.mu.Unlock()

	for _, c := range clients {
		c.requestClose()
		if c.conn != nil {
			c.closeWithFrame(websocket.CloseGoingAway, "server shutting down")
		}
	}
	h.log.Info().Int("clients", len(clients)).Msg("Hub shut down")
}
