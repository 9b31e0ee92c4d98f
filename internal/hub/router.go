package hub

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/satlink/sathub/internal/protocol"
	"github.com/satlink/sathub/internal/task"
)

// route is the decision table for one inbound frame. It refreshes the
// session's last-seen clock, dispatches by message type, and translates every
// failure into a sender-visible response. Nothing that happens here may take
// down the connection unless the underlying socket is already dead.
func (h *Hub) route(c *Client, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Stringer("client_id", c.id).Any("panic", r).
				Msg("Panic while routing message")
			h.sendError(c, "", "internal error")
		}
	}()

	c.touch()

	msg, err := protocol.Decode(frame)
	if err != nil {
		h.log.Debug().Err(err).Stringer("client_id", c.id).Msg("Unparseable envelope")
		h.sendError(c, "", fmt.Sprintf("BadPayload: %v", err))
		return
	}

	h.log.Debug().Stringer("client_id", c.id).Str("message_type", msg.MessageType).
		Str("message_id", msg.MessageID).Msg("Inbound message")

	switch msg.MessageType {
	case protocol.TypePing:
		if reply, err := protocol.New(protocol.TypePong, protocol.PongPayload{}); err == nil {
			c.enqueue(reply)
		}

	case protocol.TypeEcho:
		// Diagnostic: bounce the payload back byte-for-byte under a fresh
		// envelope.
		c.enqueue(protocol.NewRaw(protocol.TypeEcho, msg.Payload))

	case protocol.TypeRegister:
		p, err := protocol.DecodePayload[protocol.RegisterPayload](msg)
		if err != nil {
			h.sendError(c, msg.MessageType, fmt.Sprintf("BadPayload: %v", err))
			return
		}
		h.Register(c.id, p)

	case protocol.TypeUpdatePreCheckItem,
		protocol.TypeStartSingleTestStep,
		protocol.TypeFeedbackSingleTestStep,
		protocol.TypeConfirmSingleTestStep,
		protocol.TypeUpdateTaskDebugNote:
		h.routeBusiness(c, msg)

	default:
		h.log.Warn().Stringer("client_id", c.id).Str("message_type", msg.MessageType).
			Msg("Unknown message type")
		h.sendError(c, msg.MessageType, fmt.Sprintf("UnknownType: %q is not supported", msg.MessageType))
	}
}

// routeBusiness applies one state mutation: parse, delegate to the group's
// authority, then snapshot and fan out to every member including the
// originator, so all clients converge on the canonical post-state.
func (h *Hub) routeBusiness(c *Client, msg protocol.Message) {
	groupID := c.GroupID()
	if groupID == "" {
		h.sendError(c, msg.MessageType, "NotRegistered: join a group before sending business messages")
		return
	}
	authority := h.authorityFor(groupID)
	if authority == nil {
		// The group vanished between membership check and lookup; treat as
		// unregistered.
		h.sendError(c, msg.MessageType, "NotRegistered: group no longer exists")
		return
	}

	origin := c.Role()
	var err error
	switch msg.MessageType {
	case protocol.TypeUpdatePreCheckItem:
		var p protocol.UpdatePreCheckItemPayload
		if p, err = protocol.DecodePayload[protocol.UpdatePreCheckItemPayload](msg); err == nil {
			_, err = authority.ApplyUpdatePreCheckItem(p.ItemID, p.Status, p.Notes, origin)
		}
	case protocol.TypeStartSingleTestStep:
		var p protocol.StartSingleTestStepPayload
		if p, err = protocol.DecodePayload[protocol.StartSingleTestStepPayload](msg); err == nil {
			_, err = authority.ApplyStartSingleTestStep(p.StepID, p.Command, p.Params, origin)
		}
	case protocol.TypeFeedbackSingleTestStep:
		var p protocol.FeedbackSingleTestStepPayload
		if p, err = protocol.DecodePayload[protocol.FeedbackSingleTestStepPayload](msg); err == nil {
			_, err = authority.ApplyFeedbackSingleTestStep(p.StepID, p.ExecutionStatus, p.ResultData, p.FeedbackNotes, origin)
		}
	case protocol.TypeConfirmSingleTestStep:
		var p protocol.ConfirmSingleTestStepPayload
		if p, err = protocol.DecodePayload[protocol.ConfirmSingleTestStepPayload](msg); err == nil {
			_, err = authority.ApplyConfirmSingleTestStep(p.StepID, p.ConfirmationStatus, origin)
		}
	case protocol.TypeUpdateTaskDebugNote:
		var p protocol.UpdateTaskDebugNotePayload
		if p, err = protocol.DecodePayload[protocol.UpdateTaskDebugNotePayload](msg); err == nil {
			_, err = authority.ApplyUpdateDebugNote(p.NewNote, p.CustomSharedData, origin)
		}
	}

	if err != nil {
		h.sendError(c, msg.MessageType, businessErrorString(err))
		return
	}

	snapshot, err := protocol.New(protocol.TypeTaskStateUpdate, authority.Snapshot())
	if err != nil {
		h.log.Error().Err(err).Str("group_id", groupID).Msg("Failed to encode state snapshot")
		return
	}
	h.BroadcastToGroup(groupID, snapshot, uuid.Nil)
}

// businessErrorString maps a mutation failure onto the error taxonomy carried
// in ErrorResponse. Role and size rejections keep their sentinel text; parse
// failures are prefixed with BadPayload.
func businessErrorString(err error) string {
	if errors.Is(err, task.ErrRoleMismatch) || errors.Is(err, task.ErrPayloadTooLarge) {
		return err.Error()
	}
	return fmt.Sprintf("BadPayload: %v", err)
}

// sendError enqueues an ErrorResponse to the client. originalType may be ""
// when the offending message type is unknown or unparseable.
func (h *Hub) sendError(c *Client, originalType, errText string) {
	p := protocol.ErrorResponsePayload{
		OriginalMessageType: originalType,
		Error:               errText,
	}
	if msg, err := protocol.New(protocol.TypeErrorResponse, p); err == nil {
		c.enqueue(msg)
	}
}
