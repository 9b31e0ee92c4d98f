// Package protocol defines the wire format shared by the hub and both operator
// clients. Every WebSocket text frame carries a Message envelope whose payload
// field is a JSON document serialised as a string; the envelope is decoded
// first and the payload second, keyed by the message type.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is the envelope for all WebSocket traffic. Payload is a string, not
// a nested object, so that the envelope can be decoded without knowing the
// payload schema.
type Message struct {
	MessageID   string `json:"message_id"`
	MessageType string `json:"message_type"`
	Payload     string `json:"payload"`
	Timestamp   int64  `json:"timestamp"`
}

// New builds an envelope of the given type around the serialised payload. A
// fresh UUIDv4 message id and the current UTC millisecond timestamp are
// stamped on.
func New(messageType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", messageType, err)
	}
	return Message{
		MessageID:   uuid.New().String(),
		MessageType: messageType,
		Payload:     string(raw),
		Timestamp:   time.Now().UTC().UnixMilli(),
	}, nil
}

// NewRaw builds an envelope around an already-serialised payload string. Used
// where the payload must be carried through byte-for-byte, e.g. Echo.
func NewRaw(messageType, payload string) Message {
	return Message{
		MessageID:   uuid.New().String(),
		MessageType: messageType,
		Payload:     payload,
		Timestamp:   time.Now().UTC().UnixMilli(),
	}
}

// Encode serialises the envelope for the wire.
func (m Message) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", m.MessageType, err)
	}
	return raw, nil
}

// Decode parses a wire frame into an envelope. The payload string is left
// untouched for the caller to decode by type.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return m, nil
}

// DecodePayload parses the envelope's payload string into T. Unknown fields in
// the payload are accepted so that newer clients can carry advisory extras.
func DecodePayload[T any](m Message) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(m.Payload), &v); err != nil {
		return v, fmt.Errorf("unmarshal %s payload: %w", m.MessageType, err)
	}
	return v, nil
}
