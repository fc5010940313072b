package types

import (
	"bytes"
	"encoding/json"

	"github.com/DoyleJ11/pong-arena-backend/internal/fault"
)

var ErrMalformed = fault.Protocol("Malformed message")
var ErrUnknownType = fault.Protocol("Unknown message type")

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientMessage is the closed set of inbound messages. Dispatch code type
// switches over it; adding a message means adding a case there.
type ClientMessage interface{ isClientMessage() }

type JoinGame struct {
	GameID        string `json:"gameId"`
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	SessionID     string `json:"sessionId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
}

type Ready struct {
	// Ready defaults to true when omitted.
	Ready *bool `json:"ready,omitempty"`
}

type Input struct {
	Action string `json:"action"`
}

type Pause struct{}

type Resume struct{}

type LeaveGame struct{}

func (JoinGame) isClientMessage()  {}
func (Ready) isClientMessage()     {}
func (Input) isClientMessage()     {}
func (Pause) isClientMessage()     {}
func (Resume) isClientMessage()    {}
func (LeaveGame) isClientMessage() {}

func (r Ready) Value() bool { return r.Ready == nil || *r.Ready }

// Decode parses one inbound frame.
func Decode(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return nil, ErrMalformed
	}
	switch env.Type {
	case "join_game":
		return decodePayload[JoinGame](env.Payload)
	case "ready":
		return decodePayload[Ready](env.Payload)
	case "input":
		return decodePayload[Input](env.Payload)
	case "pause":
		return decodePayload[Pause](env.Payload)
	case "resume":
		return decodePayload[Resume](env.Payload)
	case "leave_game":
		return decodePayload[LeaveGame](env.Payload)
	default:
		return nil, ErrUnknownType
	}
}

func decodePayload[T ClientMessage](raw json.RawMessage) (ClientMessage, error) {
	var msg T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return msg, nil
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, ErrMalformed
	}
	return msg, nil
}
