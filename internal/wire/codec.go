// Package wire implements the message codec shared with whiteboard
// clients: binary frames wrapping UTF-8 JSON envelopes of the form
// {type, payload}.
package wire

import (
	"encoding/json"
	"fmt"

	"collaborative-whiteboard-server/internal/scene"
)

// Events received from clients.
const (
	EventJoinRoom                = "join-room"
	EventServerBroadcast         = "server-broadcast"
	EventServerVolatileBroadcast = "server-volatile-broadcast"
	EventIdleState               = "idle-state"
	EventSaveResponse            = "save-response"
)

// Events emitted to clients.
const (
	EventInitRoom         = "init-room"
	EventSceneInit        = "scene-init"
	EventClientBroadcast  = "client-broadcast"
	EventCollaboratorMode = "collaborator-mode"
	EventRoomUserChange   = "room-user-change"
	EventFirstInRoom      = "first-in-room"
	EventNewUser          = "new-user"
	EventRoomSaved        = "room-saved"
	EventRoomNotSaved     = "room-not-saved"
	EventSaveRequest      = "save-request"
	EventConnectionClosed = "connection-closed"
	EventError            = "error"
)

// Collaborator mode change reasons.
const (
	ReasonRoomCapacityReached = "room-capacity-reached"
	ReasonMultiUserNotAllowed = "multi-user-not-allowed"
	ReasonInactivity          = "inactivity"
)

// Error event codes.
const (
	CodeGenericError     = 0
	CodeUserInfoNoVerify = 1
	CodeRoomNoReadAccess = 2
)

// User idle states carried by idle-state events.
const (
	IdleStateActive = "active"
	IdleStateIdle   = "idle"
	IdleStateAway   = "away"
)

// Frame is the outer envelope of every message. Data carries an opaque
// client buffer that is relayed verbatim (broadcasts, idle state);
// Payload carries structured server data.
type Frame struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Data    []byte          `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeFrame parses an incoming binary frame.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return frame, nil
}

// Encode builds an outgoing frame with a structured payload.
func Encode(eventType string, payload any) ([]byte, error) {
	frame := Frame{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		frame.Payload = raw
	}
	return json.Marshal(frame)
}

// EncodeData builds an outgoing frame relaying an opaque client buffer.
func EncodeData(eventType string, data []byte) ([]byte, error) {
	return json.Marshal(Frame{Type: eventType, Data: data})
}

// EventData is the inner envelope of relayed client buffers.
type EventData struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeIncoming parses an opaque client buffer into its inner envelope.
func DecodeIncoming(data []byte) (EventData, error) {
	var event EventData
	if err := json.Unmarshal(data, &event); err != nil {
		return EventData{}, fmt.Errorf("decode incoming buffer: %w", err)
	}
	return event, nil
}

// ScenePayload is the content of a reliable edit broadcast.
type ScenePayload struct {
	Elements []scene.Element `json:"elements"`
	Files    scene.FileStore `json:"files"`
}

// DecodeScenePayload parses the edit payload out of a broadcast buffer.
func DecodeScenePayload(data []byte) (ScenePayload, error) {
	event, err := DecodeIncoming(data)
	if err != nil {
		return ScenePayload{}, err
	}
	var payload ScenePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return ScenePayload{}, fmt.Errorf("decode scene payload: %w", err)
	}
	return payload, nil
}

// IdleStatePayload is the content of an idle-state event.
type IdleStatePayload struct {
	SocketID  string `json:"socketId"`
	UserState string `json:"userState"`
	Username  string `json:"username"`
}

// DecodeIdleState parses the idle-state payload out of its buffer.
func DecodeIdleState(data []byte) (IdleStatePayload, error) {
	event, err := DecodeIncoming(data)
	if err != nil {
		return IdleStatePayload{}, err
	}
	var payload IdleStatePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return IdleStatePayload{}, fmt.Errorf("decode idle state: %w", err)
	}
	return payload, nil
}

// SceneInitPayload is the full snapshot delivered on join.
type SceneInitPayload struct {
	Elements []scene.Element `json:"elements"`
	Files    scene.FileStore `json:"files"`
}

// CollaboratorModePayload notifies a peer of a mode change.
type CollaboratorModePayload struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason,omitempty"`
}

// SaveRequestPayload asks a collaborator client to persist the scene.
type SaveRequestPayload struct {
	RequestID string `json:"requestId"`
}

// SaveResponsePayload acknowledges a save request.
type SaveResponsePayload struct {
	RequestID string   `json:"requestId"`
	Success   bool     `json:"success"`
	Errors    []string `json:"errors,omitempty"`
}

// ConnectionClosedPayload carries the optional close reason.
type ConnectionClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is the generic error event.
type ErrorPayload struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}
