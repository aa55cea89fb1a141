// Package bus provides the cross-instance fan-out used for relaying
// broadcasts and coordinating room lifecycle across the server fleet.
package bus

import "context"

// RoomHandler receives local room lifecycle events.
type RoomHandler func(roomID string)

// GlobalDeleteHandler receives the fleet-wide room deletion signal with
// the id of the instance that originated it.
type GlobalDeleteHandler func(instanceID, roomID string)

// RelayMessage is a broadcast relayed from another instance.
type RelayMessage struct {
	InstanceID string `json:"instanceId"`
	RoomID     string `json:"roomId"`
	Event      string `json:"event"`
	Data       []byte `json:"data"`
	SenderID   string `json:"senderId"`
	Volatile   bool   `json:"volatile,omitempty"`
}

// RelayHandler receives broadcasts relayed from other instances.
type RelayHandler func(msg RelayMessage)

// RoomEventBus coordinates room membership, lifecycle events and
// broadcast relay across all server instances. Room-created and
// room-deleted are instance-local views: a room is "created" the first
// time this instance sees a member for it and "deleted" when the last
// local member leaves. Global truth is only established by Members and
// the room-deleted-globally signal.
type RoomEventBus interface {
	InstanceID() string

	// JoinRoom and LeaveRoom maintain fleet-wide room membership. The
	// collaborator flag feeds the capacity check of later joiners.
	JoinRoom(ctx context.Context, roomID, socketID string, collaborator bool) error
	LeaveRoom(ctx context.Context, roomID, socketID string) error

	// Members lists the socket ids in the room across the whole fleet.
	Members(ctx context.Context, roomID string) ([]string, error)

	// CollaboratorCount counts room members joined as collaborators
	// across the whole fleet.
	CollaboratorCount(ctx context.Context, roomID string) (int, error)

	// Relay fans a broadcast out to the other instances.
	Relay(ctx context.Context, msg RelayMessage) error

	// EmitRoomDeletedGlobally tells every other instance to purge the room.
	EmitRoomDeletedGlobally(ctx context.Context, roomID string) error

	OnRoomCreated(RoomHandler)
	OnRoomDeleted(RoomHandler)
	OnRoomDeletedGlobally(GlobalDeleteHandler)
	OnRelay(RelayHandler)

	Close() error
}
