package bus

import (
	"context"
	"sync"
)

// MemoryFleet is an in-process group of buses. It backs single-instance
// deployments running without Redis and lets tests simulate a fleet of
// instances inside one process.
type MemoryFleet struct {
	mu      sync.Mutex
	members map[string]map[string]memberInfo // roomID -> socketID
	buses   []*MemoryBus
}

type memberInfo struct {
	instanceID   string
	collaborator bool
}

func NewMemoryFleet() *MemoryFleet {
	return &MemoryFleet{members: make(map[string]map[string]memberInfo)}
}

// Join attaches a new instance to the fleet.
func (f *MemoryFleet) Join(instanceID string) *MemoryBus {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := &MemoryBus{
		fleet:      f,
		instanceID: instanceID,
		localRooms: make(map[string]map[string]struct{}),
	}
	f.buses = append(f.buses, b)
	return b
}

// MemoryBus implements RoomEventBus against a MemoryFleet.
type MemoryBus struct {
	fleet      *MemoryFleet
	instanceID string

	mu         sync.Mutex
	localRooms map[string]map[string]struct{} // room -> local socket ids

	onRoomCreated   []RoomHandler
	onRoomDeleted   []RoomHandler
	onGlobalDeleted []GlobalDeleteHandler
	onRelay         []RelayHandler
}

func (b *MemoryBus) InstanceID() string { return b.instanceID }

func (b *MemoryBus) JoinRoom(_ context.Context, roomID, socketID string, collaborator bool) error {
	b.fleet.mu.Lock()
	room, ok := b.fleet.members[roomID]
	if !ok {
		room = make(map[string]memberInfo)
		b.fleet.members[roomID] = room
	}
	room[socketID] = memberInfo{instanceID: b.instanceID, collaborator: collaborator}
	b.fleet.mu.Unlock()

	b.mu.Lock()
	local, ok := b.localRooms[roomID]
	if !ok {
		local = make(map[string]struct{})
		b.localRooms[roomID] = local
	}
	// duplicated joins of the same socket must not skew the accounting
	_, known := local[socketID]
	local[socketID] = struct{}{}
	created := !known && len(local) == 1
	handlers := append([]RoomHandler(nil), b.onRoomCreated...)
	b.mu.Unlock()

	if created {
		for _, h := range handlers {
			h(roomID)
		}
	}
	return nil
}

func (b *MemoryBus) LeaveRoom(_ context.Context, roomID, socketID string) error {
	b.fleet.mu.Lock()
	if room, ok := b.fleet.members[roomID]; ok {
		delete(room, socketID)
		if len(room) == 0 {
			delete(b.fleet.members, roomID)
		}
	}
	b.fleet.mu.Unlock()

	b.mu.Lock()
	deleted := false
	if local, ok := b.localRooms[roomID]; ok {
		delete(local, socketID)
		if len(local) == 0 {
			delete(b.localRooms, roomID)
			deleted = true
		}
	}
	handlers := append([]RoomHandler(nil), b.onRoomDeleted...)
	b.mu.Unlock()

	if deleted {
		for _, h := range handlers {
			h(roomID)
		}
	}
	return nil
}

func (b *MemoryBus) Members(_ context.Context, roomID string) ([]string, error) {
	b.fleet.mu.Lock()
	defer b.fleet.mu.Unlock()

	room := b.fleet.members[roomID]
	ids := make([]string, 0, len(room))
	for socketID := range room {
		ids = append(ids, socketID)
	}
	return ids, nil
}

func (b *MemoryBus) CollaboratorCount(_ context.Context, roomID string) (int, error) {
	b.fleet.mu.Lock()
	defer b.fleet.mu.Unlock()

	count := 0
	for _, member := range b.fleet.members[roomID] {
		if member.collaborator {
			count++
		}
	}
	return count, nil
}

func (b *MemoryBus) Relay(_ context.Context, msg RelayMessage) error {
	msg.InstanceID = b.instanceID

	b.fleet.mu.Lock()
	buses := append([]*MemoryBus(nil), b.fleet.buses...)
	b.fleet.mu.Unlock()

	for _, other := range buses {
		if other == b {
			continue
		}
		other.mu.Lock()
		handlers := append([]RelayHandler(nil), other.onRelay...)
		other.mu.Unlock()
		for _, h := range handlers {
			h(msg)
		}
	}
	return nil
}

func (b *MemoryBus) EmitRoomDeletedGlobally(_ context.Context, roomID string) error {
	b.fleet.mu.Lock()
	buses := append([]*MemoryBus(nil), b.fleet.buses...)
	b.fleet.mu.Unlock()

	for _, other := range buses {
		if other == b {
			continue
		}
		other.mu.Lock()
		handlers := append([]GlobalDeleteHandler(nil), other.onGlobalDeleted...)
		other.mu.Unlock()
		for _, h := range handlers {
			h(b.instanceID, roomID)
		}
	}
	return nil
}

func (b *MemoryBus) OnRoomCreated(h RoomHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRoomCreated = append(b.onRoomCreated, h)
}

func (b *MemoryBus) OnRoomDeleted(h RoomHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRoomDeleted = append(b.onRoomDeleted, h)
}

func (b *MemoryBus) OnRoomDeletedGlobally(h GlobalDeleteHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onGlobalDeleted = append(b.onGlobalDeleted, h)
}

func (b *MemoryBus) OnRelay(h RelayHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRelay = append(b.onRelay, h)
}

func (b *MemoryBus) Close() error { return nil }
