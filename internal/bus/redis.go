package bus

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	relayChannel         = "collab:relay"
	globalDeleteChannel  = "collab:room-deleted-globally"
	roomMembersKeyPrefix = "collab:room:"
	roomMembersKeySuffix = ":sockets"

	// Membership keys expire unless a live instance with sockets in the
	// room keeps refreshing them, so a crashed instance's entries age
	// out instead of blocking room deletion indefinitely.
	membershipTTL = time.Minute
)

type globalDeleteMessage struct {
	InstanceID string `json:"instanceId"`
	RoomID     string `json:"roomId"`
}

// RedisBus implements RoomEventBus on Redis pub/sub channels plus a
// per-room membership set shared by the whole fleet.
type RedisBus struct {
	client     *redis.Client
	instanceID string

	mu         sync.Mutex
	localRooms map[string]map[string]struct{} // room -> local socket ids

	onRoomCreated   []RoomHandler
	onRoomDeleted   []RoomHandler
	onGlobalDeleted []GlobalDeleteHandler
	onRelay         []RelayHandler

	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisBus(client *redis.Client, instanceID string) *RedisBus {
	return &RedisBus{
		client:     client,
		instanceID: instanceID,
		localRooms: make(map[string]map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// Start subscribes to the fleet channels. Handlers must be registered
// before Start is called.
func (b *RedisBus) Start(ctx context.Context) error {
	b.pubsub = b.client.Subscribe(ctx, relayChannel, globalDeleteChannel)
	// make sure the subscription is live before returning
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return err
	}

	go b.consume()
	go b.heartbeat()
	return nil
}

func (b *RedisBus) heartbeat() {
	ticker := time.NewTicker(membershipTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			b.refreshMembership(ctx)
			cancel()
		}
	}
}

// refreshMembership extends the TTL of the membership keys of every
// room with local sockets.
func (b *RedisBus) refreshMembership(ctx context.Context) {
	b.mu.Lock()
	rooms := make([]string, 0, len(b.localRooms))
	for roomID := range b.localRooms {
		rooms = append(rooms, roomID)
	}
	b.mu.Unlock()

	for _, roomID := range rooms {
		if err := b.client.Expire(ctx, membersKey(roomID), membershipTTL).Err(); err != nil {
			log.Printf("Refreshing membership TTL for room '%s' failed: %v", roomID, err)
		}
		b.client.Expire(ctx, collaboratorsKey(roomID), membershipTTL)
	}
}

func (b *RedisBus) consume() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(msg)
		}
	}
}

func (b *RedisBus) dispatch(msg *redis.Message) {
	switch msg.Channel {
	case relayChannel:
		var relayed RelayMessage
		if err := json.Unmarshal([]byte(msg.Payload), &relayed); err != nil {
			log.Printf("Dropping malformed relay message: %v", err)
			return
		}
		if relayed.InstanceID == b.instanceID {
			return
		}
		b.mu.Lock()
		handlers := append([]RelayHandler(nil), b.onRelay...)
		b.mu.Unlock()
		for _, h := range handlers {
			h(relayed)
		}
	case globalDeleteChannel:
		var deleted globalDeleteMessage
		if err := json.Unmarshal([]byte(msg.Payload), &deleted); err != nil {
			log.Printf("Dropping malformed global delete message: %v", err)
			return
		}
		if deleted.InstanceID == b.instanceID {
			return
		}
		b.mu.Lock()
		handlers := append([]GlobalDeleteHandler(nil), b.onGlobalDeleted...)
		b.mu.Unlock()
		for _, h := range handlers {
			h(deleted.InstanceID, deleted.RoomID)
		}
	}
}

func membersKey(roomID string) string {
	return roomMembersKeyPrefix + roomID + roomMembersKeySuffix
}

func collaboratorsKey(roomID string) string {
	return roomMembersKeyPrefix + roomID + ":collaborators"
}

func (b *RedisBus) InstanceID() string { return b.instanceID }

func (b *RedisBus) JoinRoom(ctx context.Context, roomID, socketID string, collaborator bool) error {
	if err := b.client.SAdd(ctx, membersKey(roomID), socketID).Err(); err != nil {
		return err
	}
	b.client.Expire(ctx, membersKey(roomID), membershipTTL)
	if collaborator {
		if err := b.client.SAdd(ctx, collaboratorsKey(roomID), socketID).Err(); err != nil {
			return err
		}
		b.client.Expire(ctx, collaboratorsKey(roomID), membershipTTL)
	}

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

func (b *RedisBus) LeaveRoom(ctx context.Context, roomID, socketID string) error {
	if err := b.client.SRem(ctx, membersKey(roomID), socketID).Err(); err != nil {
		return err
	}
	if err := b.client.SRem(ctx, collaboratorsKey(roomID), socketID).Err(); err != nil {
		return err
	}

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

func (b *RedisBus) Members(ctx context.Context, roomID string) ([]string, error) {
	return b.client.SMembers(ctx, membersKey(roomID)).Result()
}

func (b *RedisBus) CollaboratorCount(ctx context.Context, roomID string) (int, error) {
	count, err := b.client.SCard(ctx, collaboratorsKey(roomID)).Result()
	return int(count), err
}

func (b *RedisBus) Relay(ctx context.Context, msg RelayMessage) error {
	msg.InstanceID = b.instanceID
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, relayChannel, payload).Err()
}

func (b *RedisBus) EmitRoomDeletedGlobally(ctx context.Context, roomID string) error {
	payload, err := json.Marshal(globalDeleteMessage{
		InstanceID: b.instanceID,
		RoomID:     roomID,
	})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, globalDeleteChannel, payload).Err()
}

func (b *RedisBus) OnRoomCreated(h RoomHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRoomCreated = append(b.onRoomCreated, h)
}

func (b *RedisBus) OnRoomDeleted(h RoomHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRoomDeleted = append(b.onRoomDeleted, h)
}

func (b *RedisBus) OnRoomDeletedGlobally(h GlobalDeleteHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onGlobalDeleted = append(b.onGlobalDeleted, h)
}

func (b *RedisBus) OnRelay(h RelayHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRelay = append(b.onRelay, h)
}

func (b *RedisBus) Close() error {
	close(b.done)
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
