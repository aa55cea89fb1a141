package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryBusLocalLifecycle(t *testing.T) {
	fleet := NewMemoryFleet()
	b := fleet.Join("instance-1")

	var created, deleted []string
	b.OnRoomCreated(func(roomID string) { created = append(created, roomID) })
	b.OnRoomDeleted(func(roomID string) { deleted = append(deleted, roomID) })

	ctx := context.Background()
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s1", true))
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s2", false))

	// created fires once, on the first local member
	assert.Equal(t, []string{"room-1"}, created)

	assert.NoError(t, b.LeaveRoom(ctx, "room-1", "s1"))
	assert.Empty(t, deleted)

	assert.NoError(t, b.LeaveRoom(ctx, "room-1", "s2"))
	assert.Equal(t, []string{"room-1"}, deleted)
}

func TestMemoryFleetMembershipSpansInstances(t *testing.T) {
	fleet := NewMemoryFleet()
	b1 := fleet.Join("instance-1")
	b2 := fleet.Join("instance-2")

	ctx := context.Background()
	assert.NoError(t, b1.JoinRoom(ctx, "room-1", "s1", true))
	assert.NoError(t, b2.JoinRoom(ctx, "room-1", "s2", true))
	assert.NoError(t, b2.JoinRoom(ctx, "room-1", "s3", false))

	members, err := b1.Members(ctx, "room-1")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, members)

	count, err := b1.CollaboratorCount(ctx, "room-1")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryBusRelaySkipsSender(t *testing.T) {
	fleet := NewMemoryFleet()
	b1 := fleet.Join("instance-1")
	b2 := fleet.Join("instance-2")

	var got1, got2 []RelayMessage
	b1.OnRelay(func(msg RelayMessage) { got1 = append(got1, msg) })
	b2.OnRelay(func(msg RelayMessage) { got2 = append(got2, msg) })

	err := b1.Relay(context.Background(), RelayMessage{
		RoomID: "room-1",
		Event:  "client-broadcast",
		Data:   []byte(`{"type":"client-broadcast"}`),
	})
	assert.NoError(t, err)

	assert.Empty(t, got1)
	assert.Len(t, got2, 1)
	assert.Equal(t, "instance-1", got2[0].InstanceID)
	assert.Equal(t, "room-1", got2[0].RoomID)
}

func TestMemoryBusGlobalDelete(t *testing.T) {
	fleet := NewMemoryFleet()
	b1 := fleet.Join("instance-1")
	b2 := fleet.Join("instance-2")

	var purged []string
	b2.OnRoomDeletedGlobally(func(instanceID, roomID string) {
		assert.Equal(t, "instance-1", instanceID)
		purged = append(purged, roomID)
	})

	assert.NoError(t, b1.EmitRoomDeletedGlobally(context.Background(), "room-1"))
	assert.Equal(t, []string{"room-1"}, purged)
}

func TestMemoryBusDuplicateJoinCountsSocketOnce(t *testing.T) {
	fleet := NewMemoryFleet()
	b := fleet.Join("instance-1")

	var created, deleted []string
	b.OnRoomCreated(func(roomID string) { created = append(created, roomID) })
	b.OnRoomDeleted(func(roomID string) { deleted = append(deleted, roomID) })

	ctx := context.Background()
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s1", true))
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s1", true))

	assert.Equal(t, []string{"room-1"}, created)

	// one leave balances the duplicated joins
	assert.NoError(t, b.LeaveRoom(ctx, "room-1", "s1"))
	assert.Equal(t, []string{"room-1"}, deleted)

	members, err := b.Members(ctx, "room-1")
	assert.NoError(t, err)
	assert.Empty(t, members)
}
