package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func setupRedisBus(t *testing.T, s *miniredis.Miniredis, instanceID string) *RedisBus {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisBus(client, instanceID)
}

func TestRedisBusMembership(t *testing.T) {
	s := miniredis.RunT(t)
	b := setupRedisBus(t, s, "instance-1")

	ctx := context.Background()
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s1", true))
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s2", false))

	members, err := b.Members(ctx, "room-1")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, members)

	count, err := b.CollaboratorCount(ctx, "room-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.NoError(t, b.LeaveRoom(ctx, "room-1", "s1"))

	members, err = b.Members(ctx, "room-1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"s2"}, members)

	count, err = b.CollaboratorCount(ctx, "room-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRedisBusMembershipSharedAcrossInstances(t *testing.T) {
	s := miniredis.RunT(t)
	b1 := setupRedisBus(t, s, "instance-1")
	b2 := setupRedisBus(t, s, "instance-2")

	ctx := context.Background()
	assert.NoError(t, b1.JoinRoom(ctx, "room-1", "s1", true))
	assert.NoError(t, b2.JoinRoom(ctx, "room-1", "s2", true))

	members, err := b1.Members(ctx, "room-1")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, members)
}

func TestRedisBusRelayReachesOtherInstanceOnly(t *testing.T) {
	s := miniredis.RunT(t)
	b1 := setupRedisBus(t, s, "instance-1")
	b2 := setupRedisBus(t, s, "instance-2")

	got1 := make(chan RelayMessage, 1)
	got2 := make(chan RelayMessage, 1)
	b1.OnRelay(func(msg RelayMessage) { got1 <- msg })
	b2.OnRelay(func(msg RelayMessage) { got2 <- msg })

	ctx := context.Background()
	assert.NoError(t, b1.Start(ctx))
	assert.NoError(t, b2.Start(ctx))
	t.Cleanup(func() {
		b1.Close()
		b2.Close()
	})

	err := b1.Relay(ctx, RelayMessage{
		RoomID:   "room-1",
		Event:    "client-broadcast",
		Data:     []byte(`{"type":"client-broadcast"}`),
		SenderID: "s1",
	})
	assert.NoError(t, err)

	select {
	case msg := <-got2:
		assert.Equal(t, "instance-1", msg.InstanceID)
		assert.Equal(t, "room-1", msg.RoomID)
		assert.Equal(t, "s1", msg.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never reached instance-2")
	}

	select {
	case <-got1:
		t.Fatal("relay echoed back to the sending instance")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusGlobalDelete(t *testing.T) {
	s := miniredis.RunT(t)
	b1 := setupRedisBus(t, s, "instance-1")
	b2 := setupRedisBus(t, s, "instance-2")

	type deletion struct{ instanceID, roomID string }
	got := make(chan deletion, 1)
	b2.OnRoomDeletedGlobally(func(instanceID, roomID string) {
		got <- deletion{instanceID, roomID}
	})

	ctx := context.Background()
	assert.NoError(t, b1.Start(ctx))
	assert.NoError(t, b2.Start(ctx))
	t.Cleanup(func() {
		b1.Close()
		b2.Close()
	})

	assert.NoError(t, b1.EmitRoomDeletedGlobally(ctx, "room-1"))

	select {
	case d := <-got:
		assert.Equal(t, "instance-1", d.instanceID)
		assert.Equal(t, "room-1", d.roomID)
	case <-time.After(2 * time.Second):
		t.Fatal("global delete never reached instance-2")
	}
}

func TestRedisBusDuplicateJoinCountsSocketOnce(t *testing.T) {
	s := miniredis.RunT(t)
	b := setupRedisBus(t, s, "instance-1")

	var deleted []string
	b.OnRoomDeleted(func(roomID string) { deleted = append(deleted, roomID) })

	ctx := context.Background()
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s1", true))
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s1", true))

	assert.NoError(t, b.LeaveRoom(ctx, "room-1", "s1"))
	assert.Equal(t, []string{"room-1"}, deleted)
}

func TestRedisBusMembershipExpiresWithoutRefresh(t *testing.T) {
	s := miniredis.RunT(t)
	b := setupRedisBus(t, s, "instance-1")

	ctx := context.Background()
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s1", true))
	assert.Greater(t, s.TTL(membersKey("room-1")), time.Duration(0))

	// a crashed instance stops refreshing; its entries age out
	s.FastForward(2 * membershipTTL)

	members, err := b.Members(ctx, "room-1")
	assert.NoError(t, err)
	assert.Empty(t, members)

	count, err := b.CollaboratorCount(ctx, "room-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRedisBusRefreshMembershipExtendsTTL(t *testing.T) {
	s := miniredis.RunT(t)
	b := setupRedisBus(t, s, "instance-1")

	ctx := context.Background()
	assert.NoError(t, b.JoinRoom(ctx, "room-1", "s1", true))

	s.FastForward(membershipTTL / 2)
	b.refreshMembership(ctx)
	s.FastForward(membershipTTL/2 + time.Second)

	members, err := b.Members(ctx, "room-1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"s1"}, members)
}
