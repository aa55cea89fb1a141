package collab

import (
	"testing"
	"time"

	"collaborative-whiteboard-server/internal/integration"
	"collaborative-whiteboard-server/internal/wire"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionSentinels(t *testing.T) {
	sess := NewSession()

	assert.Equal(t, StateConnected, sess.CurrentState())
	assert.Equal(t, "not-initialized", sess.UserID)
	assert.Equal(t, "not-initialized", sess.Email)
	assert.False(t, sess.IsCollaborator())
}

func TestSessionLifecycle(t *testing.T) {
	sess := NewSession()

	sess.SetState(StateAuthenticating)
	sess.SetIdentity(integration.UserInfo{ID: "u1", Email: "ada@example.com"})
	sess.SetRoomAccess(true, true, true)
	sess.SetState(StateJoined)

	assert.Equal(t, StateJoined, sess.CurrentState())
	assert.Equal(t, "u1", sess.User().ID)
	assert.True(t, sess.IsCollaborator())
}

func TestSessionDowngrade(t *testing.T) {
	sess := NewSession()
	sess.SetRoomAccess(true, true, true)

	sess.Downgrade()

	assert.False(t, sess.IsCollaborator())
	// viewer access survives the downgrade
	assert.True(t, sess.Viewer)
}

func TestMarkContributedFirstOnly(t *testing.T) {
	sess := NewSession()

	assert.True(t, sess.MarkContributed(time.Now()))
	assert.False(t, sess.MarkContributed(time.Now()))
}

func TestContributedWithin(t *testing.T) {
	sess := NewSession()
	now := time.Now()

	assert.False(t, sess.ContributedWithin(now.Add(-time.Minute), now))

	sess.MarkContributed(now.Add(-30 * time.Second))
	assert.True(t, sess.ContributedWithin(now.Add(-time.Minute), now))
	assert.False(t, sess.ContributedWithin(now.Add(-10*time.Second), now))
}

func TestCanAttemptSave(t *testing.T) {
	sess := NewSession()
	sess.SetRoomAccess(true, true, true)

	assert.True(t, sess.CanAttemptSave(wire.IdleStateIdle, wire.IdleStateAway))

	sess.SetIdleState(wire.IdleStateAway)
	assert.False(t, sess.CanAttemptSave(wire.IdleStateIdle, wire.IdleStateAway))

	sess.SetIdleState(wire.IdleStateActive)
	assert.True(t, sess.CanAttemptSave(wire.IdleStateIdle, wire.IdleStateAway))

	sess.Downgrade()
	assert.False(t, sess.CanAttemptSave(wire.IdleStateIdle, wire.IdleStateAway))
}

func TestRecordSaveResultRevokesAfterMaxFailures(t *testing.T) {
	sess := NewSession()
	sess.SetRoomAccess(true, true, true)

	sess.RecordSaveResult(false, 3)
	sess.RecordSaveResult(false, 3)
	assert.True(t, sess.CanSave)

	sess.RecordSaveResult(false, 3)
	assert.False(t, sess.CanSave)
	assert.False(t, sess.CanAttemptSave())
}

func TestRecordSaveResultSuccessResetsCounter(t *testing.T) {
	sess := NewSession()
	sess.SetRoomAccess(true, true, true)

	sess.RecordSaveResult(false, 3)
	sess.RecordSaveResult(false, 3)
	sess.RecordSaveResult(true, 3)

	assert.Equal(t, 0, sess.ConsecutiveFailedSaves)
	assert.True(t, sess.CanSave)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "joined", StateJoined.String())
	assert.Equal(t, "closed", StateClosed.String())
}
