package collab

import (
	"sync"
	"time"

	"collaborative-whiteboard-server/internal/integration"
)

// State is the lifecycle position of a connection.
type State int

const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthorized
	StateJoined
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorized:
		return "authorized"
	case StateJoined:
		return "joined"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const notInitialized = "not-initialized"

// Session is the per-connection mutable record. It is created with
// sentinel values when the socket connects, filled in by the
// authorization handshake, mutated by broadcast and idle handlers, and
// destroyed on disconnect.
type Session struct {
	mu sync.Mutex

	state State

	UserID string
	Email  string

	RoomID string

	Viewer       bool
	Collaborator bool

	CanSave                bool
	ConsecutiveFailedSaves int

	IdleState string

	LastContributedAt time.Time // zero until the first reliable broadcast
	LastPresenceAt    time.Time // zero until the first volatile broadcast
}

// NewSession returns a session in its initial sentinel state.
func NewSession() *Session {
	return &Session{
		state:  StateConnected,
		UserID: notInitialized,
		Email:  notInitialized,
	}
}

// SetState moves the session's lifecycle state forward.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// CurrentState reads the session's lifecycle state.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetIdentity records the resolved user and marks the session authorized
// pending room join.
func (s *Session) SetIdentity(info integration.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserID = info.ID
	s.Email = info.Email
}

// SetRoomAccess records the outcome of the room authorization check.
func (s *Session) SetRoomAccess(viewer, collaborator, canSave bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Viewer = viewer
	s.Collaborator = collaborator
	s.CanSave = canSave
}

// IsCollaborator reports whether edit broadcasts from the session are
// currently accepted.
func (s *Session) IsCollaborator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Collaborator
}

// Downgrade revokes write mode, e.g. after collaborator inactivity.
// The fleet-wide collaborators entry is removed only on disconnect, so
// the freed capacity slot becomes visible to later joiners when the
// socket leaves.
func (s *Session) Downgrade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Collaborator = false
}

// MarkContributed stamps the reliable-broadcast clock. Returns true on
// the first contribution of this session, which triggers the one-time
// content-modified event.
func (s *Session) MarkContributed(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.LastContributedAt.IsZero()
	s.LastContributedAt = now
	return first
}

// MarkPresence stamps the volatile-broadcast clock.
func (s *Session) MarkPresence(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastPresenceAt = now
}

// ContributedWithin reports whether the session contributed inside the
// trailing window ending at windowEnd.
func (s *Session) ContributedWithin(windowStart, windowEnd time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LastContributedAt.IsZero() {
		return false
	}
	return !s.LastContributedAt.Before(windowStart) && !s.LastContributedAt.After(windowEnd)
}

// SetIdleState records the decoded idle state relayed by the client.
func (s *Session) SetIdleState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IdleState = state
}

// CanAttemptSave reports save-request eligibility: write capability
// still intact and the user not idle.
func (s *Session) CanAttemptSave(idleStates ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Collaborator || !s.CanSave {
		return false
	}
	for _, idle := range idleStates {
		if s.IdleState == idle {
			return false
		}
	}
	return true
}

// RecordSaveResult updates the failure bookkeeping after a save-request
// round trip. Once the consecutive failure count passes maxFailures the
// session's save capability is revoked; other eligible sockets keep the
// protocol alive.
func (s *Session) RecordSaveResult(success bool, maxFailures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.ConsecutiveFailedSaves = 0
		return
	}
	s.ConsecutiveFailedSaves++
	s.CanSave = s.ConsecutiveFailedSaves < maxFailures
}

// User returns the resolved identity.
func (s *Session) User() integration.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return integration.UserInfo{ID: s.UserID, Email: s.Email}
}
