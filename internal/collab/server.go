// Package collab implements the realtime collaboration server: the
// per-connection session lifecycle, the cross-instance room
// coordinator, edit reconciliation against the in-memory snapshots, the
// throttled persistence scheduler and the activity trackers.
package collab

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"collaborative-whiteboard-server/internal/bus"
	"collaborative-whiteboard-server/internal/integration"
	"collaborative-whiteboard-server/internal/scene"
	"collaborative-whiteboard-server/internal/wire"

	"github.com/google/uuid"
)

// AuthorizationClient resolves identities and room capabilities.
type AuthorizationClient interface {
	Who(ctx context.Context, creds integration.Credentials) (integration.UserInfo, error)
	Info(ctx context.Context, userID, roomID string) (integration.RoomPermissions, error)
}

// PersistenceClient loads and stores durable room content.
type PersistenceClient interface {
	Fetch(ctx context.Context, roomID string) (scene.Content, error)
	Save(ctx context.Context, roomID string, content scene.Content) error
}

// AnalyticsClient receives fire-and-forget usage events.
type AnalyticsClient interface {
	ContentModified(userID, roomID string)
	Contribution(roomID string, users []integration.UserInfo)
}

// ResolveStep maps transport credentials to a user identity. Steps are
// tried in order; the first success wins and a failure of every step
// closes the connection.
type ResolveStep func(ctx context.Context, creds integration.Credentials) (integration.UserInfo, error)

// Options are the collaboration tunables.
type Options struct {
	ContributionWindow      time.Duration
	SaveInterval            time.Duration
	SaveTimeout             time.Duration
	SaveFailedAttempts      int
	CollaboratorInactivity  time.Duration
	DebouncedSaveWait       time.Duration
	DebouncedSaveMaxWait    time.Duration
	InactivityResetDebounce time.Duration

	// KeepDeletedOnSave keeps soft-deleted elements in persisted content.
	KeepDeletedOnSave bool

	// EnableSaveRequests turns on the polled save-request/ack protocol
	// in addition to the server-side debounced save.
	EnableSaveRequests bool
}

// DefaultOptions mirror the production defaults of the platform.
func DefaultOptions() Options {
	return Options{
		ContributionWindow:      600 * time.Second,
		SaveInterval:            15 * time.Second,
		SaveTimeout:             10 * time.Second,
		SaveFailedAttempts:      3,
		CollaboratorInactivity:  30 * time.Minute,
		DebouncedSaveWait:       3 * time.Second,
		DebouncedSaveMaxWait:    6 * time.Second,
		InactivityResetDebounce: time.Second,
		KeepDeletedOnSave:       true,
	}
}

// Server drives all collaboration state of one instance.
type Server struct {
	opts Options

	eventBus    bus.RoomEventBus
	authz       AuthorizationClient
	persistence PersistenceClient
	analytics   AnalyticsClient

	snapshots *scene.Store
	registry  *registry

	resolveSteps []ResolveStep

	mu                   sync.Mutex
	contributionTrackers map[string]*tracker
	autoSaveTrackers     map[string]*tracker
	inactivityTrackers   map[string]*inactivityTracker
	saves                map[string]*debouncedSave
	pendingSaveAcks      map[string]chan wire.SaveResponsePayload
}

func NewServer(
	opts Options,
	eventBus bus.RoomEventBus,
	authz AuthorizationClient,
	persistence PersistenceClient,
	analytics AnalyticsClient,
) *Server {
	s := &Server{
		opts:                 opts,
		eventBus:             eventBus,
		authz:                authz,
		persistence:          persistence,
		analytics:            analytics,
		snapshots:            scene.NewStore(),
		registry:             newRegistry(),
		contributionTrackers: make(map[string]*tracker),
		autoSaveTrackers:     make(map[string]*tracker),
		inactivityTrackers:   make(map[string]*inactivityTracker),
		saves:                make(map[string]*debouncedSave),
		pendingSaveAcks:      make(map[string]chan wire.SaveResponsePayload),
	}

	eventBus.OnRoomCreated(s.onRoomCreated)
	eventBus.OnRoomDeleted(s.onRoomDeleted)
	eventBus.OnRoomDeletedGlobally(s.onRoomDeletedGlobally)
	eventBus.OnRelay(s.onRelay)

	return s
}

// AddResolveStep appends a user-resolution step to the handshake
// pipeline.
func (s *Server) AddResolveStep(step ResolveStep) {
	s.resolveSteps = append(s.resolveSteps, step)
}

// not that reliable, but best we can do
func isRoomID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// membersSafe lists the fleet-wide members of a room, degrading to an
// empty list when the bus call fails so lifecycle transitions stay
// available.
func (s *Server) membersSafe(roomID string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	members, err := s.eventBus.Members(ctx, roomID)
	if err != nil {
		log.Printf("fetch members error handled: %v", err)
		return []string{}
	}
	return members
}

// collaboratorCountSafe counts collaborators fleet-wide, degrading to
// zero on failure so joins are not blocked by a transport hiccup.
func (s *Server) collaboratorCountSafe(roomID string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := s.eventBus.CollaboratorCount(ctx, roomID)
	if err != nil {
		log.Printf("fetch collaborator count error handled: %v", err)
		return 0
	}
	return count
}

// onRoomCreated lazily starts the room's background trackers. Fires on
// the instance whose join created the room locally; when members
// already exist on another instance that instance owns the trackers.
func (s *Server) onRoomCreated(roomID string) {
	if !isRoomID(roomID) {
		return
	}

	for _, memberID := range s.membersSafe(roomID) {
		if !s.registry.contains(roomID, memberID) {
			// this room already exists on another instance
			return
		}
	}
	log.Printf("Room '%s' created on instance '%s'", roomID, s.eventBus.InstanceID())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contributionTrackers[roomID]; !ok {
		log.Printf("Starting contribution tracker for room '%s'", roomID)
		t := newTracker()
		t.runEvery("Contribution", roomID, s.opts.ContributionWindow, func() {
			s.gatherContributions(roomID)
		})
		s.contributionTrackers[roomID] = t
	}

	if s.opts.EnableSaveRequests {
		if _, ok := s.autoSaveTrackers[roomID]; !ok {
			log.Printf("Starting auto save tracker for room '%s'", roomID)
			t := newTracker()
			t.runEvery("Auto save", roomID, s.opts.SaveInterval, func() {
				s.sendSaveRequest(roomID)
			})
			s.autoSaveTrackers[roomID] = t
		}
	}

	if _, ok := s.saves[roomID]; !ok {
		s.saves[roomID] = newDebouncedSave(
			s.opts.DebouncedSaveWait,
			s.opts.DebouncedSaveMaxWait,
			func() { s.saveRoom(roomID) },
		)
	}
}

// onRoomDeleted handles the local deletion of a room. Deletion is an
// instance-level view: when members remain elsewhere in the fleet the
// room stays alive there and nothing happens here.
func (s *Server) onRoomDeleted(roomID string) {
	if !isRoomID(roomID) {
		return
	}

	if remaining := len(s.membersSafe(roomID)); remaining > 0 {
		log.Printf(
			"Room '%s' deleted locally ('%s'), but %d sockets are still connected elsewhere",
			roomID, s.eventBus.InstanceID(), remaining,
		)
		return
	}

	// this was the final instance: tell everyone the room is gone
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.eventBus.EmitRoomDeletedGlobally(ctx, roomID); err != nil {
		log.Printf("Failed to emit global room deletion for '%s': %v", roomID, err)
	}

	log.Printf("Room '%s' deleted locally and everywhere else - this was the final instance", roomID)
	s.purgeRoom(roomID, true)
}

// onRoomDeletedGlobally purges rooms deleted by another instance.
func (s *Server) onRoomDeletedGlobally(instanceID, roomID string) {
	log.Printf("Room '%s' deleted globally by instance '%s'", roomID, instanceID)
	s.purgeRoom(roomID, false)
}

// purgeRoom tears the room's local state down. With flush set, a
// pending debounced save runs synchronously before the snapshot is
// dropped so churn does not lose the last edits.
func (s *Server) purgeRoom(roomID string, flush bool) {
	s.mu.Lock()
	if t, ok := s.contributionTrackers[roomID]; ok {
		t.Stop()
		delete(s.contributionTrackers, roomID)
	}
	if t, ok := s.autoSaveTrackers[roomID]; ok {
		t.Stop()
		delete(s.autoSaveTrackers, roomID)
	}
	save := s.saves[roomID]
	delete(s.saves, roomID)
	s.mu.Unlock()

	if save != nil {
		if flush {
			save.Flush()
		} else {
			save.Cancel()
		}
	}

	s.snapshots.Delete(roomID)
}

// onRelay delivers broadcasts relayed from other instances to the local
// members of the room.
func (s *Server) onRelay(msg bus.RelayMessage) {
	for _, p := range s.registry.peers(msg.RoomID) {
		if p.ID() == msg.SenderID {
			continue
		}
		if msg.Volatile {
			p.SendVolatile(msg.Data)
		} else {
			p.Send(msg.Data)
		}
	}
}

// broadcastToRoom fans a frame out to every room member except the
// sender, locally and across the fleet.
func (s *Server) broadcastToRoom(roomID, senderID, event string, frame []byte, volatile bool) {
	for _, p := range s.registry.peers(roomID) {
		if p.ID() == senderID {
			continue
		}
		if volatile {
			p.SendVolatile(frame)
		} else {
			p.Send(frame)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.eventBus.Relay(ctx, bus.RelayMessage{
		RoomID:   roomID,
		Event:    event,
		Data:     frame,
		SenderID: senderID,
		Volatile: volatile,
	})
	if err != nil {
		log.Printf("Relay of '%s' for room '%s' failed: %v", event, roomID, err)
	}
}

// queueSave arms the room's debounced save.
func (s *Server) queueSave(roomID string) {
	s.mu.Lock()
	save := s.saves[roomID]
	s.mu.Unlock()
	if save == nil {
		// room is owned by another instance
		return
	}
	save.Trigger()
}

// saveRoom persists the room's current snapshot. Orphaned file entries
// are pruned before the content is handed over. A failed save is
// reported and retried on the next scheduled trigger, never in a loop.
func (s *Server) saveRoom(roomID string) {
	snapshot, ok := s.snapshots.Get(roomID)
	if !ok {
		log.Printf("No snapshot found for room '%s' in the local storage!", roomID)
		return
	}

	content := scene.PrepareForSave(snapshot, s.opts.KeepDeletedOnSave)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SaveTimeout)
	defer cancel()

	if err := s.persistence.Save(ctx, roomID, content); err != nil {
		log.Printf("Failed to save room '%s': %v", roomID, err)
		s.notifyRoomSaved(roomID, false)
		return
	}

	log.Printf("Room '%s' saved successfully", roomID)
	s.notifyRoomSaved(roomID, true)
}

func (s *Server) notifyRoomSaved(roomID string, saved bool) {
	event := wire.EventRoomSaved
	if !saved {
		event = wire.EventRoomNotSaved
	}
	frame, err := wire.Encode(event, nil)
	if err != nil {
		log.Printf("Failed to encode %s event: %v", event, err)
		return
	}
	for _, p := range s.registry.peers(roomID) {
		p.Send(frame)
	}
}

// sendSaveRequest picks one random eligible collaborator connection and
// asks it to persist the scene, waiting a bounded time for the ack.
func (s *Server) sendSaveRequest(roomID string) {
	var eligible []Peer
	for _, p := range s.registry.peers(roomID) {
		if p.Session().CanAttemptSave(wire.IdleStateIdle, wire.IdleStateAway) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		log.Printf("No eligible sockets found to save '%s'", roomID)
		return
	}

	p := eligible[rand.Intn(len(eligible))]
	sess := p.Session()

	requestID := uuid.NewString()
	ack := make(chan wire.SaveResponsePayload, 1)

	s.mu.Lock()
	s.pendingSaveAcks[requestID] = ack
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pendingSaveAcks, requestID)
		s.mu.Unlock()
	}()

	frame, err := wire.Encode(wire.EventSaveRequest, wire.SaveRequestPayload{RequestID: requestID})
	if err != nil {
		log.Printf("Failed to encode save request: %v", err)
		return
	}
	p.Send(frame)

	select {
	case response := <-ack:
		if response.Success {
			sess.RecordSaveResult(true, s.opts.SaveFailedAttempts)
			log.Printf("Room '%s' saved successfully by '%s'", roomID, sess.Email)
		} else {
			sess.RecordSaveResult(false, s.opts.SaveFailedAttempts)
			log.Printf("Saving '%s' failed for '%s': %v", roomID, sess.Email, response.Errors)
		}
	case <-time.After(s.opts.SaveTimeout):
		sess.RecordSaveResult(false, s.opts.SaveFailedAttempts)
		log.Printf(
			"User '%s' did not respond to save request after %s",
			sess.Email, s.opts.SaveTimeout,
		)
	}
}

// contributorsWithin collects the room members who contributed inside
// the window.
func (s *Server) contributorsWithin(roomID string, windowStart, windowEnd time.Time) []integration.UserInfo {
	var users []integration.UserInfo
	for _, p := range s.registry.peers(roomID) {
		if p.Session().ContributedWithin(windowStart, windowEnd) {
			users = append(users, p.Session().User())
		}
	}
	return users
}

// fetchContentOrEmpty loads a room's persisted content, falling back to
// an empty initial document when the backend has nothing or fails.
func (s *Server) fetchContentOrEmpty(ctx context.Context, roomID string) (scene.Content, error) {
	content, err := s.persistence.Fetch(ctx, roomID)
	if err != nil {
		if !errors.Is(err, integration.ErrNotFound) {
			log.Printf("Fetching content for room '%s' failed, serving empty content: %v", roomID, err)
		}
		return scene.InitialContent(), nil
	}
	return content, nil
}

// RoomInfo describes one live room on this instance.
type RoomInfo struct {
	RoomID          string `json:"roomId"`
	LocalMembers    int    `json:"localMembers"`
	SnapshotVersion int    `json:"snapshotVersion"`
}

// Rooms lists the rooms with local members, for the internal API.
func (s *Server) Rooms() []RoomInfo {
	ids := s.registry.roomIDs()
	rooms := make([]RoomInfo, 0, len(ids))
	for _, id := range ids {
		info := RoomInfo{RoomID: id, LocalMembers: s.registry.size(id)}
		if snapshot, ok := s.snapshots.Get(id); ok {
			info.SnapshotVersion = snapshot.Version
		}
		rooms = append(rooms, info)
	}
	return rooms
}

// RoomContent exposes the current in-memory content of a room, for the
// internal API.
func (s *Server) RoomContent(roomID string) (scene.Content, bool) {
	snapshot, ok := s.snapshots.Get(roomID)
	if !ok {
		return scene.Content{}, false
	}
	return snapshot.Content, true
}

// Shutdown stops every tracker and flushes all pending saves.
func (s *Server) Shutdown() {
	s.mu.Lock()
	for roomID, t := range s.contributionTrackers {
		t.Stop()
		delete(s.contributionTrackers, roomID)
	}
	for roomID, t := range s.autoSaveTrackers {
		t.Stop()
		delete(s.autoSaveTrackers, roomID)
	}
	for peerID, t := range s.inactivityTrackers {
		t.timer.Stop()
		delete(s.inactivityTrackers, peerID)
	}
	saves := make([]*debouncedSave, 0, len(s.saves))
	for roomID, save := range s.saves {
		saves = append(saves, save)
		delete(s.saves, roomID)
	}
	s.mu.Unlock()

	for _, save := range saves {
		save.Flush()
	}
}
