package collab

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"collaborative-whiteboard-server/internal/bus"
	"collaborative-whiteboard-server/internal/integration"
	"collaborative-whiteboard-server/internal/wire"
)

const resolveTimeout = 5 * time.Second
const authorizeTimeout = 10 * time.Second

// HandleConnect runs the user-resolution pipeline for a fresh
// connection. A connection that cannot be resolved to an identity is
// closed immediately with an error notification.
func (s *Server) HandleConnect(p Peer) {
	sess := p.Session()
	sess.SetState(StateAuthenticating)

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	info, err := s.resolveUser(ctx, p.Credentials())
	if err != nil {
		log.Printf("Error while trying to get user info: %v", err)
		s.sendError(p, wire.CodeUserInfoNoVerify, "Could not verify user info")
		p.Close("Could not verify user info")
		sess.SetState(StateClosed)
		return
	}

	sess.SetIdentity(info)
	log.Printf("User '%s' established connection", info.Email)

	if frame, err := wire.Encode(wire.EventInitRoom, nil); err == nil {
		p.Send(frame)
	}
}

func (s *Server) resolveUser(ctx context.Context, creds integration.Credentials) (integration.UserInfo, error) {
	var lastErr error
	for _, step := range s.resolveSteps {
		info, err := step(ctx, creds)
		if err != nil {
			lastErr = err
			continue
		}
		return info, nil
	}
	if lastErr == nil {
		lastErr = context.Canceled
	}
	return integration.UserInfo{}, lastErr
}

// HandleMessage dispatches one incoming binary frame. Malformed frames
// are logged and dropped; the connection stays open.
func (s *Server) HandleMessage(p Peer, data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		log.Printf("Dropping malformed frame from '%s': %v", p.ID(), err)
		return
	}

	switch frame.Type {
	case wire.EventJoinRoom:
		s.handleJoinRoom(p, frame.RoomID)
	case wire.EventServerBroadcast:
		s.handleServerBroadcast(p, frame.RoomID, frame.Data)
	case wire.EventServerVolatileBroadcast:
		s.handleServerVolatileBroadcast(p, frame.RoomID, frame.Data)
	case wire.EventIdleState:
		s.handleIdleState(p, frame.RoomID, frame.Data)
	case wire.EventSaveResponse:
		s.handleSaveResponse(frame.Payload)
	default:
		log.Printf("Dropping frame with unknown type '%s' from '%s'", frame.Type, p.ID())
	}
}

// handleJoinRoom authorizes the connection against the room and, when
// read access is granted, joins it and delivers the initial scene.
func (s *Server) handleJoinRoom(p Peer, roomID string) {
	sess := p.Session()

	ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
	defer cancel()

	perms, err := s.authz.Info(ctx, sess.UserID, roomID)
	if err != nil {
		// fall back to no access rather than crashing the handshake
		log.Printf("Authorization check failed for user '%s' and room '%s': %v", sess.UserID, roomID, err)
		perms = integration.RoomPermissions{}
	}

	if !perms.CanRead {
		log.Printf("Unable to authorize user '%s' with whiteboard '%s'", sess.UserID, roomID)
		s.sendError(p, wire.CodeRoomNoReadAccess, "No read access to the requested room")
		p.Close("Unauthorized read access")
		sess.SetState(StateClosed)
		return
	}

	// capacity is checked against the current membership snapshot, not
	// transactionally: simultaneous joins may briefly over-admit and
	// the state self-corrects on the next disconnect/reconnect cycle
	collaboratorsInRoom := s.collaboratorCountSafe(roomID)
	limitReached := perms.MaxCollaborators > 0 && collaboratorsInRoom >= perms.MaxCollaborators

	if limitReached {
		log.Printf(
			"Max collaborators limit (%d) reached for room '%s' - user '%s' is read-only",
			perms.MaxCollaborators, roomID, sess.Email,
		)
	}

	collaborator := perms.CanUpdate && !limitReached
	sess.SetRoomAccess(true, collaborator, perms.CanUpdate)
	sess.SetState(StateAuthorized)

	mode := "read"
	if collaborator {
		mode = "write"
	}
	reason := collaboratorModeReason(collaborator, limitReached, perms.MaxCollaborators)
	if frame, err := wire.Encode(wire.EventCollaboratorMode, wire.CollaboratorModePayload{
		Mode:   mode,
		Reason: reason,
	}); err == nil {
		p.Send(frame)
	}

	s.joinRoom(p, roomID)

	if collaborator {
		s.startInactivityTracker(p)
	}
	log.Printf("User '%s' read=%t, update=%t", sess.Email, sess.Viewer, collaborator)
}

func collaboratorModeReason(collaborator, limitReached bool, maxCollaborators int) string {
	if limitReached {
		return wire.ReasonRoomCapacityReached
	}
	// logically the minimum is 1, since a room is either multi-user or not
	if !collaborator && maxCollaborators == 1 {
		return wire.ReasonMultiUserNotAllowed
	}
	return ""
}

func (s *Server) joinRoom(p Peer, roomID string) {
	sess := p.Session()

	sess.mu.Lock()
	previous := sess.RoomID
	sess.RoomID = roomID
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// a connection is in one room at a time: switching rooms leaves
	// the previous one first
	if previous != "" && previous != roomID {
		s.registry.remove(previous, p.ID())
		if err := s.eventBus.LeaveRoom(ctx, previous, p.ID()); err != nil {
			log.Printf("Leaving fleet membership for room '%s' failed: %v", previous, err)
		}
		s.emitRoomUserChange(previous, s.membersSafe(previous))
	}

	// join-room frames may be duplicated; joining is idempotent
	rejoin := s.registry.contains(roomID, p.ID())
	s.registry.add(roomID, p)
	if !rejoin {
		if err := s.eventBus.JoinRoom(ctx, roomID, p.ID(), sess.IsCollaborator()); err != nil {
			log.Printf("Joining fleet membership for room '%s' failed: %v", roomID, err)
		}
	}
	sess.SetState(StateJoined)
	log.Printf("User '%s' has joined room '%s'", sess.Email, roomID)

	s.initSceneForPeer(ctx, p, roomID)

	members := s.membersSafe(roomID)
	if len(members) <= 1 {
		log.Printf("User '%s' is first in room '%s'", sess.Email, roomID)
		if frame, err := wire.Encode(wire.EventFirstInRoom, nil); err == nil {
			p.Send(frame)
		}
	} else {
		if frame, err := wire.Encode(wire.EventNewUser, p.ID()); err == nil {
			s.broadcastToRoom(roomID, p.ID(), wire.EventNewUser, frame, false)
		}
	}

	s.emitRoomUserChange(roomID, members)
}

// initSceneForPeer serves the authoritative snapshot to a joining
// connection, loading persisted content on the room's first access.
func (s *Server) initSceneForPeer(ctx context.Context, p Peer, roomID string) {
	snapshot, err := s.snapshots.GetOrFetch(ctx, roomID, s.fetchContentOrEmpty)
	if err != nil {
		log.Printf("Loading snapshot for room '%s' failed: %v", roomID, err)
		return
	}

	frame, err := wire.Encode(wire.EventSceneInit, wire.SceneInitPayload{
		Elements: snapshot.Content.Elements,
		Files:    snapshot.Content.Files,
	})
	if err != nil {
		log.Printf("Encoding scene init for room '%s' failed: %v", roomID, err)
		return
	}
	p.Send(frame)
	log.Printf("Scene init sent to '%s'", p.Session().Email)
}

// emitRoomUserChange pushes the member id list to every room member.
func (s *Server) emitRoomUserChange(roomID string, members []string) {
	frame, err := wire.Encode(wire.EventRoomUserChange, members)
	if err != nil {
		return
	}
	for _, p := range s.registry.peers(roomID) {
		p.Send(frame)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.eventBus.Relay(ctx, bus.RelayMessage{
		RoomID: roomID,
		Event:  wire.EventRoomUserChange,
		Data:   frame,
	})
}

// handleServerBroadcast relays a reliable edit broadcast and folds its
// payload into the room snapshot. Broadcasts from sessions without
// write mode are dropped.
func (s *Server) handleServerBroadcast(p Peer, roomID string, data []byte) {
	sess := p.Session()
	if !sess.IsCollaborator() {
		return
	}

	if first := sess.MarkContributed(time.Now()); first {
		s.analytics.ContentModified(sess.UserID, roomID)
	}

	frame, err := wire.EncodeData(wire.EventClientBroadcast, data)
	if err == nil {
		s.broadcastToRoom(roomID, p.ID(), wire.EventClientBroadcast, frame, false)
	}

	s.resetInactivityTracker(p)

	payload, err := wire.DecodeScenePayload(data)
	if err != nil {
		log.Printf("Dropping undecodable broadcast payload in room '%s': %v", roomID, err)
		return
	}

	if _, ok := s.snapshots.Reconcile(roomID, payload.Elements, payload.Files); !ok {
		log.Printf("No snapshot for room '%s', broadcast not reconciled", roomID)
		return
	}

	s.queueSave(roomID)
}

// handleServerVolatileBroadcast relays a best-effort broadcast, used
// for high-frequency latest-value-only signals.
func (s *Server) handleServerVolatileBroadcast(p Peer, roomID string, data []byte) {
	p.Session().MarkPresence(time.Now())

	frame, err := wire.EncodeData(wire.EventClientBroadcast, data)
	if err == nil {
		s.broadcastToRoom(roomID, p.ID(), wire.EventClientBroadcast, frame, true)
	}

	s.resetInactivityTracker(p)
}

// handleIdleState relays the idle-state event and records the sender's
// decoded idle state for save eligibility.
func (s *Server) handleIdleState(p Peer, roomID string, data []byte) {
	frame, err := wire.EncodeData(wire.EventIdleState, data)
	if err == nil {
		s.broadcastToRoom(roomID, p.ID(), wire.EventIdleState, frame, false)
	}

	payload, err := wire.DecodeIdleState(data)
	if err != nil {
		log.Printf("Dropping undecodable idle state in room '%s': %v", roomID, err)
		return
	}
	p.Session().SetIdleState(payload.UserState)
}

// handleSaveResponse completes a pending save-request round trip.
func (s *Server) handleSaveResponse(payload json.RawMessage) {
	var response wire.SaveResponsePayload
	if err := json.Unmarshal(payload, &response); err != nil {
		log.Printf("Dropping malformed save response: %v", err)
		return
	}

	s.mu.Lock()
	ack := s.pendingSaveAcks[response.RequestID]
	s.mu.Unlock()
	if ack == nil {
		// response arrived after the timeout already counted a failure
		return
	}
	select {
	case ack <- response:
	default:
	}
}

// expireCollaborator downgrades an inactive collaborator to read-only
// and notifies the peer with the inactivity reason. Subsequent edit
// broadcasts from the session are no longer relayed.
func (s *Server) expireCollaborator(p Peer) {
	sess := p.Session()
	log.Printf(
		"User '%s' was inactive %s, setting collaborator mode to 'read'",
		sess.Email, s.opts.CollaboratorInactivity,
	)

	sess.Downgrade()
	if frame, err := wire.Encode(wire.EventCollaboratorMode, wire.CollaboratorModePayload{
		Mode:   "read",
		Reason: wire.ReasonInactivity,
	}); err == nil {
		p.Send(frame)
	}

	s.mu.Lock()
	delete(s.inactivityTrackers, p.ID())
	s.mu.Unlock()
}

// HandleDisconnecting runs while the connection is still in its room:
// remaining members get the updated member list.
func (s *Server) HandleDisconnecting(p Peer) {
	sess := p.Session()
	sess.SetState(StateDisconnecting)
	log.Printf("User '%s' has disconnected", sess.Email)

	sess.mu.Lock()
	roomID := sess.RoomID
	sess.mu.Unlock()
	if roomID == "" {
		return
	}

	var remaining []string
	for _, memberID := range s.membersSafe(roomID) {
		if memberID != p.ID() {
			remaining = append(remaining, memberID)
		}
	}
	if len(remaining) > 0 {
		if frame, err := wire.Encode(wire.EventRoomUserChange, remaining); err == nil {
			s.broadcastToRoom(roomID, p.ID(), wire.EventRoomUserChange, frame, false)
		}
	}
}

// HandleDisconnect finishes the teardown: all room-scoped state of the
// session is released before the final close so late deliveries cannot
// reach a torn-down session.
func (s *Server) HandleDisconnect(p Peer) {
	sess := p.Session()

	sess.mu.Lock()
	roomID := sess.RoomID
	sess.mu.Unlock()

	s.stopInactivityTracker(p)

	if roomID != "" {
		s.registry.remove(roomID, p.ID())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.eventBus.LeaveRoom(ctx, roomID, p.ID()); err != nil {
			log.Printf("Leaving fleet membership for room '%s' failed: %v", roomID, err)
		}
	}

	sess.SetState(StateClosed)
}

func (s *Server) sendError(p Peer, code int, description string) {
	frame, err := wire.Encode(wire.EventError, wire.ErrorPayload{
		Code:        code,
		Description: description,
	})
	if err != nil {
		return
	}
	p.Send(frame)
}
