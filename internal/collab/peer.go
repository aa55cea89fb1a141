package collab

import (
	"sync"

	"collaborative-whiteboard-server/internal/integration"
)

// Peer is one connected client, independent of the underlying
// transport. Send is reliable within the connection's ordering
// guarantees; SendVolatile may drop the frame under backpressure and is
// meant for latest-value-only signals such as cursor positions.
type Peer interface {
	ID() string
	Session() *Session
	Credentials() integration.Credentials
	Send(data []byte)
	SendVolatile(data []byte)
	Close(reason string)
}

// registry tracks the peers of each room on this instance. It is the
// local membership view; fleet-wide truth lives in the event bus.
type registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Peer
}

func newRegistry() *registry {
	return &registry{rooms: make(map[string]map[string]Peer)}
}

func (r *registry) add(roomID string, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]Peer)
		r.rooms[roomID] = room
	}
	room[p.ID()] = p
}

func (r *registry) remove(roomID string, peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		delete(room, peerID)
		if len(room) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// peers returns the room's local peers.
func (r *registry) peers(roomID string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[roomID]
	peers := make([]Peer, 0, len(room))
	for _, p := range room {
		peers = append(peers, p)
	}
	return peers
}

// contains reports whether the socket id belongs to this instance.
func (r *registry) contains(roomID, peerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][peerID]
	return ok
}

// roomIDs lists the rooms with at least one local peer.
func (r *registry) roomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (r *registry) size(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}
