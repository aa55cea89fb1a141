package scene

import (
	"context"
	"sync"
)

// FetchFunc loads persisted content for a room that has no in-memory
// snapshot yet.
type FetchFunc func(ctx context.Context, roomID string) (Content, error)

type roomSlot struct {
	mu       sync.Mutex
	snapshot Snapshot
	loaded   bool
}

// Store owns the authoritative in-memory snapshot of every room on this
// instance. All edits for a room funnel through the slot's mutex, so the
// read-reconcile-write cycle is a single sequential path per room and
// concurrent reconciliations cannot lose updates.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*roomSlot
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*roomSlot)}
}

func (s *Store) slot(roomID string) *roomSlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.rooms[roomID]
	if !ok {
		slot = &roomSlot{}
		s.rooms[roomID] = slot
	}
	return slot
}

// GetOrFetch returns the room's snapshot, loading persisted content
// through fetch on first access. The slot lock is held across the fetch
// so simultaneous joiners do not fetch twice.
func (s *Store) GetOrFetch(ctx context.Context, roomID string, fetch FetchFunc) (Snapshot, error) {
	slot := s.slot(roomID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.loaded {
		return slot.snapshot, nil
	}

	content, err := fetch(ctx, roomID)
	if err != nil {
		return Snapshot{}, err
	}

	slot.snapshot = NewSnapshot(content, 1)
	slot.loaded = true
	return slot.snapshot, nil
}

// Get returns the room's snapshot when one is loaded.
func (s *Store) Get(roomID string) (Snapshot, bool) {
	s.mu.Lock()
	slot, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.loaded {
		return Snapshot{}, false
	}
	return slot.snapshot, true
}

// Reconcile applies a remote batch to the room's snapshot and returns
// the new snapshot. Returns false when the room has no loaded snapshot;
// the batch is dropped rather than creating a room as a side effect.
func (s *Store) Reconcile(roomID string, remoteElements []Element, remoteFiles FileStore) (Snapshot, bool) {
	s.mu.Lock()
	slot, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.loaded {
		return Snapshot{}, false
	}

	slot.snapshot = Reconcile(slot.snapshot, remoteElements, remoteFiles)
	return slot.snapshot, true
}

// Delete discards the room's snapshot.
func (s *Store) Delete(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}
