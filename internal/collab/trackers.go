package collab

import (
	"log"
	"sync"
	"time"
)

// tracker is a cancelable per-room background loop. Stopping is not an
// error and is logged apart from unexpected failure.
type tracker struct {
	stop chan struct{}
	once sync.Once
}

func newTracker() *tracker {
	return &tracker{stop: make(chan struct{})}
}

func (t *tracker) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// runEvery ticks fn at the given period until the tracker is stopped.
func (t *tracker) runEvery(name, roomID string, period time.Duration, fn func()) {
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				log.Printf("%s tracker for room '%s' stopped", name, roomID)
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// inactivityTracker downgrades a collaborator session after a window of
// silence. Broadcasts reset it, debounced so rapid-fire input does not
// thrash the timer.
type inactivityTracker struct {
	timer     *time.Timer
	lastReset time.Time
}

func (s *Server) startInactivityTracker(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// exit if already exists
	if _, ok := s.inactivityTrackers[p.ID()]; ok {
		return
	}

	s.inactivityTrackers[p.ID()] = &inactivityTracker{
		timer:     time.AfterFunc(s.opts.CollaboratorInactivity, func() { s.expireCollaborator(p) }),
		lastReset: time.Now(),
	}
	log.Printf("Created collaborator inactivity tracker for user '%s'", p.Session().Email)
}

// resetInactivityTracker re-arms the peer's inactivity timer. Resets
// within the debounce window are dropped.
func (s *Server) resetInactivityTracker(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.inactivityTrackers[p.ID()]
	if !ok {
		return
	}

	now := time.Now()
	if now.Sub(t.lastReset) < s.opts.InactivityResetDebounce {
		return
	}
	t.lastReset = now
	t.timer.Reset(s.opts.CollaboratorInactivity)
}

func (s *Server) stopInactivityTracker(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.inactivityTrackers[p.ID()]
	if !ok {
		return
	}
	t.timer.Stop()
	delete(s.inactivityTrackers, p.ID())
	log.Printf("Stopped collaborator inactivity tracker for user '%s'", p.Session().Email)
}

// gatherContributions reports the users who contributed within the
// trailing window to the analytics collaborator. Purely observational.
func (s *Server) gatherContributions(roomID string) {
	windowEnd := time.Now()
	windowStart := windowEnd.Add(-s.opts.ContributionWindow)

	users := s.contributorsWithin(roomID, windowStart, windowEnd)
	log.Printf("Registering contributions for %d users in room '%s'", len(users), roomID)
	s.analytics.Contribution(roomID, users)
}
