package dispatch

import (
	"sync"
	"time"
)

// TimerPhase distinguishes the two offer timers a ride can hold.
type TimerPhase string

const (
	PhaseRequest TimerPhase = "request"
	PhaseQuote   TimerPhase = "quote"
)

type timerKey struct {
	rideID uint
	phase  TimerPhase
}

// Scheduler owns the cancellable expiry timers for ride offers. At most
// one timer lives per (ride, phase): arming replaces any existing timer
// for that pair. Disarm is idempotent and safe against timers that have
// already fired or never existed.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[timerKey]*time.Timer
	stopped bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[timerKey]*time.Timer)}
}

// Arm schedules fn to run after d, replacing any live timer for the
// same ride and phase. fn runs on its own goroutine and must re-check
// ride state itself; the scheduler only guarantees the callback slot.
func (s *Scheduler) Arm(rideID uint, phase TimerPhase, d time.Duration, fn func()) {
	key := timerKey{rideID: rideID, phase: phase}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if existing, ok := s.timers[key]; ok {
		existing.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		// Only clear the slot if it still holds this timer; a re-armed
		// replacement must stay disarmable.
		if s.timers[key] == t {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = t
}

// Disarm cancels the ride's timer for one phase, if any.
func (s *Scheduler) Disarm(rideID uint, phase TimerPhase) {
	key := timerKey{rideID: rideID, phase: phase}

	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
}

// DisarmAll cancels every timer a ride still holds.
func (s *Scheduler) DisarmAll(rideID uint) {
	s.Disarm(rideID, PhaseRequest)
	s.Disarm(rideID, PhaseQuote)
}

// Stop cancels all timers and refuses further arming. Called on process
// shutdown so no callback fires against torn-down dependencies.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
