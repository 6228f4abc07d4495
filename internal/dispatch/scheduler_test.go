package dispatch

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerArmFires(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.Arm(1, PhaseRequest, 10*time.Millisecond, func() { fired.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestSchedulerRearmReplaces(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var first, second atomic.Int32
	s.Arm(1, PhaseRequest, 20*time.Millisecond, func() { first.Add(1) })
	s.Arm(1, PhaseRequest, 20*time.Millisecond, func() { second.Add(1) })

	time.Sleep(80 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("replaced timer still fired")
	}
	if second.Load() != 1 {
		t.Errorf("replacement fired %d times, want 1", second.Load())
	}
}

func TestSchedulerDisarm(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.Arm(1, PhaseQuote, 20*time.Millisecond, func() { fired.Add(1) })
	s.Disarm(1, PhaseQuote)

	// Disarming again, or disarming a timer that never existed, is a
	// no-op.
	s.Disarm(1, PhaseQuote)
	s.Disarm(99, PhaseRequest)

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("disarmed timer fired")
	}
}

func TestSchedulerPhasesAreIndependent(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var request, quote atomic.Int32
	s.Arm(1, PhaseRequest, 15*time.Millisecond, func() { request.Add(1) })
	s.Arm(1, PhaseQuote, 15*time.Millisecond, func() { quote.Add(1) })
	s.Disarm(1, PhaseRequest)

	time.Sleep(60 * time.Millisecond)
	if request.Load() != 0 {
		t.Error("disarmed request timer fired")
	}
	if quote.Load() != 1 {
		t.Errorf("quote timer fired %d times, want 1", quote.Load())
	}
}

func TestSchedulerDisarmAll(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.Arm(1, PhaseRequest, 15*time.Millisecond, func() { fired.Add(1) })
	s.Arm(1, PhaseQuote, 15*time.Millisecond, func() { fired.Add(1) })
	s.Arm(2, PhaseRequest, 15*time.Millisecond, func() { fired.Add(1) })
	s.DisarmAll(1)

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want only ride 2's timer", fired.Load())
	}
}

func TestSchedulerStopBlocksFurtherArming(t *testing.T) {
	s := NewScheduler()

	var fired atomic.Int32
	s.Arm(1, PhaseRequest, 15*time.Millisecond, func() { fired.Add(1) })
	s.Stop()
	s.Arm(2, PhaseRequest, 15*time.Millisecond, func() { fired.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired %d times after Stop, want 0", fired.Load())
	}
}

func TestSchedulerFiredCallbackKeepsReplacementHandle(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	firstRan := make(chan struct{})
	s.Arm(7, PhaseRequest, time.Millisecond, func() { close(firstRan) })

	// Hold the lock while the first timer fires, so its cleanup is
	// queued behind us, then slot in a replacement the way a re-arm
	// racing the callback would.
	key := timerKey{rideID: 7, phase: PhaseRequest}
	s.mu.Lock()
	time.Sleep(20 * time.Millisecond)
	replacement := time.AfterFunc(time.Hour, func() {})
	s.timers[key] = replacement
	s.mu.Unlock()

	<-firstRan
	s.mu.Lock()
	kept := s.timers[key] == replacement
	s.mu.Unlock()
	if !kept {
		t.Fatal("fired callback dropped the replacement timer's handle")
	}

	s.Disarm(7, PhaseRequest)
	s.mu.Lock()
	_, still := s.timers[key]
	s.mu.Unlock()
	if still {
		t.Fatal("replacement timer not disarmable")
	}
}
