package cooldown

import (
	"sync"
	"testing"
	"time"
)

func TestRecordOutcomeWinResetsStreak(t *testing.T) {
	tr := NewTracker(3, 4*time.Hour)

	tr.RecordOutcome(-10)
	tr.RecordOutcome(-5)
	if got := tr.Snapshot().ConsecutiveLosses; got != 2 {
		t.Fatalf("expected streak of 2, got %d", got)
	}

	tr.RecordOutcome(1)
	if got := tr.Snapshot().ConsecutiveLosses; got != 0 {
		t.Fatalf("win should reset streak, got %d", got)
	}
}

func TestFlatCloseResetsStreak(t *testing.T) {
	tr := NewTracker(3, 4*time.Hour)
	tr.RecordOutcome(-10)
	tr.RecordOutcome(0)
	if got := tr.Snapshot().ConsecutiveLosses; got != 0 {
		t.Fatalf("flat close should reset streak, got %d", got)
	}
}

func TestCooldownActivatesAtThreshold(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(3, 4*time.Hour)
	tr.now = func() time.Time { return base }

	if activated, _ := tr.RecordOutcome(-1); activated {
		t.Fatal("first loss must not activate a cooldown")
	}
	if activated, _ := tr.RecordOutcome(-1); activated {
		t.Fatal("second loss must not activate a cooldown")
	}
	if active, _ := tr.InCooldown(); active {
		t.Fatal("no cooldown expected below the threshold")
	}

	activated, until := tr.RecordOutcome(-1)
	if !activated {
		t.Fatal("third consecutive loss must activate the cooldown")
	}
	if want := base.Add(4 * time.Hour); !until.Equal(want) {
		t.Fatalf("cooldown deadline: got %v, want %v", until, want)
	}
	if active, _ := tr.InCooldown(); !active {
		t.Fatal("cooldown should be active after activation")
	}
}

func TestCooldownExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(1, time.Hour)
	tr.now = func() time.Time { return now }

	tr.RecordOutcome(-1)
	if active, _ := tr.InCooldown(); !active {
		t.Fatal("cooldown should be active")
	}

	now = now.Add(61 * time.Minute)
	if active, _ := tr.InCooldown(); active {
		t.Fatal("cooldown should have expired")
	}
}

func TestConcurrentOutcomesKeepStateConsistent(t *testing.T) {
	tr := NewTracker(1000, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordOutcome(-1)
		}()
	}
	wg.Wait()

	if got := tr.Snapshot().ConsecutiveLosses; got != 100 {
		t.Fatalf("expected 100 booked losses, got %d", got)
	}
}
