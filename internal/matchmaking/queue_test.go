package matchmaking

import (
	"testing"
	"time"

	"match-service/config"
)

func testQueue() (*Queue, *time.Time) {
	cfg := &config.MatchmakingConfig{
		EntryTimeout:  60 * time.Second,
		BaseTolerance: 100,
		RelaxInterval: 10 * time.Second,
		RelaxStep:     100,
	}
	q := NewQueue(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, &now
}

func TestJoinPositionAndLeave(t *testing.T) {
	q, _ := testQueue()

	if pos := q.Join("history", 1, "alice", 1000); pos != 1 {
		t.Errorf("first join position = %d, want 1", pos)
	}
	if pos := q.Join("history", 2, "bob", 1000); pos != 2 {
		t.Errorf("second join position = %d, want 2", pos)
	}
	// rejoin keeps the original position
	if pos := q.Join("history", 1, "alice", 1200); pos != 1 {
		t.Errorf("rejoin position = %d, want 1", pos)
	}
	if size := q.Size("history"); size != 2 {
		t.Errorf("size = %d, want 2", size)
	}

	if !q.Leave("history", 1) {
		t.Fatal("leave returned false for queued player")
	}
	if pos := q.Position("history", 2); pos != 1 {
		t.Errorf("position after leave = %d, want 1", pos)
	}
	if q.Leave("history", 99) {
		t.Error("leave returned true for unknown player")
	}
}

func TestFindMatchFIFOFairness(t *testing.T) {
	q, now := testQueue()

	q.Join("history", 1, "a", 1000)
	*now = now.Add(time.Second)
	q.Join("history", 2, "b", 1000)
	*now = now.Add(time.Second)
	q.Join("history", 3, "c", 1000)

	first, second, ok := q.FindMatch("history")
	if !ok {
		t.Fatal("expected a match")
	}
	if first.PlayerFID != 1 || second.PlayerFID != 2 {
		t.Errorf("matched %d/%d, want oldest pair 1/2", first.PlayerFID, second.PlayerFID)
	}
	if pos := q.Position("history", 3); pos != 1 {
		t.Errorf("later entrant position = %d, want 1", pos)
	}
}

func TestProgressiveToleranceRelaxation(t *testing.T) {
	q, now := testQueue()

	// gap of 250 needs base(100) + 2 relax steps, i.e. 20s of waiting
	q.Join("history", 1, "a", 1000)
	q.Join("history", 2, "b", 1250)

	if _, _, ok := q.FindMatch("history"); ok {
		t.Fatal("matched immediately despite skill gap over base tolerance")
	}
	if q.Size("history") != 2 {
		t.Fatal("failed pairing attempt must leave the queue untouched")
	}

	*now = now.Add(15 * time.Second)
	if _, _, ok := q.FindMatch("history"); ok {
		t.Fatal("matched at 15s, tolerance should still be 200")
	}

	*now = now.Add(5 * time.Second)
	first, second, ok := q.FindMatch("history")
	if !ok {
		t.Fatal("expected match once relaxed tolerance reaches the gap")
	}
	if first.PlayerFID != 1 || second.PlayerFID != 2 {
		t.Errorf("matched %d/%d, want 1/2", first.PlayerFID, second.PlayerFID)
	}
}

func TestSweepExpiresStaleEntries(t *testing.T) {
	q, now := testQueue()

	q.Join("history", 1, "a", 1000)
	*now = now.Add(61 * time.Second)
	q.Join("history", 2, "b", 1000)

	if removed := q.Sweep(); removed != 1 {
		t.Fatalf("sweep removed %d entries, want 1", removed)
	}
	if size := q.Size("history"); size != 1 {
		t.Errorf("size after sweep = %d, want 1", size)
	}
	if pos := q.Position("history", 1); pos != 0 {
		t.Errorf("expired entry still has position %d", pos)
	}
	if _, _, ok := q.FindMatch("history"); ok {
		t.Error("findMatch produced a pair with an expired entry")
	}
}

func TestFindMatchSkipsExpiredWithoutSweep(t *testing.T) {
	q, now := testQueue()

	q.Join("history", 1, "a", 1000)
	*now = now.Add(61 * time.Second)
	q.Join("history", 2, "b", 1000)
	q.Join("history", 3, "c", 1000)

	first, second, ok := q.FindMatch("history")
	if !ok {
		t.Fatal("expected a match between the two live entries")
	}
	if first.PlayerFID != 2 || second.PlayerFID != 3 {
		t.Errorf("matched %d/%d, want 2/3 (1 is expired)", first.PlayerFID, second.PlayerFID)
	}
}
