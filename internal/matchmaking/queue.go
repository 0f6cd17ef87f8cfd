package matchmaking

import (
	"sync"
	"time"

	"match-service/config"
)

// Entry is one waiting player in a topic queue.
type Entry struct {
	PlayerFID int64
	Username  string
	Skill     int
	JoinedAt  time.Time
}

// Queue holds per-topic waiting pools ordered by join time. Pairing favors
// the two oldest entries and relaxes the skill tolerance as the oldest
// entry's wait grows, so fresh entrants get close matches while nobody
// starves.
type Queue struct {
	mu     sync.Mutex
	topics map[string][]*Entry

	entryTimeout  time.Duration
	baseTolerance int
	relaxInterval time.Duration
	relaxStep     int

	now func() time.Time
}

func NewQueue(cfg *config.MatchmakingConfig) *Queue {
	return &Queue{
		topics:        make(map[string][]*Entry),
		entryTimeout:  cfg.EntryTimeout,
		baseTolerance: cfg.BaseTolerance,
		relaxInterval: cfg.RelaxInterval,
		relaxStep:     cfg.RelaxStep,
		now:           time.Now,
	}
}

// Join adds a player to a topic queue and returns the 1-based position.
// Joining again refreshes skill but keeps the original queue position.
func (q *Queue) Join(topic string, playerFID int64, username string, skill int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.topics[topic]
	for i, e := range entries {
		if e.PlayerFID == playerFID {
			e.Skill = skill
			return i + 1
		}
	}

	q.topics[topic] = append(entries, &Entry{
		PlayerFID: playerFID,
		Username:  username,
		Skill:     skill,
		JoinedAt:  q.now(),
	})
	return len(q.topics[topic])
}

func (q *Queue) Leave(topic string, playerFID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.topics[topic]
	for i, e := range entries {
		if e.PlayerFID == playerFID {
			q.topics[topic] = append(entries[:i], entries[i+1:]...)
			if len(q.topics[topic]) == 0 {
				delete(q.topics, topic)
			}
			return true
		}
	}
	return false
}

func (q *Queue) Size(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.topics[topic])
}

// Position returns the 1-based queue position, or 0 when absent.
func (q *Queue) Position(topic string, playerFID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.topics[topic] {
		if e.PlayerFID == playerFID {
			return i + 1
		}
	}
	return 0
}

func (q *Queue) Topics() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	topics := make([]string, 0, len(q.topics))
	for t := range q.topics {
		topics = append(topics, t)
	}
	return topics
}

// FindMatch considers only the two oldest waiting entries for a topic. The
// allowed skill gap is base + floor(wait/interval)*step measured on the
// oldest entry; incompatible pairs stay queued untouched. A successful match
// removes exactly those two entries before returning, under the same lock
// the sweep takes, so an entry can never be both matched and expired.
func (q *Queue) FindMatch(topic string) (*Entry, *Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.dropExpiredLocked(topic, now)

	entries := q.topics[topic]
	if len(entries) < 2 {
		return nil, nil, false
	}

	first, second := entries[0], entries[1]

	tolerance := q.baseTolerance
	if q.relaxInterval > 0 {
		waited := now.Sub(first.JoinedAt)
		tolerance += int(waited/q.relaxInterval) * q.relaxStep
	}

	diff := first.Skill - second.Skill
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return nil, nil, false
	}

	q.topics[topic] = entries[2:]
	if len(q.topics[topic]) == 0 {
		delete(q.topics, topic)
	}
	return first, second, true
}

// Sweep purges entries older than the entry timeout across all topics and
// returns how many were removed.
func (q *Queue) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	removed := 0
	for topic := range q.topics {
		removed += q.dropExpiredLocked(topic, now)
	}
	return removed
}

func (q *Queue) dropExpiredLocked(topic string, now time.Time) int {
	if q.entryTimeout <= 0 {
		return 0
	}

	entries := q.topics[topic]
	kept := entries[:0]
	removed := 0
	for _, e := range entries {
		if now.Sub(e.JoinedAt) > q.entryTimeout {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(q.topics, topic)
	} else {
		q.topics[topic] = kept
	}
	return removed
}
