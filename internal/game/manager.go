package game

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"match-service/internal/constants"
	"match-service/internal/matchmaking"
	"match-service/internal/models"
)

type MatchGetter interface {
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
}

type QuestionLoader interface {
	GetByIDs(ctx context.Context, ids []string) ([]*models.Question, error)
}

type UserGetter interface {
	GetMany(ctx context.Context, fids []int64) (map[int64]*models.User, error)
}

// SessionStore is what the manager and its rooms need from the ephemeral
// store: seeding on room construction plus the in-play operations.
type SessionStore interface {
	SessionOps
	Get(ctx context.Context, matchID string) (*models.GameState, error)
	Create(ctx context.Context, state *models.GameState) error
}

type RematchCreator interface {
	CreatePair(ctx context.Context, topic string, first, second *matchmaking.Entry) (*models.Match, error)
}

// construction is the in-flight build token concurrent callers wait on. It
// is published before any I/O happens, so two players joining within
// milliseconds observe exactly one room.
type construction struct {
	done chan struct{}
	room *Room
	err  error
}

type rematchOffer struct {
	requesterFID int64
	topic        string
	timer        *time.Timer
}

// Manager owns room lifecycle: at most one Room per match id, lazy
// construction seeded from both stores, teardown, and rematch negotiation.
type Manager struct {
	matches   MatchGetter
	questions QuestionLoader
	users     UserGetter
	sessions  SessionStore
	completer Completer
	forfeits  ForfeitRecorder
	rematches RematchCreator

	rematchWindow time.Duration

	mu       sync.Mutex
	rooms    map[string]*Room
	building map[string]*construction
	offers   map[string]*rematchOffer
}

func NewManager(matches MatchGetter, questions QuestionLoader, users UserGetter,
	sessions SessionStore, completer Completer, forfeits ForfeitRecorder, rematches RematchCreator) *Manager {
	return &Manager{
		matches:       matches,
		questions:     questions,
		users:         users,
		sessions:      sessions,
		completer:     completer,
		forfeits:      forfeits,
		rematches:     rematches,
		rematchWindow: constants.RematchWindow,
		rooms:         make(map[string]*Room),
		building:      make(map[string]*construction),
		offers:        make(map[string]*rematchOffer),
	}
}

// GetOrCreateRoom returns the room for a match, building it at most once
// under concurrent callers. The first caller registers a construction token
// and builds; everyone else waits on the token. A failed build clears the
// token so a retry can succeed.
func (m *Manager) GetOrCreateRoom(ctx context.Context, matchID string) (*Room, error) {
	m.mu.Lock()
	if room, ok := m.rooms[matchID]; ok {
		m.mu.Unlock()
		return room, nil
	}
	if c, ok := m.building[matchID]; ok {
		m.mu.Unlock()
		select {
		case <-c.done:
			return c.room, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &construction{done: make(chan struct{})}
	m.building[matchID] = c
	m.mu.Unlock()

	room, err := m.buildRoom(ctx, matchID)

	m.mu.Lock()
	delete(m.building, matchID)
	if err == nil {
		m.rooms[matchID] = room
	}
	m.mu.Unlock()

	c.room, c.err = room, err
	close(c.done)
	return room, err
}

func (m *Manager) buildRoom(ctx context.Context, matchID string) (*Room, error) {
	match, err := m.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status == constants.MatchStatusCompleted {
		return nil, fmt.Errorf("match %s is already completed", matchID)
	}
	if !match.Player2FID.Valid {
		return nil, fmt.Errorf("match %s has no opponent yet", matchID)
	}

	questions, err := m.questions.GetByIDs(ctx, match.QuestionIDs)
	if err != nil {
		return nil, err
	}

	players := m.playerInfos(ctx, []int64{match.Player1FID, match.Player2FID.Int64})

	state, err := m.sessions.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &models.GameState{
			MatchID:     matchID,
			Player1FID:  match.Player1FID,
			Player2FID:  match.Player2FID.Int64,
			QuestionIDs: match.QuestionIDs,
			StartedAt:   time.Now().UnixMilli(),
			Status:      constants.SessionStatusActive,
		}
		if err := m.sessions.Create(ctx, state); err != nil {
			return nil, err
		}
	}

	room := NewRoom(match, questions, players, m.sessions, m.completer, m.forfeits, m.RemoveRoom)
	room.seedFromSession(state)
	return room, nil
}

// playerInfos loads both profiles in one batch and degrades any missing or
// failed lookup to a bare fid; display data is never load-bearing.
func (m *Manager) playerInfos(ctx context.Context, fids []int64) map[int64]PlayerInfo {
	users, err := m.users.GetMany(ctx, fids)
	if err != nil {
		log.Printf("Failed to load profiles for players %v: %v", fids, err)
		users = nil
	}

	players := make(map[int64]PlayerInfo, len(fids))
	for _, fid := range fids {
		user, ok := users[fid]
		if !ok {
			players[fid] = PlayerInfo{FID: fid}
			continue
		}
		info := PlayerInfo{
			FID:         user.FID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			PfpURL:      user.PfpURL,
		}
		if user.Badge.Valid {
			info.Badge = user.Badge.String
		}
		players[fid] = info
	}
	return players
}

func (m *Manager) GetRoom(matchID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[matchID]
	return room, ok
}

// RemoveRoom tears down the room's timers and forgets it. Any rematch offer
// against the match dies with the room.
func (m *Manager) RemoveRoom(matchID string) {
	m.mu.Lock()
	room, ok := m.rooms[matchID]
	delete(m.rooms, matchID)
	if offer, exists := m.offers[matchID]; exists {
		offer.timer.Stop()
		delete(m.offers, matchID)
	}
	m.mu.Unlock()

	if ok {
		room.Close()
		log.Printf("Room removed for match %s", matchID)
	}
}

// RequestRematch records interest against the finished match. The first
// request opens a window and pings the opponent; a matching request from
// the opponent inside the window creates a fresh match and redirects both
// players; a lapsed window notifies the requester.
func (m *Manager) RequestRematch(ctx context.Context, oldMatchID string, fid int64, topic string) error {
	room, ok := m.GetRoom(oldMatchID)
	if !ok {
		return fmt.Errorf("match %s has no active room", oldMatchID)
	}

	match := room.match
	if !match.HasPlayer(fid) {
		return fmt.Errorf("player %d is not part of match %s", fid, oldMatchID)
	}
	if topic == "" {
		topic = match.Topic
	}

	m.mu.Lock()
	offer, exists := m.offers[oldMatchID]
	if exists && offer.requesterFID == fid {
		m.mu.Unlock()
		return nil
	}
	if exists {
		offer.timer.Stop()
		delete(m.offers, oldMatchID)
		m.mu.Unlock()
		return m.createRematch(ctx, room, topic)
	}

	offer = &rematchOffer{requesterFID: fid, topic: topic}
	offer.timer = time.AfterFunc(m.rematchWindow, func() {
		m.expireRematch(oldMatchID)
	})
	m.offers[oldMatchID] = offer
	m.mu.Unlock()

	room.SendTo(match.OpponentFID(fid), MessageTypeRematchRequested, OpponentPayload{PlayerFID: fid})
	return nil
}

func (m *Manager) createRematch(ctx context.Context, room *Room, topic string) error {
	match := room.match
	now := time.Now()
	first := &matchmaking.Entry{
		PlayerFID: match.Player1FID,
		Username:  room.players[match.Player1FID].Username,
		JoinedAt:  now,
	}
	second := &matchmaking.Entry{
		PlayerFID: match.Player2FID.Int64,
		Username:  room.players[match.Player2FID.Int64].Username,
		JoinedAt:  now,
	}

	newMatch, err := m.rematches.CreatePair(ctx, topic, first, second)
	if err != nil {
		return fmt.Errorf("failed to create rematch for %s: %w", match.ID, err)
	}

	room.broadcast(MessageTypeRematchReady, RematchReadyPayload{MatchID: newMatch.ID})
	return nil
}

func (m *Manager) expireRematch(oldMatchID string) {
	m.mu.Lock()
	offer, ok := m.offers[oldMatchID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.offers, oldMatchID)
	m.mu.Unlock()

	if room, exists := m.GetRoom(oldMatchID); exists {
		room.SendTo(offer.requesterFID, MessageTypeRematchExpired, nil)
	}
}
