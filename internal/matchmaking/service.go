package matchmaking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"match-service/internal/constants"
	"match-service/internal/models"
)

// ErrNotDeclinable marks a decline against a match that is not a waiting
// challenge anymore.
var ErrNotDeclinable = errors.New("match cannot be declined")

type MatchWriter interface {
	CreateMatch(ctx context.Context, match *models.Match) error
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	SetStatus(ctx context.Context, matchID, from, to string) (bool, error)
}

type QuestionPicker interface {
	RandomActiveByTopic(ctx context.Context, topic string, n int) ([]*models.Question, error)
}

type SessionCreator interface {
	Create(ctx context.Context, state *models.GameState) error
}

type Publisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

// MatchFoundEvent is published once per paired player so the notification
// consumer can push to each device individually.
type MatchFoundEvent struct {
	MatchID      string `json:"match_id"`
	Topic        string `json:"topic"`
	PlayerFID    int64  `json:"player_fid"`
	OpponentFID  int64  `json:"opponent_fid"`
	OpponentName string `json:"opponent_name"`
}

// Service turns queued players into matches: it drains compatible pairs
// from the queue, fixes the question set, creates the durable row and the
// live session, and announces the pairing.
type Service struct {
	queue     *Queue
	matches   MatchWriter
	questions QuestionPicker
	sessions  SessionCreator
	publisher Publisher
}

func NewService(queue *Queue, matches MatchWriter, questions QuestionPicker, sessions SessionCreator, publisher Publisher) *Service {
	return &Service{
		queue:     queue,
		matches:   matches,
		questions: questions,
		sessions:  sessions,
		publisher: publisher,
	}
}

// Process runs one pairing pass over every topic with waiting players and
// returns how many matches it created. Pairs that fail match creation are
// put back in the queue rather than dropped.
func (s *Service) Process(ctx context.Context) int {
	created := 0
	for _, topic := range s.queue.Topics() {
		for {
			first, second, ok := s.queue.FindMatch(topic)
			if !ok {
				break
			}

			match, err := s.CreatePair(ctx, topic, first, second)
			if err != nil {
				log.Printf("Failed to create match for topic %s: %v", topic, err)
				s.queue.Join(topic, first.PlayerFID, first.Username, first.Skill)
				s.queue.Join(topic, second.PlayerFID, second.Username, second.Skill)
				break
			}

			s.notifyMatchFound(ctx, match, first, second)
			created++
		}
	}
	return created
}

// Sweep drops queue entries that waited past the entry timeout.
func (s *Service) Sweep() int {
	return s.queue.Sweep()
}

// CreatePair creates the durable row and live session for two already
// paired players. The pairing pass and rematch negotiation both land here.
func (s *Service) CreatePair(ctx context.Context, topic string, first, second *Entry) (*models.Match, error) {
	questions, err := s.questions.RandomActiveByTopic(ctx, topic, constants.QuestionsPerMatch)
	if err != nil {
		return nil, err
	}
	questionIDs := make([]string, len(questions))
	for i, q := range questions {
		questionIDs[i] = q.ID
	}

	match := &models.Match{
		MatchType:   constants.MatchTypeLive,
		Topic:       topic,
		Player1FID:  first.PlayerFID,
		Player2FID:  nullInt64(second.PlayerFID),
		QuestionIDs: questionIDs,
		Status:      constants.MatchStatusActive,
	}
	if err := s.matches.CreateMatch(ctx, match); err != nil {
		return nil, err
	}

	state := &models.GameState{
		MatchID:     match.ID,
		Player1FID:  first.PlayerFID,
		Player2FID:  second.PlayerFID,
		QuestionIDs: questionIDs,
		StartedAt:   time.Now().UnixMilli(),
		Status:      constants.SessionStatusActive,
	}
	if err := s.sessions.Create(ctx, state); err != nil {
		return nil, err
	}
	return match, nil
}

// CreateChallenge opens an async-style match (challenge or bot) with a
// fixed question set and an empty second seat. The creator plays
// immediately; the row stays in waiting status until an opponent claims it.
func (s *Service) CreateChallenge(ctx context.Context, matchType, topic string, creatorFID int64) (*models.Match, error) {
	questions, err := s.questions.RandomActiveByTopic(ctx, topic, constants.QuestionsPerMatch)
	if err != nil {
		return nil, err
	}
	questionIDs := make([]string, len(questions))
	for i, q := range questions {
		questionIDs[i] = q.ID
	}

	match := &models.Match{
		MatchType:   matchType,
		Topic:       topic,
		Player1FID:  creatorFID,
		QuestionIDs: questionIDs,
		Status:      constants.MatchStatusWaiting,
	}
	if err := s.matches.CreateMatch(ctx, match); err != nil {
		return nil, err
	}
	return match, nil
}

// DeclineChallenge closes a still-waiting challenge: the creator withdraws
// it, or another player turns the open seat down. The conditional status
// transition loses cleanly to a concurrent join.
func (s *Service) DeclineChallenge(ctx context.Context, matchID string, fid int64) error {
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match.MatchType == constants.MatchTypeLive {
		return ErrNotDeclinable
	}
	if match.Status != constants.MatchStatusWaiting {
		return ErrNotDeclinable
	}

	moved, err := s.matches.SetStatus(ctx, matchID, constants.MatchStatusWaiting, constants.MatchStatusDeclined)
	if err != nil {
		return err
	}
	if !moved {
		// an opponent claimed the seat between the read and the update
		return ErrNotDeclinable
	}
	log.Printf("Challenge %s declined by player %d", matchID, fid)
	return nil
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func (s *Service) notifyMatchFound(ctx context.Context, match *models.Match, first, second *Entry) {
	if s.publisher == nil {
		return
	}

	events := []MatchFoundEvent{
		{MatchID: match.ID, Topic: match.Topic, PlayerFID: first.PlayerFID, OpponentFID: second.PlayerFID, OpponentName: second.Username},
		{MatchID: match.ID, Topic: match.Topic, PlayerFID: second.PlayerFID, OpponentFID: first.PlayerFID, OpponentName: first.Username},
	}
	for _, event := range events {
		body, err := json.Marshal(event)
		if err != nil {
			log.Printf("Failed to marshal match found event for match %s: %v", match.ID, err)
			continue
		}
		if err := s.publisher.Publish(ctx, constants.QueueMatchFound, body); err != nil {
			log.Printf("Failed to publish match found event for match %s: %v", match.ID, err)
		}
	}
}
