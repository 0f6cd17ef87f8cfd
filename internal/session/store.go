package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"match-service/internal/constants"
	"match-service/internal/models"

	"github.com/redis/go-redis/v9"
)

// Store is the ephemeral working-set for in-progress matches: one TTL-bound
// hash per match plus one answer list per (match, player). It is never the
// system of record; durable answer rows win any conflict once a match is
// completed.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: constants.SessionTTL}
}

func stateKey(matchID string) string {
	return "match:" + matchID + ":state"
}

func answersKey(matchID string, fid int64) string {
	return fmt.Sprintf("match:%s:answers:%d", matchID, fid)
}

func questionStartKey(matchID string, index int) string {
	return fmt.Sprintf("match:%s:question:%d:start", matchID, index)
}

// Create writes the session hash. When a hash already exists (an async match
// being revived for the second player) the accumulated scores and completion
// flags are preserved instead of being reset.
func (s *Store) Create(ctx context.Context, state *models.GameState) error {
	existing, err := s.Get(ctx, state.MatchID)
	if err != nil {
		return err
	}
	if existing != nil {
		if state.Player1Score == 0 {
			state.Player1Score = existing.Player1Score
		}
		if state.Player2Score == 0 {
			state.Player2Score = existing.Player2Score
		}
		state.Player1Completed = state.Player1Completed || existing.Player1Completed
		state.Player2Completed = state.Player2Completed || existing.Player2Completed
	}

	questionIDs, err := json.Marshal(state.QuestionIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal question ids: %w", err)
	}

	key := stateKey(state.MatchID)
	fields := map[string]interface{}{
		"player1_fid":       state.Player1FID,
		"player2_fid":       state.Player2FID,
		"player1_score":     state.Player1Score,
		"player2_score":     state.Player2Score,
		"question_ids":      string(questionIDs),
		"current_index":     state.CurrentIndex,
		"started_at":        state.StartedAt,
		"status":            state.Status,
		"player1_completed": boolField(state.Player1Completed),
		"player2_completed": boolField(state.Player2Completed),
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the session state, or nil when no session exists.
func (s *Store) Get(ctx context.Context, matchID string) (*models.GameState, error) {
	raw, err := s.rdb.HGetAll(ctx, stateKey(matchID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	state := &models.GameState{
		MatchID:          matchID,
		Player1FID:       parseInt64(raw["player1_fid"]),
		Player2FID:       parseInt64(raw["player2_fid"]),
		Player1Score:     int(parseInt64(raw["player1_score"])),
		Player2Score:     int(parseInt64(raw["player2_score"])),
		CurrentIndex:     int(parseInt64(raw["current_index"])),
		StartedAt:        parseInt64(raw["started_at"]),
		Status:           raw["status"],
		Player1Completed: raw["player1_completed"] == "1",
		Player2Completed: raw["player2_completed"] == "1",
	}

	if qids := raw["question_ids"]; qids != "" {
		if err := json.Unmarshal([]byte(qids), &state.QuestionIDs); err != nil {
			return nil, fmt.Errorf("failed to parse question ids: %w", err)
		}
	}
	return state, nil
}

// AddScore atomically adds points to a player's live score and returns the
// new total. HINCRBY keeps concurrent processes consistent without a lock.
func (s *Store) AddScore(ctx context.Context, matchID string, fid int64, points int) (int64, error) {
	field, err := s.scoreField(ctx, matchID, fid)
	if err != nil {
		return 0, err
	}
	return s.rdb.HIncrBy(ctx, stateKey(matchID), field, int64(points)).Result()
}

func (s *Store) scoreField(ctx context.Context, matchID string, fid int64) (string, error) {
	vals, err := s.rdb.HMGet(ctx, stateKey(matchID), "player1_fid", "player2_fid").Result()
	if err != nil {
		return "", err
	}
	if len(vals) == 2 {
		if v, ok := vals[0].(string); ok && parseInt64(v) == fid {
			return "player1_score", nil
		}
		if v, ok := vals[1].(string); ok && parseInt64(v) == fid {
			return "player2_score", nil
		}
	}
	return "", fmt.Errorf("player %d not in session %s", fid, matchID)
}

func (s *Store) SetCurrentIndex(ctx context.Context, matchID string, index int) error {
	return s.rdb.HSet(ctx, stateKey(matchID), "current_index", index).Err()
}

func (s *Store) SetStatus(ctx context.Context, matchID, status string) error {
	return s.rdb.HSet(ctx, stateKey(matchID), "status", status).Err()
}

func (s *Store) MarkCompleted(ctx context.Context, matchID string, fid int64) error {
	vals, err := s.rdb.HMGet(ctx, stateKey(matchID), "player1_fid", "player2_fid").Result()
	if err != nil {
		return err
	}
	field := ""
	if len(vals) == 2 {
		if v, ok := vals[0].(string); ok && parseInt64(v) == fid {
			field = "player1_completed"
		} else if v, ok := vals[1].(string); ok && parseInt64(v) == fid {
			field = "player2_completed"
		}
	}
	if field == "" {
		return fmt.Errorf("player %d not in session %s", fid, matchID)
	}
	return s.rdb.HSet(ctx, stateKey(matchID), field, "1").Err()
}

// AppendAnswer mirrors an in-progress answer so it survives a room crash
// until the durable flush.
func (s *Store) AppendAnswer(ctx context.Context, matchID string, fid int64, answer models.EphemeralAnswer) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	key := answersKey(matchID, fid)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Answers(ctx context.Context, matchID string, fid int64) ([]models.EphemeralAnswer, error) {
	items, err := s.rdb.LRange(ctx, answersKey(matchID, fid), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	answers := make([]models.EphemeralAnswer, 0, len(items))
	for _, item := range items {
		var a models.EphemeralAnswer
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("failed to parse answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, nil
}

// MarkQuestionStart records the authoritative question start instant with
// SETNX: whichever process gets there first wins, every process reads the
// same value back.
func (s *Store) MarkQuestionStart(ctx context.Context, matchID string, index int) (int64, error) {
	key := questionStartKey(matchID, index)
	now := time.Now().UnixMilli()
	if err := s.rdb.SetNX(ctx, key, now, s.ttl).Err(); err != nil {
		return 0, err
	}
	raw, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return parseInt64(raw), nil
}

// Release deletes the session hash and both answer lists. Question-start
// keys expire on their own TTL.
func (s *Store) Release(ctx context.Context, matchID string) error {
	state, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}

	keys := []string{stateKey(matchID)}
	if state != nil {
		if state.Player1FID != 0 {
			keys = append(keys, answersKey(matchID, state.Player1FID))
		}
		if state.Player2FID != 0 {
			keys = append(keys, answersKey(matchID, state.Player2FID))
		}
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
