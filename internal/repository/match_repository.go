package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"match-service/internal/constants"
	"match-service/internal/models"

	"github.com/google/uuid"
)

var ErrMatchNotFound = errors.New("match not found")

type MatchRepository struct {
	db *sql.DB
}

func NewMatchRepository(db *sql.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) CreateMatch(ctx context.Context, match *models.Match) error {
	if match.ID == "" {
		match.ID = uuid.New().String()
	}
	match.CreatedAt = time.Now()
	if match.Status == "" {
		match.Status = constants.MatchStatusWaiting
	}

	questionIDs, err := json.Marshal(match.QuestionIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal question ids: %w", err)
	}

	query := `
		INSERT INTO matches (id, match_type, topic, player1_fid, player2_fid, question_ids, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		match.ID,
		match.MatchType,
		match.Topic,
		match.Player1FID,
		match.Player2FID,
		questionIDs,
		match.Status,
		match.CreatedAt,
	)
	return err
}

func (r *MatchRepository) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	query := `
		SELECT id, match_type, topic, player1_fid, player2_fid, question_ids,
		       player1_score, player2_score, player1_completed_at, player2_completed_at,
		       status, winner_fid, forfeited_by, created_at, completed_at
		FROM matches
		WHERE id = $1
	`

	match := &models.Match{}
	var questionIDs []byte
	err := r.db.QueryRowContext(ctx, query, matchID).Scan(
		&match.ID,
		&match.MatchType,
		&match.Topic,
		&match.Player1FID,
		&match.Player2FID,
		&questionIDs,
		&match.Player1Score,
		&match.Player2Score,
		&match.Player1CompletedAt,
		&match.Player2CompletedAt,
		&match.Status,
		&match.WinnerFID,
		&match.ForfeitedBy,
		&match.CreatedAt,
		&match.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(questionIDs, &match.QuestionIDs); err != nil {
		return nil, fmt.Errorf("failed to parse question ids: %w", err)
	}
	return match, nil
}

// AttachOpponent claims the open seat of an async challenge. The conditional
// update makes concurrent claims race-safe: only one caller sees a row
// change.
func (r *MatchRepository) AttachOpponent(ctx context.Context, matchID string, fid int64) error {
	query := `
		UPDATE matches
		SET player2_fid = $2, status = $3
		WHERE id = $1 AND player2_fid IS NULL AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, matchID, fid, constants.MatchStatusActive, constants.MatchStatusWaiting)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("match %s has no open seat", matchID)
	}
	return nil
}

// SetStatus moves a match from one status to another. The conditional
// update keeps concurrent transitions race-safe: false means the match had
// already left the expected status.
func (r *MatchRepository) SetStatus(ctx context.Context, matchID, from, to string) (bool, error) {
	query := `UPDATE matches SET status = $3 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, matchID, from, to)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ExpireStaleChallenges moves waiting challenges older than the cutoff to
// expired, so abandoned open seats do not linger forever.
func (r *MatchRepository) ExpireStaleChallenges(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `UPDATE matches SET status = $1 WHERE status = $2 AND created_at < $3`
	result, err := r.db.ExecContext(ctx, query,
		constants.MatchStatusExpired, constants.MatchStatusWaiting, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// StampCompletion records this player's completion timestamp and score on
// the durable row. The timestamp is written once; retries keep the original.
func (r *MatchRepository) StampCompletion(ctx context.Context, matchID string, fid int64, score int) error {
	query := `
		UPDATE matches SET
			player1_score = CASE WHEN player1_fid = $2 THEN $3 ELSE player1_score END,
			player1_completed_at = CASE WHEN player1_fid = $2 AND player1_completed_at IS NULL
				THEN CURRENT_TIMESTAMP ELSE player1_completed_at END,
			player2_score = CASE WHEN player2_fid = $2 THEN $3 ELSE player2_score END,
			player2_completed_at = CASE WHEN player2_fid = $2 AND player2_completed_at IS NULL
				THEN CURRENT_TIMESTAMP ELSE player2_completed_at END
		WHERE id = $1 AND status <> $4
	`
	_, err := r.db.ExecContext(ctx, query, matchID, fid, score, constants.MatchStatusCompleted)
	return err
}

// SetForfeit records an explicit forfeit. The first recorded forfeiter
// sticks.
func (r *MatchRepository) SetForfeit(ctx context.Context, matchID string, fid int64) error {
	query := `
		UPDATE matches SET forfeited_by = COALESCE(forfeited_by, $2)
		WHERE id = $1 AND status <> $3
	`
	_, err := r.db.ExecContext(ctx, query, matchID, fid, constants.MatchStatusCompleted)
	return err
}

// Finalize writes the terminal result exactly once. It reports whether this
// call performed the finalization; a false return with no error means some
// other caller already completed the match.
func (r *MatchRepository) Finalize(ctx context.Context, matchID string, p1Score, p2Score int, winnerFID, forfeitedBy sql.NullInt64) (bool, error) {
	query := `
		UPDATE matches SET
			status = $6,
			player1_score = $2,
			player2_score = $3,
			winner_fid = $4,
			forfeited_by = COALESCE(forfeited_by, $5),
			completed_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status <> $6
	`
	result, err := r.db.ExecContext(ctx, query, matchID, p1Score, p2Score, winnerFID, forfeitedBy, constants.MatchStatusCompleted)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// RecentCompletedResults returns the player's most recent completed matches,
// newest first, for streak recomputation.
func (r *MatchRepository) RecentCompletedResults(ctx context.Context, fid int64, limit int) ([]*models.Match, error) {
	query := `
		SELECT id, match_type, topic, player1_fid, player2_fid, question_ids,
		       player1_score, player2_score, player1_completed_at, player2_completed_at,
		       status, winner_fid, forfeited_by, created_at, completed_at
		FROM matches
		WHERE status = $2 AND (player1_fid = $1 OR player2_fid = $1)
		ORDER BY completed_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, fid, constants.MatchStatusCompleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		match := &models.Match{}
		var questionIDs []byte
		err := rows.Scan(
			&match.ID,
			&match.MatchType,
			&match.Topic,
			&match.Player1FID,
			&match.Player2FID,
			&questionIDs,
			&match.Player1Score,
			&match.Player2Score,
			&match.Player1CompletedAt,
			&match.Player2CompletedAt,
			&match.Status,
			&match.WinnerFID,
			&match.ForfeitedBy,
			&match.CreatedAt,
			&match.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(questionIDs, &match.QuestionIDs); err != nil {
			return nil, fmt.Errorf("failed to parse question ids: %w", err)
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}
