package repository

import (
	"context"
	"database/sql"

	"match-service/internal/models"
)

type AnswerRepository struct {
	db *sql.DB
}

func NewAnswerRepository(db *sql.DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// InsertAnswers writes a batch of answer rows in one transaction. The
// conflict clause makes retries and double-flushes harmless: a row per
// (match, player, question) is written at most once.
func (r *AnswerRepository) InsertAnswers(ctx context.Context, records []models.AnswerRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO match_answers (match_id, player_fid, question_id, answer, is_correct, response_ms, points, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (match_id, player_fid, question_id) DO NOTHING
	`
	for _, rec := range records {
		_, err := tx.ExecContext(ctx, query,
			rec.MatchID,
			rec.PlayerFID,
			rec.QuestionID,
			rec.Answer,
			rec.IsCorrect,
			rec.ResponseMs,
			rec.Points,
			rec.AnsweredAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SumPoints totals a player's durable answer points for a match. This is
// the canonical score source once both sides have completed.
func (r *AnswerRepository) SumPoints(ctx context.Context, matchID string, fid int64) (int, error) {
	query := `SELECT COALESCE(SUM(points), 0) FROM match_answers WHERE match_id = $1 AND player_fid = $2`
	var sum int
	err := r.db.QueryRowContext(ctx, query, matchID, fid).Scan(&sum)
	return sum, err
}

func (r *AnswerRepository) CountByPlayer(ctx context.Context, matchID string, fid int64) (int, error) {
	query := `SELECT COUNT(*) FROM match_answers WHERE match_id = $1 AND player_fid = $2`
	var count int
	err := r.db.QueryRowContext(ctx, query, matchID, fid).Scan(&count)
	return count, err
}

// PlayerTotals aggregates a player's answers for a match in one query:
// answered count, correct count, summed latency and summed points.
func (r *AnswerRepository) PlayerTotals(ctx context.Context, matchID string, fid int64) (answered, correct int, totalResponseMs int64, points int, err error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(response_ms), 0),
		       COALESCE(SUM(points), 0)
		FROM match_answers
		WHERE match_id = $1 AND player_fid = $2
	`
	err = r.db.QueryRowContext(ctx, query, matchID, fid).Scan(&answered, &correct, &totalResponseMs, &points)
	return
}

func (r *AnswerRepository) ListByPlayer(ctx context.Context, matchID string, fid int64) ([]models.AnswerRecord, error) {
	query := `
		SELECT match_id, player_fid, question_id, answer, is_correct, response_ms, points, answered_at
		FROM match_answers
		WHERE match_id = $1 AND player_fid = $2
		ORDER BY answered_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, matchID, fid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AnswerRecord
	for rows.Next() {
		var rec models.AnswerRecord
		err := rows.Scan(
			&rec.MatchID,
			&rec.PlayerFID,
			&rec.QuestionID,
			&rec.Answer,
			&rec.IsCorrect,
			&rec.ResponseMs,
			&rec.Points,
			&rec.AnsweredAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
