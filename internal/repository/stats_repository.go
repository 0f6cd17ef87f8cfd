package repository

import (
	"context"
	"database/sql"

	"match-service/internal/models"
)

// StatsTopicAll is the pseudo-topic row carrying a player's overall totals.
const StatsTopicAll = "all"

type StatsRepository struct {
	db *sql.DB
}

func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// MatchOutcome is one player's view of a finalized match, applied to both
// the topic row and the overall row.
type MatchOutcome struct {
	FID             int64
	Topic           string
	Won             bool
	Draw            bool
	Answered        int
	Correct         int
	TotalResponseMs int64
}

func (r *StatsRepository) ApplyMatchOutcome(ctx context.Context, outcome MatchOutcome) error {
	for _, topic := range []string{outcome.Topic, StatsTopicAll} {
		if err := r.upsertOutcome(ctx, topic, outcome); err != nil {
			return err
		}
	}
	return nil
}

func (r *StatsRepository) upsertOutcome(ctx context.Context, topic string, o MatchOutcome) error {
	wins, losses, draws := 0, 0, 0
	switch {
	case o.Draw:
		draws = 1
	case o.Won:
		wins = 1
	default:
		losses = 1
	}

	query := `
		INSERT INTO user_topic_stats
			(fid, topic, matches_played, wins, losses, draws, questions_answered, correct_answers, total_response_ms, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP)
		ON CONFLICT (fid, topic) DO UPDATE SET
			matches_played = user_topic_stats.matches_played + 1,
			wins = user_topic_stats.wins + EXCLUDED.wins,
			losses = user_topic_stats.losses + EXCLUDED.losses,
			draws = user_topic_stats.draws + EXCLUDED.draws,
			questions_answered = user_topic_stats.questions_answered + EXCLUDED.questions_answered,
			correct_answers = user_topic_stats.correct_answers + EXCLUDED.correct_answers,
			total_response_ms = user_topic_stats.total_response_ms + EXCLUDED.total_response_ms,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.ExecContext(ctx, query,
		o.FID, topic, wins, losses, draws, o.Answered, o.Correct, o.TotalResponseMs,
	)
	return err
}

func (r *StatsRepository) GetTopicStats(ctx context.Context, fid int64, topic string) (*models.TopicStats, error) {
	query := `
		SELECT fid, topic, matches_played, wins, losses, draws,
		       questions_answered, correct_answers, total_response_ms, updated_at
		FROM user_topic_stats
		WHERE fid = $1 AND topic = $2
	`
	stats := &models.TopicStats{}
	err := r.db.QueryRowContext(ctx, query, fid, topic).Scan(
		&stats.FID,
		&stats.Topic,
		&stats.MatchesPlayed,
		&stats.Wins,
		&stats.Losses,
		&stats.Draws,
		&stats.QuestionsAnswered,
		&stats.CorrectAnswers,
		&stats.TotalResponseMs,
		&stats.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return &models.TopicStats{FID: fid, Topic: topic}, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CurrentWinStreak recomputes the streak from recent completed-match history
// instead of keeping an incremental counter that could drift. A draw or a
// loss ends the streak.
func (r *StatsRepository) CurrentWinStreak(fid int64, recent []*models.Match) int {
	streak := 0
	for _, m := range recent {
		if !m.WinnerFID.Valid || m.WinnerFID.Int64 != fid {
			break
		}
		streak++
	}
	return streak
}
