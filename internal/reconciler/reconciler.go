package reconciler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"match-service/internal/constants"
	"match-service/internal/models"
	"match-service/internal/repository"
)

var ErrNotParticipant = errors.New("player is not part of this match")

// MatchStore is the slice of the match repository the reconciler needs.
type MatchStore interface {
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	StampCompletion(ctx context.Context, matchID string, fid int64, score int) error
	Finalize(ctx context.Context, matchID string, p1Score, p2Score int, winnerFID, forfeitedBy sql.NullInt64) (bool, error)
}

type AnswerStore interface {
	InsertAnswers(ctx context.Context, records []models.AnswerRecord) error
	SumPoints(ctx context.Context, matchID string, fid int64) (int, error)
	CountByPlayer(ctx context.Context, matchID string, fid int64) (int, error)
	PlayerTotals(ctx context.Context, matchID string, fid int64) (answered, correct int, totalResponseMs int64, points int, err error)
}

// SessionStore reads the ephemeral side. Get returns nil when the session
// has expired or was already released.
type SessionStore interface {
	Get(ctx context.Context, matchID string) (*models.GameState, error)
	Answers(ctx context.Context, matchID string, fid int64) ([]models.EphemeralAnswer, error)
	Release(ctx context.Context, matchID string) error
}

type StatsStore interface {
	ApplyMatchOutcome(ctx context.Context, outcome repository.MatchOutcome) error
}

type Publisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

// Result is what a completing player gets back. When the opponent has not
// finished yet only the caller's own score is authoritative.
type Result struct {
	MatchID       string `json:"match_id"`
	Status        string `json:"status"`
	BothCompleted bool   `json:"both_completed"`
	Player1FID    int64  `json:"player1_fid"`
	Player2FID    int64  `json:"player2_fid,omitempty"`
	Player1Score  int    `json:"player1_score"`
	Player2Score  int    `json:"player2_score"`
	WinnerFID     int64  `json:"winner_fid,omitempty"`
	IsDraw        bool   `json:"is_draw"`
	ForfeitedBy   int64  `json:"forfeited_by,omitempty"`
}

// Reconciler merges the ephemeral session and the durable match row into
// one final result. It is safe to call from the live game path, the async
// completion endpoint and retries at the same time: the durable row's
// conditional finalize picks exactly one winner among concurrent callers.
type Reconciler struct {
	matches   MatchStore
	answers   AnswerStore
	sessions  SessionStore
	stats     StatsStore
	publisher Publisher
}

func New(matches MatchStore, answers AnswerStore, sessions SessionStore, stats StatsStore, publisher Publisher) *Reconciler {
	return &Reconciler{
		matches:   matches,
		answers:   answers,
		sessions:  sessions,
		stats:     stats,
		publisher: publisher,
	}
}

// CompleteForPlayer records that fid has finished the match and, when both
// sides are done, finalizes it. Every step tolerates being repeated.
func (r *Reconciler) CompleteForPlayer(ctx context.Context, matchID string, fid int64) (*Result, error) {
	match, err := r.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasPlayer(fid) {
		return nil, ErrNotParticipant
	}
	if match.Status == constants.MatchStatusCompleted {
		return resultFromMatch(match), nil
	}

	if err := r.flushAnswers(ctx, matchID, fid); err != nil {
		return nil, err
	}

	score, err := r.answers.SumPoints(ctx, matchID, fid)
	if err != nil {
		return nil, err
	}
	if err := r.matches.StampCompletion(ctx, matchID, fid, score); err != nil {
		return nil, err
	}

	// Re-read after stamping so a completion that landed concurrently on
	// the other side is visible before we decide whether to finalize.
	match, err = r.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status == constants.MatchStatusCompleted {
		return resultFromMatch(match), nil
	}

	sess, err := r.sessions.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if phase(match, sess) != PhaseReadyToFinalize {
		return r.waitingResult(match, sess, fid, score), nil
	}
	return r.finalize(ctx, match)
}

// flushAnswers moves any ephemeral answers to the durable table. The
// insert ignores rows already present, so flushing after a live batch
// flush or a retry writes nothing twice.
func (r *Reconciler) flushAnswers(ctx context.Context, matchID string, fid int64) error {
	ephemeral, err := r.sessions.Answers(ctx, matchID, fid)
	if err != nil {
		return err
	}
	if len(ephemeral) == 0 {
		return nil
	}

	records := make([]models.AnswerRecord, 0, len(ephemeral))
	for _, a := range ephemeral {
		records = append(records, models.AnswerRecord{
			MatchID:    matchID,
			PlayerFID:  fid,
			QuestionID: a.QuestionID,
			Answer:     a.Answer,
			IsCorrect:  a.IsCorrect,
			ResponseMs: a.ResponseMs,
			Points:     a.Points,
			AnsweredAt: time.UnixMilli(a.AnsweredAt),
		})
	}
	return r.answers.InsertAnswers(ctx, records)
}

func (r *Reconciler) finalize(ctx context.Context, match *models.Match) (*Result, error) {
	// Both sides' ephemeral answers must be durable before the sums below;
	// the live path may reach here having flushed only the caller's side.
	if err := r.flushAnswers(ctx, match.ID, match.Player1FID); err != nil {
		return nil, err
	}
	if err := r.flushAnswers(ctx, match.ID, match.Player2FID.Int64); err != nil {
		return nil, err
	}

	p1Score, err := r.answers.SumPoints(ctx, match.ID, match.Player1FID)
	if err != nil {
		return nil, err
	}
	p2Score, err := r.answers.SumPoints(ctx, match.ID, match.Player2FID.Int64)
	if err != nil {
		return nil, err
	}

	p1Answered, err := r.answers.CountByPlayer(ctx, match.ID, match.Player1FID)
	if err != nil {
		return nil, err
	}
	p2Answered, err := r.answers.CountByPlayer(ctx, match.ID, match.Player2FID.Int64)
	if err != nil {
		return nil, err
	}

	forfeitedBy := determineForfeit(match, p1Answered, p2Answered)
	winnerFID := determineWinner(match, p1Score, p2Score, forfeitedBy)

	didFinalize, err := r.matches.Finalize(ctx, match.ID, p1Score, p2Score,
		nullableFID(winnerFID), nullableFID(forfeitedBy))
	if err != nil {
		return nil, err
	}
	if !didFinalize {
		// A concurrent caller beat us to the terminal write. Their
		// result is the one that counts.
		match, err = r.matches.GetMatch(ctx, match.ID)
		if err != nil {
			return nil, err
		}
		return resultFromMatch(match), nil
	}

	result := &Result{
		MatchID:       match.ID,
		Status:        constants.MatchStatusCompleted,
		BothCompleted: true,
		Player1FID:    match.Player1FID,
		Player2FID:    match.Player2FID.Int64,
		Player1Score:  p1Score,
		Player2Score:  p2Score,
		WinnerFID:     winnerFID,
		IsDraw:        winnerFID == 0,
		ForfeitedBy:   forfeitedBy,
	}

	r.applyStats(ctx, match, result)
	r.publishCompleted(ctx, result)

	if err := r.sessions.Release(ctx, match.ID); err != nil {
		log.Printf("Failed to release session for match %s: %v", match.ID, err)
	}
	return result, nil
}

// applyStats updates both players' aggregates. Guarded by the finalize
// outcome, so each match contributes to stats exactly once.
func (r *Reconciler) applyStats(ctx context.Context, match *models.Match, result *Result) {
	players := []struct {
		fid   int64
		won   bool
		score int
	}{
		{match.Player1FID, result.WinnerFID == match.Player1FID, result.Player1Score},
		{match.Player2FID.Int64, result.WinnerFID == match.Player2FID.Int64, result.Player2Score},
	}

	for _, p := range players {
		answered, correct, totalMs, _, err := r.answers.PlayerTotals(ctx, match.ID, p.fid)
		if err != nil {
			log.Printf("Failed to load answer totals for player %d in match %s: %v", p.fid, match.ID, err)
			continue
		}
		outcome := repository.MatchOutcome{
			FID:             p.fid,
			Topic:           match.Topic,
			Won:             p.won,
			Draw:            result.IsDraw,
			Answered:        answered,
			Correct:         correct,
			TotalResponseMs: totalMs,
		}
		if err := r.stats.ApplyMatchOutcome(ctx, outcome); err != nil {
			log.Printf("Failed to update stats for player %d in match %s: %v", p.fid, match.ID, err)
		}
	}
}

func (r *Reconciler) publishCompleted(ctx context.Context, result *Result) {
	if r.publisher == nil {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		log.Printf("Failed to marshal completion event for match %s: %v", result.MatchID, err)
		return
	}
	if err := r.publisher.Publish(ctx, constants.QueueMatchCompleted, body); err != nil {
		log.Printf("Failed to publish completion event for match %s: %v", result.MatchID, err)
	}
}

// waitingResult reports the caller's own score while the opponent is still
// playing. The opponent's best-known score comes from the durable stamp if
// present, otherwise the live session.
func (r *Reconciler) waitingResult(match *models.Match, sess *models.GameState, fid int64, score int) *Result {
	result := &Result{
		MatchID:      match.ID,
		Status:       match.Status,
		Player1FID:   match.Player1FID,
		Player1Score: match.Player1Score,
		Player2Score: match.Player2Score,
	}
	if match.Player2FID.Valid {
		result.Player2FID = match.Player2FID.Int64
	}

	if fid == match.Player1FID {
		result.Player1Score = score
	} else {
		result.Player2Score = score
	}

	if sess != nil {
		opponent := match.OpponentFID(fid)
		if opponent != 0 && !stampedFor(match, opponent) {
			if opponent == match.Player1FID {
				result.Player1Score = sess.ScoreOf(opponent)
			} else {
				result.Player2Score = sess.ScoreOf(opponent)
			}
		}
	}
	return result
}

func stampedFor(match *models.Match, fid int64) bool {
	if fid == match.Player1FID {
		return match.Player1CompletedAt.Valid
	}
	return match.Player2CompletedAt.Valid
}

func resultFromMatch(match *models.Match) *Result {
	result := &Result{
		MatchID:       match.ID,
		Status:        match.Status,
		BothCompleted: match.Status == constants.MatchStatusCompleted,
		Player1FID:    match.Player1FID,
		Player1Score:  match.Player1Score,
		Player2Score:  match.Player2Score,
	}
	if match.Player2FID.Valid {
		result.Player2FID = match.Player2FID.Int64
	}
	if match.WinnerFID.Valid {
		result.WinnerFID = match.WinnerFID.Int64
	}
	if match.ForfeitedBy.Valid {
		result.ForfeitedBy = match.ForfeitedBy.Int64
	}
	result.IsDraw = result.BothCompleted && !match.WinnerFID.Valid
	return result
}

func nullableFID(fid int64) sql.NullInt64 {
	if fid == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: fid, Valid: true}
}
