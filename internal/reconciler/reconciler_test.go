package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"match-service/internal/constants"
	"match-service/internal/models"
	"match-service/internal/repository"
	"match-service/internal/session"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeMatchStore struct {
	mu    sync.Mutex
	match *models.Match
}

func (f *fakeMatchStore) GetMatch(_ context.Context, matchID string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.match == nil || f.match.ID != matchID {
		return nil, repository.ErrMatchNotFound
	}
	m := *f.match
	m.QuestionIDs = append([]string(nil), f.match.QuestionIDs...)
	return &m, nil
}

func (f *fakeMatchStore) StampCompletion(_ context.Context, matchID string, fid int64, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.match.Status == constants.MatchStatusCompleted {
		return nil
	}
	now := sql.NullTime{Time: time.Now(), Valid: true}
	if fid == f.match.Player1FID {
		f.match.Player1Score = score
		if !f.match.Player1CompletedAt.Valid {
			f.match.Player1CompletedAt = now
		}
	} else if f.match.Player2FID.Valid && fid == f.match.Player2FID.Int64 {
		f.match.Player2Score = score
		if !f.match.Player2CompletedAt.Valid {
			f.match.Player2CompletedAt = now
		}
	}
	return nil
}

func (f *fakeMatchStore) Finalize(_ context.Context, matchID string, p1Score, p2Score int, winnerFID, forfeitedBy sql.NullInt64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.match.Status == constants.MatchStatusCompleted {
		return false, nil
	}
	f.match.Status = constants.MatchStatusCompleted
	f.match.Player1Score = p1Score
	f.match.Player2Score = p2Score
	f.match.WinnerFID = winnerFID
	if !f.match.ForfeitedBy.Valid {
		f.match.ForfeitedBy = forfeitedBy
	}
	f.match.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return true, nil
}

type fakeAnswerStore struct {
	mu   sync.Mutex
	rows map[string]models.AnswerRecord
}

func newFakeAnswerStore() *fakeAnswerStore {
	return &fakeAnswerStore{rows: make(map[string]models.AnswerRecord)}
}

func answerKey(rec models.AnswerRecord) string {
	return rec.MatchID + "/" + rec.QuestionID + "/" + strconv.FormatInt(rec.PlayerFID, 10)
}

func (f *fakeAnswerStore) InsertAnswers(_ context.Context, records []models.AnswerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		key := answerKey(rec)
		if _, exists := f.rows[key]; exists {
			continue
		}
		f.rows[key] = rec
	}
	return nil
}

func (f *fakeAnswerStore) SumPoints(_ context.Context, matchID string, fid int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := 0
	for _, rec := range f.rows {
		if rec.MatchID == matchID && rec.PlayerFID == fid {
			sum += rec.Points
		}
	}
	return sum, nil
}

func (f *fakeAnswerStore) CountByPlayer(_ context.Context, matchID string, fid int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, rec := range f.rows {
		if rec.MatchID == matchID && rec.PlayerFID == fid {
			count++
		}
	}
	return count, nil
}

func (f *fakeAnswerStore) PlayerTotals(_ context.Context, matchID string, fid int64) (answered, correct int, totalResponseMs int64, points int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.rows {
		if rec.MatchID != matchID || rec.PlayerFID != fid {
			continue
		}
		answered++
		if rec.IsCorrect {
			correct++
		}
		totalResponseMs += rec.ResponseMs
		points += rec.Points
	}
	return answered, correct, totalResponseMs, points, nil
}

type fakeStatsStore struct {
	mu       sync.Mutex
	outcomes []repository.MatchOutcome
}

func (f *fakeStatsStore) ApplyMatchOutcome(_ context.Context, outcome repository.MatchOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, _ string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return nil
}

type testEnv struct {
	matches   *fakeMatchStore
	answers   *fakeAnswerStore
	sessions  *session.Store
	stats     *fakeStatsStore
	publisher *fakePublisher
	rec       *Reconciler
}

func newTestEnv(t *testing.T, match *models.Match) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	env := &testEnv{
		matches:   &fakeMatchStore{match: match},
		answers:   newFakeAnswerStore(),
		sessions:  session.NewStore(rdb),
		stats:     &fakeStatsStore{},
		publisher: &fakePublisher{},
	}
	env.rec = New(env.matches, env.answers, env.sessions, env.stats, env.publisher)
	return env
}

func liveMatch() *models.Match {
	return &models.Match{
		ID:          "m1",
		MatchType:   constants.MatchTypeLive,
		Topic:       "geography",
		Player1FID:  101,
		Player2FID:  sql.NullInt64{Int64: 202, Valid: true},
		QuestionIDs: []string{"q1", "q2", "q3"},
		Status:      constants.MatchStatusActive,
	}
}

func seedSession(t *testing.T, env *testEnv, answers map[int64][]models.EphemeralAnswer) {
	t.Helper()
	ctx := context.Background()
	err := env.sessions.Create(ctx, &models.GameState{
		MatchID:     "m1",
		Player1FID:  101,
		Player2FID:  202,
		QuestionIDs: []string{"q1", "q2", "q3"},
		Status:      constants.SessionStatusActive,
	})
	if err != nil {
		t.Fatalf("session create: %v", err)
	}
	for fid, list := range answers {
		for _, a := range list {
			if err := env.sessions.AppendAnswer(ctx, "m1", fid, a); err != nil {
				t.Fatalf("append answer: %v", err)
			}
		}
	}
}

func ephemeral(qid string, correct bool, points int) models.EphemeralAnswer {
	return models.EphemeralAnswer{
		QuestionID: qid,
		Answer:     "a",
		IsCorrect:  correct,
		ResponseMs: 2500,
		Points:     points,
		AnsweredAt: time.Now().UnixMilli(),
	}
}

func TestCompletionFinalizesWhenBothDone(t *testing.T) {
	env := newTestEnv(t, liveMatch())
	seedSession(t, env, map[int64][]models.EphemeralAnswer{
		101: {ephemeral("q1", true, 900), ephemeral("q2", true, 800), ephemeral("q3", true, 700)},
		202: {ephemeral("q1", true, 500), ephemeral("q2", false, 0), ephemeral("q3", true, 700)},
	})
	ctx := context.Background()

	first, err := env.rec.CompleteForPlayer(ctx, "m1", 101)
	if err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if first.BothCompleted {
		t.Error("match finalized with only one player done")
	}
	if first.Player1Score != 2400 {
		t.Errorf("player1 score = %d, want 2400", first.Player1Score)
	}

	second, err := env.rec.CompleteForPlayer(ctx, "m1", 202)
	if err != nil {
		t.Fatalf("second completion: %v", err)
	}
	if !second.BothCompleted {
		t.Fatal("match not finalized after both players completed")
	}
	if second.WinnerFID != 101 {
		t.Errorf("winner = %d, want 101", second.WinnerFID)
	}
	if second.Player1Score != 2400 || second.Player2Score != 1200 {
		t.Errorf("scores = %d/%d, want 2400/1200", second.Player1Score, second.Player2Score)
	}
	if second.IsDraw || second.ForfeitedBy != 0 {
		t.Errorf("unexpected draw/forfeit: %+v", second)
	}

	if n := len(env.stats.outcomes); n != 2 {
		t.Errorf("stats outcomes = %d, want 2", n)
	}
	if n := len(env.publisher.bodies); n != 1 {
		t.Errorf("published events = %d, want 1", n)
	}

	// session is released once the match is final
	state, err := env.sessions.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("session get: %v", err)
	}
	if state != nil {
		t.Error("session still present after finalize")
	}
}

func TestRepeatedCompletionIsIdempotent(t *testing.T) {
	env := newTestEnv(t, liveMatch())
	seedSession(t, env, map[int64][]models.EphemeralAnswer{
		101: {ephemeral("q1", true, 900), ephemeral("q2", true, 800), ephemeral("q3", true, 700)},
		202: {ephemeral("q1", true, 500), ephemeral("q2", true, 400), ephemeral("q3", true, 300)},
	})
	ctx := context.Background()

	if _, err := env.rec.CompleteForPlayer(ctx, "m1", 101); err != nil {
		t.Fatalf("completion: %v", err)
	}
	final, err := env.rec.CompleteForPlayer(ctx, "m1", 202)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}

	again, err := env.rec.CompleteForPlayer(ctx, "m1", 202)
	if err != nil {
		t.Fatalf("repeat completion: %v", err)
	}
	if again.WinnerFID != final.WinnerFID || again.Player1Score != final.Player1Score || again.Player2Score != final.Player2Score {
		t.Errorf("repeat returned different result: %+v vs %+v", again, final)
	}

	if n := len(env.stats.outcomes); n != 2 {
		t.Errorf("stats applied %d times, want 2", n)
	}
	if n := len(env.publisher.bodies); n != 1 {
		t.Errorf("completion published %d times, want 1", n)
	}
}

func TestForfeitDetectedFromAnswerCounts(t *testing.T) {
	env := newTestEnv(t, liveMatch())
	// player2 left after two questions but had the higher running score
	seedSession(t, env, map[int64][]models.EphemeralAnswer{
		101: {ephemeral("q1", true, 500), ephemeral("q2", true, 500), ephemeral("q3", true, 500)},
		202: {ephemeral("q1", true, 1000), ephemeral("q2", true, 1000)},
	})
	ctx := context.Background()

	if _, err := env.rec.CompleteForPlayer(ctx, "m1", 202); err != nil {
		t.Fatalf("completion: %v", err)
	}
	final, err := env.rec.CompleteForPlayer(ctx, "m1", 101)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}

	if final.ForfeitedBy != 202 {
		t.Errorf("forfeited by = %d, want 202", final.ForfeitedBy)
	}
	if final.WinnerFID != 101 {
		t.Errorf("winner = %d, want 101 despite lower score", final.WinnerFID)
	}
}

func TestAsyncCompletionSurvivesSessionExpiry(t *testing.T) {
	match := liveMatch()
	match.MatchType = constants.MatchTypeChallenge
	env := newTestEnv(t, match)
	ctx := context.Background()

	// both players' answers were flushed durably while they played; the
	// session has long since expired and nothing lives in redis
	durable := []models.AnswerRecord{
		{MatchID: "m1", PlayerFID: 101, QuestionID: "q1", IsCorrect: true, ResponseMs: 2000, Points: 800, AnsweredAt: time.Now()},
		{MatchID: "m1", PlayerFID: 101, QuestionID: "q2", IsCorrect: true, ResponseMs: 2000, Points: 800, AnsweredAt: time.Now()},
		{MatchID: "m1", PlayerFID: 101, QuestionID: "q3", IsCorrect: false, ResponseMs: 2000, Points: 0, AnsweredAt: time.Now()},
		{MatchID: "m1", PlayerFID: 202, QuestionID: "q1", IsCorrect: true, ResponseMs: 1500, Points: 900, AnsweredAt: time.Now()},
		{MatchID: "m1", PlayerFID: 202, QuestionID: "q2", IsCorrect: true, ResponseMs: 1500, Points: 900, AnsweredAt: time.Now()},
		{MatchID: "m1", PlayerFID: 202, QuestionID: "q3", IsCorrect: true, ResponseMs: 1500, Points: 900, AnsweredAt: time.Now()},
	}
	if err := env.answers.InsertAnswers(ctx, durable); err != nil {
		t.Fatalf("seed answers: %v", err)
	}

	waiting, err := env.rec.CompleteForPlayer(ctx, "m1", 101)
	if err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if waiting.BothCompleted {
		t.Error("finalized before opponent completed")
	}

	final, err := env.rec.CompleteForPlayer(ctx, "m1", 202)
	if err != nil {
		t.Fatalf("second completion: %v", err)
	}
	if !final.BothCompleted {
		t.Fatal("async match not finalized from durable stamps alone")
	}
	if final.WinnerFID != 202 {
		t.Errorf("winner = %d, want 202", final.WinnerFID)
	}
	if final.Player1Score != 1600 || final.Player2Score != 2700 {
		t.Errorf("scores = %d/%d, want 1600/2700", final.Player1Score, final.Player2Score)
	}
}

func TestWaitingResultReportsLiveOpponentScore(t *testing.T) {
	env := newTestEnv(t, liveMatch())
	seedSession(t, env, map[int64][]models.EphemeralAnswer{
		101: {ephemeral("q1", true, 900), ephemeral("q2", true, 800), ephemeral("q3", true, 700)},
	})
	ctx := context.Background()

	// opponent is mid-game with a running session score and no durable stamp
	if _, err := env.sessions.AddScore(ctx, "m1", 202, 1100); err != nil {
		t.Fatalf("add score: %v", err)
	}

	waiting, err := env.rec.CompleteForPlayer(ctx, "m1", 101)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if waiting.BothCompleted {
		t.Fatal("finalized while opponent still playing")
	}
	if waiting.Player1Score != 2400 {
		t.Errorf("own score = %d, want 2400", waiting.Player1Score)
	}
	if waiting.Player2Score != 1100 {
		t.Errorf("opponent score = %d, want the live session's 1100", waiting.Player2Score)
	}
}

func TestNonParticipantRejected(t *testing.T) {
	env := newTestEnv(t, liveMatch())
	_, err := env.rec.CompleteForPlayer(context.Background(), "m1", 999)
	if !errors.Is(err, ErrNotParticipant) {
		t.Errorf("err = %v, want ErrNotParticipant", err)
	}
}

func TestDetermineWinner(t *testing.T) {
	match := liveMatch()

	if got := determineWinner(match, 100, 100, 0); got != 0 {
		t.Errorf("equal scores: winner = %d, want draw", got)
	}
	if got := determineWinner(match, 50, 100, 0); got != 202 {
		t.Errorf("winner = %d, want 202", got)
	}
	// forfeit overrides a score lead
	if got := determineWinner(match, 50, 100, 202); got != 101 {
		t.Errorf("winner with forfeit = %d, want 101", got)
	}
}

func TestDetermineForfeit(t *testing.T) {
	match := liveMatch()

	if got := determineForfeit(match, 3, 3); got != 0 {
		t.Errorf("full sets: forfeit = %d, want none", got)
	}
	if got := determineForfeit(match, 3, 1); got != 202 {
		t.Errorf("forfeit = %d, want 202", got)
	}
	// both short of the full set is a mutual timeout, not a forfeit
	if got := determineForfeit(match, 2, 2); got != 0 {
		t.Errorf("forfeit = %d, want none", got)
	}

	match.ForfeitedBy = sql.NullInt64{Int64: 101, Valid: true}
	if got := determineForfeit(match, 3, 1); got != 101 {
		t.Errorf("recorded forfeit ignored: got %d, want 101", got)
	}
}
