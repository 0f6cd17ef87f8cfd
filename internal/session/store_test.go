package session

import (
	"context"
	"testing"

	"match-service/internal/constants"
	"match-service/internal/models"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb)
}

func activeState(matchID string) *models.GameState {
	return &models.GameState{
		MatchID:     matchID,
		Player1FID:  101,
		Player2FID:  202,
		QuestionIDs: []string{"q1", "q2", "q3"},
		StartedAt:   1717243200000,
		Status:      constants.SessionStatusActive,
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, activeState("m1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing session")
	}
	if got.Player1FID != 101 || got.Player2FID != 202 {
		t.Errorf("fids = %d/%d, want 101/202", got.Player1FID, got.Player2FID)
	}
	if len(got.QuestionIDs) != 3 || got.QuestionIDs[0] != "q1" {
		t.Errorf("question ids = %v", got.QuestionIDs)
	}
	if got.Status != constants.SessionStatusActive {
		t.Errorf("status = %q", got.Status)
	}

	missing, err := s.Get(ctx, "nope")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if missing != nil {
		t.Error("Get returned state for missing session")
	}
}

func TestAddScoreAndMarkCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, activeState("m1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	total, err := s.AddScore(ctx, "m1", 101, 750)
	if err != nil {
		t.Fatalf("AddScore: %v", err)
	}
	if total != 750 {
		t.Errorf("total = %d, want 750", total)
	}
	total, err = s.AddScore(ctx, "m1", 101, 500)
	if err != nil {
		t.Fatalf("AddScore: %v", err)
	}
	if total != 1250 {
		t.Errorf("total = %d, want 1250", total)
	}

	if _, err := s.AddScore(ctx, "m1", 999, 10); err == nil {
		t.Error("AddScore accepted a fid outside the match")
	}

	if err := s.MarkCompleted(ctx, "m1", 202); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ := s.Get(ctx, "m1")
	if got.Player1Completed || !got.Player2Completed {
		t.Errorf("completion flags = %v/%v, want false/true", got.Player1Completed, got.Player2Completed)
	}
	if got.Player1Score != 1250 {
		t.Errorf("player1 score = %d, want 1250", got.Player1Score)
	}
}

func TestRecreatePreservesScoresAndFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, activeState("m1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.AddScore(ctx, "m1", 101, 4200); err != nil {
		t.Fatalf("AddScore: %v", err)
	}
	if err := s.MarkCompleted(ctx, "m1", 101); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	// second player arrives later and the session is recreated
	if err := s.Create(ctx, activeState("m1")); err != nil {
		t.Fatalf("recreate: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Player1Score != 4200 {
		t.Errorf("recreation reset player1 score to %d", got.Player1Score)
	}
	if !got.Player1Completed {
		t.Error("recreation dropped player1 completion flag")
	}
	if got.Player2Completed {
		t.Error("recreation invented player2 completion flag")
	}
}

func TestAnswerListAppendAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, activeState("m1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i, qid := range []string{"q1", "q2"} {
		err := s.AppendAnswer(ctx, "m1", 101, models.EphemeralAnswer{
			QuestionID: qid,
			Answer:     "42",
			IsCorrect:  true,
			ResponseMs: int64(1000 * (i + 1)),
			Points:     900 - 100*i,
		})
		if err != nil {
			t.Fatalf("AppendAnswer: %v", err)
		}
	}

	answers, err := s.Answers(ctx, "m1", 101)
	if err != nil {
		t.Fatalf("Answers: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("len(answers) = %d, want 2", len(answers))
	}
	if answers[0].QuestionID != "q1" || answers[1].QuestionID != "q2" {
		t.Errorf("answer order = %s,%s", answers[0].QuestionID, answers[1].QuestionID)
	}

	empty, err := s.Answers(ctx, "m1", 202)
	if err != nil {
		t.Fatalf("Answers empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no answers for opponent, got %d", len(empty))
	}
}

func TestMarkQuestionStartIsFirstWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkQuestionStart(ctx, "m1", 0)
	if err != nil {
		t.Fatalf("MarkQuestionStart: %v", err)
	}
	second, err := s.MarkQuestionStart(ctx, "m1", 0)
	if err != nil {
		t.Fatalf("MarkQuestionStart again: %v", err)
	}
	if first != second {
		t.Errorf("start instants differ: %d vs %d", first, second)
	}
}

func TestReleaseRemovesStateAndAnswerLists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, activeState("m1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.AppendAnswer(ctx, "m1", 101, models.EphemeralAnswer{QuestionID: "q1"}); err != nil {
		t.Fatalf("AppendAnswer: %v", err)
	}

	if err := s.Release(ctx, "m1"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get after release: %v", err)
	}
	if got != nil {
		t.Error("session state still present after release")
	}
	answers, err := s.Answers(ctx, "m1", 101)
	if err != nil {
		t.Fatalf("Answers after release: %v", err)
	}
	if len(answers) != 0 {
		t.Errorf("answer list still has %d entries after release", len(answers))
	}
}
