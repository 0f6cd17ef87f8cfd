package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"match-service/config"
	"match-service/internal/constants"
	"match-service/internal/models"
)

type recordingMatchWriter struct {
	created []*models.Match
	fail    bool
}

func (w *recordingMatchWriter) CreateMatch(_ context.Context, match *models.Match) error {
	if w.fail {
		return errors.New("db down")
	}
	if match.ID == "" {
		match.ID = fmt.Sprintf("m%d", len(w.created)+1)
	}
	w.created = append(w.created, match)
	return nil
}

func (w *recordingMatchWriter) GetMatch(_ context.Context, matchID string) (*models.Match, error) {
	for _, m := range w.created {
		if m.ID == matchID {
			return m, nil
		}
	}
	return nil, errors.New("match not found")
}

func (w *recordingMatchWriter) SetStatus(_ context.Context, matchID, from, to string) (bool, error) {
	for _, m := range w.created {
		if m.ID == matchID && m.Status == from {
			m.Status = to
			return true, nil
		}
	}
	return false, nil
}

type fixedQuestionPicker struct{}

func (fixedQuestionPicker) RandomActiveByTopic(_ context.Context, topic string, n int) ([]*models.Question, error) {
	questions := make([]*models.Question, n)
	for i := range questions {
		questions[i] = &models.Question{ID: fmt.Sprintf("%s-q%d", topic, i), Topic: topic}
	}
	return questions, nil
}

type recordingSessionCreator struct {
	states []*models.GameState
}

func (c *recordingSessionCreator) Create(_ context.Context, state *models.GameState) error {
	c.states = append(c.states, state)
	return nil
}

type recordingPublisher struct {
	queues []string
	bodies [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, queueName string, body []byte) error {
	p.queues = append(p.queues, queueName)
	p.bodies = append(p.bodies, body)
	return nil
}

func newTestService(writer *recordingMatchWriter) (*Service, *Queue, *recordingSessionCreator, *recordingPublisher) {
	queue := NewQueue(&config.MatchmakingConfig{
		EntryTimeout:  time.Minute,
		BaseTolerance: 100,
		RelaxInterval: 10 * time.Second,
		RelaxStep:     50,
	})
	sessions := &recordingSessionCreator{}
	publisher := &recordingPublisher{}
	return NewService(queue, writer, fixedQuestionPicker{}, sessions, publisher), queue, sessions, publisher
}

func TestProcessPairsWaitingPlayers(t *testing.T) {
	writer := &recordingMatchWriter{}
	svc, queue, sessions, publisher := newTestService(writer)

	queue.Join("geography", 101, "alice", 1200)
	queue.Join("geography", 202, "bob", 1250)

	created := svc.Process(context.Background())
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	if len(writer.created) != 1 {
		t.Fatalf("matches written = %d, want 1", len(writer.created))
	}
	match := writer.created[0]
	if match.MatchType != constants.MatchTypeLive || match.Status != constants.MatchStatusActive {
		t.Errorf("match type/status = %s/%s", match.MatchType, match.Status)
	}
	if match.Player1FID != 101 || match.Player2FID.Int64 != 202 {
		t.Errorf("players = %d/%d", match.Player1FID, match.Player2FID.Int64)
	}
	if len(match.QuestionIDs) != constants.QuestionsPerMatch {
		t.Errorf("question count = %d, want %d", len(match.QuestionIDs), constants.QuestionsPerMatch)
	}

	if len(sessions.states) != 1 {
		t.Fatalf("sessions created = %d, want 1", len(sessions.states))
	}
	if sessions.states[0].MatchID != match.ID {
		t.Errorf("session match id = %s, want %s", sessions.states[0].MatchID, match.ID)
	}

	// one event per paired player
	if len(publisher.bodies) != 2 {
		t.Errorf("events published = %d, want 2", len(publisher.bodies))
	}
	for _, q := range publisher.queues {
		if q != constants.QueueMatchFound {
			t.Errorf("published to %q, want %q", q, constants.QueueMatchFound)
		}
	}

	if queue.Size("geography") != 0 {
		t.Errorf("queue still has %d entries", queue.Size("geography"))
	}
}

func TestProcessRequeuesPairOnCreateFailure(t *testing.T) {
	writer := &recordingMatchWriter{fail: true}
	svc, queue, _, publisher := newTestService(writer)

	queue.Join("history", 101, "alice", 1200)
	queue.Join("history", 202, "bob", 1200)

	created := svc.Process(context.Background())
	if created != 0 {
		t.Fatalf("created = %d, want 0", created)
	}
	if queue.Size("history") != 2 {
		t.Errorf("queue size = %d, want both players requeued", queue.Size("history"))
	}
	if len(publisher.bodies) != 0 {
		t.Errorf("published %d events on failure", len(publisher.bodies))
	}
}

func TestCreateChallengeLeavesSeatOpen(t *testing.T) {
	writer := &recordingMatchWriter{}
	svc, _, sessions, _ := newTestService(writer)

	match, err := svc.CreateChallenge(context.Background(), constants.MatchTypeChallenge, "science", 101)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if match.MatchType != constants.MatchTypeChallenge || match.Status != constants.MatchStatusWaiting {
		t.Errorf("type/status = %s/%s", match.MatchType, match.Status)
	}
	if match.Player2FID.Valid {
		t.Error("challenge created with second seat filled")
	}
	if len(sessions.states) != 0 {
		t.Error("challenge creation should not start a session")
	}
}

func TestDeclineClosesWaitingChallenge(t *testing.T) {
	writer := &recordingMatchWriter{}
	svc, _, _, _ := newTestService(writer)
	ctx := context.Background()

	match, err := svc.CreateChallenge(ctx, constants.MatchTypeChallenge, "science", 101)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}

	if err := svc.DeclineChallenge(ctx, match.ID, 101); err != nil {
		t.Fatalf("DeclineChallenge: %v", err)
	}
	if match.Status != constants.MatchStatusDeclined {
		t.Errorf("status = %s, want %s", match.Status, constants.MatchStatusDeclined)
	}

	// a second decline finds nothing to close
	if err := svc.DeclineChallenge(ctx, match.ID, 202); !errors.Is(err, ErrNotDeclinable) {
		t.Errorf("repeat decline err = %v, want ErrNotDeclinable", err)
	}
}

func TestDeclineRejectsClaimedOrLiveMatches(t *testing.T) {
	writer := &recordingMatchWriter{}
	svc, _, _, _ := newTestService(writer)
	ctx := context.Background()

	live, err := svc.CreatePair(ctx, "history",
		&Entry{PlayerFID: 101, JoinedAt: time.Now()},
		&Entry{PlayerFID: 202, JoinedAt: time.Now()},
	)
	if err != nil {
		t.Fatalf("CreatePair: %v", err)
	}
	if err := svc.DeclineChallenge(ctx, live.ID, 101); !errors.Is(err, ErrNotDeclinable) {
		t.Errorf("decline of live match err = %v, want ErrNotDeclinable", err)
	}

	challenge, err := svc.CreateChallenge(ctx, constants.MatchTypeChallenge, "history", 101)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	challenge.Status = constants.MatchStatusActive
	if err := svc.DeclineChallenge(ctx, challenge.ID, 202); !errors.Is(err, ErrNotDeclinable) {
		t.Errorf("decline of claimed challenge err = %v, want ErrNotDeclinable", err)
	}
}
