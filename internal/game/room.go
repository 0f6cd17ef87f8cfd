package game

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"match-service/internal/constants"
	"match-service/internal/models"
	"match-service/internal/reconciler"
	"match-service/internal/scoring"
)

type roomState string

const (
	roomForming           roomState = "forming"
	roomReady             roomState = "ready"
	roomQuestionActive    roomState = "question_active"
	roomQuestionResolving roomState = "question_resolving"
	roomComplete          roomState = "complete"
)

type Completer interface {
	CompleteForPlayer(ctx context.Context, matchID string, fid int64) (*reconciler.Result, error)
}

type ForfeitRecorder interface {
	SetForfeit(ctx context.Context, matchID string, fid int64) error
}

// SessionOps is the slice of the session store a room drives during play.
type SessionOps interface {
	AddScore(ctx context.Context, matchID string, fid int64, points int) (int64, error)
	AppendAnswer(ctx context.Context, matchID string, fid int64, answer models.EphemeralAnswer) error
	MarkCompleted(ctx context.Context, matchID string, fid int64) error
	SetCurrentIndex(ctx context.Context, matchID string, index int) error
	SetStatus(ctx context.Context, matchID, status string) error
	MarkQuestionStart(ctx context.Context, matchID string, index int) (int64, error)
}

// Room is the authoritative state machine for one live match. It owns the
// question cycle, the server clock and all broadcasts; clients only submit
// intents. Correct answers never leave the room.
type Room struct {
	MatchID string

	match     *models.Match
	questions []*models.Question
	players   map[int64]PlayerInfo

	sessions  SessionOps
	completer Completer
	forfeits  ForfeitRecorder
	onRemove  func(matchID string)

	mu            sync.Mutex
	clients       map[int64]*Client
	ready         map[int64]bool
	state         roomState
	current       int
	questionStart int64
	questionEnded bool
	answered      map[int64]bool
	scores        map[int64]int
	timers        []*time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

func NewRoom(match *models.Match, questions []*models.Question, players map[int64]PlayerInfo,
	sessions SessionOps, completer Completer, forfeits ForfeitRecorder, onRemove func(string)) *Room {
	return &Room{
		MatchID:   match.ID,
		match:     match,
		questions: questions,
		players:   players,
		sessions:  sessions,
		completer: completer,
		forfeits:  forfeits,
		onRemove:  onRemove,
		clients:   make(map[int64]*Client),
		ready:     make(map[int64]bool),
		state:     roomForming,
		answered:  make(map[int64]bool),
		scores:    make(map[int64]int),
		done:      make(chan struct{}),
	}
}

// seedFromSession restores scores and progress from a surviving session,
// so a rebuilt room resumes instead of resetting a match in flight.
func (r *Room) seedFromSession(state *models.GameState) {
	if state == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if state.Player1FID != 0 {
		r.scores[state.Player1FID] = state.Player1Score
	}
	if state.Player2FID != 0 {
		r.scores[state.Player2FID] = state.Player2Score
	}
	r.current = state.CurrentIndex
}

// Close stops every pending timer and countdown. Safe to call repeatedly.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.mu.Lock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
	r.mu.Unlock()
}

// after schedules fn on the room, tracked so Close can cancel it. fn checks
// its own preconditions under the room lock since it may fire after a stop
// race.
func (r *Room) after(d time.Duration, fn func()) {
	timer := time.AfterFunc(d, func() {
		select {
		case <-r.done:
		default:
			fn()
		}
	})
	r.mu.Lock()
	r.timers = append(r.timers, timer)
	r.mu.Unlock()
}

func (r *Room) AttachClient(client *Client) {
	r.mu.Lock()
	wasEmpty := len(r.clients) == 0
	r.clients[client.FID] = client
	others := make([]*Client, 0, len(r.clients))
	for fid, c := range r.clients {
		if fid != client.FID {
			others = append(others, c)
		}
	}
	r.mu.Unlock()

	if wasEmpty {
		// a reconnect into a session flagged abandoned revives it
		if err := r.sessions.SetStatus(context.Background(), r.MatchID, constants.SessionStatusActive); err != nil {
			log.Printf("Failed to reactivate session for match %s: %v", r.MatchID, err)
		}
	}

	client.SendMessage(MessageTypeJoinConfirmed, JoinConfirmedPayload{MatchID: r.MatchID})
	for _, other := range others {
		other.SendMessage(MessageTypeOpponentJoined, OpponentPayload{
			PlayerFID: client.FID,
			Username:  client.Username,
		})
	}
}

// DetachClient removes a dropped connection. The match itself keeps running
// server-side; the opponent is only flagged offline.
func (r *Room) DetachClient(client *Client) {
	r.mu.Lock()
	if current, ok := r.clients[client.FID]; !ok || current != client {
		r.mu.Unlock()
		return
	}
	delete(r.clients, client.FID)
	empty := len(r.clients) == 0
	r.mu.Unlock()

	r.broadcast(MessageTypeOpponentLeft, OpponentPayload{PlayerFID: client.FID, Username: client.Username})

	if empty {
		r.mu.Lock()
		finished := r.state == roomComplete
		r.mu.Unlock()
		if finished {
			if r.onRemove != nil {
				r.onRemove(r.MatchID)
			}
			return
		}
		// everyone gone mid-game: flag the session so operators can tell
		// an abandoned match from one still being played
		if err := r.sessions.SetStatus(context.Background(), r.MatchID, constants.SessionStatusAbandoned); err != nil {
			log.Printf("Failed to flag session abandoned for match %s: %v", r.MatchID, err)
		}
	}
}

// HandleReady records a readiness signal; the cycle starts once every match
// participant has signalled.
func (r *Room) HandleReady(fid int64) {
	r.mu.Lock()
	if r.state != roomForming {
		r.mu.Unlock()
		return
	}
	if _, ok := r.players[fid]; !ok {
		r.mu.Unlock()
		return
	}
	r.ready[fid] = true
	allReady := len(r.ready) == len(r.players)
	if allReady {
		r.state = roomReady
	}
	r.mu.Unlock()

	if !allReady {
		return
	}

	players := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	r.broadcast(MessageTypeGameReady, GameReadyPayload{
		Players:        players,
		TotalQuestions: len(r.questions),
	})
	r.after(constants.NextQuestionDelay, func() { r.startQuestion(0) })
}

// startQuestion broadcasts question index with the scores accumulated over
// strictly prior questions, then arms the countdown after the reveal grace.
func (r *Room) startQuestion(index int) {
	r.mu.Lock()
	if r.state == roomComplete || index >= len(r.questions) {
		r.mu.Unlock()
		return
	}
	r.state = roomQuestionActive
	r.current = index
	r.questionEnded = false
	r.questionStart = 0
	r.answered = make(map[int64]bool)
	question := r.questions[index]
	scores := r.snapshotScoresLocked()
	clients := r.snapshotClientsLocked()
	r.mu.Unlock()

	if err := r.sessions.SetCurrentIndex(context.Background(), r.MatchID, index); err != nil {
		log.Printf("Failed to store question index for match %s: %v", r.MatchID, err)
	}

	limitMs := constants.QuestionTimeLimit.Milliseconds()
	for _, client := range clients {
		client.SendMessage(MessageTypeQuestionStart, QuestionStartPayload{
			QuestionNumber:  index + 1,
			TotalQuestions:  len(r.questions),
			Question:        ShuffledView(question),
			TimeLimitMs:     limitMs,
			Scores:          scores,
			IsFinalQuestion: index == len(r.questions)-1,
		})
	}

	r.after(constants.OptionsRevealDelay+constants.QuestionStartBuffer, func() {
		r.beginCountdown(index)
	})
}

// beginCountdown fixes the authoritative start instant (first writer wins
// across processes) and drives the 1-second ticks.
func (r *Room) beginCountdown(index int) {
	startMs, err := r.sessions.MarkQuestionStart(context.Background(), r.MatchID, index)
	if err != nil {
		log.Printf("Failed to mark question start for match %s: %v", r.MatchID, err)
		startMs = time.Now().UnixMilli()
	}

	r.mu.Lock()
	if r.state != roomQuestionActive || r.current != index || r.questionEnded {
		r.mu.Unlock()
		return
	}
	r.questionStart = startMs
	r.mu.Unlock()

	go r.runCountdown(index)
}

func (r *Room) runCountdown(index int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := int(constants.QuestionTimeLimit / time.Second)
	for remaining > 0 {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			remaining--
			r.mu.Lock()
			stale := r.current != index || r.questionEnded
			r.mu.Unlock()
			if stale {
				return
			}
			r.broadcast(MessageTypeTimerTick, TimerTickPayload{Remaining: remaining})
		}
	}
	r.endQuestion(index)
}

// HandleAnswer accepts at most one submission per player per question.
// Repeats are dropped silently; the elapsed time is measured on the server
// clock and clamped to the limit.
func (r *Room) HandleAnswer(client *Client, payload SubmitAnswerPayload) {
	r.mu.Lock()
	if r.state != roomQuestionActive || r.questionEnded || r.questionStart == 0 {
		r.mu.Unlock()
		return
	}
	question := r.questions[r.current]
	if payload.QuestionID != question.ID {
		r.mu.Unlock()
		return
	}
	if r.answered[client.FID] {
		r.mu.Unlock()
		return
	}
	r.answered[client.FID] = true

	index := r.current
	limitMs := constants.QuestionTimeLimit.Milliseconds()
	elapsed := scoring.ClampResponse(time.Now().UnixMilli()-r.questionStart, limitMs)
	correct := answerMatches(payload.Answer, question.CorrectAnswer)
	points := 0
	if correct {
		points = scoring.Points(elapsed, limitMs, multiplierFor(index, len(r.questions)))
	}
	r.scores[client.FID] += points

	allAnswered := true
	for fid := range r.clients {
		if !r.answered[fid] {
			allAnswered = false
			break
		}
	}
	scores := r.snapshotScoresLocked()
	r.mu.Unlock()

	ctx := context.Background()
	if _, err := r.sessions.AddScore(ctx, r.MatchID, client.FID, points); err != nil {
		log.Printf("Failed to record score for player %d in match %s: %v", client.FID, r.MatchID, err)
	}
	err := r.sessions.AppendAnswer(ctx, r.MatchID, client.FID, models.EphemeralAnswer{
		QuestionID: question.ID,
		Answer:     payload.Answer,
		IsCorrect:  correct,
		ResponseMs: elapsed,
		Points:     points,
		AnsweredAt: time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("Failed to record answer for player %d in match %s: %v", client.FID, r.MatchID, err)
	}

	r.broadcast(MessageTypePlayerAnswered, PlayerAnsweredPayload{
		PlayerFID: client.FID,
		IsCorrect: correct,
		Points:    points,
		Scores:    scores,
	})

	if allAnswered {
		r.endQuestion(index)
	}
}

// endQuestion runs once per question no matter how many triggers race: the
// all-answered path and the countdown both land here.
func (r *Room) endQuestion(index int) {
	r.mu.Lock()
	if r.state != roomQuestionActive || r.current != index || r.questionEnded {
		r.mu.Unlock()
		return
	}
	r.questionEnded = true
	r.state = roomQuestionResolving
	correctAnswer := r.questions[index].CorrectAnswer
	scores := r.snapshotScoresLocked()
	r.mu.Unlock()

	r.broadcast(MessageTypeQuestionEnd, QuestionEndPayload{
		CorrectAnswer: correctAnswer,
		Scores:        scores,
	})

	r.after(constants.QuestionResolveDelay, func() { r.advance(index) })
}

func (r *Room) advance(index int) {
	next := index + 1
	if next >= len(r.questions) {
		r.complete()
		return
	}

	r.broadcast(MessageTypeNextQuestion, NextQuestionPayload{
		DelayMs: constants.NextQuestionDelay.Milliseconds(),
	})
	r.after(constants.NextQuestionDelay, func() { r.startQuestion(next) })
}

// complete finalizes through the reconciler. Marking each player completed
// immediately before their own completion call keeps the reconciler's
// both-done check honest: it can only pass once the second call arrives.
func (r *Room) complete() {
	r.mu.Lock()
	if r.state == roomComplete {
		r.mu.Unlock()
		return
	}
	r.state = roomComplete
	fids := make([]int64, 0, len(r.players))
	for fid := range r.players {
		fids = append(fids, fid)
	}
	r.mu.Unlock()

	ctx := context.Background()
	var result *reconciler.Result
	for _, fid := range fids {
		if err := r.sessions.MarkCompleted(ctx, r.MatchID, fid); err != nil {
			log.Printf("Failed to mark player %d completed in match %s: %v", fid, r.MatchID, err)
		}
		res, err := r.completer.CompleteForPlayer(ctx, r.MatchID, fid)
		if err != nil {
			log.Printf("Failed to complete match %s for player %d: %v", r.MatchID, fid, err)
			continue
		}
		result = res
	}

	if result == nil {
		r.broadcastError("Failed to complete match")
		return
	}
	r.broadcastComplete(result)
}

// Forfeit is the alternate path straight to completion: the forfeiting
// player force-loses regardless of points.
func (r *Room) Forfeit(fid int64) {
	r.mu.Lock()
	if r.state == roomComplete || r.state == roomForming {
		r.mu.Unlock()
		return
	}
	if _, ok := r.players[fid]; !ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := r.forfeits.SetForfeit(context.Background(), r.MatchID, fid); err != nil {
		log.Printf("Failed to record forfeit for player %d in match %s: %v", fid, r.MatchID, err)
	}
	r.complete()
}

func (r *Room) broadcastComplete(result *reconciler.Result) {
	finalScores := map[int64]int{
		result.Player1FID: result.Player1Score,
	}
	if result.Player2FID != 0 {
		finalScores[result.Player2FID] = result.Player2Score
	}
	r.broadcast(MessageTypeGameComplete, GameCompletePayload{
		WinnerFID:   result.WinnerFID,
		FinalScores: finalScores,
		IsDraw:      result.IsDraw,
		ForfeitedBy: result.ForfeitedBy,
	})
}

func (r *Room) broadcast(msgType MessageType, payload any) {
	r.mu.Lock()
	clients := r.snapshotClientsLocked()
	r.mu.Unlock()
	for _, client := range clients {
		client.SendMessage(msgType, payload)
	}
}

// SendTo delivers to one player if connected.
func (r *Room) SendTo(fid int64, msgType MessageType, payload any) {
	r.mu.Lock()
	client, ok := r.clients[fid]
	r.mu.Unlock()
	if ok {
		client.SendMessage(msgType, payload)
	}
}

func (r *Room) broadcastError(message string) {
	r.broadcast(MessageTypeError, ErrorPayload{Message: message})
}

func (r *Room) snapshotScoresLocked() map[int64]int {
	scores := make(map[int64]int, len(r.players))
	for fid := range r.players {
		scores[fid] = r.scores[fid]
	}
	return scores
}

func (r *Room) snapshotClientsLocked() []*Client {
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// ShuffledView is the client-facing rendering of a question: options in a
// fresh per-client order, correct answer stripped.
func ShuffledView(q *models.Question) QuestionView {
	return QuestionView{
		ID:       q.ID,
		Prompt:   q.Prompt,
		Options:  shuffleOptions(q.Options),
		ImageURL: q.ImageURL,
	}
}

// shuffleOptions returns a fresh per-client ordering so option positions
// carry no information across clients.
func shuffleOptions(options []string) []string {
	shuffled := append([]string(nil), options...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

func answerMatches(given, correct string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(correct))
}

func multiplierFor(index, total int) int {
	if index == total-1 {
		return constants.FinalQuestionMultiplier
	}
	return 1
}
