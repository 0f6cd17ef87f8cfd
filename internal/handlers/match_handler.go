package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"match-service/internal/constants"
	"match-service/internal/game"
	"match-service/internal/matchmaking"
	"match-service/internal/middleware"
	"match-service/internal/models"
	"match-service/internal/reconciler"
	"match-service/internal/repository"
	"match-service/internal/session"

	"github.com/gin-gonic/gin"
)

type MatchHandler struct {
	matches     *repository.MatchRepository
	questions   *repository.QuestionRepository
	answers     *repository.AnswerRepository
	stats       *repository.StatsRepository
	sessions    *session.Store
	rec         *reconciler.Reconciler
	matchmaking *matchmaking.Service
}

func NewMatchHandler(matches *repository.MatchRepository, questions *repository.QuestionRepository,
	answers *repository.AnswerRepository, stats *repository.StatsRepository, sessions *session.Store,
	rec *reconciler.Reconciler, mm *matchmaking.Service) *MatchHandler {
	return &MatchHandler{
		matches:     matches,
		questions:   questions,
		answers:     answers,
		stats:       stats,
		sessions:    sessions,
		rec:         rec,
		matchmaking: mm,
	}
}

type createMatchRequest struct {
	MatchType   string `json:"match_type" binding:"required"`
	Topic       string `json:"topic" binding:"required"`
	OpponentFID int64  `json:"opponent_fid"`
}

// CreateMatch opens a match directly: an async challenge with an empty
// seat, or a live match against a named opponent. Live pairing through the
// queue happens in the matchmaking handler instead.
func (h *MatchHandler) CreateMatch(c *gin.Context) {
	fid := middleware.FID(c)

	var req createMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var match *models.Match
	var err error
	switch req.MatchType {
	case constants.MatchTypeChallenge, constants.MatchTypeBot:
		// bot matches reuse the challenge shape; the bot's run arrives
		// through complete-async
		match, err = h.matchmaking.CreateChallenge(c.Request.Context(), req.MatchType, req.Topic, fid)
	case constants.MatchTypeLive:
		if req.OpponentFID == 0 || req.OpponentFID == fid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Live match needs a distinct opponent_fid"})
			return
		}
		match, err = h.matchmaking.CreatePair(c.Request.Context(), req.Topic,
			&matchmaking.Entry{PlayerFID: fid, JoinedAt: time.Now()},
			&matchmaking.Entry{PlayerFID: req.OpponentFID, JoinedAt: time.Now()},
		)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown match type"})
		return
	}
	if err != nil {
		log.Printf("Failed to create match: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create match"})
		return
	}

	views, err := h.questionViews(c, match)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load questions"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"match":     matchResponse(match),
		"questions": views,
	})
}

// GetMatch returns the current view of a match: ephemeral scores while a
// session is live, the durable row otherwise. Questions keep their original
// order with options re-shuffled per client. A participant reading a
// completed match also gets their own per-question answer breakdown.
func (h *MatchHandler) GetMatch(c *gin.Context) {
	fid := middleware.FID(c)
	matchID := c.Param("id")

	match, err := h.matches.GetMatch(c.Request.Context(), matchID)
	if err != nil {
		if errors.Is(err, repository.ErrMatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Match not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load match"})
		return
	}

	response := gin.H{"match": matchResponse(match)}

	if match.Status == constants.MatchStatusCompleted && match.HasPlayer(fid) {
		records, err := h.answers.ListByPlayer(c.Request.Context(), matchID, fid)
		if err != nil {
			log.Printf("Failed to load answers for player %d in match %s: %v", fid, matchID, err)
		} else {
			response["answers"] = answerViews(records)
		}
	}

	if match.Status != constants.MatchStatusCompleted {
		state, err := h.sessions.Get(c.Request.Context(), matchID)
		if err == nil && state != nil {
			response["live"] = gin.H{
				"player1_score":     state.Player1Score,
				"player2_score":     state.Player2Score,
				"current_index":     state.CurrentIndex,
				"status":            state.Status,
				"player1_completed": state.Player1Completed,
				"player2_completed": state.Player2Completed,
			}
		}
	}

	views, err := h.questionViews(c, match)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load questions"})
		return
	}
	response["questions"] = views

	c.JSON(http.StatusOK, response)
}

// JoinChallenge claims the open seat of a waiting async challenge and
// revives the session so the second player can start answering.
func (h *MatchHandler) JoinChallenge(c *gin.Context) {
	fid := middleware.FID(c)
	matchID := c.Param("id")

	ctx := c.Request.Context()
	match, err := h.matches.GetMatch(ctx, matchID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Match not found"})
		return
	}
	if match.Player1FID == fid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot join your own challenge"})
		return
	}

	if err := h.matches.AttachOpponent(ctx, matchID, fid); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Challenge is no longer open"})
		return
	}

	state := &models.GameState{
		MatchID:     matchID,
		Player1FID:  match.Player1FID,
		Player2FID:  fid,
		QuestionIDs: match.QuestionIDs,
		StartedAt:   time.Now().UnixMilli(),
		Status:      constants.SessionStatusActive,
	}
	if err := h.sessions.Create(ctx, state); err != nil {
		log.Printf("Failed to revive session for match %s: %v", matchID, err)
	}

	views, err := h.questionViews(c, match)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load questions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"match_id":  matchID,
		"questions": views,
	})
}

// DeclineChallenge closes a waiting challenge before anyone claims the
// seat.
func (h *MatchHandler) DeclineChallenge(c *gin.Context) {
	fid := middleware.FID(c)
	matchID := c.Param("id")

	err := h.matchmaking.DeclineChallenge(c.Request.Context(), matchID, fid)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"match_id": matchID, "status": constants.MatchStatusDeclined})
	case errors.Is(err, matchmaking.ErrNotDeclinable):
		c.JSON(http.StatusConflict, gin.H{"error": "Match can no longer be declined"})
	case errors.Is(err, repository.ErrMatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Match not found"})
	default:
		log.Printf("Failed to decline match %s: %v", matchID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decline match"})
	}
}

// Complete finishes the caller's side of a live match.
func (h *MatchHandler) Complete(c *gin.Context) {
	h.complete(c)
}

// CompleteAsync finishes the caller's side of an async challenge. Both
// paths converge on the reconciler; the split mirrors the client surface.
func (h *MatchHandler) CompleteAsync(c *gin.Context) {
	h.complete(c)
}

func (h *MatchHandler) complete(c *gin.Context) {
	fid := middleware.FID(c)
	matchID := c.Param("id")

	result, err := h.rec.CompleteForPlayer(c.Request.Context(), matchID, fid)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrMatchNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Match not found"})
		case errors.Is(err, reconciler.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this match"})
		default:
			log.Printf("Failed to complete match %s for player %d: %v", matchID, fid, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to complete match"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// PlayerStats returns the caller's aggregates for a topic (or overall) plus
// the current win streak, recomputed from recent completed matches.
func (h *MatchHandler) PlayerStats(c *gin.Context) {
	fid := middleware.FID(c)
	topic := c.DefaultQuery("topic", repository.StatsTopicAll)

	ctx := c.Request.Context()
	stats, err := h.stats.GetTopicStats(ctx, fid, topic)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}

	recent, err := h.matches.RecentCompletedResults(ctx, fid, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load match history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"fid":                fid,
		"topic":              stats.Topic,
		"matches_played":     stats.MatchesPlayed,
		"wins":               stats.Wins,
		"losses":             stats.Losses,
		"draws":              stats.Draws,
		"questions_answered": stats.QuestionsAnswered,
		"accuracy":           stats.Accuracy(),
		"avg_response_ms":    stats.AvgResponseMs(),
		"win_streak":         h.stats.CurrentWinStreak(fid, recent),
	})
}

func (h *MatchHandler) questionViews(c *gin.Context, match *models.Match) ([]game.QuestionView, error) {
	questions, err := h.questions.GetByIDs(c.Request.Context(), match.QuestionIDs)
	if err != nil {
		log.Printf("Failed to load questions for match %s: %v", match.ID, err)
		return nil, err
	}
	views := make([]game.QuestionView, len(questions))
	for i, q := range questions {
		views[i] = game.ShuffledView(q)
	}
	return views, nil
}

func answerViews(records []models.AnswerRecord) []gin.H {
	views := make([]gin.H, len(records))
	for i, rec := range records {
		views[i] = gin.H{
			"question_id": rec.QuestionID,
			"answer":      rec.Answer,
			"is_correct":  rec.IsCorrect,
			"response_ms": rec.ResponseMs,
			"points":      rec.Points,
			"answered_at": rec.AnsweredAt,
		}
	}
	return views
}

func matchResponse(match *models.Match) gin.H {
	response := gin.H{
		"id":            match.ID,
		"match_type":    match.MatchType,
		"topic":         match.Topic,
		"player1_fid":   match.Player1FID,
		"player1_score": match.Player1Score,
		"player2_score": match.Player2Score,
		"status":        match.Status,
		"created_at":    match.CreatedAt,
	}
	if match.Player2FID.Valid {
		response["player2_fid"] = match.Player2FID.Int64
	}
	if match.WinnerFID.Valid {
		response["winner_fid"] = match.WinnerFID.Int64
	}
	if match.ForfeitedBy.Valid {
		response["forfeited_by"] = match.ForfeitedBy.Int64
	}
	if match.CompletedAt.Valid {
		response["completed_at"] = match.CompletedAt.Time
	}
	return response
}
