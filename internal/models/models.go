package models

import (
	"database/sql"
	"time"
)

// User is the player reference owned by the identity subsystem. The match
// core treats it as immutable display data.
type User struct {
	FID         int64
	Username    string
	DisplayName string
	PfpURL      string
	Badge       sql.NullString
	CreatedAt   time.Time
}

type Question struct {
	ID            string   `json:"id"`
	Topic         string   `json:"topic"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	Active        bool     `json:"-"`
}

// Match is the durable system-of-record row. Player2 columns are null until
// an opponent joins an async challenge.
type Match struct {
	ID                 string
	MatchType          string
	Topic              string
	Player1FID         int64
	Player2FID         sql.NullInt64
	QuestionIDs        []string
	Player1Score       int
	Player2Score       int
	Player1CompletedAt sql.NullTime
	Player2CompletedAt sql.NullTime
	Status             string
	WinnerFID          sql.NullInt64
	ForfeitedBy        sql.NullInt64
	CreatedAt          time.Time
	CompletedAt        sql.NullTime
}

// HasPlayer reports whether fid is one of the match participants.
func (m *Match) HasPlayer(fid int64) bool {
	return m.Player1FID == fid || (m.Player2FID.Valid && m.Player2FID.Int64 == fid)
}

// OpponentFID returns the other participant, or 0 when there is none yet.
func (m *Match) OpponentFID(fid int64) int64 {
	if m.Player1FID == fid {
		if m.Player2FID.Valid {
			return m.Player2FID.Int64
		}
		return 0
	}
	return m.Player1FID
}

// AnswerRecord is one durable per-question answer. Insertion is idempotent
// on (match_id, player_fid, question_id).
type AnswerRecord struct {
	MatchID    string
	PlayerFID  int64
	QuestionID string
	Answer     string
	IsCorrect  bool
	ResponseMs int64
	Points     int
	AnsweredAt time.Time
}

// EphemeralAnswer mirrors an in-progress answer in the session store before
// it is flushed to match_answers.
type EphemeralAnswer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
	IsCorrect  bool   `json:"is_correct"`
	ResponseMs int64  `json:"response_ms"`
	Points     int    `json:"points"`
	AnsweredAt int64  `json:"answered_at"`
}

// GameState is the ephemeral working set for an in-progress match. It is a
// cache only; durable answer rows win any conflict after completion.
type GameState struct {
	MatchID          string
	Player1FID       int64
	Player2FID       int64
	Player1Score     int
	Player2Score     int
	QuestionIDs      []string
	CurrentIndex     int
	StartedAt        int64
	Status           string
	Player1Completed bool
	Player2Completed bool
}

func (s *GameState) ScoreOf(fid int64) int {
	if fid == s.Player1FID {
		return s.Player1Score
	}
	return s.Player2Score
}

func (s *GameState) CompletedBy(fid int64) bool {
	if fid == s.Player1FID {
		return s.Player1Completed
	}
	return s.Player2Completed
}

// TopicStats is a derived per-player aggregate row; topic "all" carries the
// overall totals.
type TopicStats struct {
	FID               int64
	Topic             string
	MatchesPlayed     int
	Wins              int
	Losses            int
	Draws             int
	QuestionsAnswered int
	CorrectAnswers    int
	TotalResponseMs   int64
	UpdatedAt         time.Time
}

func (s *TopicStats) Accuracy() float64 {
	if s.QuestionsAnswered == 0 {
		return 0
	}
	return float64(s.CorrectAnswers) / float64(s.QuestionsAnswered)
}

func (s *TopicStats) AvgResponseMs() int64 {
	if s.QuestionsAnswered == 0 {
		return 0
	}
	return s.TotalResponseMs / int64(s.QuestionsAnswered)
}
