package game

type MessageType string

const (
	// Client -> Server
	MessageTypeJoinGame       MessageType = "join_game"
	MessageTypePlayerReady    MessageType = "player_ready"
	MessageTypeSubmitAnswer   MessageType = "submit_answer"
	MessageTypeLeaveGame      MessageType = "leave_game"
	MessageTypeRequestRematch MessageType = "request_rematch"
	MessageTypePing           MessageType = "ping"

	// Server -> Client
	MessageTypeJoinConfirmed    MessageType = "join_confirmed"
	MessageTypeOpponentJoined   MessageType = "opponent_joined"
	MessageTypeOpponentLeft     MessageType = "opponent_left"
	MessageTypeGameReady        MessageType = "game_ready"
	MessageTypeQuestionStart    MessageType = "question_start"
	MessageTypeTimerTick        MessageType = "timer_tick"
	MessageTypePlayerAnswered   MessageType = "player_answered"
	MessageTypeQuestionEnd      MessageType = "question_end"
	MessageTypeNextQuestion     MessageType = "next_question"
	MessageTypeGameComplete     MessageType = "game_complete"
	MessageTypeRematchRequested MessageType = "rematch_requested"
	MessageTypeRematchReady     MessageType = "rematch_ready"
	MessageTypeRematchExpired   MessageType = "rematch_expired"
	MessageTypeError            MessageType = "error"
	MessageTypePong             MessageType = "pong"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

type SubmitAnswerPayload struct {
	QuestionID      string `json:"question_id"`
	Answer          string `json:"answer"`
	ClientTimestamp int64  `json:"client_timestamp,omitempty"`
}

type RequestRematchPayload struct {
	Topic string `json:"topic,omitempty"`
}

type JoinConfirmedPayload struct {
	MatchID string `json:"match_id"`
}

type OpponentPayload struct {
	PlayerFID int64  `json:"player_fid"`
	Username  string `json:"username,omitempty"`
}

type PlayerInfo struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	PfpURL      string `json:"pfp_url,omitempty"`
	Badge       string `json:"badge,omitempty"`
}

type GameReadyPayload struct {
	Players        []PlayerInfo `json:"players"`
	TotalQuestions int          `json:"total_questions"`
}

// QuestionView is the client-facing question. It never carries the correct
// answer; options arrive pre-shuffled per client.
type QuestionView struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	ImageURL string   `json:"image_url,omitempty"`
}

type QuestionStartPayload struct {
	QuestionNumber  int           `json:"question_number"`
	TotalQuestions  int           `json:"total_questions"`
	Question        QuestionView  `json:"question"`
	TimeLimitMs     int64         `json:"time_limit_ms"`
	Scores          map[int64]int `json:"scores"`
	IsFinalQuestion bool          `json:"is_final_question"`
}

type TimerTickPayload struct {
	Remaining int `json:"remaining"`
}

type PlayerAnsweredPayload struct {
	PlayerFID int64         `json:"player_fid"`
	IsCorrect bool          `json:"is_correct"`
	Points    int           `json:"points"`
	Scores    map[int64]int `json:"scores"`
}

type QuestionEndPayload struct {
	CorrectAnswer string        `json:"correct_answer"`
	Scores        map[int64]int `json:"scores"`
}

type NextQuestionPayload struct {
	DelayMs int64 `json:"delay_ms"`
}

type GameCompletePayload struct {
	WinnerFID   int64         `json:"winner_fid,omitempty"`
	FinalScores map[int64]int `json:"final_scores"`
	IsDraw      bool          `json:"is_draw"`
	ForfeitedBy int64         `json:"forfeited_by,omitempty"`
}

type RematchReadyPayload struct {
	MatchID string `json:"match_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
