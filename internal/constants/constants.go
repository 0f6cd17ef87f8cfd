package constants

import "time"

const (
	MatchStatusWaiting   = "waiting"
	MatchStatusActive    = "active"
	MatchStatusCompleted = "completed"
	MatchStatusDeclined  = "declined"
	MatchStatusExpired   = "expired"
)

const (
	MatchTypeLive      = "live_realtime"
	MatchTypeBot       = "bot"
	MatchTypeChallenge = "async_challenge"
)

const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusAbandoned = "abandoned"
)

// Question cycle timing. The reveal delay lets clients animate the options
// before the countdown starts; the buffer absorbs broadcast jitter so the
// server clock never starts before the slowest client has seen the question.
const (
	QuestionsPerMatch    = 10
	QuestionTimeLimit    = 10 * time.Second
	OptionsRevealDelay   = 3 * time.Second
	QuestionStartBuffer  = 500 * time.Millisecond
	QuestionResolveDelay = 3 * time.Second
	NextQuestionDelay    = 2 * time.Second
)

const (
	BasePoints              = 1000
	FinalQuestionMultiplier = 2
)

const (
	SessionTTL    = 2 * time.Hour
	RematchWindow = 30 * time.Second

	// how long an async challenge may sit with an open seat before the
	// sweep expires it
	ChallengeTTL = 24 * time.Hour
)

// Notification queue names consumed by the notification subsystem.
const (
	QueueMatchFound     = "match_found_notifications"
	QueueMatchCompleted = "match_completed_notifications"
)
