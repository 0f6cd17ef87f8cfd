package reconciler

import (
	"match-service/internal/constants"
	"match-service/internal/models"
)

// Phase is where a match sits on its way to one final result.
type Phase string

const (
	PhaseAwaitingOpponent Phase = "awaiting_opponent"
	PhaseReadyToFinalize  Phase = "ready_to_finalize"
	PhaseFinalized        Phase = "finalized"
)

// completionState derives which sides of a match are complete, as a pure
// function of the durable row and the (possibly nil) ephemeral session.
//
// Asynchronous-style completions trust the durable completion timestamps:
// the session may have expired days before the second player shows up. Live
// completions additionally trust the session's completion flags, which are
// set before the durable stamp lands.
func completionState(match *models.Match, sess *models.GameState) (p1Done, p2Done bool) {
	p1Done = match.Player1CompletedAt.Valid
	p2Done = match.Player2CompletedAt.Valid

	if match.MatchType == constants.MatchTypeLive && sess != nil {
		p1Done = p1Done || sess.CompletedBy(match.Player1FID)
		if match.Player2FID.Valid {
			p2Done = p2Done || sess.CompletedBy(match.Player2FID.Int64)
		}
	}
	return p1Done, p2Done
}

// phase classifies a match for the reconciliation state machine.
func phase(match *models.Match, sess *models.GameState) Phase {
	if match.Status == constants.MatchStatusCompleted {
		return PhaseFinalized
	}
	p1Done, p2Done := completionState(match, sess)
	if p1Done && p2Done && match.Player2FID.Valid {
		return PhaseReadyToFinalize
	}
	return PhaseAwaitingOpponent
}

// determineForfeit picks the forfeiting side. An explicitly recorded forfeit
// wins; otherwise the side that answered fewer than the match's questions
// forfeits, provided the other side finished the full set.
func determineForfeit(match *models.Match, p1Answered, p2Answered int) int64 {
	if match.ForfeitedBy.Valid {
		return match.ForfeitedBy.Int64
	}

	total := len(match.QuestionIDs)
	if total == 0 {
		return 0
	}
	if p1Answered < total && p2Answered >= total {
		return match.Player1FID
	}
	if p2Answered < total && p1Answered >= total && match.Player2FID.Valid {
		return match.Player2FID.Int64
	}
	return 0
}

// determineWinner applies the forfeit override, then strict score
// comparison. Zero means draw.
func determineWinner(match *models.Match, p1Score, p2Score int, forfeitedBy int64) int64 {
	if forfeitedBy != 0 && match.Player2FID.Valid {
		if forfeitedBy == match.Player1FID {
			return match.Player2FID.Int64
		}
		return match.Player1FID
	}

	switch {
	case p1Score > p2Score:
		return match.Player1FID
	case p2Score > p1Score && match.Player2FID.Valid:
		return match.Player2FID.Int64
	default:
		return 0
	}
}
