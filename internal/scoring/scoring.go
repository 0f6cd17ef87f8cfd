package scoring

import "match-service/internal/constants"

// Points maps a server-measured response latency to points for a correct
// answer. A zero-latency answer earns the full base, an answer at the limit
// earns half, decaying linearly in between. Latency is clamped to the limit
// so a client-supplied timestamp can never raise the score.
func Points(responseMs, timeLimitMs int64, multiplier int) int {
	if multiplier <= 0 {
		multiplier = 1
	}
	if timeLimitMs <= 0 {
		return constants.BasePoints * multiplier
	}

	if responseMs < 0 {
		responseMs = 0
	}
	if responseMs > timeLimitMs {
		responseMs = timeLimitMs
	}

	timeRatio := float64(responseMs) / float64(timeLimitMs)
	score := float64(constants.BasePoints) * (1.0 - 0.5*timeRatio)
	return int(score) * multiplier
}

// ClampResponse bounds a measured latency to [0, limit]. The room uses the
// server clock, so anything beyond the limit is a timing artifact rather
// than a legitimate answer time.
func ClampResponse(responseMs, timeLimitMs int64) int64 {
	if responseMs < 0 {
		return 0
	}
	if timeLimitMs > 0 && responseMs > timeLimitMs {
		return timeLimitMs
	}
	return responseMs
}
