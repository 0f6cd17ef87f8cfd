package scoring

import (
	"testing"

	"match-service/internal/constants"
)

func TestPointsFullAndHalf(t *testing.T) {
	if got := Points(0, 10000, 1); got != constants.BasePoints {
		t.Errorf("instant answer = %d, want %d", got, constants.BasePoints)
	}
	if got := Points(10000, 10000, 1); got != constants.BasePoints/2 {
		t.Errorf("answer at limit = %d, want %d", got, constants.BasePoints/2)
	}
}

func TestPointsMonotonicInLatency(t *testing.T) {
	prev := Points(0, 10000, 1)
	for ms := int64(500); ms <= 10000; ms += 500 {
		got := Points(ms, 10000, 1)
		if got > prev {
			t.Fatalf("points increased with latency: %d ms -> %d, previous %d", ms, got, prev)
		}
		prev = got
	}
}

func TestPointsClampsLatency(t *testing.T) {
	if got, want := Points(99999, 10000, 1), Points(10000, 10000, 1); got != want {
		t.Errorf("over-limit latency = %d, want clamped value %d", got, want)
	}
	if got, want := Points(-50, 10000, 1), Points(0, 10000, 1); got != want {
		t.Errorf("negative latency = %d, want %d", got, want)
	}
}

func TestFinalQuestionExactlyDouble(t *testing.T) {
	for _, ms := range []int64{0, 137, 4200, 9999, 10000} {
		base := Points(ms, 10000, 1)
		final := Points(ms, 10000, constants.FinalQuestionMultiplier)
		if final != 2*base {
			t.Errorf("latency %d ms: final question = %d, want %d", ms, final, 2*base)
		}
	}
}

func TestClampResponse(t *testing.T) {
	if got := ClampResponse(-1, 10000); got != 0 {
		t.Errorf("negative response = %d, want 0", got)
	}
	if got := ClampResponse(20000, 10000); got != 10000 {
		t.Errorf("over-limit response = %d, want 10000", got)
	}
	if got := ClampResponse(4242, 10000); got != 4242 {
		t.Errorf("in-limit response = %d, want 4242", got)
	}
}
