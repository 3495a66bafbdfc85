// Package scoring maps round outcomes to points. Everything here is
// pure; callers apply the returned deltas to the session document.
package scoring

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// RACE mode: base points for winning the round, plus a bonus of up
	// to bonusMax each for speed and model confidence.
	RaceBase = 100
	bonusMax = 50

	// TEAM mode.
	GuesserPoints = 100
	DrawerPoints  = 50
	AIPoints      = 100
)

// RaceScore is the points awarded to the winning claim in RACE mode.
// Out-of-range inputs are clamped, never rejected: a claim is already
// committed by the time it is scored.
func RaceScore(timeRemaining, roundDuration time.Duration, confidence float64) int {
	return RaceBase + timeBonus(timeRemaining, roundDuration) + confidenceBonus(confidence)
}

func timeBonus(remaining, duration time.Duration) int {
	if duration <= 0 {
		return 0
	}

	ratio := decimal.NewFromInt(int64(clampDuration(remaining, duration))).
		Div(decimal.NewFromInt(int64(duration)))

	return bonus(ratio)
}

func confidenceBonus(confidence float64) int {
	return bonus(decimal.NewFromFloat(ClampConfidence(confidence)))
}

// bonus scales a ratio in [0, 1] to [0, bonusMax], rounding half away
// from zero so identical inputs always score identically.
func bonus(ratio decimal.Decimal) int {
	return int(ratio.Mul(decimal.NewFromInt(bonusMax)).Round(0).IntPart())
}

func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}

	return c
}

func clampDuration(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > max {
		return max
	}

	return d
}

// ClampTimeRemaining bounds a claimed time-remaining to the round duration.
func ClampTimeRemaining(d, roundDuration time.Duration) time.Duration {
	return clampDuration(d, roundDuration)
}
