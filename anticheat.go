package main

import "math"

// CheatMargin absorbs network jitter when bounding client paddle movement.
const CheatMargin = 0.02

// ValidatePaddle checks a client-submitted paddle state against the last
// trusted one. elapsedTicks is the simulation time since the previous
// accepted update.
//
// A velocity outside {-1, 0, 1} is protocol misuse, not drift: the update
// is rejected with ErrInvalidInput and nothing is corrected.
//
// The position may move at most as far as the paddle could physically
// travel in the elapsed time, plus the jitter margin. The bound uses the
// larger of the previous and incoming velocity magnitudes so the update
// that starts a move is not flagged for the distance it announces.
// Positions beyond the bound, or outside the playable half-width, are
// replaced with a clamped value derived from the trusted state and the
// caller must echo the correction to the offending client.
func ValidatePaddle(prev, incoming Paddle, elapsedTicks float64) (Paddle, bool, error) {
	if incoming.Vel < -1 || incoming.Vel > 1 {
		return prev, false, ErrInvalidInput
	}
	if elapsedTicks < 1 {
		elapsedTicks = 1
	}

	vmag := math.Abs(float64(prev.Vel))
	if in := math.Abs(float64(incoming.Vel)); in > vmag {
		vmag = in
	}
	maxDelta := vmag * PaddleStepTick * elapsedTicks * (1 + CheatMargin)

	corrected := false
	pos := incoming.Pos
	if delta := pos - prev.Pos; math.Abs(delta) > maxDelta {
		pos = prev.Pos + Clamp(delta, -maxDelta, maxDelta)
		corrected = true
	}
	if clamped := Clamp(pos, -PaddleLimit, PaddleLimit); clamped != pos {
		pos = clamped
		corrected = true
	}

	return Paddle{Owner: prev.Owner, Pos: pos, Vel: incoming.Vel}, corrected, nil
}
