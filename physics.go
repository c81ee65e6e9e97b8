package main

import (
	"math"
	"math/rand"
)

const (
	TickRate     = 60 // simulation ticks per second
	TickDuration = 1.0 / float64(TickRate)

	TableHalfLength = 5.0 // scoring line at x = ±TableHalfLength
	TableHalfWidth  = 3.0 // walls at y = ±TableHalfWidth

	PaddleLineX    = 4.5  // paddle hit line
	PaddleRadius   = 0.75 // paddle half-height
	PaddleHitTol   = 0.1  // extra reach beyond the half-height
	PaddleSpeed    = 3.0  // units per second at velocity ±1
	PaddleStepTick = PaddleSpeed / float64(TickRate)
	PaddleLimit    = TableHalfWidth - PaddleRadius // playable half-width

	BallRadius       = 0.12
	BallInitialSpeed = 3.0   // units per second
	BallAccel        = 1.005 // velocity scale per tick while in rally

	// Launch cone: direction components of the widest allowed serve angle.
	LaunchCos = 0.866
	LaunchSin = 0.5
)

// Vec2 is an immutable 2D vector
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y)
}

func (v Vec2) Scale(s float64) Vec2 {
	return Vec2{v.X * s, v.Y * s}
}

// Ball holds the canonical ball state. Mutated only by a room's tick.
type Ball struct {
	Pos Vec2
	Vel Vec2
}

// Paddle is one player's paddle along its vertical axis. Pos is the offset
// from the table center, Vel one of {-1, 0, 1}.
type Paddle struct {
	Owner string
	Pos   float64
	Vel   int
}

// NewBall returns a ball at the table center launched toward side
// (-1 = left, +1 = right) at the initial speed.
func NewBall(side int) Ball {
	return Ball{Vel: launchVelocity(side)}
}

// launchVelocity picks a random serve angle inside the launch cone. The
// resulting speed is exactly BallInitialSpeed.
func launchVelocity(side int) Vec2 {
	maxAngle := math.Atan2(LaunchSin, LaunchCos)
	angle := (rand.Float64()*2 - 1) * maxAngle
	return Vec2{
		X: float64(side) * BallInitialSpeed * math.Cos(angle),
		Y: BallInitialSpeed * math.Sin(angle),
	}
}

// Advance moves the ball by its velocity over dt seconds
func (b *Ball) Advance(dt float64) {
	b.Pos.X += b.Vel.X * dt
	b.Pos.Y += b.Vel.Y * dt
}

// Accelerate applies the per-tick speedup. Speed never decreases within a
// rally; it is reset by NewBall after each point.
func (b *Ball) Accelerate() {
	b.Vel = b.Vel.Scale(BallAccel)
}

// CollideWalls bounces the ball off the top/bottom walls. Returns whether a
// bounce happened.
func (b *Ball) CollideWalls() bool {
	if b.Pos.Y-BallRadius <= -TableHalfWidth && b.Vel.Y < 0 {
		b.Pos.Y = -TableHalfWidth + BallRadius
		b.Vel.Y = -b.Vel.Y
		return true
	}
	if b.Pos.Y+BallRadius >= TableHalfWidth && b.Vel.Y > 0 {
		b.Pos.Y = TableHalfWidth - BallRadius
		b.Vel.Y = -b.Vel.Y
		return true
	}
	return false
}

// CollidePaddle checks the paddle guarding the given side (-1 left, +1
// right). A hit requires the ball's leading edge to have crossed the hit
// line while moving toward it, within the paddle's reach. On a hit the
// x velocity is negated and the ball is pushed back to the hit line.
func (b *Ball) CollidePaddle(p *Paddle, side int) bool {
	line := float64(side) * PaddleLineX
	if side < 0 {
		if b.Vel.X >= 0 || b.Pos.X-BallRadius > line {
			return false
		}
	} else {
		if b.Vel.X <= 0 || b.Pos.X+BallRadius < line {
			return false
		}
	}
	if math.Abs(b.Pos.Y-p.Pos) > PaddleRadius+PaddleHitTol {
		return false
	}
	b.Vel.X = -b.Vel.X
	b.Pos.X = line - float64(side)*BallRadius
	return true
}

// Out reports which player scored: 0 while the ball is in play, 1 when it
// left past the right edge, 2 when it left past the left edge.
func (b *Ball) Out() int {
	if b.Pos.X < -TableHalfLength {
		return 2
	}
	if b.Pos.X > TableHalfLength {
		return 1
	}
	return 0
}

// Mirrored returns the ball flipped across the y axis. Each client renders
// its own paddle on a fixed side, so the right-hand player receives the
// x-flipped view; paddle offsets are on the shared axis and pass through
// unchanged.
func (b Ball) Mirrored() Ball {
	return Ball{
		Pos: Vec2{-b.Pos.X, b.Pos.Y},
		Vel: Vec2{-b.Vel.X, b.Vel.Y},
	}
}
