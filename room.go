package main

import (
	"log"
	"sync"
	"time"
)

const (
	MaxScore       = 3
	RoomTickPeriod = time.Second / TickRate
	BroadcastEvery = 2 // game_update every N ticks (30 Hz)

	// Upper bound on a single tick's dt so a stalled scheduler cannot
	// teleport the ball across the table.
	maxTickDt = 0.25
)

// RoomState is the lifecycle of a match room
type RoomState int

const (
	RoomAwaitingStart RoomState = 0
	RoomRunning       RoomState = 1
	RoomFinished      RoomState = 2
)

// Peer is the capability a room needs from a live connection. The transport
// layer owns the connection; the core never sees websocket types.
type Peer interface {
	SendEvent(event string, payload interface{})
	SendBinary(data []byte) error
	Token() string
	Identity() string
	IsOpen() bool
}

// Room owns one match's full authoritative state: ball, two paddles,
// scores and the tick loop. Player 1 defends the left side in the
// canonical orientation, player 2 the right. All mutation goes through
// the room's own mutex, so ticks and paddle updates never overlap.
type Room struct {
	ID string

	mu       sync.Mutex
	players  [2]Peer
	paddles  [2]Paddle
	lastUpd  [2]time.Time
	ball     Ball
	score    [2]int
	state    RoomState
	tick     uint64
	lastTick time.Time

	stop     chan struct{}
	stopOnce sync.Once

	// onFinish is invoked exactly once, after the terminal payloads have
	// been sent. The directory uses it to tear the room down.
	onFinish func(r *Room, res Result)
}

// NewRoom pairs two peers into a match. The id is derived by the caller
// from both connection tokens.
func NewRoom(id string, p1, p2 Peer, onFinish func(*Room, Result)) *Room {
	r := &Room{
		ID:       id,
		players:  [2]Peer{p1, p2},
		ball:     NewBall(-1),
		stop:     make(chan struct{}),
		onFinish: onFinish,
	}
	r.paddles[0] = Paddle{Owner: p1.Identity()}
	r.paddles[1] = Paddle{Owner: p2.Identity()}
	return r
}

// Run starts the tick loop. It returns when the room finishes.
func (r *Room) Run() {
	r.mu.Lock()
	// A peer can forfeit between pairing and the first tick; a finished
	// room must not come back to life.
	if r.state == RoomAwaitingStart {
		r.state = RoomRunning
	}
	r.lastTick = time.Now()
	now := r.lastTick
	for i := range r.lastUpd {
		r.lastUpd[i] = now
	}
	r.mu.Unlock()

	ticker := time.NewTicker(RoomTickPeriod)
	defer ticker.Stop()

	for {
		select {
		case t := <-ticker.C:
			r.safeUpdate(t)
		case <-r.stop:
			return
		}
	}
}

// Stop cancels the tick loop. Safe to call more than once.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// State returns the current lifecycle state
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// safeUpdate converts a panicking tick into an aborted result for this
// room only; other rooms keep running.
func (r *Room) safeUpdate(now time.Time) {
	defer func() {
		if v := recover(); v != nil {
			log.Printf("room %s: tick panic: %v", r.ID, v)
			r.mu.Lock()
			defer r.mu.Unlock()
			r.finishLocked(ResultAborted, 0)
		}
	}()
	r.update(now)
}

// update runs one simulation tick using the actual elapsed wall-clock time
func (r *Room) update(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RoomRunning {
		return
	}

	dt := now.Sub(r.lastTick).Seconds()
	if dt > maxTickDt {
		dt = maxTickDt
	}
	r.lastTick = now
	r.tick++

	// Order is contractual: advance, collide, score, then payloads. A ball
	// that scores this tick can no longer bounce in the same tick.
	r.ball.Advance(dt)
	r.ball.CollideWalls()
	r.ball.CollidePaddle(&r.paddles[0], -1)
	r.ball.CollidePaddle(&r.paddles[1], +1)

	scored := false
	if winner := r.ball.Out(); winner != 0 {
		scored = true
		r.score[winner-1]++
		if err := r.checkInvariants(); err != nil {
			log.Printf("%v", err)
			r.finishLocked(ResultAborted, 0)
			return
		}
		if r.score[winner-1] >= MaxScore {
			r.finishLocked(ResultScore, winner)
			return
		}
		// Serve toward the side that just conceded: a point for player 1
		// means the ball left past the right edge.
		if winner == 1 {
			r.ball = NewBall(+1)
		} else {
			r.ball = NewBall(-1)
		}
	} else {
		r.ball.Accelerate()
	}

	if scored || r.tick%BroadcastEvery == 0 {
		r.broadcastLocked()
	}
}

func (r *Room) checkInvariants() error {
	if r.score[0] > MaxScore || r.score[1] > MaxScore {
		return &RoomInvariantViolation{MatchID: r.ID, Detail: "score exceeds maximum"}
	}
	return nil
}

// broadcastLocked sends each player its mirrored view: player 1 sees the
// canonical orientation, player 2 the x-flipped one.
func (r *Room) broadcastLocked() {
	views := [2]Ball{r.ball, r.ball.Mirrored()}
	for i, p := range r.players {
		b := views[i]
		p.SendEvent(MsgGameUpdate, GameUpdateMsg{
			BX:   b.Pos.X,
			BY:   b.Pos.Y,
			BVX:  b.Vel.X,
			BVY:  b.Vel.Y,
			You:  r.score[i],
			Opp:  r.score[1-i],
			Tick: r.tick,
		})
	}
}

// HandlePaddle validates and applies a client paddle update. The accepted
// value is forwarded to the opponent; the sender is echoed only when the
// validator had to correct it.
func (r *Room) HandlePaddle(token string, pos float64, vel int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RoomRunning {
		return nil
	}
	idx := r.indexOfLocked(token)
	if idx < 0 {
		return ErrUnknownMatch
	}

	now := time.Now()
	elapsed := now.Sub(r.lastUpd[idx]).Seconds() / TickDuration
	incoming := Paddle{Owner: r.paddles[idx].Owner, Pos: pos, Vel: vel}
	accepted, corrected, err := ValidatePaddle(r.paddles[idx], incoming, elapsed)
	if err != nil {
		return err
	}

	r.paddles[idx] = accepted
	r.lastUpd[idx] = now

	r.players[1-idx].SendEvent(MsgOpponentPaddle, OpponentPaddleMsg{
		Pos: accepted.Pos,
		Vel: accepted.Vel,
	})
	if corrected {
		r.players[idx].SendEvent(MsgPaddleCorrected, PaddleMsg{
			Pos: accepted.Pos,
			Vel: accepted.Vel,
		})
	}
	return nil
}

// HandleDisconnect finishes the match by forfeit if the leaver was playing.
// The remaining player is credited as winner.
func (r *Room) HandleDisconnect(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == RoomFinished {
		return
	}
	idx := r.indexOfLocked(token)
	if idx < 0 {
		return
	}
	r.finishLocked(ResultForfeit, 2-idx)
}

// Players returns both peers in side order
func (r *Room) Players() [2]Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.players
}

// HasPlayer reports whether the token belongs to one of the participants
func (r *Room) HasPlayer(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOfLocked(token) >= 0
}

func (r *Room) indexOfLocked(token string) int {
	for i, p := range r.players {
		if p.Token() == token {
			return i
		}
	}
	return -1
}

// finishLocked is the single terminal transition. It is idempotent, stops
// the ticker, delivers the final payloads and signals teardown.
func (r *Room) finishLocked(flavor string, winner int) {
	if r.state == RoomFinished {
		return
	}
	r.state = RoomFinished

	res := Result{
		MatchID: r.ID,
		Player1: r.paddles[0].Owner,
		Player2: r.paddles[1].Owner,
		Score1:  r.score[0],
		Score2:  r.score[1],
		Winner:  winner,
		Flavor:  flavor,
		EndedAt: time.Now().UTC(),
	}

	for i, p := range r.players {
		p.SendEvent(MsgMatchFinished, MatchFinishedMsg{
			MatchID: r.ID,
			You:     r.score[i],
			Opp:     r.score[1-i],
			Winner:  winner == i+1,
			Flavor:  flavor,
		})
	}

	r.Stop()
	if r.onFinish != nil {
		go r.onFinish(r, res)
	}
}

// Snapshot returns the canonical-orientation state for spectators
func (r *Room) Snapshot() SpectatorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SpectatorState{
		MatchID: r.ID,
		BX:      r.ball.Pos.X,
		BY:      r.ball.Pos.Y,
		BVX:     r.ball.Vel.X,
		BVY:     r.ball.Vel.Y,
		P1:      r.paddles[0].Pos,
		V1:      r.paddles[0].Vel,
		P2:      r.paddles[1].Pos,
		V2:      r.paddles[1].Vel,
		S1:      r.score[0],
		S2:      r.score[1],
		Tick:    r.tick,
	}
}

// Info returns listing data for the lobby
func (r *Room) Info() MatchInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return MatchInfo{
		ID:      r.ID,
		Player1: r.paddles[0].Owner,
		Player2: r.paddles[1].Owner,
		Score1:  r.score[0],
		Score2:  r.score[1],
	}
}
