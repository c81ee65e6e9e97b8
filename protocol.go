package main

import "encoding/json"

// Client -> Server message types
const (
	MsgHello        = "hello"         // present or request an identity token
	MsgJoinQueue    = "join_queue"    // enter matchmaking
	MsgLeaveQueue   = "leave_queue"   // cancel matchmaking
	MsgPaddle       = "paddle_update" // client paddle state
	MsgSpectate     = "spectate"      // watch a match
	MsgStopSpectate = "stop_spectate" // stop watching
	MsgListMatches  = "list_matches"  // list live matches
	MsgLeaveMatch   = "leave_match"   // concede a running match
)

// Server -> Client message types
const (
	MsgWelcome         = "welcome"          // identity + token
	MsgQueued          = "queued"           // waiting for an opponent
	MsgLeftQueue       = "left_queue"       // matchmaking canceled
	MsgMatchFound      = "match_found"      // paired, match starting
	MsgOpponentPaddle  = "opponent_paddle"  // opponent's accepted paddle state
	MsgPaddleCorrected = "paddle_corrected" // authoritative correction to sender
	MsgGameUpdate      = "game_update"      // per-tick mirrored ball + score
	MsgMatchFinished   = "match_finished"   // terminal result
	MsgMatches         = "matches"          // live match listing
	MsgSpectating      = "spectating"       // spectate confirmed
	MsgSpectateEnded   = "spectate_ended"   // spectate entry removed
	MsgError           = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// HelloMsg carries an optional identity token from a previous session
type HelloMsg struct {
	Token string `json:"token,omitempty"`
}

// WelcomeMsg returns the client's identity and a token to present next time
type WelcomeMsg struct {
	Identity string `json:"id"`
	Token    string `json:"token"`
}

// PaddleMsg is the client's paddle state
type PaddleMsg struct {
	Pos float64 `json:"p"`
	Vel int     `json:"v"`
}

// MatchFoundMsg is sent to both players when the queue pairs them
type MatchFoundMsg struct {
	MatchID  string `json:"mid"`
	Opponent string `json:"opp"`
	Side     int    `json:"side"` // 1 or 2
}

// OpponentPaddleMsg forwards the opponent's server-accepted paddle state
type OpponentPaddleMsg struct {
	Pos float64 `json:"p"`
	Vel int     `json:"v"`
}

// GameUpdateMsg is the per-recipient mirrored ball + score snapshot
type GameUpdateMsg struct {
	BX   float64 `json:"bx"`
	BY   float64 `json:"by"`
	BVX  float64 `json:"bvx"`
	BVY  float64 `json:"bvy"`
	You  int     `json:"sy"` // recipient's score
	Opp  int     `json:"so"`
	Tick uint64  `json:"tick"`
}

// MatchFinishedMsg reports the terminal result to one participant
type MatchFinishedMsg struct {
	MatchID string `json:"mid"`
	You     int    `json:"sy"`
	Opp     int    `json:"so"`
	Winner  bool   `json:"win"`
	Flavor  string `json:"flavor"` // score, forfeit or aborted
}

// SpectateMsg targets a match by id
type SpectateMsg struct {
	MatchID string `json:"mid"`
}

// SpectatorState is the canonical-orientation snapshot streamed to
// spectators as a msgpack binary frame.
type SpectatorState struct {
	MatchID string  `msgpack:"mid"`
	BX      float64 `msgpack:"bx"`
	BY      float64 `msgpack:"by"`
	BVX     float64 `msgpack:"bvx"`
	BVY     float64 `msgpack:"bvy"`
	P1      float64 `msgpack:"p1"`
	V1      int     `msgpack:"v1"`
	P2      float64 `msgpack:"p2"`
	V2      int     `msgpack:"v2"`
	S1      int     `msgpack:"s1"`
	S2      int     `msgpack:"s2"`
	Tick    uint64  `msgpack:"tick"`
}

// MatchInfo is used in the live match listing
type MatchInfo struct {
	ID      string `json:"id"`
	Player1 string `json:"p1"`
	Player2 string `json:"p2"`
	Score1  int    `json:"s1"`
	Score2  int    `json:"s2"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}
