package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

type testServer struct {
	hub *Hub
	srv *httptest.Server
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("PONG_JWT_SECRET", "")

	clientDir := t.TempDir()
	index := []byte("<html><body>pong</body></html>")
	if err := os.WriteFile(filepath.Join(clientDir, "index.html"), index, 0o644); err != nil {
		t.Fatalf("write index.html: %v", err)
	}

	hub := NewHub(NewIdentityIssuer(nil), nil)
	go hub.Run()

	srv := httptest.NewServer(SetupRoutes(hub, clientDir))
	t.Cleanup(srv.Close)
	return &testServer{hub: hub, srv: srv}
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
}

func dialWS(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, typ string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(Envelope{T: typ, Data: data})
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads text envelopes until one of the wanted type arrives,
// skipping interleaved traffic such as game_update frames.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var env InEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad envelope while waiting for %s: %s", typ, raw)
		}
		if env.T == typ {
			return env.D
		}
		if env.T == MsgError && typ != MsgError {
			t.Fatalf("error while waiting for %s: %s", typ, env.D)
		}
	}
}

// readBinary skips text traffic until a binary frame arrives
func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for binary frame: %v", err)
		}
		if mt == websocket.BinaryMessage {
			return raw
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn, token string) WelcomeMsg {
	t.Helper()
	sendMsg(t, conn, MsgHello, HelloMsg{Token: token})
	var welcome WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, MsgWelcome), &welcome); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	return welcome
}

// pairPlayers runs two connections through the queue and returns the
// match_found payloads in join order.
func pairPlayers(t *testing.T, ts *testServer, c1, c2 *websocket.Conn) (MatchFoundMsg, MatchFoundMsg) {
	t.Helper()
	hello(t, c1, "")
	hello(t, c2, "")

	sendMsg(t, c1, MsgJoinQueue, nil)
	readUntil(t, c1, MsgQueued)
	sendMsg(t, c2, MsgJoinQueue, nil)

	var m1, m2 MatchFoundMsg
	if err := json.Unmarshal(readUntil(t, c1, MsgMatchFound), &m1); err != nil {
		t.Fatalf("decode match_found: %v", err)
	}
	if err := json.Unmarshal(readUntil(t, c2, MsgMatchFound), &m2); err != nil {
		t.Fatalf("decode match_found: %v", err)
	}
	return m1, m2
}

// waitRoomRunning waits for the room's tick loop to come up so paddle
// updates are not dropped by the AWAITING_START guard.
func waitRoomRunning(t *testing.T, ts *testServer, matchID string) {
	t.Helper()
	waitFor(t, "room running", func() bool {
		room := ts.hub.directory.Get(matchID)
		return room != nil && room.State() == RoomRunning
	})
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestSPARouting(t *testing.T) {
	ts := startTestServer(t)

	for _, path := range []string{"/", "/0123456789abcdef"} {
		resp, err := http.Get(ts.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestHelloIdentityPersists(t *testing.T) {
	ts := startTestServer(t)

	c1 := dialWS(t, ts)
	w1 := hello(t, c1, "")
	if w1.Identity == "" || w1.Token == "" {
		t.Fatalf("welcome missing identity or token: %+v", w1)
	}

	// A reconnect presenting the token keeps the identity
	c2 := dialWS(t, ts)
	w2 := hello(t, c2, w1.Token)
	if w2.Identity != w1.Identity {
		t.Errorf("identity changed across reconnect: %s vs %s", w1.Identity, w2.Identity)
	}

	// Garbage token falls back to a fresh guest
	c3 := dialWS(t, ts)
	w3 := hello(t, c3, "garbage")
	if w3.Identity == w1.Identity {
		t.Error("garbage token must not inherit an identity")
	}
}

func TestQueuePairing(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)

	m1, m2 := pairPlayers(t, ts, c1, c2)

	if m1.MatchID == "" || m1.MatchID != m2.MatchID {
		t.Fatalf("match ids differ: %q vs %q", m1.MatchID, m2.MatchID)
	}
	if m1.Side == m2.Side {
		t.Errorf("both players assigned side %d", m1.Side)
	}
	if m1.Opponent == "" || m2.Opponent == "" || m1.Opponent == m2.Opponent {
		t.Errorf("opponent fields wrong: %q vs %q", m1.Opponent, m2.Opponent)
	}
	if ts.hub.directory.Get(m1.MatchID) == nil {
		t.Error("paired match should be listed in the directory")
	}
}

func TestLeaveQueue(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts)
	hello(t, c, "")

	sendMsg(t, c, MsgJoinQueue, nil)
	readUntil(t, c, MsgQueued)
	sendMsg(t, c, MsgLeaveQueue, nil)
	readUntil(t, c, MsgLeftQueue)

	if ts.hub.queue.Waiting() {
		t.Error("queue slot should be empty after leave_queue")
	}
}

func TestSelfMatchRejected(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)

	w := hello(t, c1, "")
	hello(t, c2, w.Token) // same player, second connection

	sendMsg(t, c1, MsgJoinQueue, nil)
	readUntil(t, c1, MsgQueued)
	sendMsg(t, c2, MsgJoinQueue, nil)
	readUntil(t, c2, MsgError)

	if !ts.hub.queue.Waiting() {
		t.Error("first connection should still be queued")
	}
}

func TestPaddleForwarding(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)

	m1, _ := pairPlayers(t, ts, c1, c2)
	waitRoomRunning(t, ts, m1.MatchID)

	// Within one tick's travel, no correction expected
	time.Sleep(50 * time.Millisecond)
	sendMsg(t, c1, MsgPaddle, PaddleMsg{Pos: 0.04, Vel: 1})

	var fwd OpponentPaddleMsg
	if err := json.Unmarshal(readUntil(t, c2, MsgOpponentPaddle), &fwd); err != nil {
		t.Fatalf("decode opponent_paddle: %v", err)
	}
	if fwd.Pos != 0.04 || fwd.Vel != 1 {
		t.Errorf("forwarded paddle = %+v, want pos 0.04 vel 1", fwd)
	}
}

func TestPaddleCorrectionOverWire(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)

	m1, _ := pairPlayers(t, ts, c1, c2)
	waitRoomRunning(t, ts, m1.MatchID)

	// A teleport claim gets clamped and echoed back
	time.Sleep(50 * time.Millisecond)
	sendMsg(t, c1, MsgPaddle, PaddleMsg{Pos: 2.0, Vel: 1})

	var echo PaddleMsg
	if err := json.Unmarshal(readUntil(t, c1, MsgPaddleCorrected), &echo); err != nil {
		t.Fatalf("decode paddle_corrected: %v", err)
	}
	if echo.Pos >= 2.0 {
		t.Errorf("corrected pos = %f, want clamped below the claim", echo.Pos)
	}
}

func TestDisconnectForfeits(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)

	pairPlayers(t, ts, c1, c2)
	c1.Close()

	var fin MatchFinishedMsg
	if err := json.Unmarshal(readUntil(t, c2, MsgMatchFinished), &fin); err != nil {
		t.Fatalf("decode match_finished: %v", err)
	}
	if fin.Flavor != ResultForfeit {
		t.Errorf("flavor = %s, want forfeit", fin.Flavor)
	}
	if !fin.Winner {
		t.Error("surviving player should win by forfeit")
	}

	waitFor(t, "directory teardown", func() bool {
		return ts.hub.directory.Count() == 0
	})
}

func TestSpectateStreamsBinaryFrames(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)
	watcher := dialWS(t, ts)

	m1, _ := pairPlayers(t, ts, c1, c2)

	sendMsg(t, watcher, MsgSpectate, SpectateMsg{MatchID: m1.MatchID})
	readUntil(t, watcher, MsgSpectating)

	var state SpectatorState
	if err := msgpack.Unmarshal(readBinary(t, watcher), &state); err != nil {
		t.Fatalf("decode spectator frame: %v", err)
	}
	if state.MatchID != m1.MatchID {
		t.Errorf("frame match id = %s, want %s", state.MatchID, m1.MatchID)
	}

	sendMsg(t, watcher, MsgStopSpectate, SpectateMsg{MatchID: m1.MatchID})
	readUntil(t, watcher, MsgSpectateEnded)
	if ts.hub.spectators.WatcherCount(m1.MatchID) != 0 {
		t.Error("stop_spectate should clear the watcher")
	}
}

func TestSpectateUnknownMatchOverWire(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts)

	sendMsg(t, c, MsgSpectate, SpectateMsg{MatchID: "0000000000000000"})
	readUntil(t, c, MsgError)
}

func TestListMatchesOverWire(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)
	observer := dialWS(t, ts)

	m1, _ := pairPlayers(t, ts, c1, c2)

	sendMsg(t, observer, MsgListMatches, nil)
	var list []MatchInfo
	if err := json.Unmarshal(readUntil(t, observer, MsgMatches), &list); err != nil {
		t.Fatalf("decode matches: %v", err)
	}
	if len(list) != 1 || list[0].ID != m1.MatchID {
		t.Errorf("listing = %+v, want the one live match", list)
	}
}

func TestLeaveMatchConcedes(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)

	pairPlayers(t, ts, c1, c2)

	sendMsg(t, c1, MsgLeaveMatch, nil)

	var fin MatchFinishedMsg
	if err := json.Unmarshal(readUntil(t, c1, MsgMatchFinished), &fin); err != nil {
		t.Fatalf("decode match_finished: %v", err)
	}
	if fin.Flavor != ResultForfeit || fin.Winner {
		t.Errorf("leaver result = %+v, want a lost forfeit", fin)
	}
}

func TestQREndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/qr?mid=0000000000000000")
	if err != nil {
		t.Fatalf("GET /qr: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown match status = %d, want 404", resp.StatusCode)
	}

	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)
	m1, _ := pairPlayers(t, ts, c1, c2)

	resp, err = http.Get(ts.srv.URL + "/qr?mid=" + m1.MatchID)
	if err != nil {
		t.Fatalf("GET /qr: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("live match status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %s, want image/png", ct)
	}
}

func TestConnectionLimitPerIP(t *testing.T) {
	ts := startTestServer(t)

	conns := make([]*websocket.Conn, 0, maxConnsPerIP)
	for i := 0; i < maxConnsPerIP; i++ {
		conns = append(conns, dialWS(t, ts))
	}

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	if err == nil {
		t.Fatal("dial past the per-IP limit should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 handshake rejection, got %+v", resp)
	}

	for _, c := range conns {
		c.Close()
	}
}
