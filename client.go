package main

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 120 // paddle updates arrive at up to tick rate
)

var errClientClosed = errors.New("client connection closed")

// Client represents a WebSocket connection. It implements Peer; the core
// components only ever see that interface.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	token      string // stable per-connection token
	remoteAddr string

	// mu guards identity and matchID: both are written on this
	// connection's read goroutine but also touched from the opponent's
	// during pairing.
	mu       sync.Mutex
	identity string // player identifier, set by hello or minted on join
	matchID  string

	closed     atomic.Bool
	msgCount   int
	msgResetAt time.Time
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		token:      uuid.NewString(),
		remoteAddr: remoteAddr,
	}
}

// Token returns the stable per-connection token
func (c *Client) Token() string { return c.token }

// Identity returns the player identifier, or "" before hello/join
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) setIdentity(id string) {
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
}

// IsOpen reports whether the connection is still live
func (c *Client) IsOpen() bool { return !c.closed.Load() }

func (c *Client) setMatch(id string) {
	c.mu.Lock()
	c.matchID = id
	c.mu.Unlock()
}

func (c *Client) currentMatch() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID
}

// markClosed flips the closed flag and closes the send channel. Called
// only from the hub's unregister path.
func (c *Client) markClosed() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.send)
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent sends a typed JSON event to the client (fire-and-forget)
func (c *Client) SendEvent(event string, payload interface{}) {
	data, err := json.Marshal(Envelope{T: event, Data: payload})
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.sendRaw(data)
}

// sendRaw queues pre-marshaled bytes as a text message. A slow client's
// full buffer drops the message rather than blocking the sender.
func (c *Client) sendRaw(data []byte) {
	if c.closed.Load() {
		return
	}
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
	}
}

// SendBinary queues bytes as a binary WebSocket frame, prefixed with a
// 0xFF marker so WritePump can distinguish them from text. Returns an
// error once the connection is closed so broadcasters can evict.
func (c *Client) SendBinary(data []byte) error {
	if c.closed.Load() {
		return errClientClosed
	}
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
	return nil
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError("malformed message")
		return
	}

	switch env.T {
	case MsgHello:
		c.handleHello(env.D)
	case MsgJoinQueue:
		c.handleJoinQueue()
	case MsgLeaveQueue:
		c.handleLeaveQueue()
	case MsgPaddle:
		c.handlePaddle(env.D)
	case MsgSpectate:
		c.handleSpectate(env.D)
	case MsgStopSpectate:
		c.handleStopSpectate(env.D)
	case MsgListMatches:
		c.handleListMatches()
	case MsgLeaveMatch:
		c.handleLeaveMatch()
	default:
		c.sendError("unknown message type")
	}
}

func (c *Client) sendError(msg string) {
	c.SendEvent(MsgError, ErrorMsg{Msg: msg})
}

// ensureIdentity mints a guest identity for clients that never said hello
func (c *Client) ensureIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == "" {
		c.identity = c.hub.identity.NewGuestIdentity()
	}
}

func (c *Client) handleHello(data json.RawMessage) {
	var msg HelloMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed hello")
			return
		}
	}

	if msg.Token != "" {
		identity, err := c.hub.identity.ValidateToken(msg.Token)
		if err == nil {
			c.setIdentity(identity)
			c.SendEvent(MsgWelcome, WelcomeMsg{Identity: identity, Token: msg.Token})
			return
		}
		// Expired or garbage token falls through to a fresh guest identity
	}

	c.ensureIdentity()
	identity := c.Identity()
	token, err := c.hub.identity.IssueToken(identity)
	if err != nil {
		c.sendError("could not issue token")
		return
	}
	c.SendEvent(MsgWelcome, WelcomeMsg{Identity: identity, Token: token})
}

func (c *Client) handleJoinQueue() {
	c.ensureIdentity()

	if mid := c.currentMatch(); mid != "" && c.hub.directory.Get(mid) != nil {
		c.sendError("already in a match")
		return
	}
	c.setMatch("")

	room, err := c.hub.queue.Enqueue(c)
	if err != nil {
		if errors.Is(err, ErrSelfMatch) {
			c.sendError("cannot match with yourself")
			return
		}
		c.sendError(err.Error())
		return
	}
	if room == nil {
		c.SendEvent(MsgQueued, nil)
		return
	}

	if err := c.hub.directory.Register(room); err != nil {
		log.Printf("register room: %v", err)
		c.sendError("could not start match")
		return
	}

	players := room.Players()
	for i, p := range players {
		if cc, ok := p.(*Client); ok {
			cc.setMatch(room.ID)
		}
		p.SendEvent(MsgMatchFound, MatchFoundMsg{
			MatchID:  room.ID,
			Opponent: players[1-i].Identity(),
			Side:     i + 1,
		})
	}

	// A peer can vanish after being claimed from the slot but before the
	// room is registered; its unregister pass misses both the queue and
	// the directory, so catch it here.
	for _, p := range players {
		if !p.IsOpen() {
			room.HandleDisconnect(p.Token())
		}
	}
	go room.Run()
}

func (c *Client) handleLeaveQueue() {
	if c.hub.queue.Dequeue(c) {
		c.SendEvent(MsgLeftQueue, nil)
		return
	}
	c.sendError("not waiting in queue")
}

func (c *Client) handlePaddle(data json.RawMessage) {
	var msg PaddleMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed paddle update")
		return
	}
	mid := c.currentMatch()
	if mid == "" {
		c.sendError("not in a match")
		return
	}
	room := c.hub.directory.Get(mid)
	if room == nil {
		c.sendError("unknown match")
		return
	}
	if err := room.HandlePaddle(c.token, msg.Pos, msg.Vel); err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			c.sendError("invalid paddle velocity")
		case errors.Is(err, ErrUnknownMatch):
			c.sendError("unknown match")
		default:
			c.sendError(err.Error())
		}
	}
}

func (c *Client) handleSpectate(data json.RawMessage) {
	var msg SpectateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed spectate request")
		return
	}
	if err := c.hub.spectators.Watch(msg.MatchID, c); err != nil {
		if errors.Is(err, ErrUnknownMatch) {
			c.sendError("unknown match")
			return
		}
		c.sendError(err.Error())
		return
	}
	c.SendEvent(MsgSpectating, SpectateMsg{MatchID: msg.MatchID})
}

func (c *Client) handleStopSpectate(data json.RawMessage) {
	var msg SpectateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed spectate request")
		return
	}
	c.hub.spectators.StopWatching(msg.MatchID, c)
	c.SendEvent(MsgSpectateEnded, SpectateMsg{MatchID: msg.MatchID})
}

func (c *Client) handleListMatches() {
	c.SendEvent(MsgMatches, c.hub.directory.List())
}

func (c *Client) handleLeaveMatch() {
	mid := c.currentMatch()
	if mid == "" {
		c.sendError("not in a match")
		return
	}
	if room := c.hub.directory.Get(mid); room != nil {
		room.HandleDisconnect(c.token)
	}
	c.setMatch("")
}
