package main

import "sync"

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Hub manages all connected clients and wires them to the matchmaking
// queue, the session directory, the spectator registry and the result sink.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int

	queue      *Matchmaker
	directory  *Directory
	spectators *SpectatorRegistry
	identity   *IdentityIssuer
	results    ResultSink
}

// NewHub creates a Hub with its core components wired together
func NewHub(identity *IdentityIssuer, results ResultSink) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		ipConns:    make(map[string]int),
		identity:   identity,
		results:    results,
	}
	h.directory = NewDirectory()
	h.spectators = NewSpectatorRegistry(h.directory)
	h.queue = NewMatchmaker(h.newRoom)
	return h
}

// newRoom constructs a room for two freshly paired peers
func (h *Hub) newRoom(a, b Peer) *Room {
	id := DeriveMatchID(a.Token(), b.Token())
	return NewRoom(id, a, b, h.roomFinished)
}

// roomFinished tears a finished room down: directory entry, spectator
// entry, then the result record. Sink failures never block this path.
func (h *Hub) roomFinished(r *Room, res Result) {
	h.directory.Remove(r.ID)
	h.spectators.DropMatch(r.ID)
	if h.results != nil {
		h.results.RecordResult(res)
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.markClosed()
			}
			h.mu.Unlock()

			// A waiting client leaves the slot; a playing client forfeits;
			// a spectating client is detached everywhere it watches.
			h.queue.Dequeue(client)
			if room := h.directory.FindByToken(client.token); room != nil {
				room.HandleDisconnect(client.token)
			}
			h.spectators.Detach(client)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
