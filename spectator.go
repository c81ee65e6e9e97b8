package main

import (
	"log"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SpectatorTickPeriod decouples spectator fan-out from the simulation
// tick: a pile of slow watchers never delays a room's next tick.
const SpectatorTickPeriod = 50 * time.Millisecond // 20 Hz

// SpectatorRegistry tracks observer connections per match and streams
// snapshots on its own timers. Entries hold only the match id and look the
// room up per broadcast, so no room pointer outlives the directory entry.
type SpectatorRegistry struct {
	dir *Directory

	mu      sync.Mutex
	watched map[string]*spectatedRoom
}

type spectatedRoom struct {
	matchID string
	conns   map[string]Peer // keyed by connection token
	stop    chan struct{}
}

// NewSpectatorRegistry creates a registry resolving rooms through dir
func NewSpectatorRegistry(dir *Directory) *SpectatorRegistry {
	return &SpectatorRegistry{
		dir:     dir,
		watched: make(map[string]*spectatedRoom),
	}
}

// Watch registers a spectator for a match. The first watcher of a match
// starts its broadcast timer.
func (sr *SpectatorRegistry) Watch(matchID string, p Peer) error {
	if sr.dir.Get(matchID) == nil {
		return ErrUnknownMatch
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	entry, ok := sr.watched[matchID]
	if !ok {
		entry = &spectatedRoom{
			matchID: matchID,
			conns:   make(map[string]Peer),
			stop:    make(chan struct{}),
		}
		sr.watched[matchID] = entry
		go sr.broadcastLoop(entry)
	}
	entry.conns[p.Token()] = p
	return nil
}

// StopWatching removes a spectator. The last watcher leaving cancels the
// match's broadcast timer.
func (sr *SpectatorRegistry) StopWatching(matchID string, p Peer) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	entry, ok := sr.watched[matchID]
	if !ok {
		return
	}
	delete(entry.conns, p.Token())
	if len(entry.conns) == 0 {
		sr.dropLocked(entry)
	}
}

// Detach removes a connection from every match it watches. Called on
// disconnect.
func (sr *SpectatorRegistry) Detach(p Peer) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	token := p.Token()
	for _, entry := range sr.watched {
		if _, ok := entry.conns[token]; !ok {
			continue
		}
		delete(entry.conns, token)
		if len(entry.conns) == 0 {
			sr.dropLocked(entry)
		}
	}
}

// DropMatch tears down the spectated room for a finished match regardless
// of spectator count.
func (sr *SpectatorRegistry) DropMatch(matchID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if entry, ok := sr.watched[matchID]; ok {
		for _, p := range entry.conns {
			p.SendEvent(MsgSpectateEnded, SpectateMsg{MatchID: matchID})
		}
		sr.dropLocked(entry)
	}
}

// WatcherCount returns the number of spectators on a match
func (sr *SpectatorRegistry) WatcherCount(matchID string) int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if entry, ok := sr.watched[matchID]; ok {
		return len(entry.conns)
	}
	return 0
}

func (sr *SpectatorRegistry) dropLocked(entry *spectatedRoom) {
	select {
	case <-entry.stop:
	default:
		close(entry.stop)
	}
	delete(sr.watched, entry.matchID)
}

// broadcastLoop pushes snapshots to every watcher of one match until the
// match finishes or the watcher set empties.
func (sr *SpectatorRegistry) broadcastLoop(entry *spectatedRoom) {
	ticker := time.NewTicker(SpectatorTickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-entry.stop:
			return
		case <-ticker.C:
			sr.broadcastTick(entry)
		}
	}
}

// broadcastTick sends one snapshot frame. A failed send removes only that
// spectator; the rest of the fan-out continues.
func (sr *SpectatorRegistry) broadcastTick(entry *spectatedRoom) {
	room := sr.dir.Get(entry.matchID)
	if room == nil || room.State() == RoomFinished {
		sr.DropMatch(entry.matchID)
		return
	}

	frame, err := msgpack.Marshal(room.Snapshot())
	if err != nil {
		log.Printf("spectator snapshot marshal: %v", err)
		return
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	var failed []string
	for token, p := range entry.conns {
		if err := p.SendBinary(frame); err != nil {
			failed = append(failed, token)
		}
	}
	for _, token := range failed {
		delete(entry.conns, token)
	}
	if len(entry.conns) == 0 {
		sr.dropLocked(entry)
	}
}
