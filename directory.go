package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// DeriveMatchID combines both players' connection tokens into a stable
// match id. The combination is order-independent so reconnection logic can
// recompute the same id from either side.
func DeriveMatchID(tokenA, tokenB string) string {
	if tokenB < tokenA {
		tokenA, tokenB = tokenB, tokenA
	}
	sum := sha256.Sum256([]byte(tokenA + ":" + tokenB))
	return hex.EncodeToString(sum[:8])
}

// Directory is the process-wide registry of live match rooms. It is the
// sole owner of room lifetimes: rooms are inserted on creation and removed
// on FINISHED or shutdown.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewDirectory creates an empty Directory
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*Room)}
}

// Register inserts a room. Duplicate ids are refused.
func (d *Directory) Register(r *Room) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[r.ID]; ok {
		return fmt.Errorf("match id %s already registered", r.ID)
	}
	d.rooms[r.ID] = r
	return nil
}

// Get returns the room for a match id, or nil
func (d *Directory) Get(id string) *Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[id]
}

// Remove drops a room from the registry
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, id)
}

// FindByToken returns the room a connection token is playing in, or nil
func (d *Directory) FindByToken(token string) *Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.rooms {
		if r.HasPlayer(token) {
			return r
		}
	}
	return nil
}

// Count returns the number of live rooms
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

// List returns lobby info for all live rooms
func (d *Directory) List() []MatchInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]MatchInfo, 0, len(d.rooms))
	for _, r := range d.rooms {
		list = append(list, r.Info())
	}
	return list
}

// Shutdown stops every room. Used on process exit.
func (d *Directory) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, r := range d.rooms {
		r.Stop()
		delete(d.rooms, id)
	}
}
