package main

import "sync"

// Matchmaker holds at most one waiting connection. Pairing is strictly
// 1-to-1 on arrival: the slot is read, checked and cleared under one lock
// so the same waiter can never be paired twice.
type Matchmaker struct {
	mu      sync.Mutex
	waiting Peer

	// pair constructs the room for two matched peers, still under the
	// slot lock.
	pair func(a, b Peer) *Room
}

// NewMatchmaker creates a matchmaker that builds rooms with pair
func NewMatchmaker(pair func(a, b Peer) *Room) *Matchmaker {
	return &Matchmaker{pair: pair}
}

// Enqueue offers a connection for pairing. With an empty slot the caller
// becomes the waiter and nil is returned. A waiter with the same player
// identity fails with ErrSelfMatch and the slot is left untouched.
// Otherwise the slot is cleared and the new room returned.
func (m *Matchmaker) Enqueue(p Peer) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.waiting == nil {
		m.waiting = p
		return nil, nil
	}
	if m.waiting.Identity() == p.Identity() {
		return nil, ErrSelfMatch
	}

	opponent := m.waiting
	m.waiting = nil
	return m.pair(opponent, p), nil
}

// Dequeue removes p from the slot iff p is the current occupant. Used when
// a waiting client disconnects or cancels before being paired.
func (m *Matchmaker) Dequeue(p Peer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.waiting == nil || m.waiting.Token() != p.Token() {
		return false
	}
	m.waiting = nil
	return true
}

// Waiting reports whether a connection is parked in the slot
func (m *Matchmaker) Waiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting != nil
}
