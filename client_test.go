package main

import (
	"encoding/json"
	"sync"
	"testing"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	t.Setenv("PONG_JWT_SECRET", "")
	hub := NewHub(NewIdentityIssuer(nil), nil)
	t.Cleanup(hub.directory.Shutdown)
	return hub
}

// sentEvents drains a client's send buffer into decoded envelopes
func sentEvents(c *Client) []InEnvelope {
	var out []InEnvelope
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var env InEnvelope
			if json.Unmarshal(raw, &env) == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func TestHelloConcurrentWithPairing(t *testing.T) {
	hub := newTestHub(t)
	c1 := NewClient(hub, nil, "10.0.0.1")
	c2 := NewClient(hub, nil, "10.0.0.2")

	token, err := hub.identity.IssueToken("guest-riley")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	raw, _ := json.Marshal(HelloMsg{Token: token})

	if _, err := hub.queue.Enqueue(c1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// A queued client re-presenting its token must not race the pairing
	// read of its identity.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c1.handleHello(raw)
	}()
	go func() {
		defer wg.Done()
		c2.handleJoinQueue()
	}()
	wg.Wait()

	if got := c1.Identity(); got != "guest-riley" {
		t.Errorf("identity after hello = %q, want guest-riley", got)
	}
	if c1.currentMatch() == "" || c1.currentMatch() != c2.currentMatch() {
		t.Error("both connections should land in the same match")
	}
}

func TestJoinQueueWithVanishedWaiterForfeits(t *testing.T) {
	hub := newTestHub(t)
	c1 := NewClient(hub, nil, "10.0.0.1")
	c2 := NewClient(hub, nil, "10.0.0.2")
	c1.ensureIdentity()

	hub.queue.Enqueue(c1)
	// The disconnect lands after the slot claim: Dequeue misses because
	// the slot is already empty, FindByToken misses because the room is
	// not registered yet.
	c1.markClosed()

	c2.handleJoinQueue()

	waitFor(t, "forfeit teardown", func() bool { return hub.directory.Count() == 0 })

	var fin *MatchFinishedMsg
	for _, env := range sentEvents(c2) {
		if env.T != MsgMatchFinished {
			continue
		}
		var msg MatchFinishedMsg
		if err := json.Unmarshal(env.D, &msg); err != nil {
			t.Fatalf("decode match_finished: %v", err)
		}
		fin = &msg
	}
	if fin == nil {
		t.Fatal("survivor never received match_finished")
	}
	if fin.Flavor != ResultForfeit || !fin.Winner {
		t.Errorf("result = %+v, want a won forfeit", fin)
	}
}
