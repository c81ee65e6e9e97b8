package main

import (
	"log"
	"sync"
	"time"
)

// Result flavors
const (
	ResultScore   = "score"   // a side reached the score limit
	ResultForfeit = "forfeit" // a participant disconnected mid-match
	ResultAborted = "aborted" // the room was force-finished internally
)

// Result is produced exactly once per finished room and handed to the
// ResultSink; the core does not retain it afterward.
type Result struct {
	MatchID string
	Player1 string
	Player2 string
	Score1  int
	Score2  int
	Winner  int // 1, 2, or 0 for aborted matches
	Flavor  string
	EndedAt time.Time
}

// ResultSink receives finished-match results. Sink failures must never
// block room teardown.
type ResultSink interface {
	RecordResult(res Result)
}

// resultSaver is the persistence half the async sink writes through
type resultSaver interface {
	SaveResult(res Result) error
}

// AsyncResultSink batches results onto a background writer so the rooms'
// teardown path never waits on the database.
type AsyncResultSink struct {
	saver   resultSaver
	results chan Result
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewAsyncResultSink creates and starts the background writer
func NewAsyncResultSink(saver resultSaver) *AsyncResultSink {
	s := &AsyncResultSink{
		saver:   saver,
		results: make(chan Result, 256),
		stop:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

// RecordResult enqueues a result for async persistence (non-blocking)
func (s *AsyncResultSink) RecordResult(res Result) {
	select {
	case s.results <- res:
	default:
		// Channel full, drop rather than blocking teardown
		log.Printf("result sink full, dropping result for match %s", res.MatchID)
	}
}

// Stop flushes pending results and shuts the writer down
func (s *AsyncResultSink) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *AsyncResultSink) writer() {
	defer s.wg.Done()

	batch := make([]Result, 0, 16)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case res := <-s.results:
			batch = append(batch, res)
			if len(batch) >= 16 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.stop:
			// Drain whatever is queued before exiting
			for {
				select {
				case res := <-s.results:
					batch = append(batch, res)
				default:
					if len(batch) > 0 {
						s.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (s *AsyncResultSink) flush(batch []Result) {
	for _, res := range batch {
		if err := s.saver.SaveResult(res); err != nil {
			log.Printf("save result for match %s: %v", res.MatchID, err)
		}
	}
}
