// Package mergepool runs room-against-metaroom alignment searches on a
// fixed-size worker pool, handing results back to the main pipeline through
// a channel it drains non-blockingly once per frame — the Go translation of
// the spec's single-producer-per-task, single-consumer channel model.
package mergepool

import (
	"runtime"
	"sync"

	"github.com/bdwalton/mappy/metaroom"
	"github.com/bdwalton/mappy/room"
	"github.com/bdwalton/mappy/tiledb"
)

// Phase distinguishes intermediate (periodic, informational) merge jobs
// from finalize-phase jobs. Only finalize-phase results may mutate the
// metaroom graph.
type Phase int

const (
	PhaseIntermediate Phase = iota
	PhaseFinalize
)

// Result is the message a worker sends back once it has evaluated a room
// against every metaroom it was given: the originating room, the phase, and
// every qualifying (metaroom, offset, cost) candidate found.
type Result struct {
	Phase   Phase
	RoomID  room.ID
	Winners []metaroom.Winner
}

// job is the unit of work a worker pulls off the queue: evaluate newRoom
// against every metaroom in candidates. rooms and db must be snapshots
// private to this job — the caller keeps mutating its own live rooms map
// and TileDB on every frame, so handing a worker those directly would be a
// data race.
type job struct {
	phase      Phase
	newRoom    *room.Room
	candidates []*metaroom.Metaroom
	rooms      map[room.ID]*room.Room
	db         *tiledb.DB
	threshold  float32
}

// Pool is a fixed-size goroutine pool computing merge costs in the
// background.
type Pool struct {
	work    chan job
	results chan Result
	wg      sync.WaitGroup
}

// New starts a Pool with `workers` goroutines (runtime.GOMAXPROCS(0) if <=
// 0, following the teacher stack's convention of sizing concurrency off the
// Go runtime rather than a hardcoded constant).
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		work:    make(chan job, workers*4),
		results: make(chan Result, workers*4),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop()
	}

	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for j := range p.work {
		var winners []metaroom.Winner
		for _, mr := range j.candidates {
			xo, yo, _, ok := metaroom.MergeCost(j.newRoom, mr, j.rooms, j.db, j.threshold)
			if ok {
				winners = append(winners, metaroom.Winner{MetaroomID: mr.ID, OffsetX: xo, OffsetY: yo})
			}
		}
		p.results <- Result{Phase: j.phase, RoomID: j.newRoom.ID, Winners: winners}
	}
}

// Submit dispatches a merge-cost computation for newRoom against candidates.
// It never blocks the caller once the queue has room; the caller is
// expected to be the single main-thread producer. rooms and db must be
// snapshots taken for this call alone (see job) rather than references the
// caller goes on mutating.
func (p *Pool) Submit(phase Phase, newRoom *room.Room, candidates []*metaroom.Metaroom, rooms map[room.ID]*room.Room, db *tiledb.DB, threshold float32) {
	p.work <- job{phase: phase, newRoom: newRoom, candidates: candidates, rooms: rooms, db: db, threshold: threshold}
}

// TryRecv drains one ready result without blocking. ok is false if none are
// ready.
func (p *Pool) TryRecv() (r Result, ok bool) {
	select {
	case r = <-p.results:
		return r, true
	default:
		return Result{}, false
	}
}

// Results exposes the result channel directly, for draining after Finish
// has closed it.
func (p *Pool) Results() <-chan Result { return p.results }

// Finish closes the work queue and blocks until every outstanding task has
// drained, mirroring the spec's THREADS_WAITING drain on shutdown.
func (p *Pool) Finish() {
	close(p.work)
	p.wg.Wait()
	close(p.results)
}
