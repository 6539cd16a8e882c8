// Package task implements the small cooperative task graph Design Note §9
// calls for in place of the source's mutable task struct plus busy flag: a
// tagged-variant future (Idle/InFlight/Done) driven by a scheduler, used by
// the Name Service async stub (§4.3) to run a lookup or heartbeat without
// blocking the caller's goroutine until it chooses to wait. That stub
// dispatches single-stage graphs.
package task

import "sync"

// State is the tagged-variant state of a Future.
type State int

const (
	Idle State = iota
	InFlight
	Done
)

// Future is the terminal handle a caller holds after dispatching an async
// operation: it may Wait for the result or just check State.
type Future struct {
	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	result interface{}
	err    error
}

func newFuture() *Future {
	f := &Future{state: InFlight}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Future) finish(result interface{}, err error) {
	f.mu.Lock()
	f.result, f.err, f.state = result, err, Done
	f.mu.Unlock()
	f.cond.Broadcast()
}

// State reports the future's current tag without blocking.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Wait blocks until the future reaches Done and returns its result.
func (f *Future) Wait() (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.state != Done {
		f.cond.Wait()
	}
	return f.result, f.err
}

// Stage is one node of the task graph. The Name Service async stub's graphs
// have one stage that performs the whole operation.
type Stage func() (interface{}, error)

// Graph is a directed chain of stages run on a scheduler goroutine. Each
// stage's return value becomes unused by the next stage (stages close over
// shared buffers instead, the way the source's request/reply structs do);
// only the last stage's result reaches the caller.
type Graph struct {
	stages []Stage
}

func NewGraph(stages ...Stage) *Graph {
	return &Graph{stages: stages}
}

// Dispatch runs the graph's stages in order on a new goroutine and returns
// immediately with a Future for the terminal stage. If any stage returns an
// error, later stages are skipped and the Future carries that error.
func (g *Graph) Dispatch() *Future {
	f := newFuture()

	go func() {
		var last interface{}
		var err error
		for _, stage := range g.stages {
			last, err = stage()
			if err != nil {
				break
			}
		}
		f.finish(last, err)
	}()

	return f
}
