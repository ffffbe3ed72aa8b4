// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"fmt"
	"sync"

	"github.com/relabs-tech/gps_tracker/internal/geo"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/seriallink"
)

// Event is anything the session reports to its listeners.
type Event interface {
	Kind() string
}

type ConnectionMade struct {
	Info seriallink.Info
}

type ConnectionFailed struct {
	Err error
}

type PositionUpdate struct {
	Fix       gps.Fix
	Projected geo.Point
	Decision  gps.Decision
}

type ConnectionLost struct {
	Err error
}

type StateChanged struct {
	From, To State
}

// AcquisitionHalted reports unusable thresholds. Starting is refused
// until valid thresholds are set.
type AcquisitionHalted struct {
	Err error
}

// TracksErased reports that the current and finished tracks were dropped.
type TracksErased struct{}

type LinkStateChanged struct {
	State seriallink.ConnectionState
}

func (ConnectionMade) Kind() string    { return "connection_made" }
func (ConnectionFailed) Kind() string  { return "connection_failed" }
func (PositionUpdate) Kind() string    { return "position_update" }
func (ConnectionLost) Kind() string    { return "connection_lost" }
func (StateChanged) Kind() string      { return "state_changed" }
func (AcquisitionHalted) Kind() string { return "acquisition_halted" }
func (LinkStateChanged) Kind() string  { return "link_state_changed" }
func (TracksErased) Kind() string      { return "tracks_erased" }

func (e StateChanged) String() string { return fmt.Sprintf("%s -> %s", e.From, e.To) }

// Listener receives events one at a time, in emission order.
type Listener func(Event)

// dispatcher hands events from the worker to listeners on its own
// goroutine. The queue is unbounded so emit never blocks.
type dispatcher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	listeners []Listener
	closed    bool
	done      chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) subscribe(l Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, ev)
	d.cond.Signal()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		listeners := d.listeners
		d.mu.Unlock()

		for _, l := range listeners {
			l(ev)
		}
	}
}

// close delivers what is queued, then stops the dispatcher.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()
	<-d.done
}
