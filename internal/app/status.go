// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"sync"

	"github.com/relabs-tech/gps_tracker/internal/geo"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/seriallink"
	"github.com/relabs-tech/gps_tracker/internal/session"
)

// PositionMessage is the wire form of an accepted fix, shared by MQTT,
// the web API and the websocket feed.
type PositionMessage struct {
	Fix        gps.Fix      `json:"fix"`
	Quality    string       `json:"quality"`
	Projected  geo.Point    `json:"projected"`
	Decision   gps.Decision `json:"decision"`
	TrackIndex int          `json:"track_index"`
}

func newPositionMessage(ev session.PositionUpdate, trackIndex int) PositionMessage {
	return PositionMessage{
		Fix:        ev.Fix,
		Quality:    ev.Fix.FixQuality.String(),
		Projected:  ev.Projected,
		Decision:   ev.Decision,
		TrackIndex: trackIndex,
	}
}

// Status is the tracker's externally visible state.
type Status struct {
	State      string           `json:"state"`
	Link       string           `json:"link"`
	Connection *seriallink.Info `json:"connection,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	Points     int              `json:"points"`
	Last       *PositionMessage `json:"last,omitempty"`
}

// statusBoard folds session events into a Status snapshot.
type statusBoard struct {
	mu     sync.RWMutex
	status Status
}

func newStatusBoard() *statusBoard {
	return &statusBoard{status: Status{
		State: session.Idle.String(),
		Link:  seriallink.Disconnected.String(),
	}}
}

func (b *statusBoard) Snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.status
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	if s.Connection != nil {
		c := *s.Connection
		s.Connection = &c
	}
	return s
}

// Apply updates the board and reports whether the event changed it.
func (b *statusBoard) Apply(ev session.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch e := ev.(type) {
	case session.StateChanged:
		b.status.State = e.To.String()
		if e.To == session.Connecting {
			b.status.Points = 0
			b.status.LastError = ""
		}
	case session.LinkStateChanged:
		b.status.Link = e.State.String()
	case session.ConnectionMade:
		info := e.Info
		b.status.Connection = &info
	case session.ConnectionFailed:
		b.status.LastError = e.Err.Error()
	case session.ConnectionLost:
		b.status.LastError = e.Err.Error()
	case session.AcquisitionHalted:
		b.status.LastError = e.Err.Error()
	case session.TracksErased:
		b.status.Points = 0
	case session.PositionUpdate:
		b.status.Points++
		msg := newPositionMessage(e, b.status.Points-1)
		b.status.Last = &msg
	default:
		return false
	}
	return true
}
