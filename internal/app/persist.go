// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/session"
	"github.com/relabs-tech/gps_tracker/internal/store"
)

// persister records the last good connection and every finished track.
type persister struct {
	store *store.Store
	log   logrus.FieldLogger
	track gps.Track
}

func newPersister(st *store.Store, log logrus.FieldLogger) *persister {
	return &persister{store: st, log: log.WithField("component", "store")}
}

func (p *persister) Handle(ev session.Event) {
	switch e := ev.(type) {
	case session.ConnectionMade:
		err := p.store.SaveConnection(store.Connection{
			Port:      e.Info.Port,
			PortName:  e.Info.PortName,
			Baud:      e.Info.Baud,
			BaudIndex: e.Info.BaudIndex,
		})
		if err != nil {
			p.log.WithError(err).Warn("failed to save connection")
		}
	case session.PositionUpdate:
		p.track = append(p.track, e.Fix)
	case session.TracksErased:
		p.track = nil
	case session.StateChanged:
		if e.To != session.Stopped || len(p.track) == 0 {
			return
		}
		id, err := p.store.AppendTrack(p.track)
		if err != nil {
			p.log.WithError(err).Warn("failed to save track")
		} else {
			p.log.WithFields(logrus.Fields{"id": id, "points": len(p.track)}).Info("track saved")
		}
		p.track = nil
	}
}
