// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"

	"github.com/relabs-tech/gps_tracker/internal/session"
)

func formatPosition(m PositionMessage) string {
	f := m.Fix
	return fmt.Sprintf(
		"[GPS ] %s #%d lat=%.6f%s lon=%.6f%s sats=%d hdop=%.1f speed=%.1fkm/h course=%.1f quality=%q dist=%.3fkm\n",
		f.Timestamp, m.TrackIndex, f.Latitude, f.LatitudeHemisphere, f.Longitude, f.LongitudeHemisphere,
		f.NumSatellites, f.HDOP, f.SpeedKmh, f.BearingDeg, m.Quality, m.Decision.DistanceKm,
	)
}

func formatStatus(s Status) string {
	line := fmt.Sprintf("[STAT] state=%s link=%s points=%d", s.State, s.Link, s.Points)
	if s.Connection != nil {
		line += fmt.Sprintf(" port=%s baud=%d", s.Connection.PortName, s.Connection.Baud)
	}
	if s.LastError != "" {
		line += fmt.Sprintf(" error=%q", s.LastError)
	}
	return line + "\n"
}

// consoleSink prints session events, one line each.
type consoleSink struct {
	w     io.Writer
	board *statusBoard
}

func (c *consoleSink) Handle(ev session.Event) {
	switch ev.(type) {
	case session.PositionUpdate:
		if st := c.board.Snapshot(); st.Last != nil {
			fmt.Fprint(c.w, formatPosition(*st.Last))
		}
	case session.StateChanged, session.ConnectionMade, session.ConnectionFailed,
		session.ConnectionLost, session.AcquisitionHalted:
		fmt.Fprint(c.w, formatStatus(c.board.Snapshot()))
	}
}
