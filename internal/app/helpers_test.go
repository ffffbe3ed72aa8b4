// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gps_tracker/internal/geo"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/seriallink"
	"github.com/relabs-tech/gps_tracker/internal/session"
	"github.com/relabs-tech/gps_tracker/internal/store"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func openTempStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testFix(lat float64, ts string) gps.Fix {
	return gps.Fix{
		HasFix:              true,
		Latitude:            lat,
		LatitudeHemisphere:  "N",
		Longitude:           7.6869,
		LongitudeHemisphere: "E",
		DatumEPSG:           gps.EPSGWGS84,
		NumSatellites:       8,
		HDOP:                0.9,
		FixQuality:          gps.FixGPS,
		Timestamp:           ts,
		SpeedKmh:            18.52,
		BearingDeg:          84.4,
	}
}

func testUpdate(lat float64, ts string) session.PositionUpdate {
	return session.PositionUpdate{
		Fix:       testFix(lat, ts),
		Projected: geo.Point{X: 855701.79, Y: 5632595.58, EPSG: geo.EPSGWebMercator},
		Decision:  gps.Decision{Accepted: true, Reason: gps.ReasonFirst},
	}
}

// streamEvents is the event sequence of a session that connected,
// recorded two fixes and then lost the receiver.
func streamEvents() []session.Event {
	return []session.Event{
		session.StateChanged{From: session.Idle, To: session.Connecting},
		session.LinkStateChanged{State: seriallink.Searching},
		session.LinkStateChanged{State: seriallink.Connected},
		session.ConnectionMade{Info: seriallink.Info{Port: 3, PortName: "/dev/ttyUSB3", Baud: 9600, BaudIndex: 3}},
		session.StateChanged{From: session.Connecting, To: session.Streaming},
		testUpdate(45.0703, "2024-05-01 10:00:00"),
		testUpdate(45.0803, "2024-05-01 10:01:00"),
		session.ConnectionLost{Err: errors.New("connection lost")},
		session.LinkStateChanged{State: seriallink.Lost},
		session.StateChanged{From: session.Streaming, To: session.Stopped},
	}
}
