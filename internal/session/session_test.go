// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/seriallink"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", payload, ck)
}

// group is one complete fix, latMinutes arc minutes north of 48°.
func group(latMinutes int) []string {
	return []string{
		nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"),
		nmeaLine("GPGSV,1,1,04,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,42"),
		nmeaLine(fmt.Sprintf("GPGGA,123519,48%02d.000,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,", latMinutes)),
	}
}

// scriptedPort serves chunks, then either fails with tail or idles.
type scriptedPort struct {
	mu     sync.Mutex
	chunks []string
	tail   error
	closed bool
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(p.chunks) > 0 {
		n := copy(b, p.chunks[0])
		if n < len(p.chunks[0]) {
			p.chunks[0] = p.chunks[0][n:]
		} else {
			p.chunks = p.chunks[1:]
		}
		p.mu.Unlock()
		return n, nil
	}
	tail := p.tail
	p.mu.Unlock()
	if tail != nil {
		return 0, tail
	}
	time.Sleep(time.Millisecond)
	return 0, io.EOF
}

func (p *scriptedPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *scriptedPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *scriptedPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// latePort stays silent until its wake time, then serves the script.
type latePort struct {
	*scriptedPort
	wake time.Time
}

func (p *latePort) Read(b []byte) (int, error) {
	if time.Now().Before(p.wake) && !p.isClosed() {
		time.Sleep(time.Millisecond)
		return 0, io.EOF
	}
	return p.scriptedPort.Read(b)
}

type portOpener map[string]io.ReadWriteCloser

func (o portOpener) Open(name string, _ int) (io.ReadWriteCloser, error) {
	if p, ok := o[name]; ok {
		return p, nil
	}
	return nil, errors.New("no such device")
}

func streamingPort(fixes int, tail error) *scriptedPort {
	p := &scriptedPort{tail: tail}
	p.chunks = append(p.chunks, nmeaLine("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1"))
	for i := 0; i < fixes; i++ {
		p.chunks = append(p.chunks, group(7+i)...)
	}
	return p
}

// steppingClock advances ten seconds on every call.
func steppingClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * 10 * time.Second)
	}
}

type recorder struct {
	events chan Event
}

func newRecorder(s *Session) *recorder {
	r := &recorder{events: make(chan Event, 1024)}
	s.Subscribe(func(ev Event) { r.events <- ev })
	return r
}

func (r *recorder) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.events:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func isState(to State) func(Event) bool {
	return func(ev Event) bool {
		sc, ok := ev.(StateChanged)
		return ok && sc.To == to
	}
}

func isKind(kind string) func(Event) bool {
	return func(ev Event) bool { return ev.Kind() == kind }
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestSession(t *testing.T, opener seriallink.Opener, distance, interval string) *Session {
	t.Helper()
	link := seriallink.New(seriallink.Config{PortPattern: "sim%d", ReadTimeout: 20 * time.Millisecond},
		opener, seriallink.WithLogger(quietLogger()))
	s := New(Config{
		DistanceKm:         distance,
		MinIntervalSeconds: interval,
		Aggregator:         gps.AggregatorConfig{ReadTimeout: 5 * time.Millisecond},
		StopGrace:          time.Second,
	}, link, WithLogger(quietLogger()), WithParserOptions(gps.WithClock(steppingClock())))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_StreamsUntilConnectionLost(t *testing.T) {
	port := streamingPort(3, errors.New("device disconnected"))
	s := newTestSession(t, portOpener{"sim2": port}, "0.5", "5")
	rec := newRecorder(s)

	require.NoError(t, s.Start(context.Background(), Explicit(2, 3)))

	made := rec.waitFor(t, isKind("connection_made")).(ConnectionMade)
	assert.Equal(t, seriallink.Info{Port: 2, PortName: "sim2", Baud: 9600, BaudIndex: 3}, made.Info)

	var updates []PositionUpdate
	for i := 0; i < 3; i++ {
		updates = append(updates, rec.waitFor(t, isKind("position_update")).(PositionUpdate))
	}
	assert.Equal(t, gps.ReasonFirst, updates[0].Decision.Reason)
	assert.Equal(t, gps.ReasonAccepted, updates[1].Decision.Reason)
	assert.InDelta(t, 48+8.0/60, updates[1].Fix.Latitude, 1e-9)
	assert.Greater(t, updates[2].Projected.Y, updates[1].Projected.Y)

	rec.waitFor(t, isKind("connection_lost"))
	rec.waitFor(t, isState(Stopped))

	assert.Equal(t, Stopped, s.State())
	assert.Empty(t, s.CurrentTrack())
	require.Len(t, s.TrackSet(), 1)
	assert.Len(t, s.TrackSet()[0], 3)
	assert.True(t, port.isClosed())
}

func TestSession_FilterRejectsNearbyFixes(t *testing.T) {
	port := streamingPort(3, errors.New("device disconnected"))
	s := newTestSession(t, portOpener{"sim0": port}, "5", "0")
	rec := newRecorder(s)

	require.NoError(t, s.Start(context.Background(), Explicit(0, 0)))
	rec.waitFor(t, isState(Stopped))

	require.Len(t, s.TrackSet(), 1)
	assert.Len(t, s.TrackSet()[0], 1)
}

func TestSession_StopKeepsTrack(t *testing.T) {
	port := streamingPort(2, nil)
	s := newTestSession(t, portOpener{"sim1": port}, "0.5", "0")
	rec := newRecorder(s)

	require.NoError(t, s.Start(context.Background(), AutoDiscover()))
	rec.waitFor(t, isKind("position_update"))
	rec.waitFor(t, isKind("position_update"))
	assert.Len(t, s.CurrentTrack(), 2)
	assert.Equal(t, Streaming, s.State())

	require.NoError(t, s.Stop())
	assert.Equal(t, Stopped, s.State())
	assert.Empty(t, s.CurrentTrack())
	require.Len(t, s.TrackSet(), 1)
	assert.True(t, port.isClosed())

	s.EraseTracks()
	assert.Empty(t, s.TrackSet())
	rec.waitFor(t, isKind("tracks_erased"))
}

func TestSession_StopDuringProbeSkipsConnection(t *testing.T) {
	port := &latePort{scriptedPort: streamingPort(2, nil), wake: time.Now().Add(120 * time.Millisecond)}
	s := newTestSession(t, portOpener{"sim0": port}, "0.1", "0")
	rec := newRecorder(s)

	require.NoError(t, s.Start(context.Background(), Explicit(0, 0)))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Equal(t, Stopped, s.State())

	// let the port wake up; a late probe hit must not connect
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Close())

	for {
		select {
		case ev := <-rec.events:
			assert.NotEqual(t, "connection_made", ev.Kind())
			if sc, ok := ev.(StateChanged); ok {
				assert.NotEqual(t, Streaming, sc.To)
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, Stopped, s.State())
	assert.True(t, port.isClosed())
	assert.Empty(t, s.TrackSet())
}

func TestSession_ConnectionFailedReturnsToIdle(t *testing.T) {
	s := newTestSession(t, portOpener{}, "1", "0")
	rec := newRecorder(s)

	require.NoError(t, s.Start(context.Background(), Explicit(4, 2)))
	failed := rec.waitFor(t, isKind("connection_failed")).(ConnectionFailed)
	assert.ErrorIs(t, failed.Err, seriallink.ErrConnectFailed)
	rec.waitFor(t, isState(Idle))
	assert.Equal(t, Idle, s.State())
}

func TestSession_InvalidThresholdsRefuseStart(t *testing.T) {
	port := streamingPort(1, nil)
	s := newTestSession(t, portOpener{"sim0": port}, "far", "0")
	rec := newRecorder(s)

	err := s.Start(context.Background(), Explicit(0, 0))
	require.ErrorIs(t, err, gps.ErrInvalidThreshold)
	halted := rec.waitFor(t, isKind("acquisition_halted")).(AcquisitionHalted)
	assert.ErrorIs(t, halted.Err, gps.ErrInvalidThreshold)
	assert.Equal(t, Idle, s.State())

	require.NoError(t, s.SetThresholds("0.1", "0"))
	th, ok := s.Thresholds()
	require.True(t, ok)
	assert.Equal(t, 0.1, th.DistanceKm)
	require.NoError(t, s.Start(context.Background(), Explicit(0, 0)))
	rec.waitFor(t, isKind("position_update"))
}

func TestSession_InvalidThresholdsHaltStreaming(t *testing.T) {
	port := streamingPort(1, nil)
	s := newTestSession(t, portOpener{"sim0": port}, "0.1", "0")
	rec := newRecorder(s)

	require.NoError(t, s.Start(context.Background(), Explicit(0, 0)))
	rec.waitFor(t, isKind("position_update"))

	err := s.SetThresholds("0.1", "soon")
	require.ErrorIs(t, err, gps.ErrInvalidThreshold)
	rec.waitFor(t, isKind("acquisition_halted"))
	rec.waitFor(t, isState(Stopped))
	_, ok := s.Thresholds()
	assert.False(t, ok)
}

func TestSession_StartWhileRunning(t *testing.T) {
	port := streamingPort(1, nil)
	s := newTestSession(t, portOpener{"sim0": port}, "0.1", "0")
	rec := newRecorder(s)

	require.NoError(t, s.Start(context.Background(), Explicit(0, 0)))
	rec.waitFor(t, isState(Streaming))
	assert.ErrorIs(t, s.Start(context.Background(), Explicit(0, 0)), ErrAlreadyRunning)
}

func TestSession_StopWhenIdle(t *testing.T) {
	s := newTestSession(t, portOpener{}, "1", "0")
	assert.NoError(t, s.Stop())
	assert.Equal(t, Idle, s.State())
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	d := newDispatcher()
	var got []int
	d.subscribe(func(ev Event) {
		got = append(got, int(ev.(LinkStateChanged).State))
	})
	for i := 0; i < 100; i++ {
		d.emit(LinkStateChanged{State: seriallink.ConnectionState(i)})
	}
	d.close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	d.emit(LinkStateChanged{})
	assert.Len(t, got, 100)
}
