// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session runs track acquisition: it connects the serial link,
// aggregates fixes, filters them into the current track and reports what
// happens to listeners.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/geo"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/metrics"
	"github.com/relabs-tech/gps_tracker/internal/seriallink"
)

const DefaultStopGrace = 2 * time.Second

var ErrAlreadyRunning = errors.New("acquisition already running")

// State of the acquisition worker.
type State int

const (
	Idle State = iota
	Connecting
	Streaming
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects how Start finds the receiver.
type Mode struct {
	Auto      bool
	Port      int
	BaudIndex int
}

func AutoDiscover() Mode { return Mode{Auto: true} }

func Explicit(port, baudIndex int) Mode {
	return Mode{Port: port, BaudIndex: baudIndex}
}

func (m Mode) String() string {
	if m.Auto {
		return "auto"
	}
	return fmt.Sprintf("port %d baud index %d", m.Port, m.BaudIndex)
}

// Link is the serial side the worker drives. *seriallink.Link implements it.
type Link interface {
	Discover(ctx context.Context) (seriallink.Info, error)
	Connect(ctx context.Context, port, baudIndex int) (seriallink.Info, error)
	ReadLine(timeout time.Duration) (string, error)
	MarkLost()
	Close() error
	SetStateHook(fn func(seriallink.ConnectionState))
}

// Config holds the user facing thresholds as typed, plus read tuning.
type Config struct {
	DistanceKm         string
	MinIntervalSeconds string
	Aggregator         gps.AggregatorConfig
	StopGrace          time.Duration
}

// Session owns one worker at a time and the tracks it records.
type Session struct {
	cfg        Config
	link       Link
	log        logrus.FieldLogger
	projector  geo.Projector
	parserOpts []gps.ParserOption
	disp       *dispatcher

	thresholds atomic.Pointer[gps.Thresholds]

	mu     sync.Mutex
	state  State
	halted error
	cancel context.CancelFunc
	done   chan struct{}
	track  gps.Track
	tracks gps.TrackSet
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

func WithProjector(p geo.Projector) Option {
	return func(s *Session) { s.projector = p }
}

func WithParserOptions(opts ...gps.ParserOption) Option {
	return func(s *Session) { s.parserOpts = opts }
}

// New creates an idle session. Invalid thresholds in cfg do not fail
// here; they make Start refuse until SetThresholds fixes them.
func New(cfg Config, link Link, opts ...Option) *Session {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	s := &Session{
		cfg:       cfg,
		link:      link,
		log:       logrus.StandardLogger(),
		projector: geo.WebMercator{},
		disp:      newDispatcher(),
	}
	for _, opt := range opts {
		opt(s)
	}

	th, err := gps.ParseThresholds(cfg.DistanceKm, cfg.MinIntervalSeconds)
	if err != nil {
		s.halted = err
	} else {
		s.thresholds.Store(&th)
	}

	link.SetStateHook(func(cs seriallink.ConnectionState) {
		s.disp.emit(LinkStateChanged{State: cs})
	})
	return s
}

// Subscribe registers a listener. Listeners run on the dispatcher
// goroutine, never on the worker.
func (s *Session) Subscribe(l Listener) {
	s.disp.subscribe(l)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Thresholds returns the active thresholds, false when they are invalid.
func (s *Session) Thresholds() (gps.Thresholds, bool) {
	th := s.thresholds.Load()
	if th == nil {
		return gps.Thresholds{}, false
	}
	return *th, true
}

func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.disp.emit(StateChanged{From: from, To: to})
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	s.setStateLocked(to)
	s.mu.Unlock()
}

// Start launches the worker and returns without waiting for the
// connection. The worker lives until ctx is done, Stop is called, or the
// connection is lost.
func (s *Session) Start(ctx context.Context, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Connecting, Streaming:
		return ErrAlreadyRunning
	}
	if s.halted != nil {
		s.disp.emit(AcquisitionHalted{Err: s.halted})
		return s.halted
	}
	if s.done != nil {
		<-s.done
	}

	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setStateLocked(Connecting)

	go s.run(wctx, mode, s.done)
	return nil
}

// Stop asks the worker to finish and waits up to the stop grace period,
// then force closes the link.
func (s *Session) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	running := s.state == Connecting || s.state == Streaming
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !running || done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.StopGrace):
		s.log.WithField("grace", s.cfg.StopGrace).Warn("acquisition worker did not stop in time, closing port")
		return s.link.Close()
	}
}

// SetThresholds validates and applies new thresholds. Invalid input halts
// a running worker and makes Start refuse.
func (s *Session) SetThresholds(distanceKm, minIntervalSeconds string) error {
	th, err := gps.ParseThresholds(distanceKm, minIntervalSeconds)

	s.mu.Lock()
	if err != nil {
		s.thresholds.Store(nil)
		s.halted = err
		cancel := s.cancel
		s.mu.Unlock()

		s.log.WithError(err).Error("acquisition halted")
		s.disp.emit(AcquisitionHalted{Err: err})
		if cancel != nil {
			cancel()
		}
		return err
	}
	s.cfg.DistanceKm, s.cfg.MinIntervalSeconds = distanceKm, minIntervalSeconds
	s.halted = nil
	s.thresholds.Store(&th)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"distance_km":          th.DistanceKm,
		"min_interval_seconds": th.MinIntervalSeconds,
	}).Info("thresholds updated")
	return nil
}

// CurrentTrack returns a copy of the track being recorded.
func (s *Session) CurrentTrack() gps.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(gps.Track(nil), s.track...)
}

// TrackSet returns a copy of the finished tracks.
func (s *Session) TrackSet() gps.TrackSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(gps.TrackSet, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = append(gps.Track(nil), t...)
	}
	return out
}

// EraseTracks drops the finished tracks and the current one.
func (s *Session) EraseTracks() {
	s.mu.Lock()
	s.track = nil
	s.tracks = nil
	s.disp.emit(TracksErased{})
	s.mu.Unlock()
	metrics.TrackPoints.Set(0)
}

// Close stops the worker and flushes pending events to listeners.
func (s *Session) Close() error {
	err := s.Stop()
	s.disp.close()
	return err
}

func (s *Session) run(ctx context.Context, mode Mode, done chan struct{}) {
	defer close(done)
	log := s.log.WithField("mode", mode.String())

	var (
		info seriallink.Info
		err  error
	)
	if mode.Auto {
		info, err = s.link.Discover(ctx)
	} else {
		info, err = s.link.Connect(ctx, mode.Port, mode.BaudIndex)
	}
	if err != nil {
		if ctx.Err() != nil {
			s.setState(Stopped)
			return
		}
		log.WithError(err).Warn("gps connection failed")
		s.disp.emit(ConnectionFailed{Err: err})
		s.setState(Idle)
		return
	}

	if ctx.Err() != nil {
		// stopped while the probe was still reading
		_ = s.link.Close()
		s.setState(Stopped)
		return
	}

	log.WithFields(logrus.Fields{"port": info.PortName, "baud": info.Baud}).Info("gps connected")
	s.disp.emit(ConnectionMade{Info: info})
	s.setState(Streaming)

	lost := s.stream(ctx, log)

	s.mu.Lock()
	if len(s.track) > 0 {
		s.tracks = append(s.tracks, s.track)
		s.track = nil
	}
	s.mu.Unlock()
	metrics.TrackPoints.Set(0)

	if !lost {
		_ = s.link.Close()
	}
	s.setState(Stopped)
}

// stream reads fixes until ctx is done or the connection is lost, and
// reports whether it was lost.
func (s *Session) stream(ctx context.Context, log logrus.FieldLogger) bool {
	agg := gps.NewAggregator(s.link, gps.NewParser(s.parserOpts...), s.cfg.Aggregator, log)
	for {
		fix, err := agg.Next(ctx)
		if err != nil {
			if errors.Is(err, gps.ErrConnectionLost) {
				log.WithError(err).Error("gps connection lost")
				s.link.MarkLost()
				s.disp.emit(ConnectionLost{Err: err})
				return true
			}
			return false
		}
		if !fix.HasFix {
			continue
		}

		th := s.thresholds.Load()
		if th == nil {
			return false
		}

		var perr error
		s.mu.Lock()
		dec := gps.Evaluate(fix, s.track.Last(), *th)
		if dec.Accepted {
			// emitted under the lock so an erase cannot slip in between
			var pt geo.Point
			pt, perr = s.projector.Project(fix.DatumEPSG, fix.SignedLongitude(), fix.SignedLatitude())
			s.track = append(s.track, fix)
			s.disp.emit(PositionUpdate{Fix: fix, Projected: pt, Decision: dec})
		}
		n := len(s.track)
		s.mu.Unlock()

		metrics.Decisions.WithLabelValues(dec.Reason).Inc()
		if !dec.Accepted {
			continue
		}
		metrics.TrackPoints.Set(float64(n))
		if perr != nil {
			log.WithError(perr).Warn("projection failed")
		}
	}
}
