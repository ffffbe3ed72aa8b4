// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/geo"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/seriallink"
	"github.com/relabs-tech/gps_tracker/internal/session"
	"github.com/relabs-tech/gps_tracker/internal/store"
)

// startPlanner picks how acquisition starts: the configured port, the
// last good connection, or a full sweep.
type startPlanner struct {
	cfg   config.SerialConfig
	store *store.Store
	log   logrus.FieldLogger

	// resuming is set while the saved connection is being tried; a
	// failure then falls back to discovery once.
	resuming atomic.Bool
	failed   atomic.Bool
}

func (p *startPlanner) Mode() session.Mode {
	if !p.cfg.SearchAllPorts {
		return session.Explicit(p.cfg.Port, p.cfg.BaudIndex)
	}
	if p.cfg.ResumeLast && p.store != nil {
		if c, err := p.store.LastConnection(); err == nil {
			p.resuming.Store(true)
			p.log.WithFields(logrus.Fields{"port": c.PortName, "baud": c.Baud}).Info("trying last GPS connection")
			return session.Explicit(c.Port, c.BaudIndex)
		}
	}
	return session.AutoDiscover()
}

// fallback returns a listener that restarts with discovery when resuming
// the saved connection fails.
func (p *startPlanner) fallback(ctx context.Context, sess *session.Session) session.Listener {
	return func(ev session.Event) {
		switch e := ev.(type) {
		case session.ConnectionMade:
			p.resuming.Store(false)
		case session.ConnectionFailed:
			p.failed.Store(p.resuming.Load())
		case session.StateChanged:
			if e.To != session.Idle || !p.failed.Swap(false) {
				return
			}
			p.resuming.Store(false)
			p.log.Info("last GPS connection failed, searching all ports")
			if err := sess.Start(ctx, session.AutoDiscover()); err != nil {
				p.log.WithError(err).Warn("discovery start failed")
			}
		}
	}
}

// RunTracker runs the GPS tracker until SIGINT or SIGTERM.
func RunTracker(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	// Thresholds set at runtime win over the file.
	if th, err := st.LoadThresholds(); err == nil {
		cfg.Tracking.DistanceKm = th.DistanceKm
		cfg.Tracking.MinIntervalSeconds = th.MinIntervalSeconds
	}

	opener, err := seriallink.NewOpener(cfg.Serial.Driver)
	if err != nil {
		return err
	}
	link := seriallink.New(seriallink.Config{
		FirstPort:   cfg.Serial.FirstPort,
		LastPort:    cfg.Serial.LastPort,
		PortPattern: cfg.Serial.PortPattern,
		Enumerate:   cfg.Serial.Enumerate,
		ProbeLines:  cfg.Serial.ProbeLines,
		ReadTimeout: cfg.Serial.ReadTimeout,
	}, opener, seriallink.WithLogger(log.WithField("component", "serial")))

	projector, err := geo.ForTarget(cfg.Tracking.TargetEPSG)
	if err != nil {
		return err
	}

	sess := session.New(session.Config{
		DistanceKm:         cfg.Tracking.DistanceKm,
		MinIntervalSeconds: cfg.Tracking.MinIntervalSeconds,
		Aggregator: gps.AggregatorConfig{
			MaxLines:       cfg.Tracking.MaxLines,
			ReadErrorLimit: cfg.Tracking.ReadErrorLimit,
			ReadTimeout:    cfg.Serial.ReadTimeout,
		},
		StopGrace: cfg.Tracking.StopGrace,
	}, link, session.WithLogger(log.WithField("component", "session")), session.WithProjector(projector))

	// Listeners run in order; the board goes first so sinks see the
	// event already applied.
	board := newStatusBoard()
	sess.Subscribe(func(ev session.Event) { board.Apply(ev) })
	sess.Subscribe(newPersister(st, log).Handle)

	planner := &startPlanner{cfg: cfg.Serial, store: st, log: log.WithField("component", "tracker")}
	sess.Subscribe(planner.fallback(ctx, sess))

	if cfg.MQTT.Enable {
		client, err := connectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientIDTracker, log)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		sess.Subscribe(newMQTTSink(client, cfg.MQTT, board, log).Handle)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if cfg.Web.Enable {
		web := newWebServer(ctx, sess, board, st, planner.Mode, cfg.Web.StaticDir, log)
		sess.Subscribe(web.Handle)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.serve(ctx, cfg.Web.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if cfg.Display.Enable {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runDisplay(ctx, cfg.Display, board, log); err != nil {
				log.WithError(err).Error("display stopped")
			}
		}()
	}

	if cfg.Tracking.AutoStart {
		if err := sess.Start(ctx, planner.Mode()); err != nil {
			log.WithError(err).Error("acquisition not started")
		}
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		err = nil
	case err = <-errCh:
		stop()
	}

	if cerr := sess.Close(); cerr != nil {
		log.WithError(cerr).Warn("session close")
	}
	wg.Wait()
	return err
}
