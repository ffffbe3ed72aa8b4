// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/geo"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/session"
)

// replayer pushes a recorded NMEA stream through the same aggregation and
// filtering as a live receiver.
type replayer struct {
	agg       *gps.Aggregator
	th        gps.Thresholds
	projector geo.Projector
	pace      time.Duration
	out       io.Writer
	log       logrus.FieldLogger
}

// run prints every accepted fix and returns the recorded track. The end
// of the input shows up as a lost connection and is not an error.
func (r *replayer) run(ctx context.Context) (gps.Track, error) {
	var track gps.Track
	for {
		fix, err := r.agg.Next(ctx)
		if errors.Is(err, gps.ErrConnectionLost) {
			return track, nil
		}
		if err != nil {
			return track, err
		}
		if !fix.HasFix {
			continue
		}

		dec := gps.Evaluate(fix, track.Last(), r.th)
		if !dec.Accepted {
			r.log.WithField("reason", dec.Reason).Debug("fix rejected")
			continue
		}
		track = append(track, fix)

		pt, err := r.projector.Project(fix.DatumEPSG, fix.SignedLongitude(), fix.SignedLatitude())
		if err != nil {
			r.log.WithError(err).Warn("projection failed")
		}
		msg := newPositionMessage(session.PositionUpdate{Fix: fix, Projected: pt, Decision: dec}, len(track)-1)
		fmt.Fprint(r.out, formatPosition(msg))

		if r.pace > 0 {
			select {
			case <-ctx.Done():
				return track, ctx.Err()
			case <-time.After(r.pace):
			}
		}
	}
}

// receiverClock stamps replayed fixes as if the receiver reported once
// per step, starting at start.
func receiverClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// RunReplay replays an NMEA capture file to stdout.
func RunReplay(cfgPath, file string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	if file == "" {
		file = cfg.Console.Replay
	}
	if file == "" {
		return errors.New("no NMEA file to replay; pass one or set console.replay")
	}

	th, err := gps.ParseThresholds(cfg.Tracking.DistanceKm, cfg.Tracking.MinIntervalSeconds)
	if err != nil {
		return err
	}
	projector, err := geo.ForTarget(cfg.Tracking.TargetEPSG)
	if err != nil {
		return err
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &replayer{
		agg: gps.NewAggregator(gps.NewReaderSource(f), gps.NewParser(gps.WithClock(receiverClock(time.Now(), time.Second))), gps.AggregatorConfig{
			MaxLines:       cfg.Tracking.MaxLines,
			ReadErrorLimit: cfg.Tracking.ReadErrorLimit,
		}, log),
		th:        th,
		projector: projector,
		pace:      cfg.Console.Pace,
		out:       os.Stdout,
		log:       log,
	}
	track, err := r.run(ctx)
	log.WithField("points", len(track)).Info("replay finished")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
