// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics holds the Prometheus collectors shared by the tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gps_tracker"

var (
	// Sentences counts NMEA sentences by type and result ("ok", "decode_error", "no_fix").
	Sentences = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sentences_total",
		Help:      "NMEA sentences handled, by sentence type and result.",
	}, []string{"type", "result"})

	// ReadErrors counts serial read errors during streaming.
	ReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_errors_total",
		Help:      "Serial read errors seen while streaming.",
	})

	// Cycles counts aggregation cycles by outcome ("complete", "budget", "lost").
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_cycles_total",
		Help:      "Fix aggregation cycles, by outcome.",
	}, []string{"outcome"})

	// Decisions counts acquisition filter decisions by reason.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fix_decisions_total",
		Help:      "Acquisition filter decisions, by reason.",
	}, []string{"reason"})

	// Probes counts port/baud probes during discovery by result ("nmea", "silent", "open_error").
	Probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probes_total",
		Help:      "Serial port/baud probes, by result.",
	}, []string{"result"})

	// LinkState is the current serial link state (0 disconnected, 1 searching, 2 connected, 3 lost).
	LinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "link_state",
		Help:      "Serial link state: 0 disconnected, 1 searching, 2 connected, 3 lost.",
	})

	// TrackPoints is the number of points in the current track.
	TrackPoints = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "track_points",
		Help:      "Accepted fixes in the current track.",
	})
)
