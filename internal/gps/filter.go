// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusKm is the sphere radius used for great-circle distances.
const EarthRadiusKm = 6372.795477598

// Haversine returns the great-circle distance in km between two points
// given in signed decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := phi2 - phi1
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Sin(dLambda/2)*math.Sin(dLambda/2)*math.Cos(phi1)*math.Cos(phi2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return c * EarthRadiusKm
}

// Distance returns the great-circle distance in km between two fixes.
func Distance(a, b Fix) float64 {
	return Haversine(a.SignedLatitude(), a.SignedLongitude(), b.SignedLatitude(), b.SignedLongitude())
}

// Thresholds are the spatial and temporal debounce limits of the filter.
type Thresholds struct {
	DistanceKm         float64 `json:"distance_km"`
	MinIntervalSeconds float64 `json:"min_interval_seconds"`
}

// ParseThresholds validates user supplied threshold strings.
func ParseThresholds(distanceKm, minIntervalSeconds string) (Thresholds, error) {
	d, err := parseNumber(distanceKm)
	if err != nil {
		return Thresholds{}, fmt.Errorf("%w: distance %q: %v", ErrInvalidThreshold, distanceKm, err)
	}
	if d <= 0 {
		return Thresholds{}, fmt.Errorf("%w: distance must be > 0, got %v", ErrInvalidThreshold, d)
	}
	iv, err := parseNumber(minIntervalSeconds)
	if err != nil {
		return Thresholds{}, fmt.Errorf("%w: interval %q: %v", ErrInvalidThreshold, minIntervalSeconds, err)
	}
	if iv < 0 {
		return Thresholds{}, fmt.Errorf("%w: interval must be >= 0, got %v", ErrInvalidThreshold, iv)
	}
	return Thresholds{DistanceKm: d, MinIntervalSeconds: iv}, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}

// Decision reasons.
const (
	ReasonFirst     = "first"
	ReasonDistance  = "distance"
	ReasonInterval  = "interval"
	ReasonTimestamp = "timestamp"
	ReasonAccepted  = "accepted"
)

// Decision explains the outcome of Evaluate.
type Decision struct {
	Accepted       bool    `json:"accepted"`
	Reason         string  `json:"reason"`
	DistanceKm     float64 `json:"distance_km"`
	ElapsedSeconds int64   `json:"elapsed_seconds"`
}

// Evaluate decides whether candidate becomes the next track point after
// last. Without a previous point the candidate is always accepted. The
// distance must exceed th.DistanceKm, and only then is the elapsed time
// checked; it must exceed th.MinIntervalSeconds.
func Evaluate(candidate Fix, last *Fix, th Thresholds) Decision {
	if last == nil {
		return Decision{Accepted: true, Reason: ReasonFirst}
	}

	d := Decision{DistanceKm: Distance(candidate, *last)}
	if d.DistanceKm <= th.DistanceKm {
		d.Reason = ReasonDistance
		return d
	}

	tc, err := candidate.Time()
	if err != nil {
		d.Reason = ReasonTimestamp
		return d
	}
	tl, err := last.Time()
	if err != nil {
		d.Reason = ReasonTimestamp
		return d
	}
	d.ElapsedSeconds = int64(tc.Sub(tl).Seconds())
	if float64(d.ElapsedSeconds) <= th.MinIntervalSeconds {
		d.Reason = ReasonInterval
		return d
	}

	d.Accepted = true
	d.Reason = ReasonAccepted
	return d
}

// Accept is Evaluate reduced to its verdict.
func Accept(candidate Fix, last *Fix, th Thresholds) bool {
	return Evaluate(candidate, last, th).Accepted
}
