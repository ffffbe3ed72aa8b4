// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geo projects geographic fixes into map coordinates.
package geo

import (
	"errors"
	"fmt"
	"math"
)

const (
	EPSGWGS84       = 4326
	EPSGNAD83       = 4269
	EPSGWebMercator = 3857

	webMercatorRadius = 6378137.0
	maxMercatorLat    = 85.05112878
)

var ErrUnsupportedDatum = errors.New("unsupported source datum")

// Point is a projected coordinate in the units of EPSG.
type Point struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	EPSG int     `json:"epsg"`
}

// Projector transforms lon/lat in a geographic datum into a target system.
type Projector interface {
	Project(sourceEPSG int, lon, lat float64) (Point, error)
	Target() int
}

// NAD83 and WGS84 differ by about a metre; both are projected as WGS84.
func checkSource(epsg int) error {
	switch epsg {
	case EPSGWGS84, EPSGNAD83:
		return nil
	default:
		return fmt.Errorf("%w: EPSG:%d", ErrUnsupportedDatum, epsg)
	}
}

// WebMercator projects into spherical Mercator (EPSG:3857), in metres.
type WebMercator struct{}

func (WebMercator) Target() int { return EPSGWebMercator }

func (WebMercator) Project(sourceEPSG int, lon, lat float64) (Point, error) {
	if err := checkSource(sourceEPSG); err != nil {
		return Point{}, err
	}
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	x := webMercatorRadius * lon * math.Pi / 180
	y := webMercatorRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return Point{X: x, Y: y, EPSG: EPSGWebMercator}, nil
}

// Identity keeps geographic degrees (EPSG:4326).
type Identity struct{}

func (Identity) Target() int { return EPSGWGS84 }

func (Identity) Project(sourceEPSG int, lon, lat float64) (Point, error) {
	if err := checkSource(sourceEPSG); err != nil {
		return Point{}, err
	}
	return Point{X: lon, Y: lat, EPSG: EPSGWGS84}, nil
}

// ForTarget returns the projector for a target EPSG code.
func ForTarget(epsg int) (Projector, error) {
	switch epsg {
	case EPSGWebMercator:
		return WebMercator{}, nil
	case EPSGWGS84:
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("unsupported target EPSG:%d", epsg)
	}
}
