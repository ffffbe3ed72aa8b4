// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import "time"

// TimestampLayout is the wall-clock layout stamped on every fix.
const TimestampLayout = "2006-01-02 15:04:05"

// KnotsToKmh converts speed over ground from knots to km/h.
const KnotsToKmh = 1.852

// Datum EPSG codes understood from the PGRMM sentence.
const (
	EPSGWGS84 = 4326
	EPSGNAD83 = 4269
)

// FixQuality is the GGA fix quality indicator.
type FixQuality int

const (
	FixNone         FixQuality = 0
	FixGPS          FixQuality = 1
	FixDifferential FixQuality = 2
)

func (q FixQuality) String() string {
	switch q {
	case FixNone:
		return "Fix not available"
	case FixGPS:
		return "GPS fix"
	default:
		return "Differential GPS fix"
	}
}

// Satellite is one satellite-in-view entry from a GSV burst.
type Satellite struct {
	PRN          int `json:"prn"`
	ElevationDeg int `json:"elevation_deg"`
	AzimuthDeg   int `json:"azimuth_deg"`
	SNRdB        int `json:"snr_db"`
}

// Fix represents a single combined GPS fix suitable for JSON and MQTT.
// Latitude and Longitude are always positive; the sign lives in the
// hemisphere letters.
type Fix struct {
	HasFix              bool        `json:"has_fix"`
	Latitude            float64     `json:"lat"`
	LatitudeHemisphere  string      `json:"lat_hemisphere"` // "N" / "S"
	Longitude           float64     `json:"lon"`
	LongitudeHemisphere string      `json:"lon_hemisphere"` // "E" / "W"
	DatumEPSG           int         `json:"datum_epsg"`
	NumSatellites       int         `json:"num_satellites"`
	HDOP                float64     `json:"hdop"`
	FixQuality          FixQuality  `json:"fix_quality"`
	Timestamp           string      `json:"timestamp"` // local time, TimestampLayout
	BearingDeg          float64     `json:"bearing_deg"`
	SpeedKmh            float64     `json:"speed_kmh"`
	Satellites          []Satellite `json:"satellites,omitempty"`
}

// SignedLatitude returns the latitude negated for the southern hemisphere.
func (f Fix) SignedLatitude() float64 {
	if f.LatitudeHemisphere == "S" {
		return -f.Latitude
	}
	return f.Latitude
}

// SignedLongitude returns the longitude negated for the western hemisphere.
func (f Fix) SignedLongitude() float64 {
	if f.LongitudeHemisphere == "W" {
		return -f.Longitude
	}
	return f.Longitude
}

// Time parses Timestamp in the local time zone.
func (f Fix) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, f.Timestamp, time.Local)
}

// Progress is a fix under construction plus the completion flags of the
// current read cycle.
type Progress struct {
	Fix           Fix
	HasBearing    bool
	HasSatellites bool
}

// NewProgress returns an empty Progress carrying the default datum.
func NewProgress() *Progress {
	return &Progress{Fix: Fix{DatumEPSG: EPSGWGS84}}
}

// Complete reports whether GGA, RMC and the last GSV of a burst were seen.
func (p *Progress) Complete() bool {
	return p.Fix.HasFix && p.HasBearing && p.HasSatellites
}

// Track is an ordered sequence of accepted fixes.
type Track []Fix

// Last returns the most recent fix of the track, or nil when empty.
func (t Track) Last() *Fix {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// TrackSet is an ordered sequence of closed tracks.
type TrackSet []Track
