// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/seriallink"
)

// SimOptions configures the mock receiver.
type SimOptions struct {
	Port      string
	Baud      int
	CenterLat float64
	CenterLon float64
	RadiusKm  float64
	Period    time.Duration
	Interval  time.Duration
	Datum     string
}

// nmeaSim drives a receiver around a circle and renders what it would
// say about it.
type nmeaSim struct {
	opts      SimOptions
	sentDatum bool
}

func nmeaSentence(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", payload, ck)
}

// formatCoord renders |deg| as d..dmm.mmmm with a hemisphere letter.
func formatCoord(deg float64, degDigits int, pos, neg string) (string, string) {
	hemi := pos
	if deg < 0 {
		hemi = neg
		deg = -deg
	}
	whole := math.Floor(deg)
	// round to the printed precision so 59.99996 carries into the degrees
	minutes := math.Round((deg-whole)*60*1e4) / 1e4
	if minutes >= 60 {
		whole++
		minutes -= 60
	}
	return fmt.Sprintf("%0*d%07.4f", degDigits, int(whole), minutes), hemi
}

// position returns the point reached after elapsed, with course in
// degrees and speed in knots.
func (s *nmeaSim) position(elapsed time.Duration) (lat, lon, course, knots float64) {
	period := s.opts.Period
	if period <= 0 {
		period = 5 * time.Minute
	}
	phase := float64(elapsed%period) / float64(period)
	w := 2 * math.Pi * phase

	rDeg := s.opts.RadiusKm / gps.EarthRadiusKm * 180 / math.Pi
	lat = s.opts.CenterLat + rDeg*math.Cos(w)
	lon = s.opts.CenterLon + rDeg*math.Sin(w)/math.Cos(s.opts.CenterLat*math.Pi/180)

	// velocity direction is the derivative of (cos w, sin w)
	course = math.Mod(math.Atan2(math.Cos(w), -math.Sin(w))*180/math.Pi+360, 360)
	kmh := 2 * math.Pi * s.opts.RadiusKm / period.Hours()
	return lat, lon, course, kmh / gps.KnotsToKmh
}

func (s *nmeaSim) sentences(now time.Time, elapsed time.Duration) []string {
	lat, lon, course, knots := s.position(elapsed)
	latS, latH := formatCoord(lat, 2, "N", "S")
	lonS, lonH := formatCoord(lon, 3, "E", "W")
	utc := now.UTC()
	hms := utc.Format("150405")

	var out []string
	if !s.sentDatum && s.opts.Datum != "" {
		out = append(out, nmeaSentence("PGRMM,"+s.opts.Datum))
		s.sentDatum = true
	}
	out = append(out,
		nmeaSentence(fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.1f,%.1f,%s,,", hms, latS, latH, lonS, lonH, knots, course, utc.Format("020106"))),
		nmeaSentence("GPGSV,2,1,06,03,45,111,40,04,15,270,32,06,61,010,45,13,06,292,20"),
		nmeaSentence("GPGSV,2,2,06,16,57,208,39,18,67,296,41"),
		nmeaSentence(fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,06,1.1,240.0,M,47.0,M,,", hms, latS, latH, lonS, lonH)),
	)
	return out
}

func (s *nmeaSim) run(w io.Writer, stop <-chan os.Signal) error {
	interval := s.opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-stop:
			return nil
		case now := <-ticker.C:
			for _, line := range s.sentences(now, now.Sub(start)) {
				if _, err := io.WriteString(w, line); err != nil {
					return err
				}
			}
		}
	}
}

// RunSimulator writes a simulated NMEA stream to a serial port until
// SIGINT or SIGTERM.
func RunSimulator(opts SimOptions) error {
	port, err := seriallink.BugstOpener{}.Open(opts.Port, opts.Baud)
	if err != nil {
		return err
	}
	defer port.Close()
	log.Printf("simulator: writing NMEA to %s at %d baud", opts.Port, opts.Baud)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return (&nmeaSim{opts: opts}).run(port, sigCh)
}
