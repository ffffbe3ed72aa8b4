// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"time"

	"github.com/relabs-tech/gps_tracker/internal/app"
)

func main() {
	var opts app.SimOptions
	flag.StringVar(&opts.Port, "port", "/dev/ttyUSB1", "Serial device to write NMEA to")
	flag.IntVar(&opts.Baud, "baud", 9600, "Baud rate")
	flag.Float64Var(&opts.CenterLat, "lat", 45.0703, "Circle centre latitude")
	flag.Float64Var(&opts.CenterLon, "lon", 7.6869, "Circle centre longitude")
	flag.Float64Var(&opts.RadiusKm, "radius", 0.5, "Circle radius in km")
	flag.DurationVar(&opts.Period, "period", 5*time.Minute, "Time for one lap")
	flag.DurationVar(&opts.Interval, "interval", time.Second, "Time between fixes")
	flag.StringVar(&opts.Datum, "datum", "WGS 84", "Datum announced once with PGRMM")
	flag.Parse()

	log.Println("starting gps-tracker NMEA simulator (mock receiver)")

	if err := app.RunSimulator(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
