// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/gps_tracker/internal/app"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "gps_tracker.yaml", "Path to YAML config")
	flag.Parse()

	log.Println("starting gps-tracker (NMEA serial → tracks, MQTT, web)")

	if err := app.RunTracker(configPath); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
