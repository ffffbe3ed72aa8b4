// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/gps_tracker/internal/config"
)

const (
	displayW = 128
	displayH = 64
	// basicfont.Face7x13 line pitch
	lineH = 13
	// characters per line at 7 px each
	lineChars = displayW / 7
)

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, row int, text string) {
	if len(text) > lineChars {
		text = text[:lineChars]
	}
	d.Dot = fixed.P(0, lineH*(row+1)-2)
	d.DrawString(text)
}

// renderStatus draws the tracker status on a 128x64 frame.
func renderStatus(st Status) *image1bit.VerticalLSB {
	img, d := newFrame()

	if st.Last == nil {
		drawLine(d, 0, "GPS Tracker")
		drawLine(d, 1, "State: "+st.State)
		drawLine(d, 2, "Link: "+st.Link)
		if st.LastError != "" {
			drawLine(d, 3, st.LastError)
		} else {
			drawLine(d, 3, "Waiting...")
		}
		return img
	}

	f := st.Last.Fix
	drawLine(d, 0, fmt.Sprintf("%.5f %s", f.Latitude, f.LatitudeHemisphere))
	drawLine(d, 1, fmt.Sprintf("%.5f %s", f.Longitude, f.LongitudeHemisphere))
	drawLine(d, 2, fmt.Sprintf("%.1fkm/h %3.0fdeg", f.SpeedKmh, f.BearingDeg))
	drawLine(d, 3, fmt.Sprintf("Sat:%d Pts:%d %s", f.NumSatellites, st.Points, st.State))
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, d := newFrame()
	d.Dot = fixed.P(20, 26)
	d.DrawString("GPS Tracker")
	d.Dot = fixed.P(5, 43)
	d.DrawString("Looking for")
	d.Dot = fixed.P(25, 56)
	d.DrawString("sats")
	return img
}

// runDisplay refreshes an SSD1306 panel from the status board until ctx
// is done.
func runDisplay(ctx context.Context, cfg config.DisplayConfig, board *statusBoard, log logrus.FieldLogger) error {
	log = log.WithField("component", "display")

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Info("display initialized")

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.WithError(err).Warn("error showing splash")
	}

	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), renderStatus(board.Snapshot()), image.Point{}); err != nil {
				log.WithError(err).Warn("error updating display")
			}
		}
	}
}
