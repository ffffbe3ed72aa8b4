// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// Kind identifies the sentence types the parser consumes.
type Kind string

const (
	KindIgnored Kind = ""
	KindGGA     Kind = "GGA"
	KindRMC     Kind = "RMC"
	KindGSV     Kind = "GSV"
	KindPGRMM   Kind = "PGRMM"
)

// typePGRMM is the go-nmea sentence type of "$PGRMM" (proprietary prefix stripped).
const typePGRMM = "GRMM"

// PGRMM is the Garmin proprietary map datum sentence.
type PGRMM struct {
	nmea.BaseSentence
	Datum string
}

func newPGRMM(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	return PGRMM{BaseSentence: s, Datum: p.String(0, "datum")}, p.Err()
}

// newSentenceParser decodes sentences without checking the "*hh" suffix.
// Receivers in the field omit or garble it, and the fields alone decide
// whether a sentence is usable.
func newSentenceParser() *nmea.SentenceParser {
	return &nmea.SentenceParser{
		CustomParsers: map[string]nmea.ParserFunc{typePGRMM: newPGRMM},
		CheckCRC:      func(nmea.BaseSentence, string) error { return nil },
	}
}

// datums maps PGRMM datum names to EPSG codes. Anything else is WGS84.
var datums = map[string]int{
	"NAD83":  EPSGNAD83,
	"WGS 84": EPSGWGS84,
}

// Parser decodes one NMEA line at a time into a Progress. It keeps the
// datum seen in the first PGRMM sentence for the rest of its life.
type Parser struct {
	sentences *nmea.SentenceParser
	now       func() time.Time
	datumSet  bool
	datumEPSG int
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithClock replaces the wall clock used to timestamp fixes.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) { p.now = now }
}

// NewParser returns a parser with the WGS84 datum.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{sentences: newSentenceParser(), now: time.Now, datumEPSG: EPSGWGS84}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DatumEPSG returns the datum stamped on fixes.
func (p *Parser) DatumEPSG() int { return p.datumEPSG }

// Parse applies one line to prog. A returned error always wraps
// ErrSentenceDecode and means the sentence update was discarded.
func (p *Parser) Parse(line string, prog *Progress) (Kind, error) {
	line = strings.TrimSpace(line)
	if len(line) < 6 {
		return KindIgnored, nil
	}

	switch line[:6] {
	case "$GPGGA":
		return KindGGA, p.parseGGA(line, prog)
	case "$GPRMC":
		return KindRMC, p.parseRMC(line, prog)
	case "$GPGSV":
		return KindGSV, p.parseGSV(line, prog)
	case "$PGRMM":
		if p.datumSet {
			return KindIgnored, nil
		}
		return KindPGRMM, p.parsePGRMM(line)
	default:
		return KindIgnored, nil
	}
}

// GGA: Global Positioning System Fix Data
//
//	1: time
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality
//	7: satellites in use
//	8: HDOP
func (p *Parser) parseGGA(line string, prog *Progress) error {
	parts := strings.Split(line, ",")
	if len(parts) > 4 && (parts[2] == "" || parts[4] == "") {
		// receiver has no position yet
		return nil
	}

	s, err := p.sentences.Parse(line)
	if err != nil {
		return decodeError(KindGGA, err)
	}
	gga, ok := s.(nmea.GGA)
	if !ok {
		return decodeError(KindGGA, fmt.Errorf("unexpected sentence %T", s))
	}
	quality, err := strconv.Atoi(gga.FixQuality)
	if err != nil {
		return decodeError(KindGGA, err)
	}

	fix := &prog.Fix
	fix.HasFix = true
	fix.DatumEPSG = p.datumEPSG
	fix.Latitude = math.Abs(gga.Latitude)
	fix.LatitudeHemisphere = strings.ToUpper(strings.TrimSpace(gga.Fields[2]))
	fix.Longitude = math.Abs(gga.Longitude)
	fix.LongitudeHemisphere = strings.ToUpper(strings.TrimSpace(gga.Fields[4]))
	fix.FixQuality = FixQuality(quality)
	fix.NumSatellites = int(gga.NumSatellites)
	fix.HDOP = gga.HDOP
	fix.Timestamp = p.now().Format(TimestampLayout)
	return nil
}

// RMC: Recommended Minimum Specific GNSS Data
//
//	7: speed over ground (knots)
//	8: course over ground (deg)
func (p *Parser) parseRMC(line string, prog *Progress) error {
	s, err := p.sentences.Parse(line)
	if err == nil {
		if rmc, ok := s.(nmea.RMC); ok {
			prog.Fix.BearingDeg = rmc.Course
			prog.Fix.SpeedKmh = rmc.Speed * KnotsToKmh
			prog.HasBearing = true
			return nil
		}
		err = fmt.Errorf("unexpected sentence %T", s)
	}
	prog.Fix.BearingDeg = 0
	prog.Fix.SpeedKmh = 0
	return decodeError(KindRMC, err)
}

// GSV: Satellites in view, up to four per sentence.
//
//	1: total sentences in burst
//	2: sentence index
//	3: satellites in view
//	4..: prn, elevation, azimuth, snr
func (p *Parser) parseGSV(line string, prog *Progress) error {
	s, err := p.sentences.Parse(line)
	if err != nil {
		return decodeError(KindGSV, err)
	}
	gsv, ok := s.(nmea.GSV)
	if !ok {
		return decodeError(KindGSV, fmt.Errorf("unexpected sentence %T", s))
	}

	if gsv.MessageNumber == 1 {
		prog.Fix.Satellites = prog.Fix.Satellites[:0]
	}
	for _, info := range gsv.Info {
		prog.Fix.Satellites = append(prog.Fix.Satellites, Satellite{
			PRN:          int(info.SVPRNNumber),
			ElevationDeg: int(info.Elevation),
			AzimuthDeg:   int(info.Azimuth),
			SNRdB:        int(info.SNR),
		})
	}
	if gsv.MessageNumber == gsv.TotalMessages {
		prog.HasSatellites = true
	}
	return nil
}

func (p *Parser) parsePGRMM(line string) error {
	p.datumSet = true

	s, err := p.sentences.Parse(line)
	if err != nil {
		return decodeError(KindPGRMM, err)
	}
	m, ok := s.(PGRMM)
	if !ok {
		return decodeError(KindPGRMM, fmt.Errorf("unexpected sentence %T", s))
	}
	if epsg, ok := datums[strings.TrimSpace(m.Datum)]; ok {
		p.datumEPSG = epsg
	} else {
		p.datumEPSG = EPSGWGS84
	}
	return nil
}

func decodeError(kind Kind, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSentenceDecode, kind, err)
}
