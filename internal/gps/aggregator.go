// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/metrics"
)

const (
	DefaultMaxLines       = 20
	DefaultReadErrorLimit = 5
	DefaultReadTimeout    = 250 * time.Millisecond
)

// LineSource yields NMEA lines. A read that times out returns an error
// matching ErrReadTimeout or implementing Timeout() bool.
type LineSource interface {
	ReadLine(timeout time.Duration) (string, error)
}

// AggregatorConfig tunes one read cycle.
type AggregatorConfig struct {
	MaxLines       int
	ReadErrorLimit int
	ReadTimeout    time.Duration
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.MaxLines <= 0 {
		c.MaxLines = DefaultMaxLines
	}
	if c.ReadErrorLimit <= 0 {
		c.ReadErrorLimit = DefaultReadErrorLimit
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Aggregator correlates GGA, RMC and GSV sentences into one Fix per cycle.
type Aggregator struct {
	src    LineSource
	parser *Parser
	cfg    AggregatorConfig
	log    logrus.FieldLogger

	readErrors int
}

// NewAggregator wires a line source to a parser.
func NewAggregator(src LineSource, parser *Parser, cfg AggregatorConfig, log logrus.FieldLogger) *Aggregator {
	if parser == nil {
		parser = NewParser()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{src: src, parser: parser, cfg: cfg.withDefaults(), log: log}
}

// Next runs one read cycle. It returns early once the fix is complete and
// otherwise returns whatever was assembled when the line budget runs out,
// which may have HasFix=false. ctx is checked between line reads.
func (a *Aggregator) Next(ctx context.Context) (Fix, error) {
	prog := NewProgress()
	prog.Fix.DatumEPSG = a.parser.DatumEPSG()

	for i := 0; i < a.cfg.MaxLines; i++ {
		if err := ctx.Err(); err != nil {
			return prog.Fix, err
		}

		line, err := a.src.ReadLine(a.cfg.ReadTimeout)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			a.readErrors++
			metrics.ReadErrors.Inc()
			a.log.WithError(err).WithField("count", a.readErrors).Debug("gps read error")
			if a.readErrors > a.cfg.ReadErrorLimit {
				metrics.Cycles.WithLabelValues("lost").Inc()
				return prog.Fix, fmt.Errorf("%w: %d consecutive read errors: %v", ErrConnectionLost, a.readErrors, err)
			}
			continue
		}
		a.readErrors = 0

		kind, perr := a.parser.Parse(line, prog)
		if kind == KindIgnored {
			continue
		}
		switch {
		case perr != nil:
			metrics.Sentences.WithLabelValues(string(kind), "decode_error").Inc()
			a.log.WithError(perr).WithField("sentence", kind).Debug("discarding corrupt sentence")
		case kind == KindGGA && !prog.Fix.HasFix:
			metrics.Sentences.WithLabelValues(string(kind), "no_fix").Inc()
		default:
			metrics.Sentences.WithLabelValues(string(kind), "ok").Inc()
		}

		if prog.Complete() {
			metrics.Cycles.WithLabelValues("complete").Inc()
			return prog.Fix, nil
		}
	}

	metrics.Cycles.WithLabelValues("budget").Inc()
	return prog.Fix, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrReadTimeout) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// ReaderSource adapts an io.Reader, e.g. a captured NMEA log, to a
// LineSource. The timeout is ignored; io.EOF is returned at the end.
type ReaderSource struct {
	sc *bufio.Scanner
}

// NewReaderSource wraps r.
func NewReaderSource(r io.Reader) *ReaderSource {
	sc := bufio.NewScanner(r)
	// NMEA sentences are typically < 82 chars, but allow some headroom.
	sc.Buffer(make([]byte, 0, 256), 4096)
	return &ReaderSource{sc: sc}
}

func (r *ReaderSource) ReadLine(time.Duration) (string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(r.sc.Text()), nil
}
