// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package seriallink finds and owns the serial connection to an NMEA GPS
// receiver. Receivers are expected at 8 data bits, 1 stop bit, no parity
// and no handshake.
package seriallink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/metrics"
)

// BaudRates is the ordered list of rates tried during discovery. Explicit
// connections address it by index.
var BaudRates = []int{1200, 2400, 4800, 9600, 14400, 28800, 36400, 56700}

const (
	DefaultFirstPort   = 0
	DefaultLastPort    = 18
	DefaultProbeLines  = 10
	DefaultReadTimeout = 250 * time.Millisecond
	DefaultPortPattern = "/dev/ttyUSB%d"
)

var (
	ErrNoDeviceFound = errors.New("could not find a GPS serial connection sending NMEA messages")
	ErrConnectFailed = errors.New("could not connect to a GPS sending NMEA messages")
	ErrNotConnected  = errors.New("serial link not connected")
	ErrReadTimeout   = timeoutError{}
)

type timeoutError struct{}

func (timeoutError) Error() string { return "serial read timeout" }
func (timeoutError) Timeout() bool { return true }

// ConnectionState is the link's view of the receiver.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Searching
	Connected
	Lost
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Searching:
		return "searching"
	case Connected:
		return "connected"
	case Lost:
		return "lost"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Opener opens a serial device at a baud rate with 8N1 framing.
type Opener interface {
	Open(name string, baud int) (io.ReadWriteCloser, error)
}

// Config controls port enumeration and probing.
type Config struct {
	FirstPort   int
	LastPort    int
	PortPattern string
	// Enumerate uses the operating system's port list instead of PortPattern.
	Enumerate   bool
	ProbeLines  int
	ReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LastPort == 0 && c.FirstPort == 0 {
		c.LastPort = DefaultLastPort
	}
	if c.PortPattern == "" {
		c.PortPattern = DefaultPortPattern
	}
	if c.ProbeLines <= 0 {
		c.ProbeLines = DefaultProbeLines
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Info describes a resolved connection.
type Info struct {
	Port      int    `json:"port"`
	PortName  string `json:"port_name"`
	Baud      int    `json:"baud"`
	BaudIndex int    `json:"baud_index"`
}

// Link owns at most one open serial port.
type Link struct {
	cfg    Config
	opener Opener
	names  PortNamer
	log    logrus.FieldLogger

	mu      sync.Mutex
	conn    *lineConn
	info    Info
	state   ConnectionState
	onState func(ConnectionState)
}

// Option configures a Link.
type Option func(*Link)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Link) { l.log = log }
}

// WithPortNamer overrides how port ids map to device names.
func WithPortNamer(n PortNamer) Option {
	return func(l *Link) { l.names = n }
}

// WithStateHook is called on every state transition, outside the link lock.
func WithStateHook(fn func(ConnectionState)) Option {
	return func(l *Link) { l.onState = fn }
}

// New creates a disconnected link.
func New(cfg Config, opener Opener, opts ...Option) *Link {
	cfg = cfg.withDefaults()
	l := &Link{cfg: cfg, opener: opener, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(l)
	}
	if l.names == nil {
		if cfg.Enumerate {
			l.names = SystemPorts{}
		} else {
			l.names = PatternPorts(cfg.PortPattern)
		}
	}
	return l
}

// SetStateHook replaces the state hook.
func (l *Link) SetStateHook(fn func(ConnectionState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

// State returns the current connection state.
func (l *Link) State() ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Info returns the last resolved connection.
func (l *Link) Info() Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info
}

func (l *Link) setState(s ConnectionState) {
	l.mu.Lock()
	l.state = s
	hook := l.onState
	l.mu.Unlock()

	metrics.LinkState.Set(float64(s))
	if hook != nil {
		hook(s)
	}
}

// Discover sweeps every candidate port and baud rate and keeps the first
// one that produces a line starting with "$GP".
func (l *Link) Discover(ctx context.Context) (Info, error) {
	l.closeConn()
	l.setState(Searching)

	ports, err := l.names.Ports(l.cfg.FirstPort, l.cfg.LastPort)
	if err != nil {
		l.log.WithError(err).Warn("gps port enumeration failed")
	}

	for _, p := range ports {
		for i := range BaudRates {
			if err := ctx.Err(); err != nil {
				l.setState(Disconnected)
				return Info{}, err
			}
			if l.probe(ctx, p, i) {
				return l.Info(), nil
			}
		}
	}

	l.setState(Disconnected)
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	return Info{}, ErrNoDeviceFound
}

// Connect probes a single port at BaudRates[baudIndex].
func (l *Link) Connect(ctx context.Context, port, baudIndex int) (Info, error) {
	l.closeConn()
	if baudIndex < 0 || baudIndex >= len(BaudRates) {
		return Info{}, fmt.Errorf("%w: baud index %d out of range", ErrConnectFailed, baudIndex)
	}
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	l.setState(Searching)

	name, err := l.names.Name(port)
	if err != nil {
		l.setState(Disconnected)
		return Info{}, fmt.Errorf("%w: port %d: %v", ErrConnectFailed, port, err)
	}
	if l.probe(ctx, Port{ID: port, Name: name}, baudIndex) {
		return l.Info(), nil
	}

	l.setState(Disconnected)
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	return Info{}, fmt.Errorf("%w: port %s at %d baud", ErrConnectFailed, name, BaudRates[baudIndex])
}

// probe opens p at BaudRates[baudIndex] and reads up to ProbeLines lines.
// Every failure is swallowed so the sweep can go on. ctx is checked
// between line reads.
func (l *Link) probe(ctx context.Context, p Port, baudIndex int) bool {
	baud := BaudRates[baudIndex]
	log := l.log.WithFields(logrus.Fields{"port": p.Name, "baud": baud})

	rwc, err := l.opener.Open(p.Name, baud)
	if err != nil {
		metrics.Probes.WithLabelValues("open_error").Inc()
		log.WithError(err).Debug("gps probe open failed")
		return false
	}

	conn := newLineConn(rwc)
	for i := 0; i < l.cfg.ProbeLines; i++ {
		if ctx.Err() != nil {
			_ = conn.Close()
			return false
		}
		line, err := conn.ReadLine(l.cfg.ReadTimeout)
		if err != nil && !errors.Is(err, ErrReadTimeout) {
			log.WithError(err).Debug("gps probe read failed")
			break
		}
		if strings.HasPrefix(line, "$GP") {
			metrics.Probes.WithLabelValues("nmea").Inc()
			l.mu.Lock()
			l.conn = conn
			l.info = Info{Port: p.ID, PortName: p.Name, Baud: baud, BaudIndex: baudIndex}
			l.mu.Unlock()
			l.setState(Connected)
			log.Info("got GPS")
			return true
		}
	}

	metrics.Probes.WithLabelValues("silent").Inc()
	_ = conn.Close()
	return false
}

// ReadLine returns the next line without its CR/LF terminator.
func (l *Link) ReadLine(timeout time.Duration) (string, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}
	return conn.ReadLine(timeout)
}

// MarkLost records that the streaming side gave up on the receiver.
func (l *Link) MarkLost() {
	l.closeConn()
	l.setState(Lost)
}

// Close releases the port. It is safe to call any number of times.
func (l *Link) Close() error {
	err := l.closeConn()
	if l.State() != Lost {
		l.setState(Disconnected)
	}
	return err
}

func (l *Link) closeConn() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
