// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package seriallink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort serves a fixed byte stream, then reads as idle until closed.
type fakePort struct {
	r      *bytes.Reader
	err    error
	mu     sync.Mutex
	closed bool
}

func newFakePort(data string) *fakePort {
	return &fakePort{r: bytes.NewReader([]byte(data))}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.err != nil {
		return 0, p.err
	}
	return p.r.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// matrixOpener fails every open except the (name, baud) pairs in ports.
type matrixOpener struct {
	mu    sync.Mutex
	ports map[string]func() io.ReadWriteCloser
	opens []string
}

func key(name string, baud int) string { return fmt.Sprintf("%s@%d", name, baud) }

func (o *matrixOpener) Open(name string, baud int) (io.ReadWriteCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens = append(o.opens, key(name, baud))
	if mk, ok := o.ports[key(name, baud)]; ok {
		return mk(), nil
	}
	return nil, errors.New("no such device")
}

func (o *matrixOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opens)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func nmeaStream(n int) string {
	return strings.Repeat("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n", n)
}

func testConfig() Config {
	return Config{PortPattern: "fake%d", ReadTimeout: 20 * time.Millisecond}
}

func TestDiscover_StopsAtFirstNMEAPort(t *testing.T) {
	opener := &matrixOpener{ports: map[string]func() io.ReadWriteCloser{
		// talks, but not NMEA
		key("fake1", 4800): func() io.ReadWriteCloser { return newFakePort(strings.Repeat("garbage\r\n", 20)) },
		key("fake3", 9600): func() io.ReadWriteCloser { return newFakePort(nmeaStream(10)) },
		key("fake5", 9600): func() io.ReadWriteCloser { return newFakePort(nmeaStream(10)) },
	}}
	link := New(testConfig(), opener, WithLogger(quietLogger()))
	defer link.Close()

	info, err := link.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Info{Port: 3, PortName: "fake3", Baud: 9600, BaudIndex: 3}, info)
	assert.Equal(t, Connected, link.State())

	// ports 0, 1 and 2 at every rate, then port 3 up to 9600
	assert.Equal(t, 3*len(BaudRates)+4, opener.openCount())
	assert.Equal(t, key("fake3", 9600), opener.opens[len(opener.opens)-1])

	line, err := link.ReadLine(time.Second)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "$GPGGA"))
	assert.Equal(t, 3*len(BaudRates)+4, opener.openCount())
}

func TestDiscover_NoDeviceFound(t *testing.T) {
	opener := &matrixOpener{}
	cfg := testConfig()
	cfg.LastPort = 4
	link := New(cfg, opener, WithLogger(quietLogger()))

	_, err := link.Discover(context.Background())
	require.ErrorIs(t, err, ErrNoDeviceFound)
	assert.Equal(t, 5*len(BaudRates), opener.openCount())
	assert.Equal(t, Disconnected, link.State())
}

func TestDiscover_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opener := &matrixOpener{}
	link := New(testConfig(), opener, WithLogger(quietLogger()))
	_, err := link.Discover(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, opener.openCount())
}

func TestDiscover_SilentPortIsClosed(t *testing.T) {
	silent := newFakePort(strings.Repeat("garbage\r\n", 20))
	opener := &matrixOpener{ports: map[string]func() io.ReadWriteCloser{
		key("fake0", 1200): func() io.ReadWriteCloser { return silent },
	}}
	cfg := testConfig()
	cfg.LastPort = 1
	link := New(cfg, opener, WithLogger(quietLogger()))

	_, err := link.Discover(context.Background())
	require.ErrorIs(t, err, ErrNoDeviceFound)
	assert.True(t, silent.isClosed())
	assert.Equal(t, 2*len(BaudRates), opener.openCount())
}

func TestConnect_Explicit(t *testing.T) {
	opener := &matrixOpener{ports: map[string]func() io.ReadWriteCloser{
		key("fake7", 4800): func() io.ReadWriteCloser { return newFakePort(nmeaStream(3)) },
	}}
	link := New(testConfig(), opener, WithLogger(quietLogger()))
	defer link.Close()

	info, err := link.Connect(context.Background(), 7, 2)
	require.NoError(t, err)
	assert.Equal(t, Info{Port: 7, PortName: "fake7", Baud: 4800, BaudIndex: 2}, info)
	assert.Equal(t, 1, opener.openCount())
}

func TestConnect_Failures(t *testing.T) {
	opener := &matrixOpener{ports: map[string]func() io.ReadWriteCloser{
		key("fake2", 9600): func() io.ReadWriteCloser { return newFakePort("hello\r\n") },
	}}
	link := New(testConfig(), opener, WithLogger(quietLogger()))

	_, err := link.Connect(context.Background(), 2, 3)
	assert.ErrorIs(t, err, ErrConnectFailed)

	_, err = link.Connect(context.Background(), 4, 3)
	assert.ErrorIs(t, err, ErrConnectFailed)

	_, err = link.Connect(context.Background(), 2, len(BaudRates))
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.Equal(t, Disconnected, link.State())
}

func TestConnect_CancelledDuringProbe(t *testing.T) {
	silent := newFakePort("")
	opener := &matrixOpener{ports: map[string]func() io.ReadWriteCloser{
		key("fake0", 1200): func() io.ReadWriteCloser { return silent },
	}}
	cfg := testConfig()
	cfg.ProbeLines = 50
	link := New(cfg, opener, WithLogger(quietLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := link.Connect(ctx, 0, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrConnectFailed)
	// a full probe would take 50 reads of 20ms
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, silent.isClosed())
	assert.Equal(t, Disconnected, link.State())
}

func TestLink_StateHook(t *testing.T) {
	opener := &matrixOpener{ports: map[string]func() io.ReadWriteCloser{
		key("fake0", 1200): func() io.ReadWriteCloser { return newFakePort(nmeaStream(1)) },
	}}
	var mu sync.Mutex
	var seen []ConnectionState
	link := New(testConfig(), opener, WithLogger(quietLogger()), WithStateHook(func(s ConnectionState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}))

	_, err := link.Connect(context.Background(), 0, 0)
	require.NoError(t, err)
	link.MarkLost()
	require.NoError(t, link.Close())
	require.NoError(t, link.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnectionState{Searching, Connected, Lost}, seen)
}

func TestLink_ReadLineNotConnected(t *testing.T) {
	link := New(testConfig(), &matrixOpener{}, WithLogger(quietLogger()))
	_, err := link.ReadLine(time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestLineConn_SplitsAcrossReads(t *testing.T) {
	pr, pw := io.Pipe()
	conn := newLineConn(struct {
		io.Reader
		io.Writer
		io.Closer
	}{pr, io.Discard, pr})
	defer conn.Close()

	go func() {
		_, _ = pw.Write([]byte("$GPGGA,1,"))
		_, _ = pw.Write([]byte("2\r\n$GPRMC"))
		_, _ = pw.Write([]byte(",3\r\n"))
	}()

	l, err := conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "$GPGGA,1,2", l)
	l, err = conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "$GPRMC,3", l)

	_, err = conn.ReadLine(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrReadTimeout)
	var te interface{ Timeout() bool }
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
}

func TestLineConn_ReadErrorIsSticky(t *testing.T) {
	boom := errors.New("device reports readiness to read but returned no data")
	port := newFakePort("")
	port.err = boom
	conn := newLineConn(port)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		_, err := conn.ReadLine(time.Second)
		assert.ErrorIs(t, err, boom)
	}
}

func TestPatternPorts(t *testing.T) {
	ports, err := PatternPorts("/dev/ttyUSB%d").Ports(0, DefaultLastPort)
	require.NoError(t, err)
	require.Len(t, ports, 19)
	assert.Equal(t, Port{ID: 0, Name: "/dev/ttyUSB0"}, ports[0])
	assert.Equal(t, Port{ID: 18, Name: "/dev/ttyUSB18"}, ports[18])
}

func TestNewOpener(t *testing.T) {
	o, err := NewOpener("")
	require.NoError(t, err)
	assert.IsType(t, JacobsaOpener{}, o)

	o, err = NewOpener("bugst")
	require.NoError(t, err)
	assert.IsType(t, BugstOpener{}, o)

	_, err = NewOpener("ftdi")
	assert.Error(t, err)
}
