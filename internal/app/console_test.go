// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/session"
	"github.com/relabs-tech/gps_tracker/internal/store"
)

func TestFormatPosition(t *testing.T) {
	line := formatPosition(newPositionMessage(testUpdate(45.07, "2024-05-01 10:00:00"), 4))
	assert.True(t, strings.HasPrefix(line, "[GPS ] 2024-05-01 10:00:00 #4 "))
	assert.Contains(t, line, "lat=45.070000N")
	assert.Contains(t, line, "lon=7.686900E")
	assert.Contains(t, line, "speed=18.5km/h")
	assert.Contains(t, line, `quality="GPS fix"`)
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestConsoleSink(t *testing.T) {
	var out bytes.Buffer
	board := newStatusBoard()
	sink := &consoleSink{w: &out, board: board}

	for _, ev := range streamEvents() {
		board.Apply(ev)
		sink.Handle(ev)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "[STAT] state=connecting link=disconnected points=0", lines[0])
	assert.Contains(t, lines[1], "port=/dev/ttyUSB3 baud=9600")
	assert.True(t, strings.HasPrefix(lines[3], "[GPS ]"))
	assert.Contains(t, lines[4], "#1 ")
	assert.Contains(t, lines[6], "state=stopped")
	assert.Contains(t, lines[6], `error="connection lost"`)
}

func TestStartPlanner_Mode(t *testing.T) {
	p := &startPlanner{cfg: config.SerialConfig{Port: 2, BaudIndex: 5}, log: quietLogger()}
	assert.Equal(t, session.Explicit(2, 5), p.Mode())

	st := openTempStore(t)
	p = &startPlanner{cfg: config.SerialConfig{SearchAllPorts: true, ResumeLast: true}, store: st, log: quietLogger()}
	assert.Equal(t, session.AutoDiscover(), p.Mode())
	assert.False(t, p.resuming.Load())

	require.NoError(t, st.SaveConnection(store.Connection{Port: 7, PortName: "/dev/ttyUSB7", Baud: 4800, BaudIndex: 2}))
	assert.Equal(t, session.Explicit(7, 2), p.Mode())
	assert.True(t, p.resuming.Load())

	p.cfg.ResumeLast = false
	assert.Equal(t, session.AutoDiscover(), p.Mode())
}

func TestStartPlanner_FallbackOnlyAfterResumeFailure(t *testing.T) {
	p := &startPlanner{log: quietLogger()}
	fb := p.fallback(context.Background(), nil)

	// an ordinary failed discovery does not restart
	fb(session.ConnectionFailed{Err: assert.AnError})
	fb(session.StateChanged{From: session.Connecting, To: session.Idle})
	assert.False(t, p.failed.Load())

	// a resumed connection that works clears the flag
	p.resuming.Store(true)
	fb(session.ConnectionMade{})
	assert.False(t, p.resuming.Load())
}
