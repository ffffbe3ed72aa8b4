// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package seriallink

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	maxLineBytes = 1024
	idleBackoff  = 10 * time.Millisecond
)

// lineConn splits a serial byte stream into lines on a single pump
// goroutine. Drivers report an empty read after their inter-character
// timeout as io.EOF or io.ErrNoProgress, so those are treated as idle.
type lineConn struct {
	rwc   io.ReadWriteCloser
	lines chan string
	done  chan struct{}

	failOnce sync.Once
	failed   chan struct{}
	err      error

	closeOnce sync.Once
	closeErr  error
}

func newLineConn(rwc io.ReadWriteCloser) *lineConn {
	c := &lineConn{
		rwc:    rwc,
		lines:  make(chan string, 64),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *lineConn) fail(err error) {
	c.failOnce.Do(func() {
		c.err = err
		close(c.failed)
	})
}

func (c *lineConn) pump() {
	buf := make([]byte, 256)
	var partial []byte
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			for {
				idx := bytes.IndexByte(partial, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimRight(string(partial[:idx]), "\r")
				partial = partial[idx+1:]
				select {
				case c.lines <- line:
				case <-c.done:
					return
				}
			}
			if len(partial) > maxLineBytes {
				partial = partial[:0]
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrNoProgress) {
			select {
			case <-c.done:
				return
			case <-time.After(idleBackoff):
			}
			continue
		}
		select {
		case <-c.done:
		default:
			c.fail(err)
		}
		return
	}
}

// ReadLine waits up to timeout for the next line. A non-positive timeout
// waits until a line arrives or the connection fails.
func (c *lineConn) ReadLine(timeout time.Duration) (string, error) {
	select {
	case l := <-c.lines:
		return l, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case l := <-c.lines:
		return l, nil
	case <-c.failed:
		select {
		case l := <-c.lines:
			return l, nil
		default:
		}
		return "", c.err
	case <-c.done:
		return "", ErrNotConnected
	case <-expired:
		return "", ErrReadTimeout
	}
}

func (c *lineConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
