// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package seriallink

import (
	"fmt"
	"io"
	"time"

	jserial "github.com/jacobsa/go-serial/serial"
	"go.bug.st/serial"
)

// JacobsaOpener opens ports with github.com/jacobsa/go-serial.
type JacobsaOpener struct {
	// InterCharacterTimeout in milliseconds; reads return empty after it.
	InterCharacterTimeout uint
}

func (o JacobsaOpener) Open(name string, baud int) (io.ReadWriteCloser, error) {
	ict := o.InterCharacterTimeout
	if ict == 0 {
		ict = 100
	}
	options := jserial.OpenOptions{
		PortName:              name,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            jserial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: ict,
	}
	return jserial.Open(options)
}

// BugstOpener opens ports with go.bug.st/serial.
type BugstOpener struct {
	ReadTimeout time.Duration
}

func (o BugstOpener) Open(name string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	rt := o.ReadTimeout
	if rt <= 0 {
		rt = 100 * time.Millisecond
	}
	if err := port.SetReadTimeout(rt); err != nil {
		_ = port.Close()
		return nil, err
	}
	return port, nil
}

// NewOpener returns the driver registered under name.
func NewOpener(driver string) (Opener, error) {
	switch driver {
	case "", "jacobsa":
		return JacobsaOpener{}, nil
	case "bugst":
		return BugstOpener{}, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q", driver)
	}
}
