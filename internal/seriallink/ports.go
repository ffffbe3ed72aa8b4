// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package seriallink

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
)

// Port is a candidate device.
type Port struct {
	ID   int
	Name string
}

// PortNamer maps numeric port ids to device names.
type PortNamer interface {
	Ports(first, last int) ([]Port, error)
	Name(id int) (string, error)
}

// PatternPorts formats ids into device names, e.g. "/dev/ttyUSB%d".
type PatternPorts string

func (p PatternPorts) Name(id int) (string, error) {
	if id < 0 {
		return "", fmt.Errorf("invalid port id %d", id)
	}
	return fmt.Sprintf(string(p), id), nil
}

func (p PatternPorts) Ports(first, last int) ([]Port, error) {
	var out []Port
	for id := first; id <= last; id++ {
		name, err := p.Name(id)
		if err != nil {
			continue
		}
		out = append(out, Port{ID: id, Name: name})
	}
	return out, nil
}

// SystemPorts asks the operating system for its serial ports. Ids are
// positions in the sorted port list.
type SystemPorts struct{}

func (SystemPorts) list() ([]string, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s SystemPorts) Name(id int) (string, error) {
	names, err := s.list()
	if err != nil {
		return "", err
	}
	if id < 0 || id >= len(names) {
		return "", fmt.Errorf("port id %d not present (%d ports)", id, len(names))
	}
	return names[id], nil
}

func (s SystemPorts) Ports(first, last int) ([]Port, error) {
	names, err := s.list()
	if err != nil {
		return nil, err
	}
	var out []Port
	for id, name := range names {
		if id >= first && id <= last {
			out = append(out, Port{ID: id, Name: name})
		}
	}
	return out, nil
}
