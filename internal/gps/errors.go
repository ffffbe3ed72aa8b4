// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import "errors"

var (
	// ErrSentenceDecode marks a malformed sentence. It is always recovered
	// locally by discarding the sentence.
	ErrSentenceDecode = errors.New("gps: sentence decode error")

	// ErrConnectionLost is returned once the consecutive read error count
	// exceeds the configured limit.
	ErrConnectionLost = errors.New("gps: lost connection to receiver")

	// ErrInvalidThreshold is returned for non-numeric or out of range
	// acquisition thresholds.
	ErrInvalidThreshold = errors.New("gps: invalid acquisition threshold")

	// ErrReadTimeout is the error a LineSource returns when no full line
	// arrived in time. It is never counted as a read error.
	ErrReadTimeout = errors.New("gps: read timeout")
)
