// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store persists tracker preferences and finished tracks in a
// bbolt file.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/relabs-tech/gps_tracker/internal/gps"
)

var (
	prefsBucket  = []byte("prefs")
	tracksBucket = []byte("tracks")

	connectionKey = []byte("last_connection")
	thresholdsKey = []byte("thresholds")
)

var ErrNotFound = errors.New("not found")

// Connection is the last port that produced NMEA traffic.
type Connection struct {
	Port      int       `json:"port"`
	PortName  string    `json:"port_name"`
	Baud      int       `json:"baud"`
	BaudIndex int       `json:"baud_index"`
	SavedAt   time.Time `json:"saved_at"`
}

// Thresholds are kept as typed so invalid input survives a restart and
// is reported again rather than silently replaced.
type Thresholds struct {
	DistanceKm         string `json:"distance_km"`
	MinIntervalSeconds string `json:"min_interval_seconds"`
}

// StoredTrack is a finished track with its storage id.
type StoredTrack struct {
	ID     uint64    `json:"id"`
	Points gps.Track `json:"points"`
}

type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{prefsBucket, tracksBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(prefsBucket).Put(key, data)
	})
}

func (s *Store) get(key []byte, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(prefsBucket).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

func (s *Store) SaveConnection(c Connection) error {
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now()
	}
	return s.put(connectionKey, c)
}

// LastConnection returns ErrNotFound when nothing was saved yet.
func (s *Store) LastConnection() (Connection, error) {
	var c Connection
	err := s.get(connectionKey, &c)
	return c, err
}

func (s *Store) SaveThresholds(t Thresholds) error {
	return s.put(thresholdsKey, t)
}

func (s *Store) LoadThresholds() (Thresholds, error) {
	var t Thresholds
	err := s.get(thresholdsKey, &t)
	return t, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// AppendTrack stores a finished track and returns its id. Empty tracks
// are not stored.
func (s *Store) AppendTrack(t gps.Track) (uint64, error) {
	if len(t) == 0 {
		return 0, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return 0, err
	}
	var id uint64
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tracksBucket)
		id, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	return id, err
}

// Tracks returns every stored track, oldest first.
func (s *Store) Tracks() ([]StoredTrack, error) {
	var out []StoredTrack
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tracksBucket).ForEach(func(k, v []byte) error {
			var pts gps.Track
			if err := json.Unmarshal(v, &pts); err != nil {
				return fmt.Errorf("track %x: %w", k, err)
			}
			out = append(out, StoredTrack{ID: binary.BigEndian.Uint64(k), Points: pts})
			return nil
		})
	})
	return out, err
}

// EraseTracks removes every stored track.
func (s *Store) EraseTracks() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(tracksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(tracksBucket)
		return err
	})
}
