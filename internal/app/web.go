// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/session"
	"github.com/relabs-tech/gps_tracker/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const wsWriteTimeout = 2 * time.Second

// controller is the session surface the web API drives.
type controller interface {
	Start(ctx context.Context, mode session.Mode) error
	Stop() error
	SetThresholds(distanceKm, minIntervalSeconds string) error
	Thresholds() (gps.Thresholds, bool)
	CurrentTrack() gps.Track
	TrackSet() gps.TrackSet
	EraseTracks()
}

type webServer struct {
	ctx       context.Context
	ctl       controller
	board     *statusBoard
	store     *store.Store
	startMode func() session.Mode
	staticDir string
	log       logrus.FieldLogger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// wsMessage is one frame on the /ws feed.
type wsMessage struct {
	Type string `json:"type"` // "position" or "status"
	Data any    `json:"data"`
}

type startRequest struct {
	Mode      string `json:"mode"` // "auto" or "explicit"; empty uses the configured mode
	Port      int    `json:"port"`
	BaudIndex int    `json:"baud_index"`
}

type thresholdsRequest struct {
	DistanceKm         string `json:"distance_km"`
	MinIntervalSeconds string `json:"min_interval_seconds"`
}

type tracksResponse struct {
	Current  gps.Track           `json:"current"`
	Finished gps.TrackSet        `json:"finished"`
	Stored   []store.StoredTrack `json:"stored,omitempty"`
}

func newWebServer(ctx context.Context, ctl controller, board *statusBoard, st *store.Store,
	startMode func() session.Mode, staticDir string, log logrus.FieldLogger) *webServer {
	return &webServer{
		ctx:       ctx,
		ctl:       ctl,
		board:     board,
		store:     st,
		startMode: startMode,
		staticDir: staticDir,
		log:       log.WithField("component", "web"),
		clients:   make(map[*wsClient]struct{}),
	}
}

func (s *webServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/position", s.handlePosition)
	mux.HandleFunc("GET /api/tracks", s.handleTracks)
	mux.HandleFunc("DELETE /api/tracks", s.handleEraseTracks)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /api/thresholds", s.handleGetThresholds)
	mux.HandleFunc("POST /api/thresholds", s.handleSetThresholds)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

func (s *webServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("json encode error")
	}
}

func (s *webServer) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *webServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.board.Snapshot())
}

func (s *webServer) handlePosition(w http.ResponseWriter, r *http.Request) {
	st := s.board.Snapshot()
	if st.Last == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, st.Last)
}

func (s *webServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	resp := tracksResponse{
		Current:  s.ctl.CurrentTrack(),
		Finished: s.ctl.TrackSet(),
	}
	if s.store != nil {
		stored, err := s.store.Tracks()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Stored = stored
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *webServer) handleEraseTracks(w http.ResponseWriter, r *http.Request) {
	s.ctl.EraseTracks()
	if s.store != nil {
		if err := s.store.EraseTracks(); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *webServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	var mode session.Mode
	switch req.Mode {
	case "":
		mode = s.startMode()
	case "auto":
		mode = session.AutoDiscover()
	case "explicit":
		mode = session.Explicit(req.Port, req.BaudIndex)
	default:
		s.writeError(w, http.StatusBadRequest, errors.New("mode must be auto or explicit"))
		return
	}

	err := s.ctl.Start(s.ctx, mode)
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, gps.ErrInvalidThreshold):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusAccepted, s.board.Snapshot())
	}
}

func (s *webServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Stop(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.board.Snapshot())
}

func (s *webServer) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	th, ok := s.ctl.Thresholds()
	if !ok {
		s.writeError(w, http.StatusConflict, gps.ErrInvalidThreshold)
		return
	}
	s.writeJSON(w, http.StatusOK, th)
}

func (s *webServer) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.store != nil {
		if err := s.store.SaveThresholds(store.Thresholds(req)); err != nil {
			s.log.WithError(err).Warn("failed to persist thresholds")
		}
	}
	if err := s.ctl.SetThresholds(req.DistanceKm, req.MinIntervalSeconds); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	th, _ := s.ctl.Thresholds()
	s.writeJSON(w, http.StatusOK, th)
}

func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade error")
		return
	}
	c := &wsClient{conn: conn}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.send(c, wsMessage{Type: "status", Data: s.board.Snapshot()})

	// The feed is one way; reading only detects the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.drop(c)
}

func (s *webServer) send(c *wsClient, msg wsMessage) {
	c.mu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := c.conn.WriteJSON(msg)
	c.mu.Unlock()
	if err != nil {
		s.log.WithError(err).Debug("websocket write error")
		s.drop(c)
	}
}

func (s *webServer) drop(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (s *webServer) broadcast(msg wsMessage) {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.send(c, msg)
	}
}

// Handle is a session.Listener pushing updates to websocket clients.
func (s *webServer) Handle(ev session.Event) {
	switch ev.(type) {
	case session.PositionUpdate:
		if st := s.board.Snapshot(); st.Last != nil {
			s.broadcast(wsMessage{Type: "position", Data: st.Last})
		}
	case session.StateChanged, session.LinkStateChanged, session.ConnectionMade,
		session.ConnectionFailed, session.ConnectionLost, session.AcquisitionHalted,
		session.TracksErased:
		s.broadcast(wsMessage{Type: "status", Data: s.board.Snapshot()})
	}
}

// serve runs the HTTP server until ctx is done.
func (s *webServer) serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}
