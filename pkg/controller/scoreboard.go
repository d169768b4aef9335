package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// The scoreboard is a spectator surface: a WebSocket feed pushing arena
// snapshots once a second, plus a small HTTP API for the match operator.

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed serves trusted LAN spectators.
	CheckOrigin: func(*http.Request) bool { return true },
}

const snapshotEvery = time.Second

func (s *Server) serveScoreboard(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleFeed)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/ready-check", s.handleCommand(s.StartReadyCheck))
	mux.HandleFunc("/api/end", s.handleCommand(s.EndMatch))
	mux.HandleFunc("/api/reset", s.handleCommand(s.ResetMatch))
	mux.HandleFunc("/api/enable", s.handleEnable)

	srv := &http.Server{Addr: addr, Handler: mux}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("scoreboard up")
	err := srv.ListenAndServe()
	wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

// handleFeed upgrades the connection and pushes snapshots until the
// client goes away.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("scoreboard upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(snapshotEvery)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.Snapshot()); err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Snapshot())
}

func (s *Server) handleCommand(cmd func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := cmd(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, s.Snapshot())
	}
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nodeID, err := strconv.Atoi(r.URL.Query().Get("node"))
	if err != nil {
		http.Error(w, "node query parameter required", http.StatusBadRequest)
		return
	}
	if err := s.EnableRobot(nodeID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, s.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
