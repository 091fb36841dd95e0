// Package monitor serves the relay's status and Prometheus metrics over HTTP.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

// Server is a small HTTP server with two routes: /status returns the JSON
// produced by the status callback and /metrics serves gatherer.
type Server struct {
	httpServer *http.Server
	log        *logging.Logger
	status     func() interface{}

	mu       sync.RWMutex
	listener net.Listener
}

// NewServer creates a new monitor server listening on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, status func() interface{}, log *logging.Logger) *Server {
	s := &Server{
		log:    log,
		status: status,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// handleStatus writes the current status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		s.log.Warningf("Could not write status: %v", err)
	}
}

// Start binds the listener and serves in a new goroutine.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("could not start monitor listener: %w", err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.log.Noticef("Monitor listening on http://%v", l.Addr())
	go func() {
		// This will block until the server is closed.
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("Monitor stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() error {
	return s.httpServer.Close()
}
