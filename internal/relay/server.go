// Package relay implements the two-party relay: it admits at most two peers,
// forwards handshake values and ciphertext between them, and triggers
// handshakes. It never sees the agreed key.
package relay

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/op/go-logging.v1"

	"github.com/sumanthd032/relaychat/internal/config"
	"github.com/sumanthd032/relaychat/internal/discovery"
	rlog "github.com/sumanthd032/relaychat/internal/log"
	"github.com/sumanthd032/relaychat/internal/monitor"
	"github.com/sumanthd032/relaychat/internal/protocol"
	"github.com/sumanthd032/relaychat/internal/worker"
	"github.com/sumanthd032/relaychat/pkg/errs"
	"github.com/sumanthd032/relaychat/pkg/util"
)

const (
	acceptRetryDelay = 100 * time.Millisecond
	codeWords        = 3
)

// Status is the relay state reported by the monitor endpoint.
type Status struct {
	Peers      int    `json:"peers"`
	PeerIDs    []int  `json:"peer_ids"`
	Handshakes uint64 `json:"handshakes"`
	Uptime     string `json:"uptime"`
	Code       string `json:"code,omitempty"`
}

// Server is the relay server.
type Server struct {
	worker.Worker

	cfg      *config.Relay
	log      *logging.Logger
	listener net.Listener
	registry *Registry
	params   *Params

	promRegistry *prometheus.Registry
	metrics      *Metrics
	monitor      *monitor.Server
	mdns         *zeroconf.Server
	code         string

	handshakes atomic.Uint64
	startedAt  time.Time
}

// New creates a relay and generates its handshake parameters.
func New(cfg *config.Relay, logBackend *rlog.Backend) (*Server, error) {
	if cfg == nil || logBackend == nil {
		return nil, fmt.Errorf("%w: relay config and log backend are required", errs.ErrInvalidArgument)
	}

	params, err := GenerateParams(cfg.BaseBits, cfg.ModulusBits)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:          cfg,
		log:          logBackend.GetLogger("relay"),
		registry:     NewRegistry(logBackend.GetLogger("relay/registry")),
		params:       params,
		promRegistry: reg,
		metrics:      NewMetrics(reg),
	}
	if cfg.MetricsAddress != "" {
		s.monitor = monitor.NewServer(cfg.MetricsAddress, reg, func() interface{} { return s.Status() }, logBackend.GetLogger("monitor"))
	}
	return s, nil
}

// Start opens the listening socket and runs the accept loop in the background.
func (s *Server) Start() error {
	s.log.Noticef("Relay starting up at %v", s.cfg.ListenAddress())

	l, err := net.Listen("tcp", s.cfg.ListenAddress())
	if err != nil {
		return fmt.Errorf("could not start listener: %w", err)
	}
	s.listener = l
	s.startedAt = time.Now()

	if s.monitor != nil {
		if err := s.monitor.Start(); err != nil {
			l.Close()
			return err
		}
	}

	if s.cfg.Discovery {
		if err := s.publish(); err != nil {
			l.Close()
			if s.monitor != nil {
				s.monitor.Stop()
			}
			return err
		}
	}

	s.Go(s.acceptLoop)
	return nil
}

// publish advertises the relay on the LAN under a fresh code.
func (s *Server) publish() error {
	code, err := util.GenerateCode(codeWords)
	if err != nil {
		return err
	}
	port := s.listener.Addr().(*net.TCPAddr).Port
	mdns, err := discovery.PublishService(code, port, s.log)
	if err != nil {
		return err
	}
	s.code = code
	s.mdns = mdns
	return nil
}

// Code returns the discovery code chat clients can use to find the relay,
// or "" when discovery is off.
func (s *Server) Code() string {
	return s.code
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Params returns the handshake parameters.
func (s *Server) Params() *Params {
	return s.params
}

// Gatherer exposes the relay's metrics.
func (s *Server) Gatherer() prometheus.Gatherer {
	return s.promRegistry
}

// Status snapshots the relay state.
func (s *Server) Status() Status {
	ids := s.registry.IDs()
	return Status{
		Peers:      len(ids),
		PeerIDs:    ids,
		Handshakes: s.handshakes.Load(),
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Code:       s.code,
	}
}

// Shutdown stops accepting, disconnects every peer and waits for the
// per-connection loops to finish.
func (s *Server) Shutdown() {
	s.log.Notice("Relay shutting down")
	if s.listener != nil {
		s.listener.Close()
	}
	if s.mdns != nil {
		s.mdns.Shutdown()
	}
	s.Halt()
	if s.monitor != nil {
		if err := s.monitor.Stop(); err != nil {
			s.log.Warningf("Could not stop monitor: %v", err)
		}
	}
}

// TriggerHandshake sends NUMBERS(g, n) to both peers.
func (s *Server) TriggerHandshake() error {
	e, err := protocol.NewNumbers(s.params.G, s.params.N)
	if err != nil {
		return err
	}
	if err := s.registry.BroadcastPair(e); err != nil {
		return err
	}
	s.handshakes.Add(1)
	s.metrics.handshakes.Inc()
	s.log.Info("Key exchange started")
	return nil
}

// RouteToOther forwards e to the peer that did not send it.
func (s *Server) RouteToOther(e *protocol.Envelope, senderID int) error {
	if err := s.registry.RouteToOther(e, senderID); err != nil {
		return err
	}
	s.metrics.routedEnvelope(e.Code)
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.IsHalting() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warningf("Exception occurred when receiving a connection: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		s.admit(conn)
	}
}

func (s *Server) admit(conn net.Conn) {
	pc := protocol.NewConn(conn, s.cfg.WriteDeadline())
	h, err := s.registry.Admit(pc)
	if err != nil {
		pc.Close()
		s.metrics.refused.Inc()
		s.log.Infof("Refused connection with %v, due to already being max capacity", conn.RemoteAddr())
		return
	}
	s.metrics.accepted.Inc()
	s.metrics.peers.Set(float64(s.registry.Len()))
	s.log.Infof("Accepted %v", h)

	done := make(chan struct{})
	s.Go(func() {
		defer close(done)
		s.perConnectionLoop(h)
	})
	s.Go(func() {
		select {
		case <-s.HaltCh():
			h.Close()
		case <-done:
		}
	})
}

func (s *Server) perConnectionLoop(h *PeerHandle) {
	s.log.Infof("Listening for envelopes from %v", h)

	defer func() {
		s.log.Infof("Closing connection with %v", h)
		h.Close()
		s.registry.Remove(h)
		s.metrics.peers.Set(float64(s.registry.Len()))
	}()

	for {
		e, err := h.conn.ReadEnvelope()
		if err != nil {
			if protocol.IsClosed(err) {
				if !protocol.IsEOF(err) && h.Connected() {
					s.log.Warningf("Exception occurred when receiving from %v, likely disconnected: %v", h, err)
				}
				return
			}
			s.metrics.protocolViolations.Inc()
			s.log.Warningf("Unrecognizable envelope from %v: %v", h, err)
			continue
		}
		s.handleEnvelope(h, e)
	}
}

func (s *Server) handleEnvelope(h *PeerHandle, e *protocol.Envelope) {
	s.log.Debugf("Received %v from %v", e, h)

	switch e.Code {
	case protocol.CodeInitKeyExchange:
		s.replyOnMissingPeer(h, s.TriggerHandshake())
	case protocol.CodeNumber, protocol.CodeMessage:
		s.replyOnMissingPeer(h, s.RouteToOther(e, h.id))
	case protocol.CodeStatus:
		text, err := e.Text()
		if err != nil {
			s.log.Warningf("Bad STATUS from %v: %v", h, err)
			return
		}
		s.log.Infof("%v: %s", h, text)
	case protocol.CodeError:
		text, err := e.Text()
		if err != nil {
			s.log.Warningf("Bad ERROR from %v: %v", h, err)
			return
		}
		s.log.Warningf("%v: %s", h, text)
	default:
		// NUMBERS only ever flows from the relay to the peers.
		s.metrics.protocolViolations.Inc()
		s.log.Warningf("Protocol violation: %v sent %v", h, e.Code)
	}
}

func (s *Server) replyOnMissingPeer(h *PeerHandle, err error) {
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrInvalidState):
		if err := h.Send(protocol.NewError(protocol.ErrNoSecondClient)); err != nil {
			s.log.Warningf("Exception occurred when sending ERROR to %v: %v", h, err)
		}
	default:
		s.log.Warningf("Could not forward envelope from %v: %v", h, err)
	}
}
