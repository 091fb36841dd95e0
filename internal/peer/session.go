// Package peer implements the chat client's side of a relay session: the
// connection to the relay, the handshake with the other peer and the
// encrypted message flow.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"gopkg.in/op/go-logging.v1"

	"github.com/sumanthd032/relaychat/internal/config"
	rlog "github.com/sumanthd032/relaychat/internal/log"
	"github.com/sumanthd032/relaychat/internal/protocol"
	"github.com/sumanthd032/relaychat/internal/worker"
	"github.com/sumanthd032/relaychat/pkg/crypto"
	"github.com/sumanthd032/relaychat/pkg/errs"
)

const fingerprintWords = 4

// Session is one chat client's connection to the relay.
type Session struct {
	worker.Worker

	cfg    *config.Chat
	log    *logging.Logger
	ui     Notifier
	cipher *crypto.Cipher
	dial   func(ctx context.Context, network, address string) (net.Conn, error)

	mu          sync.Mutex
	state       State
	conn        *protocol.Conn
	done        chan struct{}
	dialCancel  context.CancelFunc
	hs          Handshake
	fingerprint string
	hsTimer     *time.Timer
	hsGen       uint64
}

// NewSession creates a disconnected session. A nil ui discards notifications.
func NewSession(cfg *config.Chat, ui Notifier, logBackend *rlog.Backend) (*Session, error) {
	if cfg == nil || logBackend == nil {
		return nil, fmt.Errorf("%w: chat config and log backend are required", errs.ErrInvalidArgument)
	}
	if ui == nil {
		ui = nopNotifier{}
	}
	dialer := &net.Dialer{Timeout: time.Duration(cfg.DialTimeout) * time.Millisecond}
	return &Session{
		cfg:    cfg,
		log:    logBackend.GetLogger("peer"),
		ui:     ui,
		cipher: crypto.NewCipher(),
		dial:   dialer.DialContext,
		state:  Disconnected,
	}, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerPresent reports whether the other peer is connected to the relay.
func (s *Session) PeerPresent() bool {
	return s.State().peerPresent()
}

// Fingerprint returns the words derived from the session key, or "" when
// the session is not secure. Both peers of a session see the same words.
func (s *Session) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

// Done returns a channel closed when the current connection's receive loop
// has finished.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Connect dials the relay at address and starts the receive loop. It does
// not retry.
func (s *Session) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	if s.state != Disconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: already %v", errs.ErrInvalidState, state)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.state = Connecting
	s.dialCancel = cancel
	s.mu.Unlock()

	s.ui.SetInputEnabled(false)
	s.ui.NotifyUser("INFO: Attempting to connect...")

	c, err := s.dial(ctx, "tcp", address)
	if err != nil {
		s.mu.Lock()
		s.dialCancel = nil
		s.state = Disconnected
		s.mu.Unlock()
		s.log.Warningf("Could not connect to %v: %v", address, err)
		s.ui.NotifyUser(fmt.Sprintf("ERROR: Chat relay at %s not found", address))
		s.ui.NotifyStatus(StatusNotConnected)
		return fmt.Errorf("%w: could not connect to relay: %w", errs.ErrTransportFailure, err)
	}

	conn := protocol.NewConn(c, time.Duration(s.cfg.WriteTimeout)*time.Millisecond)
	done := make(chan struct{})

	s.mu.Lock()
	s.dialCancel = nil
	if ctx.Err() != nil {
		// Disconnect was called while the dial was in flight.
		s.state = Disconnected
		s.mu.Unlock()
		c.Close()
		s.log.Infof("Connection to %v abandoned", address)
		s.ui.NotifyStatus(StatusNotConnected)
		return fmt.Errorf("%w: disconnected while connecting: %w", errs.ErrTransportFailure, ctx.Err())
	}
	s.conn = conn
	s.done = done
	s.state = Connected
	s.mu.Unlock()

	s.log.Noticef("Connected to %v", conn.RemoteAddr())
	s.ui.NotifyUser(fmt.Sprintf("INFO: Connected to: %v", conn.RemoteAddr()))
	s.ui.NotifyStatus(StatusConnected)

	s.Go(func() {
		defer close(done)
		s.receiveLoop(conn)
	})
	return nil
}

// Disconnect closes the relay connection and waits for the receive loop to
// wind down. A Connect still dialing is abandoned. Calling it while
// disconnected does nothing.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn, done, dialCancel := s.conn, s.done, s.dialCancel
	s.mu.Unlock()

	if dialCancel != nil {
		dialCancel()
	}
	s.cipher.ClearKey()
	if conn == nil {
		return
	}
	s.log.Info("Disconnecting")
	conn.Close()
	<-done
}

// InitiateHandshake asks the relay to start a key exchange. The other peer
// must be present; otherwise the user is told and nothing is sent.
func (s *Session) InitiateHandshake() error {
	s.mu.Lock()
	conn, present := s.conn, s.state.peerPresent()
	s.mu.Unlock()

	if conn == nil || !present {
		s.ui.NotifyUser("INFO: No other client connected")
		return fmt.Errorf("%w: no other client connected", errs.ErrInvalidState)
	}
	if err := conn.WriteEnvelope(protocol.NewInitKeyExchange()); err != nil {
		s.log.Warningf("Could not request key exchange: %v", err)
		return err
	}
	return nil
}

// SendMessage encrypts text and sends it to the other peer. It needs a
// secure session, and text longer than the configured limit is refused
// before anything is sent.
func (s *Session) SendMessage(text string) error {
	if utf8.RuneCountInString(text) > s.cfg.MaxMessageLength {
		s.ui.NotifyUser(fmt.Sprintf("Message is above maximum character limit %d! Please shorten it and try again.", s.cfg.MaxMessageLength))
		return fmt.Errorf("%w: message longer than %d characters", errs.ErrInvalidArgument, s.cfg.MaxMessageLength)
	}

	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	if state != Secure || conn == nil {
		s.ui.NotifyUser("ERROR: Not securely connected with other client")
		return fmt.Errorf("%w: session is %v", errs.ErrInvalidState, state)
	}

	ciphertext, err := s.cipher.Encrypt([]byte(text))
	if err != nil {
		s.log.Warningf("Could not encrypt message: %v", err)
		s.ui.NotifyUser("ERROR: Message could not be sent.")
		return err
	}
	if err := conn.WriteEnvelope(protocol.NewMessage(ciphertext)); err != nil {
		s.log.Warningf("Could not send message: %v", err)
		s.ui.NotifyUser("ERROR: Message could not be sent.")
		return err
	}
	return nil
}

func (s *Session) receiveLoop(conn *protocol.Conn) {
	defer s.teardown(conn)

	for {
		e, err := conn.ReadEnvelope()
		if err != nil {
			if protocol.IsClosed(err) {
				if protocol.IsEOF(err) {
					s.ui.NotifyUser("INFO: Connection closed from the relay")
				} else if !errors.Is(err, net.ErrClosed) {
					s.log.Warningf("Lost connection to the relay: %v", err)
				}
				return
			}
			s.log.Warningf("Dropping envelope from the relay: %v", err)
			continue
		}
		s.handleEnvelope(conn, e)
	}
}

// teardown releases the connection and every piece of session secret state.
func (s *Session) teardown(conn *protocol.Conn) {
	conn.Close()
	s.cipher.ClearKey()

	s.mu.Lock()
	s.stopHandshakeTimerLocked()
	s.hs.Reset()
	s.fingerprint = ""
	s.state = Disconnected
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	s.log.Notice("Disconnected from the relay")
	s.ui.NotifyUser("INFO: Disconnecting...")
	s.ui.SetInputEnabled(false)
	s.ui.SetHandshakeEnabled(false)
	s.ui.NotifyProgress(0)
	s.ui.NotifyStatus(StatusNotConnected)
}

func (s *Session) handleEnvelope(conn *protocol.Conn, e *protocol.Envelope) {
	s.log.Debugf("Received %v", e)

	switch e.Code {
	case protocol.CodeNumbers:
		s.onNumbers(conn, e)
	case protocol.CodeNumber:
		s.onNumber(e)
	case protocol.CodeMessage:
		s.onMessage(e)
	case protocol.CodeStatus:
		s.onStatus(e)
	case protocol.CodeError:
		text, err := e.Text()
		if err != nil {
			s.log.Warningf("Bad ERROR envelope: %v", err)
			return
		}
		s.ui.NotifyUser("ERROR: " + text)
	default:
		s.log.Warningf("Protocol violation: relay sent %v", e.Code)
	}
}

// onNumbers starts the local half of a handshake: draw a secret and answer
// with our public value. Both peers receive NUMBERS and do this independently.
func (s *Session) onNumbers(conn *protocol.Conn, e *protocol.Envelope) {
	g, n, err := e.Numbers()
	if err != nil {
		s.log.Warningf("Bad NUMBERS envelope: %v", err)
		return
	}

	s.mu.Lock()
	s.cipher.ClearKey()
	s.fingerprint = ""
	own, err := s.hs.Begin(g, n)
	if err != nil {
		s.stopHandshakeTimerLocked()
		if s.state > PeerPresent {
			s.state = PeerPresent
		}
		s.mu.Unlock()
		s.log.Errorf("Could not start key exchange: %v", err)
		s.ui.NotifyUser("ERROR: Could not start key exchange")
		return
	}
	s.state = HandshakeInProgress
	s.armHandshakeTimerLocked()
	s.mu.Unlock()

	s.ui.SetHandshakeEnabled(false)
	s.ui.SetInputEnabled(false)
	s.ui.NotifyUser("INFO: Attempting to establish secure connection with the other client, please be patient...")
	s.ui.NotifyProgress(0.2)

	reply, err := protocol.NewNumber(own)
	if err != nil {
		s.log.Errorf("Could not encode public value: %v", err)
		return
	}
	if err := conn.WriteEnvelope(reply); err != nil {
		// The receive loop notices the broken connection next.
		s.log.Warningf("Could not send public value: %v", err)
		return
	}
	s.ui.NotifyProgress(0.6)
}

// onNumber finishes the handshake with the peer's public value.
func (s *Session) onNumber(e *protocol.Envelope) {
	peerValue, err := e.Number()
	if err != nil {
		s.log.Warningf("Bad NUMBER envelope: %v", err)
		return
	}
	s.ui.NotifyProgress(0.8)

	s.mu.Lock()
	key, err := s.hs.Complete(peerValue)
	if err == nil {
		err = s.cipher.SetKey(key)
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Warningf("Could not complete key exchange: %v", err)
		s.ui.NotifyUser("ERROR: Could not establish secure connection")
		return
	}
	s.stopHandshakeTimerLocked()
	s.state = Secure
	s.fingerprint = crypto.GenerateSAS(key, fingerprintWords)
	fingerprint := s.fingerprint
	s.mu.Unlock()

	s.log.Notice("Secure connection established")
	s.ui.NotifyProgress(1)
	s.ui.NotifyStatus(StatusSecure)
	s.ui.SetHandshakeEnabled(false)
	s.ui.SetInputEnabled(true)
	s.ui.NotifyUser("INFO: Successfully established secure connection! You can now begin chatting")
	s.ui.NotifyUser("INFO: Key fingerprint: " + fingerprint)
}

func (s *Session) onMessage(e *protocol.Envelope) {
	ciphertext, err := e.Text()
	if err == nil {
		var plaintext []byte
		plaintext, err = s.cipher.Decrypt(ciphertext)
		if err == nil {
			s.ui.DeliverMessage(string(plaintext))
			return
		}
	}
	s.log.Warningf("Could not decrypt message: %v", err)
	s.ui.NotifyUser("ERROR: Message could not be decrypted")
}

func (s *Session) onStatus(e *protocol.Envelope) {
	text, err := e.Text()
	if err != nil {
		s.log.Warningf("Bad STATUS envelope: %v", err)
		return
	}

	switch text {
	case protocol.StatusClientConnect:
		s.mu.Lock()
		if s.state == Connected {
			s.state = PeerPresent
		}
		s.mu.Unlock()

		s.log.Info("Other client connected")
		s.ui.SetHandshakeEnabled(true)
		s.ui.NotifyStatus(StatusPeerConnected)
		s.ui.NotifyUser("INFO: Another client connected! Establish a secure connection to start chatting")
	case protocol.StatusClientDisconnect:
		s.cipher.ClearKey()
		s.mu.Lock()
		s.stopHandshakeTimerLocked()
		s.hs.Reset()
		s.fingerprint = ""
		if s.state.peerPresent() {
			s.state = Connected
		}
		s.mu.Unlock()

		s.log.Info("Other client disconnected")
		s.ui.SetHandshakeEnabled(false)
		s.ui.NotifyProgress(0)
		s.ui.SetInputEnabled(false)
		s.ui.NotifyStatus(StatusConnected)
		s.ui.NotifyUser("INFO: The other party has disconnected")
	default:
		s.ui.NotifyUser("STATUS: " + text)
	}
}

// armHandshakeTimerLocked starts the optional handshake timeout. With no
// timeout configured a silent peer leaves the handshake pending forever.
func (s *Session) armHandshakeTimerLocked() {
	s.stopHandshakeTimerLocked()
	if s.cfg.HandshakeTimeout <= 0 {
		return
	}
	gen := s.hsGen
	s.hsTimer = time.AfterFunc(time.Duration(s.cfg.HandshakeTimeout)*time.Millisecond, func() {
		s.handshakeTimedOut(gen)
	})
}

func (s *Session) stopHandshakeTimerLocked() {
	s.hsGen++
	if s.hsTimer != nil {
		s.hsTimer.Stop()
		s.hsTimer = nil
	}
}

func (s *Session) handshakeTimedOut(gen uint64) {
	s.mu.Lock()
	if gen != s.hsGen || !s.hs.InProgress() {
		s.mu.Unlock()
		return
	}
	s.hsTimer = nil
	s.hs.Reset()
	s.state = PeerPresent
	s.mu.Unlock()

	s.log.Warning("Key exchange timed out")
	s.ui.NotifyProgress(0)
	s.ui.SetHandshakeEnabled(true)
	s.ui.NotifyUser("INFO: The other client did not answer the key exchange, please try again")
}
