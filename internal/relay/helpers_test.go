package relay

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sumanthd032/relaychat/internal/config"
	rlog "github.com/sumanthd032/relaychat/internal/log"
	"github.com/sumanthd032/relaychat/internal/protocol"
)

const waitFor = 5 * time.Second

// rawPeer is a bare protocol endpoint that queues whatever it reads.
type rawPeer struct {
	conn *protocol.Conn
	in   chan *protocol.Envelope
	done chan error
}

func newRawPeer(c net.Conn) *rawPeer {
	p := &rawPeer{
		conn: protocol.NewConn(c, time.Second),
		in:   make(chan *protocol.Envelope, 16),
		done: make(chan error, 1),
	}
	go func() {
		for {
			e, err := p.conn.ReadEnvelope()
			if err != nil {
				p.done <- err
				return
			}
			p.in <- e
		}
	}()
	return p
}

func dialRaw(t *testing.T, addr net.Addr) *rawPeer {
	t.Helper()
	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	p := newRawPeer(c)
	t.Cleanup(func() { p.conn.Close() })
	return p
}

// pipePeer returns the relay side of a pipe plus a rawPeer draining the other side.
func pipePeer(t *testing.T) (*protocol.Conn, *rawPeer) {
	t.Helper()
	a, b := net.Pipe()
	relaySide := protocol.NewConn(a, time.Second)
	p := newRawPeer(b)
	t.Cleanup(func() {
		relaySide.Close()
		p.conn.Close()
	})
	return relaySide, p
}

func (p *rawPeer) expect(t *testing.T, code protocol.Code) *protocol.Envelope {
	t.Helper()
	select {
	case e := <-p.in:
		require.Equal(t, code, e.Code, "unexpected envelope %v", e)
		return e
	case err := <-p.done:
		require.FailNow(t, "stream ended", "waiting for %v: %v", code, err)
	case <-time.After(waitFor):
		require.FailNow(t, "timeout", "waiting for %v", code)
	}
	return nil
}

func (p *rawPeer) expectText(t *testing.T, code protocol.Code, text string) {
	t.Helper()
	got, err := p.expect(t, code).Text()
	require.NoError(t, err)
	require.Equal(t, text, got)
}

// expectClosed waits for the stream to end. A client_disconnect notice
// racing the close is tolerated.
func (p *rawPeer) expectClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case e := <-p.in:
			text, err := e.Text()
			require.NoError(t, err)
			require.Equal(t, protocol.StatusClientDisconnect, text, "unexpected envelope %v", e)
		case err := <-p.done:
			require.True(t, protocol.IsClosed(err))
			return
		case <-deadline:
			require.FailNow(t, "timeout", "waiting for close")
		}
	}
}

func (p *rawPeer) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case e := <-p.in:
		require.FailNow(t, "unexpected envelope", "%v", e)
	case <-time.After(d):
	}
}

func (p *rawPeer) send(t *testing.T, e *protocol.Envelope) {
	t.Helper()
	require.NoError(t, p.conn.WriteEnvelope(e))
}

func testLogBackend(t *testing.T) *rlog.Backend {
	t.Helper()
	b, err := rlog.New("", "DEBUG", true)
	require.NoError(t, err)
	return b
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Relay{
		Address:      "127.0.0.1",
		Port:         0,
		WriteTimeout: 2000,
		BaseBits:     64,
		ModulusBits:  256,
	}
	s, err := New(cfg, testLogBackend(t))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Shutdown)
	return s
}

// connectPair dials two peers and waits until both are told about each other.
func connectPair(t *testing.T, s *Server) (*rawPeer, *rawPeer) {
	t.Helper()
	a := dialRaw(t, s.Addr())
	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, waitFor, 10*time.Millisecond)
	b := dialRaw(t, s.Addr())
	a.expectText(t, protocol.CodeStatus, protocol.StatusClientConnect)
	b.expectText(t, protocol.CodeStatus, protocol.StatusClientConnect)
	return a, b
}
