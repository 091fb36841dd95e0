package relay

import (
	"fmt"
	"sync/atomic"

	"github.com/sumanthd032/relaychat/internal/protocol"
	"github.com/sumanthd032/relaychat/pkg/errs"
)

// PeerHandle is the relay's view of one admitted connection. It owns the
// connection: closing the handle closes the socket.
type PeerHandle struct {
	id        int
	conn      *protocol.Conn
	connected atomic.Bool
}

func newPeerHandle(id int, conn *protocol.Conn) *PeerHandle {
	h := &PeerHandle{id: id, conn: conn}
	h.connected.Store(true)
	return h
}

// ID returns the peer's id, unique among the currently registered peers.
func (h *PeerHandle) ID() int {
	return h.id
}

// Connected reports whether the handle has not been closed yet.
func (h *PeerHandle) Connected() bool {
	return h.connected.Load()
}

// Send writes e to the peer. A failed or timed out write leaves the stream
// unusable, so the handle is closed and the peer's loop winds it down.
func (h *PeerHandle) Send(e *protocol.Envelope) error {
	if !h.Connected() {
		return fmt.Errorf("%w: peer %d already closed", errs.ErrTransportFailure, h.id)
	}
	if err := h.conn.WriteEnvelope(e); err != nil {
		if protocol.IsClosed(err) {
			h.Close()
		}
		return fmt.Errorf("peer %d: %w", h.id, err)
	}
	return nil
}

// Close closes the peer's connection. It is safe to call more than once.
func (h *PeerHandle) Close() error {
	h.connected.Store(false)
	return h.conn.Close()
}

func (h *PeerHandle) String() string {
	return fmt.Sprintf("Client %d (%v)", h.id, h.conn.RemoteAddr())
}
