package relay

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/sumanthd032/relaychat/internal/protocol"
	"github.com/sumanthd032/relaychat/pkg/errs"
)

// MaxPeers is the number of peers a relay session holds.
const MaxPeers = 2

// ErrRegistryFull is returned by Admit when MaxPeers are registered.
var ErrRegistryFull = errors.New("registry is at capacity")

// Registry is the set of at most MaxPeers active peers. Every mutation and
// every send that depends on membership happens under one lock, so a
// broadcast never reaches a peer that is being removed.
type Registry struct {
	sync.Mutex

	log   *logging.Logger
	peers []*PeerHandle
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		log:   log,
		peers: make([]*PeerHandle, 0, MaxPeers),
	}
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.peers)
}

// IDs returns the ids of the registered peers in admission order.
func (r *Registry) IDs() []int {
	r.Lock()
	defer r.Unlock()
	ids := make([]int, 0, len(r.peers))
	for _, p := range r.peers {
		ids = append(ids, p.id)
	}
	return ids
}

// Admit registers conn under the next free id. When it completes the pair,
// both peers are told with STATUS client_connect before Admit returns.
func (r *Registry) Admit(conn *protocol.Conn) (*PeerHandle, error) {
	r.Lock()
	defer r.Unlock()

	if len(r.peers) >= MaxPeers {
		return nil, ErrRegistryFull
	}

	// Ids are only unique among the live peers: 1 when empty, otherwise one
	// past the remaining peer's id.
	id := 1
	if len(r.peers) == 1 {
		id = r.peers[0].id + 1
	}
	h := newPeerHandle(id, conn)
	r.peers = append(r.peers, h)

	if len(r.peers) == MaxPeers {
		r.broadcastLocked(protocol.NewStatus(protocol.StatusClientConnect))
	}
	return h, nil
}

// Remove unregisters h. If the other peer is still registered it is sent
// STATUS client_disconnect first. Removing an unknown handle is a no-op.
func (r *Registry) Remove(h *PeerHandle) bool {
	r.Lock()
	defer r.Unlock()

	idx := -1
	for i, p := range r.peers {
		if p == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	if len(r.peers) == MaxPeers {
		other := r.peers[1-idx]
		if err := other.Send(protocol.NewStatus(protocol.StatusClientDisconnect)); err != nil {
			r.log.Warningf("Could not tell %v about the disconnect: %v", other, err)
		}
	}
	r.peers = append(r.peers[:idx], r.peers[idx+1:]...)
	return true
}

// RouteToOther forwards e verbatim to the peer whose id is not senderID.
func (r *Registry) RouteToOther(e *protocol.Envelope, senderID int) error {
	if e == nil {
		return fmt.Errorf("%w: envelope can't be nil", errs.ErrInvalidArgument)
	}

	r.Lock()
	defer r.Unlock()

	if len(r.peers) != MaxPeers {
		return fmt.Errorf("%w: two clients need to be connected", errs.ErrInvalidState)
	}
	for _, p := range r.peers {
		if p.id != senderID {
			return p.Send(e)
		}
	}
	return fmt.Errorf("%w: no peer other than %d", errs.ErrInvalidState, senderID)
}

// BroadcastPair sends e to both peers. It fails unless the pair is complete.
func (r *Registry) BroadcastPair(e *protocol.Envelope) error {
	r.Lock()
	defer r.Unlock()

	if len(r.peers) != MaxPeers {
		return fmt.Errorf("%w: two clients need to be connected", errs.ErrInvalidState)
	}
	return r.broadcastLocked(e)
}

func (r *Registry) broadcastLocked(e *protocol.Envelope) error {
	var errList []error
	for _, p := range r.peers {
		r.log.Debugf("Sending %v to %v", e.Code, p)
		if err := p.Send(e); err != nil {
			r.log.Warningf("Exception occurred when sending %v to %v: %v", e.Code, p, err)
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
