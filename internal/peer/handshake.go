package peer

import (
	"fmt"
	"math/big"

	"github.com/sumanthd032/relaychat/pkg/crypto"
	"github.com/sumanthd032/relaychat/pkg/errs"
)

// Handshake is one side of the modular Diffie-Hellman exchange. The relay
// supplies the public base g and modulus n; each side picks a secret x,
// publishes g^x mod n, and raises the other side's value to x. Both arrive
// at g^(xy) mod n without x or y ever leaving their owner.
//
// A Handshake is not safe for concurrent use.
type Handshake struct {
	publicBase      *big.Int
	publicModulus   *big.Int
	localSecret     *big.Int
	peerPublicValue *big.Int
	derivedSecret   *big.Int
	sessionKey      []byte
}

// Begin discards any previous state, stores (g, n), draws the local secret
// and returns the public value g^x mod n to send to the peer.
func (h *Handshake) Begin(g, n *big.Int) (*big.Int, error) {
	h.Reset()
	if g == nil || n == nil {
		return nil, fmt.Errorf("%w: handshake parameters can't be nil", errs.ErrInvalidArgument)
	}

	x, err := crypto.RandomInRange(n)
	if err != nil {
		return nil, err
	}
	own, err := crypto.ModPow(g, x, n)
	if err != nil {
		return nil, err
	}

	h.publicBase = new(big.Int).Set(g)
	h.publicModulus = new(big.Int).Set(n)
	h.localSecret = x
	return own, nil
}

// Complete takes the peer's public value, derives the shared secret and
// returns the session key, the SHA-256 digest of that secret.
func (h *Handshake) Complete(peerValue *big.Int) ([]byte, error) {
	if !h.InProgress() {
		return nil, fmt.Errorf("%w: no handshake in progress", errs.ErrInvalidState)
	}
	if peerValue == nil {
		return nil, fmt.Errorf("%w: peer value can't be nil", errs.ErrInvalidArgument)
	}

	derived, err := crypto.ModPow(peerValue, h.localSecret, h.publicModulus)
	if err != nil {
		return nil, err
	}
	key, err := crypto.Hash(derived)
	if err != nil {
		return nil, err
	}

	h.peerPublicValue = new(big.Int).Set(peerValue)
	h.derivedSecret = derived
	h.sessionKey = key
	return append([]byte(nil), key...), nil
}

// InProgress reports whether Begin ran and Complete has not.
func (h *Handshake) InProgress() bool {
	return h.localSecret != nil && h.derivedSecret == nil
}

// Done reports whether a session key has been derived.
func (h *Handshake) Done() bool {
	return h.sessionKey != nil
}

// Reset clears every field.
func (h *Handshake) Reset() {
	*h = Handshake{}
}
