package relay

import (
	"fmt"
	"math/big"

	"github.com/sumanthd032/relaychat/pkg/crypto"
)

// Params are the handshake parameters the relay hands to both peers. They are
// public, generated once per relay process and reused for every handshake.
type Params struct {
	G *big.Int
	N *big.Int
}

// GenerateParams draws a random base of baseBits and a random modulus of
// modulusBits.
func GenerateParams(baseBits, modulusBits int) (*Params, error) {
	g, err := crypto.RandomBits(baseBits)
	if err != nil {
		return nil, fmt.Errorf("could not generate base: %w", err)
	}
	n, err := crypto.RandomBits(modulusBits)
	if err != nil {
		return nil, fmt.Errorf("could not generate modulus: %w", err)
	}
	return &Params{G: g, N: n}, nil
}
