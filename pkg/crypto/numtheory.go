// Package crypto provides the number theory and symmetric cipher helpers for relaychat.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/sumanthd032/relaychat/pkg/errs"
)

var one = big.NewInt(1)

// ModPow computes base^exponent mod modulus.
func ModPow(base, exponent, modulus *big.Int) (*big.Int, error) {
	if base == nil || exponent == nil || modulus == nil {
		return nil, fmt.Errorf("%w: modpow operands can't be nil", errs.ErrInvalidArgument)
	}
	if modulus.Sign() <= 0 {
		return nil, fmt.Errorf("%w: modulus must be positive", errs.ErrInvalidArgument)
	}

	// A negative exponent asks for a modular inverse, which may not exist.
	result := new(big.Int).Exp(base, exponent, modulus)
	if result == nil {
		return nil, fmt.Errorf("%w: %v has no inverse mod %v", errs.ErrInvalidArgument, base, modulus)
	}
	return result, nil
}

// RandomInRange returns a uniformly random value v with 1 <= v <= high,
// drawn from crypto/rand.
func RandomInRange(high *big.Int) (*big.Int, error) {
	return randomInRange(rand.Reader, high)
}

func randomInRange(r io.Reader, high *big.Int) (*big.Int, error) {
	if high == nil {
		return nil, fmt.Errorf("%w: upper limit can't be nil", errs.ErrInvalidArgument)
	}
	if high.Cmp(one) < 0 {
		return nil, fmt.Errorf("%w: upper limit must be at least 1", errs.ErrInvalidArgument)
	}

	// Sample with the bit length of high and resample anything outside [1, high].
	bits := high.BitLen()
	buf := make([]byte, (bits+7)/8)
	mask := byte(0xff >> (uint(len(buf)*8 - bits)))
	v := new(big.Int)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("could not generate random number: %w", err)
		}
		buf[0] &= mask
		v.SetBytes(buf)
		if v.Cmp(one) >= 0 && v.Cmp(high) <= 0 {
			return v, nil
		}
	}
}

// RandomBits returns a random positive integer whose bit length is exactly bits.
func RandomBits(bits int) (*big.Int, error) {
	if bits < 1 {
		return nil, fmt.Errorf("%w: bit length must be positive", errs.ErrInvalidArgument)
	}
	top := new(big.Int).Lsh(one, uint(bits-1))
	v, err := rand.Int(rand.Reader, top)
	if err != nil {
		return nil, fmt.Errorf("could not generate random number: %w", err)
	}
	return v.Add(v, top), nil
}
