package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var words = []string{
	"apple", "banana", "carrot", "dog", "elephant", "frog", "grape", "hat", "ice",
	"jungle", "kite", "lemon", "moon", "ninja", "orange", "pencil", "queen", "robot",
	"snake", "tiger", "unicorn", "violet", "whale", "xylophone", "yacht", "zebra",
}

// GenerateCode creates a memorable, multi-word code such as "kite-moon-ninja".
// The relay advertises itself on the LAN under this code.
func GenerateCode(numWords int) (string, error) {
	if numWords < 1 {
		return "", fmt.Errorf("code needs at least one word, got %d", numWords)
	}
	parts := make([]string, 0, numWords)
	for i := 0; i < numWords; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
		if err != nil {
			return "", fmt.Errorf("could not generate random number for code: %w", err)
		}
		parts = append(parts, words[n.Int64()])
	}
	return strings.Join(parts, "-"), nil
}

// IsCode reports whether s looks like a code produced by GenerateCode.
func IsCode(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, "-") {
		found := false
		for _, w := range words {
			if part == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
