package crypto

import (
	"crypto/sha256"
	"strings"
)

// A list of simple, unambiguous words for the SAS.
var sasWordList = []string{
	"apple", "bird", "book", "bow", "cat", "cloud", "coin", "cup", "dog", "door",
	"duck", "fan", "fish", "fox", "grape", "hat", "heart", "house", "ice", "jar",
	"key", "kite", "leaf", "lion", "moon", "mouse", "nest", "net", "orange", "pen",
	"pig", "pipe", "queen", "rain", "ring", "robot", "rock", "ship", "shoe", "star",
	"sun", "tree", "tulip", "van", "vest", "vine", "watch", "web", "wheel", "wolf",
	"yacht", "yarn", "zebra",
}

// GenerateSAS creates a human-readable Short Authentication String from a session key.
// Both peers of a session get the same words, so users can compare them out of band.
func GenerateSAS(sessionKey []byte, numWords int) string {
	// Hash again so the words reveal nothing usable about the key itself.
	hash := sha256.Sum256(append([]byte("relaychat sas"), sessionKey...))

	var words []string
	wordListSize := len(sasWordList)

	for i := 0; i < numWords && i < len(hash); i++ {
		wordIndex := int(hash[i]) % wordListSize
		words = append(words, sasWordList[wordIndex])
	}

	return strings.Join(words, "-")
}
