package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keyInfo binds derived keys to their use.
var keyInfo = []byte("relaychat message key")

// DeriveKey uses HKDF to derive the AES-256 message key from raw key material.
func DeriveKey(material []byte) (*[KeySize]byte, error) {
	extractor := hkdf.New(sha256.New, material, nil, keyInfo)

	finalKey := new([KeySize]byte)
	_, err := io.ReadFull(extractor, finalKey[:])
	if err != nil {
		return nil, err
	}

	return finalKey, nil
}
