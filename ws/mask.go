package ws

import "crypto/rand"

// NewMaskKey returns 4 random bytes suitable as a frame masking key.
func NewMaskKey() (key [4]byte) {
	rand.Read(key[:])
	return
}

// Mask XORs data in place with key, indexed from the start of data.
// Applying it twice with the same key restores the input.
func Mask(key [4]byte, data []byte) {
	for i := range data {
		data[i] ^= key[i&3]
	}
}
