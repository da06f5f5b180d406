package ota

import (
	"hash"
	"hash/crc32"
)

// Verifier accumulates a CRC-32 (IEEE) over the bytes of a transfer, one pass
// per chunk.
type Verifier struct {
	h hash.Hash32
}

// NewVerifier returns a verifier with an empty accumulator.
func NewVerifier() *Verifier {
	return &Verifier{h: crc32.NewIEEE()}
}

// Write advances the checksum. It never fails.
func (v *Verifier) Write(p []byte) (int, error) {
	return v.h.Write(p)
}

// Sum32 returns the checksum of everything written since the last Reset.
func (v *Verifier) Sum32() uint32 {
	return v.h.Sum32()
}

// Reset clears the accumulator.
func (v *Verifier) Reset() {
	v.h.Reset()
}

// Matches reports whether the running checksum equals the advertised one.
func (v *Verifier) Matches(advertised uint32) bool {
	return v.h.Sum32() == advertised
}
