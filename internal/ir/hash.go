package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
)

// Domain prefixes for content-addressed identity. The version suffix
// leaves room for changing the algorithm without reusing old digests.
const (
	DomainSeed        = "kestrel/seed/v1"
	DomainFingerprint = "kestrel/fingerprint/v1"
	DomainVersion     = "kestrel/version/v1"
	DomainInitial     = "kestrel/initial/v1"
	DomainValue       = "kestrel/value/v1"
)

// Digest is a SHA-256 digest.
type Digest [sha256.Size]byte

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for logs.
func (d Digest) Short() string {
	return d.String()[:12]
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest parses the hex form produced by String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest: %w", err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("parse digest: want %d bytes, got %d", len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Hasher accumulates length-prefixed fields under a domain.
//
// Every field is prefixed with its length, so ("ab","c") and ("a","bc")
// never collide.
type Hasher struct {
	h hash.Hash
}

// NewHasher starts a hash under domain. Format: SHA256(domain 0x00 fields...).
func NewHasher(domain string) *Hasher {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	return &Hasher{h: h}
}

// Bytes writes a length-prefixed byte field.
func (h *Hasher) Bytes(b []byte) *Hasher {
	var n [binary.MaxVarintLen64]byte
	h.h.Write(n[:binary.PutUvarint(n[:], uint64(len(b)))])
	h.h.Write(b)
	return h
}

// String writes a length-prefixed string field.
func (h *Hasher) String(s string) *Hasher {
	return h.Bytes([]byte(s))
}

// Digest writes another digest as a field.
func (h *Hasher) Digest(d Digest) *Hasher {
	return h.Bytes(d[:])
}

// Uint64 writes a fixed-width integer field.
func (h *Hasher) Uint64(v uint64) *Hasher {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	h.h.Write(b[:])
	return h
}

// Sum returns the digest.
func (h *Hasher) Sum() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// HashWithDomain hashes a single payload under domain.
func HashWithDomain(domain string, data []byte) Digest {
	return NewHasher(domain).Bytes(data).Sum()
}

// SeedDigest hashes the canonical encoding of an operation seed.
func SeedDigest(seed Object) (Digest, error) {
	canonical, err := MarshalCanonical(seed)
	if err != nil {
		return Digest{}, fmt.Errorf("seed digest: %w", err)
	}
	return HashWithDomain(DomainSeed, canonical), nil
}

// MustSeedDigest is like SeedDigest but panics on error.
// Use only in tests or when the seed is known to be valid.
func MustSeedDigest(seed Object) Digest {
	d, err := SeedDigest(seed)
	if err != nil {
		panic(err)
	}
	return d
}
