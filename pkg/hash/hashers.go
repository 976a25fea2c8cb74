package hash

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// ShortIDFunc maps a plain 64-bit key to the 64-bit shortid used for radix
// placement.
type ShortIDFunc func(key uint64) uint64

// ObjectID is a 128-bit identifier. H selects the top-level subtree and L is
// the shortid used for radix placement below it.
type ObjectID struct {
	H uint64
	L uint64
}

// IsZero reports whether id is the zero id.
func (id ObjectID) IsZero() bool {
	return id.H == 0 && id.L == 0
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%016x%016x", id.H, id.L)
}

// getHash encodes key little-endian and hashes the 8 bytes with hasher.
func getHash(hasher func(b []byte) uint64, key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return hasher(buf[:])
}

// XxHash64 returns the xxHash of the given key.
func XxHash64(key uint64) uint64 {
	return getHash(xxhash.Sum64, key)
}

// Murmur64 returns the MurmurHash3 hash of the given key.
func Murmur64(key uint64) uint64 {
	return getHash(murmur3.Sum64, key)
}

// ObjectIDFromBytes returns the 128-bit MurmurHash3 of data as an ObjectID.
func ObjectIDFromBytes(data []byte) ObjectID {
	h, l := murmur3.Sum128(data)
	return ObjectID{H: h, L: l}
}

// ObjectIDFromString returns the 128-bit MurmurHash3 of s as an ObjectID.
func ObjectIDFromString(s string) ObjectID {
	return ObjectIDFromBytes([]byte(s))
}

// Fmix64 is the murmur3 64-bit finalizer.
func Fmix64(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// Surrogate returns an ObjectID for a key that only has a 64-bit shortid.
// The high part spreads the shortid over the top-level slots.
func Surrogate(shortid uint64) ObjectID {
	return ObjectID{H: Fmix64(shortid), L: shortid}
}
