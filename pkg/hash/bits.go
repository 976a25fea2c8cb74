package hash

import "fmt"

// InvalidBits is returned by Bits for the top domain, which is indexed by
// the full object id instead of a domain slice.
const InvalidBits uint16 = 0x8000

// Bits returns the 15-bit slice of shortid used by frames in domain.
func Bits(domain int, shortid uint64) uint16 {
	if domain <= 0 {
		return InvalidBits
	}
	return uint16((shortid >> (uint(domain-1) << 4)) & 0x7FFF)
}

// ChainIndex maps domain hash bits to a chain cell coordinate for frames of
// maximum order pmax. The slot is index>>2 and the cell is index&3.
func ChainIndex(pmax int, h16 uint16) int {
	switch pmax {
	case 6:
		return int((h16 >> 3) & 0x3F)
	case 5:
		return int((h16 >> 7) & 0x1F)
	case 4:
		return int((h16 >> 10) & 0xF)
	case 3:
		return int((h16 >> 12) & 0x7)
	default:
		panic(fmt.Sprintf("hash: unsupported max order %d", pmax))
	}
}

// ChainSlot returns the chain slot q of a chain index.
func ChainSlot(cidx int) int {
	return cidx >> 2
}

// ChainCell returns the cell j within the chain slot of a chain index.
func ChainCell(cidx int) int {
	return cidx & 3
}

// leafShift discards hash bits a leaf of a given order does not probe with.
var leafShift = [...]uint{0: 16, 1: 15, 2: 14, 3: 12, 4: 9, 5: 5, 6: 0}

// LeafBits adjusts domain hash bits for probing a leaf of order p.
func LeafBits(p int, h16 uint16) uint16 {
	if p <= 0 {
		return 0
	}
	if p >= len(leafShift) {
		return h16
	}
	return h16 >> leafShift[p]
}

// ZoneMask returns the slot index mask of zone k.
func ZoneMask(k int) uint16 {
	return uint16(1<<uint(k)) - 1
}

// TopIndex returns the top-level slot of an object id high part for a top
// frame of the given order.
func TopIndex(order int, high uint64) int {
	return int(high & (uint64(1)<<uint(order) - 1))
}
