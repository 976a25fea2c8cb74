// Global framehash config.
package config

// Name of the library.
const Name = "framehash"

// DefaultPort is where the framehash server listens unless told otherwise.
const DefaultPort = 8335

// Prompt printed by REPL.
const Prompt = Name + "> "

// Frame geometry.
const (
	CellsPerSlot     = 4
	CellsPerHalfSlot = CellsPerSlot / 2
	PMax             = 6
	PMin             = 0
	PIncrement       = 2
	MaxPSmallFrame   = 2
	BasementSize     = 6
)

// Frame domains. Domain 0 is the top frame.
const (
	DomainTop           = 0
	DomainFirstFrame    = 1
	DomainLastFrame     = 4
	DomainFirstBasement = 5
	DomainLastBasement  = 255
)

// Domains from which leaves grow one order at a time.
const OptimizeMemFromDomain = 3

// Load factors in percent.
const (
	MaxLoadFactor = 90
	MinLoadFactor = 40
)

// Subtree item limit below which sparse internal frames are compacted.
const CompactionScanLimit = 64

// Default instance settings.
const (
	DefaultOrder         = 6
	DefaultMaxCacheDepth = 3
	MinOrder             = 1
	MaxOrder             = 12
)

// Serialization format version written by this library. The previous
// version is still accepted by the loader.
const (
	FormatVersion         = 0x0102
	PreviousFormatVersion = 0x0101
)

// Changelog delta file suffixes.
const (
	DeltaSuffix     = ".delta"
	OpenDeltaSuffix = ".delta~"
)

// Return prompt if requested, else "".
func GetPrompt(flag bool) string {
	if flag {
		return Prompt
	}
	return ""
}
