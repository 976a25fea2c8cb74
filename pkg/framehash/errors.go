package framehash

import "errors"

var (
	// ErrIncompatible is returned for key and value combinations an operation does not accept.
	ErrIncompatible = errors.New("framehash: incompatible key or value type")
	// ErrCapacity is returned when the structure cannot grow to hold an item.
	ErrCapacity = errors.New("framehash: capacity exceeded")
	// ErrNoAccess is returned for writes while the map is readonly.
	ErrNoAccess = errors.New("framehash: readonly")
	// ErrCorrupt is returned when serialized input fails validation.
	ErrCorrupt = errors.New("framehash: corrupt input")
	// ErrNotSerializable is returned when a value cannot be written to a stream.
	ErrNotSerializable = errors.New("framehash: value cannot be serialized")
	// ErrCycle is returned when a map is reached again while it is being serialized.
	ErrCycle = errors.New("framehash: reference cycle")
	// ErrAborted is returned when a cell function stops a walk with an error.
	ErrAborted = errors.New("framehash: processing aborted")
	// ErrNoMasterpath is returned by file operations on a map without a masterpath.
	ErrNoMasterpath = errors.New("framehash: no masterpath")
)
