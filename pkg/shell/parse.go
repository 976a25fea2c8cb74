package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"framehash/pkg/framehash"
	"framehash/pkg/hash"
)

var (
	ErrBadKey   = errors.New("bad key, expected <uint>, h:<hex> or id:<name|32 hex digits>")
	ErrBadValue = errors.New("bad value, expected <int>, <real>, u:<uint>, true, false, member or null")
)

// ParseKey reads a key. Plain decimal keys are hashed by the map, h:<hex>
// keys are used as shortids, and id: keys are 128-bit object ids given
// either as 32 hex digits or as a name that is hashed.
func ParseKey(s string) (framehash.Key, error) {
	switch {
	case strings.HasPrefix(s, "h:"):
		u, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return framehash.Key{}, fmt.Errorf("%q: %w", s, ErrBadKey)
		}
		return framehash.HashKey(u), nil
	case strings.HasPrefix(s, "id:"):
		name := s[3:]
		if name == "" {
			return framehash.Key{}, fmt.Errorf("%q: %w", s, ErrBadKey)
		}
		if id, ok := parseHexID(name); ok {
			return framehash.IDKey(id), nil
		}
		return framehash.IDKey(hash.ObjectIDFromString(name)), nil
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return framehash.Key{}, fmt.Errorf("%q: %w", s, ErrBadKey)
	}
	return framehash.PlainKey(u), nil
}

func parseHexID(s string) (hash.ObjectID, bool) {
	if len(s) != 32 {
		return hash.ObjectID{}, false
	}
	h, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return hash.ObjectID{}, false
	}
	l, err := strconv.ParseUint(s[16:], 16, 64)
	if err != nil {
		return hash.ObjectID{}, false
	}
	return hash.ObjectID{H: h, L: l}, true
}

// FormatKey is the inverse of ParseKey for hex ids.
func FormatKey(k framehash.Key) string {
	switch k.Type() {
	case framehash.KeyHash64:
		return fmt.Sprintf("h:%x", k.Uint64())
	case framehash.KeyHash128:
		return "id:" + k.ID().String()
	default:
		return strconv.FormatUint(k.Uint64(), 10)
	}
}

// ParseValue reads a scalar value.
func ParseValue(s string) (framehash.Value, error) {
	switch s {
	case "null":
		return framehash.Null(), nil
	case "member":
		return framehash.Member(), nil
	case "true":
		return framehash.Bool(true), nil
	case "false":
		return framehash.Bool(false), nil
	}
	if strings.HasPrefix(s, "u:") {
		u, err := strconv.ParseUint(s[2:], 10, 64)
		if err != nil {
			return framehash.Value{}, fmt.Errorf("%q: %w", s, ErrBadValue)
		}
		return framehash.Unsigned(u), nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return framehash.Int(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return framehash.Real(f), nil
	}
	return framehash.Value{}, fmt.Errorf("%q: %w", s, ErrBadValue)
}

// FormatValue renders v the way ParseValue reads it. Objects and pointers
// are shown by type and identity.
func FormatValue(v framehash.Value) string {
	switch v.Type() {
	case framehash.ValueNull, framehash.ValueMember:
		return v.Type().String()
	case framehash.ValueBoolean:
		return strconv.FormatBool(v.Bool())
	case framehash.ValueUnsigned:
		return "u:" + strconv.FormatUint(v.Unsigned(), 10)
	case framehash.ValueInteger:
		return strconv.FormatInt(v.Int(), 10)
	case framehash.ValueReal:
		return strconv.FormatFloat(v.Real(), 'g', -1, 64)
	case framehash.ValuePointer:
		return fmt.Sprintf("pointer:%#x", v.Pointer())
	case framehash.ValueObject64, framehash.ValueObject128:
		if o := v.Object(); o != nil {
			return fmt.Sprintf("%s:%s", v.Type(), o.ObjectID())
		}
	}
	return v.Type().String()
}
