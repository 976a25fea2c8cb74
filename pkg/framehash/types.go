package framehash

import (
	"math"

	"framehash/pkg/hash"
)

// KeyType selects how a key is matched and placed.
type KeyType uint8

const (
	KeyNone    KeyType = iota
	KeyPlain64         // 64-bit key hashed into a shortid by the instance hasher.
	KeyHash64          // 64-bit key used directly as the shortid.
	KeyHash128         // 128-bit object id. L is the shortid, H selects the top-level subtree.
)

func (t KeyType) String() string {
	switch t {
	case KeyPlain64:
		return "plain64"
	case KeyHash64:
		return "hash64"
	case KeyHash128:
		return "hash128"
	default:
		return "none"
	}
}

// ValueType tags the payload of a cell. The types from ValueChain on are
// markers returned by operations rather than storable values.
type ValueType uint8

const (
	ValueNull ValueType = iota
	ValueMember
	ValueBoolean
	ValueUnsigned
	ValueInteger
	ValueReal
	ValuePointer
	ValueObject64
	ValueObject128
	ValueChain
	ValueEnd
	ValueEmpty
	ValueError
	ValueNoAccess
)

var valueTypeNames = [...]string{
	ValueNull:      "null",
	ValueMember:    "member",
	ValueBoolean:   "boolean",
	ValueUnsigned:  "unsigned",
	ValueInteger:   "integer",
	ValueReal:      "real",
	ValuePointer:   "pointer",
	ValueObject64:  "object64",
	ValueObject128: "object128",
	ValueChain:     "chain",
	ValueEnd:       "end",
	ValueEmpty:     "empty",
	ValueError:     "error",
	ValueNoAccess:  "noaccess",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "unknown"
}

// IsNumeric reports whether values of type t take part in arithmetic.
func (t ValueType) IsNumeric() bool {
	return t == ValueUnsigned || t == ValueInteger || t == ValueReal
}

// Ownership records whether the map destroys an object value when it is
// removed.
type Ownership uint8

const (
	Owned Ownership = iota
	Borrowed
)

// Object is a heap object stored by reference.
type Object interface {
	ObjectID() hash.ObjectID
	// Destroy is called when an owned object leaves the map.
	Destroy()
}

// Key identifies an item.
type Key struct {
	typ KeyType
	key uint64
	id  hash.ObjectID
}

// PlainKey returns a key that is hashed into a shortid by the instance hasher.
func PlainKey(k uint64) Key {
	return Key{typ: KeyPlain64, key: k}
}

// HashKey returns a key whose value is already a well distributed shortid.
func HashKey(shortid uint64) Key {
	return Key{typ: KeyHash64, key: shortid}
}

// IDKey returns a 128-bit key.
func IDKey(id hash.ObjectID) Key {
	return Key{typ: KeyHash128, key: id.L, id: id}
}

// Type returns the key type.
func (k Key) Type() KeyType {
	return k.typ
}

// Uint64 returns the plain key or shortid. For 128-bit keys it is the low part.
func (k Key) Uint64() uint64 {
	return k.key
}

// ID returns the 128-bit id of a KeyHash128 key.
func (k Key) ID() hash.ObjectID {
	return k.id
}

// Value is a tagged value.
type Value struct {
	typ  ValueType
	bits uint64
	obj  Object
	own  Ownership
}

// Null is the absent value. Setting it deletes the key.
func Null() Value { return Value{} }

// Member marks key existence.
func Member() Value { return Value{typ: ValueMember} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{typ: ValueBoolean}
	if b {
		v.bits = 1
	}
	return v
}

// Unsigned returns an unsigned integer value.
func Unsigned(u uint64) Value { return Value{typ: ValueUnsigned, bits: u} }

// Int returns a signed integer value.
func Int(i int64) Value { return Value{typ: ValueInteger, bits: uint64(i)} }

// Real returns a floating point value.
func Real(f float64) Value { return Value{typ: ValueReal, bits: math.Float64bits(f)} }

// Pointer returns a raw address value. Pointers are never dereferenced by the
// map and cannot be serialized.
func Pointer(p uintptr) Value { return Value{typ: ValuePointer, bits: uint64(p)} }

// Object64 returns an object reference for use with 64-bit keys. The map
// never destroys it.
func Object64(o Object) Value { return Value{typ: ValueObject64, obj: o, own: Borrowed} }

// Object128 returns an object reference owned by the map.
func Object128(o Object) Value { return Value{typ: ValueObject128, obj: o, own: Owned} }

// BorrowedObject128 returns an object reference the map does not destroy.
func BorrowedObject128(o Object) Value { return Value{typ: ValueObject128, obj: o, own: Borrowed} }

// Type returns the value type.
func (v Value) Type() ValueType { return v.typ }

// Bool returns the value as a boolean.
func (v Value) Bool() bool { return v.bits != 0 }

// Unsigned returns the raw payload as an unsigned integer.
func (v Value) Unsigned() uint64 { return v.bits }

// Int returns the raw payload as a signed integer.
func (v Value) Int() int64 { return int64(v.bits) }

// Real returns the payload as a float. Integer payloads are converted.
func (v Value) Real() float64 {
	switch v.typ {
	case ValueReal:
		return math.Float64frombits(v.bits)
	case ValueInteger:
		return float64(int64(v.bits))
	default:
		return float64(v.bits)
	}
}

// Pointer returns the payload as an address.
func (v Value) Pointer() uintptr { return uintptr(v.bits) }

// Object returns the referenced object, if any.
func (v Value) Object() Object { return v.obj }

// Ownership returns who is responsible for destroying the object.
func (v Value) Ownership() Ownership { return v.own }

// Item is a key and its value.
type Item struct {
	Key   Key
	Value Value
}
