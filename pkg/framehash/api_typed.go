package framehash

// Typed accessors for 64-bit keys. They reject KeyHash128.

func key64(key Key) error {
	if key.typ != KeyPlain64 && key.typ != KeyHash64 {
		return ErrIncompatible
	}
	return nil
}

// SetInt stores an integer.
func (fh *Framehash) SetInt(key Key, v int64) (ValueType, error) {
	if err := key64(key); err != nil {
		return ValueError, err
	}
	return fh.set(key, Int(v))
}

// GetInt returns the integer stored under key. Unsigned values are
// converted. The boolean is false when the key does not exist.
func (fh *Framehash) GetInt(key Key) (int64, bool, error) {
	if err := key64(key); err != nil {
		return 0, false, err
	}
	v, err := fh.get(key)
	if err != nil || v.typ == ValueNull {
		return 0, false, err
	}
	switch v.typ {
	case ValueInteger, ValueUnsigned:
		return v.Int(), true, nil
	default:
		return 0, true, ErrIncompatible
	}
}

// IncInt adds delta to the integer under key.
func (fh *Framehash) IncInt(key Key, delta int64) (int64, error) {
	if err := key64(key); err != nil {
		return 0, err
	}
	v, err := fh.Inc(key, Int(delta))
	if err != nil {
		return 0, err
	}
	if v.typ == ValueReal {
		return int64(v.Real()), nil
	}
	return v.Int(), nil
}

// SetReal stores a float.
func (fh *Framehash) SetReal(key Key, v float64) (ValueType, error) {
	if err := key64(key); err != nil {
		return ValueError, err
	}
	return fh.set(key, Real(v))
}

// GetReal returns the numeric value under key as a float.
func (fh *Framehash) GetReal(key Key) (float64, bool, error) {
	if err := key64(key); err != nil {
		return 0, false, err
	}
	v, err := fh.get(key)
	if err != nil || v.typ == ValueNull {
		return 0, false, err
	}
	if !v.typ.IsNumeric() {
		return 0, true, ErrIncompatible
	}
	return v.Real(), true, nil
}

// IncReal adds delta to the value under key, which becomes real.
func (fh *Framehash) IncReal(key Key, delta float64) (float64, error) {
	if err := key64(key); err != nil {
		return 0, err
	}
	v, err := fh.Inc(key, Real(delta))
	if err != nil {
		return 0, err
	}
	return v.Real(), nil
}

// SetPointer stores a raw address.
func (fh *Framehash) SetPointer(key Key, p uintptr) (ValueType, error) {
	if err := key64(key); err != nil {
		return ValueError, err
	}
	return fh.set(key, Pointer(p))
}

// GetPointer returns the address stored under key.
func (fh *Framehash) GetPointer(key Key) (uintptr, bool, error) {
	if err := key64(key); err != nil {
		return 0, false, err
	}
	v, err := fh.get(key)
	if err != nil || v.typ == ValueNull {
		return 0, false, err
	}
	if v.typ != ValuePointer {
		return 0, true, ErrIncompatible
	}
	return v.Pointer(), true, nil
}

// IncPointer moves the address stored under key by delta bytes. The key
// must already hold a pointer.
func (fh *Framehash) IncPointer(key Key, delta int64) (uintptr, error) {
	if err := key64(key); err != nil {
		return 0, err
	}
	cur, ok, err := fh.GetPointer(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrIncompatible
	}
	v, err := fh.Inc(key, Int(delta))
	if err != nil {
		return 0, err
	}
	if v.typ != ValuePointer {
		// Replaced concurrently by another type.
		return cur, ErrIncompatible
	}
	return v.Pointer(), nil
}

// HasKey reports whether a 64-bit key exists.
func (fh *Framehash) HasKey(key Key) (bool, error) {
	if err := key64(key); err != nil {
		return false, err
	}
	return fh.Has(key)
}

// DelKey removes a 64-bit key.
func (fh *Framehash) DelKey(key Key) (ValueType, error) {
	if err := key64(key); err != nil {
		return ValueError, err
	}
	return fh.del(key)
}

// SetMember stores key without a value.
func (fh *Framehash) SetMember(key Key) (ValueType, error) {
	return fh.set(key, Member())
}
