package framehash

import "math"

// Set stores v under key and returns the stored value type. Setting Null
// deletes the key.
func (fh *Framehash) Set(key Key, v Value) (ValueType, error) {
	return fh.set(key, v)
}

// Get returns the value of key, or Null when it does not exist.
func (fh *Framehash) Get(key Key) (Value, error) {
	return fh.get(key)
}

// Has reports whether key exists.
func (fh *Framehash) Has(key Key) (bool, error) {
	v, err := fh.get(key)
	if err != nil {
		return false, err
	}
	return v.typ != ValueNull, nil
}

// Delete removes key and returns the type of the removed value, or
// ValueNull when the key did not exist.
func (fh *Framehash) Delete(key Key) (ValueType, error) {
	return fh.del(key)
}

// Inc adds delta to the numeric value of key and returns the new value. A
// missing key is created with delta. Unsigned plus integer gives integer and
// anything plus real gives real.
func (fh *Framehash) Inc(key Key, delta Value) (Value, error) {
	if key.typ == KeyHash128 || !validKeyType(key.typ) || !delta.typ.IsNumeric() {
		return Value{typ: ValueError}, ErrIncompatible
	}
	ctx := fh.newOp(key)
	slot := fh.slotOf(ctx)
	fh.locker.acquire(slot)
	defer fh.locker.release(slot)
	fh.writes.Add(1)
	if fh.readonly.Load() > 0 {
		return Value{typ: ValueNoAccess}, ErrNoAccess
	}
	if r := ctx.radixGet(&fh.top); r.errored {
		return Value{typ: ValueError}, ctx.cause()
	}
	next, err := addValues(ctx.value, delta)
	if err != nil {
		return Value{typ: ValueError}, err
	}
	up := fh.newOp(key)
	up.value = next
	r := up.radixSet(&fh.top)
	fh.modified(r, 1)
	if !r.completed {
		if r.errored {
			return Value{typ: ValueError}, up.cause()
		}
		return Null(), nil
	}
	fh.emit(opSet, key, next)
	return next, nil
}

// addValues returns cur+delta with numeric type promotion. A Null cur takes
// the value of delta.
func addValues(cur, delta Value) (Value, error) {
	switch cur.typ {
	case ValueNull:
		return delta, nil
	case ValueUnsigned:
		switch delta.typ {
		case ValueUnsigned:
			return Unsigned(cur.bits + delta.bits), nil
		case ValueInteger:
			return Int(int64(cur.bits) + delta.Int()), nil
		case ValueReal:
			return Real(float64(cur.bits) + delta.Real()), nil
		}
	case ValueInteger:
		switch delta.typ {
		case ValueUnsigned:
			return Int(cur.Int() + int64(delta.bits)), nil
		case ValueInteger:
			return Int(cur.Int() + delta.Int()), nil
		case ValueReal:
			return Real(float64(cur.Int()) + delta.Real()), nil
		}
	case ValueReal:
		switch delta.typ {
		case ValueUnsigned:
			return Real(cur.Real() + float64(delta.bits)), nil
		case ValueInteger:
			return Real(cur.Real() + float64(delta.Int())), nil
		case ValueReal:
			return Real(cur.Real() + delta.Real()), nil
		}
	case ValuePointer:
		switch delta.typ {
		case ValueUnsigned, ValueInteger:
			return Pointer(uintptr(cur.bits + delta.bits)), nil
		}
	}
	return Value{typ: ValueError}, ErrIncompatible
}

// isFinite reports whether f can be converted to an integer.
func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
