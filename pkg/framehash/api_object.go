package framehash

import "framehash/pkg/hash"

// SetObject stores a borrowed object reference under a 64-bit key.
func (fh *Framehash) SetObject(key Key, o Object) (ValueType, error) {
	if err := key64(key); err != nil {
		return ValueError, err
	}
	return fh.set(key, Object64(o))
}

// GetObject returns the object stored under a 64-bit key, or nil.
func (fh *Framehash) GetObject(key Key) (Object, error) {
	if err := key64(key); err != nil {
		return nil, err
	}
	v, err := fh.get(key)
	if err != nil {
		return nil, err
	}
	if !isObjectType(v.typ) {
		return nil, nil
	}
	return v.obj, nil
}

// DelObject removes the object stored under a 64-bit key.
func (fh *Framehash) DelObject(key Key) (ValueType, error) {
	return fh.DelKey(key)
}

// SetObject128 stores o under its own object id. The map takes ownership
// and destroys o when it is removed or replaced.
func (fh *Framehash) SetObject128(o Object) (ValueType, error) {
	if o == nil {
		return ValueError, ErrIncompatible
	}
	return fh.set(IDKey(o.ObjectID()), Object128(o))
}

// SetBorrowedObject128 stores o under its own object id without taking
// ownership.
func (fh *Framehash) SetBorrowedObject128(o Object) (ValueType, error) {
	if o == nil {
		return ValueError, ErrIncompatible
	}
	return fh.set(IDKey(o.ObjectID()), BorrowedObject128(o))
}

// GetObject128 returns the object stored under id, or nil.
func (fh *Framehash) GetObject128(id hash.ObjectID) (Object, error) {
	v, err := fh.get(IDKey(id))
	if err != nil {
		return nil, err
	}
	if v.typ != ValueObject128 {
		return nil, nil
	}
	return v.obj, nil
}

// HasObject128 reports whether id exists.
func (fh *Framehash) HasObject128(id hash.ObjectID) (bool, error) {
	return fh.Has(IDKey(id))
}

// DelObject128 removes id. An owned object is destroyed.
func (fh *Framehash) DelObject128(id hash.ObjectID) (ValueType, error) {
	return fh.del(IDKey(id))
}
