package framehash

import (
	"framehash/pkg/config"
)

// SimpleMap is a lightweight map of 64-bit keys to scalar values. It has no
// caches, no changelog, no locking and cannot hold objects. Keys are hashed
// by the hasher of the Dynamic it was created with. Callers serialize access.
type SimpleMap struct {
	dyn      *Dynamic
	entry    Cell
	count    int64
	readonly bool
}

// IntItem is a key and integer value returned by SimpleMap.IntItems.
type IntItem struct {
	Key   uint64
	Value int64
}

var (
	simpleControl    = control{minimalGrowth: true, highLoad: 100, lowLoad: 1}
	simpleDelControl = control{minimalGrowth: true, highLoad: 100, lowLoad: 25}
)

// NewSimple returns an empty map whose frames come from dyn.
func NewSimple(dyn *Dynamic) (*SimpleMap, error) {
	m := &SimpleMap{dyn: dyn}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

// init starts the map as the smallest leaf.
func (m *SimpleMap) init() error {
	return m.dyn.newFrame(&m.entry, 0, config.DomainFirstFrame, frameLeaf, -1)
}

func (m *SimpleMap) newOp(key Key, ctl control) *opContext {
	return newContext(m.dyn, key, -1, ctl)
}

func simpleKey(key Key) error {
	if key.typ != KeyPlain64 && key.typ != KeyHash64 {
		return ErrIncompatible
	}
	return nil
}

func simpleValue(v Value) error {
	switch v.typ {
	case ValueMember, ValueBoolean, ValueUnsigned, ValueInteger, ValueReal, ValuePointer:
		return nil
	default:
		return ErrIncompatible
	}
}

func (m *SimpleMap) writable() error {
	if m.readonly {
		return ErrNoAccess
	}
	return nil
}

// Set stores v under key and reports whether the key was inserted rather
// than overwritten.
func (m *SimpleMap) Set(key Key, v Value) (bool, error) {
	if err := simpleKey(key); err != nil {
		return false, err
	}
	if err := simpleValue(v); err != nil {
		return false, err
	}
	if err := m.writable(); err != nil {
		return false, err
	}
	ctx := m.newOp(key, simpleControl)
	ctx.value = v
	r := ctx.radixSet(&m.entry)
	if !r.completed {
		return false, ctx.cause()
	}
	if r.delta {
		m.count++
	}
	return r.delta, nil
}

func (m *SimpleMap) SetInt(key uint64, v int64) (bool, error) {
	return m.Set(PlainKey(key), Int(v))
}

func (m *SimpleMap) SetReal(key uint64, v float64) (bool, error) {
	return m.Set(PlainKey(key), Real(v))
}

func (m *SimpleMap) SetPointer(key uint64, p uintptr) (bool, error) {
	return m.Set(PlainKey(key), Pointer(p))
}

func (m *SimpleMap) SetMember(key uint64) (bool, error) {
	return m.Set(PlainKey(key), Member())
}

// Inc adds delta to the integer or real value under key and returns the new
// value. A missing key is created with delta, which is reported by created.
func (m *SimpleMap) Inc(key Key, delta Value) (v Value, created bool, err error) {
	if err := simpleKey(key); err != nil {
		return Value{typ: ValueError}, false, err
	}
	if delta.typ != ValueInteger && delta.typ != ValueReal {
		return Value{typ: ValueError}, false, ErrIncompatible
	}
	if err := m.writable(); err != nil {
		return Value{typ: ValueNoAccess}, false, err
	}
	get := m.newOp(key, simpleControl)
	if r := get.radixGet(&m.entry); r.errored {
		return Value{typ: ValueError}, false, get.cause()
	}
	switch get.value.typ {
	case ValueNull, ValueInteger, ValueReal:
	default:
		return Value{typ: ValueError}, false, ErrIncompatible
	}
	next, err := addValues(get.value, delta)
	if err != nil {
		return Value{typ: ValueError}, false, err
	}
	up := m.newOp(key, simpleControl)
	up.value = next
	r := up.radixSet(&m.entry)
	if !r.completed {
		return Value{typ: ValueError}, false, up.cause()
	}
	if r.delta {
		m.count++
	}
	return next, get.value.typ == ValueNull, nil
}

func (m *SimpleMap) IncInt(key uint64, delta int64) (int64, bool, error) {
	v, created, err := m.Inc(PlainKey(key), Int(delta))
	if err != nil {
		return 0, false, err
	}
	if v.typ == ValueReal {
		return int64(v.Real()), created, nil
	}
	return v.Int(), created, nil
}

func (m *SimpleMap) IncReal(key uint64, delta float64) (float64, bool, error) {
	v, created, err := m.Inc(PlainKey(key), Real(delta))
	if err != nil {
		return 0, false, err
	}
	return v.Real(), created, nil
}

// DecInt subtracts delta from the value under key. With autodelete a result
// of exactly zero removes the key, which is reported by deleted.
func (m *SimpleMap) DecInt(key uint64, delta int64, autodelete bool) (v int64, deleted bool, err error) {
	if v, _, err = m.IncInt(key, -delta); err != nil {
		return 0, false, err
	}
	if autodelete && v == 0 {
		if deleted, err = m.Del(PlainKey(key)); err != nil {
			return v, false, err
		}
	}
	return v, deleted, nil
}

func (m *SimpleMap) DecReal(key uint64, delta float64, autodelete bool) (v float64, deleted bool, err error) {
	if v, _, err = m.IncReal(key, -delta); err != nil {
		return 0, false, err
	}
	if autodelete && v == 0 {
		if deleted, err = m.Del(PlainKey(key)); err != nil {
			return v, false, err
		}
	}
	return v, deleted, nil
}

// Get returns the value under key and whether it exists.
func (m *SimpleMap) Get(key Key) (Value, bool, error) {
	if err := simpleKey(key); err != nil {
		return Value{typ: ValueError}, false, err
	}
	ctx := m.newOp(key, simpleControl)
	r := ctx.radixGet(&m.entry)
	switch {
	case r.errored:
		return Value{typ: ValueError}, false, ctx.cause()
	case r.completed:
		return ctx.value, true, nil
	default:
		return Null(), false, nil
	}
}

// GetInt returns the integer under key. Reals are truncated.
func (m *SimpleMap) GetInt(key uint64) (int64, bool, error) {
	v, ok, err := m.Get(PlainKey(key))
	if err != nil || !ok {
		return 0, ok, err
	}
	switch v.typ {
	case ValueInteger, ValueUnsigned:
		return v.Int(), true, nil
	case ValueReal:
		return int64(v.Real()), true, nil
	default:
		return 0, true, ErrIncompatible
	}
}

func (m *SimpleMap) GetReal(key uint64) (float64, bool, error) {
	v, ok, err := m.Get(PlainKey(key))
	if err != nil || !ok {
		return 0, ok, err
	}
	if !v.typ.IsNumeric() {
		return 0, true, ErrIncompatible
	}
	return v.Real(), true, nil
}

func (m *SimpleMap) GetPointer(key uint64) (uintptr, bool, error) {
	v, ok, err := m.Get(PlainKey(key))
	if err != nil || !ok {
		return 0, ok, err
	}
	if v.typ != ValuePointer {
		return 0, true, ErrIncompatible
	}
	return v.Pointer(), true, nil
}

// Has reports whether key exists.
func (m *SimpleMap) Has(key uint64) (bool, error) {
	_, ok, err := m.Get(PlainKey(key))
	return ok, err
}

// Del removes key and reports whether it existed.
func (m *SimpleMap) Del(key Key) (bool, error) {
	if err := simpleKey(key); err != nil {
		return false, err
	}
	if err := m.writable(); err != nil {
		return false, err
	}
	ctx := m.newOp(key, simpleDelControl)
	r := ctx.radixDel(&m.entry)
	if r.completed {
		m.count--
	}
	if r.errored {
		return r.completed, ctx.cause()
	}
	return r.completed, nil
}

func (m *SimpleMap) DelInt(key uint64) (bool, error) {
	return m.Del(PlainKey(key))
}

func (m *SimpleMap) Len() int64 {
	return m.count
}

func (m *SimpleMap) Empty() bool {
	return m.count == 0
}

// Process applies p to every item. A non-readonly processor may update or
// delete items unless the map is readonly.
func (m *SimpleMap) Process(p *Processor) (int64, error) {
	if !p.Readonly && m.readonly {
		return -1, ErrNoAccess
	}
	p.reset(m.dyn, -1)
	n := p.run(&m.entry)
	if !p.Readonly {
		m.count += p.deltaItems
	}
	return n, p.err()
}

func collectIntItem(p *Processor, c *Cell) int64 {
	out := p.Output.(*[]IntItem)
	v := c.Value()
	var i int64
	switch v.typ {
	case ValueReal:
		i = int64(v.Real())
	case ValueMember:
	default:
		i = v.Int()
	}
	*out = append(*out, IntItem{Key: c.Key().key, Value: i})
	return 1
}

// IntItems returns every key with its value as an integer.
func (m *SimpleMap) IntItems() ([]IntItem, error) {
	out := make([]IntItem, 0, int(m.count))
	p := NewProcessor(collectIntItem)
	p.Output = &out
	_, err := m.Process(p)
	return out, err
}

func (m *SimpleMap) SetReadonly()     { m.readonly = true }
func (m *SimpleMap) ClearReadonly()   { m.readonly = false }
func (m *SimpleMap) IsReadonly() bool { return m.readonly }

// Discard frees every frame and leaves the map empty. It returns the number
// of items dropped.
func (m *SimpleMap) Discard() (int64, error) {
	if err := m.writable(); err != nil {
		return 0, err
	}
	n := m.count
	if err := m.dyn.discard(&m.entry); err != nil {
		return 0, err
	}
	m.count = 0
	if err := m.init(); err != nil {
		return n, err
	}
	return n, nil
}
