package framehash

import (
	"framehash/pkg/hash"
)

type cellState uint8

const (
	cellEnd   cellState = iota // Slot terminator. The zero Cell is END.
	cellEmpty                  // Free cell that was used before.
	cellItem                   // Stored item (or cached non-existence when invalid).
	cellChain                  // Reference to a child frame or basement.
)

// Cell is the unit of storage. A cell is exactly one of end marker, empty,
// item or chain reference.
type Cell struct {
	state      cellState
	ktype      KeyType
	vtype      ValueType
	own        Ownership
	invalid    bool   // Cache only: known not to exist below.
	dirty      bool   // Cache only: not yet written below.
	annotation uint64 // Plain key or shortid.
	idH        uint64 // High half of a 128-bit key.
	bits       uint64
	obj        Object
	frame      *frame
}

// IsItem reports whether the cell holds a valid item.
func (c *Cell) IsItem() bool {
	return c.state == cellItem && !c.invalid
}

// Key returns the key of an item cell.
func (c *Cell) Key() Key {
	switch c.ktype {
	case KeyPlain64:
		return PlainKey(c.annotation)
	case KeyHash64:
		return HashKey(c.annotation)
	case KeyHash128:
		return IDKey(hash.ObjectID{H: c.idH, L: c.annotation})
	default:
		return Key{}
	}
}

// Value returns the value of an item cell.
func (c *Cell) Value() Value {
	if !c.IsItem() {
		return Value{}
	}
	return Value{typ: c.vtype, bits: c.bits, obj: c.obj, own: c.own}
}

// ValueType returns the type tag of the cell.
func (c *Cell) ValueType() ValueType {
	switch c.state {
	case cellEnd:
		return ValueEnd
	case cellEmpty:
		return ValueEmpty
	case cellChain:
		if c.frame == nil {
			return ValueEnd
		}
		return ValueChain
	}
	if c.invalid {
		return ValueNull
	}
	return c.vtype
}

func (c *Cell) isEnd() bool   { return c.state == cellEnd }
func (c *Cell) isEmpty() bool { return c.state == cellEmpty }

// hasFrame reports whether the cell references a live child.
func (c *Cell) hasFrame() bool {
	return c.state == cellChain && c.frame != nil
}

func (c *Cell) destructible() bool {
	return c.state == cellItem && c.vtype == ValueObject128 && c.own == Owned && c.obj != nil
}

// deleteItem turns the cell into an EMPTY cell without touching objects.
func (c *Cell) deleteItem() {
	*c = Cell{state: cellEmpty}
}

// clearRef turns the cell into a null reference (END).
func (c *Cell) clearRef() {
	*c = Cell{state: cellEnd}
}

// setRef makes the cell reference f.
func (c *Cell) setRef(f *frame) {
	*c = Cell{state: cellChain, frame: f}
}

// steal moves the reference in src into c and clears src.
func (c *Cell) steal(src *Cell) {
	*c = *src
	src.clearRef()
}

// setValue overwrites the value part of an item cell.
func (c *Cell) setValue(v Value) {
	c.vtype = v.typ
	c.bits = v.bits
	c.obj = v.obj
	c.own = v.own
}

// matches reports whether an item cell holds the key described by ctx.
func (ctx *opContext) matches(c *Cell) bool {
	if c.state != cellItem || c.ktype != ctx.ktype {
		return false
	}
	switch ctx.ktype {
	case KeyPlain64, KeyHash64:
		return c.annotation == ctx.key
	case KeyHash128:
		if c.annotation != ctx.shortid {
			return false
		}
		if c.vtype != ValueObject128 || c.invalid {
			return ctx.obid == nil || c.idH == ctx.obid.H
		}
		if ctx.ctl.expectNonexist {
			return false
		}
		if ctx.obid == nil || c.obj == nil {
			return true
		}
		return c.obj.ObjectID() == *ctx.obid
	}
	return false
}

// store writes the key and value of ctx into c as a clean, valid item.
func (ctx *opContext) store(c *Cell) {
	*c = Cell{
		state:      cellItem,
		ktype:      ctx.ktype,
		annotation: ctx.key,
		vtype:      ctx.value.typ,
		bits:       ctx.value.bits,
		obj:        ctx.value.obj,
		own:        ctx.value.own,
	}
	if ctx.ktype == KeyHash128 && ctx.obid != nil {
		c.idH = ctx.obid.H
	}
}

// markCachedNonexist records in c that the key of ctx does not exist below.
func (ctx *opContext) markCachedNonexist(c *Cell) {
	*c = Cell{
		state:      cellItem,
		ktype:      ctx.ktype,
		annotation: ctx.key,
		invalid:    true,
	}
	if ctx.ktype == KeyHash128 && ctx.obid != nil {
		c.idH = ctx.obid.H
	}
}

// loadValue copies the value of c into ctx.
func (ctx *opContext) loadValue(c *Cell) {
	ctx.value = Value{typ: c.vtype, bits: c.bits, obj: c.obj, own: c.own}
}

// loadFromCell sets the key and value of ctx from an item cell.
func (ctx *opContext) loadFromCell(c *Cell) {
	ctx.ktype = c.ktype
	ctx.key = c.annotation
	ctx.obid = nil
	switch c.ktype {
	case KeyPlain64:
		ctx.shortid = ctx.dyn.shortid(c.annotation)
	case KeyHash64:
		ctx.shortid = c.annotation
	case KeyHash128:
		ctx.shortid = c.annotation
		id := hash.ObjectID{H: c.idH, L: c.annotation}
		if c.vtype == ValueObject128 && c.obj != nil && !c.invalid {
			id = c.obj.ObjectID()
		}
		ctx.id = id
		ctx.obid = &ctx.id
	}
	ctx.loadValue(c)
}
