package framehash

// Standard cell functions.

// CountActive counts items.
func CountActive(_ *Processor, _ *Cell) int64 {
	return 1
}

// DestroyObjects destroys owned objects and leaves a MEMBER item with the
// same key in their place. It needs a processor that is not readonly.
func DestroyObjects(p *Processor, c *Cell) int64 {
	if !c.destructible() {
		return 0
	}
	if p.Readonly {
		return p.Abort(ErrNoAccess)
	}
	c.obj.Destroy()
	c.vtype = ValueMember
	c.obj = nil
	c.bits = 0
	return 1
}

// CollectItems appends every item to the *[]Item in Output.
func CollectItems(p *Processor, c *Cell) int64 {
	out := p.Output.(*[]Item)
	*out = append(*out, Item{Key: c.Key(), Value: c.Value()})
	return 1
}

// CollectKeys appends every key to the *[]Key in Output.
func CollectKeys(p *Processor, c *Cell) int64 {
	out := p.Output.(*[]Key)
	*out = append(*out, c.Key())
	return 1
}

// CollectValues appends every value to the *[]Value in Output.
func CollectValues(p *Processor, c *Cell) int64 {
	out := p.Output.(*[]Value)
	*out = append(*out, c.Value())
	return 1
}

// CollectObjects appends every object value to the *[]Object in Output.
func CollectObjects(p *Processor, c *Cell) int64 {
	if !isObjectType(c.vtype) || c.obj == nil {
		return 0
	}
	out := p.Output.(*[]Object)
	*out = append(*out, c.obj)
	return 1
}

// transferInput is the Input of transferCell.
type transferInput struct {
	ctx *opContext
	dst *Cell
}

// transferCell inserts the item into the frame referenced by the input's
// destination cell.
func transferCell(p *Processor, c *Cell) int64 {
	in := p.Input.(*transferInput)
	sub := in.ctx.cellContext(c, rehashControl)
	if r := sub.radixSet(in.dst); r.completed && !r.errored {
		return 1
	}
	return -1
}
