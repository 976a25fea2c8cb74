package framehash

import (
	"math"
	"math/bits"
	"math/rand/v2"
	"sync"
)

// Math applies arithmetic to every numeric item of an instance. Transforms
// return the number of items changed.
type Math struct {
	fh *Framehash
}

// Math returns the arithmetic interface of the instance.
func (fh *Framehash) Math() Math {
	return Math{fh: fh}
}

// cellTransform maps a numeric value to its new value.
type cellTransform func(v Value) Value

// apply runs tf over all numeric items. With preserveCache cached copies are
// transformed in place as well, so caches stay coherent.
func (m Math) apply(tf cellTransform, preserveCache bool) (int64, error) {
	p := NewProcessor(func(_ *Processor, c *Cell) int64 {
		if !c.vtype.IsNumeric() {
			return 0
		}
		c.setValue(tf(c.Value()))
		return 1
	})
	p.Readonly = false
	p.AllowCached = preserveCache
	return m.fh.Process(p)
}

func integral(x float64) bool {
	return isFinite(x) && math.Floor(x) == x && x < math.MaxInt64 && x > math.MinInt64
}

// Mul multiplies every value by factor. Integer factors keep integer types.
func (m Math) Mul(factor float64) (int64, error) {
	if integral(factor) {
		f := int64(factor)
		return m.apply(func(v Value) Value {
			switch v.typ {
			case ValueUnsigned:
				return Unsigned(v.bits * uint64(f))
			case ValueInteger:
				return Int(v.Int() * f)
			default:
				return Real(v.Real() * factor)
			}
		}, true)
	}
	return m.apply(func(v Value) Value { return Real(v.Real() * factor) }, true)
}

// Add adds x to every value. Integer addends keep integer types.
func (m Math) Add(x float64) (int64, error) {
	if integral(x) {
		a := int64(x)
		return m.apply(func(v Value) Value {
			switch v.typ {
			case ValueUnsigned:
				return Unsigned(v.bits + uint64(a))
			case ValueInteger:
				return Int(v.Int() + a)
			default:
				return Real(v.Real() + x)
			}
		}, true)
	}
	return m.apply(func(v Value) Value { return Real(v.Real() + x) }, true)
}

// Sqrt replaces every value by its square root.
func (m Math) Sqrt() (int64, error) {
	return m.apply(func(v Value) Value { return Real(math.Sqrt(v.Real())) }, true)
}

// Pow raises every value to exponent. Squares and cubes keep integer types.
func (m Math) Pow(exponent float64) (int64, error) {
	var n int
	switch exponent {
	case 2:
		n = 2
	case 3:
		n = 3
	default:
		return m.apply(func(v Value) Value { return Real(math.Pow(v.Real(), exponent)) }, true)
	}
	return m.apply(func(v Value) Value {
		switch v.typ {
		case ValueUnsigned:
			u := v.bits
			r := u * u
			if n == 3 {
				r *= u
			}
			return Unsigned(r)
		case ValueInteger:
			i := v.Int()
			r := i * i
			if n == 3 {
				r *= i
			}
			return Int(r)
		default:
			f := v.Real()
			r := f * f
			if n == 3 {
				r *= f
			}
			return Real(r)
		}
	}, true)
}

// Log replaces every value by its logarithm in base. Base 2 keeps integer
// types by taking the integer part.
func (m Math) Log(base float64) (int64, error) {
	switch {
	case base == 2:
		return m.apply(func(v Value) Value {
			switch v.typ {
			case ValueUnsigned:
				return Unsigned(uint64(ilog2(v.bits)))
			case ValueInteger:
				if v.Int() < 0 {
					return Int(0)
				}
				return Int(int64(ilog2(uint64(v.Int()))))
			default:
				if v.Real() < 0 {
					return Real(math.NaN())
				}
				return Real(math.Log2(v.Real()))
			}
		}, true)
	case base > 0:
		inv := 1 / math.Log(base)
		return m.apply(func(v Value) Value {
			if v.Real() < 0 {
				return Real(math.NaN())
			}
			return Real(math.Log(v.Real()) * inv)
		}, true)
	default:
		return -1, ErrIncompatible
	}
}

func ilog2(x uint64) int {
	if x == 0 {
		return 0
	}
	return bits.Len64(x) - 1
}

// Exp replaces every value x by base^x. Base 0 selects e.
func (m Math) Exp(base float64) (int64, error) {
	switch {
	case base == 0:
		return m.apply(func(v Value) Value { return Real(math.Exp(v.Real())) }, true)
	case base > 0:
		return m.apply(func(v Value) Value { return Real(math.Pow(base, v.Real())) }, true)
	default:
		return -1, ErrIncompatible
	}
}

// Decay multiplies every value by e^exponent.
func (m Math) Decay(exponent float64) (int64, error) {
	factor := math.Exp(exponent)
	return m.apply(func(v Value) Value { return Real(v.Real() * factor) }, true)
}

// Set gives every numeric item the value x, keeping its type.
func (m Math) Set(x float64) (int64, error) {
	r := math.Round(x)
	return m.apply(func(v Value) Value {
		switch v.typ {
		case ValueUnsigned:
			return Unsigned(uint64(int64(r)))
		case ValueInteger:
			return Int(int64(r))
		default:
			return Real(x)
		}
	}, true)
}

// Randomize gives every numeric item a random value of its type.
func (m Math) Randomize() (int64, error) {
	return m.apply(func(v Value) Value {
		switch v.typ {
		case ValueUnsigned:
			return Unsigned(rand.Uint64() >> 8)
		case ValueInteger:
			return Int(int64(rand.Uint64() >> 9))
		default:
			return Real(rand.Float64())
		}
	}, false)
}

// Int converts real values to integers.
func (m Math) Int() (int64, error) {
	return m.applyTyped(ValueReal, func(v Value) Value { return Int(int64(math.Round(v.Real()))) })
}

// Float converts integer values to reals.
func (m Math) Float() (int64, error) {
	return m.applyTyped(ValueNull, func(v Value) Value {
		if v.typ == ValueReal {
			return v
		}
		return Real(v.Real())
	})
}

// applyTyped counts only values of type only, or all numeric values for
// ValueNull.
func (m Math) applyTyped(only ValueType, tf cellTransform) (int64, error) {
	p := NewProcessor(func(_ *Processor, c *Cell) int64 {
		if !c.vtype.IsNumeric() || (only != ValueNull && c.vtype != only) || (only == ValueNull && c.vtype == ValueReal) {
			return 0
		}
		c.setValue(tf(c.Value()))
		return 1
	})
	p.Readonly = false
	p.AllowCached = true
	return m.fh.Process(p)
}

// Abs replaces negative values by their absolute value.
func (m Math) Abs() (int64, error) {
	return m.apply(func(v Value) Value {
		switch v.typ {
		case ValueInteger:
			if v.Int() < 0 {
				return Int(-v.Int())
			}
		case ValueReal:
			if v.Real() < 0 {
				return Real(-v.Real())
			}
		}
		return v
	}, true)
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Reductions /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

type accumulator struct {
	n     int64
	sum   float64
	sqsum float64
}

func (a *accumulator) add(b accumulator) {
	a.n += b.n
	a.sum += b.sum
	a.sqsum += b.sqsum
}

func accumulate(p *Processor, c *Cell) int64 {
	acc := p.Output.(*accumulator)
	var x float64
	switch c.vtype {
	case ValueBoolean:
		if c.bits != 0 {
			x = 1
		}
	case ValueUnsigned, ValueInteger, ValueReal:
		x = c.Value().Real()
	default:
		return 0
	}
	acc.n++
	acc.sum += x
	acc.sqsum += x * x
	return 1
}

// reduce accumulates all numeric and boolean values, one top-level subtree
// per goroutine.
func (m Math) reduce() (accumulator, error) {
	fh := m.fh
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	var (
		mu    sync.Mutex
		total accumulator
	)
	err := fh.forEachTopSlot(func(fx int) error {
		var acc accumulator
		p := NewProcessor(accumulate)
		p.Output = &acc
		p.reset(fh.dyn, fh.cacheDepth)
		var n int64
		p.cacheSlot(&fh.top, fx, &n)
		if p.failed {
			return ErrAborted
		}
		mu.Lock()
		total.add(acc)
		mu.Unlock()
		return nil
	})
	return total, err
}

// Sum returns the sum of all values and the number of values summed.
func (m Math) Sum() (float64, int64, error) {
	acc, err := m.reduce()
	return acc.sum, acc.n, err
}

// Avg returns the average of all values.
func (m Math) Avg() (float64, int64, error) {
	acc, err := m.reduce()
	if err != nil || acc.n == 0 {
		return 0, acc.n, err
	}
	return acc.sum / float64(acc.n), acc.n, nil
}

// Stdev returns the population standard deviation of all values.
func (m Math) Stdev() (float64, int64, error) {
	acc, err := m.reduce()
	if err != nil || acc.n == 0 {
		return 0, acc.n, err
	}
	avg := acc.sum / float64(acc.n)
	return math.Sqrt(acc.sqsum/float64(acc.n) - avg*avg), acc.n, nil
}
