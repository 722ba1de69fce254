// Package tpint provides timing-shielded integer primitives: opaque boolean
// and integer wrappers whose comparisons, selects, and swaps are built from
// masked bitwise arithmetic rather than value-dependent branches. Every type
// above this package (internal/fixed, internal/lnreal) is built from these
// primitives only.
package tpint

// TpBool is an opaque boolean backed by an all-zero or all-one word. It is
// never inspected with a Go `if`; it is consumed by Select/CondSwap.
type TpBool struct {
	mask uint64
}

// Protect lifts a plaintext bool into a TpBool.
func Protect(b bool) TpBool {
	var m uint64
	if b {
		m = ^uint64(0)
	}
	return TpBool{mask: m}
}

// Expose reveals the boolean value. Callers on the constant-time path must
// never use the result to choose a branch over secret-dependent data; it
// exists for tests and for genuinely public control flow (e.g. loop bounds).
func (b TpBool) Expose() bool { return b.mask != 0 }

func (b TpBool) And(o TpBool) TpBool { return TpBool{mask: b.mask & o.mask} }
func (b TpBool) Or(o TpBool) TpBool  { return TpBool{mask: b.mask | o.mask} }
func (b TpBool) Xor(o TpBool) TpBool { return TpBool{mask: b.mask ^ o.mask} }
func (b TpBool) Not() TpBool         { return TpBool{mask: ^b.mask} }

// AsU64 widens the boolean to a 0/all-ones mask of word width, the building
// block for every conditional select in this package.
func (b TpBool) AsU64() uint64 { return b.mask }

// TpU64 is a 64-bit unsigned integer whose comparisons never branch on
// operand bits.
type TpU64 struct{ v uint64 }

func ProtectU64(v uint64) TpU64 { return TpU64{v: v} }
func (a TpU64) Expose() uint64  { return a.v }

func (a TpU64) Add(b TpU64) TpU64 { return TpU64{v: a.v + b.v} }
func (a TpU64) Sub(b TpU64) TpU64 { return TpU64{v: a.v - b.v} }
func (a TpU64) Mul(b TpU64) TpU64 { return TpU64{v: a.v * b.v} }
func (a TpU64) And(b TpU64) TpU64 { return TpU64{v: a.v & b.v} }
func (a TpU64) Or(b TpU64) TpU64  { return TpU64{v: a.v | b.v} }
func (a TpU64) Xor(b TpU64) TpU64 { return TpU64{v: a.v ^ b.v} }
func (a TpU64) Not() TpU64        { return TpU64{v: ^a.v} }
func (a TpU64) Shl(n uint) TpU64  { return TpU64{v: a.v << n} }
func (a TpU64) Shr(n uint) TpU64  { return TpU64{v: a.v >> n} }

// Lt computes a < b (unsigned) via the Hacker's-Delight borrow-out identity
// for a-b, avoiding a direct comparison branch.
func (a TpU64) Lt(b TpU64) TpBool {
	diff := a.v - b.v
	borrow := ((^a.v & b.v) | (^(a.v ^ b.v) & diff)) >> 63
	return TpBool{mask: 0 - borrow}
}

func (a TpU64) Gt(b TpU64) TpBool    { return b.Lt(a) }
func (a TpU64) LtEq(b TpU64) TpBool  { return a.Gt(b).Not() }
func (a TpU64) GtEq(b TpU64) TpBool  { return a.Lt(b).Not() }
func (a TpU64) Eq(b TpU64) TpBool    { return TpBool{mask: eqMask(a.v, b.v)} }
func (a TpU64) NotEq(b TpU64) TpBool { return a.Eq(b).Not() }

func eqMask(a, b uint64) uint64 {
	x := a ^ b
	// x == 0 iff a == b; turn "all bits zero" into an all-ones/all-zeros mask
	// without branching, via the standard OR-fold-then-negate trick.
	x |= x >> 32
	x |= x >> 16
	x |= x >> 8
	x |= x >> 4
	x |= x >> 2
	x |= x >> 1
	return (x & 1) - 1
}

// SelectU64 returns ifTrue when cond is true, ifFalse otherwise, using a
// masked bitwise blend instead of a conditional move on secret data.
func SelectU64(cond TpBool, ifTrue, ifFalse TpU64) TpU64 {
	m := cond.mask
	return TpU64{v: (ifTrue.v & m) | (ifFalse.v & ^m)}
}

// CondSwapU64 swaps *a and *b in place iff cond is true.
func CondSwapU64(cond TpBool, a, b *TpU64) {
	m := cond.mask
	swap := (a.v ^ b.v) & m
	a.v ^= swap
	b.v ^= swap
}

// TpI64 is the signed counterpart of TpU64.
type TpI64 struct{ v int64 }

func ProtectI64(v int64) TpI64 { return TpI64{v: v} }
func (a TpI64) Expose() int64  { return a.v }
func (a TpI64) AsU64() TpU64   { return TpU64{v: uint64(a.v)} }

func (a TpI64) Add(b TpI64) TpI64 { return TpI64{v: a.v + b.v} }
func (a TpI64) Sub(b TpI64) TpI64 { return TpI64{v: a.v - b.v} }
func (a TpI64) Mul(b TpI64) TpI64 { return TpI64{v: a.v * b.v} }
func (a TpI64) Neg() TpI64        { return TpI64{v: -a.v} }
func (a TpI64) And(b TpI64) TpI64 { return TpI64{v: a.v & b.v} }
func (a TpI64) Or(b TpI64) TpI64  { return TpI64{v: a.v | b.v} }
func (a TpI64) Xor(b TpI64) TpI64 { return TpI64{v: a.v ^ b.v} }
func (a TpI64) Shl(n uint) TpI64  { return TpI64{v: a.v << n} }
func (a TpI64) Shr(n uint) TpI64  { return TpI64{v: a.v >> n} }

// Lt computes signed a < b by flipping the sign bit of both operands and
// reusing the unsigned borrow identity, the usual branchless signed-compare
// reduction.
func (a TpI64) Lt(b TpI64) TpBool {
	const signBit = uint64(1) << 63
	au := uint64(a.v) ^ signBit
	bu := uint64(b.v) ^ signBit
	return TpU64{v: au}.Lt(TpU64{v: bu})
}

func (a TpI64) Gt(b TpI64) TpBool    { return b.Lt(a) }
func (a TpI64) LtEq(b TpI64) TpBool  { return a.Gt(b).Not() }
func (a TpI64) GtEq(b TpI64) TpBool  { return a.Lt(b).Not() }
func (a TpI64) Eq(b TpI64) TpBool    { return TpBool{mask: eqMask(uint64(a.v), uint64(b.v))} }
func (a TpI64) NotEq(b TpI64) TpBool { return a.Eq(b).Not() }

// SelectI64 returns ifTrue when cond is true, ifFalse otherwise.
func SelectI64(cond TpBool, ifTrue, ifFalse TpI64) TpI64 {
	m := cond.mask
	return TpI64{v: int64((uint64(ifTrue.v) & m) | (uint64(ifFalse.v) & ^m))}
}

// CondSwapI64 swaps *a and *b in place iff cond is true.
func CondSwapI64(cond TpBool, a, b *TpI64) {
	m := cond.mask
	swap := (uint64(a.v) ^ uint64(b.v)) & m
	a.v ^= int64(swap)
	b.v ^= int64(swap)
}
