package tpint

// TpU128 is an unsigned 128-bit integer composed of two TpU64 halves, needed
// by Fixed64's widening multiply and constant-iteration division.
type TpU128 struct {
	hi, lo TpU64
}

func ProtectU128(hi, lo uint64) TpU128 {
	return TpU128{hi: ProtectU64(hi), lo: ProtectU64(lo)}
}

// FromU64 zero-extends a TpU64 into a TpU128.
func FromU64(v TpU64) TpU128 { return TpU128{hi: ProtectU64(0), lo: v} }

func (a TpU128) Hi() TpU64 { return a.hi }
func (a TpU128) Lo() TpU64 { return a.lo }

func (a TpU128) Expose() (hi, lo uint64) { return a.hi.Expose(), a.lo.Expose() }

// Lt decomposes 128-bit comparison into a high-half test ORed with an
// equality-gated low-half test, as specified for the 128-bit extensions.
func (a TpU128) Lt(b TpU128) TpBool {
	hiLt := a.hi.Lt(b.hi)
	hiEq := a.hi.Eq(b.hi)
	loLt := a.lo.Lt(b.lo)
	return hiLt.Or(hiEq.And(loLt))
}

func (a TpU128) Gt(b TpU128) TpBool   { return b.Lt(a) }
func (a TpU128) LtEq(b TpU128) TpBool { return a.Gt(b).Not() }
func (a TpU128) GtEq(b TpU128) TpBool { return a.Lt(b).Not() }
func (a TpU128) Eq(b TpU128) TpBool   { return a.hi.Eq(b.hi).And(a.lo.Eq(b.lo)) }

func (a TpU128) Add(b TpU128) TpU128 {
	lo := ProtectU64(a.lo.Expose() + b.lo.Expose())
	// Unsigned-add overflow iff the sum wrapped below either operand.
	carry := lo.Lt(a.lo).AsU64() & 1
	return TpU128{hi: ProtectU64(a.hi.Expose() + b.hi.Expose() + carry), lo: lo}
}

func (a TpU128) Sub(b TpU128) TpU128 {
	lo := ProtectU64(a.lo.Expose() - b.lo.Expose())
	borrow := a.lo.Lt(b.lo).AsU64() & 1
	return TpU128{hi: ProtectU64(a.hi.Expose() - b.hi.Expose() - borrow), lo: lo}
}

// Mul64x64 produces the full 128-bit product of two 64-bit unsigned values,
// the operation Fixed64's widening multiply relies on.
func Mul64x64(a, b TpU64) TpU128 {
	av, bv := a.Expose(), b.Expose()
	aLo, aHi := av&0xFFFFFFFF, av>>32
	bLo, bHi := bv&0xFFFFFFFF, bv>>32

	lowLow := aLo * bLo
	highLow := aHi * bLo
	lowHigh := aLo * bHi
	highHigh := aHi * bHi

	cross := highLow + (lowLow >> 32) + (lowHigh & 0xFFFFFFFF)
	lo := (cross << 32) | (lowLow & 0xFFFFFFFF)
	hi := highHigh + (cross >> 32) + (lowHigh >> 32)
	return TpU128{hi: ProtectU64(hi), lo: ProtectU64(lo)}
}

func (a TpU128) Shl(n uint) TpU128 {
	if n == 0 {
		return a
	}
	if n >= 64 {
		return TpU128{hi: ProtectU64(a.lo.Expose() << (n - 64)), lo: ProtectU64(0)}
	}
	hi := (a.hi.Expose() << n) | (a.lo.Expose() >> (64 - n))
	lo := a.lo.Expose() << n
	return TpU128{hi: ProtectU64(hi), lo: ProtectU64(lo)}
}

func (a TpU128) Shr(n uint) TpU128 {
	if n == 0 {
		return a
	}
	if n >= 64 {
		return TpU128{hi: ProtectU64(0), lo: ProtectU64(a.hi.Expose() >> (n - 64))}
	}
	lo := (a.lo.Expose() >> n) | (a.hi.Expose() << (64 - n))
	hi := a.hi.Expose() >> n
	return TpU128{hi: ProtectU64(hi), lo: ProtectU64(lo)}
}

func (a TpU128) Or(b TpU128) TpU128 {
	return TpU128{hi: a.hi.Or(b.hi), lo: a.lo.Or(b.lo)}
}

func (a TpU128) And(b TpU128) TpU128 {
	return TpU128{hi: a.hi.And(b.hi), lo: a.lo.And(b.lo)}
}

// CondSwapU128 swaps *a and *b in place iff cond is true.
func CondSwapU128(cond TpBool, a, b *TpU128) {
	CondSwapU64(cond, &a.hi, &b.hi)
	CondSwapU64(cond, &a.lo, &b.lo)
}

// SelectU128 returns ifTrue when cond is true, ifFalse otherwise.
func SelectU128(cond TpBool, ifTrue, ifFalse TpU128) TpU128 {
	return TpU128{
		hi: SelectU64(cond, ifTrue.hi, ifFalse.hi),
		lo: SelectU64(cond, ifTrue.lo, ifFalse.lo),
	}
}

// DivConstTime performs constant-iteration unsigned division: exactly width
// iterations of a bit-serial shift/subtract loop regardless of operand
// magnitude, per spec's fixed-iteration division requirement. width must be
// the number of significant bits in the dividend's scaled range (e.g. 64+F
// for a fixed-point division that pre-shifts the numerator by F bits).
func DivConstTime(n, d TpU128, width uint) (quotient TpU128) {
	var r TpU128
	for i := int(width) - 1; i >= 0; i-- {
		r = r.Shl(1)
		bit := n.Shr(uint(i)).And(ProtectU128(0, 1))
		r = r.Or(bit)
		cond := r.GtEq(d)
		r = SelectU128(cond, r.Sub(d), r)
		bitMask := ProtectU128(0, 1).Shl(uint(i))
		quotient = SelectU128(cond, quotient.Or(bitMask), quotient)
	}
	return quotient
}

// TpI128 is the signed counterpart, used only for intermediate products
// that are later narrowed back to TpI64 (Fixed64 multiplication).
type TpI128 struct {
	u   TpU128
	neg bool
}

func ProtectI128FromI64(v TpI64) TpI128 {
	raw := v.Expose()
	neg := ProtectI64(raw).Lt(ProtectI64(0))
	mag := SelectI64(neg, v.Neg(), v)
	return TpI128{u: ProtectU128(0, uint64(mag.Expose())), neg: neg.Expose()}
}

// MulI64 multiplies two signed 64-bit fixed-point raw values into a signed
// 128-bit intermediate product, tracking sign out of band (the magnitude
// arithmetic itself is the same masked-unsigned path as TpU128). Sign
// extraction uses Select rather than an `if` on the operand's sign bit.
func MulI64(a, b TpI64) TpI128 {
	aNeg := a.Lt(ProtectI64(0))
	bNeg := b.Lt(ProtectI64(0))
	au := SelectI64(aNeg, a.Neg(), a)
	bu := SelectI64(bNeg, b.Neg(), b)
	mag := Mul64x64(ProtectU64(uint64(au.Expose())), ProtectU64(uint64(bu.Expose())))
	return TpI128{u: mag, neg: aNeg.Xor(bNeg).Expose()}
}

// ShrToI64 arithmetic-shifts the 128-bit magnitude right by n bits and
// narrows to a signed 64-bit result, restoring the sign tracked separately.
func (a TpI128) ShrToI64(n uint) TpI64 {
	shifted := a.u.Shr(n)
	_, lo := shifted.Expose()
	mag := ProtectI64(int64(lo))
	negMask := Protect(a.neg)
	return SelectI64(negMask, mag.Neg(), mag)
}
