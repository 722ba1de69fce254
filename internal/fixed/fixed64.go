// Package fixed implements Fixed<F>, the signed fixed-point number type
// the log-domain and constant-time HMM layers are built on: a raw signed
// integer interpreted as value*2^F, with branchless comparisons, selects,
// and segmented-polynomial transcendental approximations.
package fixed

import "github.com/ctimpute/ctimpute/internal/tpint"

// Frac64 is Fixed64's compile-time fractional-bit count: 20 bits gives
// ~1ppm log-space resolution with headroom to roughly ±2^43 in magnitude,
// the value recommended by the spec.
const Frac64 = 20

// Fixed64 is a 64-bit fixed-point number scaled by 2^Frac64.
type Fixed64 struct {
	raw tpint.TpI64
}

var (
	Zero64 = Fixed64{raw: tpint.ProtectI64(0)}
	// NaN64 is a sentinel (not auto-propagating; see internal/lnreal for
	// NaN-discaplined arithmetic).
	NaN64 = Fixed64{raw: tpint.ProtectI64(1<<63 - 1)}
)

// FromFloat64 scales a float64 into Fixed64's fixed-point representation.
func FromFloat64(f float64) Fixed64 {
	return Fixed64{raw: tpint.ProtectI64(int64(f * float64(int64(1)<<Frac64)))}
}

// FromInt scales an integer into Fixed64's representation.
func FromInt(i int64) Fixed64 { return Fixed64{raw: tpint.ProtectI64(i << Frac64)} }

// Raw exposes the underlying scaled integer (for internal/lnreal and tests).
func (a Fixed64) Raw() tpint.TpI64 { return a.raw }

// FromRaw rebuilds a Fixed64 from an already-scaled raw integer.
func FromRaw(raw tpint.TpI64) Fixed64 { return Fixed64{raw: raw} }

// ToFloat64 unscales back into a float64. Not on the constant-time path.
func (a Fixed64) ToFloat64() float64 {
	return float64(a.raw.Expose()) / float64(int64(1)<<Frac64)
}

func (a Fixed64) Add(b Fixed64) Fixed64 { return Fixed64{raw: a.raw.Add(b.raw)} }
func (a Fixed64) Sub(b Fixed64) Fixed64 { return Fixed64{raw: a.raw.Sub(b.raw)} }
func (a Fixed64) Neg() Fixed64          { return Fixed64{raw: a.raw.Neg()} }
func (a Fixed64) Shl(n uint) Fixed64    { return Fixed64{raw: a.raw.Shl(n)} }
func (a Fixed64) Shr(n uint) Fixed64    { return Fixed64{raw: a.raw.Shr(n)} }
func (a Fixed64) And(b Fixed64) Fixed64 { return Fixed64{raw: a.raw.And(b.raw)} }
func (a Fixed64) Or(b Fixed64) Fixed64  { return Fixed64{raw: a.raw.Or(b.raw)} }
func (a Fixed64) Xor(b Fixed64) Fixed64 { return Fixed64{raw: a.raw.Xor(b.raw)} }

func (a Fixed64) Lt(b Fixed64) tpint.TpBool   { return a.raw.Lt(b.raw) }
func (a Fixed64) LtEq(b Fixed64) tpint.TpBool { return a.raw.LtEq(b.raw) }
func (a Fixed64) Gt(b Fixed64) tpint.TpBool   { return a.raw.Gt(b.raw) }
func (a Fixed64) GtEq(b Fixed64) tpint.TpBool { return a.raw.GtEq(b.raw) }
func (a Fixed64) Eq(b Fixed64) tpint.TpBool   { return a.raw.Eq(b.raw) }

// Select returns ifTrue when cond holds, otherwise ifFalse, via masked
// blend (delegates to C1; never an `if` on secret-dependent cond).
func Select64(cond tpint.TpBool, ifTrue, ifFalse Fixed64) Fixed64 {
	return Fixed64{raw: tpint.SelectI64(cond, ifTrue.raw, ifFalse.raw)}
}

// CondSwap64 swaps *a and *b in place iff cond holds.
func CondSwap64(cond tpint.TpBool, a, b *Fixed64) {
	tpint.CondSwapI64(cond, &a.raw, &b.raw)
}

func (a Fixed64) Max(b Fixed64) Fixed64 { return Select64(a.GtEq(b), a, b) }
func (a Fixed64) Min(b Fixed64) Fixed64 { return Select64(a.LtEq(b), a, b) }

// Mul widens both operands to 128 bits, multiplies, and narrows back after
// shifting right by Frac64, per the spec's widening-multiply requirement.
func (a Fixed64) Mul(b Fixed64) Fixed64 {
	prod := tpint.MulI64(a.raw, b.raw)
	return Fixed64{raw: prod.ShrToI64(Frac64)}
}

// MulInt scales by a plain integer without widening (no overflow risk for
// the small cluster-size and haplotype-count multipliers the HMM uses).
func (a Fixed64) MulInt(n int64) Fixed64 {
	return Fixed64{raw: tpint.ProtectI64(a.raw.Expose() * n)}
}

// Div widens the numerator by Frac64 bits, performs constant-iteration
// unsigned division, and restores the sign from the XOR of operand signs.
func (a Fixed64) Div(b Fixed64) Fixed64 {
	aNeg := a.raw.Lt(tpint.ProtectI64(0))
	bNeg := b.raw.Lt(tpint.ProtectI64(0))
	resultNeg := aNeg.Xor(bNeg)

	aMag := tpint.SelectI64(aNeg, a.raw.Neg(), a.raw)
	bMag := tpint.SelectI64(bNeg, b.raw.Neg(), b.raw)

	n := tpint.FromU64(tpint.ProtectU64(uint64(aMag.Expose()))).Shl(Frac64)
	d := tpint.FromU64(tpint.ProtectU64(uint64(bMag.Expose())))

	q := tpint.DivConstTime(n, d, 64+Frac64)
	_, qlo := q.Expose()
	mag := tpint.ProtectI64(int64(qlo))
	return Fixed64{raw: tpint.SelectI64(resultNeg, mag.Neg(), mag)}
}

// Lse computes ln(e^a + e^b) = max(a,b) + nls(|a-b|), the numerically
// stable log-sum-exp used to turn LnReal addition into Fixed64 arithmetic.
func (a Fixed64) Lse(b Fixed64) Fixed64 {
	cmp := a.GtEq(b)
	maxVal := Select64(cmp, a, b)
	diff := Select64(cmp, a.Sub(b), b.Sub(a))
	return maxVal.Add(diff.Nls())
}

// Lde computes ln(e^a - e^b), defined only for a > b; callers gate the
// a<=b case with LnReal's NaN discipline before calling this.
func (a Fixed64) Lde(b Fixed64) Fixed64 {
	z := a.Sub(b)
	return a.Add(z.Ode().LogLtOne())
}

// Nls approximates ln(1+e^-x) with a 16-segment degree-2 polynomial over
// [0, 16], selecting the active segment branchlessly via four nested
// comparisons against halved thresholds.
func (a Fixed64) Nls() Fixed64 { return approxPoly(a, nlsNSplit, nlsMaxIn, nlsFixedCoeffs) }

// Ode approximates 1-e^-x with a 16-segment degree-2 polynomial over
// [0, 10], using the same branchless segment-selection scheme as Nls.
func (a Fixed64) Ode() Fixed64 { return approxPoly(a, odeNSplit, odeMaxIn, odeFixedCoeffs) }

var (
	nlsFixedCoeffs = fixCoeffTable(nlsCoeffs[:])
	odeFixedCoeffs = fixCoeffTable(odeCoeffs[:])
)

func fixCoeffTable(table [][nlsPolyDeg + 1]float64) [][nlsPolyDeg + 1]Fixed64 {
	out := make([][nlsPolyDeg + 1]Fixed64, len(table))
	for i, row := range table {
		for j, c := range row {
			out[i][j] = FromFloat64(c)
		}
	}
	return out
}

// approxPoly implements the branchless segmented polynomial evaluation
// shared by Nls and Ode: nSplit bisection comparisons select one of
// 2^nSplit segments without ever branching on x, then the segment's
// coefficients are recombined by masked summation and evaluated by
// Horner's method.
func approxPoly(x Fixed64, nSplit int, maxInput int64, coeffs [][nlsPolyDeg + 1]Fixed64) Fixed64 {
	nSeg := 1 << nSplit
	step := FromInt(maxInput >> 1)
	posFlags := make([]tpint.TpBool, nSplit)
	flag := tpint.Protect(true)
	cur := x
	for i := 0; i < nSplit; i++ {
		cur = Select64(flag, cur.Sub(step), cur.Add(step))
		flag = cur.GtEq(Zero64)
		posFlags[i] = flag
		step = step.Shr(1)
	}

	selector := make([]tpint.TpBool, nSeg)
	for i := 0; i < nSeg; i++ {
		sel := tpint.Protect(true)
		mask := 1 << (nSplit - 1)
		for j := 0; j < nSplit; j++ {
			bit := tpint.Protect((i & mask) != 0)
			mask >>= 1
			sel = sel.And(bit.Xor(posFlags[j]).Not())
		}
		selector[i] = sel
	}

	var acc [nlsPolyDeg + 1]Fixed64
	for i := 0; i < nSeg; i++ {
		for j := range acc {
			masked := Select64(selector[i], coeffs[i][j], Zero64)
			acc[j] = acc[j].Add(masked)
		}
	}

	res := acc[0].Add(x.Mul(acc[1]))
	xPow := x
	for i := 2; i < len(acc); i++ {
		xPow = xPow.Mul(x)
		res = res.Add(xPow.Mul(acc[i]))
	}
	return res
}

// LogLtOne approximates ln(x) for x in (0,1] represented in Fixed64's
// fixed-point domain. It repeatedly doubles x until it reaches [1/2,1),
// counting shifts unconditionally for the full iteration budget so the
// number of loop trips never depends on x, then applies a degree-3 Taylor
// expansion of ln around 1.
func (a Fixed64) LogLtOne() Fixed64 {
	oneHalf := FromInt(1).Shr(1)
	z := a
	zScaled := Zero64
	shift := uint64(0)
	firstFlag := tpint.Protect(true)

	for i := 0; i < Frac64-1; i++ {
		bit := z.GtEq(oneHalf)
		notBit := bit.Not()
		shift += notBit.AsU64() & 1
		found := firstFlag.And(bit)
		zScaled = Select64(found, z, zScaled)
		firstFlag = firstFlag.And(bit.Not())
		z = z.Shl(1)
	}

	// If firstFlag is still true, no shift within the loop budget
	// reached one half (the input was zero or the raw value 1); fall
	// back to ln(2^-19).
	zScaled = Select64(firstFlag, oneHalf, zScaled)
	shiftFixed := Select64(firstFlag, FromInt(Frac64-2), FromInt(int64(shift)))

	zs := zScaled.Sub(FromInt(1))
	zs2 := zs.Mul(zs)
	zs3 := zs.Mul(zs2)
	third := FromFloat64(1.0 / 3.0)
	taylor := zs.Sub(zs2.Shr(1)).Add(zs3.Mul(third))
	ln2 := FromFloat64(0.69314718055994528623)
	return taylor.Sub(ln2.Mul(shiftFixed))
}

