// Package lnreal implements LnReal, a probability type stored in log
// space: the raw Fixed64 payload holds ln(value), so multiplying two
// probabilities is an addition and summing many small probabilities
// never underflows the way linear-domain float64 does.
package lnreal

import (
	"math"

	"github.com/ctimpute/ctimpute/internal/fixed"
	"github.com/ctimpute/ctimpute/internal/tpint"
)

// LnReal is a probability represented as ln(value) in Fixed64.
type LnReal struct {
	raw fixed.Fixed64
}

var (
	// Zero represents probability 0 (ln(0) = -inf, approximated by the
	// most negative representable Fixed64).
	Zero = LnReal{raw: fixed.FromRaw(tpint.ProtectI64(-(1<<63 - 1)))}
	// One represents probability 1 (ln(1) = 0).
	One = LnReal{raw: fixed.Zero64}
	// NaN is the not-a-number sentinel, returned by operations with no
	// defined result (e.g. dividing by Zero).
	NaN = LnReal{raw: fixed.NaN64}
	// EPS is ln(1e-30), added to denominators so they never reach
	// Zero.
	EPS = LnReal{raw: fixed.FromFloat64(-69.07755278982137)}
)

// FromLn wraps an already-logged Fixed64 value directly.
func FromLn(ln fixed.Fixed64) LnReal { return LnReal{raw: ln} }

// Raw exposes the underlying Fixed64 log value, for cache/wire
// serialization boundaries that cannot reach into LnReal's unexported
// field directly.
func (a LnReal) Raw() fixed.Fixed64 { return a.raw }

// FromRaw rebuilds an LnReal from an already-computed Fixed64 log value.
func FromRaw(raw fixed.Fixed64) LnReal { return LnReal{raw: raw} }

// FromFloat64 takes a linear-domain probability and stores its log.
func FromFloat64(v float64) LnReal {
	if v <= 0 {
		return Zero
	}
	return LnReal{raw: fixed.FromFloat64(math.Log(v))}
}

// ToFloat64 exponentiates back to the linear domain. Not on the
// constant-time path.
func (a LnReal) ToFloat64() float64 {
	if a.IsZero() {
		return 0
	}
	if a.IsNaN() {
		return math.NaN()
	}
	return math.Exp(a.raw.ToFloat64())
}

func (a LnReal) IsZero() bool { return a.raw.Raw().Expose() == Zero.raw.Raw().Expose() }
func (a LnReal) IsNaN() bool  { return a.raw.Raw().Expose() == NaN.raw.Raw().Expose() }

// Add computes ln(exp(a) + exp(b)) via Fixed64.Lse, the log-sum-exp
// identity. Callers that may pass a structural Zero should use SafeAdd.
func (a LnReal) Add(b LnReal) LnReal { return LnReal{raw: a.raw.Lse(b.raw)} }

// Sub computes ln(exp(a) - exp(b)) via Fixed64.Lde, defined only when
// a's linear value exceeds b's. Callers that may pass a structural Zero
// should use SafeSub.
func (a LnReal) Sub(b LnReal) LnReal { return LnReal{raw: a.raw.Lde(b.raw)} }

// Mul is addition in log space.
func (a LnReal) Mul(b LnReal) LnReal { return LnReal{raw: a.raw.Add(b.raw)} }

// Div is subtraction in log space.
func (a LnReal) Div(b LnReal) LnReal { return LnReal{raw: a.raw.Sub(b.raw)} }

// SafeAdd treats either structural Zero as the identity, avoiding Lse's
// undefined behavior on the sentinel.
func (a LnReal) SafeAdd(b LnReal) LnReal {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	return a.Add(b)
}

// SafeSub treats b == Zero as the identity and a == Zero as forcing Zero.
func (a LnReal) SafeSub(b LnReal) LnReal {
	if b.IsZero() {
		return a
	}
	if a.IsZero() {
		return Zero
	}
	return a.Sub(b)
}

// SafeMul short-circuits to Zero if either operand is Zero, skipping the
// (well-defined, but wasteful) addition.
func (a LnReal) SafeMul(b LnReal) LnReal {
	if a.IsZero() || b.IsZero() {
		return Zero
	}
	return a.Mul(b)
}

// SafeDiv returns NaN for division by Zero and Zero for Zero divided by
// anything else.
func (a LnReal) SafeDiv(b LnReal) LnReal {
	if b.IsZero() {
		return NaN
	}
	if a.IsZero() {
		return Zero
	}
	return a.Div(b)
}

func (a LnReal) Gt(b LnReal) bool { return a.raw.Gt(b.raw).Expose() }
func (a LnReal) Lt(b LnReal) bool { return a.raw.Lt(b.raw).Expose() }
func (a LnReal) Eq(b LnReal) bool { return a.raw.Eq(b.raw).Expose() }

func (a LnReal) Max(b LnReal) LnReal {
	if a.Gt(b) {
		return a
	}
	return b
}

// SelectLn branchlessly picks ifTrue or ifFalse by an opaque condition,
// the log-domain counterpart of fixed.Select64; callers on the
// constant-time path use this instead of Max/Gt/an `if`.
func SelectLn(cond tpint.TpBool, ifTrue, ifFalse LnReal) LnReal {
	return LnReal{raw: fixed.Select64(cond, ifTrue.raw, ifFalse.raw)}
}

// SubClampedAtZero computes max(a-b, 0) without branching on the sign of
// a-b: both a.Sub(b) and Zero are always computed, and an opaque
// comparison mask (not a's or b's value, but the a>b relation derived
// from it) picks between them.
func (a LnReal) SubClampedAtZero(b LnReal) LnReal {
	return SelectLn(a.raw.Gt(b.raw), a.Sub(b), Zero)
}

// SumInPlace folds values into a Bacc-style balanced accumulator: each
// incoming value is paired with same-level partial sums before being
// promoted up, so the final reduction tree never chains N additions in
// sequence, bounding numerical error growth at roughly log2(N) instead
// of N. Grounded on the reference's balanced accumulator.
func SumInPlace(values []LnReal) LnReal {
	var slots []*LnReal
	for i := range values {
		v := values[i]
		cur := &v
		for j := 0; j < len(slots); j++ {
			if slots[j] == nil {
				slots[j] = cur
				cur = nil
				break
			}
			sum := slots[j].SafeAdd(*cur)
			slots[j] = nil
			cur = &sum
		}
		if cur != nil {
			slots = append(slots, cur)
		}
	}
	result := Zero
	for _, s := range slots {
		if s != nil {
			result = result.SafeAdd(*s)
		}
	}
	return result
}

// CheckedSumInPlace is SumInPlace but treats any NaN-tagged element as
// the additive identity instead of poisoning the whole sum.
func CheckedSumInPlace(values []LnReal) LnReal {
	clean := make([]LnReal, 0, len(values))
	for _, v := range values {
		if v.IsNaN() {
			continue
		}
		clean = append(clean, v)
	}
	return SumInPlace(clean)
}

// SelectFrom4F32 branchlessly selects one of four float64 constants by
// two opaque booleans, wraps the result in Fixed64's representation
// without taking its log (the caller supplies an already-logged value),
// and returns it as an LnReal. Grounded on the reference's
// select_4_no_ln, used by the constant-time emission/transition tables
// where the four candidate values are public constants but the
// selecting condition is secret.
func SelectFrom4F32(cond0, cond1 tpint.TpBool, a11, a10, a01, a00 float64) LnReal {
	a0 := fixed.Select64(cond0, fixed.FromFloat64(a10), fixed.FromFloat64(a00))
	a1 := fixed.Select64(cond0, fixed.FromFloat64(a11), fixed.FromFloat64(a01))
	return LnReal{raw: fixed.Select64(cond1, a1, a0)}
}
