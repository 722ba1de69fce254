package fixed

import "github.com/ctimpute/ctimpute/internal/tpint"

// Frac32 is Fixed32's fractional-bit count, chosen smaller than Frac64
// since the 32-bit variant is used only where the narrower dynamic range
// (cluster sizes, small counts) is already known to fit.
const Frac32 = 12

// Fixed32 is a 32-bit fixed-point number scaled by 2^Frac32.
type Fixed32 struct {
	raw int32
}

var (
	Zero32 = Fixed32{raw: 0}
	NaN32  = Fixed32{raw: 1<<31 - 1}
)

func FromFloat32(f float32) Fixed32 {
	return Fixed32{raw: int32(f * float32(int32(1)<<Frac32))}
}

func FromInt32(i int32) Fixed32 { return Fixed32{raw: i << Frac32} }

func (a Fixed32) ToFloat32() float32 {
	return float32(a.raw) / float32(int32(1)<<Frac32)
}

func (a Fixed32) Add(b Fixed32) Fixed32 { return Fixed32{raw: a.raw + b.raw} }
func (a Fixed32) Sub(b Fixed32) Fixed32 { return Fixed32{raw: a.raw - b.raw} }
func (a Fixed32) Neg() Fixed32          { return Fixed32{raw: -a.raw} }

// ToFixed64 widens to the 64-bit type, used so that Fixed32 multiplication
// can widen through Fixed64 as spec.md §4.2 requires ("In the 32-bit
// variant, widen to 64-bit first").
func (a Fixed32) ToFixed64() Fixed64 {
	return Fixed64{raw: tpint.ProtectI64(int64(a.raw) << (Frac64 - Frac32))}
}

func fromFixed64Raw(f Fixed64) Fixed32 {
	return Fixed32{raw: int32(f.Raw().Expose() >> (Frac64 - Frac32))}
}

// Mul widens both operands to Fixed64, multiplies there, and narrows back.
func (a Fixed32) Mul(b Fixed32) Fixed32 {
	wide := a.ToFixed64().Mul(b.ToFixed64())
	return fromFixed64Raw(wide)
}

// Div widens through Fixed64's constant-time division.
func (a Fixed32) Div(b Fixed32) Fixed32 {
	wide := a.ToFixed64().Div(b.ToFixed64())
	return fromFixed64Raw(wide)
}

func (a Fixed32) Lt(b Fixed32) bool { return a.raw < b.raw }
func (a Fixed32) Gt(b Fixed32) bool { return a.raw > b.raw }
func (a Fixed32) Eq(b Fixed32) bool { return a.raw == b.raw }

func (a Fixed32) Max(b Fixed32) Fixed32 {
	if a.Gt(b) {
		return a
	}
	return b
}

func (a Fixed32) Min(b Fixed32) Fixed32 {
	if a.Lt(b) {
		return a
	}
	return b
}
