package fixed

// Segmented piecewise-polynomial coefficient tables for the Nls and Ode
// approximations, taken verbatim from the reference implementation's
// fixed_64.rs nls/ode modules (16 segments, degree-2 polynomials). These
// MUST NOT be re-derived: bit-compatible behavior across implementations
// depends on using the published tables exactly.

const (
	nlsNSplit  = 4
	nlsNSeg    = 1 << nlsNSplit
	nlsMaxIn   = 16
	nlsPolyDeg = 2

	odeNSplit  = 4
	odeNSeg    = 1 << odeNSplit
	odeMaxIn   = 10
	odePolyDeg = 2
)

// nlsCoeffs[seg][deg] approximates ln(1+e^-x) on [0, nlsMaxIn].
var nlsCoeffs = [nlsNSeg][nlsPolyDeg + 1]float64{
	{0.69273948669433593750, -0.49560832977294921875, 0.11664772033691406250},
	{0.64667129516601562500, -0.40890026092529296875, 0.07470607757568359375},
	{0.49358558654785156250, -0.25441551208496093750, 0.03541278839111328125},
	{0.31156539916992187500, -0.13105392456054687500, 0.01443767547607421875},
	{0.17356395721435546875, -0.06097602844238281250, 0.00552368164062500000},
	{0.08940887451171875000, -0.02685832977294921875, 0.00206184387207031250},
	{0.04373455047607421875, -0.01145648956298828125, 0.00076198577880859375},
	{0.02062034606933593750, -0.00478553771972656250, 0.00028038024902343750},
	{0.00945568084716796875, -0.00196933746337890625, 0.00010299682617187500},
	{0.00424098968505859375, -0.00080108642578125000, 0.00003719329833984375},
	{0.00186824798583984375, -0.00032329559326171875, 0.00001335144042968750},
	{0.00081062316894531250, -0.00012969970703125000, 0.00000476837158203125},
	{0.00034713745117187500, -0.00005149841308593750, 0.00000095367431640625},
	{0.00014686584472656250, -0.00002098083496093750, 0.00000000000000000000},
	{0.00006103515625000000, -0.00000858306884765625, 0.00000000000000000000},
	{0.00000000000000000000, 0.00000000000000000000, 0.00000000000000000000},
}

// odeCoeffs[seg][deg] approximates 1-e^-x on [0, odeMaxIn].
var odeCoeffs = [odeNSeg][odePolyDeg + 1]float64{
	{0.00156021118164062500, 0.96903133392333984375, -0.36837196350097656250},
	{0.06437397003173828125, 0.76515388488769531250, -0.19717502593994140625},
	{0.20199489593505859375, 0.54148197174072265625, -0.10554027557373046875},
	{0.36964511871337890625, 0.36044883728027343750, -0.05649185180664062500},
	{0.53019905090332031250, 0.23073101043701171875, -0.03023815155029296875},
	{0.66502285003662109375, 0.14373302459716796875, -0.01618576049804687500},
	{0.76923084259033203125, 0.08776378631591796875, -0.00866413116455078125},
	{0.84530639648437500000, 0.05277252197265625000, -0.00463771820068359375},
	{0.89857387542724609375, 0.03134918212890625000, -0.00248241424560546875},
	{0.93470382690429687500, 0.01844024658203125000, -0.00132942199707031250},
	{0.95860195159912109375, 0.01075935363769531250, -0.00071144104003906250},
	{0.97409248352050781250, 0.00623416900634765625, -0.00038146972656250000},
	{0.98396682739257812500, 0.00359153747558593750, -0.00020408630371093750},
	{0.99017333984375000000, 0.00205898284912109375, -0.00010967254638671875},
	{0.99402809143066406250, 0.00117492675781250000, -0.00005912780761718750},
	{1.00000000000000000000, 0.00000000000000000000, 0.00000000000000000000},
}
