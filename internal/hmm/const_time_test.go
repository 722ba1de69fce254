package hmm

import (
	"math"
	"testing"

	"github.com/ctimpute/ctimpute/internal/refpanel"
	"github.com/ctimpute/ctimpute/internal/symbol"
	"github.com/stretchr/testify/require"
)

// manyMarkerPanel builds a single-block synthetic panel spanning
// nMarkers variants with two alternating unique rows, large enough to
// span far more than Fixed64's ~13 decades of linear headroom and
// exercise the log-domain rescale-to-one path on every step.
func manyMarkerPanel(t *testing.T, nMarkers int) *refpanel.RefPanel {
	t.Helper()
	rhap := make([]refpanel.RowBits, nMarkers)
	rprob := make([]float32, nMarkers)
	afreq := make([]float32, nMarkers)
	for v := 0; v < nMarkers; v++ {
		row := refpanel.NewRowBits(2)
		row.Set(0, v%2 == 0)
		row.Set(1, v%2 == 1)
		rhap[v] = row
		rprob[v] = 0.01
		afreq[v] = 0.5
	}
	block := &refpanel.Block{
		IndMap:    []uint16{0, 0, 1, 1},
		NVar:      nMarkers,
		NUniq:     2,
		ClustSize: []float64{2, 2},
		RHap:      rhap,
		RProb:     rprob,
		AFreq:     afreq,
	}
	return &refpanel.RefPanel{NHaps: 4, NMarkers: nMarkers, Blocks: []*refpanel.Block{block}}
}

// TestConstantTimeImpute_AllMissing_ProducesBoundedDosages mirrors the
// linear engine's all-missing edge case against ConstantTimeEngine.
func TestConstantTimeImpute_AllMissing_ProducesBoundedDosages(t *testing.T) {
	panel := twoBlockPanel(t)
	thap := make([]symbol.Symbol, panel.NMarkers)
	for i := range thap {
		thap[i] = symbol.Missing
	}

	e := &ConstantTimeEngine{}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)
	require.Len(t, dosages, panel.NMarkers)
	for i, d := range dosages {
		require.GreaterOrEqualf(t, d, -1e-6, "marker %d", i)
		require.LessOrEqualf(t, d, 1+1e-6, "marker %d", i)
	}
}

// TestConstantTimeImpute_AgreesWithLinearEngine verifies Property 3/4
// style parity: run both engines over the same partially-observed
// target and check their dosages land within a fixed-point-rounding
// tolerance of each other, since they implement the same algorithm
// over two different number representations.
//
// Given: the same target haplotype and reference panel
// When: Engine and ConstantTimeEngine both impute it
// Then: their per-marker dosages agree within Fixed64's rounding budget
func TestConstantTimeImpute_AgreesWithLinearEngine(t *testing.T) {
	panel := twoBlockPanel(t)
	thap := []symbol.Symbol{symbol.Ref, symbol.Missing, symbol.Alt, symbol.Missing, symbol.Ref}

	linear := &Engine{}
	linearDosages, err := linear.Impute(thap, panel)
	require.NoError(t, err)

	ct := &ConstantTimeEngine{}
	ctDosages, err := ct.Impute(thap, panel)
	require.NoError(t, err)

	require.Len(t, ctDosages, len(linearDosages))
	for i := range linearDosages {
		require.InDeltaf(t, linearDosages[i], ctDosages[i], 0.05, "marker %d", i)
	}
}

// TestConstantTimeImpute_RejectsLengthMismatch verifies the same
// validation path as the linear engine's equivalent test.
func TestConstantTimeImpute_RejectsLengthMismatch(t *testing.T) {
	panel := twoBlockPanel(t)
	e := &ConstantTimeEngine{}
	_, err := e.Impute([]symbol.Symbol{symbol.Ref}, panel)
	require.Error(t, err)
}

// TestConstantTimeImpute_UsesProvidedCacheBackend exercises the same
// file-backed cache wiring the linear engine's test does.
func TestConstantTimeImpute_UsesProvidedCacheBackend(t *testing.T) {
	panel := twoBlockPanel(t)
	thap := []symbol.Symbol{symbol.Ref, symbol.Missing, symbol.Alt, symbol.Missing, symbol.Ref}

	e := &ConstantTimeEngine{CacheBackend: fileBackendForTest(t), CacheBound: 1}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)
	require.Len(t, dosages, panel.NMarkers)
}

// TestConstantTimeImpute_SatisfiesImputer verifies ConstantTimeEngine
// can be driven through the same Imputer interface RunBatch uses.
func TestConstantTimeImpute_SatisfiesImputer(t *testing.T) {
	var _ Imputer = &ConstantTimeEngine{}
}

// TestConstantTimeImpute_LargePanelDoesNotUnderflow runs the
// const-time engine over a panel spanning far more markers than
// Fixed64's linear-domain headroom (~13 decades) can represent,
// verifying the log-domain rescale-to-one keeps every dosage finite
// and bounded instead of collapsing to zero/NaN partway through.
func TestConstantTimeImpute_LargePanelDoesNotUnderflow(t *testing.T) {
	panel := manyMarkerPanel(t, 2000)
	thap := make([]symbol.Symbol, panel.NMarkers)
	for i := range thap {
		if i%5 == 0 {
			thap[i] = symbol.Missing
		} else if i%2 == 0 {
			thap[i] = symbol.Alt
		} else {
			thap[i] = symbol.Ref
		}
	}

	e := &ConstantTimeEngine{}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)
	require.Len(t, dosages, panel.NMarkers)
	for i, d := range dosages {
		require.Falsef(t, math.IsNaN(d), "marker %d", i)
		require.GreaterOrEqualf(t, d, -1e-6, "marker %d", i)
		require.LessOrEqualf(t, d, 1+1e-6, "marker %d", i)
	}
}

// TestConstantTimeEngine_NoNaN guards against the common fixed-point
// failure mode of a division-by-zero NaN leaking through when a
// partition's mass collapses to zero.
func TestConstantTimeEngine_NoNaN(t *testing.T) {
	panel := twoBlockPanel(t)
	thap := []symbol.Symbol{symbol.Alt, symbol.Alt, symbol.Alt, symbol.Alt, symbol.Alt}

	e := &ConstantTimeEngine{}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)
	for i, d := range dosages {
		require.Falsef(t, math.IsNaN(d), "marker %d", i)
	}
}
