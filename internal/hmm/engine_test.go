package hmm

import (
	"strings"
	"testing"

	"github.com/ctimpute/ctimpute/internal/refpanel"
	"github.com/ctimpute/ctimpute/internal/symbol"
	"github.com/stretchr/testify/require"
)

// twoBlockPanel builds a small synthetic M3VCF panel spanning two
// blocks (five markers total, sharing one boundary marker), enough to
// exercise fold/unfold between blocks without needing a fixture file.
func twoBlockPanel(t *testing.T) *refpanel.RefPanel {
	t.Helper()
	doc := `##n_blocks=2
##n_haps=4
##n_markers=5
#CHROM POS ID REF ALT QUAL FILTER INFO FORMAT SAMPLES
1 100 . A T . . VARIANTS=3;REPS=2 GT 0 0 1 1
1 100 . A T . . Recom=0.01 00
1 150 . A T . . Recom=0.02 01
1 200 . A T . . Recom=0.01 10
1 200 . A T . . VARIANTS=3;REPS=2 GT 0 1 0 1
1 200 . A T . . Recom=0.03 01
1 250 . A T . . Recom=0.02 10
1 300 . A T . . Recom=0.01 11
`
	panel, err := refpanel.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.NoError(t, ValidateMarkers(panel))
	return panel
}

// TestImpute_AllMissing_ProducesBoundedDosages verifies Property 1/2
// style invariants: with no observed symbols at all, the engine still
// runs to completion and every dosage lands in [0,1].
//
// Given: a target haplotype with every symbol Missing
// When: Impute runs against a two-block synthetic panel
// Then: it returns one dosage per marker, each within [0,1]
func TestImpute_AllMissing_ProducesBoundedDosages(t *testing.T) {
	panel := twoBlockPanel(t)
	thap := make([]symbol.Symbol, panel.NMarkers)
	for i := range thap {
		thap[i] = symbol.Missing
	}

	e := &Engine{}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)
	require.Len(t, dosages, panel.NMarkers)
	for i, d := range dosages {
		require.GreaterOrEqualf(t, d, 0.0, "marker %d", i)
		require.LessOrEqualf(t, d, 1.0, "marker %d", i)
	}
}

// TestImpute_FullyObserved_ProducesBoundedDosages exercises the engine
// with every marker observed, the opposite edge of the missingness
// spectrum from the all-missing case above.
func TestImpute_FullyObserved_ProducesBoundedDosages(t *testing.T) {
	panel := twoBlockPanel(t)
	thap := []symbol.Symbol{symbol.Ref, symbol.Alt, symbol.Ref, symbol.Alt, symbol.Ref}

	e := &Engine{}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)
	require.Len(t, dosages, panel.NMarkers)
	for i, d := range dosages {
		require.GreaterOrEqualf(t, d, 0.0, "marker %d", i)
		require.LessOrEqualf(t, d, 1.0, "marker %d", i)
	}
}

// TestImpute_RejectsLengthMismatch verifies the target-length/marker-
// count validation fires before the engine touches any block data.
func TestImpute_RejectsLengthMismatch(t *testing.T) {
	panel := twoBlockPanel(t)
	e := &Engine{}
	_, err := e.Impute([]symbol.Symbol{symbol.Ref}, panel)
	require.Error(t, err)
}

// TestImpute_UsesProvidedCacheBackend verifies the engine's offload
// cache wiring works against a file-backed backend, not just the
// in-process default.
func TestImpute_UsesProvidedCacheBackend(t *testing.T) {
	panel := twoBlockPanel(t)
	thap := []symbol.Symbol{symbol.Ref, symbol.Missing, symbol.Alt, symbol.Missing, symbol.Ref}

	e := &Engine{CacheBackend: fileBackendForTest(t), CacheBound: 1}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)
	require.Len(t, dosages, panel.NMarkers)
}
