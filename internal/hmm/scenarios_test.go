package hmm

import (
	"strings"
	"testing"

	"github.com/ctimpute/ctimpute/internal/refpanel"
	"github.com/ctimpute/ctimpute/internal/symbol"
	"github.com/stretchr/testify/require"
)

// TestScenario1_IdentityPanel exercises S1: a single block whose four
// unique rows are the four two-bit patterns over three markers, each
// haplotype mapped to its own row (indmap is the identity), uniform
// allele frequency. Observing Ref at marker 0 and Alt at marker 2
// should pull their dosages toward 0 and 1 respectively, with the
// Missing marker between them landing strictly inside (0,1).
//
// Given: the S1 identity panel and target [Ref, Missing, Alt]
// When: Impute runs
// Then: d0 < 0.5 < d2, and d1 is strictly between 0 and 1
func TestScenario1_IdentityPanel(t *testing.T) {
	doc := `##n_blocks=1
##n_haps=4
##n_markers=3
#CHROM POS ID REF ALT QUAL FILTER INFO FORMAT SAMPLES
1 100 . A T . . VARIANTS=3;REPS=4 GT 0 1 2 3
1 100 . A T . . Recom=0.01 0011
1 150 . A T . . Recom=0.01 0101
1 200 . A T . . Recom=0.01 0110
`
	panel, err := refpanel.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.NoError(t, ValidateMarkers(panel))

	thap := []symbol.Symbol{symbol.Ref, symbol.Missing, symbol.Alt}
	e := &Engine{}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)

	require.Less(t, dosages[0], 0.5)
	require.Greater(t, dosages[2], 0.5)
	require.Greater(t, dosages[1], 0.0)
	require.Less(t, dosages[1], 1.0)
}

// TestScenario2_AllMissingMatchesPriorAlleleFrequency exercises S2: with
// every target symbol Missing, emission never constrains the walk, so
// each marker's posterior dosage should equal the panel's own allele
// frequency at that marker.
func TestScenario2_AllMissingMatchesPriorAlleleFrequency(t *testing.T) {
	panel := twoBlockPanel(t)
	thap := make([]symbol.Symbol, panel.NMarkers)
	for i := range thap {
		thap[i] = symbol.Missing
	}

	e := &Engine{}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)

	wantAfreq := []float64{0, 0.5, 0.5, 0.5, 1.0}
	for i, want := range wantAfreq {
		require.InDeltaf(t, want, dosages[i], 0.05, "marker %d", i)
	}
}

// TestScenario3_SingleHaplotypePanel exercises S3: with only one
// haplotype in the reference panel there is no ambiguity to resolve,
// so the imputed dosage at every marker must equal that haplotype's
// own allele there, regardless of what the target observed.
func TestScenario3_SingleHaplotypePanel(t *testing.T) {
	doc := `##n_blocks=1
##n_haps=1
##n_markers=3
#CHROM POS ID REF ALT QUAL FILTER INFO FORMAT SAMPLES
1 100 . A T . . VARIANTS=3;REPS=1 GT 0
1 100 . A T . . Recom=0.02 0
1 150 . A T . . Recom=0.02 1
1 200 . A T . . Recom=0.02 0
`
	panel, err := refpanel.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.NoError(t, ValidateMarkers(panel))

	thap := []symbol.Symbol{symbol.Alt, symbol.Missing, symbol.Ref}
	e := &Engine{}
	dosages, err := e.Impute(thap, panel)
	require.NoError(t, err)

	wantRow := []float64{0, 1, 0}
	for i, want := range wantRow {
		require.InDeltaf(t, want, dosages[i], 0.02, "marker %d", i)
	}
}

// TestScenario4_BlockBoundaryMatchesJoinedReconstruction exercises S4:
// splitting a three-marker haplotype panel into two blocks that share
// their boundary marker must produce the same dosages as a single
// block spanning all three markers directly, when the per-haplotype
// allele matrix and recombination rates are held identical across
// both layouts.
func TestScenario4_BlockBoundaryMatchesJoinedReconstruction(t *testing.T) {
	twoBlockDoc := `##n_blocks=2
##n_haps=2
##n_markers=3
#CHROM POS ID REF ALT QUAL FILTER INFO FORMAT SAMPLES
1 100 . A T . . VARIANTS=2;REPS=2 GT 0 1
1 100 . A T . . Recom=0.05 01
1 150 . A T . . Recom=0.05 10
1 150 . A T . . VARIANTS=2;REPS=2 GT 0 1
1 150 . A T . . Recom=0.05 10
1 200 . A T . . Recom=0.05 01
`
	joinedDoc := `##n_blocks=1
##n_haps=2
##n_markers=3
#CHROM POS ID REF ALT QUAL FILTER INFO FORMAT SAMPLES
1 100 . A T . . VARIANTS=3;REPS=2 GT 0 1
1 100 . A T . . Recom=0.05 01
1 150 . A T . . Recom=0.05 10
1 200 . A T . . Recom=0.05 01
`
	twoBlock, err := refpanel.Parse(strings.NewReader(twoBlockDoc))
	require.NoError(t, err)
	require.NoError(t, ValidateMarkers(twoBlock))

	joined, err := refpanel.Parse(strings.NewReader(joinedDoc))
	require.NoError(t, err)
	require.NoError(t, ValidateMarkers(joined))

	thap := []symbol.Symbol{symbol.Ref, symbol.Missing, symbol.Alt}

	twoBlockDosages, err := (&Engine{}).Impute(thap, twoBlock)
	require.NoError(t, err)
	joinedDosages, err := (&Engine{}).Impute(thap, joined)
	require.NoError(t, err)

	require.Len(t, twoBlockDosages, len(joinedDosages))
	for i := range joinedDosages {
		require.InDeltaf(t, joinedDosages[i], twoBlockDosages[i], 1e-6, "marker %d", i)
	}
}
