package refpanel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleM3VCF = `##n_blocks=1
##n_haps=4
##n_markers=2
#CHROM POS ID REF ALT QUAL FILTER INFO FORMAT SAMPLES
1 100 . A T . . VARIANTS=2;REPS=2 GT 0 0 1 1
1 100 . A T . . Recom=0.01 00
1 200 . A T . . Recom=0.02 01
`

// TestParse_ReadsHeaderAndBlocks verifies the M3VCF text parser reads
// panel-level metadata and per-block variant data correctly.
//
// Given: a minimal M3VCF document with one block of two variants
// When: it is parsed
// Then: panel dimensions, indmap, cluster sizes, and allele rows match
func TestParse_ReadsHeaderAndBlocks(t *testing.T) {
	panel, err := Parse(strings.NewReader(sampleM3VCF))
	require.NoError(t, err)
	require.Equal(t, 4, panel.NHaps)
	require.Equal(t, 2, panel.NMarkers)
	require.Len(t, panel.Blocks, 1)

	b := panel.Blocks[0]
	require.Equal(t, 2, b.NVar)
	require.Equal(t, 2, b.NUniq)
	require.Equal(t, []uint16{0, 0, 1, 1}, b.IndMap)
	require.Equal(t, []float64{2, 2}, b.ClustSize)

	// Variant 0: genotype string "00" -> both unique rows Ref.
	require.False(t, b.RHap[0].Get(0))
	require.False(t, b.RHap[0].Get(1))
	require.Equal(t, float32(0), b.AFreq[0])

	// Variant 1: genotype string "01" -> row 1 is Alt, carried by 2 haps.
	require.False(t, b.RHap[1].Get(0))
	require.True(t, b.RHap[1].Get(1))
	require.InDelta(t, 0.5, b.AFreq[1], 1e-6)
	require.InDelta(t, 0.02, b.RProb[1], 1e-6)
}

// TestWriteRead_RoundTrip verifies the wire codec reproduces a parsed
// panel exactly after a Write/Read cycle.
func TestWriteRead_RoundTrip(t *testing.T) {
	panel, err := Parse(strings.NewReader(sampleM3VCF))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, panel.Write(&buf))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, panel.NHaps, got.NHaps)
	require.Equal(t, panel.NMarkers, got.NMarkers)
	require.Len(t, got.Blocks, 1)
	require.Equal(t, panel.Blocks[0].IndMap, got.Blocks[0].IndMap)
	require.Equal(t, panel.Blocks[0].AFreq, got.Blocks[0].AFreq)
	require.Equal(t, panel.Blocks[0].RHap[1].Get(1), got.Blocks[0].RHap[1].Get(1))
}

// TestBlockReader_StreamsSequentially verifies BlockReader yields blocks
// one at a time and reports nil once exhausted.
func TestBlockReader_StreamsSequentially(t *testing.T) {
	panel, err := Parse(strings.NewReader(sampleM3VCF))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, panel.Write(&buf))

	br, err := NewBlockReader(&buf)
	require.NoError(t, err)
	require.Equal(t, 1, br.NBlocks)

	first, err := br.Next()
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := br.Next()
	require.NoError(t, err)
	require.Nil(t, second)
}
