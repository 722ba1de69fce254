package symbol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVec_RoundTrip verifies that packing a sequence of symbols and
// reading them back via Get reproduces the original sequence exactly.
//
// Given: a mixed sequence of Ref/Alt/Missing symbols
// When: the sequence is packed into a Vec and read back
// Then: every symbol matches its original value
func TestVec_RoundTrip(t *testing.T) {
	reference := []Symbol{Ref, Missing, Alt, Ref, Missing, Missing, Ref, Ref, Alt}

	v := FromSlice(reference)
	require.Equal(t, len(reference), v.Len())
	require.Equal(t, reference, v.ToSlice())
}

// TestVec_ShrinkTo verifies truncation drops only the trailing symbols.
func TestVec_ShrinkTo(t *testing.T) {
	v := FromSlice([]Symbol{Ref, Alt, Missing, Alt})
	v.ShrinkTo(2)
	require.Equal(t, []Symbol{Ref, Alt}, v.ToSlice())
}

// TestVec_FromWords verifies the packed-word accessor round-trips
// through FromWords, the path internal/stream uses for serialization.
func TestVec_FromWords(t *testing.T) {
	reference := []Symbol{Alt, Alt, Ref, Missing, Alt}
	v := FromSlice(reference)
	words := v.AsWords()

	rebuilt := FromWords(words, v.Len())
	require.Equal(t, reference, rebuilt.ToSlice())
}

func TestSymbol_BitPairRoundTrip(t *testing.T) {
	for _, s := range []Symbol{Ref, Alt, Missing} {
		first, second := s.ToBitPair()
		require.Equal(t, s, FromBitPair(first, second))
	}
}

func TestSymbol_FromBit(t *testing.T) {
	require.Equal(t, Ref, FromBit(false))
	require.Equal(t, Alt, FromBit(true))
}
