// Package refpanel holds the compressed reference haplotype panel: the
// M3VCF-style block model (unique haplotype rows, per-variant
// recombination probability and allele frequency, a bit-packed allele
// matrix) plus the parser and wire codec used to load and cache it.
package refpanel

// Block is one linkage-disequilibrium block of the reference panel: a
// run of variants collapsed down to their nuniq distinct haplotype
// rows, with indmap recording which row each of the panel's nhaps
// haplotypes belongs to.
type Block struct {
	// IndMap[h] is the unique-row index of haplotype h within this block.
	IndMap []uint16
	// NVar is the number of variants (markers) this block spans.
	NVar int
	// NUniq is the number of distinct haplotype rows.
	NUniq int
	// ClustSize[u] is the number of haplotypes mapping to unique row u.
	ClustSize []float64
	// RHap[v] is the bit-packed allele row for variant v, one bit per
	// unique haplotype row (LSB-first, length NUniq bits).
	RHap []RowBits
	// RProb[v] is the recombination probability of the step from
	// variant v to variant v+1.
	RProb []float32
	// AFreq[v] is the alternate allele frequency at variant v.
	AFreq []float32
}

// RowBits is a bit-packed view over one variant's allele row across all
// unique haplotype rows in a block, LSB-first within each word.
type RowBits struct {
	words []uint64
	nbits int
}

// NewRowBits allocates a zeroed RowBits of the given bit length.
func NewRowBits(nbits int) RowBits {
	return RowBits{words: make([]uint64, (nbits+63)/64), nbits: nbits}
}

func (r RowBits) Len() int { return r.nbits }

func (r RowBits) Get(i int) bool {
	return (r.words[i/64]>>(uint(i)%64))&1 != 0
}

func (r RowBits) Set(i int, v bool) {
	word, off := i/64, uint(i)%64
	if v {
		r.words[word] |= 1 << off
	} else {
		r.words[word] &^= 1 << off
	}
}

// Words exposes the backing storage for serialization.
func (r RowBits) Words() []uint64 { return r.words }

// RowBitsFromWords reconstructs a RowBits from packed words and a known
// bit length, the inverse of Words.
func RowBitsFromWords(words []uint64, nbits int) RowBits {
	return RowBits{words: words, nbits: nbits}
}

// AltCount returns the total number of panel haplotypes carrying the
// alternate allele at this variant, by summing ClustSize over the rows
// where the bit is set.
func (b *Block) AltCount(variant int) float64 {
	row := b.RHap[variant]
	var total float64
	for u := 0; u < b.NUniq; u++ {
		if row.Get(u) {
			total += b.ClustSize[u]
		}
	}
	return total
}
