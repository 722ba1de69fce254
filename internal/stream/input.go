// Package stream implements the wire framing used to feed target
// haplotypes into the imputation engines and to drain their dosage
// output, grounded on the reference implementation's 64-symbol
// bitmask-grouped input format and its push/pop output buffer.
package stream

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/ctimpute/ctimpute/internal/symbol"
)

// groupSize is the number of marker slots covered by one presence
// bitmask word. A marker whose bit is unset in the mask is Missing and
// contributes no byte to the packed symbol data that follows.
const groupSize = 64

// ReadSymbols decodes a target haplotype from r: a 4-byte big-endian
// marker count, then repeated groups of an 8-byte big-endian presence
// bitmask followed by the 2-bit-packed symbols for only the markers
// whose bit is set, until that many symbols have been produced or the
// stream is exhausted.
func ReadSymbols(r io.Reader) ([]symbol.Symbol, error) {
	var nBuf [4]byte
	if _, err := io.ReadFull(r, nBuf[:]); err != nil {
		return nil, fmt.Errorf("stream: read marker count: %w", err)
	}
	n := int(binary.BigEndian.Uint32(nBuf[:]))

	out := make([]symbol.Symbol, 0, n)
	var maskBuf [8]byte
	for len(out) < n {
		if _, err := io.ReadFull(r, maskBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("stream: input ended after %d of %d symbols", len(out), n)
			}
			return nil, fmt.Errorf("stream: read presence mask: %w", err)
		}
		mask := binary.BigEndian.Uint64(maskBuf[:])

		remaining := n - len(out)
		bits := groupSize
		if remaining < bits {
			bits = remaining
		}

		nOnes := 0
		for i := 0; i < bits; i++ {
			if mask&(uint64(1)<<uint(i)) != 0 {
				nOnes++
			}
		}

		nBytes := (nOnes + 3) / 4
		packed := make([]byte, nBytes)
		if nBytes > 0 {
			if _, err := io.ReadFull(r, packed); err != nil {
				return nil, fmt.Errorf("stream: read packed symbols: %w", err)
			}
		}
		vec := symbol.FromWords(wordsFromBytes(packed), nOnes)

		observed := 0
		for i := 0; i < bits; i++ {
			if mask&(uint64(1)<<uint(i)) == 0 {
				out = append(out, symbol.Missing)
				continue
			}
			out = append(out, vec.Get(observed))
			observed++
		}
	}
	return out, nil
}

// WriteSymbols encodes syms in the same 4-byte-count-then-grouped-
// bitmask framing ReadSymbols consumes.
func WriteSymbols(w io.Writer, syms []symbol.Symbol) error {
	if len(syms) > math.MaxUint32 {
		return fmt.Errorf("stream: %d symbols exceeds u32 marker count", len(syms))
	}
	var nBuf [4]byte
	binary.BigEndian.PutUint32(nBuf[:], uint32(len(syms)))
	if _, err := w.Write(nBuf[:]); err != nil {
		return fmt.Errorf("stream: write marker count: %w", err)
	}

	for offset := 0; offset < len(syms); offset += groupSize {
		end := offset + groupSize
		if end > len(syms) {
			end = len(syms)
		}
		group := syms[offset:end]

		var mask uint64
		vec := symbol.NewVec()
		for i, s := range group {
			if s == symbol.Missing {
				continue
			}
			mask |= uint64(1) << uint(i)
			vec.Push(s)
		}

		var maskBuf [8]byte
		binary.BigEndian.PutUint64(maskBuf[:], mask)
		if _, err := w.Write(maskBuf[:]); err != nil {
			return fmt.Errorf("stream: write presence mask: %w", err)
		}

		if vec.Len() > 0 {
			if _, err := w.Write(bytesFromWords(vec.AsWords(), vec.Len())); err != nil {
				return fmt.Errorf("stream: write packed symbols: %w", err)
			}
		}
	}
	return nil
}

// wordsFromBytes reassembles the uint64 words a Vec packs its bits
// into from a little-endian byte stream, the layout WriteSymbols
// produces via bytesFromWords.
func wordsFromBytes(b []byte) []uint64 {
	nWords := (len(b) + 7) / 8
	words := make([]uint64, nWords)
	for i, byteVal := range b {
		words[i/8] |= uint64(byteVal) << uint((i%8)*8)
	}
	return words
}

// bytesFromWords packs nSymbols worth of 2-bit symbols
// (ceil(nSymbols/4) bytes) out of a Vec's backing words in little-endian order.
func bytesFromWords(words []uint64, nSymbols int) []byte {
	nBytes := (nSymbols*2 + 7) / 8
	out := make([]byte, nBytes)
	for i := range out {
		out[i] = byte(words[i/8] >> uint((i%8)*8))
	}
	return out
}
