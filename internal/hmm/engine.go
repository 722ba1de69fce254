// Package hmm implements the blocked Li-Stephens forward/backward
// imputation engine: a linear-domain float64 engine and a
// constant-time engine built on internal/fixed and internal/lnreal,
// both grounded on the same fold/unfold/lazy-normalization algorithm.
package hmm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/ctimpute/ctimpute/internal/cache"
	"github.com/ctimpute/ctimpute/internal/refpanel"
	"github.com/ctimpute/ctimpute/internal/symbol"
	"gonum.org/v1/gonum/floats"
)

const (
	background    = 1e-5
	normThreshold = 1e-20
	normScale     = 1e10
	// emitErr is hardcoded rather than read from the panel's per-variant
	// Err= metadata: the reference implementation ignores that field and
	// always uses this constant, and the imputation spec preserves that
	// behavior exactly rather than "fixing" it.
	emitErr = 0.00999
)

// Engine runs the forward/backward algorithm in the ordinary linear
// probability domain.
type Engine struct {
	// CacheBackend backs the offload cache used to hold forward-pass
	// block state between the forward and backward walk. Defaults to
	// cache.LocalBackend{} (in-process) when nil.
	CacheBackend cache.Backend
	// CacheBound is the in-memory ring size for each of the four
	// forward-state caches. Defaults to 4.
	CacheBound int
}

func (e *Engine) backend() cache.Backend {
	if e.CacheBackend != nil {
		return e.CacheBackend
	}
	return cache.LocalBackend{}
}

func (e *Engine) bound() int {
	if e.CacheBound > 0 {
		return e.CacheBound
	}
	return 4
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("hmm: encode block state: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("hmm: decode block state: %w", err)
	}
	return nil
}

// forwardCaches holds the four offload-cache save streams the forward
// pass spills block state into: ProbAll (the pre-block sAll snapshot),
// Prob/ProbNorecom (the per-variant fold matrices), and ProbFirst (the
// folded probabilities before the block's walk). Because caches pop in
// LIFO order, simply converting these into loaders hands the backward
// pass its blocks in the reverse order it needs, with no extra
// bookkeeping.
type forwardCaches struct {
	all, prob, norecom, first *cache.Save
}

func newForwardCaches(e *Engine) (*forwardCaches, error) {
	backend := e.backend()
	bound := e.bound()
	mk := func() (*cache.Save, error) { return cache.NewOffloadCache(bound, backend).NewSave() }

	all, err := mk()
	if err != nil {
		return nil, err
	}
	prob, err := mk()
	if err != nil {
		return nil, err
	}
	norecom, err := mk()
	if err != nil {
		return nil, err
	}
	first, err := mk()
	if err != nil {
		return nil, err
	}
	return &forwardCaches{all: all, prob: prob, norecom: norecom, first: first}, nil
}

type backwardLoaders struct {
	all, prob, norecom, first *cache.Load
}

func (fc *forwardCaches) intoLoaders() *backwardLoaders {
	return &backwardLoaders{
		all:     fc.all.IntoLoad(),
		prob:    fc.prob.IntoLoad(),
		norecom: fc.norecom.IntoLoad(),
		first:   fc.first.IntoLoad(),
	}
}

// Impute runs the forward/backward algorithm over a target haplotype's
// observed/missing symbols (one per marker) against panel, returning
// the posterior ALT dosage at every marker.
func (e *Engine) Impute(thap []symbol.Symbol, panel *refpanel.RefPanel) ([]float64, error) {
	if err := ValidateMarkers(panel); err != nil {
		return nil, err
	}
	if len(thap) != panel.NMarkers {
		return nil, fmt.Errorf("hmm: target has %d symbols, panel expects %d markers", len(thap), panel.NMarkers)
	}

	m := float64(panel.NHaps)
	blocks := panel.Blocks
	imputed := make([]float64, len(thap))

	fc, err := newForwardCaches(e)
	if err != nil {
		return nil, err
	}

	sprobAll := make([]float64, panel.NHaps)
	for i := range sprobAll {
		sprobAll[i] = 1.0
	}

	// First-position emission (edge case): markers before the first
	// block's walk begins are seeded directly from the panel's rhap row
	// at variant 0, not by a transition.
	if thap[0] != symbol.Missing {
		block := blocks[0]
		tsym := thap[0]
		afreq := alleleFreq(tsym, block.AFreq[0])
		for h, ind := range block.IndMap {
			rhap := rhapSymbol(block.RHap[0], int(ind))
			sprobAll[h] = emission(tsym, rhap, afreq)
		}
	}

	varOffset := 0
	for b, block := range blocks {
		if err := pushFloat64(fc.all, sprobAll); err != nil {
			return nil, err
		}

		sprob := foldSum(block.IndMap, sprobAll, block.NUniq)
		sprobFirst := append([]float64(nil), sprob...)
		sprobNorecom := append([]float64(nil), sprob...)

		// Row 0 of both matrices holds the folded state at the block's
		// first variant; the walk below fills rows 1..NVar-1.
		fwdProb := make([][]float64, block.NVar)
		fwdProbNorecom := make([][]float64, block.NVar)
		fwdProb[0] = append([]float64(nil), sprob...)
		fwdProbNorecom[0] = append([]float64(nil), sprobNorecom...)

		for j := 1; j < block.NVar; j++ {
			rec := float64(block.RProb[j-1])
			tsym := thap[varOffset+j]
			afreq := alleleFreq(tsym, block.AFreq[j])

			sprobTot := floats.Sum(sprob) * (rec / m)
			complement := 1 - rec
			for u := range sprobNorecom {
				sprobNorecom[u] *= complement
			}

			if sprobTot < normThreshold {
				sprobTot *= normScale
				complement *= normScale
				for u := range sprobNorecom {
					sprobNorecom[u] *= normScale
				}
			}

			for u := range sprob {
				sprob[u] = complement*sprob[u] + block.ClustSize[u]*sprobTot
			}

			if tsym != symbol.Missing {
				for u := range sprob {
					rhap := rhapSymbol(block.RHap[j], u)
					emi := emission(tsym, rhap, afreq)
					sprob[u] *= emi
					sprobNorecom[u] *= emi
				}
			}

			fwdProb[j] = append([]float64(nil), sprob...)
			fwdProbNorecom[j] = append([]float64(nil), sprobNorecom...)
		}

		sprobRecom := make([]float64, block.NUniq)
		for u := range sprobRecom {
			sprobRecom[u] = math.Max(sprob[u]-sprobNorecom[u], 0)
		}

		if b < len(blocks)-1 {
			next := make([]float64, panel.NHaps)
			for h, ind := range block.IndMap {
				u := int(ind)
				next[h] = sprobRecom[u]/block.ClustSize[u] + sprobAll[h]*(sprobNorecom[u]/(sprobFirst[u]+1e-30))
			}
			sprobAll = next
		}

		if err := pushBlockMatrix(fc.prob, fwdProb); err != nil {
			return nil, err
		}
		if err := pushBlockMatrix(fc.norecom, fwdProbNorecom); err != nil {
			return nil, err
		}
		if err := pushFloat64(fc.first, sprobFirst); err != nil {
			return nil, err
		}

		varOffset += block.NVar - 1
	}

	loaders := fc.intoLoaders()

	sprobAll = make([]float64, panel.NHaps)
	for i := range sprobAll {
		sprobAll[i] = 1.0
	}
	varOffset = 0

	for b := len(blocks) - 1; b >= 0; b-- {
		block := blocks[b]

		fwdAll, err := popFloat64(loaders.all)
		if err != nil {
			return nil, err
		}
		fwdProb, err := popBlockMatrix(loaders.prob)
		if err != nil {
			return nil, err
		}
		fwdProbNorecom, err := popBlockMatrix(loaders.norecom)
		if err != nil {
			return nil, err
		}
		fwdProbFirst, err := popFloat64(loaders.first)
		if err != nil {
			return nil, err
		}

		jprob := make([]float64, block.NUniq)
		for h, ind := range block.IndMap {
			jprob[ind] += fwdAll[h] * sprobAll[h]
		}

		sprob := foldSum(block.IndMap, sprobAll, block.NUniq)
		sprobFirst := append([]float64(nil), sprob...)
		sprobNorecom := append([]float64(nil), sprob...)

		for j := block.NVar - 1; j >= 1; j-- {
			rec := float64(block.RProb[j-1])
			varInd := len(thap) - (varOffset + (block.NVar - j))
			tsym := thap[varInd]
			afreq := alleleFreq(tsym, block.AFreq[j])

			imputed[varInd] = imputeAt(jprob, fwdProb[j], fwdProbNorecom[j], fwdProbFirst,
				sprob, sprobNorecom, sprobFirst, block, block.RHap[j])

			if tsym != symbol.Missing {
				for u := range sprob {
					rhap := rhapSymbol(block.RHap[j], u)
					emi := emission(tsym, rhap, afreq)
					sprob[u] *= emi
					sprobNorecom[u] *= emi
				}
			}

			sprobTot := floats.Sum(sprob) * (rec / m)
			complement := 1 - rec
			for u := range sprobNorecom {
				sprobNorecom[u] *= complement
			}
			if sprobTot < normThreshold {
				sprobTot *= normScale
				complement *= normScale
				for u := range sprobNorecom {
					sprobNorecom[u] *= normScale
				}
			}
			for u := range sprob {
				sprob[u] = complement*sprob[u] + block.ClustSize[u]*sprobTot
			}

			if b == 0 && j == 1 {
				imputed[0] = imputeAt(jprob, fwdProb[0], fwdProbNorecom[0], fwdProbFirst,
					sprob, sprobNorecom, sprobFirst, block, block.RHap[0])
			}
		}

		sprobRecom := make([]float64, block.NUniq)
		for u := range sprobRecom {
			sprobRecom[u] = math.Max(sprob[u]-sprobNorecom[u], 0)
		}

		if b > 0 {
			next := make([]float64, panel.NHaps)
			for h, ind := range block.IndMap {
				u := int(ind)
				next[h] = sprobRecom[u]/block.ClustSize[u] + sprobAll[h]*(sprobNorecom[u]/(sprobFirst[u]+1e-30))
			}
			sprobAll = next
		}

		varOffset += block.NVar - 1
	}

	return imputed, nil
}

// imputeAt evaluates the joint-posterior imputation formula at one
// block-local variant index, partitioning probability mass over
// reference allele (p0) vs alternate allele (p1) across unique rows by
// the row's call at this variant.
func imputeAt(jprob, fwdProbJ, fwdProbNorecomJ, fwdProbFirst, sprob, sprobNorecom, sprobFirst []float64, block *refpanel.Block, row refpanel.RowBits) float64 {
	var p0, p1 float64
	for u := 0; u < block.NUniq; u++ {
		combined := jprob[u]*(fwdProbNorecomJ[u]*sprobNorecom[u]/(fwdProbFirst[u]*sprobFirst[u]+1e-30)) +
			(fwdProbJ[u]*sprob[u]-fwdProbNorecomJ[u]*sprobNorecom[u])/block.ClustSize[u]
		if row.Get(u) {
			p1 += combined
		} else {
			p0 += combined
		}
	}
	return p1 / (p1 + p0)
}

func alleleFreq(tsym symbol.Symbol, blockAfreq float32) float64 {
	if tsym == symbol.Alt {
		return float64(blockAfreq)
	}
	return 1 - float64(blockAfreq)
}

func emission(tsym, rhap symbol.Symbol, afreq float64) float64 {
	if tsym == rhap {
		return (1 - emitErr) + emitErr*afreq + background
	}
	return emitErr*afreq + background
}

func rhapSymbol(row refpanel.RowBits, u int) symbol.Symbol {
	return symbol.FromBit(row.Get(u))
}

func foldSum(indMap []uint16, values []float64, nuniq int) []float64 {
	out := make([]float64, nuniq)
	for h, ind := range indMap {
		out[ind] += values[h]
	}
	return out
}

func pushFloat64(s *cache.Save, v []float64) error {
	data, err := encodeGob(v)
	if err != nil {
		return err
	}
	s.Push(data)
	return nil
}

func popFloat64(l *cache.Load) ([]float64, error) {
	data, ok := l.Pop()
	if !ok {
		return nil, fmt.Errorf("hmm: forward cache exhausted early: %w", l.Err())
	}
	var v []float64
	if err := decodeGob(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func pushBlockMatrix(s *cache.Save, m [][]float64) error {
	data, err := encodeGob(m)
	if err != nil {
		return err
	}
	s.Push(data)
	return nil
}

func popBlockMatrix(l *cache.Load) ([][]float64, error) {
	data, ok := l.Pop()
	if !ok {
		return nil, fmt.Errorf("hmm: forward cache exhausted early: %w", l.Err())
	}
	var m [][]float64
	if err := decodeGob(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
