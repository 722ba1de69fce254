package hmm

import (
	"fmt"
	"math"

	"github.com/ctimpute/ctimpute/internal/cache"
	"github.com/ctimpute/ctimpute/internal/fixed"
	"github.com/ctimpute/ctimpute/internal/lnreal"
	"github.com/ctimpute/ctimpute/internal/refpanel"
	"github.com/ctimpute/ctimpute/internal/symbol"
	"github.com/ctimpute/ctimpute/internal/tpint"
)

// ConstantTimeEngine runs the same forward/backward algorithm as
// Engine, but in the log domain over internal/lnreal.LnReal (itself
// built on internal/fixed.Fixed64), with every decision that depends on
// a target symbol routed through internal/tpint's opaque-boolean select
// rather than an `if`. The log domain is what makes the engine
// representative of the ~300-decade probability range a real panel
// walk produces without ever underflowing to zero, and it replaces
// linear mode's threshold-triggered lazy normalization with an
// unconditional per-step rescale to a running total of one. Reference-
// panel data (RHap bits, ClustSize, RProb, AFreq) is public per the
// imputation model, so indexing and branching on it directly is fine;
// only the target's observed/missing symbols are treated as secret.
type ConstantTimeEngine struct {
	CacheBackend cache.Backend
	CacheBound   int
}

func (e *ConstantTimeEngine) backend() cache.Backend {
	if e.CacheBackend != nil {
		return e.CacheBackend
	}
	return cache.LocalBackend{}
}

func (e *ConstantTimeEngine) bound() int {
	if e.CacheBound > 0 {
		return e.CacheBound
	}
	return 4
}

// protectSymbol lifts a Symbol's underlying int8 into a TpI64 so every
// comparison against it goes through tpint rather than a Go `if`.
func protectSymbol(s symbol.Symbol) tpint.TpI64 { return tpint.ProtectI64(int64(s)) }

// ctIsMissing reports (as a TpBool) whether tsym equals the Missing
// sentinel.
func ctIsMissing(tsym tpint.TpI64) tpint.TpBool {
	return tsym.Eq(tpint.ProtectI64(int64(symbol.Missing)))
}

// ctEmissionLn computes ln(emission probability) for one row without
// ever branching on tsym or rhap: it builds the four emission values a
// plain tsym/rhap comparison could produce (tsym Alt and matching, Alt
// and mismatching, Ref and matching, Ref and mismatching), logs each
// (safe — afreq, and therefore every candidate, is public panel data),
// and picks one with a branchless two-bit select. Grounded directly on
// the reference's single_emission/select_from_4_f32 pairing.
func ctEmissionLn(tsym tpint.TpI64, rhap symbol.Symbol, blockAfreq float32) lnreal.LnReal {
	afreq := float64(blockAfreq)
	isAlt := tsym.Eq(tpint.ProtectI64(int64(symbol.Alt)))
	matches := tsym.Eq(tpint.ProtectI64(int64(rhap)))

	a11 := (1 - emitErr) + emitErr*afreq + background     // tsym=Alt, rhap matches
	a10 := emitErr*afreq + background                     // tsym=Alt, rhap mismatches
	a01 := (1 - emitErr) + emitErr*(1-afreq) + background // tsym=Ref, rhap matches
	a00 := emitErr*(1-afreq) + background                 // tsym=Ref, rhap mismatches

	return lnreal.SelectFrom4F32(isAlt, matches, math.Log(a11), math.Log(a10), math.Log(a01), math.Log(a00))
}

// ctFoldSumLn projects per-haplotype LnReal probabilities down to the
// unique-row domain via indmap, using SumInPlace's balanced accumulator
// per row rather than a running Add, matching the reference's
// fold_probabilities under its leak-resistant build (bucket into a
// per-row slice, then sum_in_place each bucket). IndMap is public, so
// the loop and index are not on the constant-time path.
func ctFoldSumLn(indMap []uint16, values []lnreal.LnReal, nuniq int) []lnreal.LnReal {
	buckets := make([][]lnreal.LnReal, nuniq)
	for h, ind := range indMap {
		buckets[ind] = append(buckets[ind], values[h])
	}
	out := make([]lnreal.LnReal, nuniq)
	for u, b := range buckets {
		out[u] = lnreal.SumInPlace(b)
	}
	return out
}

func copyLn(v []lnreal.LnReal) []lnreal.LnReal {
	out := make([]lnreal.LnReal, len(v))
	copy(out, v)
	return out
}

// ctTransition advances sprob/sprobNorecom across one recombination
// step, rescaling so the running total becomes exactly One instead of
// linear mode's scale-above-a-threshold trick — log domain has no
// underflow to guard against, so the rescale runs every step. rec is the
// step's recombination probability and mInv is 1/NHaps.
func ctTransition(rec, mInv float64, sprob, sprobNorecom, clustSize []lnreal.LnReal) {
	sprobTot := lnreal.SumInPlace(sprob).Mul(lnreal.FromFloat64(rec * mInv))
	complement := lnreal.FromFloat64(1 - rec)
	for u := range sprobNorecom {
		sprobNorecom[u] = sprobNorecom[u].Mul(complement)
	}

	complement = complement.Div(sprobTot)
	for u := range sprobNorecom {
		sprobNorecom[u] = sprobNorecom[u].Div(sprobTot)
	}

	for u := range sprob {
		sprob[u] = complement.Mul(sprob[u]).Add(clustSize[u])
	}
}

// Impute runs the constant-time forward/backward walk in the log
// domain. Its shape mirrors Engine.Impute exactly; every place that
// reads a target symbol goes through ctEmissionLn/ctIsMissing rather
// than a direct comparison.
func (e *ConstantTimeEngine) Impute(thap []symbol.Symbol, panel *refpanel.RefPanel) ([]float64, error) {
	if err := ValidateMarkers(panel); err != nil {
		return nil, err
	}
	if len(thap) != panel.NMarkers {
		return nil, fmt.Errorf("hmm: target has %d symbols, panel expects %d markers", len(thap), panel.NMarkers)
	}

	mInv := 1.0 / float64(panel.NHaps)
	blocks := panel.Blocks
	imputed := make([]float64, len(thap))

	backend := e.backend()
	bound := e.bound()
	mkSave := func() (*cache.Save, error) { return cache.NewOffloadCache(bound, backend).NewSave() }
	allSave, err := mkSave()
	if err != nil {
		return nil, err
	}
	probSave, err := mkSave()
	if err != nil {
		return nil, err
	}
	norecomSave, err := mkSave()
	if err != nil {
		return nil, err
	}
	firstSave, err := mkSave()
	if err != nil {
		return nil, err
	}

	sprobAll := make([]lnreal.LnReal, panel.NHaps)
	for i := range sprobAll {
		sprobAll[i] = lnreal.One
	}

	if len(blocks) > 0 {
		t0 := protectSymbol(thap[0])
		isMissing0 := ctIsMissing(t0)
		block := blocks[0]
		for h, ind := range block.IndMap {
			rhap := rhapSymbol(block.RHap[0], int(ind))
			emi := ctEmissionLn(t0, rhap, block.AFreq[0])
			sprobAll[h] = lnreal.SelectLn(isMissing0, sprobAll[h], emi)
		}
	}

	varOffset := 0
	for b, block := range blocks {
		if err := pushLnVec(allSave, sprobAll); err != nil {
			return nil, err
		}

		sprob := ctFoldSumLn(block.IndMap, sprobAll, block.NUniq)
		sprobFirst := copyLn(sprob)
		sprobNorecom := copyLn(sprob)

		fwdProb := make([][]lnreal.LnReal, block.NVar)
		fwdProbNorecom := make([][]lnreal.LnReal, block.NVar)
		fwdProb[0] = copyLn(sprob)
		fwdProbNorecom[0] = copyLn(sprobNorecom)

		clustSize := make([]lnreal.LnReal, block.NUniq)
		for u := range clustSize {
			clustSize[u] = lnreal.FromFloat64(float64(block.ClustSize[u]))
		}

		for j := 1; j < block.NVar; j++ {
			rec := float64(block.RProb[j-1])
			tsym := protectSymbol(thap[varOffset+j])
			isMissing := ctIsMissing(tsym)

			ctTransition(rec, mInv, sprob, sprobNorecom, clustSize)

			for u := range sprob {
				rhap := rhapSymbol(block.RHap[j], u)
				emi := ctEmissionLn(tsym, rhap, block.AFreq[j])
				sprob[u] = lnreal.SelectLn(isMissing, sprob[u], sprob[u].Mul(emi))
				sprobNorecom[u] = lnreal.SelectLn(isMissing, sprobNorecom[u], sprobNorecom[u].Mul(emi))
			}

			fwdProb[j] = copyLn(sprob)
			fwdProbNorecom[j] = copyLn(sprobNorecom)
		}

		sprobRecom := make([]lnreal.LnReal, block.NUniq)
		for u := range sprobRecom {
			sprobRecom[u] = sprob[u].SubClampedAtZero(sprobNorecom[u])
		}

		if b < len(blocks)-1 {
			next := make([]lnreal.LnReal, panel.NHaps)
			for h, ind := range block.IndMap {
				u := int(ind)
				precomp1 := sprobRecom[u].Div(clustSize[u])
				precomp2 := sprobNorecom[u].Div(sprobFirst[u].Add(lnreal.EPS))
				next[h] = precomp1.Add(sprobAll[h].Mul(precomp2))
			}
			sprobAll = next
		}

		if err := pushLnMatrix(probSave, fwdProb); err != nil {
			return nil, err
		}
		if err := pushLnMatrix(norecomSave, fwdProbNorecom); err != nil {
			return nil, err
		}
		if err := pushLnVec(firstSave, sprobFirst); err != nil {
			return nil, err
		}

		varOffset += block.NVar - 1
	}

	allLoad := allSave.IntoLoad()
	probLoad := probSave.IntoLoad()
	norecomLoad := norecomSave.IntoLoad()
	firstLoad := firstSave.IntoLoad()

	sprobAll = make([]lnreal.LnReal, panel.NHaps)
	for i := range sprobAll {
		sprobAll[i] = lnreal.One
	}
	varOffset = 0

	for b := len(blocks) - 1; b >= 0; b-- {
		block := blocks[b]

		fwdAll, err := popLnVec(allLoad)
		if err != nil {
			return nil, err
		}
		fwdProb, err := popLnMatrix(probLoad)
		if err != nil {
			return nil, err
		}
		fwdProbNorecom, err := popLnMatrix(norecomLoad)
		if err != nil {
			return nil, err
		}
		fwdProbFirst, err := popLnVec(firstLoad)
		if err != nil {
			return nil, err
		}

		products := make([]lnreal.LnReal, panel.NHaps)
		for h := range products {
			products[h] = fwdAll[h].Mul(sprobAll[h])
		}
		jprob := ctFoldSumLn(block.IndMap, products, block.NUniq)

		sprob := ctFoldSumLn(block.IndMap, sprobAll, block.NUniq)
		sprobFirst := copyLn(sprob)
		sprobNorecom := copyLn(sprob)

		clustSize := make([]lnreal.LnReal, block.NUniq)
		for u := range clustSize {
			clustSize[u] = lnreal.FromFloat64(float64(block.ClustSize[u]))
		}

		for j := block.NVar - 1; j >= 1; j-- {
			varInd := len(thap) - (varOffset + (block.NVar - j))
			tsym := protectSymbol(thap[varInd])
			isMissing := ctIsMissing(tsym)

			imputed[varInd] = ctImputeAtLn(jprob, fwdProb[j], fwdProbNorecom[j], fwdProbFirst,
				sprob, sprobNorecom, sprobFirst, clustSize, block.RHap[j])

			for u := range sprob {
				rhap := rhapSymbol(block.RHap[j], u)
				emi := ctEmissionLn(tsym, rhap, block.AFreq[j])
				sprob[u] = lnreal.SelectLn(isMissing, sprob[u], sprob[u].Mul(emi))
				sprobNorecom[u] = lnreal.SelectLn(isMissing, sprobNorecom[u], sprobNorecom[u].Mul(emi))
			}

			rec := float64(block.RProb[j-1])
			ctTransition(rec, mInv, sprob, sprobNorecom, clustSize)

			if b == 0 && j == 1 {
				imputed[0] = ctImputeAtLn(jprob, fwdProb[0], fwdProbNorecom[0], fwdProbFirst,
					sprob, sprobNorecom, sprobFirst, clustSize, block.RHap[0])
			}
		}

		sprobRecom := make([]lnreal.LnReal, block.NUniq)
		for u := range sprobRecom {
			sprobRecom[u] = sprob[u].SubClampedAtZero(sprobNorecom[u])
		}

		if b > 0 {
			next := make([]lnreal.LnReal, panel.NHaps)
			for h, ind := range block.IndMap {
				u := int(ind)
				precomp1 := sprobRecom[u].Div(clustSize[u])
				precomp2 := sprobNorecom[u].Div(sprobFirst[u].Add(lnreal.EPS))
				next[h] = precomp1.Add(sprobAll[h].Mul(precomp2))
			}
			sprobAll = next
		}

		varOffset += block.NVar - 1
	}

	return imputed, nil
}

// ctImputeAtLn mirrors imputeAt in log domain. The partition between p0
// and p1 still indexes by RHap's bit directly since panel data is
// public; only the arithmetic feeding into the two accumulators runs
// through LnReal. The total is raised to at least p1 by a branchless
// select, so the approximate log-sum-exp cannot push the dosage above
// one. The final division uses SafeDiv so a zero total propagates
// LnReal's NAN sentinel rather than a branch in the engine, matching
// the documented soft-failure semantics.
func ctImputeAtLn(jprob, fwdProbJ, fwdProbNorecomJ, fwdProbFirst, sprob, sprobNorecom, sprobFirst, clustSize []lnreal.LnReal, row refpanel.RowBits) float64 {
	p0, p1 := lnreal.Zero, lnreal.Zero
	for u := range jprob {
		x := fwdProbNorecomJ[u].Mul(sprobNorecom[u])
		den := fwdProbFirst[u].Mul(sprobFirst[u]).Add(lnreal.EPS)
		term1 := jprob[u].Mul(x.Div(den))
		term2 := fwdProbJ[u].Mul(sprob[u]).Sub(x).Div(clustSize[u])
		combined := term1.Add(term2)
		if row.Get(u) {
			p1 = p1.SafeAdd(combined)
		} else {
			p0 = p0.SafeAdd(combined)
		}
	}
	total := p1.SafeAdd(p0)
	total = lnreal.SelectLn(total.Raw().Lt(p1.Raw()), p1, total)
	return p1.SafeDiv(total).ToFloat64()
}

// LnReal's field is an unexported Fixed64, itself an unexported TpI64,
// so it cannot be gob-encoded directly; these helpers round-trip
// through its raw scaled integer instead, the same pattern tpint and
// fixed use to stay opaque everywhere except at serialization
// boundaries.

func lnToRaw(v []lnreal.LnReal) []int64 {
	out := make([]int64, len(v))
	for i, f := range v {
		out[i] = f.Raw().Raw().Expose()
	}
	return out
}

func rawToLn(v []int64) []lnreal.LnReal {
	out := make([]lnreal.LnReal, len(v))
	for i, r := range v {
		out[i] = lnreal.FromRaw(fixed.FromRaw(tpint.ProtectI64(r)))
	}
	return out
}

func pushLnVec(s *cache.Save, v []lnreal.LnReal) error {
	data, err := encodeGob(lnToRaw(v))
	if err != nil {
		return err
	}
	s.Push(data)
	return nil
}

func popLnVec(l *cache.Load) ([]lnreal.LnReal, error) {
	data, ok := l.Pop()
	if !ok {
		return nil, fmt.Errorf("hmm: forward cache exhausted early: %w", l.Err())
	}
	var raw []int64
	if err := decodeGob(data, &raw); err != nil {
		return nil, err
	}
	return rawToLn(raw), nil
}

func pushLnMatrix(s *cache.Save, m [][]lnreal.LnReal) error {
	raw := make([][]int64, len(m))
	for i, row := range m {
		raw[i] = lnToRaw(row)
	}
	data, err := encodeGob(raw)
	if err != nil {
		return err
	}
	s.Push(data)
	return nil
}

func popLnMatrix(l *cache.Load) ([][]lnreal.LnReal, error) {
	data, ok := l.Pop()
	if !ok {
		return nil, fmt.Errorf("hmm: forward cache exhausted early: %w", l.Err())
	}
	var raw [][]int64
	if err := decodeGob(data, &raw); err != nil {
		return nil, err
	}
	out := make([][]lnreal.LnReal, len(raw))
	for i, row := range raw {
		out[i] = rawToLn(row)
	}
	return out, nil
}
