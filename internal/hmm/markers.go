package hmm

import (
	"fmt"

	"github.com/ctimpute/ctimpute/internal/refpanel"
)

// MarkerCount returns the number of distinct marker positions a panel
// spans. Consecutive blocks share their boundary marker (the last
// variant of block b is the same position as the first variant of
// block b+1), so the total is Σ(NVar-1)+1 rather than Σ(NVar).
func MarkerCount(p *refpanel.RefPanel) int {
	if len(p.Blocks) == 0 {
		return 0
	}
	total := 1
	for _, b := range p.Blocks {
		total += b.NVar - 1
	}
	return total
}

// ValidateMarkers checks the panel's declared NMarkers against the
// boundary-sharing convention MarkerCount computes, catching a
// malformed or truncated panel before the engine walks off the end of
// a target haplotype.
func ValidateMarkers(p *refpanel.RefPanel) error {
	got := MarkerCount(p)
	if got != p.NMarkers {
		return fmt.Errorf("hmm: panel declares %d markers but blocks imply %d", p.NMarkers, got)
	}
	return nil
}
