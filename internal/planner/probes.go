package planner

import (
	"github.com/blaisdelllab/operant/internal/randdraw"
	"github.com/blaisdelllab/operant/internal/stimulus"
)

// ProbeIndices spreads p probe trials over n trials: the range is cut into p
// bins of width n/p and one uniformly random index is taken from each bin.
// Indices are 1-based and strictly increasing. Trials past p*(n/p) are never
// probes.
func ProbeIndices(src *randdraw.Source, n, p int) ([]int, error) {
	if p == 0 {
		return nil, nil
	}
	if p < 0 || n < 1 {
		return nil, stimulus.Configf("cannot place %d probes in %d trials", p, n)
	}
	w := n / p
	if w == 0 {
		return nil, stimulus.Configf("%d probes do not fit in %d trials", p, n)
	}
	out := make([]int, p)
	for i := range out {
		out[i] = i*w + src.IntRange(1, w)
	}
	return out, nil
}

// probeFoils builds the per-session foil list for p probe trials.
// CBE foils are distinct training comparisons, reused only once every
// option has been used. FM uses the one reserved foil for every probe.
func probeFoils(src *randdraw.Source, cat *stimulus.Catalog, kind ProbeKind, p int) ([]stimulus.Item, error) {
	var out []stimulus.Item
	switch kind {
	case ProbeCBE:
		pool := cat.Comparisons(stimulus.CategoryTraining)
		if len(pool) == 0 {
			return nil, stimulus.Configf("no training comparisons available as CBE foils")
		}
		for len(out) < p {
			out = append(out, randdraw.Shuffled(src, pool)...)
		}
		out = out[:p]
	case ProbeFM:
		foil, ok := cat.FMFoil()
		if !ok {
			return nil, stimulus.Configf("FM probes need a reserved fast-mapping foil")
		}
		for i := 0; i < p; i++ {
			out = append(out, foil)
		}
	default:
		return nil, stimulus.Configf("unknown probe kind %q", kind)
	}
	return randdraw.Shuffled(src, out), nil
}
