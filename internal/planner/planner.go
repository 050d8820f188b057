// Package planner builds the immutable trial sequence for one session from a
// classified stimulus catalog and a declarative Design.
package planner

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/randdraw"
	"github.com/blaisdelllab/operant/internal/stimulus"
)

// Planner draws session plans from a seeded source.
type Planner struct {
	src    *randdraw.Source
	logger *zap.Logger
}

// New returns a Planner. A nil logger discards output.
func New(src *randdraw.Source, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{src: src, logger: logger}
}

// Build produces the full plan or a *stimulus.ConfigurationError. No partial
// plan is ever returned.
func (p *Planner) Build(cat *stimulus.Catalog, design Design) (*SessionPlan, error) {
	d := design.WithDefaults()
	if err := d.validate(); err != nil {
		return nil, err
	}

	var (
		plan *SessionPlan
		err  error
	)
	switch d.Mode {
	case ModeAutoshaping:
		plan, err = p.buildAutoshaping(cat, d)
	case ModeFamiliarization:
		plan, err = p.buildFamiliarization(cat, d)
	case ModeAssociation:
		plan, err = p.buildAssociation(cat, d)
	default:
		plan, err = p.buildMatchToSample(cat, d)
	}
	if err != nil {
		return nil, err
	}
	plan.Design = d
	plan.Seed = p.src.Seed()
	for i := range plan.Trials {
		t := &plan.Trials[i]
		t.ComparisonFamiliarity = d.familiarity(t.Correct.Pair)
		if t.Foil != nil {
			t.FoilFamiliarity = d.familiarity(t.Foil.Pair)
		}
	}

	p.logger.Info("session planned",
		zap.String("mode", string(d.Mode)),
		zap.Int("trials", plan.Len()),
		zap.Ints("probe_indices", plan.ProbeIndices),
		zap.Uint64("seed", plan.Seed))
	return plan, nil
}

// #region match-to-sample
func (p *Planner) buildMatchToSample(cat *stimulus.Catalog, d Design) (*SessionPlan, error) {
	trainingSamples := cat.Samples(stimulus.CategoryTraining)
	trainingComps := cat.Comparisons(stimulus.CategoryTraining)
	if len(trainingSamples) == 0 {
		return nil, stimulus.Configf("no training samples")
	}
	if len(trainingComps) < 2 {
		return nil, stimulus.Configf("need at least 2 training pairs for a foil, have %d", len(trainingComps))
	}

	probeIdx, err := ProbeIndices(p.src, d.Trials, d.ProbeCount)
	if err != nil {
		return nil, err
	}
	isProbe := make(map[int]bool, len(probeIdx))
	for _, i := range probeIdx {
		isProbe[i] = true
	}

	var (
		probeBag   *randdraw.Bag[stimulus.Item]
		probeFoil  []stimulus.Item
		probeCat   TrialCategory
		probeLabel = cat.ProbeLabel()
	)
	if d.ProbeCount > 0 {
		probes := cat.Samples(stimulus.CategoryProbe)
		if len(probes) == 0 {
			return nil, stimulus.Configf("%d probe trials requested but no probe samples", d.ProbeCount)
		}
		probeBag = randdraw.NewBag(p.src, probes)
		if probeFoil, err = probeFoils(p.src, cat, d.ProbeKind, d.ProbeCount); err != nil {
			return nil, err
		}
		probeCat = CategoryProbeCBE
		if d.ProbeKind == ProbeFM {
			probeCat = CategoryProbeFM
		}
	}

	var fcBag *randdraw.Bag[stimulus.Item]
	if len(d.ForcedChoice) > 0 {
		fc := make([]stimulus.Item, 0, len(d.ForcedChoice))
		for _, id := range d.ForcedChoice {
			it, ok := cat.Lookup(id)
			if !ok || it.Role != stimulus.RoleSample || cat.Category(id) != stimulus.CategoryTraining {
				return nil, stimulus.Configf("forced-choice stimulus %s is not a training sample", id)
			}
			fc = append(fc, it)
		}
		fcBag = randdraw.NewBag(p.src, fc)
	}

	trainBag := randdraw.NewBag(p.src, trainingSamples)
	sides := randdraw.NewSequence(p.src, []Side{SideLeft, SideRight}, d.SideMultiplicity)

	plan := &SessionPlan{ProbeIndices: probeIdx}
	for i := 1; i <= d.Trials; i++ {
		t := TrialSpec{Index: i, ComparisonRatio: d.ComparisonRatio}

		switch {
		case isProbe[i]:
			t.Category = probeCat
			t.ProbeLabel = probeLabel
			t.Sample, err = probeBag.Next()
			if err == nil {
				foil := probeFoil[0]
				probeFoil = probeFoil[1:]
				t.Foil = &foil
			}
		case fcBag != nil && d.ForcedChoiceWindow.Contains(i):
			t.Category = CategoryForcedChoice
			t.Sample, err = fcBag.Next()
		default:
			t.Category = CategoryTraining
			t.Sample, err = trainBag.Next()
		}
		if err != nil {
			return nil, planErr(i, "sample", err)
		}

		correct, ok := cat.PairOf(t.Sample)
		if !ok {
			return nil, stimulus.Configf("trial %d: sample %s has no paired comparison", i, t.Sample.ID)
		}
		t.Correct = correct

		if t.Foil == nil {
			foil, group, err := p.trainingFoil(trainingComps, t.Sample, d)
			if err != nil {
				return nil, planErr(i, "foil", err)
			}
			t.Foil = &foil
			t.FoilGroup = group
		}

		if t.CorrectSide, err = sides.Next(); err != nil {
			return nil, planErr(i, "side", err)
		}
		t.SampleRatio = d.SampleRatio.Draw(p.src)
		plan.Trials = append(plan.Trials, t)
	}
	return plan, nil
}

// trainingFoil rejection-samples a training comparison from another pair,
// honouring a matching foil group when one applies.
func (p *Planner) trainingFoil(pool []stimulus.Item, sample stimulus.Item, d Design) (stimulus.Item, string, error) {
	var group *FoilGroup
	for i := range d.FoilGroups {
		if d.FoilGroups[i].Samples.contains(sample.Pair) {
			group = &d.FoilGroups[i]
			break
		}
	}
	pred := func(c stimulus.Item) bool {
		if c.Pair == sample.Pair {
			return false
		}
		return group == nil || group.Foils.contains(c.Pair)
	}
	foil, err := randdraw.RejectionSample(p.src, pool, pred, d.MaxAttempts)
	if err != nil {
		return stimulus.Item{}, "", err
	}
	if group == nil {
		return foil, "", nil
	}
	return foil, group.Name, nil
}

// #endregion match-to-sample

// #region autoshaping
func (p *Planner) buildAutoshaping(cat *stimulus.Catalog, d Design) (*SessionPlan, error) {
	samples := cat.Samples(stimulus.CategoryTraining)
	if len(samples) == 0 {
		return nil, stimulus.Configf("no training samples for autoshaping")
	}
	bag := randdraw.NewBag(p.src, samples)
	locs := randdraw.NewSequence(p.src, d.AutoshapeLocations, d.SideMultiplicity)

	plan := &SessionPlan{}
	for i := 1; i <= d.Trials; i++ {
		s, err := bag.Next()
		if err != nil {
			return nil, planErr(i, "sample", err)
		}
		side, err := locs.Next()
		if err != nil {
			return nil, planErr(i, "location", err)
		}
		plan.Trials = append(plan.Trials, TrialSpec{
			Index:           i,
			Sample:          s,
			Correct:         s,
			CorrectSide:     side,
			Category:        CategoryAutoshaping,
			SampleRatio:     d.SampleRatio.Draw(p.src),
			ComparisonRatio: d.ComparisonRatio,
		})
	}
	return plan, nil
}

// #endregion autoshaping

// #region familiarization
// buildFamiliarization shows every training comparison Presentations times,
// one shuffled pass at a time, split evenly between the two sides.
func (p *Planner) buildFamiliarization(cat *stimulus.Catalog, d Design) (*SessionPlan, error) {
	comps := cat.Comparisons(stimulus.CategoryTraining)
	if len(comps) == 0 {
		return nil, stimulus.Configf("no training comparisons to familiarize")
	}

	sideQueue := make(map[string][]Side, len(comps))
	for _, c := range comps {
		var q []Side
		if d.Presentations >= 2 {
			q = randdraw.BalancedLabels(p.src, []Side{SideLeft, SideRight}, d.Presentations/2)
		}
		if d.Presentations%2 == 1 {
			extra, _ := randdraw.Choice(p.src, []Side{SideLeft, SideRight})
			q = append(q, extra)
		}
		sideQueue[c.ID] = q
	}

	total := len(comps) * d.Presentations
	if d.Trials > 0 && d.Trials < total {
		total = d.Trials
	}

	plan := &SessionPlan{}
	for pass := 0; pass < d.Presentations && len(plan.Trials) < total; pass++ {
		for _, c := range randdraw.Shuffled(p.src, comps) {
			if len(plan.Trials) == total {
				break
			}
			q := sideQueue[c.ID]
			side := q[0]
			sideQueue[c.ID] = q[1:]
			plan.Trials = append(plan.Trials, TrialSpec{
				Index:           len(plan.Trials) + 1,
				Correct:         c,
				CorrectSide:     side,
				Category:        CategoryFamiliarization,
				ComparisonRatio: d.ComparisonRatio,
			})
		}
	}
	return plan, nil
}

// #endregion familiarization

// #region association
// buildAssociation pairs each training sample with its comparison. Training
// blocks show every sample once with its comparison alone; test blocks show
// it against a familiar foil, a different foil in every block. Test trials
// are spread through the training sequence, each preceded by InterleaveMin
// to InterleaveMax training trials, and leftover training trials follow.
func (p *Planner) buildAssociation(cat *stimulus.Catalog, d Design) (*SessionPlan, error) {
	samples := cat.Samples(stimulus.CategoryTraining)
	if len(samples) == 0 {
		return nil, stimulus.Configf("no training samples for association")
	}
	comps := make([]stimulus.Item, len(samples))
	for i, s := range samples {
		c, ok := cat.PairOf(s)
		if !ok {
			return nil, stimulus.Configf("sample %s has no paired comparison", s.ID)
		}
		comps[i] = c
	}
	if d.TestBlocks > len(comps)-1 {
		return nil, stimulus.Configf("%d test blocks need %d other comparisons per sample, have %d",
			d.TestBlocks, d.TestBlocks, len(comps)-1)
	}

	var training []TrialSpec
	for b := 0; b < d.TrainingBlocks; b++ {
		for _, i := range randdraw.Shuffled(p.src, indices(len(samples))) {
			training = append(training, TrialSpec{
				Sample:   samples[i],
				Correct:  comps[i],
				Category: CategoryAssociation,
			})
		}
	}

	foils := make([][]stimulus.Item, len(samples))
	for i := range samples {
		others := make([]stimulus.Item, 0, len(comps)-1)
		for j, c := range comps {
			if j != i {
				others = append(others, c)
			}
		}
		foils[i] = randdraw.Shuffled(p.src, others)[:d.TestBlocks]
	}
	var tests []TrialSpec
	for b := 0; b < d.TestBlocks; b++ {
		for _, i := range randdraw.Shuffled(p.src, indices(len(samples))) {
			foil := foils[i][b]
			tests = append(tests, TrialSpec{
				Sample:   samples[i],
				Correct:  comps[i],
				Foil:     &foil,
				Category: CategoryAssociationTest,
			})
		}
	}

	var order []TrialSpec
	next := 0
	for _, t := range tests {
		n := d.InterleaveMin
		if d.InterleaveMax > d.InterleaveMin {
			n = p.src.IntRange(d.InterleaveMin, d.InterleaveMax)
		}
		for k := 0; k < n && next < len(training); k++ {
			order = append(order, training[next])
			next++
		}
		order = append(order, t)
	}
	order = append(order, training[next:]...)
	if d.Trials > 0 && d.Trials < len(order) {
		order = order[:d.Trials]
	}

	sides := randdraw.NewSequence(p.src, []Side{SideLeft, SideRight}, d.SideMultiplicity)
	plan := &SessionPlan{}
	for i, t := range order {
		side, err := sides.Next()
		if err != nil {
			return nil, planErr(i+1, "side", err)
		}
		t.Index = i + 1
		t.CorrectSide = side
		t.SampleRatio = d.SampleRatio.Draw(p.src)
		t.ComparisonRatio = d.ComparisonRatio
		plan.Trials = append(plan.Trials, t)
	}
	return plan, nil
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// #endregion association

func planErr(trial int, what string, err error) error {
	return &stimulus.ConfigurationError{
		Reason: fmt.Sprintf("trial %d: cannot draw %s", trial, what),
		Err:    err,
	}
}
