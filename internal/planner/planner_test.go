package planner

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaisdelllab/operant/internal/randdraw"
	"github.com/blaisdelllab/operant/internal/stimulus"
)

// items: pairs 1-4 phase 1, 5-8 phase 2, 9-11 phase 3, 12-13 phase 4
func testItems() []stimulus.Item {
	var names []string
	add := func(lo, hi, phase int) {
		for p := lo; p <= hi; p++ {
			names = append(names, fmt.Sprintf("S%d_Phase%d.bmp", p, phase), fmt.Sprintf("C%d_Phase%d.bmp", p, phase))
		}
	}
	add(1, 4, 1)
	add(5, 8, 2)
	add(9, 11, 3)
	add(12, 13, 4)
	return stimulus.FromNames(names)
}

func testCatalog(t *testing.T, cfg stimulus.ClassifyConfig) *stimulus.Catalog {
	t.Helper()
	if cfg.Subject == "" {
		cfg.Subject = "Jagger"
	}
	if cfg.TrainingPhase == 0 {
		cfg.TrainingPhase = 2
	}
	cat, err := stimulus.Classify(testItems(), cfg, stimulus.NewMemoryLedger(), randdraw.New(1), nil)
	require.NoError(t, err)
	return cat
}

func build(t *testing.T, cat *stimulus.Catalog, d Design, seed uint64) *SessionPlan {
	t.Helper()
	plan, err := New(randdraw.New(seed), nil).Build(cat, d)
	require.NoError(t, err)
	return plan
}

func TestProbeIndices_OnePerBin(t *testing.T) {
	cases := []struct{ n, p int }{{96, 4}, {90, 4}, {10, 3}, {7, 7}, {96, 12}, {5, 1}}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("n%d_p%d", tc.n, tc.p), func(t *testing.T) {
			w := tc.n / tc.p
			for seed := uint64(0); seed < 200; seed++ {
				idx, err := ProbeIndices(randdraw.New(seed), tc.n, tc.p)
				require.NoError(t, err)
				require.Len(t, idx, tc.p)
				for i, v := range idx {
					assert.Greater(t, v, i*w, "seed %d", seed)
					assert.LessOrEqual(t, v, (i+1)*w, "seed %d", seed)
					if i > 0 {
						assert.Greater(t, v, idx[i-1])
					}
				}
				assert.LessOrEqual(t, idx[len(idx)-1], tc.p*w)
			}
		})
	}
}

func TestProbeIndices_Edges(t *testing.T) {
	idx, err := ProbeIndices(randdraw.New(1), 96, 0)
	require.NoError(t, err)
	assert.Empty(t, idx)

	_, err = ProbeIndices(randdraw.New(1), 3, 4)
	var cfgErr *stimulus.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = ProbeIndices(randdraw.New(1), 10, -1)
	assert.True(t, errors.As(err, &cfgErr))
}

func TestBuild_TrainingFoilsDifferFromPair(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{})
	for seed := uint64(0); seed < 25; seed++ {
		plan := build(t, cat, Design{Trials: 96, SampleRatio: VariableRatio(3, 8)}, seed)
		require.Equal(t, 96, plan.Len())
		for _, tr := range plan.Trials {
			require.NotNil(t, tr.Foil)
			assert.NotEqual(t, tr.Sample.Pair, tr.Foil.Pair, "trial %d", tr.Index)
			assert.Equal(t, tr.Sample.Pair, tr.Correct.Pair)
			assert.Equal(t, stimulus.CategoryTraining, cat.Category(tr.Foil.ID))
			assert.Equal(t, stimulus.RoleComparison, tr.Foil.Role)
			assert.Equal(t, CategoryTraining, tr.Category)
			assert.GreaterOrEqual(t, tr.SampleRatio, 3)
			assert.LessOrEqual(t, tr.SampleRatio, 8)
		}
	}
}

func TestBuild_SamplesNoRepeatWithinPass(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{})
	plan := build(t, cat, Design{Trials: 96}, 3)
	pass := len(cat.Samples(stimulus.CategoryTraining))
	for start := 0; start+pass <= plan.Len(); start += pass {
		seen := map[string]bool{}
		for _, tr := range plan.Trials[start : start+pass] {
			assert.False(t, seen[tr.Sample.ID], "pass at %d repeated %s", start, tr.Sample.ID)
			seen[tr.Sample.ID] = true
		}
	}
}

func TestBuild_SidesBalancedPerWindow(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{})
	plan := build(t, cat, Design{Trials: 96}, 9)
	window := 2 * (96 / 12)
	for start := 0; start+window <= plan.Len(); start += window {
		left := 0
		for _, tr := range plan.Trials[start : start+window] {
			if tr.CorrectSide == SideLeft {
				left++
			}
		}
		assert.Equal(t, window/2, left, "window at %d", start)
	}

	tr, ok := plan.Trial(1)
	require.True(t, ok)
	l, _ := tr.Left()
	r, _ := tr.Right()
	if tr.CorrectSide == SideLeft {
		assert.Equal(t, tr.Correct, l)
		assert.Equal(t, *tr.Foil, r)
	} else {
		assert.Equal(t, tr.Correct, r)
		assert.Equal(t, *tr.Foil, l)
	}
}

func TestBuild_CBEProbes(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{Subphase: 1})
	plan := build(t, cat, Design{Trials: 96, ProbeCount: 4, ProbeKind: ProbeCBE}, 4)

	var probes []TrialSpec
	for _, tr := range plan.Trials {
		if tr.Category.IsProbe() {
			probes = append(probes, tr)
		}
	}
	require.Len(t, probes, 4)
	foils := map[string]bool{}
	for i, pr := range probes {
		assert.Equal(t, plan.ProbeIndices[i], pr.Index)
		assert.Equal(t, CategoryProbeCBE, pr.Category)
		assert.Equal(t, "CBE.1", pr.ProbeLabel)
		assert.Equal(t, "S9_Phase3", pr.Sample.ID)
		assert.Equal(t, stimulus.CategoryTraining, cat.Category(pr.Foil.ID))
		assert.False(t, foils[pr.Foil.ID], "CBE foil %s reused before exhaustion", pr.Foil.ID)
		foils[pr.Foil.ID] = true
		assert.False(t, pr.Category.Reinforced())
	}
	assert.Equal(t, 92, plan.CountByCategory()[CategoryTraining])
}

func TestBuild_CBEFoilsReusedOnlyAfterExhaustion(t *testing.T) {
	// phase 1 trains on pairs 1-4 only, so 6 probes must reuse foils
	cat := testCatalog(t, stimulus.ClassifyConfig{TrainingPhase: 1, Subphase: 1})
	foils, err := probeFoils(randdraw.New(2), cat, ProbeCBE, 6)
	require.NoError(t, err)
	require.Len(t, foils, 6)
	counts := map[string]int{}
	for _, f := range foils {
		counts[f.ID]++
	}
	assert.Len(t, counts, 4)
	for id, n := range counts {
		assert.LessOrEqual(t, n, 2, id)
	}
}

func TestBuild_FMProbesShareFoil(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{Subphase: 2})
	fm, ok := cat.FMFoil()
	require.True(t, ok)

	plan := build(t, cat, Design{Trials: 96, ProbeCount: 4, ProbeKind: ProbeFM}, 8)
	n := 0
	for _, tr := range plan.Trials {
		if tr.Category != CategoryProbeFM {
			assert.NotEqual(t, fm.ID, tr.Foil.ID, "FM foil leaked into training trial %d", tr.Index)
			continue
		}
		n++
		assert.Equal(t, fm.ID, tr.Foil.ID)
		assert.Equal(t, "FM.1", tr.ProbeLabel)
	}
	assert.Equal(t, 4, n)
}

func TestBuild_ForcedChoiceWindow(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{})
	fc := []string{"S5_Phase2", "S6_Phase2"}
	plan := build(t, cat, Design{Trials: 96, ForcedChoice: fc}, 5)

	assert.Equal(t, Window{From: 1, To: 47}, plan.Design.ForcedChoiceWindow)
	for _, tr := range plan.Trials {
		if tr.Index <= 47 {
			assert.Equal(t, CategoryForcedChoice, tr.Category, "trial %d", tr.Index)
			assert.Contains(t, fc, tr.Sample.ID)
			assert.True(t, tr.Category.Reinforced())
		} else {
			assert.Equal(t, CategoryTraining, tr.Category, "trial %d", tr.Index)
		}
	}

	_, err := New(randdraw.New(1), nil).Build(cat, Design{Trials: 96, ForcedChoice: []string{"S12_Phase4"}})
	var cfgErr *stimulus.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestBuild_FoilGroups(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{})
	groups := []FoilGroup{
		{Name: "FF", Samples: PairRange{1, 4}, Foils: PairRange{1, 4}},
		{Name: "FN", Samples: PairRange{5, 8}, Foils: PairRange{1, 4}},
	}
	plan := build(t, cat, Design{Trials: 48, FoilGroups: groups}, 6)
	for _, tr := range plan.Trials {
		assert.LessOrEqual(t, tr.Foil.Pair, 4, "trial %d", tr.Index)
		if tr.Sample.Pair <= 4 {
			assert.Equal(t, "FF", tr.FoilGroup)
		} else {
			assert.Equal(t, "FN", tr.FoilGroup)
		}
	}

	// An impossible group surfaces as a bounded, typed failure.
	_, err := New(randdraw.New(1), nil).Build(cat, Design{
		Trials:      10,
		MaxAttempts: 50,
		FoilGroups:  []FoilGroup{{Name: "X", Samples: PairRange{1, 8}, Foils: PairRange{40, 50}}},
	})
	var cfgErr *stimulus.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.ErrorIs(t, err, randdraw.ErrConstraintUnsatisfiable)
}

func TestBuild_DeterministicBySeed(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{Subphase: 1})
	d := Design{Trials: 96, ProbeCount: 4, ProbeKind: ProbeCBE, SampleRatio: VariableRatio(3, 8)}

	a := build(t, cat, d, 77)
	b := build(t, cat, d, 77)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different plans (-a +b):\n%s", diff)
	}
	c := build(t, cat, d, 78)
	assert.NotEmpty(t, cmp.Diff(a.Trials, c.Trials))
}

func TestBuild_Autoshaping(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{})
	plan := build(t, cat, Design{Mode: ModeAutoshaping, Trials: 90, SideMultiplicity: 10}, 2)
	require.Equal(t, 90, plan.Len())

	counts := map[Side]int{}
	for _, tr := range plan.Trials {
		assert.Nil(t, tr.Foil)
		assert.Equal(t, CategoryAutoshaping, tr.Category)
		assert.Equal(t, 1, tr.SampleRatio)
		counts[tr.CorrectSide]++
	}
	assert.Equal(t, 30, counts[SideLeft])
	assert.Equal(t, 30, counts[SideCenter])
	assert.Equal(t, 30, counts[SideRight])

	_, err := New(randdraw.New(1), nil).Build(cat, Design{Mode: ModeAutoshaping, Trials: 10, ProbeCount: 1, ProbeKind: ProbeCBE})
	assert.Error(t, err)
}

func TestBuild_Familiarization(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{TrainingPhase: 1})
	plan := build(t, cat, Design{Mode: ModeFamiliarization}, 12)

	comps := cat.Comparisons(stimulus.CategoryTraining)
	require.Equal(t, len(comps)*6, plan.Len())
	type tally struct{ left, right int }
	seen := map[string]*tally{}
	for _, tr := range plan.Trials {
		assert.False(t, tr.HasSample())
		assert.Equal(t, 2, tr.ComparisonRatio)
		assert.Equal(t, CategoryFamiliarization, tr.Category)
		tl, ok := seen[tr.Correct.ID]
		if !ok {
			tl = &tally{}
			seen[tr.Correct.ID] = tl
		}
		if tr.CorrectSide == SideLeft {
			tl.left++
		} else {
			tl.right++
		}
	}
	require.Len(t, seen, len(comps))
	for id, tl := range seen {
		assert.Equal(t, 3, tl.left, id)
		assert.Equal(t, 3, tl.right, id)
	}
}

func TestBuild_FamiliarizationFromComparisonsOnly(t *testing.T) {
	items := stimulus.FromNames([]string{"C1_Phase1.bmp", "C2_Phase1.bmp", "C3_Phase1.bmp", "C4_Phase1.bmp"})
	cat, err := stimulus.Classify(items, stimulus.ClassifyConfig{Subject: "Jagger", TrainingPhase: 1, ComparisonsOnly: true},
		nil, randdraw.New(1), nil)
	require.NoError(t, err)

	plan := build(t, cat, Design{Mode: ModeFamiliarization, Presentations: 2}, 3)
	require.Equal(t, 8, plan.Len())
	for _, tr := range plan.Trials {
		assert.False(t, tr.HasSample())
	}
}

func TestBuild_Association(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{TrainingPhase: 1})
	d := Design{Mode: ModeAssociation, TrainingBlocks: 2, TestBlocks: 3, InterleaveMin: 1, InterleaveMax: 2}
	plan := build(t, cat, d, 21)
	require.Equal(t, 2*4+3*4, plan.Len())

	var (
		tests    []TrialSpec
		run      int
		testFoil = map[string]map[string]bool{}
	)
	for i, tr := range plan.Trials {
		assert.Equal(t, i+1, tr.Index)
		assert.Contains(t, []Side{SideLeft, SideRight}, tr.CorrectSide)
		assert.Equal(t, tr.Sample.Pair, tr.Correct.Pair)
		switch tr.Category {
		case CategoryAssociation:
			assert.Nil(t, tr.Foil, "trial %d", tr.Index)
			run++
		case CategoryAssociationTest:
			require.NotNil(t, tr.Foil, "trial %d", tr.Index)
			assert.NotEqual(t, tr.Sample.Pair, tr.Foil.Pair)
			assert.LessOrEqual(t, run, 2, "training trials before test trial %d", tr.Index)
			run = 0
			if testFoil[tr.Sample.ID] == nil {
				testFoil[tr.Sample.ID] = map[string]bool{}
			}
			assert.False(t, testFoil[tr.Sample.ID][tr.Foil.ID], "foil %s repeated for %s", tr.Foil.ID, tr.Sample.ID)
			testFoil[tr.Sample.ID][tr.Foil.ID] = true
			tests = append(tests, tr)
		default:
			t.Fatalf("trial %d: unexpected category %s", tr.Index, tr.Category)
		}
	}
	assert.Equal(t, CategoryAssociation, plan.Trials[0].Category)
	require.Len(t, tests, 12)
	for b := 0; b < 3; b++ {
		block := map[int]bool{}
		for _, tr := range tests[b*4 : (b+1)*4] {
			block[tr.Sample.Pair] = true
		}
		assert.Len(t, block, 4, "test block %d shows every sample once", b+1)
	}

	// defaults ask for four test blocks, more than three other comparisons allow
	_, err := New(randdraw.New(1), nil).Build(cat, Design{Mode: ModeAssociation})
	var cfgErr *stimulus.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestBuild_FamiliarityMarks(t *testing.T) {
	cat := testCatalog(t, stimulus.ClassifyConfig{})
	groups := []FoilGroup{{Name: "NF", Samples: PairRange{5, 8}, Foils: PairRange{1, 4}}}
	plan := build(t, cat, Design{Trials: 24, FoilGroups: groups, FamiliarPairs: PairRange{1, 4}}, 9)

	mark := func(pair int) string {
		if pair <= 4 {
			return "F"
		}
		return "N"
	}
	for _, tr := range plan.Trials {
		assert.Equal(t, mark(tr.Correct.Pair), tr.ComparisonFamiliarity, "trial %d", tr.Index)
		assert.Equal(t, mark(tr.Foil.Pair), tr.FoilFamiliarity, "trial %d", tr.Index)
	}

	plain := build(t, cat, Design{Trials: 4}, 9)
	assert.Empty(t, plain.Trials[0].ComparisonFamiliarity)
}

func TestBuild_SinglePairFailsFast(t *testing.T) {
	items := stimulus.FromNames([]string{"S1_P1.bmp", "C1_P1.bmp"})
	cat, err := stimulus.Classify(items, stimulus.ClassifyConfig{Subject: "A", TrainingPhase: 1}, nil, randdraw.New(1), nil)
	require.NoError(t, err)

	_, err = New(randdraw.New(1), nil).Build(cat, Design{Trials: 10})
	var cfgErr *stimulus.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestRatioPolicy(t *testing.T) {
	src := randdraw.New(1)
	assert.Equal(t, 4, FixedRatio(4).Draw(src))
	assert.Equal(t, 1, RatioPolicy{}.Draw(src))
	assert.Equal(t, "VR3-8", VariableRatio(3, 8).String())
	assert.Error(t, VariableRatio(8, 3).Validate())
	assert.Error(t, RatioPolicy{Fixed: -1}.Validate())
}
