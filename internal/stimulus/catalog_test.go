package stimulus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaisdelllab/operant/internal/randdraw"
)

// pairs 1-4 phase 0, 5-6 phase 1, 7-10 phase 2, 11-13 phase 3, 14-15 phase 4
func fixtureItems(t *testing.T) []Item {
	t.Helper()
	phases := map[int]int{}
	for p := 1; p <= 4; p++ {
		phases[p] = 0
	}
	phases[5], phases[6] = 1, 1
	for p := 7; p <= 10; p++ {
		phases[p] = 2
	}
	for p := 11; p <= 13; p++ {
		phases[p] = 3
	}
	phases[14], phases[15] = 4, 4

	var names []string
	for pair, phase := range phases {
		names = append(names,
			fmt.Sprintf("S%d_Phase%d.bmp", pair, phase),
			fmt.Sprintf("C%d_Phase%d.bmp", pair, phase))
	}
	names = append(names, "Thumbs.db", "readme.txt")
	items := FromNames(names)
	require.Len(t, items, 30)
	return items
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestParseFilename(t *testing.T) {
	cases := []struct {
		name  string
		ok    bool
		role  Role
		pair  int
		phase int
	}{
		{"S10_Phase3.bmp", true, RoleSample, 10, 3},
		{"C2_Phase1.png", true, RoleComparison, 2, 1},
		{"S7_familiar_2.jpg", true, RoleSample, 7, 2},
		{"S1_Phase.bmp", false, "", 0, 0},
		{"X1_Phase1.bmp", false, "", 0, 0},
		{"notes.txt", false, "", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it, ok := ParseFilename(tc.name)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.role, it.Role)
			assert.Equal(t, tc.pair, it.Pair)
			assert.Equal(t, tc.phase, it.Phase)
			assert.Equal(t, tc.name, it.File)
		})
	}
}

func TestFromNames_Ordering(t *testing.T) {
	items := FromNames([]string{"C2_P0.bmp", "S2_P0.bmp", "C1_P0.bmp", "S1_P0.bmp"})
	assert.Equal(t, []string{"S1_P0", "C1_P0", "S2_P0", "C2_P0"}, ids(items))
	assert.Equal(t, "C1_P0", items[0].PartnerID())
	assert.Equal(t, "S1_P0", items[1].PartnerID())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"S1_Phase0.bmp", "C1_Phase0.bmp", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "S9_Phase0.bmp"), 0o755))

	items, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, filepath.Join(dir, "S1_Phase0.bmp"), items[0].Asset)

	_, err = LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestCheckPairs_Unpaired(t *testing.T) {
	items := FromNames([]string{"S1_P0.bmp", "C1_P0.bmp", "S2_P0.bmp"})
	err := CheckPairs(items)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Reason, "pair 2")
}

func TestClassify_ComparisonsOnlyFolder(t *testing.T) {
	items := FromNames([]string{"C1_Phase1.bmp", "C2_Phase1.bmp", "C3_Phase1.bmp", "C4_Phase1.bmp"})

	_, err := Classify(items, ClassifyConfig{Subject: "Jubilee", TrainingPhase: 1}, nil, randdraw.New(1), nil)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "sample/comparison pairs are required by default")

	cat, err := Classify(items, ClassifyConfig{Subject: "Jubilee", TrainingPhase: 1, ComparisonsOnly: true}, nil, randdraw.New(1), nil)
	require.NoError(t, err)
	assert.Len(t, cat.Comparisons(CategoryTraining), 4)
	assert.Empty(t, cat.Samples(CategoryTraining))

	dup := FromNames([]string{"C1_Phase1.bmp", "C1_Extra1.bmp"})
	_, err = Classify(dup, ClassifyConfig{Subject: "Jubilee", TrainingPhase: 1, ComparisonsOnly: true}, nil, randdraw.New(1), nil)
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Reason, "pair 1")

	_, err = Classify(nil, ClassifyConfig{Subject: "Jubilee", TrainingPhase: 1, ComparisonsOnly: true}, nil, randdraw.New(1), nil)
	assert.Error(t, err)
}

func TestClassify_Default(t *testing.T) {
	items := fixtureItems(t)

	t.Run("phase 2 trains on phases 0-2", func(t *testing.T) {
		cat, err := Classify(items, ClassifyConfig{Subject: "Jubilee", TrainingPhase: 2}, nil, randdraw.New(1), nil)
		require.NoError(t, err)
		assert.Len(t, cat.Samples(CategoryTraining), 10)
		assert.Len(t, cat.Comparisons(CategoryTraining), 10)
		assert.Equal(t, CategoryExcluded, cat.Category("S11_Phase3"))
		assert.Empty(t, cat.ProbeLabel())
		_, ok := cat.FMFoil()
		assert.False(t, ok)
	})

	t.Run("phase 0 also trains on phase 1", func(t *testing.T) {
		cat, err := Classify(items, ClassifyConfig{Subject: "Jubilee", TrainingPhase: 0}, nil, randdraw.New(1), nil)
		require.NoError(t, err)
		assert.Len(t, cat.Samples(CategoryTraining), 6)
		assert.Equal(t, CategoryExcluded, cat.Category("S7_Phase2"))
	})

	t.Run("pair lookup", func(t *testing.T) {
		cat, err := Classify(items, ClassifyConfig{Subject: "Jubilee", TrainingPhase: 1}, nil, randdraw.New(1), nil)
		require.NoError(t, err)
		s, ok := cat.Lookup("S5_Phase1")
		require.True(t, ok)
		c, ok := cat.PairOf(s)
		require.True(t, ok)
		assert.Equal(t, "C5_Phase1", c.ID)
	})
}

func TestClassify_NewOnlyAndNewOld(t *testing.T) {
	items := fixtureItems(t)

	cat, err := Classify(items, ClassifyConfig{Subject: "Bon Jovi", TrainingPhase: 2, NewStimuliOnly: true}, nil, randdraw.New(1), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"S7_Phase2", "S8_Phase2", "S9_Phase2", "S10_Phase2"}, ids(cat.Samples(CategoryTraining)))
	assert.Len(t, cat.Comparisons(CategoryTraining), 10)
	assert.Equal(t, CategoryExcluded, cat.Category("S1_Phase0"))

	cat, err = Classify(items, ClassifyConfig{Subject: "Bon Jovi", TrainingPhase: 2, NewOld: NewOldOld}, nil, randdraw.New(1), nil)
	require.NoError(t, err)
	assert.Len(t, cat.Samples(CategoryTraining), 6)
	assert.Len(t, cat.Comparisons(CategoryTraining), 10)
	assert.Equal(t, CategoryExcluded, cat.Category("S7_Phase2"))

	cat, err = Classify(items, ClassifyConfig{Subject: "Bon Jovi", TrainingPhase: 2, NewOld: NewOldNew}, nil, randdraw.New(1), nil)
	require.NoError(t, err)
	assert.Len(t, cat.Samples(CategoryTraining), 4)
}

func TestClassify_ProbeTiers(t *testing.T) {
	items := fixtureItems(t)
	cases := []struct {
		sub   Subphase
		label string
		probe string
	}{
		{1, "CBE.1", "S11_Phase3"},
		{3, "CBE.2", "S12_Phase3"},
		{5, "CBE.3", "S13_Phase3"},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			cat, err := Classify(items, ClassifyConfig{Subject: "Zappa", TrainingPhase: 2, Subphase: tc.sub}, nil, randdraw.New(1), nil)
			require.NoError(t, err)
			assert.Equal(t, tc.label, cat.ProbeLabel())
			assert.Equal(t, []string{tc.probe}, ids(cat.Samples(CategoryProbe)))
			assert.Len(t, cat.Comparisons(CategoryProbe), 1)
		})
	}

	t.Run("tier beyond available pairs fails fast", func(t *testing.T) {
		_, err := Classify(items, ClassifyConfig{Subject: "Zappa", TrainingPhase: 3, Subphase: 5}, nil, randdraw.New(1), nil)
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
	})

	t.Run("unknown subphase", func(t *testing.T) {
		_, err := Classify(items, ClassifyConfig{Subject: "Zappa", TrainingPhase: 2, Subphase: 9}, nil, randdraw.New(1), nil)
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
	})
}

func TestClassify_FastMappingLedgerRoundTrip(t *testing.T) {
	items := fixtureItems(t)
	ledger := NewMemoryLedger()
	date := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	cfg := ClassifyConfig{Subject: "Evaristo", TrainingPhase: 2, Subphase: 2, Date: date}

	// 1. Four phase-4 items are eligible; each session takes a new one.
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		cat, err := Classify(items, cfg, ledger, randdraw.New(uint64(i)), nil)
		require.NoError(t, err)
		foil, ok := cat.FMFoil()
		require.True(t, ok)
		assert.Equal(t, 4, foil.Phase)
		assert.False(t, seen[foil.ID], "foil %s reused", foil.ID)
		seen[foil.ID] = true
		assert.Equal(t, CategoryFoilOnly, cat.Category(foil.ID))
		assert.Equal(t, "FM.1", cat.ProbeLabel())
	}

	entries := ledger.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "24-03-07", entries[0].Date)
	assert.Equal(t, "2.iii", entries[0].Phase)

	// 2. Exhausted ledger yields a typed error.
	_, err := Classify(items, cfg, ledger, randdraw.New(99), nil)
	var nef *NoEligibleFoilError
	require.True(t, errors.As(err, &nef))
	assert.Equal(t, "Evaristo", nef.Subject)

	// 3. Another subject is unaffected.
	other := cfg
	other.Subject = "Hendrix"
	_, err = Classify(items, other, ledger, randdraw.New(1), nil)
	assert.NoError(t, err)
}

func TestSelectFMFoil_LedgerWithoutExtension(t *testing.T) {
	items := fixtureItems(t)
	ledger := NewMemoryLedger(
		LedgerEntry{Subject: "Evaristo", Item: "S14_Phase4"},
		LedgerEntry{Subject: "Evaristo", Item: "C14_Phase4.bmp"},
		LedgerEntry{Subject: "Evaristo", Item: "S15_Phase4"},
	)
	foil, err := SelectFMFoil(items, ClassifyConfig{Subject: "Evaristo", TrainingPhase: 2, Subphase: 2}, ledger, randdraw.New(5))
	require.NoError(t, err)
	assert.Equal(t, "C15_Phase4", foil.ID)
}

func TestSelectFMFoil_RequiresLedger(t *testing.T) {
	_, err := SelectFMFoil(fixtureItems(t), ClassifyConfig{Subject: "A", TrainingPhase: 2, Subphase: 2}, nil, randdraw.New(1))
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestDryRunLedger(t *testing.T) {
	base := NewMemoryLedger(LedgerEntry{Subject: "A", Item: "S14_Phase4.bmp"})
	dry := DryRun(base)
	require.NoError(t, dry.Reserve(LedgerEntry{Subject: "A", Item: "C14_Phase4.bmp"}))

	used, err := dry.Used("A")
	require.NoError(t, err)
	assert.Len(t, used, 2)
	assert.Len(t, base.Entries(), 1)
}

func TestSubphase(t *testing.T) {
	assert.Equal(t, "Training", SubphaseTraining.Label())
	assert.Equal(t, "FM.3", Subphase(6).Label())
	assert.Equal(t, "vii", Subphase(6).Numeral())
	assert.True(t, Subphase(3).IsCBE())
	assert.False(t, Subphase(3).IsFM())
	assert.Equal(t, 2, Subphase(4).Tier())
	assert.False(t, Subphase(7).Valid())
}
