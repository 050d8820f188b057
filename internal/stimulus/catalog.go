package stimulus

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/randdraw"
)

// #region classify-config
// NewOld selects the sample subset of a new/old session.
type NewOld string

const (
	NewOldNone NewOld = ""
	NewOldNew  NewOld = "New"
	NewOldOld  NewOld = "Old"
)

// ClassifyConfig carries the session settings that decide each stimulus' category.
type ClassifyConfig struct {
	Subject           string
	TrainingPhase     int
	Subphase          Subphase
	NewStimuliOnly    bool
	NewOld            NewOld
	ProbePairsPerTier int // pairs promoted to probe items per CBE/FM tier
	Date              time.Time

	// ComparisonsOnly accepts a folder of comparisons without samples, as
	// used by familiarization sessions.
	ComparisonsOnly bool
}

func (c ClassifyConfig) probePairsPerTier() int {
	if c.ProbePairsPerTier < 1 {
		return 1
	}
	return c.ProbePairsPerTier
}

// #endregion classify-config

// #region catalog
// Catalog is the classified stimulus set for one session.
type Catalog struct {
	items      []Item
	byID       map[string]Item
	category   map[string]Category
	probeLabel string
	fmFoil     *Item
}

// Items returns every non-excluded item in pair order.
func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Lookup returns the item with the given ID if it was loaded.
func (c *Catalog) Lookup(id string) (Item, bool) {
	it, ok := c.byID[id]
	return it, ok
}

// Category returns the category of id; unknown IDs are excluded.
func (c *Catalog) Category(id string) Category {
	if cat, ok := c.category[id]; ok {
		return cat
	}
	return CategoryExcluded
}

// Samples returns the samples in cat, in pair order.
func (c *Catalog) Samples(cat Category) []Item { return c.filter(RoleSample, cat) }

// Comparisons returns the comparisons in cat, in pair order.
func (c *Catalog) Comparisons(cat Category) []Item { return c.filter(RoleComparison, cat) }

func (c *Catalog) filter(role Role, cat Category) []Item {
	var out []Item
	for _, it := range c.items {
		if it.Role == role && c.category[it.ID] == cat {
			out = append(out, it)
		}
	}
	return out
}

// PairOf returns the partner of it.
func (c *Catalog) PairOf(it Item) (Item, bool) {
	p, ok := c.byID[it.PartnerID()]
	return p, ok
}

// FMFoil returns the fast-mapping foil reserved for this session, if any.
func (c *Catalog) FMFoil() (Item, bool) {
	if c.fmFoil == nil {
		return Item{}, false
	}
	return *c.fmFoil, true
}

// ProbeLabel returns the probe label ("CBE.1", ...) or "" for training sessions.
func (c *Catalog) ProbeLabel() string { return c.probeLabel }

// Counts returns the number of items per category.
func (c *Catalog) Counts() map[Category]int {
	out := map[Category]int{}
	for _, it := range c.items {
		out[c.category[it.ID]]++
	}
	return out
}

// #endregion catalog

// #region classify
// Classify assigns every item to exactly one category for the session. For
// fast-mapping subphases it also selects and reserves a never-used foil in
// ledger. src drives the foil draw.
func Classify(all []Item, cfg ClassifyConfig, ledger Ledger, src *randdraw.Source, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	check := CheckPairs
	if cfg.ComparisonsOnly {
		check = CheckComparisons
	}
	if err := check(all); err != nil {
		return nil, err
	}
	if !cfg.Subphase.Valid() {
		return nil, Configf("unknown subphase %d", cfg.Subphase)
	}
	tp := cfg.TrainingPhase

	probePairs := map[int]bool{}
	if cfg.Subphase.IsProbe() {
		pairs := probePairSet(all, tp+1, cfg.Subphase.Tier(), cfg.probePairsPerTier())
		if len(pairs) == 0 {
			return nil, Configf("no phase %d pairs available for %s probes", tp+1, cfg.Subphase.Label())
		}
		for _, p := range pairs {
			probePairs[p] = true
		}
	}

	var fmFoil *Item
	if cfg.Subphase.IsFM() {
		foil, err := SelectFMFoil(all, cfg, ledger, src)
		if err != nil {
			return nil, err
		}
		fmFoil = &foil
		logger.Info("fast-mapping foil reserved",
			zap.String("subject", cfg.Subject),
			zap.String("foil", foil.ID))
	}

	c := &Catalog{
		byID:     make(map[string]Item, len(all)),
		category: make(map[string]Category, len(all)),
	}
	if cfg.Subphase.IsProbe() {
		c.probeLabel = cfg.Subphase.Label()
	}
	for _, it := range all {
		c.byID[it.ID] = it
		cat := classifyOne(it, cfg, probePairs, fmFoil)
		if cat == CategoryExcluded {
			continue
		}
		c.category[it.ID] = cat
		c.items = append(c.items, it)
	}
	c.fmFoil = fmFoil

	if err := c.validate(cfg); err != nil {
		return nil, err
	}
	logger.Debug("stimuli classified",
		zap.Int("training", c.Counts()[CategoryTraining]),
		zap.Int("probe", c.Counts()[CategoryProbe]),
		zap.Int("foil_only", c.Counts()[CategoryFoilOnly]))
	return c, nil
}

func classifyOne(it Item, cfg ClassifyConfig, probePairs map[int]bool, fmFoil *Item) Category {
	tp := cfg.TrainingPhase
	switch {
	case cfg.NewStimuliOnly:
		if it.Phase == tp || (it.Phase < tp && it.Role == RoleComparison) {
			return CategoryTraining
		}
		return CategoryExcluded
	case cfg.NewOld != NewOldNone:
		if it.Role == RoleComparison {
			if it.Phase <= tp {
				return CategoryTraining
			}
			return CategoryExcluded
		}
		if cfg.NewOld == NewOldNew && it.Phase == tp {
			return CategoryTraining
		}
		if cfg.NewOld == NewOldOld && it.Phase < tp {
			return CategoryTraining
		}
		return CategoryExcluded
	case it.Phase <= tp || (tp == 0 && it.Phase == 1):
		return CategoryTraining
	case it.Phase == tp+1 && probePairs[it.Pair]:
		return CategoryProbe
	case fmFoil != nil && it.ID == fmFoil.ID:
		return CategoryFoilOnly
	default:
		return CategoryExcluded
	}
}

// probePairSet returns the pair numbers promoted to probes for a tier: the
// tier-th group of perTier pairs among the given phase, by pair number.
func probePairSet(all []Item, phase, tier, perTier int) []int {
	seen := map[int]bool{}
	var pairs []int
	for _, it := range all {
		if it.Phase == phase && !seen[it.Pair] {
			seen[it.Pair] = true
			pairs = append(pairs, it.Pair)
		}
	}
	sort.Ints(pairs)
	lo := (tier - 1) * perTier
	if tier < 1 || lo >= len(pairs) {
		return nil
	}
	hi := lo + perTier
	if hi > len(pairs) {
		hi = len(pairs)
	}
	return pairs[lo:hi]
}

func (c *Catalog) validate(cfg ClassifyConfig) error {
	if cfg.ComparisonsOnly {
		if len(c.Comparisons(CategoryTraining)) == 0 {
			return Configf("no training comparisons for phase %d", cfg.TrainingPhase)
		}
		return nil
	}
	for _, it := range c.items {
		cat := c.category[it.ID]
		if it.Role != RoleSample || (cat != CategoryTraining && cat != CategoryProbe) {
			continue
		}
		partner, ok := c.byID[it.PartnerID()]
		if !ok {
			return Configf("sample %s has no paired comparison", it.ID)
		}
		if c.Category(partner.ID) == CategoryExcluded {
			return Configf("sample %s is active but its comparison %s is excluded", it.ID, partner.ID)
		}
	}
	if len(c.Samples(CategoryTraining)) == 0 {
		return Configf("no training samples for phase %d", cfg.TrainingPhase)
	}
	if cfg.Subphase.IsProbe() && len(c.Samples(CategoryProbe)) == 0 {
		return Configf("%s subphase has no probe samples", cfg.Subphase.Label())
	}
	if cfg.Subphase.IsCBE() && len(c.Comparisons(CategoryTraining)) == 0 {
		return Configf("%s needs training comparisons to serve as probe foils", cfg.Subphase.Label())
	}
	return nil
}

// #endregion classify

// #region fm-foil
// SelectFMFoil picks an item this subject has never been given as a
// fast-mapping foil and whose phase is strictly beyond the probe phase, then
// reserves it in ledger.
func SelectFMFoil(all []Item, cfg ClassifyConfig, ledger Ledger, src *randdraw.Source) (Item, error) {
	if ledger == nil {
		return Item{}, Configf("fast-mapping subphase requires a used-stimulus ledger")
	}
	used, err := ledger.Used(cfg.Subject)
	if err != nil {
		return Item{}, fmt.Errorf("read ledger: %w", err)
	}
	taken := make(map[string]bool, len(used))
	for _, e := range used {
		taken[stem(e.Item)] = true
	}

	var eligible []Item
	for _, it := range all {
		if taken[it.ID] {
			continue
		}
		if it.Phase > cfg.TrainingPhase+1 {
			eligible = append(eligible, it)
		}
	}
	foil, err := randdraw.Choice(src, eligible)
	if err != nil {
		return Item{}, &NoEligibleFoilError{Subject: cfg.Subject, Phase: cfg.TrainingPhase}
	}

	date := cfg.Date
	if date.IsZero() {
		date = time.Now()
	}
	entry := LedgerEntry{
		Subject: cfg.Subject,
		Item:    foil.File,
		Date:    date.Format("06-01-02"),
		Phase:   fmt.Sprintf("%d.%s", cfg.TrainingPhase, cfg.Subphase.Numeral()),
	}
	if err := ledger.Reserve(entry); err != nil {
		return Item{}, fmt.Errorf("reserve foil %s: %w", foil.ID, err)
	}
	return foil, nil
}

// ledger rows hold the file name, with or without extension
func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// #endregion fm-foil
