package planner

import (
	"fmt"

	"github.com/blaisdelllab/operant/internal/randdraw"
	"github.com/blaisdelllab/operant/internal/stimulus"
)

// #region enums
// Mode selects the trial structure a Design produces.
type Mode string

const (
	ModeMatchToSample   Mode = "match_to_sample"
	ModeAutoshaping     Mode = "autoshaping"
	ModeFamiliarization Mode = "familiarization"
	ModeAssociation     Mode = "association"
)

// ProbeKind selects how probe-trial foils are chosen.
type ProbeKind string

const (
	ProbeNone ProbeKind = ""
	ProbeCBE  ProbeKind = "CBE"
	ProbeFM   ProbeKind = "FM"
)

// Side is a key location on the display.
type Side string

const (
	SideLeft   Side = "left"
	SideRight  Side = "right"
	SideCenter Side = "center"
)

// Opposite returns the other comparison side. Center has no opposite.
func (s Side) Opposite() Side {
	switch s {
	case SideLeft:
		return SideRight
	case SideRight:
		return SideLeft
	default:
		return s
	}
}

// TrialCategory classifies a trial for routing and reporting.
type TrialCategory string

const (
	CategoryTraining        TrialCategory = "training"
	CategoryForcedChoice    TrialCategory = "forced_choice"
	CategoryProbeCBE        TrialCategory = "probe_CBE"
	CategoryProbeFM         TrialCategory = "probe_FM"
	CategoryAutoshaping     TrialCategory = "autoshaping"
	CategoryFamiliarization TrialCategory = "familiarization"
	CategoryAssociation     TrialCategory = "association"      // sample with its comparison alone
	CategoryAssociationTest TrialCategory = "association_test" // comparison against a familiar foil
)

// IsProbe reports whether the trial is a probe.
func (c TrialCategory) IsProbe() bool {
	return c == CategoryProbeCBE || c == CategoryProbeFM
}

// Reinforced reports whether a correct response on this category earns food.
func (c TrialCategory) Reinforced() bool { return !c.IsProbe() }

// #endregion enums

// #region ratio
// RatioPolicy is a response-ratio requirement: Fixed when positive,
// otherwise uniform in [Min, Max]. The zero value requires one response.
type RatioPolicy struct {
	Fixed int `json:"fixed,omitempty"`
	Min   int `json:"min,omitempty"`
	Max   int `json:"max,omitempty"`
}

// FixedRatio returns a policy that always requires n responses.
func FixedRatio(n int) RatioPolicy { return RatioPolicy{Fixed: n} }

// VariableRatio returns a policy drawing uniformly from [lo, hi].
func VariableRatio(lo, hi int) RatioPolicy { return RatioPolicy{Min: lo, Max: hi} }

// Draw returns the requirement for one trial.
func (r RatioPolicy) Draw(src *randdraw.Source) int {
	switch {
	case r.Fixed > 0:
		return r.Fixed
	case r.Min > 0 && r.Max >= r.Min:
		return src.IntRange(r.Min, r.Max)
	default:
		return 1
	}
}

// Validate rejects negative or inverted bounds.
func (r RatioPolicy) Validate() error {
	if r.Fixed < 0 || r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("ratio must not be negative: %+v", r)
	}
	if r.Fixed == 0 && r.Max < r.Min {
		return fmt.Errorf("ratio range inverted: %d..%d", r.Min, r.Max)
	}
	return nil
}

func (r RatioPolicy) String() string {
	switch {
	case r.Fixed > 0:
		return fmt.Sprintf("FR%d", r.Fixed)
	case r.Min > 0 && r.Max >= r.Min:
		return fmt.Sprintf("VR%d-%d", r.Min, r.Max)
	default:
		return "FR1"
	}
}

// #endregion ratio

// #region design
// Window is an inclusive range of trial indices. The zero value is empty.
type Window struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Contains reports whether i lies in the window.
func (w Window) Contains(i int) bool { return w.From > 0 && i >= w.From && i <= w.To }

// PairRange is an inclusive range of pair numbers.
type PairRange struct {
	Lo int `json:"lo" yaml:"lo"`
	Hi int `json:"hi" yaml:"hi"`
}

func (r PairRange) contains(p int) bool { return p >= r.Lo && p <= r.Hi }

func (r PairRange) set() bool { return r.Hi > 0 }

// Validate rejects inverted or negative ranges.
func (r PairRange) Validate() error {
	if r.Lo < 0 || r.Hi < r.Lo {
		return fmt.Errorf("pair range %d..%d is invalid", r.Lo, r.Hi)
	}
	return nil
}

// FoilGroup restricts training foils for samples in Samples to comparisons
// whose pair lies in Foils. Used for familiarity-controlled designs.
type FoilGroup struct {
	Name    string    `json:"name" yaml:"name"`
	Samples PairRange `json:"samples" yaml:"samples"`
	Foils   PairRange `json:"foils" yaml:"foils"`
}

// Design declares what a session plan must contain.
type Design struct {
	Mode                  Mode        `json:"mode"`
	Trials                int         `json:"trials"`
	ProbeCount            int         `json:"probe_count,omitempty"`
	ProbeKind             ProbeKind   `json:"probe_kind,omitempty"`
	ForcedChoice          []string    `json:"forced_choice,omitempty"` // sample IDs
	ForcedChoiceWindow    Window      `json:"forced_choice_window,omitempty"`
	SampleRatio           RatioPolicy `json:"sample_ratio"`
	ComparisonRatio       int         `json:"comparison_ratio,omitempty"`
	SideMultiplicity      int         `json:"side_multiplicity,omitempty"`
	MaxAttempts           int         `json:"max_attempts,omitempty"`
	Presentations         int         `json:"presentations,omitempty"`
	SampleVisibleInChoice bool        `json:"sample_visible_in_choice,omitempty"`
	AutoshapeLocations    []Side      `json:"autoshape_locations,omitempty"`
	FoilGroups            []FoilGroup `json:"foil_groups,omitempty"`
	FamiliarPairs         PairRange   `json:"familiar_pairs,omitempty"` // marks comparisons F or N

	// association sessions
	TrainingBlocks int `json:"training_blocks,omitempty"`
	TestBlocks     int `json:"test_blocks,omitempty"`
	InterleaveMin  int `json:"interleave_min,omitempty"` // training trials before each test trial
	InterleaveMax  int `json:"interleave_max,omitempty"`
}

// familiarity returns "F" for a pair inside FamiliarPairs, "N" outside it
// and "" when no range is configured.
func (d Design) familiarity(pair int) string {
	switch {
	case !d.FamiliarPairs.set():
		return ""
	case d.FamiliarPairs.contains(pair):
		return "F"
	default:
		return "N"
	}
}

// WithDefaults fills unset fields.
func (d Design) WithDefaults() Design {
	if d.Mode == "" {
		d.Mode = ModeMatchToSample
	}
	if d.ComparisonRatio < 1 {
		if d.Mode == ModeFamiliarization {
			d.ComparisonRatio = 2
		} else {
			d.ComparisonRatio = 1
		}
	}
	if d.SideMultiplicity < 1 {
		d.SideMultiplicity = max(1, d.Trials/12)
	}
	if d.MaxAttempts < 1 {
		d.MaxAttempts = 1000
	}
	if d.Presentations < 1 {
		d.Presentations = 6
	}
	if len(d.ForcedChoice) > 0 && d.ForcedChoiceWindow == (Window{}) {
		d.ForcedChoiceWindow = Window{From: 1, To: d.Trials/2 - 1}
	}
	if len(d.AutoshapeLocations) == 0 {
		d.AutoshapeLocations = []Side{SideLeft, SideCenter, SideRight}
	}
	if d.Mode == ModeAssociation {
		if d.TrainingBlocks == 0 && d.TestBlocks == 0 {
			d.TrainingBlocks, d.TestBlocks = 6, 4
		}
		if d.InterleaveMin == 0 && d.InterleaveMax == 0 {
			d.InterleaveMin, d.InterleaveMax = 1, 2
		}
	}
	return d
}

func (d Design) validate() error {
	switch d.Mode {
	case ModeMatchToSample, ModeAutoshaping, ModeFamiliarization, ModeAssociation:
	default:
		return stimulus.Configf("unknown mode %q", d.Mode)
	}
	derived := d.Mode == ModeFamiliarization || d.Mode == ModeAssociation
	if d.Trials < 0 || (!derived && d.Trials < 1) {
		return stimulus.Configf("trial count must be positive, got %d", d.Trials)
	}
	if d.ProbeCount < 0 {
		return stimulus.Configf("probe count must not be negative, got %d", d.ProbeCount)
	}
	if d.ProbeCount > 0 && d.Mode != ModeMatchToSample {
		return stimulus.Configf("probe trials require match-to-sample mode")
	}
	if d.ProbeCount > 0 && d.ProbeKind == ProbeNone {
		return stimulus.Configf("probe count %d without a probe kind", d.ProbeCount)
	}
	if err := d.SampleRatio.Validate(); err != nil {
		return &stimulus.ConfigurationError{Reason: "sample ratio", Err: err}
	}
	for _, g := range d.FoilGroups {
		if g.Name == "" {
			return stimulus.Configf("foil group without a name")
		}
		if err := g.Samples.Validate(); err != nil {
			return &stimulus.ConfigurationError{Reason: "foil group " + g.Name + " samples", Err: err}
		}
		if err := g.Foils.Validate(); err != nil {
			return &stimulus.ConfigurationError{Reason: "foil group " + g.Name + " foils", Err: err}
		}
	}
	if d.FamiliarPairs != (PairRange{}) {
		if err := d.FamiliarPairs.Validate(); err != nil {
			return &stimulus.ConfigurationError{Reason: "familiar pairs", Err: err}
		}
	}
	if d.Mode == ModeAssociation {
		if d.TrainingBlocks < 0 || d.TestBlocks < 0 || d.TrainingBlocks+d.TestBlocks == 0 {
			return stimulus.Configf("association needs training or test blocks, got %d and %d", d.TrainingBlocks, d.TestBlocks)
		}
		if d.InterleaveMin < 0 || d.InterleaveMax < d.InterleaveMin {
			return stimulus.Configf("interleave range %d..%d is invalid", d.InterleaveMin, d.InterleaveMax)
		}
	}
	return nil
}

// #endregion design

// #region trial
// TrialSpec is the immutable content of one trial.
type TrialSpec struct {
	Index           int            `json:"index"`
	Sample          stimulus.Item  `json:"sample"`
	Correct         stimulus.Item  `json:"correct"`
	Foil            *stimulus.Item `json:"foil,omitempty"`
	CorrectSide     Side           `json:"correct_side"`
	Category        TrialCategory  `json:"category"`
	ProbeLabel      string         `json:"probe_label,omitempty"`
	FoilGroup       string         `json:"foil_group,omitempty"`
	SampleRatio     int            `json:"sample_ratio"`
	ComparisonRatio int            `json:"comparison_ratio"`

	ComparisonFamiliarity string `json:"comparison_familiarity,omitempty"`
	FoilFamiliarity       string `json:"foil_familiarity,omitempty"`
}

// HasSample reports whether the trial opens with a sample phase.
func (t TrialSpec) HasSample() bool { return t.Sample.ID != "" }

// Left returns the item on the left comparison key, if any.
func (t TrialSpec) Left() (stimulus.Item, bool) { return t.at(SideLeft) }

// Right returns the item on the right comparison key, if any.
func (t TrialSpec) Right() (stimulus.Item, bool) { return t.at(SideRight) }

func (t TrialSpec) at(side Side) (stimulus.Item, bool) {
	if t.CorrectSide == side {
		return t.Correct, true
	}
	if t.Foil != nil && side != SideCenter && t.CorrectSide.Opposite() == side {
		return *t.Foil, true
	}
	return stimulus.Item{}, false
}

// #endregion trial

// #region plan
// SessionPlan is the ordered trial sequence for one session. Read-only once built.
type SessionPlan struct {
	Trials       []TrialSpec `json:"trials"`
	ProbeIndices []int       `json:"probe_indices,omitempty"`
	Design       Design      `json:"design"`
	Seed         uint64      `json:"seed"`
}

// Len returns the number of planned trials.
func (p *SessionPlan) Len() int { return len(p.Trials) }

// Trial returns the 1-based trial i.
func (p *SessionPlan) Trial(i int) (TrialSpec, bool) {
	if p == nil || i < 1 || i > len(p.Trials) {
		return TrialSpec{}, false
	}
	return p.Trials[i-1], true
}

// CountByCategory tallies trials per category.
func (p *SessionPlan) CountByCategory() map[TrialCategory]int {
	out := map[TrialCategory]int{}
	for _, t := range p.Trials {
		out[t.Category]++
	}
	return out
}

// #endregion plan
