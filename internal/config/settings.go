package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/blaisdelllab/operant/internal/planner"
	"github.com/blaisdelllab/operant/internal/recorder"
	"github.com/blaisdelllab/operant/internal/stimulus"
)

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid session settings")

// MaxPhase is the highest training phase (192 pairs).
const MaxPhase = 7

// Settings is the operator's intake for one session.
type Settings struct {
	Subject             string
	Phase               int
	Subphase            stimulus.Subphase
	Mode                planner.Mode // empty picks autoshaping for phase 0, match-to-sample otherwise
	ManualRatio         int          // 0 draws the sample ratio per trial
	ForcedChoice        bool
	ForcedChoiceStimuli []string
	NewOnly             bool
	NewOld              stimulus.NewOld
	Probes              int // 0 uses the configured count
	Trials              int // 0 uses the configured phase limit
	SampleVisible       bool
	RecordData          bool
	Seed                uint64
	Date                time.Time
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
}

// Validate applies the control-panel checks. When cfg lists subjects the
// subject must be one of them.
func (s Settings) Validate(cfg *Config) error {
	if s.Subject == "" {
		return invalid("subject is required")
	}
	if cfg != nil && len(cfg.Subjects) > 0 && !cfg.KnownSubject(s.Subject) {
		return invalid("unknown subject %q", s.Subject)
	}
	if s.Phase < 0 || s.Phase > MaxPhase {
		return invalid("training phase %d out of range 0..%d", s.Phase, MaxPhase)
	}
	if !s.Subphase.Valid() {
		return invalid("unknown subphase %d", s.Subphase)
	}

	exclusive := 0
	for _, on := range []bool{s.NewOld != stimulus.NewOldNone, s.ForcedChoice, s.NewOnly} {
		if on {
			exclusive++
		}
	}
	if exclusive > 1 {
		return invalid("new/old, forced choice and new-stimuli-only cannot be combined")
	}
	switch s.NewOld {
	case stimulus.NewOldNone, stimulus.NewOldNew, stimulus.NewOldOld:
	default:
		return invalid("new/old must be New or Old, got %q", s.NewOld)
	}
	if s.NewOld != stimulus.NewOldNone && s.Phase <= 1 {
		return invalid("new/old sessions need an earlier phase; phase %d has no old stimuli", s.Phase)
	}
	if s.ForcedChoice {
		if s.Subphase != stimulus.SubphaseTraining || s.Phase == 0 {
			return invalid("forced choice only runs on training subphases after autoshaping")
		}
		if len(s.ForcedChoiceStimuli) == 0 {
			return invalid("forced choice needs at least one sample")
		}
	}
	if s.NewOnly && s.Subphase != stimulus.SubphaseTraining {
		return invalid("new-stimuli-only only runs on training subphases")
	}
	if s.Phase == 0 && s.Subphase != stimulus.SubphaseTraining {
		return invalid("autoshaping has no probe subphases")
	}
	switch s.Mode {
	case "", planner.ModeMatchToSample, planner.ModeAutoshaping:
	case planner.ModeFamiliarization, planner.ModeAssociation:
		if s.Subphase != stimulus.SubphaseTraining || s.ForcedChoice {
			return invalid("%s sessions have no probes or forced choice", s.Mode)
		}
	default:
		return invalid("unknown mode %q", s.Mode)
	}
	if s.ManualRatio < 0 || s.Probes < 0 || s.Trials < 0 {
		return invalid("ratio, probe count and trial count must not be negative")
	}
	return nil
}

// ClassifyConfig maps the settings onto stimulus classification.
func (s Settings) ClassifyConfig() stimulus.ClassifyConfig {
	return stimulus.ClassifyConfig{
		Subject:         s.Subject,
		TrainingPhase:   s.Phase,
		Subphase:        s.Subphase,
		NewStimuliOnly:  s.NewOnly,
		NewOld:          s.NewOld,
		Date:            s.date(),
		ComparisonsOnly: s.mode() == planner.ModeFamiliarization,
	}
}

// Design maps the settings onto a planner design.
func (s Settings) Design(cfg *Config) planner.Design {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	d := planner.Design{
		Mode:                  s.mode(),
		Trials:                s.Trials,
		SampleVisibleInChoice: s.SampleVisible,
	}
	derived := d.Mode == planner.ModeFamiliarization || d.Mode == planner.ModeAssociation
	if d.Trials == 0 && !derived {
		d.Trials = cfg.TrialLimit(s.Phase)
	}
	d.FamiliarPairs = cfg.Design.FamiliarPairs
	switch d.Mode {
	case planner.ModeMatchToSample:
		d.FoilGroups = append([]planner.FoilGroup(nil), cfg.Design.FoilGroups...)
	case planner.ModeAssociation:
		a := cfg.Design.Association
		d.TrainingBlocks, d.TestBlocks = a.TrainingBlocks, a.TestBlocks
		d.InterleaveMin, d.InterleaveMax = a.InterleaveMin, a.InterleaveMax
	}

	switch {
	case d.Mode == planner.ModeAutoshaping:
		d.SampleRatio = planner.FixedRatio(1)
	case s.ManualRatio > 0:
		d.SampleRatio = planner.FixedRatio(s.ManualRatio)
	default:
		d.SampleRatio = planner.VariableRatio(cfg.Trials.RatioMin, cfg.Trials.RatioMax)
	}

	if s.Subphase.IsProbe() && d.Mode == planner.ModeMatchToSample {
		d.ProbeCount = s.Probes
		if d.ProbeCount == 0 {
			d.ProbeCount = cfg.Trials.Probes
		}
		d.ProbeKind = planner.ProbeCBE
		if s.Subphase.IsFM() {
			d.ProbeKind = planner.ProbeFM
		}
	}
	if s.ForcedChoice {
		d.ForcedChoice = append([]string(nil), s.ForcedChoiceStimuli...)
	}
	return d
}

// Meta returns the per-row session context for the data sheet.
func (s Settings) Meta() recorder.Meta {
	return recorder.Meta{
		Subject:          s.Subject,
		TrainingPhase:    s.Phase,
		TrainingSubPhase: s.Subphase.Label(),
		ForcedChoice:     s.ForcedChoice,
		AllNewStimuli:    s.NewOnly,
		NewOld:           string(s.NewOld),
		Date:             s.date().Format("06-01-02"),
	}
}

func (s Settings) mode() planner.Mode {
	switch {
	case s.Mode != "":
		return s.Mode
	case s.Phase == 0:
		return planner.ModeAutoshaping
	default:
		return planner.ModeMatchToSample
	}
}

func (s Settings) date() time.Time {
	if s.Date.IsZero() {
		return time.Now()
	}
	return s.Date
}
