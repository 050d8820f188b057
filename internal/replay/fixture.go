package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/device"
	"github.com/blaisdelllab/operant/internal/display"
	"github.com/blaisdelllab/operant/internal/planner"
	"github.com/blaisdelllab/operant/internal/randdraw"
	"github.com/blaisdelllab/operant/internal/recorder"
	"github.com/blaisdelllab/operant/internal/session"
	"github.com/blaisdelllab/operant/internal/stimulus"
)

// #region fixture-types

// Fixture is a scripted headless session: stimuli, design, a sequence of
// operator and subject actions, and the expected result.
type Fixture struct {
	Description string             `json:"description"`
	Seed        uint64             `json:"seed"`
	Subject     string             `json:"subject"`
	Phase       int                `json:"phase"`
	Subphase    int                `json:"subphase"`
	NewOnly     bool               `json:"new_only,omitempty"`
	NewOld      string             `json:"new_old,omitempty"`
	Date        string             `json:"date,omitempty"` // 2006-01-02
	Stimuli     []string           `json:"stimuli"`
	Used        []FixtureLedgerRow `json:"used,omitempty"`
	Design      planner.Design     `json:"design"`
	Timing      FixtureTiming      `json:"timing"`
	Script      []Step             `json:"script"`
	Expected    Expected           `json:"expected"`
}

// FixtureLedgerRow is a ledger entry recorded before the session.
type FixtureLedgerRow struct {
	Subject string `json:"subject"`
	Item    string `json:"item"`
	Date    string `json:"date"`
	Phase   string `json:"phase"`
}

// FixtureTiming mirrors session.Timing in milliseconds.
type FixtureTiming struct {
	FirstITIMs      int `json:"first_iti_ms"`
	ITIMs           int `json:"iti_ms"`
	DelayMs         int `json:"delay_ms,omitempty"`
	HopperMs        int `json:"hopper_ms"`
	AutoReinforceMs int `json:"auto_reinforce_ms,omitempty"`
	SessionLimitMs  int `json:"session_limit_ms,omitempty"`
}

// Step is one scripted action.
//
//	begin                 press space
//	advance  ms           move the clock
//	idle                  fire timers until none remain
//	peck     tag          peck an uncovered point of a tagged target
//	click    x, y         peck a screen point
//	sample                peck the lit sample/autoshaping key until its ratio is met
//	choose   choice       peck the "correct" or "wrong" comparison until its ratio is met
//	cancel                operator stop
type Step struct {
	Action string `json:"action"`
	Tag    string `json:"tag,omitempty"`
	X      int    `json:"x,omitempty"`
	Y      int    `json:"y,omitempty"`
	Ms     int    `json:"ms,omitempty"`
	Choice string `json:"choice,omitempty"`
	Repeat int    `json:"repeat,omitempty"`
}

// Expected is what the fixture asserts about the finished run.
type Expected struct {
	Reason         string   `json:"reason"`
	Trials         int      `json:"trials"`
	Reinforced     int      `json:"reinforced"`
	AutoReinforced int      `json:"auto_reinforced"`
	Correct        int      `json:"correct"`
	Incorrect      int      `json:"incorrect"`
	Labels         []string `json:"labels,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToTiming converts fixture milliseconds to session timing.
func (ft FixtureTiming) ToTiming() session.Timing {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return session.Timing{
		FirstITI:        ms(ft.FirstITIMs),
		ITI:             ms(ft.ITIMs),
		PostSampleDelay: ms(ft.DelayMs),
		Hopper:          ms(ft.HopperMs),
		AutoReinforce:   ms(ft.AutoReinforceMs),
		SessionLimit:    ms(ft.SessionLimitMs),
	}
}

// ClassifyConfig converts the fixture's session settings.
func (f *Fixture) ClassifyConfig() (stimulus.ClassifyConfig, error) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if f.Date != "" {
		d, err := time.Parse("2006-01-02", f.Date)
		if err != nil {
			return stimulus.ClassifyConfig{}, fmt.Errorf("fixture date: %w", err)
		}
		date = d
	}
	return stimulus.ClassifyConfig{
		Subject:         f.Subject,
		TrainingPhase:   f.Phase,
		Subphase:        stimulus.Subphase(f.Subphase),
		NewStimuliOnly:  f.NewOnly,
		NewOld:          stimulus.NewOld(f.NewOld),
		Date:            date,
		ComparisonsOnly: f.Design.Mode == planner.ModeFamiliarization,
	}, nil
}

// #endregion fixture-loader

// #region run
// Result is a finished fixture run.
type Result struct {
	Plan    *planner.SessionPlan
	Events  []recorder.Event
	Done    bool
	Outcome session.Outcome
	Records []TrialRecord
	Summary Summary
	Ledger  []stimulus.LedgerEntry
}

// Run plans the fixture's session and drives it headless on a virtual clock.
func Run(f *Fixture, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := f.ClassifyConfig()
	if err != nil {
		return nil, err
	}
	ledger := stimulus.NewMemoryLedger()
	for _, u := range f.Used {
		_ = ledger.Reserve(stimulus.LedgerEntry{Subject: u.Subject, Item: u.Item, Date: u.Date, Phase: u.Phase})
	}

	src := randdraw.New(f.Seed)
	cat, err := stimulus.Classify(stimulus.FromNames(f.Stimuli), cfg, ledger, src, logger)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	plan, err := planner.New(src, logger).Build(cat, f.Design)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	clock := session.NewManualScheduler(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	surface := display.NewRecorder()
	sink := recorder.NewMemory()
	m, err := session.New(session.Options{
		Plan:      plan,
		Display:   surface,
		Device:    device.NewHopper(logger),
		Sink:      sink,
		Scheduler: clock,
		Logger:    logger,
		Timing:    f.Timing.ToTiming(),
		Meta: recorder.Meta{
			Subject:          f.Subject,
			TrainingPhase:    f.Phase,
			TrainingSubPhase: cfg.Subphase.Label(),
			ForcedChoice:     len(f.Design.ForcedChoice) > 0,
			AllNewStimuli:    f.NewOnly,
			NewOld:           f.NewOld,
			Date:             cfg.Date.Format("06-01-02"),
		},
	})
	if err != nil {
		return nil, err
	}

	m.Start()
	d := &driver{m: m, plan: plan, surface: surface, clock: clock}
	for i, step := range f.Script {
		if err := d.do(step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
	}

	res := &Result{Plan: plan, Events: sink.Events(), Ledger: ledger.Entries()}
	select {
	case <-m.Done():
		res.Done = true
		res.Outcome = m.Outcome()
	default:
	}
	res.Records, res.Summary = SummarizeEvents(res.Events)
	return res, nil
}

type driver struct {
	m       *session.Machine
	plan    *planner.SessionPlan
	surface *display.Recorder
	clock   *session.ManualScheduler
}

func (d *driver) do(s Step) error {
	repeat := max(1, s.Repeat)
	for range repeat {
		if err := d.once(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) once(s Step) error {
	switch s.Action {
	case "begin":
		if !d.m.Begin() {
			return fmt.Errorf("session not awaiting start")
		}
	case "advance":
		d.clock.Advance(time.Duration(s.Ms) * time.Millisecond)
	case "idle":
		d.clock.RunUntilIdle(100000)
	case "peck":
		return d.surface.ClickTag(display.Tag(s.Tag))
	case "click":
		d.surface.ClickAt(s.X, s.Y)
	case "sample":
		spec, err := d.current()
		if err != nil {
			return err
		}
		tag := session.TagSample
		if spec.Category == planner.CategoryAutoshaping {
			tag = session.SideTag(spec.CorrectSide)
		}
		for range max(1, spec.SampleRatio) {
			if err := d.surface.ClickTag(tag); err != nil {
				return err
			}
		}
	case "choose":
		spec, err := d.current()
		if err != nil {
			return err
		}
		side := spec.CorrectSide
		switch s.Choice {
		case "correct":
		case "wrong":
			side = side.Opposite()
		default:
			return fmt.Errorf("unknown choice %q", s.Choice)
		}
		for range max(1, spec.ComparisonRatio) {
			if err := d.surface.ClickTag(session.SideTag(side)); err != nil {
				return err
			}
		}
	case "cancel":
		d.m.Cancel(session.ReasonOperator)
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

func (d *driver) current() (planner.TrialSpec, error) {
	spec, ok := d.plan.Trial(d.m.Snapshot().Trial)
	if !ok {
		return planner.TrialSpec{}, fmt.Errorf("no current trial")
	}
	return spec, nil
}

// Check compares a run against expectations and returns one message per
// mismatch.
func Check(exp Expected, res *Result) []string {
	var diffs []string
	diff := func(name string, want, got any) {
		if want != got {
			diffs = append(diffs, fmt.Sprintf("%s: expected %v, got %v", name, want, got))
		}
	}
	if exp.Reason != "" {
		diff("reason", exp.Reason, res.Outcome.Reason)
	}
	diff("trials", exp.Trials, res.Summary.Trials)
	diff("reinforced", exp.Reinforced, res.Summary.Reinforced)
	diff("auto_reinforced", exp.AutoReinforced, res.Summary.AutoReinforced)
	diff("correct", exp.Correct, res.Summary.Correct)
	diff("incorrect", exp.Incorrect, res.Summary.Incorrect)
	if len(res.Summary.Violations) > 0 {
		diffs = append(diffs, fmt.Sprintf("trials with more than one outcome: %v", res.Summary.Violations))
	}
	if exp.Labels != nil {
		got := make([]string, len(res.Events))
		for i, e := range res.Events {
			got[i] = e.Label
		}
		if fmt.Sprint(got) != fmt.Sprint(exp.Labels) {
			diffs = append(diffs, fmt.Sprintf("labels: expected %v, got %v", exp.Labels, got))
		}
	}
	return diffs
}

// #endregion run
