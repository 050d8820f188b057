package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/display"
	"github.com/blaisdelllab/operant/internal/planner"
	"github.com/blaisdelllab/operant/internal/recorder"
	"github.com/blaisdelllab/operant/internal/stimulus"
)

// #region machine
// runState is reset at every ITI.
type runState struct {
	samplePecks int
	choicePecks map[planner.Side]int
	onset       time.Time
}

// Machine is the per-trial state machine. All methods except Snapshot,
// Outcome and Done must be called from one goroutine.
type Machine struct {
	opts   Options
	logger *zap.Logger

	stage      Stage
	epoch      uint64
	trialNum   int
	reinforced int
	auto       int
	correct    int
	incorrect  int
	cur        planner.TrialSpec
	run        runState
	startedAt  time.Time

	timers    []Timer
	autoTimer Timer
	bound     map[display.Tag]bool

	completed bool
	done      chan struct{}

	mu      sync.Mutex
	snap    Snapshot
	outcome Outcome
}

// New builds a machine. It draws nothing until Start.
func New(opts Options) (*Machine, error) {
	if opts.Plan == nil || opts.Display == nil || opts.Device == nil || opts.Sink == nil || opts.Scheduler == nil {
		return nil, fmt.Errorf("session: plan, display, device, sink and scheduler are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Layout == (display.Layout{}) {
		opts.Layout = display.DefaultLayout()
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(f func()) { f() }
	}
	if opts.DeviceTimeout <= 0 {
		opts.DeviceTimeout = DefaultDeviceTimeout
	}
	return &Machine{
		opts:   opts,
		logger: opts.Logger,
		stage:  StageAwaitingStart,
		bound:  map[display.Tag]bool{},
		done:   make(chan struct{}),
	}, nil
}

// Stage returns the current state.
func (m *Machine) Stage() Stage { return m.stage }

// Done closes when the session completes.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Outcome is valid once Done is closed.
func (m *Machine) Outcome() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome
}

// Snapshot returns the live counters. Safe from any goroutine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// #endregion machine

// #region lifecycle
// Start shows the place-subject prompt and waits for Begin.
func (m *Machine) Start() {
	if m.stage != StageAwaitingStart || m.completed {
		return
	}
	m.opts.Display.Clear()
	m.draw(display.Background(), display.Screen, "")
	m.draw(display.Text("Place subject in chamber and press space to begin"), display.Screen, "")
	m.publish()
}

// Begin starts the session. It reports false outside awaiting_start.
func (m *Machine) Begin() bool {
	if m.stage != StageAwaitingStart || m.completed {
		return false
	}
	m.startedAt = m.opts.Scheduler.Now()
	m.retire()
	m.stage = StageITI
	m.opts.Display.Clear()
	m.draw(display.Background(), display.Screen, TagBackground)
	m.bind(TagBackground, m.logPeck(recorder.ITIPeck))
	m.emit(recorder.SessionStarts, nil)
	m.logger.Info("session started",
		zap.String("subject", m.opts.Meta.Subject),
		zap.Int("planned_trials", m.opts.Plan.Len()))
	m.schedule(m.opts.Timing.FirstITI, m.enterITI)
	m.publish()
	return true
}

// Cancel ends the session from any state.
func (m *Machine) Cancel(reason string) {
	if reason == "" {
		reason = ReasonOperator
	}
	m.complete(reason)
}

// complete runs the shutdown sequence once: timers, device, final event,
// flush, display.
func (m *Machine) complete(reason string) {
	if m.completed {
		return
	}
	m.retire()
	m.completed = true
	m.stage = StageComplete

	if err := m.command(false); err != nil {
		m.logger.Error("lower hopper at session end", zap.Error(err))
	}
	if !m.startedAt.IsZero() {
		m.emit(recorder.SessionEnds, nil)
	}
	if err := m.opts.Sink.Flush(); err != nil {
		m.logger.Error("flush sink", zap.Error(err))
	}
	if err := m.opts.Display.Close(); err != nil {
		m.logger.Warn("close display", zap.Error(err))
	}

	m.mu.Lock()
	m.outcome = Outcome{
		Reason:         reason,
		Trials:         m.trialNum,
		Reinforced:     m.reinforced,
		AutoReinforced: m.auto,
		Correct:        m.correct,
		Incorrect:      m.incorrect,
		StartedAt:      m.startedAt,
		EndedAt:        m.opts.Scheduler.Now(),
	}
	m.mu.Unlock()
	m.publish()
	m.logger.Info("session complete",
		zap.String("reason", reason),
		zap.Int("trials", m.trialNum),
		zap.Int("reinforced", m.reinforced))
	close(m.done)
}

// #endregion lifecycle

// #region iti
func (m *Machine) enterITI() {
	m.retire()
	m.stage = StageITI
	m.opts.Display.Clear()
	m.draw(display.Background(), display.Screen, TagBackground)
	m.bind(TagBackground, m.logPeck(recorder.ITIPeck))

	if m.trialNum >= m.opts.Plan.Len() {
		m.complete(ReasonTrialLimit)
		return
	}
	now := m.opts.Scheduler.Now()
	if lim := m.opts.Timing.SessionLimit; lim > 0 && now.Sub(m.startedAt) >= lim {
		m.complete(ReasonTimeLimit)
		return
	}
	next, ok := m.opts.Plan.Trial(m.trialNum + 1)
	if !ok {
		m.complete(ReasonMissingTrial)
		return
	}

	m.trialNum++
	m.cur = next
	m.run = runState{choicePecks: map[planner.Side]int{}, onset: now}
	if m.opts.ShowText {
		m.draw(display.Text(fmt.Sprintf("ITI (%d sec.)", int(m.opts.Timing.ITI.Seconds()))), display.Screen, "")
	}
	m.logger.Debug("trial begins",
		zap.Int("trial", m.trialNum),
		zap.String("category", string(m.cur.Category)))
	m.schedule(m.opts.Timing.ITI, m.startTrial)
	m.publish()
}

func (m *Machine) startTrial() {
	switch {
	case m.cur.Category == planner.CategoryAutoshaping:
		m.enterAutoshape()
	case m.cur.Category == planner.CategoryFamiliarization || !m.cur.HasSample():
		m.enterChoice()
	default:
		m.enterSample()
	}
}

// #endregion iti

// #region sample
func (m *Machine) enterSample() {
	m.retire()
	m.stage = StageSample
	m.opts.Display.Clear()
	m.drawBackground(recorder.BackgroundPeck)

	m.drawDark(TagLeft)
	m.drawDark(TagRight)
	m.draw(display.Key(m.cur.Sample.Asset, m.cur.Sample.ID, true), m.opts.Layout.Sample, TagSample)
	m.bind(TagSample, m.onSamplePeck)
	m.publish()
}

func (m *Machine) onSamplePeck(c display.Click) {
	m.emit(recorder.SampleKeyPress, &c)
	m.run.samplePecks++
	if m.run.samplePecks < max(1, m.cur.SampleRatio) {
		m.publish()
		return
	}
	if m.opts.Timing.PostSampleDelay > 0 {
		m.enterDelay()
		return
	}
	m.enterChoice()
}

// #endregion sample

// #region delay
// enterDelay shows the comparisons without accepting choices. One timer
// ends the delay.
func (m *Machine) enterDelay() {
	m.retire()
	m.stage = StageDelay
	m.opts.Display.Clear()
	m.drawBackground(recorder.BackgroundPeck)
	m.drawSampleInactive()
	for _, side := range []planner.Side{planner.SideLeft, planner.SideRight} {
		tag := SideTag(side)
		item, ok := m.itemAt(side)
		if !ok {
			m.drawDark(tag)
			continue
		}
		m.draw(display.Key(item.Asset, item.ID, false), m.region(side), tag)
		m.bind(tag, m.logPeck(recorder.DelayPeck))
	}
	m.coverFoil()
	m.schedule(m.opts.Timing.PostSampleDelay, m.enterChoice)
	m.publish()
}

// #endregion delay

// #region choice
func (m *Machine) enterChoice() {
	m.retire()
	m.stage = StageChoice
	m.opts.Display.Clear()
	m.drawBackground(recorder.BackgroundPeck)
	m.drawSampleInactive()

	for _, side := range []planner.Side{planner.SideLeft, planner.SideRight} {
		tag := SideTag(side)
		item, ok := m.itemAt(side)
		if !ok {
			m.drawDark(tag)
			continue
		}
		m.draw(display.Key(item.Asset, item.ID, true), m.region(side), tag)
		m.bind(tag, m.onChoicePeck(side))
	}
	m.coverFoil()
	m.publish()
}

func (m *Machine) onChoicePeck(side planner.Side) display.Handler {
	return func(c display.Click) {
		m.emit(string(SideTag(side))+"_press", &c)
		m.run.choicePecks[side]++
		if m.run.choicePecks[side] < max(1, m.cur.ComparisonRatio) {
			m.publish()
			return
		}
		if side == m.cur.CorrectSide {
			m.correct++
			m.emit(recorder.CorrectChoice, &c)
			if m.cur.Category.Reinforced() {
				m.reinforce(false)
				return
			}
			m.enterITI()
			return
		}
		m.incorrect++
		m.emit(recorder.IncorrectChoice, &c)
		m.enterITI()
	}
}

// #endregion choice

// #region autoshaping
// enterAutoshape lights one key. A manual peck and the auto-timer race;
// whichever runs first reinforces and retires the other.
func (m *Machine) enterAutoshape() {
	m.retire()
	m.stage = StageSample
	m.opts.Display.Clear()
	m.drawBackground(recorder.BackgroundPeck)

	lit := SideTag(m.cur.CorrectSide)
	for _, tag := range []display.Tag{TagLeft, TagSample, TagRight} {
		if tag != lit {
			m.drawDark(tag)
		}
	}
	m.draw(display.Key(m.cur.Sample.Asset, m.cur.Sample.ID, true), m.tagRegion(lit), lit)
	m.bind(lit, func(c display.Click) {
		m.emit(string(lit)+"_press", &c)
		m.run.samplePecks++
		if m.run.samplePecks < max(1, m.cur.SampleRatio) {
			m.publish()
			return
		}
		if m.autoTimer != nil {
			m.autoTimer.Stop()
			m.autoTimer = nil
		}
		m.correct++
		m.emit(recorder.CorrectChoice, &c)
		m.reinforce(false)
	})
	if d := m.opts.Timing.AutoReinforce; d > 0 {
		m.autoTimer = m.schedule(d, func() {
			m.autoTimer = nil
			m.reinforce(true)
		})
	}
	m.publish()
}

// #endregion autoshaping

// #region reinforcement
func (m *Machine) reinforce(auto bool) {
	m.retire()
	m.stage = StageReinforcement
	m.opts.Display.Clear()
	m.draw(display.Background(), display.Screen, "")

	if err := m.command(true); err != nil {
		m.logger.Error("raise hopper", zap.Int("trial", m.trialNum), zap.Error(err))
		m.complete(ReasonDeviceError)
		return
	}
	m.reinforced++
	m.emit(recorder.ReinforcerProvided, nil)
	if auto {
		m.auto++
		m.emit(recorder.AutoReinforcerProvided, nil)
	}
	if m.opts.ShowText {
		msg := "Correct Key Pecked"
		if auto {
			msg = "Auto-timer complete"
		}
		m.draw(display.Text(fmt.Sprintf("%s\nFood accessible (%d s)", msg, int(m.opts.Timing.Hopper.Seconds()))), display.Screen, "")
	}
	m.schedule(m.opts.Timing.Hopper, func() {
		if err := m.command(false); err != nil {
			m.logger.Error("lower hopper", zap.Int("trial", m.trialNum), zap.Error(err))
			m.complete(ReasonDeviceError)
			return
		}
		m.enterITI()
	})
	m.publish()
}

// command sends one hopper command, bounded by DeviceTimeout.
func (m *Machine) command(accessible bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DeviceTimeout)
	defer cancel()
	return m.opts.Device.SetAccessible(ctx, accessible)
}

// #endregion reinforcement

// #region bindings
// retire detaches every binding and timer of the current phase and opens a
// new epoch. Anything still in flight from the old epoch becomes stale.
func (m *Machine) retire() {
	for tag := range m.bound {
		m.opts.Display.UnbindClick(tag)
	}
	clear(m.bound)
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = m.timers[:0]
	m.autoTimer = nil
	m.epoch++
}

func (m *Machine) bind(tag display.Tag, h display.Handler) {
	epoch := m.epoch
	m.bound[tag] = true
	m.opts.Display.BindClick(tag, func(c display.Click) {
		m.opts.Dispatch(func() {
			if m.completed {
				return
			}
			if epoch != m.epoch {
				m.emit(recorder.NonActivePeck, &c)
				return
			}
			h(c)
		})
	})
}

func (m *Machine) schedule(d time.Duration, f func()) Timer {
	epoch := m.epoch
	t := m.opts.Scheduler.AfterFunc(d, func() {
		if m.completed || epoch != m.epoch {
			return
		}
		f()
	})
	m.timers = append(m.timers, t)
	return t
}

func (m *Machine) logPeck(label string) display.Handler {
	return func(c display.Click) { m.emit(label, &c) }
}

// #endregion bindings

// #region drawing
func (m *Machine) draw(d display.Drawable, r display.Region, tag display.Tag) {
	if err := m.opts.Display.Draw(d, r, tag); err != nil {
		m.logger.Warn("draw", zap.String("tag", string(tag)), zap.Error(err))
	}
}

func (m *Machine) drawBackground(label string) {
	m.draw(display.Background(), display.Screen, TagBackground)
	m.bind(TagBackground, m.logPeck(label))
}

func (m *Machine) drawDark(tag display.Tag) {
	m.draw(display.DarkKey(), m.tagRegion(tag), tag)
	m.bind(tag, m.logPeck(recorder.NonActiveKeyPeck(string(tag))))
}

func (m *Machine) drawSampleInactive() {
	if !m.cur.HasSample() || !m.opts.Plan.Design.SampleVisibleInChoice {
		m.drawDark(TagSample)
		return
	}
	m.draw(display.Key(m.cur.Sample.Asset, m.cur.Sample.ID, false), m.opts.Layout.Sample, TagSample)
	m.bind(TagSample, m.logPeck(recorder.NonActivePeck))
}

// coverFoil hides the foil on forced-choice trials. The cover behaves like
// background.
func (m *Machine) coverFoil() {
	if m.cur.Category != planner.CategoryForcedChoice || m.cur.Foil == nil {
		return
	}
	m.draw(display.Cover(), m.region(m.cur.CorrectSide.Opposite()), TagBackground)
}

func (m *Machine) itemAt(side planner.Side) (stimulus.Item, bool) {
	if side == planner.SideRight {
		return m.cur.Right()
	}
	return m.cur.Left()
}

func (m *Machine) region(side planner.Side) display.Region {
	return m.tagRegion(SideTag(side))
}

func (m *Machine) tagRegion(tag display.Tag) display.Region {
	switch tag {
	case TagLeft:
		return m.opts.Layout.Left
	case TagRight:
		return m.opts.Layout.Right
	default:
		return m.opts.Layout.Sample
	}
}

// SideTag returns the display tag of the key at side.
func SideTag(side planner.Side) display.Tag {
	switch side {
	case planner.SideLeft:
		return TagLeft
	case planner.SideRight:
		return TagRight
	default:
		return TagSample
	}
}

// #endregion drawing

// #region events
func (m *Machine) emit(label string, c *display.Click) {
	now := m.opts.Scheduler.Now()
	e := recorder.Event{
		At:           now,
		Label:        label,
		Stage:        string(m.stage),
		TrialNum:     m.trialNum,
		ReinTrialNum: m.reinforced,
		FI:           m.opts.Timing.PostSampleDelay,
		Meta:         m.opts.Meta,
	}
	if !m.startedAt.IsZero() {
		e.SessionTime = now.Sub(m.startedAt)
	}
	if c != nil {
		e.HasCoords, e.X, e.Y = true, c.X, c.Y
	}
	if m.trialNum > 0 {
		e.SampleStimulus = m.cur.Sample.ID
		if l, ok := m.cur.Left(); ok {
			e.LComp = l.ID
		}
		if r, ok := m.cur.Right(); ok {
			e.RComp = r.ID
		}
		e.CorrectKey = m.cur.Correct.ID
		e.PairNum = m.cur.Correct.Pair
		e.SampleFR = m.cur.SampleRatio
		e.TrialType = trialType(m.cur)
		e.ComparisonFamiliarity = m.cur.ComparisonFamiliarity
		e.FoilFamiliarity = m.cur.FoilFamiliarity
		e.TrialTime = now.Sub(m.run.onset) - m.opts.Timing.ITI
	}
	if err := m.opts.Sink.Record(e); err != nil {
		m.logger.Error("record event", zap.String("event", label), zap.Error(err))
		return
	}
	if err := m.opts.Sink.Flush(); err != nil {
		m.logger.Error("flush sink", zap.Error(err))
	}
}

func trialType(t planner.TrialSpec) string {
	switch {
	case t.ProbeLabel != "":
		return t.ProbeLabel
	case t.FoilGroup != "":
		return t.FoilGroup
	default:
		return string(t.Category)
	}
}

func (m *Machine) publish() {
	s := Snapshot{
		Stage:       m.stage,
		Trial:       m.trialNum,
		Planned:     m.opts.Plan.Len(),
		Reinforced:  m.reinforced,
		Correct:     m.correct,
		Incorrect:   m.incorrect,
		SamplePecks: m.run.samplePecks,
		Category:    m.cur.Category,
	}
	if !m.startedAt.IsZero() {
		s.Elapsed = m.opts.Scheduler.Now().Sub(m.startedAt)
	}
	m.mu.Lock()
	m.snap = s
	m.mu.Unlock()
}

// #endregion events
