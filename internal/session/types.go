// Package session runs a planned session trial by trial. A Machine owns the
// mutable run state and is driven from one goroutine; the Runner provides
// that goroutine in production and tests drive the Machine directly.
package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/blaisdelllab/operant/internal/device"
	"github.com/blaisdelllab/operant/internal/display"
	"github.com/blaisdelllab/operant/internal/planner"
	"github.com/blaisdelllab/operant/internal/recorder"
)

// #region stage
// Stage is the machine's current state.
type Stage string

const (
	StageAwaitingStart Stage = "awaiting_start"
	StageITI           Stage = "iti"
	StageSample        Stage = "sample"
	StageDelay         Stage = "delay"
	StageChoice        Stage = "choice"
	StageReinforcement Stage = "reinforcement"
	StageComplete      Stage = "session_complete"
)

// IsTerminal reports whether no further transitions can happen.
func (s Stage) IsTerminal() bool { return s == StageComplete }

// #endregion stage

// #region reasons
// Termination reasons reported in Outcome.
const (
	ReasonTrialLimit   = "trial_limit"
	ReasonTimeLimit    = "time_limit"
	ReasonMissingTrial = "missing_trial"
	ReasonOperator     = "operator"
	ReasonDeviceError  = "device_error"
)

// #endregion reasons

// #region tags
// Display tags of the interactive targets.
const (
	TagBackground display.Tag = "bkgrd"
	TagSample     display.Tag = "sample_key"
	TagLeft       display.Tag = "left_comparison_key"
	TagRight      display.Tag = "right_comparison_key"
)

// #endregion tags

// #region timing
// Timing holds every duration the machine schedules.
type Timing struct {
	FirstITI        time.Duration // settle time after Begin, before the first ITI
	ITI             time.Duration
	PostSampleDelay time.Duration // 0 goes straight from sample to choice
	Hopper          time.Duration
	AutoReinforce   time.Duration // autoshaping auto-timer; 0 disables it
	SessionLimit    time.Duration // 0 means no time limit
}

// DefaultTiming returns the chamber defaults.
func DefaultTiming() Timing {
	return Timing{
		FirstITI:      30 * time.Second,
		ITI:           15 * time.Second,
		Hopper:        3500 * time.Millisecond,
		AutoReinforce: 10 * time.Second,
		SessionLimit:  90 * time.Minute,
	}
}

// #endregion timing

// #region scheduler
// Timer is a cancel handle for a scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay on the machine's goroutine.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// #endregion scheduler

// #region options
// Options configures a Machine. Plan is shared read-only.
type Options struct {
	Plan      *planner.SessionPlan
	Display   display.Surface
	Device    device.Device
	Sink      recorder.Sink
	Scheduler Scheduler
	Logger    *zap.Logger
	Timing    Timing
	Meta      recorder.Meta
	Layout    display.Layout

	// Dispatch moves click handling onto the machine's goroutine. Nil runs
	// handlers on the caller's goroutine.
	Dispatch func(func())

	// ShowText draws operator captions (ITI countdown, reinforcement notes).
	ShowText bool

	// DeviceTimeout bounds each hopper command. Zero uses DefaultDeviceTimeout.
	DeviceTimeout time.Duration
}

// DefaultDeviceTimeout bounds a hopper command when Options leaves it unset.
const DefaultDeviceTimeout = 5 * time.Second

// #endregion options

// #region outcome
// Outcome summarizes a finished session.
type Outcome struct {
	Reason         string
	Trials         int
	Reinforced     int
	AutoReinforced int
	Correct        int
	Incorrect      int
	StartedAt      time.Time
	EndedAt        time.Time
}

// Snapshot is the live view shown on the operator console.
type Snapshot struct {
	Stage       Stage
	Trial       int
	Planned     int
	Reinforced  int
	Correct     int
	Incorrect   int
	SamplePecks int
	Category    planner.TrialCategory
	Elapsed     time.Duration
}

// #endregion outcome
