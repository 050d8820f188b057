// Package recorder holds the session event record and the sinks that
// persist it. Every peck, stage change and session boundary is one Event.
package recorder

import (
	"strconv"
	"strings"
	"time"
)

// #region labels
// Event labels written to the data sheet.
const (
	SessionStarts          = "SessionStarts"
	SessionEnds            = "SessionEnds"
	SampleKeyPress         = "sample_key_press" // <key tag>_press
	NonActivePeck          = "non_active_peck"
	BackgroundPeck         = "background_peck"
	ITIPeck                = "ITI_peck"
	DelayPeck              = "pre_FI_choice"
	CorrectChoice          = "correct_choice"
	IncorrectChoice        = "incorrect_choice"
	ReinforcerProvided     = "reinforcer_provided"
	AutoReinforcerProvided = "auto_reinforcer_provided"
)

// NonActiveKeyPeck labels a peck on an unlit key.
func NonActiveKeyPeck(keyTag string) string { return "non_active_" + keyTag + "_peck" }

// IsNonActive reports whether label marks a peck on a key that was not
// accepting responses.
func IsNonActive(label string) bool {
	return label == NonActivePeck || (strings.HasPrefix(label, "non_active_") && strings.HasSuffix(label, "_peck"))
}

// #endregion labels

// #region event
// Meta is the per-session context repeated on every row.
type Meta struct {
	Subject          string
	TrainingPhase    int
	TrainingSubPhase string
	ForcedChoice     bool
	AllNewStimuli    bool
	NewOld           string
	Date             string
}

// Event is one data-sheet row.
type Event struct {
	At          time.Time
	SessionTime time.Duration
	HasCoords   bool
	X, Y        int
	Label       string

	SampleStimulus string
	LComp          string
	RComp          string
	CorrectKey     string
	PairNum        int
	Stage          string
	TrialTime      time.Duration
	TrialNum       int
	ReinTrialNum   int
	SampleFR       int
	FI             time.Duration
	TrialType      string

	// familiarity of the correct comparison and of the foil, "F" or "N"
	ComparisonFamiliarity string
	FoilFamiliarity       string

	Meta
}

// Header is the data-sheet column order.
var Header = []string{
	"SessionTime", "Xcord", "Ycord", "Event",
	"SampleStimulus", "LComp", "RComp", "CorrectKey", "PairNum",
	"TrialSubStage", "TrialTime", "TrialNum", "ReinTrialNum",
	"SampleFR", "FI", "TrialType", "Subject", "TrainingPhase",
	"TrainingSubPhase", "ForcedChoiceSession", "AllNewStimuli",
	"NewOldStimuliSession", "CorrectComparisonGroup", "FoilGroup", "Date",
}

// Row renders e in Header order. Coordinates are NA for non-peck events.
func (e Event) Row() []string {
	x, y := "NA", "NA"
	if e.HasCoords {
		x, y = strconv.Itoa(e.X), strconv.Itoa(e.Y)
	}
	return []string{
		e.SessionTime.String(),
		x, y,
		e.Label,
		e.SampleStimulus,
		e.LComp,
		e.RComp,
		e.CorrectKey,
		strconv.Itoa(e.PairNum),
		e.Stage,
		strconv.FormatFloat(e.TrialTime.Seconds(), 'f', 5, 64),
		strconv.Itoa(e.TrialNum),
		strconv.Itoa(e.ReinTrialNum),
		strconv.Itoa(e.SampleFR),
		strconv.FormatInt(e.FI.Milliseconds(), 10),
		e.TrialType,
		e.Subject,
		strconv.Itoa(e.TrainingPhase),
		e.TrainingSubPhase,
		strconv.FormatBool(e.ForcedChoice),
		strconv.FormatBool(e.AllNewStimuli),
		orNA(e.NewOld),
		orNA(e.ComparisonFamiliarity),
		orNA(e.FoilFamiliarity),
		e.Date,
	}
}

func orNA(s string) string {
	if s == "" {
		return "NA"
	}
	return s
}

// IsPeck reports whether the event carries screen coordinates.
func (e Event) IsPeck() bool { return e.HasCoords }

// #endregion event
