package replay

import (
	"strings"
	"time"

	"github.com/blaisdelllab/operant/internal/recorder"
)

// #region types
// Trial outcomes.
const (
	OutcomeCorrect   = "correct"
	OutcomeIncorrect = "incorrect"
	OutcomeAuto      = "auto"
	OutcomeNone      = "none"
)

// TrialRecord is one trial reconstructed from the event stream.
type TrialRecord struct {
	Trial       int
	Type        string
	Sample      string
	Correct     string
	LComp       string
	RComp       string
	Outcome     string
	Outcomes    int // number of choice outcomes seen; always 1 in a healthy run
	Reinforced  bool
	Auto        bool
	SamplePecks int
	ChoicePecks int
	StrayPecks  int
	ITIPecks    int
	Latency     time.Duration // trial time of the outcome event
}

// TypeCounts tallies one trial type.
type TypeCounts struct {
	Trials    int
	Correct   int
	Incorrect int
}

// Summary provides aggregate stats from a reconstructed session.
type Summary struct {
	Trials         int
	Correct        int
	Incorrect      int
	Reinforced     int
	AutoReinforced int
	Probes         int
	ProbeCorrect   int
	Accuracy       float64
	Ended          bool
	Incomplete     []int // trials with no outcome
	Violations     []int // trials with more than one outcome
	ByType         map[string]TypeCounts
}

// #endregion types

// #region reconstruct
// Reconstruct folds a session's events into per-trial records, in trial order.
func Reconstruct(events []recorder.Event) []TrialRecord {
	var records []TrialRecord
	index := map[int]int{}

	for _, e := range events {
		if e.TrialNum < 1 {
			continue
		}
		i, ok := index[e.TrialNum]
		if !ok {
			records = append(records, TrialRecord{
				Trial:   e.TrialNum,
				Type:    e.TrialType,
				Sample:  e.SampleStimulus,
				Correct: e.CorrectKey,
				LComp:   e.LComp,
				RComp:   e.RComp,
				Outcome: OutcomeNone,
			})
			i = len(records) - 1
			index[e.TrialNum] = i
		}
		r := &records[i]

		switch e.Label {
		case recorder.ITIPeck:
			r.ITIPecks++
		case recorder.BackgroundPeck, recorder.DelayPeck:
			r.StrayPecks++
		case recorder.CorrectChoice, recorder.IncorrectChoice:
			// the first outcome stands; later ones only mark a violation
			r.Outcomes++
			if r.Outcome == OutcomeNone {
				r.Outcome = OutcomeIncorrect
				if e.Label == recorder.CorrectChoice {
					r.Outcome = OutcomeCorrect
				}
				r.Latency = e.TrialTime
			}
		case recorder.ReinforcerProvided:
			r.Reinforced = true
		case recorder.AutoReinforcerProvided:
			r.Auto = true
			if r.Outcome == OutcomeNone {
				r.Outcome = OutcomeAuto
				r.Outcomes++
				r.Latency = e.TrialTime
			}
		default:
			if recorder.IsNonActive(e.Label) {
				r.StrayPecks++
				continue
			}
			if strings.HasSuffix(e.Label, "_press") {
				if e.Stage == "choice" {
					r.ChoicePecks++
				} else {
					r.SamplePecks++
				}
			}
		}
	}
	return records
}

// #endregion reconstruct

// #region summarize
// Summarize computes aggregate stats. ended reports whether a SessionEnds
// event was seen.
func Summarize(records []TrialRecord, ended bool) Summary {
	s := Summary{
		Trials: len(records),
		Ended:  ended,
		ByType: map[string]TypeCounts{},
	}
	for i, r := range records {
		tc := s.ByType[r.Type]
		tc.Trials++
		switch r.Outcome {
		case OutcomeCorrect:
			s.Correct++
			tc.Correct++
		case OutcomeIncorrect:
			s.Incorrect++
			tc.Incorrect++
		}
		s.ByType[r.Type] = tc

		if r.Reinforced {
			s.Reinforced++
		}
		if r.Auto {
			s.AutoReinforced++
		}
		if isProbe(r.Type) {
			s.Probes++
			if r.Outcome == OutcomeCorrect {
				s.ProbeCorrect++
			}
		}
		switch {
		case r.Outcomes > 1:
			s.Violations = append(s.Violations, r.Trial)
		case r.Outcomes == 0 && i < len(records)-1:
			s.Incomplete = append(s.Incomplete, r.Trial)
		}
	}
	if n := s.Correct + s.Incorrect; n > 0 {
		s.Accuracy = float64(s.Correct) / float64(n)
	}
	return s
}

// SummarizeEvents reconstructs and summarizes in one step.
func SummarizeEvents(events []recorder.Event) ([]TrialRecord, Summary) {
	records := Reconstruct(events)
	ended := false
	for _, e := range events {
		if e.Label == recorder.SessionEnds {
			ended = true
		}
	}
	return records, Summarize(records, ended)
}

func isProbe(trialType string) bool {
	return strings.HasPrefix(trialType, "CBE.") || strings.HasPrefix(trialType, "FM.") ||
		strings.HasPrefix(trialType, "probe_")
}

// #endregion summarize
