package store

import (
	"time"

	"github.com/blaisdelllab/operant/internal/recorder"
)

// #region session-record
// SessionRecord is one run of the experiment for one subject.
type SessionRecord struct {
	SessionID  string
	Meta       recorder.Meta
	Seed       uint64
	DesignJSON string
	StartedAt  time.Time
	EndedAt    time.Time // zero while running
	Reason     string    // termination reason; empty while running
	Trials     int
	Reinforced int
}

// Finished reports whether the session has an end record.
func (r SessionRecord) Finished() bool { return !r.EndedAt.IsZero() }

// #endregion session-record

// #region outcome
// Outcome is what FinishSession stores.
type Outcome struct {
	Reason     string
	Trials     int
	Reinforced int
	EndedAt    time.Time
}

// #endregion outcome
