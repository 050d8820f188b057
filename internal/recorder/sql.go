package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// #region log-event
// LogEvent writes one event row to the events table.
func LogEvent(db *sql.DB, sessionID string, seq int, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	var x, y interface{}
	if e.HasCoords {
		x, y = e.X, e.Y
	}

	_, err := db.Exec(
		`INSERT INTO events (session_id, seq, at, session_time_ns, x, y, label,
		   sample, lcomp, rcomp, correct, pair_num, stage, trial_time_ns,
		   trial_num, rein_trial_num, sample_fr, fi_ms, trial_type,
		   comparison_group, foil_group)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		seq,
		e.At.Format(time.RFC3339Nano),
		int64(e.SessionTime),
		x, y,
		e.Label,
		nullIfEmpty(e.SampleStimulus),
		nullIfEmpty(e.LComp),
		nullIfEmpty(e.RComp),
		nullIfEmpty(e.CorrectKey),
		e.PairNum,
		e.Stage,
		int64(e.TrialTime),
		e.TrialNum,
		e.ReinTrialNum,
		e.SampleFR,
		e.FI.Milliseconds(),
		nullIfEmpty(e.TrialType),
		nullIfEmpty(e.ComparisonFamiliarity),
		nullIfEmpty(e.FoilFamiliarity),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// #endregion log-event

// #region sql-sink
// SQLSink appends events for one session to the events table.
type SQLSink struct {
	mu        sync.Mutex
	db        *sql.DB
	sessionID string
	seq       int
	closed    bool
}

// NewSQLSink records into db under sessionID. The caller owns db.
func NewSQLSink(db *sql.DB, sessionID string) *SQLSink {
	return &SQLSink{db: db, sessionID: sessionID}
}

func (s *SQLSink) Record(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.seq++
	return LogEvent(s.db, s.sessionID, s.seq, e)
}

// Flush is a no-op; every insert is committed on its own.
func (s *SQLSink) Flush() error { return nil }

func (s *SQLSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// #endregion sql-sink

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
