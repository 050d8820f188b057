// Package store persists sessions, their event streams and the used-stimulus
// ledger in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/blaisdelllab/operant/internal/recorder"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	subject       TEXT NOT NULL,
	phase         INTEGER NOT NULL,
	subphase      TEXT NOT NULL,
	forced_choice INTEGER NOT NULL DEFAULT 0,
	all_new       INTEGER NOT NULL DEFAULT 0,
	new_old       TEXT,
	date          TEXT NOT NULL,
	seed          INTEGER NOT NULL,
	design_json   TEXT,
	started_at    TEXT NOT NULL,
	ended_at      TEXT,
	reason        TEXT,
	trials        INTEGER NOT NULL DEFAULT 0,
	reinforced    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	at              TEXT NOT NULL,
	session_time_ns INTEGER NOT NULL,
	x               INTEGER,
	y               INTEGER,
	label           TEXT NOT NULL,
	sample          TEXT,
	lcomp           TEXT,
	rcomp           TEXT,
	correct         TEXT,
	pair_num        INTEGER,
	stage           TEXT,
	trial_time_ns   INTEGER,
	trial_num       INTEGER,
	rein_trial_num  INTEGER,
	sample_fr       INTEGER,
	fi_ms           INTEGER,
	trial_type      TEXT,
	comparison_group TEXT,
	foil_group      TEXT,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE INDEX IF NOT EXISTS events_session ON events(session_id, seq);

CREATE TABLE IF NOT EXISTS used_stimuli (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	subject    TEXT NOT NULL,
	item       TEXT NOT NULL,
	date_used  TEXT NOT NULL,
	fm_phase   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (subject, item)
);
`

// columns added after the first release; older databases gain them on open
var addedColumns = []struct{ table, column, decl string }{
	{"events", "comparison_group", "TEXT"},
	{"events", "foil_group", "TEXT"},
}

// #endregion schema

// #region store-struct
// Store manages sessions and the ledger in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, c := range addedColumns {
		if err := addColumn(db, c.table, c.column, c.decl); err != nil {
			return nil, fmt.Errorf("migrate %s.%s: %w", c.table, c.column, err)
		}
	}
	return &Store{db: db}, nil
}

func addColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. recorder).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region create-session
// CreateSession inserts a running session and returns it with its new ID.
func (s *Store) CreateSession(rec SessionRecord) (SessionRecord, error) {
	rec.SessionID = uuid.New().String()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.EndedAt = time.Time{}
	rec.Reason = ""

	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, subject, phase, subphase, forced_choice, all_new, new_old, date, seed, design_json, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Meta.Subject, rec.Meta.TrainingPhase, rec.Meta.TrainingSubPhase,
		rec.Meta.ForcedChoice, rec.Meta.AllNewStimuli, nullIfEmpty(rec.Meta.NewOld),
		rec.Meta.Date, int64(rec.Seed), nullIfEmpty(rec.DesignJSON),
		rec.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("insert session: %w", err)
	}
	return rec, nil
}

// #endregion create-session

// #region finish-session
// FinishSession records how a session ended. Finishing twice is an error.
func (s *Store) FinishSession(id string, out Outcome) error {
	if out.EndedAt.IsZero() {
		out.EndedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, reason = ?, trials = ?, reinforced = ?
		 WHERE session_id = ? AND ended_at IS NULL`,
		out.EndedAt.Format(time.RFC3339Nano), out.Reason, out.Trials, out.Reinforced, id,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s not found or already finished", id)
	}
	return nil
}

// #endregion finish-session

// #region get-session
const sessionColumns = `session_id, subject, phase, subphase, forced_choice, all_new, new_old, date, seed, design_json, started_at, ended_at, reason, trials, reinforced`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var rec SessionRecord
	var newOld, designJSON, endedStr, reason sql.NullString
	var startedStr string
	var seed int64
	err := row.Scan(
		&rec.SessionID, &rec.Meta.Subject, &rec.Meta.TrainingPhase, &rec.Meta.TrainingSubPhase,
		&rec.Meta.ForcedChoice, &rec.Meta.AllNewStimuli, &newOld, &rec.Meta.Date, &seed,
		&designJSON, &startedStr, &endedStr, &reason, &rec.Trials, &rec.Reinforced,
	)
	if err != nil {
		return SessionRecord{}, err
	}
	rec.Seed = uint64(seed)
	rec.Meta.NewOld = newOld.String
	rec.DesignJSON = designJSON.String
	rec.Reason = reason.String
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
	if endedStr.Valid {
		rec.EndedAt, _ = time.Parse(time.RFC3339Nano, endedStr.String)
	}
	return rec, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (SessionRecord, error) {
	rec, err := scanSession(s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id,
	))
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-session

// #region list-sessions
// ListSessions returns the most recent sessions, optionally for one subject.
func (s *Store) ListSessions(subject string, limit int) ([]SessionRecord, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if subject != "" {
		q += ` WHERE subject = ?`
		args = append(args, subject)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-sessions

// #region events
// Sink returns an event sink writing into this store under sessionID.
func (s *Store) Sink(sessionID string) *recorder.SQLSink {
	return recorder.NewSQLSink(s.db, sessionID)
}

// Events returns a session's events in recording order with the session
// metadata filled in on each row.
func (s *Store) Events(sessionID string) ([]recorder.Event, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT at, session_time_ns, x, y, label, sample, lcomp, rcomp, correct, pair_num,
		   stage, trial_time_ns, trial_num, rein_trial_num, sample_fr, fi_ms, trial_type,
		   comparison_group, foil_group
		 FROM events WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []recorder.Event
	for rows.Next() {
		var e recorder.Event
		var atStr string
		var sessNS, trialNS, fiMS int64
		var x, y sql.NullInt64
		var sample, lcomp, rcomp, correct, trialType, stage, compGroup, foilGroup sql.NullString
		var pair, trialNum, rein, fr sql.NullInt64
		if err := rows.Scan(&atStr, &sessNS, &x, &y, &e.Label, &sample, &lcomp, &rcomp, &correct,
			&pair, &stage, &trialNS, &trialNum, &rein, &fr, &fiMS, &trialType,
			&compGroup, &foilGroup); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, atStr)
		e.SessionTime = time.Duration(sessNS)
		if x.Valid && y.Valid {
			e.HasCoords, e.X, e.Y = true, int(x.Int64), int(y.Int64)
		}
		e.SampleStimulus, e.LComp, e.RComp, e.CorrectKey = sample.String, lcomp.String, rcomp.String, correct.String
		e.PairNum = int(pair.Int64)
		e.Stage = stage.String
		e.TrialTime = time.Duration(trialNS)
		e.TrialNum, e.ReinTrialNum, e.SampleFR = int(trialNum.Int64), int(rein.Int64), int(fr.Int64)
		e.FI = time.Duration(fiMS) * time.Millisecond
		e.TrialType = trialType.String
		e.ComparisonFamiliarity, e.FoilFamiliarity = compGroup.String, foilGroup.String
		e.Meta = sess.Meta
		events = append(events, e)
	}
	return events, rows.Err()
}

// #endregion events

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
