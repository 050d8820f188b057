package store

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaisdelllab/operant/internal/randdraw"
	"github.com/blaisdelllab/operant/internal/recorder"
	"github.com/blaisdelllab/operant/internal/stimulus"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func meta() recorder.Meta {
	return recorder.Meta{Subject: "Jubilee", TrainingPhase: 3, TrainingSubPhase: "FM.1", Date: "24-03-07"}
}

// #region session-tests
func TestCreateAndFinishSession(t *testing.T) {
	s := tempDB(t)

	rec, err := s.CreateSession(SessionRecord{Meta: meta(), Seed: 42, DesignJSON: `{"trials":96}`})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if rec.SessionID == "" {
		t.Fatal("expected non-empty session ID")
	}

	got, err := s.GetSession(rec.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Finished() {
		t.Fatal("new session should be running")
	}
	if got.Seed != 42 || got.Meta != meta() {
		t.Fatalf("unexpected record: %+v", got)
	}

	end := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	if err := s.FinishSession(rec.SessionID, Outcome{Reason: "trial_limit", Trials: 96, Reinforced: 90, EndedAt: end}); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	if err := s.FinishSession(rec.SessionID, Outcome{Reason: "again"}); err == nil {
		t.Fatal("expected error finishing twice")
	}

	got, _ = s.GetSession(rec.SessionID)
	if !got.Finished() || got.Reason != "trial_limit" || got.Reinforced != 90 {
		t.Fatalf("unexpected finished record: %+v", got)
	}
	if !got.EndedAt.Equal(end) {
		t.Fatalf("ended at %v, want %v", got.EndedAt, end)
	}

	if _, err := s.GetSession("nope"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestListSessions_FilterAndOrder(t *testing.T) {
	s := tempDB(t)
	base := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)

	for i, subj := range []string{"Jubilee", "Bowser", "Jubilee"} {
		m := meta()
		m.Subject = subj
		_, err := s.CreateSession(SessionRecord{Meta: m, StartedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	all, err := s.ListSessions("", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].StartedAt.After(all[1].StartedAt), "newest first")

	jub, err := s.ListSessions("Jubilee", 10)
	require.NoError(t, err)
	assert.Len(t, jub, 2)

	one, err := s.ListSessions("", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestEvents_RoundTripThroughSink(t *testing.T) {
	s := tempDB(t)
	rec, err := s.CreateSession(SessionRecord{Meta: meta()})
	require.NoError(t, err)

	sink := s.Sink(rec.SessionID)
	require.NoError(t, sink.Record(recorder.Event{Label: recorder.SessionStarts}))
	require.NoError(t, sink.Record(recorder.Event{
		Label: recorder.SampleKeyPress, HasCoords: true, X: 500, Y: 420,
		SampleStimulus: "S3_Phase1", PairNum: 3, Stage: "sample", TrialNum: 1,
		SampleFR: 2, FI: 1500 * time.Millisecond, TrialTime: 2 * time.Second, TrialType: "FN",
		ComparisonFamiliarity: "F", FoilFamiliarity: "N",
	}))
	require.NoError(t, sink.Record(recorder.Event{Label: recorder.SessionEnds, TrialNum: 1}))

	events, err := s.Events(rec.SessionID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, recorder.SessionStarts, events[0].Label)
	assert.False(t, events[0].HasCoords)

	peck := events[1]
	assert.True(t, peck.HasCoords)
	assert.Equal(t, 500, peck.X)
	assert.Equal(t, "S3_Phase1", peck.SampleStimulus)
	assert.Equal(t, 1500*time.Millisecond, peck.FI)
	assert.Equal(t, 2*time.Second, peck.TrialTime)
	assert.Equal(t, "Jubilee", peck.Subject, "meta filled from session")
	assert.Equal(t, "FN", peck.TrialType)
	assert.Equal(t, "F", peck.ComparisonFamiliarity)
	assert.Equal(t, "N", peck.FoilFamiliarity)
	assert.Empty(t, events[0].FoilFamiliarity)

	_, err = s.Events("missing")
	assert.Error(t, err)
}

func TestNewStore_AddsFamiliarityColumnsToOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE events (
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
		trial_type      TEXT
	)`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec, err := s.CreateSession(SessionRecord{Meta: meta()})
	require.NoError(t, err)
	require.NoError(t, s.Sink(rec.SessionID).Record(recorder.Event{Label: recorder.CorrectChoice, TrialNum: 1, FoilFamiliarity: "F"}))
	events, err := s.Events(rec.SessionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "F", events[0].FoilFamiliarity)

	// reopening finds the columns already present
	s2, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

// #endregion session-tests

// #region ledger-tests
func TestStoreLedger_RoundTrip(t *testing.T) {
	s := tempDB(t)
	e := stimulus.LedgerEntry{Subject: "Jubilee", Item: "C9_Phase5.bmp", Date: "24-03-07", Phase: "3.iii"}

	require.NoError(t, s.Reserve(e))
	assert.ErrorIs(t, s.Reserve(e), ErrAlreadyReserved)
	require.NoError(t, s.Reserve(stimulus.LedgerEntry{Subject: "Bowser", Item: "C9_Phase5.bmp", Date: "24-03-08", Phase: "3.iii"}))

	used, err := s.Used("Jubilee")
	require.NoError(t, err)
	assert.Equal(t, []stimulus.LedgerEntry{e}, used)

	none, err := s.Used("Nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCSVLedger_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "FM_stimuli_logs")
	l := NewCSVLedger(dir)

	used, err := l.Used("Jubilee")
	require.NoError(t, err)
	assert.Empty(t, used, "missing file is an empty ledger")

	a := stimulus.LedgerEntry{Subject: "Jubilee", Item: "C9_Phase5.bmp", Date: "24-03-07", Phase: "3.iii"}
	b := stimulus.LedgerEntry{Subject: "Jubilee", Item: "C12_Phase6.bmp", Date: "24-03-09", Phase: "4.iii"}
	require.NoError(t, l.Reserve(a))
	require.NoError(t, l.Reserve(b))
	assert.ErrorIs(t, l.Reserve(a), ErrAlreadyReserved)

	used, err = l.Used("Jubilee")
	require.NoError(t, err)
	assert.Equal(t, []stimulus.LedgerEntry{a, b}, used)

	raw, err := os.ReadFile(l.Path("Jubilee"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, "Subject,Used_FM,Date_Used,FM_phase", lines[0])
	assert.Len(t, lines, 3)
}

func TestImportLedgerCSV_SkipsDuplicatesAndBOM(t *testing.T) {
	s := tempDB(t)
	legacy := "\xEF\xBB\xBFSubject,Used_FM,Date_Used,FM_phase\n" +
		"Jubilee,C9_Phase5.bmp,24-03-07,3.iii\n" +
		"Jubilee,C12_Phase6.bmp,24-03-09,4.iii\n"

	n, err := ImportLedgerCSV(s, strings.NewReader(legacy))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = ImportLedgerCSV(s, strings.NewReader(legacy))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	used, _ := s.Used("Jubilee")
	assert.Len(t, used, 2)

	_, err = ImportLedgerCSV(s, bytes.NewBufferString("Subject,Item\nJubilee,x\n"))
	assert.ErrorContains(t, err, "missing column")
}

func TestStoreLedger_FMSelectionNeverRepeats(t *testing.T) {
	s := tempDB(t)
	items := stimulus.FromNames([]string{
		"S1_Phase1.bmp", "C1_Phase1.bmp", "S2_Phase1.bmp", "C2_Phase1.bmp",
		"S3_Phase2.bmp", "C3_Phase2.bmp",
		"S4_Phase3.bmp", "C4_Phase3.bmp", "S5_Phase3.bmp", "C5_Phase3.bmp",
	})

	// FM.1 on phase 1: only phase 3 items are eligible
	cfg := stimulus.ClassifyConfig{
		Subject:       "Jubilee",
		TrainingPhase: 1,
		Subphase:      stimulus.Subphase(2),
		Date:          time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
	}
	seen := map[string]bool{}
	for seed := uint64(1); seed <= 4; seed++ {
		foil, err := stimulus.SelectFMFoil(items, cfg, s, randdraw.New(seed))
		require.NoError(t, err)
		assert.False(t, seen[foil.ID], "foil %s reused", foil.ID)
		seen[foil.ID] = true
	}
	_, err := stimulus.SelectFMFoil(items, cfg, s, randdraw.New(9))
	var noFoil *stimulus.NoEligibleFoilError
	assert.ErrorAs(t, err, &noFoil)
}

// #endregion ledger-tests
