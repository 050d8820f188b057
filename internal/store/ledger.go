package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blaisdelllab/operant/internal/stimulus"
)

// ErrAlreadyReserved is returned when a subject's item is reserved twice.
var ErrAlreadyReserved = errors.New("store: stimulus already reserved for subject")

// LedgerHeader is the column layout of the per-subject ledger CSV.
var LedgerHeader = []string{"Subject", "Used_FM", "Date_Used", "FM_phase"}

// #region sqlite-ledger
// Used lists the items reserved for subject in reservation order.
func (s *Store) Used(subject string) ([]stimulus.LedgerEntry, error) {
	rows, err := s.db.Query(
		`SELECT subject, item, date_used, fm_phase FROM used_stimuli WHERE subject = ? ORDER BY id`, subject,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []stimulus.LedgerEntry
	for rows.Next() {
		var e stimulus.LedgerEntry
		if err := rows.Scan(&e.Subject, &e.Item, &e.Date, &e.Phase); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reserve appends entry. Reserving an item twice for one subject fails with
// ErrAlreadyReserved.
func (s *Store) Reserve(entry stimulus.LedgerEntry) error {
	res, err := s.db.Exec(
		`INSERT INTO used_stimuli (subject, item, date_used, fm_phase, created_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(subject, item) DO NOTHING`,
		entry.Subject, entry.Item, entry.Date, entry.Phase, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reserve %s for %s: %w", entry.Item, entry.Subject, ErrAlreadyReserved)
	}
	return nil
}

var _ stimulus.Ledger = (*Store)(nil)

// ImportLedgerCSV loads a legacy ledger file into the store. Rows already
// present are skipped. Returns how many rows were added.
func ImportLedgerCSV(s *Store, r io.Reader) (int, error) {
	entries, err := readLedger(r)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, e := range entries {
		err := s.Reserve(e)
		if errors.Is(err, ErrAlreadyReserved) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// #endregion sqlite-ledger

// #region csv-ledger
// CSVLedger keeps one CSV file per subject in dir, rewritten in full on
// every reservation.
type CSVLedger struct {
	mu  sync.Mutex
	dir string
}

// NewCSVLedger stores ledger files under dir.
func NewCSVLedger(dir string) *CSVLedger {
	return &CSVLedger{dir: dir}
}

// LedgerFileName names a subject's ledger file.
func LedgerFileName(subject string) string {
	return subject + "_Used_FM_Stimuli_Log.csv"
}

// Path returns the ledger file for subject.
func (l *CSVLedger) Path(subject string) string {
	return filepath.Join(l.dir, LedgerFileName(subject))
}

func (l *CSVLedger) Used(subject string) ([]stimulus.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all, err := l.load(subject)
	if err != nil {
		return nil, err
	}
	var out []stimulus.LedgerEntry
	for _, e := range all {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *CSVLedger) Reserve(entry stimulus.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	all, err := l.load(entry.Subject)
	if err != nil {
		return err
	}
	for _, e := range all {
		if e.Subject == entry.Subject && e.Item == entry.Item {
			return fmt.Errorf("reserve %s for %s: %w", entry.Item, entry.Subject, ErrAlreadyReserved)
		}
	}
	all = append(all, entry)

	var buf bytes.Buffer
	if err := writeLedger(&buf, all); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	if err := os.WriteFile(l.Path(entry.Subject), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func (l *CSVLedger) load(subject string) ([]stimulus.LedgerEntry, error) {
	f, err := os.Open(l.Path(subject))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	return readLedger(f)
}

var _ stimulus.Ledger = (*CSVLedger)(nil)

// #endregion csv-ledger

// #region csv-codec
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readLedger(r io.Reader) ([]stimulus.LedgerEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, name := range LedgerHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("parse ledger: missing column %q", name)
		}
	}

	out := make([]stimulus.LedgerEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		out = append(out, stimulus.LedgerEntry{
			Subject: row[col["Subject"]],
			Item:    row[col["Used_FM"]],
			Date:    row[col["Date_Used"]],
			Phase:   row[col["FM_phase"]],
		})
	}
	return out, nil
}

func writeLedger(w io.Writer, entries []stimulus.LedgerEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LedgerHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Subject, e.Item, e.Date, e.Phase}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// #endregion csv-codec
