package stimulus

import "sync"

// MemoryLedger is an in-process Ledger. Used by tests and headless fixtures.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []LedgerEntry
}

// NewMemoryLedger returns a ledger preloaded with entries.
func NewMemoryLedger(entries ...LedgerEntry) *MemoryLedger {
	return &MemoryLedger{entries: append([]LedgerEntry(nil), entries...)}
}

func (m *MemoryLedger) Used(subject string) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for _, e := range m.entries {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryLedger) Reserve(entry LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns every entry in append order.
func (m *MemoryLedger) Entries() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LedgerEntry(nil), m.entries...)
}

// DryRun wraps a ledger so reads pass through and reservations are kept in
// memory only. Used for planning previews.
func DryRun(l Ledger) Ledger {
	return &dryRunLedger{base: l, pending: NewMemoryLedger()}
}

type dryRunLedger struct {
	base    Ledger
	pending *MemoryLedger
}

func (d *dryRunLedger) Used(subject string) ([]LedgerEntry, error) {
	var out []LedgerEntry
	if d.base != nil {
		used, err := d.base.Used(subject)
		if err != nil {
			return nil, err
		}
		out = append(out, used...)
	}
	pending, _ := d.pending.Used(subject)
	return append(out, pending...), nil
}

func (d *dryRunLedger) Reserve(entry LedgerEntry) error { return d.pending.Reserve(entry) }
