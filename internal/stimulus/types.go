package stimulus

import "fmt"

// #region role
// Role says whether a stimulus is shown as a sample or as a comparison.
type Role string

const (
	RoleSample     Role = "sample"
	RoleComparison Role = "comparison"
)

// #endregion role

// #region category
// Category is the session-level classification of a stimulus.
type Category string

const (
	CategoryTraining Category = "training"
	CategoryProbe    Category = "probe"
	CategoryFoilOnly Category = "foil_only"
	CategoryExcluded Category = "excluded"
)

// #endregion category

// #region item
// Item is one stimulus asset. Immutable once loaded for a session.
type Item struct {
	ID    string // file stem, e.g. "S10_Phase3"
	File  string // file name inside the stimulus folder
	Role  Role
	Pair  int // pair number linking a sample to its comparison
	Phase int // training phase that introduced the item
	Asset string
}

// PartnerID returns the ID of the item on the other side of the pair.
func (it Item) PartnerID() string {
	if it.ID == "" {
		return ""
	}
	switch it.Role {
	case RoleSample:
		return "C" + it.ID[1:]
	default:
		return "S" + it.ID[1:]
	}
}

func (it Item) String() string { return it.ID }

// #endregion item

// #region subphase
// Subphase is the index into the subphase list:
// 0 training, 1 CBE.1, 2 FM.1, 3 CBE.2, 4 FM.2, 5 CBE.3, 6 FM.3.
type Subphase int

const SubphaseTraining Subphase = 0

var subphaseNumerals = []string{"i", "ii", "iii", "iv", "v", "vi", "vii"}

// IsProbe reports whether the subphase interleaves probe trials.
func (s Subphase) IsProbe() bool { return s > 0 }

// IsCBE reports a choice-by-exclusion subphase.
func (s Subphase) IsCBE() bool { return s > 0 && s%2 == 1 }

// IsFM reports a fast-mapping subphase.
func (s Subphase) IsFM() bool { return s > 0 && s%2 == 0 }

// Tier returns 1..3 for probe subphases and 0 for training.
func (s Subphase) Tier() int { return (int(s) + 1) / 2 }

// Valid reports whether s is a known subphase.
func (s Subphase) Valid() bool { return s >= 0 && int(s) < len(subphaseNumerals) }

// Label returns the probe label ("CBE.2", "FM.1") or "Training".
func (s Subphase) Label() string {
	switch {
	case s.IsCBE():
		return fmt.Sprintf("CBE.%d", s.Tier())
	case s.IsFM():
		return fmt.Sprintf("FM.%d", s.Tier())
	default:
		return "Training"
	}
}

// Numeral returns the lower-case roman numeral used in session labels.
func (s Subphase) Numeral() string {
	if !s.Valid() {
		return "?"
	}
	return subphaseNumerals[s]
}

// #endregion subphase

// #region ledger
// LedgerEntry records that a never-reuse stimulus was handed to a subject.
type LedgerEntry struct {
	Subject string
	Item    string
	Date    string // YY-MM-DD
	Phase   string // "<phase>.<subphase numeral>", e.g. "3.v"
}

// Ledger is the persisted, append-only record of reserved stimuli.
type Ledger interface {
	Used(subject string) ([]LedgerEntry, error)
	Reserve(entry LedgerEntry) error
}

// #endregion ledger
