package stimulus

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// S10_Phase3.bmp -> sample, pair 10, phase 3
var filenamePattern = regexp.MustCompile(`^([SC])(\d+)_[^.]*?(\d)\.(bmp|png|jpg|jpeg)$`)

// ParseFilename classifies a stimulus file name. Non-stimulus files return false.
func ParseFilename(name string) (Item, bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return Item{}, false
	}
	pair, err := strconv.Atoi(m[2])
	if err != nil {
		return Item{}, false
	}
	phase, err := strconv.Atoi(m[3])
	if err != nil {
		return Item{}, false
	}
	role := RoleComparison
	if m[1] == "S" {
		role = RoleSample
	}
	return Item{
		ID:    strings.TrimSuffix(name, filepath.Ext(name)),
		File:  name,
		Role:  role,
		Pair:  pair,
		Phase: phase,
	}, true
}

// LoadDir reads every stimulus file in dir. Asset is set to the full path.
func LoadDir(dir string) ([]Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read stimuli %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	items := FromNames(names)
	for i := range items {
		items[i].Asset = filepath.Join(dir, items[i].File)
	}
	return items, nil
}

// FromNames parses names, drops non-stimulus files, and orders the result by
// pair number with the sample first.
func FromNames(names []string) []Item {
	var items []Item
	for _, n := range names {
		if it, ok := ParseFilename(n); ok {
			items = append(items, it)
		}
	}
	SortItems(items)
	return items
}

// SortItems orders by pair number, samples before comparisons, then ID.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Pair != b.Pair {
			return a.Pair < b.Pair
		}
		if a.Role != b.Role {
			return a.Role == RoleSample
		}
		return a.ID < b.ID
	})
}

// CheckPairs verifies that every sample has exactly one comparison with the
// same pair number and vice versa.
func CheckPairs(items []Item) error {
	type pairCount struct{ samples, comparisons int }
	counts := map[int]*pairCount{}
	for _, it := range items {
		pc, ok := counts[it.Pair]
		if !ok {
			pc = &pairCount{}
			counts[it.Pair] = pc
		}
		if it.Role == RoleSample {
			pc.samples++
		} else {
			pc.comparisons++
		}
	}
	pairs := make([]int, 0, len(counts))
	for p := range counts {
		pairs = append(pairs, p)
	}
	sort.Ints(pairs)
	for _, p := range pairs {
		pc := counts[p]
		if pc.samples != 1 || pc.comparisons != 1 {
			return Configf("pair %d has %d sample(s) and %d comparison(s), want 1 and 1", p, pc.samples, pc.comparisons)
		}
	}
	return nil
}

// CheckComparisons verifies that no pair has more than one comparison. Samples
// are not required.
func CheckComparisons(items []Item) error {
	seen := map[int]string{}
	for _, it := range items {
		if it.Role != RoleComparison {
			continue
		}
		if prev, ok := seen[it.Pair]; ok {
			return Configf("pair %d has two comparisons: %s and %s", it.Pair, prev, it.ID)
		}
		seen[it.Pair] = it.ID
	}
	if len(seen) == 0 {
		return Configf("no comparisons found")
	}
	return nil
}
