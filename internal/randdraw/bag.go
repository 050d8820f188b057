package randdraw

// #region bag
// Bag draws without replacement from a fixed set and refills itself with the
// full set when it runs dry. An element never repeats within one pass.
type Bag[T any] struct {
	src    *Source
	full   []T
	left   []T
	passes int
}

// NewBag builds a bag over items. The slice is copied.
func NewBag[T any](src *Source, items []T) *Bag[T] {
	full := make([]T, len(items))
	copy(full, items)
	return &Bag[T]{src: src, full: full}
}

// Next draws one element, refilling first if the current pass is exhausted.
func (b *Bag[T]) Next() (T, error) {
	if len(b.left) == 0 {
		if len(b.full) == 0 {
			var zero T
			return zero, ErrEmptyPool
		}
		b.left = Shuffled(b.src, b.full)
		b.passes++
	}
	return Draw(b.src, &b.left)
}

// Remaining reports how many elements are left in the current pass.
func (b *Bag[T]) Remaining() int { return len(b.left) }

// Passes reports how many times the bag has been filled.
func (b *Bag[T]) Passes() int { return b.passes }

// #endregion bag

// #region sequence
// Sequence pops labels in order from a balanced list and rebuilds the list
// when it empties, so every complete window is balanced.
type Sequence[T any] struct {
	src          *Source
	labels       []T
	multiplicity int
	queue        []T
}

// NewSequence returns a Sequence over labels with the given multiplicity per window.
func NewSequence[T any](src *Source, labels []T, multiplicity int) *Sequence[T] {
	if multiplicity < 1 {
		multiplicity = 1
	}
	return &Sequence[T]{src: src, labels: labels, multiplicity: multiplicity}
}

// Next pops the next label.
func (s *Sequence[T]) Next() (T, error) {
	if len(s.queue) == 0 {
		if len(s.labels) == 0 {
			var zero T
			return zero, ErrEmptyPool
		}
		s.queue = BalancedLabels(s.src, s.labels, s.multiplicity)
	}
	v := s.queue[0]
	s.queue = s.queue[1:]
	return v, nil
}

// Window reports the length of one complete refill window.
func (s *Sequence[T]) Window() int { return len(s.labels) * s.multiplicity }

// #endregion sequence
