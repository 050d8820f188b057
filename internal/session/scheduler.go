package session

import (
	"sort"
	"sync"
	"time"
)

// #region loop-scheduler
// LoopScheduler fires real timers and posts their callbacks onto a Runner.
type LoopScheduler struct {
	r *Runner
}

// NewLoopScheduler schedules onto r.
func NewLoopScheduler(r *Runner) *LoopScheduler {
	return &LoopScheduler{r: r}
}

func (s *LoopScheduler) Now() time.Time { return time.Now() }

func (s *LoopScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() { s.r.Post(f) })
}

// #endregion loop-scheduler

// #region manual-scheduler
// ManualScheduler is a virtual clock. Callbacks run on the goroutine that
// calls Advance, in due order, ties broken by scheduling order.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	s    *ManualScheduler
	due  time.Time
	seq  int
	f    func()
	done bool
}

// NewManualScheduler starts the clock at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, due: s.now.Add(d), seq: s.seq, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.s.removeLocked(t)
	return true
}

func (s *ManualScheduler) removeLocked(t *manualTimer) {
	for i, x := range s.timers {
		if x == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d, firing every timer that falls due.
// Timers scheduled by callbacks fire too if they fall within the window.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	for {
		s.mu.Lock()
		sort.SliceStable(s.timers, func(i, j int) bool {
			if s.timers[i].due.Equal(s.timers[j].due) {
				return s.timers[i].seq < s.timers[j].seq
			}
			return s.timers[i].due.Before(s.timers[j].due)
		})
		if len(s.timers) == 0 || s.timers[0].due.After(target) {
			s.now = target
			s.mu.Unlock()
			return
		}
		t := s.timers[0]
		s.timers = s.timers[1:]
		t.done = true
		s.now = t.due
		s.mu.Unlock()
		t.f()
	}
}

// Pending returns how many timers are waiting.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Next returns the delay until the earliest pending timer.
func (s *ManualScheduler) Next() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return 0, false
	}
	next := s.timers[0].due
	for _, t := range s.timers[1:] {
		if t.due.Before(next) {
			next = t.due
		}
	}
	return next.Sub(s.now), true
}

// RunUntilIdle fires timers until none remain or limit callbacks ran.
// Returns the number fired.
func (s *ManualScheduler) RunUntilIdle(limit int) int {
	n := 0
	for n < limit {
		d, ok := s.Next()
		if !ok {
			return n
		}
		s.Advance(d)
		n++
	}
	return n
}

// #endregion manual-scheduler
