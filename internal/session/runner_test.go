package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blaisdelllab/operant/internal/device"
	"github.com/blaisdelllab/operant/internal/display"
	"github.com/blaisdelllab/operant/internal/recorder"
)

// #region runner-tests
func loopMachine(t *testing.T, r *Runner, timing Timing) (*Machine, *recorder.Memory, *device.Hopper) {
	t.Helper()
	sink := recorder.NewMemory()
	hopper := device.NewHopper(nil)
	m, err := New(Options{
		Plan:      autoshapePlan(2),
		Display:   display.NewRecorder(),
		Device:    hopper,
		Sink:      sink,
		Scheduler: NewLoopScheduler(r),
		Dispatch:  r.Post,
		Timing:    timing,
	})
	require.NoError(t, err)
	return m, sink, hopper
}

func TestRunner_RunsSessionOnRealTimers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewRunner(0, nil)
	m, sink, hopper := loopMachine(t, r, Timing{
		FirstITI:      time.Millisecond,
		ITI:           time.Millisecond,
		Hopper:        time.Millisecond,
		AutoReinforce: 2 * time.Millisecond,
	})
	r.Post(m.Start)
	r.Post(func() { m.Begin() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx, m))

	out := m.Outcome()
	assert.Equal(t, ReasonTrialLimit, out.Reason)
	assert.Equal(t, 2, out.AutoReinforced)
	assert.Equal(t, 2, hopper.Raises())
	assert.False(t, hopper.Accessible())
	assert.Equal(t, recorder.SessionEnds, sink.Labels()[len(sink.Labels())-1])

	// posting after the loop stopped never blocks
	r.Post(func() { t.Error("ran after stop") })
	<-r.Stopped()
}

func TestRunner_ContextCancelIsOperatorStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewRunner(4, nil)
	m, sink, hopper := loopMachine(t, r, DefaultTiming())
	r.Post(m.Start)
	r.Post(func() { m.Begin() })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx, m) }()

	require.Eventually(t, func() bool { return m.Snapshot().Stage == StageITI }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, ReasonOperator, m.Outcome().Reason)
	assert.Equal(t, 0, hopper.Raises())
	assert.Equal(t, []string{recorder.SessionStarts, recorder.SessionEnds}, sink.Labels())
}

// #endregion runner-tests

// #region scheduler-tests
func TestManualScheduler_OrderAndCancel(t *testing.T) {
	s := NewManualScheduler(t0)
	var got []string

	s.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	s.AfterFunc(time.Second, func() {
		got = append(got, "a")
		s.AfterFunc(500*time.Millisecond, func() { got = append(got, "a2") })
	})
	s.AfterFunc(2*time.Second, func() { got = append(got, "c") })
	dropped := s.AfterFunc(1500*time.Millisecond, func() { got = append(got, "x") })

	assert.True(t, dropped.Stop())
	assert.False(t, dropped.Stop())

	d, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, time.Second, d)

	s.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "a2", "b", "c"}, got)
	assert.Equal(t, t0.Add(2*time.Second), s.Now())
	assert.Equal(t, 0, s.Pending())

	s.AfterFunc(time.Hour, func() { got = append(got, "late") })
	assert.Equal(t, 1, s.RunUntilIdle(10))
	assert.Equal(t, "late", got[len(got)-1])
}

// #endregion scheduler-tests
