// Package device drives the reinforcement hopper. The session is the only
// caller and commands must alternate between accessible and inaccessible.
package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// #region contract
// ErrDoubleAccess is returned when the hopper is raised while already raised.
var ErrDoubleAccess = errors.New("device: hopper already accessible")

// ErrClosed is returned when commanding a closed device.
var ErrClosed = errors.New("device: closed")

// Device is a two-state reinforcement device.
type Device interface {
	SetAccessible(ctx context.Context, accessible bool) error
	Close() error
}

// #endregion contract

// #region hopper
// Transition is one recorded hopper command.
type Transition struct {
	At         time.Time
	Accessible bool
}

// Hopper is an in-process simulated hopper. Lowering an already lowered
// hopper is a no-op, so shutdown can always command it safely.
type Hopper struct {
	mu      sync.Mutex
	up      bool
	closed  bool
	history []Transition
	raises  int
	now     func() time.Time
	logger  *zap.Logger
}

// NewHopper returns a lowered simulated hopper.
func NewHopper(logger *zap.Logger) *Hopper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hopper{now: time.Now, logger: logger}
}

func (h *Hopper) SetAccessible(_ context.Context, accessible bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if accessible && h.up {
		return ErrDoubleAccess
	}
	if accessible == h.up {
		return nil
	}
	h.up = accessible
	if accessible {
		h.raises++
	}
	h.history = append(h.history, Transition{At: h.now(), Accessible: accessible})
	h.logger.Debug("hopper", zap.Bool("accessible", accessible))
	return nil
}

// Accessible reports the current state.
func (h *Hopper) Accessible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.up
}

// Raises counts how many times the hopper went up.
func (h *Hopper) Raises() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.raises
}

// History returns every state change in order.
func (h *Hopper) History() []Transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Transition(nil), h.history...)
}

// Close lowers the hopper and refuses further commands.
func (h *Hopper) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.up {
		h.up = false
		h.history = append(h.history, Transition{At: h.now(), Accessible: false})
	}
	h.closed = true
	return nil
}

// #endregion hopper
