// Package term renders a session surface in the terminal with bubbletea.
// Mouse clicks are mapped back onto the 1024x768 logical screen.
package term

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/blaisdelllab/operant/internal/display"
)

// #region surface
// Options configures a terminal surface.
type Options struct {
	Keys      KeyMap
	OnBegin   func()
	OnCancel  func()
	Input     io.Reader
	Output    io.Writer
	AltScreen bool
}

// Surface is a display.Surface drawn in the terminal.
type Surface struct {
	*display.Scene
	opts      Options
	redraw    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New returns a surface. Call Run to start the terminal program.
func New(opts Options) *Surface {
	if opts.Keys.Begin.Keys() == nil {
		opts.Keys = DefaultKeyMap()
	}
	return &Surface{
		Scene:  display.NewScene(),
		opts:   opts,
		redraw: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Surface) Draw(d display.Drawable, r display.Region, tag display.Tag) error {
	err := s.Scene.Draw(d, r, tag)
	s.poke()
	return err
}

func (s *Surface) Clear() {
	s.Scene.Clear()
	s.poke()
}

// Close drops the scene and stops the terminal program.
func (s *Surface) Close() error {
	s.closeOnce.Do(func() {
		_ = s.Scene.Close()
		close(s.done)
	})
	return nil
}

// Run blocks until the surface is closed or ctx ends.
func (s *Surface) Run(ctx context.Context) error {
	popts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithMouseCellMotion()}
	if s.opts.AltScreen {
		popts = append(popts, tea.WithAltScreen())
	}
	if s.opts.Input != nil {
		popts = append(popts, tea.WithInput(s.opts.Input))
	}
	if s.opts.Output != nil {
		popts = append(popts, tea.WithOutput(s.opts.Output))
	}
	_, err := tea.NewProgram(newModel(s), popts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// poke requests a redraw without blocking the caller.
func (s *Surface) poke() {
	select {
	case s.redraw <- struct{}{}:
	default:
	}
}

var _ display.Surface = (*Surface)(nil)

// #endregion surface

// #region model
type redrawMsg struct{}
type closedMsg struct{}

type model struct {
	s    *Surface
	w, h int
}

func newModel(s *Surface) model { return model{s: s} }

func (m model) Init() tea.Cmd { return m.wait() }

func (m model) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.s.redraw:
			return redrawMsg{}
		case <-m.s.done:
			return closedMsg{}
		}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.w, m.h = msg.Width, max(0, msg.Height-1)
	case redrawMsg:
		return m, m.wait()
	case closedMsg:
		return m, tea.Quit
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.s.opts.Keys.Begin):
			if m.s.opts.OnBegin != nil {
				m.s.opts.OnBegin()
			}
		case key.Matches(msg, m.s.opts.Keys.Cancel):
			if m.s.opts.OnCancel != nil {
				m.s.opts.OnCancel()
			}
		}
	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft && msg.Y < m.h {
			x, y := toLogical(msg.X, msg.Y, m.w, m.h)
			m.s.Dispatch(x, y)
		}
	}
	return m, nil
}

func (m model) View() string {
	help := helpStyle.Render(m.s.opts.Keys.Begin.Help().Key + " " + m.s.opts.Keys.Begin.Help().Desc +
		" • " + m.s.opts.Keys.Cancel.Help().Key + " " + m.s.opts.Keys.Cancel.Help().Desc)
	return render(m.s.Items(), m.w, m.h) + "\n" + help
}

// #endregion model

// #region render
// toLogical maps the center of terminal cell (col, row) onto the logical screen.
func toLogical(col, row, w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	return (2*col + 1) * display.ScreenWidth / (2 * w), (2*row + 1) * display.ScreenHeight / (2 * h)
}

func toCell(x, y, w, h int) (int, int) {
	return x * w / display.ScreenWidth, y * h / display.ScreenHeight
}

type cell struct {
	ch    rune
	style lipgloss.Style
	owner int
}

func styleFor(d display.Drawable) lipgloss.Style {
	switch d.Kind {
	case display.KindKey:
		if d.Image == "" && d.Label == "" {
			return screenStyle
		}
		if d.Active {
			return keyStyle
		}
		return inactiveStyle
	default:
		return screenStyle
	}
}

// render draws items onto a w x h cell grid, topmost item winning each cell.
func render(items []display.Placed, w, h int) string {
	if w <= 0 || h <= 0 {
		return ""
	}
	grid := make([][]cell, h)
	for row := range grid {
		grid[row] = make([]cell, w)
		for col := range grid[row] {
			c := cell{ch: ' ', style: screenStyle, owner: -1}
			lx, ly := toLogical(col, row, w, h)
			for i := len(items) - 1; i >= 0; i-- {
				it := items[i]
				if it.Drawable.Kind == display.KindText || !it.Region.Contains(lx, ly) {
					continue
				}
				c = cell{ch: ' ', style: styleFor(it.Drawable), owner: i}
				break
			}
			grid[row][col] = c
		}
	}

	for i, it := range items {
		var label string
		switch it.Drawable.Kind {
		case display.KindKey, display.KindText:
			label = it.Drawable.Label
		default:
			continue
		}
		cx, cy := it.Region.Center()
		col, row := toCell(cx, cy, w, h)
		if row < 0 || row >= h {
			continue
		}
		runes := []rune(label)
		start := col - len(runes)/2
		for j, r := range runes {
			c := start + j
			if c < 0 || c >= w {
				continue
			}
			if it.Drawable.Kind == display.KindKey && grid[row][c].owner != i {
				continue
			}
			grid[row][c].ch = r
			if it.Drawable.Kind == display.KindText {
				grid[row][c].style = textStyle
				grid[row][c].owner = -2 - i
			}
		}
	}

	var b strings.Builder
	for row := range grid {
		if row > 0 {
			b.WriteByte('\n')
		}
		start := 0
		for col := 1; col <= w; col++ {
			if col < w && grid[row][col].owner == grid[row][start].owner {
				continue
			}
			run := make([]rune, 0, col-start)
			for c := start; c < col; c++ {
				run = append(run, grid[row][c].ch)
			}
			b.WriteString(grid[row][start].style.Render(string(run)))
			start = col
		}
	}
	return b.String()
}

// #endregion render
