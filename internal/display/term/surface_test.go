package term

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaisdelllab/operant/internal/display"
)

func sized(t *testing.T, s *Surface) model {
	t.Helper()
	m, _ := newModel(s).Update(tea.WindowSizeMsg{Width: 80, Height: 25})
	return m.(model)
}

func TestRender_KeysAndText(t *testing.T) {
	lay := display.DefaultLayout()
	items := []display.Placed{
		{Drawable: display.Background(), Region: display.Screen, Tag: "bkgrd"},
		{Drawable: display.Key("s.bmp", "S1", true), Region: lay.Sample, Tag: "sample"},
		{Drawable: display.Text("ITI"), Region: display.Region{X: 0, Y: 0, W: 1024, H: 100}},
	}
	out := render(items, 80, 24)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 24)
	assert.Contains(t, out, "S1")
	assert.Contains(t, out, "ITI")
	assert.Empty(t, render(items, 0, 0))
}

func TestModel_MouseDispatchesToScene(t *testing.T) {
	s := New(Options{})
	m := sized(t, s)

	var got []display.Click
	require.NoError(t, s.Draw(display.Background(), display.Screen, "bkgrd"))
	require.NoError(t, s.Draw(display.Key("s.bmp", "S1", true), display.DefaultLayout().Sample, "sample"))
	s.BindClick("sample", func(c display.Click) { got = append(got, c) })

	// cell under the sample key center
	cx, cy := display.DefaultLayout().Sample.Center()
	col, row := toCell(cx, cy, 80, 24)
	m.Update(tea.MouseMsg{X: col, Y: row, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	// release and background clicks are ignored / unbound
	m.Update(tea.MouseMsg{X: col, Y: row, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})
	m.Update(tea.MouseMsg{X: 0, Y: 0, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})

	require.Len(t, got, 1)
	assert.Equal(t, display.Tag("sample"), got[0].Tag)
}

func TestModel_OperatorKeys(t *testing.T) {
	var begun, cancelled int
	s := New(Options{OnBegin: func() { begun++ }, OnCancel: func() { cancelled++ }})
	m := sized(t, s)

	m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})

	assert.Equal(t, 1, begun)
	assert.Equal(t, 1, cancelled)
	assert.Contains(t, m.View(), "begin session")
}

func TestSurface_CloseStopsWaiter(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Draw(display.Background(), display.Screen, ""))
	m := newModel(s)

	msg := m.wait()()
	assert.IsType(t, redrawMsg{}, msg)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	msg = m.wait()()
	assert.IsType(t, closedMsg{}, msg)
	assert.True(t, s.Closed())
}
