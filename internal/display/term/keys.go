package term

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the operator key bindings.
type KeyMap struct {
	Begin  key.Binding
	Cancel key.Binding
}

// DefaultKeyMap returns space to begin and escape to end the session.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Begin: key.NewBinding(
			key.WithKeys(" ", "space"),
			key.WithHelp("space", "begin session"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("esc", "end session"),
		),
	}
}
