package picker

import "github.com/charmbracelet/bubbles/key"

// keyMap lists the bindings every prompt understands.
type keyMap struct {
	Cancel    key.Binding
	Up        key.Binding
	Down      key.Binding
	PageUp    key.Binding
	PageDown  key.Binding
	Home      key.Binding
	End       key.Binding
	Toggle    key.Binding
	SelectAll key.Binding
	Reset     key.Binding
	Accept    key.Binding
}

var keys = keyMap{
	Cancel:    key.NewBinding(key.WithKeys("ctrl+c", "esc", "q")),
	Up:        key.NewBinding(key.WithKeys("up", "k")),
	Down:      key.NewBinding(key.WithKeys("down", "j")),
	PageUp:    key.NewBinding(key.WithKeys("pgup")),
	PageDown:  key.NewBinding(key.WithKeys("pgdown")),
	Home:      key.NewBinding(key.WithKeys("home", "g")),
	End:       key.NewBinding(key.WithKeys("end", "G")),
	Toggle:    key.NewBinding(key.WithKeys(" ", "x")),
	SelectAll: key.NewBinding(key.WithKeys("ctrl+a")),
	Reset:     key.NewBinding(key.WithKeys("ctrl+r")),
	Accept:    key.NewBinding(key.WithKeys("enter")),
}

