// Package actions holds the static table mapping UI actions to engine
// commands, the parameter encoders used when dispatching them and the
// decoders that reduce engine state notifications to a single scalar.
package actions

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindButton    Kind = "button"
	KindToggle    Kind = "toggle"
	KindSelect    Kind = "select"
	KindSeparator Kind = "separator"
)

func (k Kind) Valid() bool {
	switch k {
	case KindButton, KindToggle, KindSelect, KindSeparator:
		return true
	default:
		return false
	}
}

// Tracked kinds carry state the UI has to mirror.
func (k Kind) Tracked() bool {
	return k == KindToggle || k == KindSelect
}

type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// Descriptor maps one logical UI action to an engine command.
type Descriptor struct {
	ID       string   `json:"id" yaml:"id"`
	Command  string   `json:"command,omitempty" yaml:"command,omitempty"`
	Kind     Kind     `json:"kind" yaml:"kind"`
	Label    string   `json:"label,omitempty" yaml:"label,omitempty"`
	Icon     string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	Shortcut string   `json:"shortcut,omitempty" yaml:"shortcut,omitempty"`
	Encoding Encoding `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Options  []Option `json:"options,omitempty" yaml:"options,omitempty"`
}

// EffectiveEncoding returns the declared encoding, or the one known for the
// command when none was declared.
func (d Descriptor) EffectiveEncoding() Encoding {
	if d.Encoding != "" {
		return d.Encoding
	}
	return EncodingForCommand(d.Command)
}

type Group struct {
	ID     string       `json:"id" yaml:"id"`
	Label  string       `json:"label,omitempty" yaml:"label,omitempty"`
	Hidden bool         `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Items  []Descriptor `json:"items" yaml:"items"`
}

// Commands that always report enabled state even though they are plain
// buttons.
var alwaysTracked = []string{CommandUndo, CommandRedo}

var (
	ErrDuplicateAction = errors.New("duplicate action id")
	ErrInvalidAction   = errors.New("invalid action")
)

// Table is an immutable lookup over a set of action groups.
type Table struct {
	groups    []Group
	byID      map[string]Descriptor
	byCommand map[string]Descriptor
	tracked   []string
}

func NewTable(groups []Group) (*Table, error) {
	t := &Table{
		groups:    make([]Group, 0, len(groups)),
		byID:      make(map[string]Descriptor),
		byCommand: make(map[string]Descriptor),
	}

	seenTracked := make(map[string]bool)
	for _, g := range groups {
		items := make([]Descriptor, 0, len(g.Items))
		for _, d := range g.Items {
			if d.Kind == "" {
				d.Kind = KindButton
			}
			if !d.Kind.Valid() {
				return nil, fmt.Errorf("%w: %q has kind %q", ErrInvalidAction, d.ID, d.Kind)
			}
			items = append(items, d)
			if d.Kind == KindSeparator {
				continue
			}
			if d.ID == "" || d.Command == "" {
				return nil, fmt.Errorf("%w: group %q item needs id and command", ErrInvalidAction, g.ID)
			}
			if d.Encoding != "" && !d.Encoding.Valid() {
				return nil, fmt.Errorf("%w: %q has encoding %q", ErrInvalidAction, d.ID, d.Encoding)
			}
			if _, ok := t.byID[d.ID]; ok {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateAction, d.ID)
			}
			t.byID[d.ID] = d
			if _, ok := t.byCommand[d.Command]; !ok {
				t.byCommand[d.Command] = d
			}
			if d.Kind.Tracked() && !seenTracked[d.Command] {
				seenTracked[d.Command] = true
				t.tracked = append(t.tracked, d.Command)
			}
		}
		g.Items = items
		t.groups = append(t.groups, g)
	}

	for _, c := range alwaysTracked {
		if !seenTracked[c] {
			seenTracked[c] = true
			t.tracked = append(t.tracked, c)
		}
	}
	return t, nil
}

// MustTable is NewTable for tables known to be valid at compile time.
func MustTable(groups []Group) *Table {
	t, err := NewTable(groups)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup resolves an action ID first and an engine command second.
func (t *Table) Lookup(key string) (Descriptor, bool) {
	if t == nil {
		return Descriptor{}, false
	}
	if d, ok := t.byID[key]; ok {
		return d, true
	}
	d, ok := t.byCommand[key]
	return d, ok
}

// ByCommand returns the first descriptor declared for command.
func (t *Table) ByCommand(command string) (Descriptor, bool) {
	if t == nil {
		return Descriptor{}, false
	}
	d, ok := t.byCommand[command]
	return d, ok
}

// Tracked lists the commands that need status subscriptions: every toggle and
// select, then Undo and Redo, in declaration order without duplicates.
func (t *Table) Tracked() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.tracked))
	copy(out, t.tracked)
	return out
}

func (t *Table) IsTracked(command string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.tracked {
		if c == command {
			return true
		}
	}
	return false
}

// Groups returns the visible groups in declaration order.
func (t *Table) Groups() []Group {
	if t == nil {
		return nil
	}
	out := make([]Group, 0, len(t.groups))
	for _, g := range t.groups {
		if g.Hidden {
			continue
		}
		out = append(out, g)
	}
	return out
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byID)
}
