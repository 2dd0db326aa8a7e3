// Package keymap maps controller note numbers to synthetic input actions.
package keymap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chase3718/drumkeys/internal/keysynth"
)

// MaxID is the highest note number a mapping may use.
const MaxID = 99

// Kind classifies an Action.
type Kind int

const (
	// ActionNone does nothing. Unmapped notes resolve to it.
	ActionNone Kind = iota
	// ActionHold presses a key and schedules its release.
	ActionHold
	// ActionClick clicks a mouse button.
	ActionClick
	// ActionMove moves the pointer.
	ActionMove
)

func (k Kind) String() string {
	switch k {
	case ActionNone:
		return "none"
	case ActionHold:
		return "hold"
	case ActionClick:
		return "click"
	case ActionMove:
		return "move"
	}
	return "unknown"
}

// Action describes what a note triggers.
type Action struct {
	Kind   Kind
	Key    keysynth.Key
	Button keysynth.Button
	DX, DY int
}

// Hold returns a held-key action.
func Hold(k keysynth.Key) Action { return Action{Kind: ActionHold, Key: k} }

// Click returns a one-shot click action.
func Click(b keysynth.Button) Action { return Action{Kind: ActionClick, Button: b} }

// Move returns a one-shot relative pointer move.
func Move(dx, dy int) Action { return Action{Kind: ActionMove, DX: dx, DY: dy} }

// String renders the action in the same form ParseAction accepts.
func (a Action) String() string {
	switch a.Kind {
	case ActionHold:
		return string(a.Key)
	case ActionClick:
		return "click:" + string(a.Button)
	case ActionMove:
		return fmt.Sprintf("move:%d,%d", a.DX, a.DY)
	}
	return "none"
}

func (a Action) validate() error {
	switch a.Kind {
	case ActionHold:
		_, err := keysynth.LookupKey(string(a.Key))
		return err
	case ActionClick:
		_, err := keysynth.LookupButton(string(a.Button))
		return err
	case ActionMove:
		if a.DX == 0 && a.DY == 0 {
			return fmt.Errorf("keymap: move of (0,0) does nothing")
		}
		if a.DX < -127 || a.DX > 127 || a.DY < -127 || a.DY > 127 {
			return fmt.Errorf("keymap: move (%d,%d) out of range [-127,127]", a.DX, a.DY)
		}
		return nil
	case ActionNone:
		return nil
	}
	return fmt.Errorf("keymap: unknown action kind %d", a.Kind)
}

// ParseAction parses "space", "click:left", "move:30,0" or "none".
func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	kind, arg, _ := strings.Cut(s, ":")
	switch strings.ToLower(kind) {
	case "none":
		return Action{}, nil
	case "click":
		b, err := keysynth.LookupButton(arg)
		if err != nil {
			return Action{}, err
		}
		return Click(b), nil
	case "move":
		xs, ys, ok := strings.Cut(arg, ",")
		if !ok {
			return Action{}, fmt.Errorf("keymap: move needs dx,dy, got %q", arg)
		}
		dx, err := strconv.Atoi(strings.TrimSpace(xs))
		if err != nil {
			return Action{}, fmt.Errorf("keymap: bad dx %q: %w", xs, err)
		}
		dy, err := strconv.Atoi(strings.TrimSpace(ys))
		if err != nil {
			return Action{}, fmt.Errorf("keymap: bad dy %q: %w", ys, err)
		}
		a := Move(dx, dy)
		return a, a.validate()
	}
	k, err := keysynth.LookupKey(s)
	if err != nil {
		return Action{}, err
	}
	return Hold(k), nil
}

// ParseEntry parses one "note=action" override, e.g. "36=space".
func ParseEntry(s string) (uint8, Action, error) {
	ids, as, ok := strings.Cut(s, "=")
	if !ok {
		return 0, Action{}, fmt.Errorf("keymap: entry %q is not note=action", s)
	}
	id, err := parseID(ids)
	if err != nil {
		return 0, Action{}, err
	}
	a, err := ParseAction(as)
	if err != nil {
		return 0, Action{}, fmt.Errorf("keymap: entry %q: %w", s, err)
	}
	return id, a, nil
}

func parseID(s string) (uint8, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("keymap: bad note number %q", s)
	}
	if n < 0 || n > MaxID {
		return 0, fmt.Errorf("keymap: note %d out of range [0,%d]", n, MaxID)
	}
	return uint8(n), nil
}

// -------------------- Map --------------------

// Map is an immutable note → action table. Safe for concurrent lookups.
type Map struct {
	actions map[uint8]Action
}

// New validates entries and builds a Map. ActionNone entries are dropped.
func New(entries map[uint8]Action) (*Map, error) {
	m := &Map{actions: make(map[uint8]Action, len(entries))}
	for id, a := range entries {
		if id > MaxID {
			return nil, fmt.Errorf("keymap: note %d out of range [0,%d]", id, MaxID)
		}
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("keymap: note %d: %w", id, err)
		}
		if a.Kind == ActionNone {
			continue
		}
		m.actions[id] = a
	}
	return m, nil
}

// Default is the stock layout for a small drum kit: WASD plus space on the
// pads, a left click, and two horizontal pointer nudges.
func Default() *Map {
	m, err := New(map[uint8]Action{
		10: Hold("space"),
		15: Click(keysynth.ButtonLeft),
		20: Move(-30, 0),
		25: Hold("w"),
		30: Move(30, 0),
		35: Hold("a"),
		40: Hold("s"),
		45: Hold("d"),
	})
	if err != nil {
		panic(err)
	}
	return m
}

// With returns a copy of m with overrides applied. An ActionNone override
// unmaps the note.
func (m *Map) With(overrides map[uint8]Action) (*Map, error) {
	merged := make(map[uint8]Action, len(m.actions)+len(overrides))
	for id, a := range m.actions {
		merged[id] = a
	}
	for id, a := range overrides {
		merged[id] = a
	}
	return New(merged)
}

// Lookup returns the action for a note. Unmapped notes return ActionNone.
func (m *Map) Lookup(id uint8) Action {
	return m.actions[id]
}

// Len returns the number of mapped notes.
func (m *Map) Len() int { return len(m.actions) }

// IDs returns the mapped note numbers in ascending order.
func (m *Map) IDs() []uint8 {
	ids := make([]uint8, 0, len(m.actions))
	for id := range m.actions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type yamlEntry struct {
	Note   uint8  `yaml:"note"`
	Kind   string `yaml:"kind"`
	Action string `yaml:"action"`
}

// YAML renders the table, sorted by note, for display.
func (m *Map) YAML() ([]byte, error) {
	doc := struct {
		Mapping []yamlEntry `yaml:"mapping"`
	}{}
	for _, id := range m.IDs() {
		a := m.actions[id]
		doc.Mapping = append(doc.Mapping, yamlEntry{Note: id, Kind: a.Kind.String(), Action: a.String()})
	}
	return yaml.Marshal(doc)
}
