//go:build linux

package keysynth

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/holoplot/go-evdev"

	"github.com/chase3718/drumkeys/internal/logging"
)

// DefaultUinputName is the name the virtual device shows in /dev/input.
const DefaultUinputName = "drumkeys virtual keyboard"

// evdevCode maps every supported key to its Linux input event code.
var evdevCode = map[Key]evdev.EvCode{
	"a": evdev.KEY_A, "b": evdev.KEY_B, "c": evdev.KEY_C, "d": evdev.KEY_D,
	"e": evdev.KEY_E, "f": evdev.KEY_F, "g": evdev.KEY_G, "h": evdev.KEY_H,
	"i": evdev.KEY_I, "j": evdev.KEY_J, "k": evdev.KEY_K, "l": evdev.KEY_L,
	"m": evdev.KEY_M, "n": evdev.KEY_N, "o": evdev.KEY_O, "p": evdev.KEY_P,
	"q": evdev.KEY_Q, "r": evdev.KEY_R, "s": evdev.KEY_S, "t": evdev.KEY_T,
	"u": evdev.KEY_U, "v": evdev.KEY_V, "w": evdev.KEY_W, "x": evdev.KEY_X,
	"y": evdev.KEY_Y, "z": evdev.KEY_Z,

	"1": evdev.KEY_1, "2": evdev.KEY_2, "3": evdev.KEY_3, "4": evdev.KEY_4,
	"5": evdev.KEY_5, "6": evdev.KEY_6, "7": evdev.KEY_7, "8": evdev.KEY_8,
	"9": evdev.KEY_9, "0": evdev.KEY_0,

	"enter":     evdev.KEY_ENTER,
	"esc":       evdev.KEY_ESC,
	"backspace": evdev.KEY_BACKSPACE,
	"tab":       evdev.KEY_TAB,
	"space":     evdev.KEY_SPACE,
	"home":      evdev.KEY_HOME,
	"pageup":    evdev.KEY_PAGEUP,
	"end":       evdev.KEY_END,
	"pagedown":  evdev.KEY_PAGEDOWN,
	"right":     evdev.KEY_RIGHT,
	"left":      evdev.KEY_LEFT,
	"down":      evdev.KEY_DOWN,
	"up":        evdev.KEY_UP,
	"leftctrl":  evdev.KEY_LEFTCTRL,
	"leftshift": evdev.KEY_LEFTSHIFT,
	"leftalt":   evdev.KEY_LEFTALT,
}

var evdevButton = map[Button]evdev.EvCode{
	ButtonLeft:   evdev.BTN_LEFT,
	ButtonRight:  evdev.BTN_RIGHT,
	ButtonMiddle: evdev.BTN_MIDDLE,
}

// Uinput is a virtual keyboard and mouse created through /dev/uinput.
type Uinput struct {
	mu  sync.Mutex
	dev *evdev.InputDevice
	log *slog.Logger
}

// OpenUinput creates the virtual device. The caller needs write access to
// /dev/uinput.
func OpenUinput(name string, log *slog.Logger) (*Uinput, error) {
	log = logging.OrDefault(log)
	if name == "" {
		name = DefaultUinputName
	}

	keys := make([]evdev.EvCode, 0, len(evdevCode)+len(evdevButton))
	for _, c := range evdevCode {
		keys = append(keys, c)
	}
	for _, c := range evdevButton {
		keys = append(keys, c)
	}

	dev, err := evdev.CreateDevice(name, evdev.InputID{
		BusType: 0x03, // BUS_USB
		Vendor:  0x1209,
		Product: 0xd7d7,
		Version: 1,
	}, map[evdev.EvType][]evdev.EvCode{
		evdev.EV_KEY: keys,
		evdev.EV_REL: {evdev.REL_X, evdev.REL_Y},
	})
	if err != nil {
		return nil, fmt.Errorf("keysynth: create uinput device: %w", err)
	}
	log.Info("uinput: device created", "name", name)
	return &Uinput{dev: dev, log: log}, nil
}

// Activate reports key as pressed.
func (u *Uinput) Activate(key Key) error {
	code, ok := evdevCode[key]
	if !ok {
		return fmt.Errorf("keysynth: unknown key %q", key)
	}
	return u.emit(evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: 1})
}

// Deactivate reports key as released.
func (u *Uinput) Deactivate(key Key) error {
	code, ok := evdevCode[key]
	if !ok {
		return fmt.Errorf("keysynth: unknown key %q", key)
	}
	return u.emit(evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: 0})
}

// Click reports press and release in separate sync frames, otherwise some
// readers coalesce them into nothing.
func (u *Uinput) Click(b Button) error {
	code, ok := evdevButton[b]
	if !ok {
		return fmt.Errorf("keysynth: unknown mouse button %q", b)
	}
	if err := u.emit(evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: 1}); err != nil {
		return err
	}
	return u.emit(evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: 0})
}

// MoveRelative reports a relative pointer motion.
func (u *Uinput) MoveRelative(dx, dy int) error {
	var events []evdev.InputEvent
	if dx != 0 {
		events = append(events, evdev.InputEvent{Type: evdev.EV_REL, Code: evdev.REL_X, Value: int32(dx)})
	}
	if dy != 0 {
		events = append(events, evdev.InputEvent{Type: evdev.EV_REL, Code: evdev.REL_Y, Value: int32(dy)})
	}
	if len(events) == 0 {
		return nil
	}
	return u.emit(events...)
}

// emit writes events followed by a SYN_REPORT as one atomic group.
func (u *Uinput) emit(events ...evdev.InputEvent) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	events = append(events, evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT})
	for i := range events {
		if err := u.dev.WriteOne(&events[i]); err != nil {
			return fmt.Errorf("keysynth: uinput write: %w", err)
		}
	}
	return nil
}

// Close destroys the virtual device.
func (u *Uinput) Close() error {
	u.log.Info("uinput: destroying device")
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dev.Close()
}

var _ Device = (*Uinput)(nil)
