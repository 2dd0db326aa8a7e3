package keysynth

import (
	"fmt"
	"sort"
	"strings"
)

// Key names a synthesisable keyboard key.
type Key string

// Button names a mouse button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// hidUsage maps every supported key to its USB HID keyboard usage id
// (HID Usage Tables, page 0x07). The set of keys here is the set of keys the
// rest of the package accepts.
var hidUsage = map[Key]byte{
	"a": 0x04, "b": 0x05, "c": 0x06, "d": 0x07, "e": 0x08, "f": 0x09,
	"g": 0x0A, "h": 0x0B, "i": 0x0C, "j": 0x0D, "k": 0x0E, "l": 0x0F,
	"m": 0x10, "n": 0x11, "o": 0x12, "p": 0x13, "q": 0x14, "r": 0x15,
	"s": 0x16, "t": 0x17, "u": 0x18, "v": 0x19, "w": 0x1A, "x": 0x1B,
	"y": 0x1C, "z": 0x1D,

	"1": 0x1E, "2": 0x1F, "3": 0x20, "4": 0x21, "5": 0x22,
	"6": 0x23, "7": 0x24, "8": 0x25, "9": 0x26, "0": 0x27,

	"enter":     0x28,
	"esc":       0x29,
	"backspace": 0x2A,
	"tab":       0x2B,
	"space":     0x2C,
	"home":      0x4A,
	"pageup":    0x4B,
	"end":       0x4D,
	"pagedown":  0x4E,
	"right":     0x4F,
	"left":      0x50,
	"down":      0x51,
	"up":        0x52,
	"leftctrl":  0xE0,
	"leftshift": 0xE1,
	"leftalt":   0xE2,
}

// buttonMask is the HID boot-protocol mouse button bit for each button.
var buttonMask = map[Button]byte{
	ButtonLeft:   0x01,
	ButtonRight:  0x02,
	ButtonMiddle: 0x04,
}

// LookupKey resolves a case-insensitive key name.
func LookupKey(name string) (Key, error) {
	k := Key(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := hidUsage[k]; !ok {
		return "", fmt.Errorf("keysynth: unknown key %q", name)
	}
	return k, nil
}

// LookupButton resolves a case-insensitive button name.
func LookupButton(name string) (Button, error) {
	b := Button(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := buttonMask[b]; !ok {
		return "", fmt.Errorf("keysynth: unknown mouse button %q", name)
	}
	return b, nil
}

// Keys returns every supported key name, sorted.
func Keys() []Key {
	out := make([]Key, 0, len(hidUsage))
	for k := range hidUsage {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Buttons returns every supported mouse button, sorted.
func Buttons() []Button {
	out := make([]Button, 0, len(buttonMask))
	for b := range buttonMask {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
