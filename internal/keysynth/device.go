// Package keysynth synthesises keyboard and mouse input.
//
// A Device is called from two goroutines at once: the MIDI listener presses
// keys while the release scheduler lets them go. Every implementation in this
// package serialises its own writes so a key event and its sync marker (or a
// serial frame) are never interleaved with another call.
package keysynth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chase3718/drumkeys/internal/logging"
)

// Device is the input-simulation capability.
type Device interface {
	// Activate presses and holds key.
	Activate(key Key) error
	// Deactivate releases key.
	Deactivate(key Key) error
	// Click presses and releases a mouse button.
	Click(b Button) error
	// MoveRelative moves the pointer by dx, dy.
	MoveRelative(dx, dy int) error
	Close() error
}

// Output selects a Device implementation.
type Output string

const (
	OutputLog    Output = "log"
	OutputUinput Output = "uinput"
	OutputSerial Output = "serial"
)

// ErrUnsupported is returned when an output is not available on this platform.
var ErrUnsupported = errors.New("keysynth: output not supported on this platform")

// ParseOutput validates an output name.
func ParseOutput(s string) (Output, error) {
	switch o := Output(strings.ToLower(s)); o {
	case OutputLog, OutputUinput, OutputSerial:
		return o, nil
	}
	return "", fmt.Errorf("keysynth: unknown output %q (want log, uinput or serial)", s)
}

// Config carries the parameters for Open.
type Config struct {
	Output Output
	// Name is the uinput device name.
	Name string
	// Serial and Baud configure the serial HID bridge.
	Serial string
	Baud   int
	Logger *slog.Logger
}

// Open creates the Device selected by cfg.Output.
func Open(cfg Config) (Device, error) {
	log := logging.OrDefault(cfg.Logger)
	switch cfg.Output {
	case OutputLog, "":
		return NewLogDevice(log), nil
	case OutputUinput:
		u, err := OpenUinput(cfg.Name, log)
		if err != nil {
			return nil, err
		}
		return u, nil
	case OutputSerial:
		b, err := OpenBridge(cfg.Serial, cfg.Baud, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("keysynth: unknown output %q", cfg.Output)
}

// -------------------- Log device --------------------

// LogDevice only logs what it would do. Used for dry runs.
type LogDevice struct {
	log *slog.Logger
}

// NewLogDevice returns a LogDevice writing to log.
func NewLogDevice(log *slog.Logger) *LogDevice {
	return &LogDevice{log: logging.OrDefault(log)}
}

// Activate logs a key press.
func (d *LogDevice) Activate(key Key) error {
	d.log.Info("keysynth: key down", "key", key)
	return nil
}

// Deactivate logs a key release.
func (d *LogDevice) Deactivate(key Key) error {
	d.log.Info("keysynth: key up", "key", key)
	return nil
}

// Click logs a mouse click.
func (d *LogDevice) Click(b Button) error {
	d.log.Info("keysynth: click", "button", b)
	return nil
}

// MoveRelative logs a pointer move.
func (d *LogDevice) MoveRelative(dx, dy int) error {
	d.log.Info("keysynth: move", "dx", dx, "dy", dy)
	return nil
}

// Close is a no-op.
func (d *LogDevice) Close() error { return nil }

var (
	_ Device = (*LogDevice)(nil)
	_ Device = (*Bridge)(nil)
)
