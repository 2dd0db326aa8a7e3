//go:build !linux

package keysynth

import "log/slog"

const DefaultUinputName = "drumkeys virtual keyboard"

// Uinput is only available on Linux.
type Uinput struct{}

// OpenUinput always fails with ErrUnsupported.
func OpenUinput(string, *slog.Logger) (*Uinput, error) { return nil, ErrUnsupported }

func (*Uinput) Activate(Key) error          { return ErrUnsupported }
func (*Uinput) Deactivate(Key) error        { return ErrUnsupported }
func (*Uinput) Click(Button) error          { return ErrUnsupported }
func (*Uinput) MoveRelative(int, int) error { return ErrUnsupported }
func (*Uinput) Close() error                { return nil }
