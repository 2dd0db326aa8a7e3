package keysynth

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/chase3718/drumkeys/internal/logging"
)

// DefaultBaud is the bridge firmware's default line rate.
const DefaultBaud = 115200

// Bridge drives a microcontroller that enumerates as a USB keyboard/mouse and
// replays framed commands received over a serial line.
type Bridge struct {
	mu   sync.Mutex
	port io.WriteCloser
	log  *slog.Logger
}

// OpenBridge opens the named serial device at the given baud rate.
func OpenBridge(name string, baud int, log *slog.Logger) (*Bridge, error) {
	log = logging.OrDefault(log)
	if name == "" {
		return nil, fmt.Errorf("keysynth: serial bridge needs a device path")
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		log.Error("serial: failed to open port", "device", name, "baud", baud, "err", err)
		return nil, fmt.Errorf("keysynth: open %s: %w", name, err)
	}
	log.Info("serial: port opened", "device", name, "baud", baud)
	return NewBridge(p, log), nil
}

// NewBridge wraps an already open port.
func NewBridge(port io.WriteCloser, log *slog.Logger) *Bridge {
	return &Bridge{port: port, log: logging.OrDefault(log)}
}

// Activate sends a key-down frame.
func (b *Bridge) Activate(key Key) error {
	f, err := keyFrame(CmdKeyDown, key)
	if err != nil {
		return err
	}
	return b.send(f)
}

// Deactivate sends a key-up frame.
func (b *Bridge) Deactivate(key Key) error {
	f, err := keyFrame(CmdKeyUp, key)
	if err != nil {
		return err
	}
	return b.send(f)
}

// Click sends a click frame; the firmware presses and releases the button.
func (b *Bridge) Click(btn Button) error {
	f, err := clickFrame(btn)
	if err != nil {
		return err
	}
	return b.send(f)
}

// MoveRelative sends a move frame. Each axis must fit in an int8.
func (b *Bridge) MoveRelative(dx, dy int) error {
	f, err := moveFrame(dx, dy)
	if err != nil {
		return err
	}
	return b.send(f)
}

// send encodes and writes a Frame. A short write is an error: the firmware
// resynchronises on SOF but the command is lost.
func (b *Bridge) send(f Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.port.Write(data)
	if err != nil {
		b.log.Error("serial: write error", "err", err)
		return fmt.Errorf("keysynth: serial write: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("keysynth: serial short write (%d of %d bytes)", n, len(data))
	}
	b.log.Debug("serial: frame sent", "bytes", n, "cmd", fmt.Sprintf("0x%02X", f.Cmd))
	return nil
}

// Close closes the underlying serial port.
func (b *Bridge) Close() error {
	b.log.Info("serial: closing port")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port.Close()
}
