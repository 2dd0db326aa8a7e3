package midiin

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/chase3718/drumkeys/internal/logging"
)

// RescanInterval is the minimum time between two port scans.
const RescanInterval = 1000 * time.Millisecond

// Handler receives the raw bytes of every message from the followed port.
// It runs on the driver's listener goroutine and must return quickly.
type Handler func(data []byte)

// Watcher keeps a connection to one named input port. If the port
// disappears it is closed, and Tick reconnects once it shows up again.
type Watcher struct {
	mu      sync.Mutex
	drv     drivers.Driver
	target  string
	handler Handler
	link    *link
	scanned time.Time
	log     *slog.Logger
}

// link is one open listening session on a port.
type link struct {
	port drivers.In
	stop func()
}

// Open initialises the rtmidi driver. Call Close when done.
func Open(log *slog.Logger) (*Watcher, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midiin: rtmididrv: %w", err)
	}
	return NewWatcher(drv, log), nil
}

// NewWatcher wraps an already initialised driver.
func NewWatcher(drv drivers.Driver, log *slog.Logger) *Watcher {
	return &Watcher{drv: drv, log: logging.OrDefault(log)}
}

// Inputs lists the usable input port names.
func (w *Watcher) Inputs() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.listInputs()
}

// Follow connects to the named port and keeps following it. When the first
// connect fails the target is still kept, so Tick retries.
func (w *Watcher) Follow(name string, h Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disconnect()
	w.target = name
	w.handler = h
	w.scanned = time.Now()
	return w.connect()
}

// Connected reports whether the followed port is currently open.
func (w *Watcher) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.link != nil
}

// Tick should be called on a regular interval from the main loop. At most
// once per RescanInterval it looks for the followed port and brings the
// connection in line with what it finds.
func (w *Watcher) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.target == "" {
		return
	}
	now := time.Now()
	if !w.scanned.IsZero() && now.Sub(w.scanned) < RescanInterval {
		return
	}
	w.scanned = now

	inputs, err := w.listInputs()
	if err != nil {
		return
	}
	w.reconcile(slices.Contains(inputs, w.target))
}

// Close shuts down the active connection and the driver.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disconnect()
	w.target = ""
	return w.drv.Close()
}

// -------------------- internal --------------------

// reconcile drops a link whose port is gone, or reopens a missing one whose
// port is back. Called with mu held.
func (w *Watcher) reconcile(present bool) {
	up := w.link != nil
	if up == present {
		return
	}
	if up {
		w.log.Warn("midi: device disappeared", "device", w.target)
		w.disconnect()
		return
	}
	if err := w.connect(); err != nil {
		w.log.Error("midi: reconnect failed", "device", w.target, "err", err)
	}
}

func (w *Watcher) listInputs() ([]string, error) {
	ins, err := w.drv.Ins()
	if err != nil {
		w.log.Error("midi: list inputs failed", "err", err)
		return nil, fmt.Errorf("midiin: list inputs: %w", err)
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	usable := Filter(names)
	w.log.Debug("midi: inputs found", "count", len(usable), "excluded", len(names)-len(usable))
	return usable, nil
}

func (w *Watcher) lookup(name string) (drivers.In, error) {
	ins, err := w.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("midiin: list inputs: %w", err)
	}
	for _, in := range ins {
		if in.String() == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("midiin: input %q not found", name)
}

// connect opens the target port and starts listening. Called with mu held.
func (w *Watcher) connect() error {
	name := w.target
	port, err := w.lookup(name)
	if err != nil {
		return err
	}
	if err := port.Open(); err != nil {
		return fmt.Errorf("midiin: open %q: %w", name, err)
	}

	h := w.handler
	l := &link{port: port}
	stop, err := midi.ListenTo(port,
		func(msg midi.Message, _ int32) { h([]byte(msg)) },
		midi.HandleError(func(err error) { w.lost(l, err) }),
	)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("midiin: listen %q: %w", name, err)
	}
	l.stop = stop
	w.link = l
	w.log.Info("midi: connected", "device", name)
	return nil
}

// lost handles a listener error on l. A listener must not be stopped from
// its own callback, so the link is torn down on a fresh goroutine.
func (w *Watcher) lost(l *link, err error) {
	w.log.Warn("midi: listener error", "device", l.port.String(), "err", err)
	go func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.link != l {
			return
		}
		w.disconnect()
		w.scanned = time.Time{} // rescan on the next tick
	}()
}

// disconnect stops and closes the current link, if any. Called with mu held.
func (w *Watcher) disconnect() {
	l := w.link
	if l == nil {
		return
	}
	w.link = nil
	if l.stop != nil {
		l.stop()
	}
	_ = l.port.Close()
	w.log.Info("midi: connection closed", "device", w.target)
}
