// Package ingest turns raw controller messages into synthetic input.
package ingest

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chase3718/drumkeys/internal/keymap"
	"github.com/chase3718/drumkeys/internal/keysynth"
	"github.com/chase3718/drumkeys/internal/logging"
	"github.com/chase3718/drumkeys/internal/release"
)

// DefaultHoldScale is how long a key stays down per unit of strength.
const DefaultHoldScale = 2 * time.Millisecond

const noteOn = 0x90

// Enqueuer schedules the release of a key that was just pressed.
type Enqueuer interface {
	Enqueue(key keysynth.Key, hold time.Duration) release.Pending
}

// Stats counts what Handle has seen.
type Stats struct {
	Handled  uint64
	Ignored  uint64
	Held     uint64
	OneShot  uint64
	Unmapped uint64
	Dropped  uint64 // arrived after Stop
}

// Ingestor dispatches note-on messages to a keysynth.Device.
type Ingestor struct {
	keys  *keymap.Map
	dev   keysynth.Device
	sched Enqueuer
	scale time.Duration
	log   *slog.Logger

	// mu is held shared by every Handle and exclusively by Stop.
	mu      sync.RWMutex
	stopped bool

	handled, ignored, held, oneShot, unmapped, dropped atomic.Uint64
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithHoldScale sets the hold time per unit of strength.
func WithHoldScale(d time.Duration) Option {
	return func(in *Ingestor) { in.scale = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingestor) { in.log = l }
}

// New returns an Ingestor that looks notes up in keys, drives dev and hands
// held keys to sched.
func New(keys *keymap.Map, dev keysynth.Device, sched Enqueuer, opts ...Option) *Ingestor {
	in := &Ingestor{
		keys:  keys,
		dev:   dev,
		sched: sched,
		scale: DefaultHoldScale,
	}
	for _, o := range opts {
		o(in)
	}
	if in.scale < 0 {
		in.scale = 0
	}
	in.log = logging.OrDefault(in.log)
	return in
}

// HoldFor converts a strength into a hold duration.
func (in *Ingestor) HoldFor(strength uint8) time.Duration {
	return time.Duration(strength) * in.scale
}

// Handle processes one raw message. Only 3-byte note-on messages act; every
// other message is logged and dropped. The error is non-nil only when the
// device failed, which the caller must treat as fatal.
//
// A held key is activated before its release is queued, so the scheduler
// never sees a record for a key that is not down.
//
// After Stop, Handle drops everything.
func (in *Ingestor) Handle(data []byte) error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.stopped {
		in.dropped.Add(1)
		return nil
	}
	if len(data) != 3 {
		in.ignored.Add(1)
		in.log.Debug("ingest: ignoring message", "len", len(data), "data", fmt.Sprintf("% X", data))
		return nil
	}
	status, id, strength := data[0], data[1], data[2]
	if status&0xF0 != noteOn {
		in.ignored.Add(1)
		in.log.Debug("ingest: ignoring non note-on", "status", fmt.Sprintf("0x%02X", status), "note", id, "velocity", strength)
		return nil
	}
	in.handled.Add(1)

	act := in.keys.Lookup(id)
	switch act.Kind {
	case keymap.ActionHold:
		if err := in.dev.Activate(act.Key); err != nil {
			return fmt.Errorf("ingest: activate %s: %w", act.Key, err)
		}
		hold := in.HoldFor(strength)
		p := in.sched.Enqueue(act.Key, hold)
		in.held.Add(1)
		in.log.Info("ingest: key down", "note", id, "velocity", strength, "key", act.Key, "hold_ms", hold.Milliseconds(), "seq", p.Seq)

	case keymap.ActionClick:
		if err := in.dev.Click(act.Button); err != nil {
			return fmt.Errorf("ingest: click %s: %w", act.Button, err)
		}
		in.oneShot.Add(1)
		in.log.Info("ingest: click", "note", id, "button", act.Button)

	case keymap.ActionMove:
		if err := in.dev.MoveRelative(act.DX, act.DY); err != nil {
			return fmt.Errorf("ingest: move (%d,%d): %w", act.DX, act.DY, err)
		}
		in.oneShot.Add(1)
		in.log.Info("ingest: move", "note", id, "dx", act.DX, "dy", act.DY)

	default:
		in.unmapped.Add(1)
		in.log.Debug("ingest: unmapped note", "note", id, "velocity", strength)
	}
	return nil
}

// Stop makes every later Handle a no-op. It waits for calls already in
// progress, so once it returns no key is pressed or queued by this Ingestor.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.stopped = true
}

// Stats returns a snapshot of the counters.
func (in *Ingestor) Stats() Stats {
	return Stats{
		Handled:  in.handled.Load(),
		Ignored:  in.ignored.Load(),
		Held:     in.held.Load(),
		OneShot:  in.oneShot.Load(),
		Unmapped: in.unmapped.Load(),
		Dropped:  in.dropped.Load(),
	}
}
