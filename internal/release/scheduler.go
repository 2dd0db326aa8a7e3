package release

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chase3718/drumkeys/internal/keysynth"
	"github.com/chase3718/drumkeys/internal/logging"
)

// Releaser performs the key-up side effect.
type Releaser interface {
	Deactivate(key keysynth.Key) error
}

// Scheduler releases queued keys once their hold has elapsed.
//
// Enqueue may be called from any goroutine. Run owns the release side
// effects: a single goroutine sleeps until the front record's deadline and
// is woken early whenever a new record arrives.
type Scheduler struct {
	queue *Queue
	rel   Releaser
	now   func() time.Time
	log   *slog.Logger

	wake     chan struct{}
	released atomic.Uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler returns a scheduler draining q through r.
func NewScheduler(q *Queue, r Releaser, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue: q,
		rel:   r,
		now:   time.Now,
		wake:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logging.OrDefault(s.log)
	return s
}

// Enqueue records that key was just pressed and must be let go after hold.
// The caller must have already activated the key. Never blocks on Run.
func (s *Scheduler) Enqueue(key keysynth.Key, hold time.Duration) Pending {
	if hold < 0 {
		hold = 0
	}
	p := s.queue.Push(Pending{IssuedAt: s.now(), Hold: hold, Key: key})
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.log.Debug("release: queued", "key", key, "hold_ms", hold.Milliseconds(), "seq", p.Seq)
	return p
}

// Pending returns the number of keys still held.
func (s *Scheduler) Pending() int { return s.queue.Len() }

// Released returns how many keys have been let go so far.
func (s *Scheduler) Released() uint64 { return s.released.Load() }

// Run releases keys as they fall due until ctx is done, then flushes every
// remaining record so nothing is left held. A failed release is fatal and is
// returned without flushing.
func (s *Scheduler) Run(ctx context.Context) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func(wait time.Duration) <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if wait < 0 {
			// Empty queue: sleep until woken.
			return nil
		}
		// Releases fire strictly after the deadline.
		wait += time.Nanosecond
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		return timer.C
	}

	s.log.Debug("release: scheduler started", "order", s.queue.Order())
	for {
		released, wait, err := s.queue.ReleaseDue(s.now(), s.release)
		if err != nil {
			return err
		}
		if released {
			continue
		}

		timerCh := resetTimer(wait)
		select {
		case <-ctx.Done():
			s.log.Debug("release: scheduler stopping", "pending", s.queue.Len())
			return s.Flush()
		case <-s.wake:
		case <-timerCh:
		}
	}
}

// Flush releases every pending record immediately, in queue order.
func (s *Scheduler) Flush() error {
	n := 0
	for {
		ok, err := s.queue.ReleaseNext(s.release)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		n++
	}
	if n > 0 {
		s.log.Info("release: flushed held keys", "count", n)
	}
	return nil
}

func (s *Scheduler) release(p Pending) error {
	if err := s.rel.Deactivate(p.Key); err != nil {
		return fmt.Errorf("release: deactivate %s: %w", p.Key, err)
	}
	s.released.Add(1)
	s.log.Debug("release: key up",
		"key", p.Key,
		"seq", p.Seq,
		"hold_ms", p.Hold.Milliseconds(),
		"late_us", s.now().Sub(p.Deadline()).Microseconds(),
	)
	return nil
}
