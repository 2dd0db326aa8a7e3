package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chase3718/drumkeys/internal/keymap"
	"github.com/chase3718/drumkeys/internal/keysynth"
	"github.com/chase3718/drumkeys/internal/release"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeDevice records every call in order.
type fakeDevice struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (d *fakeDevice) record(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, s)
	return nil
}

func (d *fakeDevice) Activate(k keysynth.Key) error   { return d.record("down " + string(k)) }
func (d *fakeDevice) Deactivate(k keysynth.Key) error { return d.record("up " + string(k)) }
func (d *fakeDevice) Click(b keysynth.Button) error   { return d.record("click " + string(b)) }
func (d *fakeDevice) MoveRelative(dx, dy int) error {
	return d.record(fmt.Sprintf("move %d,%d", dx, dy))
}
func (d *fakeDevice) Close() error { return nil }

func (d *fakeDevice) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// fakeQueue records enqueues and checks the key is already down.
type fakeQueue struct {
	dev     *fakeDevice
	entries []release.Pending
	downAt  []int
}

func (q *fakeQueue) Enqueue(k keysynth.Key, hold time.Duration) release.Pending {
	p := release.Pending{Key: k, Hold: hold, Seq: uint64(len(q.entries) + 1)}
	q.entries = append(q.entries, p)
	q.downAt = append(q.downAt, len(q.dev.snapshot()))
	return p
}

func newTestIngestor(opts ...Option) (*Ingestor, *fakeDevice, *fakeQueue) {
	dev := &fakeDevice{}
	q := &fakeQueue{dev: dev}
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return New(keymap.Default(), dev, q, opts...), dev, q
}

func TestHandleHeldKey(t *testing.T) {
	in, dev, q := newTestIngestor()
	if err := in.Handle([]byte{0x90, 10, 100}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if calls := dev.snapshot(); len(calls) != 1 || calls[0] != "down space" {
		t.Errorf("expected [down space], got %v", calls)
	}
	if len(q.entries) != 1 {
		t.Fatalf("expected one queued release, got %d", len(q.entries))
	}
	if q.entries[0].Key != "space" || q.entries[0].Hold != 200*time.Millisecond {
		t.Errorf("expected space held 200ms, got %+v", q.entries[0])
	}
	if q.downAt[0] != 1 {
		t.Error("expected the key to be activated before its release was queued")
	}
}

func TestHandleOneShotsSkipQueue(t *testing.T) {
	in, dev, q := newTestIngestor()
	for _, msg := range [][]byte{{0x90, 15, 64}, {0x90, 30, 64}, {0x90, 20, 64}} {
		if err := in.Handle(msg); err != nil {
			t.Fatalf("Handle(% X): %v", msg, err)
		}
	}
	want := []string{"click left", "move 30,0", "move -30,0"}
	got := dev.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if len(q.entries) != 0 {
		t.Errorf("expected one-shot actions to leave the queue alone, got %d entries", len(q.entries))
	}
	if s := in.Stats(); s.OneShot != 3 || s.Held != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

// A malformed message mid-stream changes nothing.
func TestHandleMalformedMessage(t *testing.T) {
	in, dev, q := newTestIngestor()
	_ = in.Handle([]byte{0x90, 25, 10})
	if err := in.Handle([]byte{0x90, 25}); err != nil {
		t.Errorf("expected malformed message to be ignored, got %v", err)
	}
	_ = in.Handle([]byte{0xF0, 0x7E, 0x7F, 0x06, 0x01, 0xF7})
	_ = in.Handle(nil)
	_ = in.Handle([]byte{0x90, 35, 10})

	if len(q.entries) != 2 {
		t.Errorf("expected 2 queued releases, got %d", len(q.entries))
	}
	if len(dev.snapshot()) != 2 {
		t.Errorf("expected 2 device calls, got %v", dev.snapshot())
	}
	if s := in.Stats(); s.Ignored != 3 || s.Handled != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestHandleStatusFilter(t *testing.T) {
	in, dev, q := newTestIngestor()
	_ = in.Handle([]byte{0x80, 10, 64}) // note-off
	_ = in.Handle([]byte{0xB0, 10, 64}) // control change
	_ = in.Handle([]byte{0x99, 10, 64}) // note-on, channel 10
	if len(q.entries) != 1 || len(dev.snapshot()) != 1 {
		t.Errorf("expected only the note-on to act, got %v / %d", dev.snapshot(), len(q.entries))
	}
}

func TestHandleUnmapped(t *testing.T) {
	in, dev, q := newTestIngestor()
	if err := in.Handle([]byte{0x90, 77, 100}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(dev.snapshot()) != 0 || len(q.entries) != 0 {
		t.Error("expected unmapped note to have no effect")
	}
	if in.Stats().Unmapped != 1 {
		t.Errorf("expected one unmapped note, got %+v", in.Stats())
	}
}

func TestHandleDeviceError(t *testing.T) {
	in, dev, q := newTestIngestor()
	boom := errors.New("uinput gone")
	dev.err = boom
	for _, msg := range [][]byte{{0x90, 10, 1}, {0x90, 15, 1}, {0x90, 30, 1}} {
		if err := in.Handle(msg); !errors.Is(err, boom) {
			t.Errorf("Handle(% X): expected wrapped device error, got %v", msg, err)
		}
	}
	if len(q.entries) != 0 {
		t.Error("expected nothing queued when activation fails")
	}
}

func TestHoldFor(t *testing.T) {
	in, _, _ := newTestIngestor()
	tests := []struct {
		strength uint8
		want     time.Duration
	}{
		{0, 0},
		{1, 2 * time.Millisecond},
		{127, 254 * time.Millisecond},
		{255, 510 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := in.HoldFor(tt.strength); got != tt.want {
			t.Errorf("HoldFor(%d): expected %v, got %v", tt.strength, tt.want, got)
		}
	}

	scaled, _, _ := newTestIngestor(WithHoldScale(5 * time.Millisecond))
	if got := scaled.HoldFor(10); got != 50*time.Millisecond {
		t.Errorf("expected 50ms with a 5ms scale, got %v", got)
	}
}

// Strength 0 is released as soon as the scheduler runs again.
func TestZeroStrengthReleasedImmediately(t *testing.T) {
	dev := &fakeDevice{}
	sched := release.NewScheduler(release.NewQueue(release.OrderFIFO), dev, release.WithLogger(quiet))
	in := New(keymap.Default(), dev, sched, WithLogger(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := in.Handle([]byte{0x90, 45, 0}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	deadline := time.Now().Add(100 * time.Millisecond)
	for sched.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	calls := dev.snapshot()
	if len(calls) != 2 || calls[0] != "down d" || calls[1] != "up d" {
		t.Errorf("expected [down d up d], got %v", calls)
	}
}

func TestStopDropsLaterMessages(t *testing.T) {
	in, dev, q := newTestIngestor()
	in.Stop()
	if err := in.Handle([]byte{0x90, 10, 100}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(dev.snapshot()) != 0 || len(q.entries) != 0 {
		t.Error("expected nothing pressed or queued after Stop")
	}
	if s := in.Stats(); s.Dropped != 1 || s.Handled != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

// gatedDevice blocks Activate until the gate is opened.
type gatedDevice struct {
	*fakeDevice
	entered chan struct{}
	gate    chan struct{}
}

func (d *gatedDevice) Activate(k keysynth.Key) error {
	close(d.entered)
	<-d.gate
	return d.fakeDevice.Activate(k)
}

func TestStopWaitsForHandleInProgress(t *testing.T) {
	dev := &gatedDevice{fakeDevice: &fakeDevice{}, entered: make(chan struct{}), gate: make(chan struct{})}
	q := &fakeQueue{dev: dev.fakeDevice}
	in := New(keymap.Default(), dev, q, WithLogger(quiet))

	handled := make(chan error, 1)
	go func() { handled <- in.Handle([]byte{0x90, 10, 100}) }()
	<-dev.entered

	stopped := make(chan struct{})
	go func() {
		in.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("expected Stop to wait for the press in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(dev.gate)
	if err := <-handled; err != nil {
		t.Fatalf("Handle: %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	// The release of the in-flight press was queued before Stop returned.
	if len(q.entries) != 1 {
		t.Errorf("expected the in-flight press to be queued, got %d", len(q.entries))
	}
}
