package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chase3718/drumkeys/internal/keymap"
	"github.com/chase3718/drumkeys/internal/keysynth"
	"github.com/chase3718/drumkeys/internal/midiin"
	"github.com/chase3718/drumkeys/internal/release"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingDevice struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (d *recordingDevice) record(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, s)
	return nil
}

func (d *recordingDevice) Activate(k keysynth.Key) error   { return d.record("down " + string(k)) }
func (d *recordingDevice) Deactivate(k keysynth.Key) error { return d.record("up " + string(k)) }
func (d *recordingDevice) Click(b keysynth.Button) error   { return d.record("click " + string(b)) }
func (d *recordingDevice) MoveRelative(dx, dy int) error {
	return d.record(fmt.Sprintf("move %d,%d", dx, dy))
}
func (d *recordingDevice) Close() error { return nil }

func (d *recordingDevice) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// fakeSource hands the followed handler to the test.
type fakeSource struct {
	names     []string
	listErr   error
	followErr error
	followed  chan midiin.Handler

	mu     sync.Mutex
	target string
	closed bool
}

func newFakeSource(names ...string) *fakeSource {
	return &fakeSource{names: names, followed: make(chan midiin.Handler, 1)}
}

func (s *fakeSource) Inputs() ([]string, error) { return s.names, s.listErr }

func (s *fakeSource) Follow(name string, h midiin.Handler) error {
	s.mu.Lock()
	s.target = name
	s.mu.Unlock()
	s.followed <- h
	return s.followErr
}

func (s *fakeSource) Tick() {}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testConfig() config {
	return config{
		keys:      keymap.Default(),
		holdScale: time.Millisecond,
		order:     release.OrderFIFO,
	}
}

type served struct {
	cancel context.CancelFunc
	done   chan error
}

func startServe(t *testing.T, cfg config, dev keysynth.Device, src *fakeSource) (served, midiin.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := served{cancel: cancel, done: make(chan error, 1)}
	go func() {
		s.done <- serve(ctx, cfg, quiet, dev, src, strings.NewReader(""), &bytes.Buffer{}, false)
	}()
	select {
	case h := <-src.followed:
		return s, h
	case err := <-s.done:
		t.Fatalf("serve returned before following: %v", err)
	case <-time.After(time.Second):
		t.Fatal("serve never followed a port")
	}
	return s, nil
}

func (s served) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

func waitCalls(dev *recordingDevice, n int) []string {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if calls := dev.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(time.Millisecond)
	}
	return dev.snapshot()
}

func TestServeReleasesAfterHold(t *testing.T) {
	dev := &recordingDevice{}
	src := newFakeSource("TD-17")
	s, h := startServe(t, testConfig(), dev, src)

	h([]byte{0x90, 25, 5}) // w for 5ms
	calls := waitCalls(dev, 2)
	if len(calls) != 2 || calls[0] != "down w" || calls[1] != "up w" {
		t.Errorf("expected [down w up w], got %v", calls)
	}

	s.cancel()
	if err := s.wait(t); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !src.isClosed() {
		t.Error("expected the source to be closed")
	}
}

func TestServeFlushesOnShutdown(t *testing.T) {
	dev := &recordingDevice{}
	src := newFakeSource("TD-17")
	cfg := testConfig()
	cfg.holdScale = time.Second
	s, h := startServe(t, cfg, dev, src)

	h([]byte{0x90, 10, 100}) // space for 100s
	h([]byte{0x90, 35, 100}) // a for 100s
	h([]byte{0x90, 15, 100}) // click
	if calls := waitCalls(dev, 3); len(calls) != 3 {
		t.Fatalf("expected 3 calls before shutdown, got %v", calls)
	}

	s.cancel()
	if err := s.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"down space", "down a", "click left", "up space", "up a"}
	got := dev.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestServeDeviceErrorIsFatal(t *testing.T) {
	boom := errors.New("bridge unplugged")
	dev := &recordingDevice{}
	src := newFakeSource("TD-17")
	s, h := startServe(t, testConfig(), dev, src)
	defer s.cancel()

	dev.mu.Lock()
	dev.err = boom
	dev.mu.Unlock()
	h([]byte{0x90, 10, 10})

	if err := s.wait(t); !errors.Is(err, boom) {
		t.Errorf("expected device error, got %v", err)
	}
	if !src.isClosed() {
		t.Error("expected the source to be closed")
	}
}

func TestServeKeepsRunningWhenPortIsGone(t *testing.T) {
	dev := &recordingDevice{}
	src := newFakeSource("TD-17")
	src.followErr = errors.New("port vanished")
	s, _ := startServe(t, testConfig(), dev, src)

	select {
	case err := <-s.done:
		t.Fatalf("expected serve to wait for the port, returned %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	s.cancel()
	if err := s.wait(t); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestServeDropsMessagesAfterShutdown(t *testing.T) {
	dev := &recordingDevice{}
	src := newFakeSource("TD-17")
	s, h := startServe(t, testConfig(), dev, src)

	s.cancel()
	if err := s.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A callback the driver had already started when the port closed.
	h([]byte{0x90, 10, 100})
	if calls := dev.snapshot(); len(calls) != 0 {
		t.Errorf("expected no key pressed after shutdown, got %v", calls)
	}
}

func TestServeAmbiguousPortSuggestsFlag(t *testing.T) {
	err := serve(context.Background(), testConfig(), quiet, &recordingDevice{}, newFakeSource("a", "b"),
		strings.NewReader(""), &bytes.Buffer{}, false)
	if !errors.Is(err, midiin.ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
	if !strings.Contains(err.Error(), "--port") {
		t.Errorf("expected the error to mention --port, got %q", err)
	}
}

func TestServeSelectionErrors(t *testing.T) {
	listErr := errors.New("alsa")
	tests := []struct {
		name string
		src  *fakeSource
		port string
		want error
	}{
		{"no ports", newFakeSource(), "", midiin.ErrNoPorts},
		{"no terminal", newFakeSource("a", "b"), "", midiin.ErrAmbiguous},
		{"no match", newFakeSource("a", "b"), "td-17", midiin.ErrNoMatch},
		{"list fails", &fakeSource{listErr: listErr}, "", listErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.port = tt.port
			err := serve(context.Background(), cfg, quiet, &recordingDevice{}, tt.src,
				strings.NewReader(""), &bytes.Buffer{}, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !tt.src.isClosed() {
				t.Error("expected the source to be closed")
			}
		})
	}
}

func TestCollect(t *testing.T) {
	if err := collect(nil, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	a, b := errors.New("a"), errors.New("b")
	if err := collect(nil, a); err == nil || err.Error() != "a" {
		t.Errorf("expected a single error to print as itself, got %v", err)
	}
	err := collect(a, nil, collect(b))
	if err == nil || err.Error() != "2 errors: a; b" {
		t.Errorf("unexpected message %v", err)
	}
	if !errors.Is(err, b) {
		t.Error("expected errors.Is to see through the combined error")
	}
}
