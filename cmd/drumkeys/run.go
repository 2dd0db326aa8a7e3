package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli"

	"github.com/chase3718/drumkeys/internal/ingest"
	"github.com/chase3718/drumkeys/internal/keysynth"
	"github.com/chase3718/drumkeys/internal/logging"
	"github.com/chase3718/drumkeys/internal/midiin"
	"github.com/chase3718/drumkeys/internal/release"
)

// source is the MIDI side of a run. *midiin.Watcher implements it.
type source interface {
	Inputs() ([]string, error)
	Follow(name string, h midiin.Handler) error
	Tick()
	Close() error
}

func run(ctx *cli.Context) error {
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}

	log := logging.Init(os.Stderr, cfg.debug)
	log.Info("drumkeys starting",
		"version", version,
		"output", cfg.output,
		"order", cfg.order,
		"hold_scale", cfg.holdScale,
		"mappings", cfg.keys.Len(),
		"debug", cfg.debug,
	)

	dev, err := keysynth.Open(keysynth.Config{
		Output: cfg.output,
		Name:   cfg.name,
		Serial: cfg.serial,
		Baud:   cfg.baud,
		Logger: log,
	})
	if err != nil {
		return err
	}

	src, err := midiin.Open(log)
	if err != nil {
		return collect(err, dev.Close())
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := serve(sigCtx, cfg, log, dev, src, os.Stdin, os.Stderr, midiin.Interactive(os.Stdin))
	var closeErr error
	if err := dev.Close(); err != nil {
		closeErr = fmt.Errorf("close output: %w", err)
	}
	return collect(serveErr, closeErr)
}

// serve selects a port, follows it and translates its messages until ctx is
// done or something fails. It always closes src, and every key still held is
// released before it returns unless releasing itself failed.
func serve(ctx context.Context, cfg config, log *slog.Logger, dev keysynth.Device, src source,
	in io.Reader, out io.Writer, interactive bool) error {
	names, err := src.Inputs()
	if err != nil {
		return collect(err, src.Close())
	}
	name, err := midiin.Select(names, cfg.port, in, out, interactive)
	if errors.Is(err, midiin.ErrAmbiguous) {
		err = fmt.Errorf("%w; pick one with --port", err)
	}
	if err != nil {
		return collect(err, src.Close())
	}

	sched := release.NewScheduler(release.NewQueue(cfg.order), dev, release.WithLogger(log))
	ing := ingest.New(cfg.keys, dev, sched,
		ingest.WithHoldScale(cfg.holdScale),
		ingest.WithLogger(log),
	)

	// fatal carries the first device error seen by the MIDI callback.
	fatal := make(chan error, 1)
	onMessage := func(data []byte) {
		if err := ing.Handle(data); err != nil {
			log.Error("midi: handling message failed", "err", err)
			select {
			case fatal <- err:
			default:
			}
		}
	}

	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(schedCtx) }()

	var errs []error
	if err := src.Follow(name, onMessage); err != nil {
		// The port may come back; Tick keeps trying.
		log.Warn("midi: initial connect failed", "device", name, "err", err)
	}
	log.Info("running, waiting for MIDI input", "device", name)

	ticker := time.NewTicker(midiin.RescanInterval)
	defer ticker.Stop()

	schedExited := false
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down", "pending", sched.Pending())
			break loop
		case err := <-fatal:
			errs = append(errs, err)
			break loop
		case err := <-schedDone:
			schedExited = true
			if err != nil {
				log.Error("release: scheduler failed", "err", err)
				errs = append(errs, err)
			}
			break loop
		case <-ticker.C:
			src.Tick()
		}
	}

	// Stop input first so nothing is queued while the rest is flushed. A
	// callback already running when the port closes finishes inside Stop.
	if err := src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close midi: %w", err))
	}
	ing.Stop()
	stopSched()
	if !schedExited {
		if err := <-schedDone; err != nil {
			errs = append(errs, err)
		}
	}

	s := ing.Stats()
	log.Info("drumkeys stopped",
		"handled", s.Handled,
		"ignored", s.Ignored,
		"held", s.Held,
		"one_shot", s.OneShot,
		"unmapped", s.Unmapped,
		"dropped", s.Dropped,
		"released", sched.Released(),
	)
	return collect(errs...)
}

// collect combines the non-nil errors, or returns nil.
func collect(errs ...error) error {
	result := &multierror.Error{ErrorFormat: listFormat}
	for _, err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func listFormat(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(errs), strings.Join(msgs, "; "))
}
