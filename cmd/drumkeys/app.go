package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/chase3718/drumkeys/internal/ingest"
	"github.com/chase3718/drumkeys/internal/keymap"
	"github.com/chase3718/drumkeys/internal/keysynth"
	"github.com/chase3718/drumkeys/internal/logging"
	"github.com/chase3718/drumkeys/internal/midiin"
	"github.com/chase3718/drumkeys/internal/release"
)

const description = `drumkeys listens to an electronic drum kit (or any MIDI controller) and
turns note-on messages into key presses, clicks and pointer moves. A pad
hit presses its key and holds it for velocity x hold-scale.

Mappings are "note=action" pairs:
   36=space        hold a key
   38=click:left   click a mouse button
   42=move:30,0    move the pointer`

var (
	mapFlag = cli.StringSliceFlag{
		Name:  "map, m",
		Usage: "override one mapping, e.g. 36=space, 38=click:left or 42=move:0,-20 (repeatable)",
	}

	runFlags = []cli.Flag{
		cli.StringFlag{
			Name:  "port, p",
			Usage: "use the first input port whose name contains this (default: ask)",
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "where input goes: log, uinput or serial",
			Value: string(keysynth.OutputLog),
		},
		cli.StringFlag{
			Name:  "serial",
			Usage: "serial device of the HID bridge (output serial)",
		},
		cli.IntFlag{
			Name:  "baud",
			Usage: "baud rate of the HID bridge",
			Value: keysynth.DefaultBaud,
		},
		cli.StringFlag{
			Name:  "name",
			Usage: "name of the virtual uinput device",
			Value: keysynth.DefaultUinputName,
		},
		mapFlag,
		cli.DurationFlag{
			Name:  "hold-scale",
			Usage: "how long a key stays down per unit of velocity",
			Value: ingest.DefaultHoldScale,
		},
		cli.StringFlag{
			Name:  "order",
			Usage: "release order: fifo, or deadline to let short holds overtake long ones",
			Value: release.OrderFIFO.String(),
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging (adds source location)",
		},
	}
)

// Execute runs the command line.
func Execute(args []string) error {
	return newApp(os.Stdout).Run(args)
}

func newApp(w io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "drumkeys"
	app.HelpName = "drumkeys"
	app.Usage = "play your keyboard with a drum kit"
	app.UsageText = "drumkeys [run] [options]"
	app.Description = description
	app.Version = version
	app.Writer = w
	app.Flags = runFlags
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "translate MIDI input until interrupted (default)",
			Flags:  runFlags,
			Action: run,
		},
		{
			Name:  "ports",
			Usage: "list the MIDI input ports",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			},
			Action: ports,
		},
		{
			Name:   "keys",
			Usage:  "list the key and button names a mapping can use",
			Action: keys,
		},
		{
			Name:   "mapping",
			Usage:  "print the effective mapping as YAML",
			Flags:  []cli.Flag{mapFlag},
			Action: mapping,
		},
	}
	return app
}

// config is the parsed form of runFlags.
type config struct {
	port      string
	output    keysynth.Output
	serial    string
	baud      int
	name      string
	keys      *keymap.Map
	holdScale time.Duration
	order     release.Order
	debug     bool
}

func configFrom(ctx *cli.Context) (config, error) {
	output, err := keysynth.ParseOutput(ctx.String("output"))
	if err != nil {
		return config{}, err
	}
	order, err := release.ParseOrder(ctx.String("order"))
	if err != nil {
		return config{}, err
	}
	keys, err := buildKeymap(ctx.StringSlice("map"))
	if err != nil {
		return config{}, err
	}
	scale := ctx.Duration("hold-scale")
	if scale < 0 {
		return config{}, fmt.Errorf("--hold-scale must not be negative, got %s", scale)
	}
	if output == keysynth.OutputSerial && ctx.String("serial") == "" {
		return config{}, fmt.Errorf("--output serial needs --serial")
	}
	return config{
		port:      ctx.String("port"),
		output:    output,
		serial:    ctx.String("serial"),
		baud:      ctx.Int("baud"),
		name:      ctx.String("name"),
		keys:      keys,
		holdScale: scale,
		order:     order,
		debug:     ctx.Bool("debug"),
	}, nil
}

// buildKeymap applies --map entries on top of the default table.
func buildKeymap(entries []string) (*keymap.Map, error) {
	if len(entries) == 0 {
		return keymap.Default(), nil
	}
	overrides := make(map[uint8]keymap.Action, len(entries))
	for _, e := range entries {
		id, act, err := keymap.ParseEntry(e)
		if err != nil {
			return nil, err
		}
		overrides[id] = act
	}
	return keymap.Default().With(overrides)
}

func ports(ctx *cli.Context) error {
	log := logging.Init(os.Stderr, ctx.Bool("debug"))
	w, err := midiin.Open(log)
	if err != nil {
		return err
	}
	names, err := w.Inputs()
	if err != nil {
		return collect(err, w.Close())
	}
	if len(names) == 0 {
		fmt.Fprintln(ctx.App.Writer, "no input ports")
	}
	for i, name := range names {
		fmt.Fprintf(ctx.App.Writer, "%d: %s\n", i, name)
	}
	return w.Close()
}

func keys(ctx *cli.Context) error {
	out := ctx.App.Writer
	names := make([]string, 0, len(keysynth.Keys()))
	for _, k := range keysynth.Keys() {
		names = append(names, string(k))
	}
	fmt.Fprintf(out, "keys:    %s\n", strings.Join(names, " "))

	names = names[:0]
	for _, b := range keysynth.Buttons() {
		names = append(names, "click:"+string(b))
	}
	fmt.Fprintf(out, "buttons: %s\n", strings.Join(names, " "))
	fmt.Fprintln(out, "moves:   move:DX,DY")
	return nil
}

func mapping(ctx *cli.Context) error {
	m, err := buildKeymap(ctx.StringSlice("map"))
	if err != nil {
		return err
	}
	b, err := m.YAML()
	if err != nil {
		return err
	}
	_, err = ctx.App.Writer.Write(b)
	return err
}
