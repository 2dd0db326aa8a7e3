// Package midiin finds, selects and listens to MIDI input ports.
package midiin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

var (
	ErrNoPorts      = errors.New("midiin: no input port found")
	ErrNoMatch      = errors.New("midiin: no input port matches")
	ErrAmbiguous    = errors.New("midiin: several input ports and no terminal to ask on")
	ErrInvalidIndex = errors.New("midiin: invalid input port selected")
)

// ExcludedPatterns are virtual/system ports that are never offered.
var ExcludedPatterns = []string{"Midi Through", "Through Port", "Dummy"}

// Filter drops excluded ports, keeping order.
func Filter(names []string) []string {
	var out []string
	for _, name := range names {
		excluded := false
		for _, pat := range ExcludedPatterns {
			if containsCI(name, pat) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, name)
		}
	}
	return out
}

// Interactive reports whether f is a terminal someone can answer a prompt on.
func Interactive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Select picks one port name.
//
// With want set, the first port whose name contains want (case-insensitive)
// wins. Otherwise a single port is chosen automatically, and several ports
// are listed on out and an index is read from in. Without a terminal there
// is nobody to ask, so several ports is an error.
func Select(names []string, want string, in io.Reader, out io.Writer, interactive bool) (string, error) {
	if want != "" {
		for _, name := range names {
			if containsCI(name, want) {
				return name, nil
			}
		}
		return "", fmt.Errorf("%w %q (available: %s)", ErrNoMatch, want, strings.Join(names, ", "))
	}

	switch len(names) {
	case 0:
		return "", ErrNoPorts
	case 1:
		fmt.Fprintf(out, "Choosing the only available input port: %s\n", names[0])
		return names[0], nil
	}

	if !interactive {
		return "", ErrAmbiguous
	}
	fmt.Fprintln(out, "Available input ports:")
	for i, name := range names {
		fmt.Fprintf(out, "%d: %s\n", i, name)
	}
	fmt.Fprint(out, "Please select input port: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("midiin: read selection: %w", err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || idx < 0 || idx >= len(names) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIndex, strings.TrimSpace(line))
	}
	return names[idx], nil
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
