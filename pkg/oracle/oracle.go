// Package oracle asks a person whether an item is an anomaly.
package oracle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/browser"
)

// DefaultViewURL is the reference page template. "{}" is replaced by the identity.
const DefaultViewURL = "https://ztf.snad.space/dr4/view/{}"

// ErrNoAnswer is returned when the input ends before an answer is given.
var ErrNoAnswer = errors.New("no answer")

// Func adapts a function to the Oracle interface.
type Func func(id uint64) (bool, error)

// Confirm calls f(id).
func (f Func) Confirm(id uint64) (bool, error) {
	return f(id)
}

// Viewer shows the reference page of an item.
type Viewer interface {
	Open(url string) error
}

// BrowserViewer opens reference pages in a new browser tab.
type BrowserViewer struct{}

// Open opens url in the default browser.
func (BrowserViewer) Open(url string) error {
	return browser.OpenURL(url)
}

// PrintViewer writes the reference URL instead of opening it.
type PrintViewer struct {
	W io.Writer
}

// Open prints url.
func (v PrintViewer) Open(url string) error {
	_, err := fmt.Fprintf(v.W, "Check %s for details\n", url)
	return err
}

// Terminal asks on a line-oriented terminal. For every item it shows the
// reference page, then prompts until it reads yes or no.
type Terminal struct {
	in      *bufio.Scanner
	out     io.Writer
	viewer  Viewer
	viewURL string
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithViewer sets how reference pages are shown. Without one they are printed.
func WithViewer(v Viewer) Option {
	return func(t *Terminal) {
		t.viewer = v
	}
}

// WithViewURL sets the reference page template.
func WithViewURL(tmpl string) Option {
	return func(t *Terminal) {
		t.viewURL = tmpl
	}
}

// NewTerminal creates a Terminal reading answers from in and prompting on out.
func NewTerminal(in io.Reader, out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		in:      bufio.NewScanner(in),
		out:     out,
		viewURL: DefaultViewURL,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.viewer == nil {
		t.viewer = PrintViewer{W: out}
	}
	return t
}

// ViewURL returns the reference page URL of id.
func (t *Terminal) ViewURL(id uint64) string {
	return strings.ReplaceAll(t.viewURL, "{}", strconv.FormatUint(id, 10))
}

// Confirm shows the reference page of id and blocks until an answer is read.
func (t *Terminal) Confirm(id uint64) (bool, error) {
	url := t.ViewURL(id)
	if err := t.viewer.Open(url); err != nil {
		if err := (PrintViewer{W: t.out}).Open(url); err != nil {
			return false, err
		}
	}

	for {
		if _, err := fmt.Fprintf(t.out, "Is %d anomaly? [y/n]: ", id); err != nil {
			return false, err
		}
		if !t.in.Scan() {
			if err := t.in.Err(); err != nil {
				return false, err
			}
			return false, fmt.Errorf("%w for %d", ErrNoAnswer, id)
		}

		switch strings.ToLower(strings.TrimSpace(t.in.Text())) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if _, err := fmt.Fprintln(t.out, "Error: invalid input"); err != nil {
			return false, err
		}
	}
}
