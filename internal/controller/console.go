package controller

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/term"

	"ghostkeys/internal/state"
)

// Console keys.
const (
	keyToggle = 'p'
	keyQuit   = 'q'
	keyStatus = 's'
	keyCtrlC  = 0x03
	keyCtrlD  = 0x04
)

// ConsoleOptions configures a Console.
type ConsoleOptions struct {
	Input  io.Reader
	Output io.Writer
	Logger *slog.Logger

	// ManageTerminal puts a terminal input in raw mode so single key
	// presses arrive without Enter. Ignored when Input is not a terminal.
	ManageTerminal bool

	// Status, when set, supplies extra lines printed after the mode on the
	// status key.
	Status func() []string

	// Go starts the read loop. lifecycle.Guard.Go fits here; the default
	// is a plain goroutine.
	Go func(name string, fn func())
}

// Console reads single-key commands from the terminal:
//
//	p  toggle between active and passthrough
//	s  print the current mode and status
//	q  quit (also Ctrl+C, Ctrl+D)
type Console struct {
	modes   *state.Shared
	toggler *Toggler
	in      io.Reader
	out     io.Writer
	log     *slog.Logger
	status  func() []string
	spawn   func(name string, fn func())

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	fd       int
	rawState *term.State
	manage   bool
}

// NewConsole creates a stopped console.
func NewConsole(modes *state.Shared, toggler *Toggler, opts ConsoleOptions) *Console {
	c := &Console{
		modes:   modes,
		toggler: toggler,
		in:      opts.Input,
		out:     opts.Output,
		log:     opts.Logger,
		status:  opts.Status,
		spawn:   opts.Go,
		fd:      -1,
	}
	if c.out == nil {
		c.out = io.Discard
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.spawn == nil {
		c.spawn = func(_ string, fn func()) { go fn() }
	}
	if opts.ManageTerminal {
		if f, ok := opts.Input.(interface{ Fd() uintptr }); ok {
			fd := int(f.Fd())
			if term.IsTerminal(fd) {
				c.fd = fd
				c.manage = true
			}
		}
	}
	return c
}

// Start prints the key help and begins reading.
func (c *Console) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("console already running")
	}
	if c.in == nil {
		return errors.New("console has no input")
	}
	if c.manage {
		st, err := term.MakeRaw(c.fd)
		if err != nil {
			return fmt.Errorf("failed to enable raw mode: %w", err)
		}
		c.rawState = st
	}

	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.println("[p] toggle  [s] status  [q] quit")
	c.printMode()

	stop, done := c.stop, c.done
	c.spawn("console", func() { c.readLoop(stop, done) })
	return nil
}

func (c *Console) readLoop(stop, done chan struct{}) {
	defer close(done)
	r := bufio.NewReader(c.in)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Debug("console input closed", "error", err)
			}
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		if !c.handle(b) {
			return
		}
	}
}

// handle runs one key command and reports whether to keep reading.
func (c *Console) handle(b byte) bool {
	switch b {
	case keyToggle, keyToggle - 'a' + 'A':
		c.toggler.Toggle()
		c.printMode()
	case keyStatus, keyStatus - 'a' + 'A':
		c.printMode()
		if c.status != nil {
			for _, line := range c.status() {
				c.println(line)
			}
		}
	case keyQuit, keyQuit - 'a' + 'A', keyCtrlC, keyCtrlD:
		c.println("quitting")
		c.modes.RequestExit()
		return false
	}
	return true
}

func (c *Console) printMode() {
	m, err := c.modes.Mode()
	if err != nil {
		c.println("mode: unknown (" + err.Error() + ")")
		return
	}
	c.println("mode: " + m.String())
}

// println ends lines with CRLF, which raw mode needs.
func (c *Console) println(s string) {
	fmt.Fprint(c.out, s+"\r\n")
}

// Done is closed when the read loop ends.
func (c *Console) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Stop restores the terminal. A read blocked on the input is abandoned.
func (c *Console) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	close(c.stop)
	c.running = false

	if c.rawState != nil {
		if err := term.Restore(c.fd, c.rawState); err != nil {
			return fmt.Errorf("failed to restore terminal: %w", err)
		}
		c.rawState = nil
	}
	return nil
}
