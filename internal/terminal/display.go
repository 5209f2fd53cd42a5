// Package terminal handles raw terminal input and progress output
package terminal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows activity while waiting for the first streamed text
type Spinner struct {
	out io.Writer

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSpinner creates a spinner writing to out
func NewSpinner(out io.Writer) *Spinner {
	return &Spinner{out: out}
}

// Start displays msg with a spinner until Stop is called. It does nothing
// when stdout is not a terminal.
func (s *Spinner) Start(msg string) {
	if !IsTerminal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.spin(msg, s.stop, s.done)
}

func (s *Spinner) spin(msg string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	c := color.New(color.FgCyan)
	for i := 0; ; i = (i + 1) % len(spinnerChars) {
		c.Fprintf(s.out, "\r%s %s", spinnerChars[i], msg)
		select {
		case <-stop:
			fmt.Fprint(s.out, "\r\033[2K\r")
			return
		case <-ticker.C:
		}
	}
}

// Stop clears the spinner. It is safe to call when no spinner is running.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
}

func (s *Spinner) halt() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
}

// IsTerminal checks if stdout is a terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
