// Package progress implements a baton-style single-line progress
// indicator: a status line overwritten via a leading carriage return
// when stdout is a terminal, degrading to plain lines otherwise so
// redirected output (CI logs) stays readable: a non-terminal gets only
// the status lines rendered while the count is zero and each phase's
// final status line.
// golang.org/x/crypto/ssh/terminal decides which mode applies.
package progress

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh/terminal"
)

const updateInterval = 200 * time.Millisecond

// Baton is one progress indicator, scoped to a single conversion run.
type Baton struct {
	out       io.Writer
	enabled   bool
	start     time.Time
	tag       string
	count     uint64
	expected  uint64
	lastWrite time.Time
	lastCount uint64
}

// New returns a Baton writing to out. disabled forces plain log-line
// mode even on a terminal; when not forced, fd is probed with
// terminal.IsTerminal.
func New(out io.Writer, fd int, disabled bool) *Baton {
	interactive := !disabled && isTerminal(fd)
	return &Baton{out: out, enabled: interactive, start: time.Now()}
}

func isTerminal(fd int) bool {
	return terminal.IsTerminal(fd)
}

// StartPhase begins tracking progress toward expected units of work
// under tag (e.g. "processing revisions").
func (b *Baton) StartPhase(tag string, expected uint64) {
	b.tag = tag
	b.count = 0
	b.expected = expected
	b.start = time.Now()
	b.lastWrite = time.Time{}
	b.lastCount = 0
}

// Advance reports that count units of the current phase have completed,
// rendering the status line if the rate-limit interval has elapsed or
// the phase is complete.
func (b *Baton) Advance(count uint64) {
	b.count = count
	done := b.expected > 0 && count >= b.expected
	if !done && time.Since(b.lastWrite) < updateInterval {
		return
	}
	b.render(done)
	b.lastWrite = time.Now()
	b.lastCount = count
}

// EndPhase finalizes the current phase's status line.
func (b *Baton) EndPhase() {
	b.render(true)
	if b.enabled {
		fmt.Fprint(b.out, "\n")
	}
	b.tag = ""
	b.expected = 0
	b.count = 0
}

func (b *Baton) render(final bool) {
	if b.tag == "" {
		return
	}
	elapsed := time.Since(b.start)
	line := fmt.Sprintf("%s: %s/%s", b.tag, scale(float64(b.count)), scale(float64(b.expected)))
	if b.expected > 0 {
		line += fmt.Sprintf(" (%.1f%%)", 100*float64(b.count)/float64(b.expected))
	}
	line += fmt.Sprintf(" %v", elapsed.Round(time.Second))

	if b.enabled {
		fmt.Fprintf(b.out, "\r\x1b[K%s", line)
	} else if final || b.count == 0 {
		fmt.Fprintln(b.out, line)
	}
}

func scale(n float64) string {
	switch {
	case n < 1000:
		return fmt.Sprintf("%.0f", n)
	case n < 1e6:
		return fmt.Sprintf("%.2fK", n/1e3)
	case n < 1e9:
		return fmt.Sprintf("%.2fM", n/1e6)
	default:
		return fmt.Sprintf("%.2fG", n/1e9)
	}
}

