package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Progress draws a single-line progress bar. It is silent unless its
// output is a terminal, so redirected stderr stays clean.
type Progress struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	width   int
	last    int
}

// NewProgress returns a bar on f, enabled when f is a terminal.
func NewProgress(f *os.File) *Progress {
	fd := int(f.Fd())
	p := &Progress{w: f, enabled: term.IsTerminal(fd), width: 30, last: -1}
	if cols, _, err := term.GetSize(fd); err == nil && cols > 40 {
		p.width = min(50, cols-30)
	}
	return p
}

// NewProgressWriter always draws to w.
func NewProgressWriter(w io.Writer, width int) *Progress {
	return &Progress{w: w, enabled: true, width: max(width, 1), last: -1}
}

func (p *Progress) Enabled() bool { return p.enabled }

// Update redraws the bar for done of total pages.
func (p *Progress) Update(done, total int) {
	if !p.enabled || total <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	filled := p.width * done / total
	if done == p.last {
		return
	}
	p.last = done
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", p.width-filled)
	fmt.Fprintf(p.w, "\r[%s] %d/%d", bar, done, total)
}

// Finish ends the line.
func (p *Progress) Finish() {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last >= 0 {
		fmt.Fprintln(p.w)
	}
}
