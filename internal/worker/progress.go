package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Progress tracks completion of a batch of work items and renders it as a
// one-line bar or a summary.
type Progress struct {
	startTime time.Time
	output    io.Writer
	unit      string
	total     int
	completed int
	failed    int
	mu        sync.RWMutex
	enabled   bool
}

// NewProgress creates a new progress tracker. unit names the items, e.g. "tiles".
// When enabled is false nothing is printed but Summary still works.
func NewProgress(total int, unit string, enabled bool) *Progress {
	return &Progress{
		total:     total,
		unit:      unit,
		startTime: time.Now(),
		output:    os.Stderr,
		enabled:   enabled,
	}
}

// SetOutput redirects the progress bar.
func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	p.output = w
	p.mu.Unlock()
}

// Update records the completion of a task.
func (p *Progress) Update(completed, total, failed int) {
	p.mu.Lock()
	p.completed = completed
	p.total = total
	p.failed = failed
	p.mu.Unlock()

	if p.enabled {
		p.Print()
	}
}

// Callback returns a ProgressFunc suitable for use with Pool.Config.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

// Print displays the current progress to output.
func (p *Progress) Print() {
	p.mu.RLock()
	completed, total, failed := p.completed, p.total, p.failed
	output := p.output
	p.mu.RUnlock()

	elapsed := time.Since(p.startTime)

	var rate float64
	var eta time.Duration
	if completed > 0 {
		rate = float64(completed) / elapsed.Seconds()
		if rate > 0 {
			eta = time.Duration(float64(total-completed)/rate) * time.Second
		}
	}

	barWidth := 30
	filledWidth := 0
	if total > 0 {
		filledWidth = min(barWidth, completed*barWidth/total)
	}
	bar := strings.Repeat("█", filledWidth) + strings.Repeat("░", barWidth-filledWidth)

	line := fmt.Sprintf("\r[%s] %d/%d %s", bar, completed, total, p.unit)
	if failed > 0 {
		line += fmt.Sprintf(" (%d failed)", failed)
	}
	line += fmt.Sprintf(" - %.1f %s/sec", rate, p.unit)
	if eta > 0 && completed < total {
		line += fmt.Sprintf(" - ETA: %s", formatDuration(eta))
	}
	if completed == total {
		line += fmt.Sprintf(" - Done in %s", formatDuration(elapsed))
	}

	// Pad to clear previous line content
	line += "          "

	fmt.Fprint(output, line)
}

// Done prints the final progress and a newline.
func (p *Progress) Done() {
	if p.enabled {
		p.Print()
		p.mu.RLock()
		fmt.Fprintln(p.output)
		p.mu.RUnlock()
	}
}

// Summary returns a summary string of the completed work.
func (p *Progress) Summary() string {
	p.mu.RLock()
	completed, total, failed := p.completed, p.total, p.failed
	p.mu.RUnlock()

	elapsed := time.Since(p.startTime)

	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(completed) / elapsed.Seconds()
	}

	return fmt.Sprintf("Processed %d/%d %s (%d failed) in %s (%.1f %s/sec)",
		completed-failed, total, p.unit, failed, formatDuration(elapsed), rate, p.unit)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, mins)
}
