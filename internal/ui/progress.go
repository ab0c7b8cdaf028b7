package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending  StepStatus = iota // Not yet started
	StepRunning                    // Currently executing
	StepComplete                   // Successfully completed
	StepFailed                     // Failed
	StepSkipped                    // Not needed this run
)

func (s StepStatus) finished() bool {
	return s == StepComplete || s == StepFailed || s == StepSkipped
}

// Step is one stage of a long command.
type Step struct {
	Number  int
	Name    string
	Status  StepStatus
	Message string // e.g., "3 devices"
}

// Progress prints the steps of a long command as they change: a running
// step is drawn without a newline so that its finished line overwrites it.
// A nil *Progress ignores every call, which is what plain printers hand out.
type Progress struct {
	mu    sync.Mutex
	out   io.Writer
	steps []Step
	bar   progress.Model
}

// NewProgress returns a tracker for the named steps writing to out.
func NewProgress(out io.Writer, width int, names ...string) *Progress {
	steps := make([]Step, len(names))
	for i, name := range names {
		steps[i] = Step{Number: i + 1, Name: name}
	}
	return &Progress{
		out:   out,
		steps: steps,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(min(max(width-20, 20), 50)),
			progress.WithoutPercentage(),
		),
	}
}

// Start marks step n as running.
func (p *Progress) Start(n int, message string) { p.update(n, StepRunning, message) }

// Complete marks step n as done.
func (p *Progress) Complete(n int, message string) { p.update(n, StepComplete, message) }

// Fail marks step n as failed.
func (p *Progress) Fail(n int, message string) { p.update(n, StepFailed, message) }

// Skip marks step n as not run.
func (p *Progress) Skip(n int, message string) { p.update(n, StepSkipped, message) }

func (p *Progress) update(n int, status StepStatus, message string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 || n > len(p.steps) {
		return
	}
	step := &p.steps[n-1]
	step.Status = status
	step.Message = message

	line := p.stepLine(*step)
	if status.finished() {
		_, _ = fmt.Fprintln(p.out, "\r"+line)
	} else {
		_, _ = fmt.Fprint(p.out, line)
	}
}

// Percent is the share of steps completed or skipped.
func (p *Progress) Percent() float64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent()
}

func (p *Progress) percent() float64 {
	if len(p.steps) == 0 {
		return 1
	}
	done := 0
	for _, s := range p.steps {
		if s.Status == StepComplete || s.Status == StepSkipped {
			done++
		}
	}
	return float64(done) / float64(len(p.steps))
}

// Finish prints the bar with the final percentage.
func (p *Progress) Finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pct := p.percent()
	done := 0
	for _, s := range p.steps {
		if s.Status.finished() {
			done++
		}
	}
	line := fmt.Sprintf("%s  %3.0f%%  [%d/%d]", p.bar.ViewAs(pct), pct*100, done, len(p.steps))
	_, _ = fmt.Fprintln(p.out, lipgloss.NewStyle().PaddingLeft(2).Render(line))
	_, _ = fmt.Fprintln(p.out)
}

func (p *Progress) stepLine(step Step) string {
	marker, style := StepMarkerPending, StepPendingStyle
	switch step.Status {
	case StepComplete:
		marker, style = SuccessMarker, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case StepSkipped:
		marker = StepMarkerSkipped
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  [%d/%d] ", step.Number, len(p.steps))
	b.WriteString(style.Render(step.Name))
	b.WriteString(strings.Repeat(" ", max(30-lipgloss.Width(step.Name), 1)))
	b.WriteString(style.Render(marker))
	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}
