package ui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ResultType indicates success or failure
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

// resultKind holds what differs between the result boxes.
type resultKind struct {
	word   string
	marker string
	color  lipgloss.Color
}

var resultKinds = map[ResultType]resultKind{
	ResultSuccess: {word: "SUCCESS", marker: SuccessMarker, color: SuccessColor},
	ResultFailure: {word: "FAILED", marker: FailureMarker, color: ErrorColor},
	ResultWarning: {word: "WARNING", marker: WarningMarker, color: WarningColor},
}

// Result is the box printed when a command finishes. Failures carry the
// error and troubleshooting tips; the other kinds carry details.
type Result struct {
	Type            ResultType
	Title           string            // e.g., "Found 3 devices"
	Details         map[string]string // Key-value details to display
	Error           error
	Troubleshooting []string
	Width           int
}

func newResult(kind ResultType, title string) *Result {
	return &Result{Type: kind, Title: title, Width: GetTerminalWidth()}
}

// NewSuccessResult creates a success result box
func NewSuccessResult(title string, details map[string]string) *Result {
	r := newResult(ResultSuccess, title)
	r.Details = details
	return r
}

// NewFailureResult creates a failure result box
func NewFailureResult(title string, err error, troubleshooting []string) *Result {
	r := newResult(ResultFailure, title)
	r.Error = err
	r.Troubleshooting = troubleshooting
	return r
}

// NewWarningResult creates a warning result box
func NewWarningResult(title string, details map[string]string) *Result {
	r := newResult(ResultWarning, title)
	r.Details = details
	return r
}

// SetWidth sets the terminal width for responsive rendering
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// AddDetail adds a detail key-value pair
func (r *Result) AddDetail(key, value string) *Result {
	if r.Details == nil {
		r.Details = make(map[string]string)
	}
	r.Details[key] = value
	return r
}

// Render returns the styled result box. Unknown types render as success.
func (r *Result) Render() string {
	kind, ok := resultKinds[r.Type]
	if !ok {
		kind = resultKinds[ResultSuccess]
	}
	width := max(r.Width, MinTerminalWidth)

	title := lipgloss.NewStyle().Foreground(kind.color).Bold(true).
		Render(fmt.Sprintf("   %s  %s  ─  %s", kind.marker, kind.word, r.Title))
	lines := []string{"", title, ""}

	if r.Error != nil {
		lines = append(lines, ErrorMessageStyle.Render("   Error: "+r.Error.Error()), "")
	}
	if details := r.detailLines(); len(details) > 0 {
		lines = append(lines, details...)
		lines = append(lines, "")
	}
	if len(r.Troubleshooting) > 0 {
		lines = append(lines, r.troubleshootingBox(width), "")
	}

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(kind.color).
		Width(width-2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))
}

// detailLines renders the details in key order
func (r *Result) detailLines() []string {
	keys := make([]string, 0, len(r.Details))
	for key := range r.Details {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, ResultKeyStyle.Render(fmt.Sprintf("   %s:", key))+" "+ResultValueStyle.Render(r.Details[key]))
	}
	return lines
}

func (r *Result) troubleshootingBox(width int) string {
	lines := []string{TroubleshootingTitleStyle.Render("Troubleshooting:"), ""}
	for _, tip := range r.Troubleshooting {
		lines = append(lines, TroubleshootingItemStyle.Render("  • "+tip))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(max(width-12, 40)).
		Padding(0, 1).
		MarginLeft(3).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
