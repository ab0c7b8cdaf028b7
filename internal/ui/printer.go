package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/muurk/lifxlan/internal/protocol"
)

// Printer provides methods for printing UI components to a writer.
// This is the primary way CLI commands output styled content.
type Printer struct {
	out   io.Writer
	width int
	plain bool
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used. Decorations (headers and result boxes)
// are left out when writing to stdout that is not a terminal, so piped
// output stays machine readable.
func NewPrinter(w io.Writer) *Printer {
	plain := false
	if w == nil {
		w = os.Stdout
		plain = !IsTerminal()
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
		plain: plain,
	}
}

// SetPlain turns decorations off or on
func (p *Printer) SetPlain(plain bool) *Printer {
	p.plain = plain
	return p
}

// Width returns the current terminal width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// Print writes content to the output
func (p *Printer) Print(content string) {
	_, _ = fmt.Fprint(p.out, content)
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintLines writes multiple lines
func (p *Printer) PrintLines(lines ...string) {
	for _, line := range lines {
		_, _ = fmt.Fprintln(p.out, line)
	}
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params map[string]string) {
	if p.plain {
		return
	}
	p.Println(NewHeader(title, command, params).SetWidth(p.width).Render())
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details map[string]string) {
	if p.plain {
		return
	}
	p.Println(NewSuccessResult(title, details).SetWidth(p.width).Render())
}

// PrintWarning prints a warning result box
func (p *Printer) PrintWarning(title string, details map[string]string) {
	if p.plain {
		return
	}
	p.Println(NewWarningResult(title, details).SetWidth(p.width).Render())
}

// PrintError prints an error result box with troubleshooting tips. In
// plain mode only the error line is written.
func (p *Printer) PrintError(title string, err error, troubleshooting []string) {
	if p.plain {
		p.Println(fmt.Sprintf("%s: %v", title, err))
		return
	}
	p.Println(NewFailureResult(title, err, troubleshooting).SetWidth(p.width).Render())
}

// NewProgress returns a step tracker for a long command. Plain printers
// return nil, which prints nothing.
func (p *Printer) NewProgress(names ...string) *Progress {
	if p.plain {
		return nil
	}
	return NewProgress(p.out, p.width, names...)
}

// PrintTable prints rows under column headers
func (p *Printer) PrintTable(t *Table) {
	p.Println(t.Render())
}

// PrintPacket prints a packet name followed by its fields
func (p *Printer) PrintPacket(pkt *protocol.Packet, withFrame bool) {
	p.Println(RenderPacket(pkt, withFrame))
}
