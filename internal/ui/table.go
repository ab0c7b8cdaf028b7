package ui

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/lifxlan/internal/protocol"
)

// Table is a plain column layout with a styled header row.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a table with the given column titles
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// AddRow appends a row. Missing cells render empty; extra cells are dropped.
func (t *Table) AddRow(cells ...string) *Table {
	row := make([]string, len(t.Headers))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
	return t
}

// Render returns the table as a string
func (t *Table) Render() string {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	// PaddingRight on the styles adds the gap between columns
	renderRow := func(style lipgloss.Style, cells []string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = style.Width(widths[i] + 2).Render(cell)
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " ")
	}

	lines := []string{renderRow(TableHeaderStyle, t.Headers)}
	for _, row := range t.Rows {
		lines = append(lines, renderRow(TableCellStyle, row))
	}
	return strings.Join(lines, "\n")
}

// RenderPacket renders the message name of pkt and one line per field.
// Frame fields are included when withFrame is set.
func RenderPacket(pkt *protocol.Packet, withFrame bool) string {
	lines := []string{PacketNameStyle.Render(pkt.Name())}

	payload := pkt.PayloadValues()
	for _, fv := range pkt.Fields() {
		if _, ok := payload[fv.Name]; !ok && !withFrame {
			continue
		}
		lines = append(lines, "  "+FieldKeyStyle.Render(fv.Name+":")+" "+FormatValue(fv.Value))
	}
	return strings.Join(lines, "\n")
}

// FormatValue renders a field value for display. Bytes are hex, lists and
// structured values are expanded.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<unset>"
	case []byte:
		return hex.EncodeToString(val)
	case string:
		return strconv.Quote(val)
	case float64:
		return strconv.FormatFloat(val, 'g', 6, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', 6, 32)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + FormatValue(val[k])
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return fmt.Sprintf("%v", val)
	}
}
