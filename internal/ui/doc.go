// Package ui provides terminal output components for the lifx CLI.
//
// This package uses Lipgloss to render styled output. Components follow a
// "render once and print" pattern and never wait for user input.
//
// # Components
//
//   - Header: Command banner showing operation name and parameters
//   - Result: Success, failure and warning boxes with styled information
//   - Table: Column layout used for discovered devices and message lists
//   - RenderPacket: A packet name with one line per field
//
// Commands print through a Printer, which drops the decorations when stdout
// is not a terminal:
//
//	p := ui.NewPrinter(nil)
//	p.PrintHeader("Discovery", "lifx find", map[string]string{"Broadcast": addr})
//	t := ui.NewTable("SERIAL", "ADDRESS")
//	t.AddRow("d073d5000001", "192.168.1.20:56700")
//	p.PrintTable(t)
//
// # Logging Integration
//
// This package expects logging to be controlled via the LIFXLAN_LOG_LEVEL
// environment variable. When unset or empty, zap logging is silent, allowing
// the curated UI output to be displayed cleanly. Set LIFXLAN_LOG_LEVEL to
// "debug", "info", "warn", or "error" to enable logging output.
package ui
