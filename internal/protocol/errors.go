package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPacketType is wrapped by BadConversion when data carries a
// (protocol, pkt_type) pair that has no registered message.
var ErrUnknownPacketType = errors.New("unknown packet type")

// BadConversion reports data that could not be converted to or from its
// wire form: truncated input, a value outside its field's domain, or an
// unregistered packet type.
type BadConversion struct {
	Reason     string
	Field      string
	PacketType *PacketType
	Err        error
}

// Error implements the error interface
func (e *BadConversion) Error() string {
	parts := []string{"bad conversion: " + e.Reason}
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.PacketType != nil {
		parts = append(parts, fmt.Sprintf("protocol=%d pkt_type=%d", e.PacketType.Protocol, e.PacketType.Type))
	}
	msg := strings.Join(parts, " ")
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *BadConversion) Unwrap() error {
	return e.Err
}

// SchemaError reports an invalid schema definition, or a packet that does
// not satisfy its schema (unknown field, required field without a value).
type SchemaError struct {
	Schema string
	Field  string
	Reason string
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema %s: field %q: %s", e.Schema, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema %s: %s", e.Schema, e.Reason)
}

func badField(field, reason string, err error) *BadConversion {
	return &BadConversion{Reason: reason, Field: field, Err: err}
}
