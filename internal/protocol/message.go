package protocol

import "fmt"

// Names of the frame fields every protocol's parent frame is expected to
// declare. Packet accessors read them by name.
const (
	FieldSize        = "size"
	FieldProtocol    = "protocol"
	FieldAddressable = "addressable"
	FieldTagged      = "tagged"
	FieldSource      = "source"
	FieldTarget      = "target"
	FieldResRequired = "res_required"
	FieldAckRequired = "ack_required"
	FieldSequence    = "sequence"
	FieldPktType     = "pkt_type"
	FieldPayload     = "payload"
)

// PacketType uniquely identifies a message within a registry.
type PacketType struct {
	Protocol uint16
	Type     uint16
}

// String returns a debug representation of the packet type
func (pt PacketType) String() string {
	return fmt.Sprintf("%d:%d", pt.Protocol, pt.Type)
}

// Role classifies how a message takes part in an exchange.
type Role uint8

const (
	// RoleMessage is any request or reply carrying a payload.
	RoleMessage Role = iota
	// RoleAck is the fixed acknowledgement for ack_required requests.
	RoleAck
)

// String returns a human-readable name for the role
func (r Role) String() string {
	switch r {
	case RoleMessage:
		return "message"
	case RoleAck:
		return "ack"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Message is an immutable message definition: a payload layout bound to a
// parent frame and a (protocol, pkt_type) pair.
type Message struct {
	Name     string
	Protocol uint16
	Type     uint16
	Role     Role
	Multi    *MultiOptions

	frame   *Schema
	payload []Field
	schema  *Schema
}

// NewMessage builds a message whose schema is frame with its payload
// placeholder replaced by fields.
func NewMessage(frame *Schema, protocol uint16, name string, typ uint16, fields ...Field) (*Message, error) {
	if !frame.HasPayload() {
		return nil, &SchemaError{Schema: frame.Name(), Reason: "parent frame has no payload placeholder"}
	}
	schema, err := frame.Extend(name, fields...)
	if err != nil {
		return nil, err
	}
	return &Message{
		Name:     name,
		Protocol: protocol,
		Type:     typ,
		frame:    frame,
		payload:  fields,
		schema:   schema,
	}, nil
}

// MustMessage is NewMessage for package-level declarations.
func MustMessage(frame *Schema, protocol uint16, name string, typ uint16, fields ...Field) *Message {
	m, err := NewMessage(frame, protocol, name, typ, fields...)
	if err != nil {
		panic(err)
	}
	return m
}

// Using returns a message with the same payload under another name and type.
func (m *Message) Using(name string, typ uint16) *Message {
	c := *m
	c.Name = name
	c.Type = typ
	c.Multi = nil
	c.schema, _ = m.frame.Extend(name, m.payload...)
	return &c
}

// WithMulti returns a copy of m that expects replies according to opts.
func (m *Message) WithMulti(opts MultiOptions) *Message {
	c := *m
	c.Multi = &opts
	return &c
}

// AsAck returns a copy of m marked as the acknowledgement message.
func (m *Message) AsAck() *Message {
	c := *m
	c.Role = RoleAck
	return &c
}

// PacketType returns the (protocol, pkt_type) pair.
func (m *Message) PacketType() PacketType {
	return PacketType{Protocol: m.Protocol, Type: m.Type}
}

// IsAck reports whether m is the acknowledgement message.
func (m *Message) IsAck() bool { return m.Role == RoleAck }

// Schema returns the full frame + payload schema.
func (m *Message) Schema() *Schema { return m.schema }

// Frame returns the parent frame schema.
func (m *Message) Frame() *Schema { return m.frame }

// PayloadFields returns the payload fields only.
func (m *Message) PayloadFields() []Field {
	out := make([]Field, len(m.payload))
	copy(out, m.payload)
	return out
}

// New creates a packet of this message from values. Unknown field names
// and values outside their field's domain are rejected.
func (m *Message) New(values map[string]any) (*Packet, error) {
	normalized, err := m.schema.normalizeValues(values)
	if err != nil {
		return nil, err
	}
	return &Packet{msg: m, schema: m.schema, pt: m.PacketType(), values: normalized}, nil
}

// MustNew is New for fixed values known to be valid.
func (m *Message) MustNew(values map[string]any) *Packet {
	p, err := m.New(values)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the message name
func (m *Message) String() string {
	return fmt.Sprintf("%s(%d)", m.Name, m.Type)
}
