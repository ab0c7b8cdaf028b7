package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// ZeroSerial is the serial of an all-zero target, used for broadcasts.
const ZeroSerial = "000000000000"

// Packet is one instance of a message. Only explicitly set values are
// stored; absence is a missing key and defaults are resolved when packing.
// A packet whose type is not registered is opaque: it has no message and
// carries its payload as raw bytes.
type Packet struct {
	msg    *Message
	schema *Schema
	pt     PacketType
	values map[string]any
}

// Message returns the message definition, or nil for an opaque packet.
func (p *Packet) Message() *Message { return p.msg }

// Schema returns the schema used to pack this packet.
func (p *Packet) Schema() *Schema { return p.schema }

// PacketType returns the (protocol, pkt_type) pair.
func (p *Packet) PacketType() PacketType { return p.pt }

// IsOpaque reports whether the packet type was not registered.
func (p *Packet) IsOpaque() bool { return p.msg == nil }

// Name returns the message name.
func (p *Packet) Name() string {
	if p.msg == nil {
		return fmt.Sprintf("Unknown(%s)", p.pt)
	}
	return p.msg.Name
}

// IsAck reports whether this packet is an acknowledgement.
func (p *Packet) IsAck() bool {
	return p.msg != nil && p.msg.IsAck()
}

// Is reports whether the packet is an instance of m.
func (p *Packet) Is(m *Message) bool {
	return m != nil && p.pt == m.PacketType()
}

// Has reports whether name was set explicitly.
func (p *Packet) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Get returns the explicitly set value of name.
func (p *Packet) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Value returns name with defaults resolved.
func (p *Packet) Value(name string) (any, error) {
	return p.context().Value(name)
}

// Uint returns name as an unsigned integer, or 0 when it cannot be resolved.
func (p *Packet) Uint(name string) uint64 {
	n, err := p.context().Uint(name)
	if err != nil {
		return 0
	}
	return n
}

// Float returns name as a float, or 0 when it cannot be resolved.
func (p *Packet) Float(name string) float64 {
	f, err := p.context().Float(name)
	if err != nil {
		return 0
	}
	return f
}

// Bool returns name as a boolean.
func (p *Packet) Bool(name string) bool {
	v, err := p.Value(name)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Str returns a string field, or "" when it is not a string.
func (p *Packet) Str(name string) string {
	v, err := p.Value(name)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Bytes returns a bytes field.
func (p *Packet) Bytes(name string) []byte {
	v, err := p.Value(name)
	if err != nil {
		return nil
	}
	b, _ := v.([]byte)
	return b
}

// List returns a repeated field.
func (p *Packet) List(name string) []any {
	v, err := p.Value(name)
	if err != nil {
		return nil
	}
	l, _ := v.([]any)
	return l
}

// Set normalizes and stores a value. Setting nil removes it.
func (p *Packet) Set(name string, v any) error {
	f, ok := p.schema.Field(name)
	if !ok {
		return &SchemaError{Schema: p.schema.Name(), Field: name, Reason: "no such field"}
	}
	if v == nil {
		delete(p.values, name)
		return nil
	}
	n, err := f.Type.normalize(name, v)
	if err != nil {
		return err
	}
	if n == nil {
		delete(p.values, name)
		return nil
	}
	p.values[name] = n
	return nil
}

// Update sets every value in values.
func (p *Packet) Update(values map[string]any) error {
	for k, v := range values {
		if err := p.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an independent copy.
func (p *Packet) Clone() *Packet {
	values := make(map[string]any, len(p.values))
	for k, v := range p.values {
		values[k] = cloneValue(v)
	}
	return &Packet{msg: p.msg, schema: p.schema, pt: p.pt, values: values}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = cloneValue(v)
		}
		return out
	}
	return v
}

// PackBits resolves defaults and returns the wire bits.
func (p *Packet) PackBits() (Bits, error) {
	bits, err := p.context().pack()
	if err != nil {
		return Bits{}, fmt.Errorf("pack %s: %w", p.Name(), err)
	}
	return bits, nil
}

// Pack resolves defaults and returns the wire bytes.
func (p *Packet) Pack() ([]byte, error) {
	bits, err := p.PackBits()
	if err != nil {
		return nil, err
	}
	return bits.Bytes(), nil
}

// Payload returns the payload bytes: the raw payload of an opaque packet,
// or the packed payload fields of a known one.
func (p *Packet) Payload() ([]byte, error) {
	if p.msg == nil {
		return p.Bytes(FieldPayload), nil
	}
	frameBits, _ := p.frameBits()
	bits, err := p.PackBits()
	if err != nil {
		return nil, err
	}
	return bits.Slice(frameBits, bits.Len()).Bytes(), nil
}

func (p *Packet) frameBits() (int, bool) {
	frame := p.schema
	if p.msg != nil {
		frame = p.msg.frame
	}
	total := 0
	for _, f := range frame.fields {
		if f.Type.kind == KindPayload {
			break
		}
		if f.Type.sizeFunc != nil || f.Type.isMultiple() {
			return 0, false
		}
		total += f.Type.size
	}
	return total, true
}

func (p *Packet) context() *Context {
	return newContext(p.schema, p.msg, p.values, nil)
}

// Target returns the 8 byte target, zero filled when absent.
func (p *Packet) Target() []byte {
	t := p.Bytes(FieldTarget)
	out := make([]byte, 8)
	copy(out, t)
	return out
}

// Serial returns the hex encoded first six bytes of the target.
func (p *Packet) Serial() string {
	return hex.EncodeToString(p.Target()[:6])
}

// Source returns the source identifier.
func (p *Packet) Source() uint32 { return uint32(p.Uint(FieldSource)) }

// Sequence returns the sequence number.
func (p *Packet) Sequence() uint8 { return uint8(p.Uint(FieldSequence)) }

// AckRequired reports the ack_required flag.
func (p *Packet) AckRequired() bool { return p.Bool(FieldAckRequired) }

// ResRequired reports the res_required flag.
func (p *Packet) ResRequired() bool { return p.Bool(FieldResRequired) }

// FieldValue is one resolved field for display.
type FieldValue struct {
	Name  string
	Group string
	Value any
}

// Fields returns resolved values in wire order. Reserved fields are left
// out; fields that cannot be resolved are reported with a nil value.
func (p *Packet) Fields() []FieldValue {
	ctx := p.context()
	out := make([]FieldValue, 0, len(p.schema.fields))
	for _, f := range p.schema.fields {
		if f.Type.kind == KindReserved {
			continue
		}
		v, _ := ctx.Value(f.Name)
		out = append(out, FieldValue{Name: f.Name, Group: f.Group, Value: v})
	}
	return out
}

// PayloadValues returns the payload fields as a map, for display and JSON.
func (p *Packet) PayloadValues() map[string]any {
	out := make(map[string]any)
	frame := p.schema
	if p.msg != nil {
		frame = p.msg.frame
	}
	for _, fv := range p.Fields() {
		if _, inFrame := frame.Field(fv.Name); inFrame && fv.Name != FieldPayload {
			continue
		}
		out[fv.Name] = fv.Value
	}
	return out
}

// String returns a debug representation of the packet
func (p *Packet) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(serial=%s source=%d sequence=%d", p.Name(), p.Serial(), p.Source(), p.Sequence())
	keys := p.PayloadValues()
	for _, f := range p.schema.fields {
		v, ok := keys[f.Name]
		if !ok {
			continue
		}
		if b, isBytes := v.([]byte); isBytes {
			v = hex.EncodeToString(b)
		}
		fmt.Fprintf(&sb, " %s=%v", f.Name, v)
	}
	sb.WriteString(")")
	return sb.String()
}

// Equal reports whether two packets pack to the same bytes.
func (p *Packet) Equal(o *Packet) bool {
	a, errA := p.Pack()
	b, errB := o.Pack()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}
