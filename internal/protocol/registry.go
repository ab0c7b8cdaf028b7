package protocol

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Protocol groups the messages sharing one protocol number and frame.
type Protocol struct {
	ID       uint16
	Frame    *Schema
	Messages []*Message
}

type protocolEntry struct {
	frame  *Schema
	byType map[uint16]*Message
	byName map[string]*Message
}

// Registry maps (protocol, pkt_type) pairs to message definitions. It is
// built once and then read concurrently.
type Registry struct {
	mu        sync.RWMutex
	protocols map[uint16]*protocolEntry
	protoAt   fieldSpan
	typeAt    fieldSpan
}

type fieldSpan struct {
	offset, width int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{protocols: make(map[uint16]*protocolEntry)}
}

// Register adds a protocol. A protocol number registered twice, two
// messages sharing a type or name, or a message declared for another
// protocol is an error.
func (r *Registry) Register(p Protocol) error {
	if p.Frame == nil {
		return fmt.Errorf("protocol %d: no frame schema", p.ID)
	}
	protoAt, ok := fieldOffset(p.Frame, FieldProtocol)
	if !ok {
		return &SchemaError{Schema: p.Frame.Name(), Field: FieldProtocol, Reason: "frame must declare a fixed position protocol field"}
	}
	typeAt, ok := fieldOffset(p.Frame, FieldPktType)
	if !ok {
		return &SchemaError{Schema: p.Frame.Name(), Field: FieldPktType, Reason: "frame must declare a fixed position pkt_type field"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.protocols[p.ID]; exists {
		return fmt.Errorf("protocol %d is already registered", p.ID)
	}
	if len(r.protocols) > 0 && (protoAt != r.protoAt || typeAt != r.typeAt) {
		return fmt.Errorf("protocol %d: frame places protocol or pkt_type differently from registered frames", p.ID)
	}

	entry := &protocolEntry{
		frame:  p.Frame,
		byType: make(map[uint16]*Message, len(p.Messages)),
		byName: make(map[string]*Message, len(p.Messages)),
	}
	for _, m := range p.Messages {
		if m.Protocol != p.ID {
			return fmt.Errorf("message %s belongs to protocol %d, not %d", m.Name, m.Protocol, p.ID)
		}
		if prev, exists := entry.byType[m.Type]; exists {
			return fmt.Errorf("protocol %d: %s and %s share pkt_type %d", p.ID, prev.Name, m.Name, m.Type)
		}
		if _, exists := entry.byName[m.Name]; exists {
			return fmt.Errorf("protocol %d: message name %s used twice", p.ID, m.Name)
		}
		entry.byType[m.Type] = m
		entry.byName[m.Name] = m
	}
	r.protocols[p.ID] = entry
	r.protoAt = protoAt
	r.typeAt = typeAt
	return nil
}

// Resolve returns the message registered for pt.
func (r *Registry) Resolve(pt PacketType) (*Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.protocols[pt.Protocol]
	if !ok {
		return nil, false
	}
	m, ok := entry.byType[pt.Type]
	return m, ok
}

// ByName finds a message by name across every protocol.
func (r *Registry) ByName(name string) (*Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.protocols {
		if m, ok := entry.byName[name]; ok {
			return m, true
		}
	}
	return nil, false
}

// Messages returns every registered message ordered by protocol and type.
func (r *Registry) Messages() []*Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Message
	for _, entry := range r.protocols {
		for _, m := range entry.byType {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Protocol != out[j].Protocol {
			return out[i].Protocol < out[j].Protocol
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Frame returns the parent frame of a registered protocol.
func (r *Registry) Frame(protocol uint16) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.protocols[protocol]
	if !ok {
		return nil, false
	}
	return entry.frame, true
}

// PacketTypeOf reads the protocol and pkt_type of raw data (bytes, Bits or
// a hex string) without decoding the rest.
func (r *Registry) PacketTypeOf(data any) (PacketType, error) {
	bits, err := toBits(data)
	if err != nil {
		return PacketType{}, err
	}

	r.mu.RLock()
	protoAt, typeAt := r.protoAt, r.typeAt
	empty := len(r.protocols) == 0
	r.mu.RUnlock()
	if empty {
		return PacketType{}, &BadConversion{Reason: "no protocols registered"}
	}

	need := max(protoAt.offset+protoAt.width, typeAt.offset+typeAt.width)
	if bits.Len() < need {
		return PacketType{}, &BadConversion{Reason: fmt.Sprintf("data is %d bits, need at least %d to read the packet type", bits.Len(), need)}
	}
	return PacketType{
		Protocol: uint16(bits.Uint(protoAt.offset, protoAt.width)),
		Type:     uint16(bits.Uint(typeAt.offset, typeAt.width)),
	}, nil
}

// Unpack decodes data into a packet. An unregistered protocol is always an
// error. An unregistered pkt_type is an error unless unknownOK is set, in
// which case the packet is decoded with only the frame and its payload kept
// as raw bytes.
func (r *Registry) Unpack(data any, unknownOK bool) (*Packet, error) {
	bits, err := toBits(data)
	if err != nil {
		return nil, err
	}
	pt, err := r.PacketTypeOf(bits)
	if err != nil {
		return nil, err
	}

	frame, ok := r.Frame(pt.Protocol)
	if !ok {
		return nil, &BadConversion{Reason: "unknown protocol", PacketType: &pt, Err: ErrUnknownPacketType}
	}

	msg, known := r.Resolve(pt)
	schema := frame
	if known {
		schema = msg.schema
	} else if !unknownOK {
		return nil, &BadConversion{Reason: "unknown packet type", PacketType: &pt, Err: ErrUnknownPacketType}
	}

	c := newUnpackContext(schema, msg, nil)
	if _, err := c.unpack(bits); err != nil {
		var bc *BadConversion
		if errors.As(err, &bc) && bc.PacketType == nil {
			bc.PacketType = &pt
			return nil, bc
		}
		return nil, &BadConversion{Reason: "failed to unpack", PacketType: &pt, Err: err}
	}
	return &Packet{msg: msg, schema: schema, pt: pt, values: c.explicit}, nil
}

// Pack builds and packs a packet from a flat map of values, which must
// name the protocol and pkt_type.
func (r *Registry) Pack(values map[string]any, unknownOK bool) ([]byte, error) {
	p, err := r.Create(values, unknownOK)
	if err != nil {
		return nil, err
	}
	return p.Pack()
}

// Create builds a packet from a flat map of values naming the protocol and
// pkt_type. With unknownOK an unregistered type becomes an opaque packet
// whose payload must be given as raw bytes.
func (r *Registry) Create(values map[string]any, unknownOK bool) (*Packet, error) {
	proto, err := toUint64(values[FieldProtocol], nil)
	if err != nil {
		return nil, &BadConversion{Reason: "values must include a protocol", Err: err}
	}
	typ, err := toUint64(values[FieldPktType], nil)
	if err != nil {
		return nil, &BadConversion{Reason: "values must include a pkt_type", Err: err}
	}
	pt := PacketType{Protocol: uint16(proto), Type: uint16(typ)}

	if msg, ok := r.Resolve(pt); ok {
		return msg.New(values)
	}
	frame, ok := r.Frame(pt.Protocol)
	if !ok || !unknownOK {
		return nil, &BadConversion{Reason: "unknown packet type", PacketType: &pt, Err: ErrUnknownPacketType}
	}
	normalized, err := frame.normalizeValues(values)
	if err != nil {
		return nil, err
	}
	return &Packet{schema: frame, pt: pt, values: normalized}, nil
}

// fieldOffset returns the bit position of a field preceded only by fixed
// width fields.
func fieldOffset(s *Schema, name string) (fieldSpan, bool) {
	offset := 0
	for _, f := range s.fields {
		t := f.Type
		if t.sizeFunc != nil || t.countFunc != nil || t.kind == KindPayload {
			return fieldSpan{}, false
		}
		if f.Name == name {
			if t.isMultiple() {
				return fieldSpan{}, false
			}
			return fieldSpan{offset: offset, width: t.size}, true
		}
		n := t.size
		if t.count > 0 {
			n *= t.count
		}
		offset += n
	}
	return fieldSpan{}, false
}
