// Package protocol implements declarative binary packet schemas and the
// bit-level codec used by the LIFX LAN protocol.
//
// A Schema is an ordered list of typed fields. Each field has a width in
// bits (fixed or computed from sibling fields), an optional default
// (static or computed), an optional transform between the value callers
// work with and the value on the wire, and an optional repeat count.
//
// # Wire Layout
//
// Fields are packed in declaration order into one contiguous bit
// sequence. Integers are little-endian and bits are least significant
// first, so a 12 bit field followed by two 1 bit flags shares the same
// two bytes exactly as the LIFX header does:
//
//	size(16) protocol(12) addressable(1) tagged(1) reserved(2) source(32)
//
// An integer narrower than its word keeps its low bits, or its high bits
// when the field type is marked Left. Bytes and strings are truncated or
// zero padded to their width; strings stop at the first NUL on unpack.
//
// # Messages
//
// A parent frame ends with a Payload placeholder. NewMessage replaces the
// placeholder with payload fields and binds the result to a (protocol,
// pkt_type) pair:
//
//	SetPower := protocol.MustMessage(Frame, 1024, "SetPower", 21,
//	    protocol.F("level", protocol.Uint16),
//	)
//
//	pkt, err := SetPower.New(map[string]any{"level": 65535, "target": "d073d5000001"})
//	if err != nil {
//	    return err
//	}
//	data, err := pkt.Pack()
//
// # Absence and Defaults
//
// A Packet stores only the values that were set. Reading a field through
// Value resolves its default; an absent optional field resolves to nil and
// packs as zero bits. Computed defaults run after every explicit value and
// static default is known, so a header size can depend on the payload.
//
// # Registry
//
// A Registry maps (protocol, pkt_type) to message definitions. Unpack reads
// those two fields first and then decodes the rest with the matching
// schema. Unknown types are rejected, or decoded as opaque packets with a
// raw payload when the caller allows it.
//
// # Error Handling
//
// The package distinguishes between:
//   - SchemaError: an invalid schema, or a packet missing a required value
//   - BadConversion: data or values that cannot be converted to or from the wire
//
// BadConversion wraps ErrUnknownPacketType for unregistered packet types.
//
// # Thread Safety
//
// Schemas and messages are immutable and safe to share. A Registry may be
// read concurrently. A Packet is not safe for concurrent mutation.
package protocol
