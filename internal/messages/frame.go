package messages

import (
	"bytes"
	"errors"

	"github.com/muurk/lifxlan/internal/protocol"
)

// ProtocolLIFX is the protocol number of every LIFX LAN message.
const ProtocolLIFX = 1024

// HeaderSize is the size of the frame in bytes, before any payload.
const HeaderSize = 36

// DefaultPort is the UDP port LIFX devices listen on.
const DefaultPort = 56700

// FrameHeader carries the packet size, protocol and source.
var FrameHeader = protocol.MustSchema("FrameHeader",
	protocol.F(protocol.FieldSize, protocol.Uint16.DefaultFunc(packetSize)),
	protocol.F(protocol.FieldProtocol, protocol.Uint16.Size(12).Default(ProtocolLIFX)),
	protocol.F(protocol.FieldAddressable, protocol.Bool.Default(true)),
	protocol.F(protocol.FieldTagged, protocol.Bool.DefaultFunc(isTagged)),
	protocol.F("reserved1", protocol.Reserved(2).Left()),
	protocol.F(protocol.FieldSource, protocol.Uint32),
)

// FrameAddress carries the target and the correlation fields.
var FrameAddress = protocol.MustSchema("FrameAddress",
	protocol.F(protocol.FieldTarget, protocol.Bytes(64).Optional()),
	protocol.F("reserved2", protocol.Reserved(48)),
	protocol.F(protocol.FieldResRequired, protocol.Bool.Default(true)),
	protocol.F(protocol.FieldAckRequired, protocol.Bool.Default(true)),
	protocol.F("reserved3", protocol.Reserved(6)),
	protocol.F(protocol.FieldSequence, protocol.Uint8),
)

// ProtocolHeader carries the message type.
var ProtocolHeader = protocol.MustSchema("ProtocolHeader",
	protocol.F("reserved4", protocol.Reserved(64)),
	protocol.F(protocol.FieldPktType, protocol.Uint16.DefaultFunc(messageType)),
	protocol.F("reserved5", protocol.Reserved(16)),
)

// Frame is the parent packet of protocol 1024. Any LIFX message can be
// represented with it by carrying the payload as raw bytes.
var Frame = newFrame()

func newFrame() *protocol.Schema {
	var fields []protocol.Field
	fields = append(fields, protocol.Group(FrameHeader)...)
	fields = append(fields, protocol.Group(FrameAddress)...)
	fields = append(fields, protocol.Group(ProtocolHeader)...)
	fields = append(fields, protocol.F(protocol.FieldPayload, protocol.Payload()))
	return protocol.MustSchema("LIFXPacket", fields...)
}

func msg(name string, typ uint16, fields ...protocol.Field) *protocol.Message {
	return protocol.MustMessage(Frame, ProtocolLIFX, name, typ, fields...)
}

func packetSize(c *protocol.Context) (any, error) {
	bits, err := c.TotalBits()
	if err != nil {
		return nil, err
	}
	return bits / 8, nil
}

// isTagged is true when the packet has no target or the all-zero target.
func isTagged(c *protocol.Context) (any, error) {
	v, err := c.Value(protocol.FieldTarget)
	if err != nil {
		return nil, err
	}
	target, _ := v.([]byte)
	return len(bytes.Trim(target, "\x00")) == 0, nil
}

func messageType(c *protocol.Context) (any, error) {
	m := c.Message()
	if m == nil {
		return nil, errors.New("pkt_type must be set for a packet without a message definition")
	}
	return m.Type, nil
}
