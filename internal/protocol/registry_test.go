package protocol

import (
	"bytes"
	"errors"
	"testing"
)

const testProtocol = 7

func testFrame() *Schema {
	return MustSchema("frame",
		F(FieldSize, Uint16.DefaultFunc(func(c *Context) (any, error) {
			n, err := c.TotalBits()
			return n / 8, err
		})),
		F(FieldProtocol, Uint16.Size(12).Default(testProtocol)),
		F("flags", Reserved(4)),
		F(FieldPktType, Uint16.DefaultFunc(func(c *Context) (any, error) {
			if c.Message() == nil {
				return nil, errors.New("opaque packets need an explicit pkt_type")
			}
			return c.Message().Type, nil
		})),
		F(FieldPayload, Payload()),
	)
}

type testMessages struct {
	registry *Registry
	ping     *Message
	pong     *Message
}

func newTestMessages(t *testing.T) testMessages {
	t.Helper()
	frame := testFrame()
	ping := MustMessage(frame, testProtocol, "Ping", 1, F("value", Uint32))
	pong := ping.Using("Pong", 3)

	r := NewRegistry()
	if err := r.Register(Protocol{ID: testProtocol, Frame: frame, Messages: []*Message{ping, pong}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return testMessages{registry: r, ping: ping, pong: pong}
}

func TestRegistryPackUnpack(t *testing.T) {
	m := newTestMessages(t)

	pkt := m.ping.MustNew(map[string]any{"value": 5})
	data, err := pkt.Pack()
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	want := []byte{0x0A, 0x00, 0x07, 0x00, 0x01, 0x00, 0x05, 0x00, 0x00, 0x00}
	if !bytes.Equal(data, want) {
		t.Fatalf("Pack() = %x, want %x", data, want)
	}

	got, err := m.registry.Unpack(data, false)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if !got.Is(m.ping) {
		t.Errorf("Unpack() = %s, want Ping", got.Name())
	}
	if got.Uint("value") != 5 {
		t.Errorf("value = %d, want 5", got.Uint("value"))
	}
	if got.Uint(FieldSize) != uint64(len(want)) {
		t.Errorf("size = %d, want %d", got.Uint(FieldSize), len(want))
	}
	if !got.Equal(pkt) {
		t.Error("unpacked packet does not pack to the same bytes")
	}

	viaMap, err := m.registry.Pack(map[string]any{FieldProtocol: testProtocol, FieldPktType: 3, "value": 5}, false)
	if err != nil {
		t.Fatalf("Registry.Pack() error = %v", err)
	}
	if viaMap[4] != 3 {
		t.Errorf("pkt_type byte = %d, want 3", viaMap[4])
	}
}

func TestRegistryUnknownTypes(t *testing.T) {
	m := newTestMessages(t)
	data := []byte{0x0A, 0x00, 0x07, 0x00, 0x02, 0x00, 0x05, 0x00, 0x00, 0x00}

	_, err := m.registry.Unpack(data, false)
	if !errors.Is(err, ErrUnknownPacketType) {
		t.Errorf("Unpack() error = %v, want ErrUnknownPacketType", err)
	}

	opaque, err := m.registry.Unpack(data, true)
	if err != nil {
		t.Fatalf("Unpack(unknownOK) error = %v", err)
	}
	if !opaque.IsOpaque() {
		t.Error("IsOpaque() = false, want true")
	}
	if opaque.Name() != "Unknown(7:2)" {
		t.Errorf("Name() = %s, want Unknown(7:2)", opaque.Name())
	}
	payload, err := opaque.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	if !bytes.Equal(payload, []byte{0x05, 0x00, 0x00, 0x00}) {
		t.Errorf("Payload() = %x, want 05000000", payload)
	}
	repacked, err := opaque.Pack()
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if !bytes.Equal(repacked, data) {
		t.Errorf("Pack() = %x, want %x", repacked, data)
	}

	otherProtocol := bytes.Clone(data)
	otherProtocol[2] = 0x08
	if _, err := m.registry.Unpack(otherProtocol, true); !errors.Is(err, ErrUnknownPacketType) {
		t.Errorf("Unpack() of unknown protocol error = %v, want ErrUnknownPacketType", err)
	}

	var bc *BadConversion
	if _, err := m.registry.Unpack([]byte{0x01, 0x02}, true); !errors.As(err, &bc) {
		t.Errorf("Unpack() of short data error = %v, want BadConversion", err)
	}
}

func TestRegistryRegisterErrors(t *testing.T) {
	frame := testFrame()
	ping := MustMessage(frame, testProtocol, "Ping", 1, F("value", Uint32))

	tests := []struct {
		name     string
		protocol Protocol
	}{
		{
			name:     "duplicate type",
			protocol: Protocol{ID: testProtocol, Frame: frame, Messages: []*Message{ping, ping.Using("Other", 1)}},
		},
		{
			name:     "duplicate name",
			protocol: Protocol{ID: testProtocol, Frame: frame, Messages: []*Message{ping, ping.Using("Ping", 2)}},
		},
		{
			name:     "protocol mismatch",
			protocol: Protocol{ID: testProtocol + 1, Frame: frame, Messages: []*Message{ping}},
		},
		{
			name:     "frame without pkt_type",
			protocol: Protocol{ID: testProtocol, Frame: MustSchema("bare", F(FieldProtocol, Uint16))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewRegistry().Register(tt.protocol); err == nil {
				t.Error("Register() succeeded, want error")
			}
		})
	}

	r := NewRegistry()
	if err := r.Register(Protocol{ID: testProtocol, Frame: frame}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(Protocol{ID: testProtocol, Frame: frame}); err == nil {
		t.Error("registering a protocol twice succeeded")
	}
}

func TestRegistryLookup(t *testing.T) {
	m := newTestMessages(t)

	if got, ok := m.registry.ByName("Pong"); !ok || got.Type != 3 {
		t.Errorf("ByName(Pong) = %v, %v", got, ok)
	}
	if _, ok := m.registry.Resolve(PacketType{Protocol: testProtocol, Type: 9}); ok {
		t.Error("Resolve() of unregistered type succeeded")
	}
	msgs := m.registry.Messages()
	if len(msgs) != 2 || msgs[0].Name != "Ping" || msgs[1].Name != "Pong" {
		t.Errorf("Messages() = %v, want [Ping Pong]", msgs)
	}
}

func TestPacketSetAndClone(t *testing.T) {
	m := newTestMessages(t)
	pkt := m.ping.MustNew(map[string]any{"value": 1})

	if err := pkt.Set("missing", 1); err == nil {
		t.Error("Set() of unknown field succeeded")
	}
	clone := pkt.Clone()
	if err := clone.Set("value", 2); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if pkt.Uint("value") != 1 || clone.Uint("value") != 2 {
		t.Errorf("value = %d, clone = %d, want 1, 2", pkt.Uint("value"), clone.Uint("value"))
	}
	if err := clone.Set("value", nil); err != nil {
		t.Fatalf("Set(nil) error = %v", err)
	}
	if clone.Has("value") {
		t.Error("Has() after Set(nil) = true")
	}
	if _, err := clone.Pack(); err == nil {
		t.Error("Pack() without a required value succeeded")
	}
}

func TestMultiOptions(t *testing.T) {
	m := newTestMessages(t)
	req := m.ping.MustNew(map[string]any{"value": 0})
	reply := func(v int) *Packet { return m.pong.MustNew(map[string]any{"value": v}) }

	fromFirst := CountFromFirst(func(_, first *Packet) int { return int(first.Uint("value")) }, m.pong)
	if !fromFirst.Expected(req, nil).IsWaiting() {
		t.Error("CountFromFirst with no replies is not waiting")
	}
	if n, ok := fromFirst.Expected(req, []*Packet{reply(3)}).Count(); !ok || n != 3 {
		t.Errorf("CountFromFirst = %d, %v, want 3, true", n, ok)
	}

	atMost := AtMost(func(*Packet) int { return 2 }, m.pong)
	if !atMost.Expected(req, []*Packet{reply(1)}).IsWaiting() {
		t.Error("AtMost with one of two replies is not waiting")
	}
	if n, ok := atMost.Expected(req, []*Packet{reply(1), reply(2)}).Count(); !ok || n != 2 {
		t.Errorf("AtMost = %d, %v, want 2, true", n, ok)
	}

	fixed := FixedCount(2, m.pong)
	if fixed.Matches(req) {
		t.Error("FixedCount matches a reply type it was not given")
	}
	if n, _ := fixed.Expected(req, nil).Count(); n != 2 {
		t.Errorf("FixedCount = %d, want 2", n)
	}

	unbounded := Unbounded()
	if !unbounded.Expected(req, []*Packet{reply(1)}).IsWaiting() {
		t.Error("Unbounded is not waiting")
	}
}
