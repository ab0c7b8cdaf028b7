package fakedevice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
)

const testSerial = "d073d5000001"

func request(t *testing.T, m *protocol.Message, values map[string]any) *protocol.Packet {
	t.Helper()
	v := map[string]any{"source": 7, "sequence": 3, "target": testSerial}
	for k, val := range values {
		v[k] = val
	}
	pkt, err := m.New(v)
	if err != nil {
		t.Fatalf("%s.New() error = %v", m.Name, err)
	}
	return pkt
}

func names(pkts []*protocol.Packet) []string {
	out := make([]string, len(pkts))
	for i, p := range pkts {
		out[i] = p.Name()
	}
	return out
}

func TestDevice_Handle(t *testing.T) {
	tests := []struct {
		name   string
		msg    *protocol.Message
		values map[string]any
		want   []string
	}{
		{
			name: "get replies and acks",
			msg:  messages.GetPower,
			want: []string{"Acknowledgement", "StatePower"},
		},
		{
			name:   "get without ack",
			msg:    messages.GetLabel,
			values: map[string]any{"ack_required": false},
			want:   []string{"StateLabel"},
		},
		{
			name:   "set without res_required only acks",
			msg:    messages.SetPower,
			values: map[string]any{"level": 65535, "res_required": false},
			want:   []string{"Acknowledgement"},
		},
		{
			name:   "set with res_required replies",
			msg:    messages.SetLabel,
			values: map[string]any{"label": "den", "ack_required": false},
			want:   []string{"StateLabel"},
		},
		{
			name:   "nothing required",
			msg:    messages.SetPower,
			values: map[string]any{"level": 0, "ack_required": false, "res_required": false},
			want:   []string{},
		},
		{
			name:   "echo",
			msg:    messages.EchoRequest,
			values: map[string]any{"echoing": []byte("ping"), "ack_required": false},
			want:   []string{"EchoResponse"},
		},
		{
			name:   "zones on a bulb are unhandled",
			msg:    messages.GetColorZones,
			values: map[string]any{"start_index": 0, "end_index": 255, "ack_required": false},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(testSerial, DefaultState("bulb"), nil)
			got := names(d.Handle(request(t, tt.msg, tt.values)))
			if len(got) != len(tt.want) {
				t.Fatalf("Handle() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Handle()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDevice_ReplyCorrelation(t *testing.T) {
	d := New(testSerial, DefaultState("bulb"), nil)
	out := d.Handle(request(t, messages.GetPower, nil))
	for _, p := range out {
		if p.Source() != 7 || p.Sequence() != 3 || p.Serial() != testSerial {
			t.Errorf("%s has source=%d sequence=%d serial=%s", p.Name(), p.Source(), p.Sequence(), p.Serial())
		}
	}
}

func TestDevice_SetReturnsPreviousState(t *testing.T) {
	d := New(testSerial, DefaultState("bulb"), nil)

	out := d.Handle(request(t, messages.SetPower, map[string]any{"level": 65535, "ack_required": false}))
	if len(out) != 1 || out[0].Uint("level") != 0 {
		t.Fatalf("SetPower reply = %v, want StatePower level 0", names(out))
	}
	if got := d.State().Power; got != 65535 {
		t.Errorf("Power = %d, want 65535", got)
	}
}

func TestDevice_Faults(t *testing.T) {
	d := New(testSerial, DefaultState("bulb"), nil)
	get := request(t, messages.GetPower, nil)

	restore := d.NoAcksFor(messages.GetPower)
	if got := names(d.Handle(get)); len(got) != 1 || got[0] != "StatePower" {
		t.Errorf("with NoAcksFor, Handle() = %v", got)
	}
	restore()

	restore = d.NoRepliesFor(messages.GetPower)
	if got := names(d.Handle(get)); len(got) != 1 || got[0] != "Acknowledgement" {
		t.Errorf("with NoRepliesFor, Handle() = %v", got)
	}
	restore()
	restore()

	restore = d.Offline()
	if got := d.Handle(get); len(got) != 0 {
		t.Errorf("offline Handle() = %v", names(got))
	}
	restore()

	if got := d.Handle(get); len(got) != 2 {
		t.Errorf("restored Handle() = %v", names(got))
	}
	if got := len(d.Received()); got != 3 {
		t.Errorf("Received() has %d packets, want 3", got)
	}
}

func TestDevice_IgnoresOtherTargets(t *testing.T) {
	d := New(testSerial, DefaultState("bulb"), nil)
	other := request(t, messages.GetPower, map[string]any{"target": "d073d5000002"})
	if got := d.Handle(other); len(got) != 0 {
		t.Errorf("Handle() for another serial = %v", names(got))
	}
	if len(d.Received()) != 0 {
		t.Error("packet for another serial was logged")
	}
}

func TestDevice_ColorZones(t *testing.T) {
	d := New(testSerial, StripState("strip", 20), nil)

	set := request(t, messages.SetColorZones, map[string]any{
		"start_index": 8, "end_index": 9, "hue": 120, "saturation": 1, "brightness": 1,
		"ack_required": false, "res_required": false,
	})
	d.Handle(set)
	zones := d.State().Zones
	if zones[8].Hue != 120 || zones[9].Hue != 120 || zones[10].Hue != 0 {
		t.Errorf("zones after SetColorZones = %v", zones[7:11])
	}

	out := d.Handle(request(t, messages.GetColorZones, map[string]any{
		"start_index": 0, "end_index": 255, "ack_required": false,
	}))
	if len(out) != 3 {
		t.Fatalf("GetColorZones got %d replies, want 3", len(out))
	}
	for i, p := range out {
		if got := p.Uint("zone_index"); got != uint64(i*8) {
			t.Errorf("reply %d zone_index = %d", i, got)
		}
		if got := p.Uint("zones_count"); got != 20 {
			t.Errorf("reply %d zones_count = %d", i, got)
		}
	}
}

func TestDevice_Get64(t *testing.T) {
	d := New(testSerial, TileState("tiles", 3), nil)
	out := d.Handle(request(t, messages.Get64, map[string]any{
		"tile_index": 1, "length": 5, "ack_required": false,
	}))
	if len(out) != 2 {
		t.Fatalf("Get64 got %d replies, want 2", len(out))
	}
	if out[0].Uint("tile_index") != 1 || out[1].Uint("tile_index") != 2 {
		t.Errorf("tile indexes = %d, %d", out[0].Uint("tile_index"), out[1].Uint("tile_index"))
	}
}

func TestNetwork_Broadcast(t *testing.T) {
	network := NewNetwork()
	network.AddDevice(New("d073d5000001", DefaultState("one"), nil))
	network.AddDevice(New("d073d5000002", DefaultState("two"), nil))

	conn := network.Listen()
	defer conn.Close()

	get := messages.GetService.MustNew(map[string]any{"source": 9, "sequence": 1, "ack_required": false})
	data, err := get.Pack()
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if _, err := conn.WriteTo(data, &net.UDPAddr{IP: net.IPv4bcast, Port: messages.DefaultPort}); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	registry := messages.MustRegistry()
	seen := map[string]string{}
	buf := make([]byte, 1024)
	if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	for len(seen) < 2 {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom() error = %v after %d replies", err, len(seen))
		}
		pkt, err := registry.Unpack(buf[:n], false)
		if err != nil {
			t.Fatalf("Unpack() error = %v", err)
		}
		if !pkt.Is(messages.StateService) {
			t.Fatalf("got %s, want StateService", pkt.Name())
		}
		seen[pkt.Serial()] = addr.String()
	}
	if seen["d073d5000001"] == seen["d073d5000002"] {
		t.Errorf("both devices answered from %s", seen["d073d5000001"])
	}
}

func TestServeUDP(t *testing.T) {
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback UDP: %v", err)
	}
	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback UDP: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := New(testSerial, DefaultState("bulb"), nil)
	done := make(chan error, 1)
	go func() { done <- d.ServeUDP(ctx, server) }()

	data, err := request(t, messages.GetLabel, map[string]any{"ack_required": false}).Pack()
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if _, err := client.WriteTo(data, server.LocalAddr()); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	buf := make([]byte, 1024)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	pkt, err := messages.MustRegistry().Unpack(buf[:n], false)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	if got := pkt.Str("label"); got != "bulb" {
		t.Errorf("label = %q, want bulb", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeUDP() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("ServeUDP did not stop")
	}
}
