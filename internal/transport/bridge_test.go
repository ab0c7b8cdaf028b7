package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/muurk/lifxlan/internal/fakedevice"
	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
)

type testNet struct {
	network *fakedevice.Network
	devices map[string]*fakedevice.Device
	addrs   map[string]*net.UDPAddr
}

func newTestNet(serials ...string) *testNet {
	n := &testNet{
		network: fakedevice.NewNetwork(),
		devices: make(map[string]*fakedevice.Device),
		addrs:   make(map[string]*net.UDPAddr),
	}
	for _, s := range serials {
		d := fakedevice.New(s, fakedevice.DefaultState("bulb "+s), nil)
		n.devices[s] = d
		n.addrs[s] = n.network.AddDevice(d)
	}
	return n
}

func (n *testNet) bridge(t *testing.T, configure func(*Options)) *Bridge {
	t.Helper()
	opts := DefaultOptions()
	opts.Dial = n.network.Dial
	opts.Retry = fastRetry()
	opts.Retry.MaxRetries = -1
	if configure != nil {
		configure(&opts)
	}
	b, err := NewBridge(opts)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// writesTo returns the datagrams of message m written to addr.
func (n *testNet) writesTo(addr *net.UDPAddr, m *protocol.Message) [][]byte {
	registry := messages.MustRegistry()
	var out [][]byte
	for _, d := range n.network.Writes() {
		if d.To != addr.String() {
			continue
		}
		pkt, err := registry.Unpack(d.Data, true)
		if err == nil && pkt.Is(m) {
			out = append(out, d.Data)
		}
	}
	return out
}

func endpointOf(addr *net.UDPAddr) Endpoint {
	return Endpoint{Host: addr.IP.String(), Port: addr.Port}
}

func TestNewBridge_Sources(t *testing.T) {
	for i := 0; i < 100; i++ {
		b, err := NewBridge(Options{})
		if err != nil {
			t.Fatalf("NewBridge() error = %v", err)
		}
		if b.DeviceSource() == 0 || b.BroadcastSource() == 0 {
			t.Fatal("source is zero")
		}
		if b.DeviceSource() == b.BroadcastSource() {
			t.Fatal("device and broadcast sources are equal")
		}
	}
}

func TestBridge_BroadcastGetService(t *testing.T) {
	n := newTestNet(serialA)
	b := n.bridge(t, nil)

	get := messages.GetService.MustNew(map[string]any{"ack_required": false})
	replies, err := b.SendSingle(context.Background(), get, SendOptions{
		Broadcast: true,
		NoRetry:   true,
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("SendSingle() error = %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	pkt := replies[0].Packet
	if !pkt.Is(messages.StateService) || pkt.Serial() != serialA {
		t.Errorf("reply = %s from %s", pkt.Name(), pkt.Serial())
	}
	if pkt.Source() != b.BroadcastSource() {
		t.Errorf("reply source = %d, want broadcast source %d", pkt.Source(), b.BroadcastSource())
	}
}

func TestBridge_UnresponsiveDeviceTimesOut(t *testing.T) {
	n := newTestNet(serialA)
	restore := n.devices[serialA].Offline()
	defer restore()

	b := n.bridge(t, func(o *Options) {
		o.Retry = RetryOptions{
			Timeouts:   []Step{{Every: 100 * time.Millisecond, Until: 100 * time.Millisecond}},
			MaxRetries: 2,
		}
	})
	b.TargetIsAt(serialA, endpointOf(n.addrs[serialA]))

	set := messages.SetPower.MustNew(map[string]any{"target": serialA, "level": 65535, "res_required": false})
	start := time.Now()
	_, err := b.SendSingle(context.Background(), set, SendOptions{Timeout: 5 * time.Second})

	var timedOut *TimedOut
	if !errors.As(err, &timedOut) {
		t.Fatalf("SendSingle() error = %v, want TimedOut", err)
	}
	if timedOut.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", timedOut.Attempts)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("gave up after %v, want well before the call timeout", elapsed)
	}

	writes := n.writesTo(n.addrs[serialA], messages.SetPower)
	if len(writes) != 3 {
		t.Fatalf("device saw %d transmits, want 3", len(writes))
	}
	seen := map[byte]bool{}
	for _, w := range writes {
		seen[w[23]] = true
	}
	if len(seen) != 3 {
		t.Errorf("sequences %v are not distinct", seen)
	}
	if b.receiver.Pending() != 0 {
		t.Errorf("%d registrations left after timeout", b.receiver.Pending())
	}
}

func TestBridge_SendToKnownDevice(t *testing.T) {
	n := newTestNet(serialA)
	n.devices[serialA].Update(func(s *fakedevice.State) { s.Power = 65535 })
	b := n.bridge(t, nil)
	b.TargetIsAt(serialA, endpointOf(n.addrs[serialA]))

	get := messages.GetPower.MustNew(map[string]any{"target": serialA})
	replies, err := b.SendSingle(context.Background(), get, SendOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("SendSingle() error = %v", err)
	}
	if len(replies) != 1 || replies[0].Packet.Uint("level") != 65535 {
		t.Fatalf("replies = %v", replies)
	}
	if replies[0].Packet.Source() != b.DeviceSource() {
		t.Errorf("reply source = %d, want device source", replies[0].Packet.Source())
	}
}

func TestBridge_RetryRecovers(t *testing.T) {
	n := newTestNet(serialA)
	d := n.devices[serialA]
	restore := d.NoResponsesFor(messages.GetLabel)
	b := n.bridge(t, nil)
	b.TargetIsAt(serialA, endpointOf(n.addrs[serialA]))

	time.AfterFunc(50*time.Millisecond, restore)

	get := messages.GetLabel.MustNew(map[string]any{"target": serialA})
	replies, err := b.SendSingle(context.Background(), get, SendOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("SendSingle() error = %v", err)
	}
	if len(replies) != 1 || replies[0].Packet.Str("label") != "bulb "+serialA {
		t.Errorf("replies = %v", replies)
	}
	if got := len(n.writesTo(n.addrs[serialA], messages.GetLabel)); got < 2 {
		t.Errorf("device saw %d transmits, want a retransmit", got)
	}
}

func TestBridge_MultiReply(t *testing.T) {
	n := &testNet{
		network: fakedevice.NewNetwork(),
		devices: map[string]*fakedevice.Device{},
		addrs:   map[string]*net.UDPAddr{},
	}
	strip := fakedevice.New(serialA, fakedevice.StripState("strip", 24), nil)
	n.devices[serialA] = strip
	n.addrs[serialA] = n.network.AddDevice(strip)

	b := n.bridge(t, nil)
	b.TargetIsAt(serialA, endpointOf(n.addrs[serialA]))

	get := messages.GetColorZones.MustNew(map[string]any{"target": serialA, "start_index": 0, "end_index": 255})
	replies, err := b.SendSingle(context.Background(), get, SendOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("SendSingle() error = %v", err)
	}
	if len(replies) != 3 {
		t.Errorf("got %d replies, want 3", len(replies))
	}
}

func TestBridge_FindSpecificSerials(t *testing.T) {
	n := newTestNet(serialA, "d073d5000002")
	b := n.bridge(t, nil)

	found, missing, err := b.FindSpecificSerials(context.Background(),
		[]string{"D073D5000001", "d073d5000002"}, FindOptions{Timeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("FindSpecificSerials() error = %v", err)
	}
	if len(found) != 2 || len(missing) != 0 {
		t.Errorf("found = %v, missing = %v", found, missing)
	}

	ep, err := b.Found().Choose(serialA, []messages.Service{messages.ServiceUDP})
	if err != nil {
		t.Fatalf("Choose() error = %v", err)
	}
	if ep != endpointOf(n.addrs[serialA]) {
		t.Errorf("endpoint = %v, want %v", ep, n.addrs[serialA])
	}
}

func TestBridge_FindMissing(t *testing.T) {
	n := newTestNet(serialA)
	b := n.bridge(t, nil)

	found, missing, err := b.FindSpecificSerials(context.Background(),
		[]string{serialA, "d073d50000ff"}, FindOptions{Timeout: 700 * time.Millisecond})
	if err != nil {
		t.Fatalf("FindSpecificSerials() error = %v", err)
	}
	if len(found) != 1 || len(missing) != 1 || missing[0] != "d073d50000ff" {
		t.Errorf("found = %v, missing = %v", found, missing)
	}

	_, _, err = b.FindSpecificSerials(context.Background(),
		[]string{"d073d50000ff"}, FindOptions{Timeout: 700 * time.Millisecond, RaiseOnNone: true, IgnoreLost: true})
	var notFound *DevicesNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("error = %v, want DevicesNotFound", err)
	}
}

func TestBridge_FindNone(t *testing.T) {
	n := newTestNet()
	b := n.bridge(t, nil)

	_, err := b.FindDevices(context.Background(), FindOptions{Timeout: 700 * time.Millisecond, RaiseOnNone: true})
	var none *FoundNoDevices
	if !errors.As(err, &none) {
		t.Errorf("error = %v, want FoundNoDevices", err)
	}
}

func TestBridge_RemovesLostDevices(t *testing.T) {
	n := newTestNet(serialA)
	b := n.bridge(t, nil)
	b.TargetIsAt("d073d5000009", Endpoint{Host: "10.0.0.9", Port: 56700})

	found, err := b.FindDevices(context.Background(), FindOptions{Timeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("FindDevices() error = %v", err)
	}
	if len(found) != 1 || found[0] != serialA {
		t.Errorf("found = %v, want only %s", found, serialA)
	}
}

func TestBridge_Hardcoded(t *testing.T) {
	n := newTestNet(serialA)
	b := n.bridge(t, func(o *Options) {
		o.Discovery.Hardcoded = map[string]Endpoint{serialA: {Host: n.addrs[serialA].IP.String()}}
	})

	found, missing, err := b.FindSpecificSerials(context.Background(), []string{serialA}, FindOptions{})
	if err != nil || len(found) != 1 || len(missing) != 0 {
		t.Fatalf("FindSpecificSerials() = %v, %v, %v", found, missing, err)
	}
	if got := len(n.network.Writes()); got != 0 {
		t.Errorf("hardcoded discovery wrote %d datagrams", got)
	}
}

func TestBridge_UnknownTargetIsDiscovered(t *testing.T) {
	n := newTestNet(serialA)
	b := n.bridge(t, nil)

	get := messages.GetPower.MustNew(map[string]any{"target": serialA})
	if _, err := b.SendSingle(context.Background(), get, SendOptions{Timeout: 3 * time.Second}); err != nil {
		t.Fatalf("SendSingle() error = %v", err)
	}
	if !b.Found().Has(serialA) {
		t.Error("target was not added to the found cache")
	}
}

func TestBridge_NoDesiredService(t *testing.T) {
	n := newTestNet(serialA)
	b := n.bridge(t, nil)
	b.Found().Add(serialA, messages.ServiceReserved1, Endpoint{Host: "10.0.0.1", Port: 56700})

	get := messages.GetPower.MustNew(map[string]any{"target": serialA})
	_, err := b.SendSingle(context.Background(), get, SendOptions{Timeout: time.Second})
	var nds *NoDesiredService
	if !errors.As(err, &nds) {
		t.Fatalf("error = %v, want NoDesiredService", err)
	}
	if nds.Serial != serialA || len(nds.Available) != 1 {
		t.Errorf("NoDesiredService = %+v", nds)
	}
}

func TestBridge_CouldntMakeConnection(t *testing.T) {
	b, err := NewBridge(Options{
		Dial: func(context.Context) (net.PacketConn, error) {
			return nil, errors.New("no sockets today")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	b.TargetIsAt(serialA, Endpoint{Host: "10.0.0.1", Port: 56700})

	get := messages.GetPower.MustNew(map[string]any{"target": serialA})
	_, err = b.SendSingle(context.Background(), get, SendOptions{Timeout: time.Second})
	var cmc *CouldntMakeConnection
	if !errors.As(err, &cmc) {
		t.Errorf("error = %v, want CouldntMakeConnection", err)
	}
}

func TestBridge_ReceivedGarbage(t *testing.T) {
	var caught []Reply
	n := newTestNet()
	b := n.bridge(t, func(o *Options) {
		o.MessageCatcher = func(r Reply) { caught = append(caught, r) }
	})

	b.ReceivedData([]byte{0x01, 0x02}, nil)

	stray := messages.StatePower.MustNew(map[string]any{"source": 1, "sequence": 1, "target": serialA, "level": 1})
	data, err := stray.Pack()
	if err != nil {
		t.Fatal(err)
	}
	b.ReceivedData(data, nil)

	unknown := append([]byte(nil), data...)
	unknown[32] = 0xff
	unknown[33] = 0x7f
	b.ReceivedData(unknown, nil)

	if len(caught) != 2 {
		t.Fatalf("message catcher got %d packets, want 2", len(caught))
	}
	if !caught[1].Packet.IsOpaque() {
		t.Errorf("unknown type decoded as %s", caught[1].Packet.Name())
	}
}

func TestBridge_Close(t *testing.T) {
	n := newTestNet(serialA)
	restore := n.devices[serialA].Offline()
	defer restore()
	b := n.bridge(t, nil)
	b.TargetIsAt(serialA, endpointOf(n.addrs[serialA]))

	done := make(chan error, 1)
	go func() {
		get := messages.GetPower.MustNew(map[string]any{"target": serialA})
		_, err := b.SendSingle(context.Background(), get, SendOptions{Timeout: 5 * time.Second})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrBridgeStopped) {
			t.Errorf("pending send error = %v, want ErrBridgeStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending send did not return after Close")
	}

	get := messages.GetPower.MustNew(map[string]any{"target": serialA})
	if _, err := b.SendSingle(context.Background(), get, SendOptions{}); !errors.Is(err, ErrBridgeStopped) {
		t.Errorf("send after Close error = %v, want ErrBridgeStopped", err)
	}
}

func TestBridge_ConcurrentRequestsToOneDevice(t *testing.T) {
	n := newTestNet(serialA)
	b := n.bridge(t, nil)
	b.TargetIsAt(serialA, endpointOf(n.addrs[serialA]))

	const requests = 12
	type outcome struct {
		replies []Reply
		err     error
	}
	outcomes := make([]outcome, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			echo := messages.EchoRequest.MustNew(map[string]any{"target": serialA, "echoing": []byte{byte(i + 1)}})
			replies, err := b.SendSingle(context.Background(), echo, SendOptions{Timeout: 2 * time.Second})
			outcomes[i] = outcome{replies, err}
		}(i)
	}
	wg.Wait()

	for i, o := range outcomes {
		if o.err != nil {
			t.Errorf("request %d error = %v", i, o.err)
			continue
		}
		if len(o.replies) != 1 {
			t.Errorf("request %d got %d replies, want 1", i, len(o.replies))
			continue
		}
		pkt := o.replies[0].Packet
		if got := pkt.Bytes("echoing"); !pkt.Is(messages.EchoResponse) || len(got) == 0 || got[0] != byte(i+1) {
			t.Errorf("request %d got %s echoing %x, want its own echo %02x", i, pkt.Name(), got, i+1)
		}
	}

	writes := n.writesTo(n.addrs[serialA], messages.EchoRequest)
	if len(writes) < requests {
		t.Fatalf("device saw %d transmits, want at least %d", len(writes), requests)
	}
	seen := map[byte]bool{}
	for _, w := range writes {
		if seen[w[23]] {
			t.Errorf("sequence %d used by two requests in flight", w[23])
		}
		seen[w[23]] = true
	}
	if b.receiver.Pending() != 0 {
		t.Errorf("%d registrations left after every request finished", b.receiver.Pending())
	}
}

func TestBridge_LateReplyToEarlierAttempt(t *testing.T) {
	n := newTestNet(serialA)
	defer n.devices[serialA].Offline()()
	b := n.bridge(t, nil)
	b.TargetIsAt(serialA, endpointOf(n.addrs[serialA]))

	type outcome struct {
		replies []Reply
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		get := messages.GetLabel.MustNew(map[string]any{"target": serialA})
		replies, err := b.SendSingle(context.Background(), get, SendOptions{Timeout: 3 * time.Second})
		done <- outcome{replies, err}
	}()

	// Wait until the request has been retried at least once
	var writes [][]byte
	for deadline := time.Now().Add(time.Second); len(writes) < 2; {
		if time.Now().After(deadline) {
			t.Fatalf("saw %d transmits, want a retry", len(writes))
		}
		time.Sleep(5 * time.Millisecond)
		writes = n.writesTo(n.addrs[serialA], messages.GetLabel)
	}
	first, retry := writes[0][23], writes[1][23]
	if first == retry {
		t.Fatalf("retry reused sequence %d", first)
	}

	// Answer only the first attempt, from a stand-in with its own label
	standIn := fakedevice.New(serialA, fakedevice.DefaultState("late answer"), nil)
	responses, err := standIn.HandleBytes(writes[0])
	if err != nil {
		t.Fatalf("HandleBytes() error = %v", err)
	}
	for _, res := range responses {
		b.ReceivedData(res, n.addrs[serialA])
	}

	select {
	case o := <-done:
		if o.err != nil {
			t.Fatalf("SendSingle() error = %v", o.err)
		}
		if len(o.replies) != 1 {
			t.Fatalf("got %d replies, want 1", len(o.replies))
		}
		pkt := o.replies[0].Packet
		if pkt.Str("label") != "late answer" {
			t.Errorf("label = %q, want the late answer", pkt.Str("label"))
		}
		if pkt.Sequence() != first {
			t.Errorf("reply sequence = %d, want the first attempt's %d", pkt.Sequence(), first)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("late reply did not complete the request")
	}
	if b.receiver.Pending() != 0 {
		t.Errorf("%d registrations left after the late reply", b.receiver.Pending())
	}
}
