package fakedevice

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
)

// Responder answers a request. It returns handled=false when the request
// is not its concern. Responders run with the device state locked.
type Responder func(d *Device, state *State, req *protocol.Packet) (replies []*protocol.Packet, handled bool)

// Device is a virtual LIFX device. It acks requests that ask for it,
// always answers Get messages and answers Set messages when res_required
// is set.
type Device struct {
	serial   string
	port     int
	registry *protocol.Registry

	mu         sync.Mutex
	state      State
	online     bool
	noAcks     map[protocol.PacketType]int
	noReplies  map[protocol.PacketType]int
	received   []*protocol.Packet
	responders []Responder
}

// New returns an online device. A nil registry uses the LIFX catalogue.
func New(serial string, state State, registry *protocol.Registry) *Device {
	if registry == nil {
		registry = messages.MustRegistry()
	}
	return &Device{
		serial:     serial,
		port:       messages.DefaultPort,
		registry:   registry,
		state:      state.clone(),
		online:     true,
		noAcks:     make(map[protocol.PacketType]int),
		noReplies:  make(map[protocol.PacketType]int),
		responders: defaultResponders(),
	}
}

// Serial returns the device serial.
func (d *Device) Serial() string { return d.serial }

// Port is the port the device advertises in StateService.
func (d *Device) Port() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port
}

// SetPort changes the advertised port.
func (d *Device) SetPort(port int) {
	d.mu.Lock()
	d.port = port
	d.mu.Unlock()
}

// State returns a copy of the device state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.clone()
}

// Update changes the device state.
func (d *Device) Update(fn func(*State)) {
	d.mu.Lock()
	fn(&d.state)
	d.mu.Unlock()
}

// AddResponder puts r ahead of the built in responders.
func (d *Device) AddResponder(r Responder) {
	d.mu.Lock()
	d.responders = append([]Responder{r}, d.responders...)
	d.mu.Unlock()
}

// Offline stops the device answering until restore is called.
func (d *Device) Offline() (restore func()) {
	d.mu.Lock()
	d.online = false
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		d.online = true
		d.mu.Unlock()
	}
}

// NoAcksFor suppresses acks to m until restore is called.
func (d *Device) NoAcksFor(m *protocol.Message) (restore func()) {
	return d.suppress(d.noAcks, m)
}

// NoRepliesFor suppresses replies to m until restore is called.
func (d *Device) NoRepliesFor(m *protocol.Message) (restore func()) {
	return d.suppress(d.noReplies, m)
}

// NoResponsesFor suppresses both acks and replies to m.
func (d *Device) NoResponsesFor(m *protocol.Message) (restore func()) {
	acks := d.NoAcksFor(m)
	replies := d.NoRepliesFor(m)
	return func() {
		acks()
		replies()
	}
}

func (d *Device) suppress(set map[protocol.PacketType]int, m *protocol.Message) func() {
	pt := m.PacketType()
	d.mu.Lock()
	set[pt]++
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if set[pt]--; set[pt] <= 0 {
				delete(set, pt)
			}
			d.mu.Unlock()
		})
	}
}

// Received returns the packets the device has handled.
func (d *Device) Received() []*protocol.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*protocol.Packet(nil), d.received...)
}

// ResetReceived clears the received log.
func (d *Device) ResetReceived() {
	d.mu.Lock()
	d.received = nil
	d.mu.Unlock()
}

// Accepts reports whether pkt is addressed to this device or broadcast.
func (d *Device) Accepts(pkt *protocol.Packet) bool {
	serial := pkt.Serial()
	return serial == protocol.ZeroSerial || serial == d.serial
}

// Handle returns the packets the device sends back for pkt: the ack first,
// then any replies. An offline device, or one that is not the target,
// returns nothing.
func (d *Device) Handle(pkt *protocol.Packet) []*protocol.Packet {
	if !d.Accepts(pkt) {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.online {
		return nil
	}
	d.received = append(d.received, pkt)

	logging.Debug("Fake device got packet",
		logging.Serial(d.serial),
		logging.PktType(pkt.Name()),
		logging.Source(pkt.Source()),
		logging.Sequence(pkt.Sequence()),
	)

	var out []*protocol.Packet
	pt := pkt.PacketType()

	if pkt.AckRequired() && d.noAcks[pt] == 0 {
		if ack, err := d.reply(pkt, messages.Acknowledgement, nil); err == nil {
			out = append(out, ack)
		}
	}

	replies, handled := d.respond(pkt)
	if !handled {
		logging.Debug("Fake device did not handle message",
			logging.Serial(d.serial),
			logging.PktType(pkt.Name()),
		)
		return out
	}
	if d.noReplies[pt] > 0 || !d.wantsReply(pkt) {
		return out
	}
	return append(out, replies...)
}

func (d *Device) respond(pkt *protocol.Packet) ([]*protocol.Packet, bool) {
	for _, r := range d.responders {
		if replies, ok := r(d, &d.state, pkt); ok {
			return replies, true
		}
	}
	return nil, false
}

// wantsReply is true for every Get and for anything else with res_required.
func (d *Device) wantsReply(pkt *protocol.Packet) bool {
	if msg := pkt.Message(); msg != nil && strings.HasPrefix(msg.Name, "Get") {
		return true
	}
	return pkt.ResRequired()
}

// HandleBytes decodes a datagram, handles it and packs the responses.
func (d *Device) HandleBytes(data []byte) ([][]byte, error) {
	pkt, err := d.registry.Unpack(data, true)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, res := range d.Handle(pkt) {
		b, err := res.Pack()
		if err != nil {
			logging.Warn("Fake device failed to pack response",
				logging.Serial(d.serial),
				logging.PktType(res.Name()),
				zap.Error(err),
			)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// reply builds a response to req from this device. Must be called with mu
// held.
func (d *Device) reply(req *protocol.Packet, m *protocol.Message, values map[string]any) (*protocol.Packet, error) {
	v := map[string]any{
		protocol.FieldSource:      req.Source(),
		protocol.FieldSequence:    req.Sequence(),
		protocol.FieldTarget:      d.serial,
		protocol.FieldAckRequired: false,
		protocol.FieldResRequired: false,
	}
	for k, val := range values {
		v[k] = val
	}
	pkt, err := m.New(v)
	if err != nil {
		logging.Warn("Fake device failed to build reply",
			logging.Serial(d.serial),
			logging.PktType(m.Name),
			zap.Error(err),
		)
		return nil, err
	}
	return pkt, nil
}

// String returns a debug representation of the device
func (d *Device) String() string {
	return fmt.Sprintf("FakeDevice(%s)", d.serial)
}
