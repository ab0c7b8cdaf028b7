package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
)

// Writer sends one logical request. Each call to Write is a new attempt
// with its own Result; every attempt after the first gets a fresh
// sequence number.
type Writer struct {
	bridge *Bridge
	opts   SendOptions
	retry  RetryOptions

	pkt       *protocol.Packet
	serial    string
	broadcast bool
	addr      net.Addr
	conn      net.PacketConn
	attempts  int
}

func newWriter(b *Bridge, pkt *protocol.Packet, opts SendOptions) *Writer {
	retry := b.opts.Retry
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return &Writer{
		bridge: b,
		opts:   opts,
		retry:  retry.withDefaults(),
		pkt:    pkt.Clone(),
	}
}

// Prepare picks the destination and opens the connection. In order of
// preference the destination is the explicit address, the broadcast
// address, or the first desired service the device advertised. An unknown
// device is searched for first.
func (w *Writer) Prepare(ctx context.Context) error {
	w.serial = w.pkt.Serial()
	w.broadcast = w.opts.Broadcast || !w.pkt.Has(protocol.FieldTarget) || w.serial == protocol.ZeroSerial

	if !w.pkt.Has(protocol.FieldSource) {
		source := w.bridge.deviceSource
		if w.broadcast {
			source = w.bridge.broadcastSource
		}
		if err := w.pkt.Set(protocol.FieldSource, source); err != nil {
			return err
		}
	}

	ep, err := w.destination(ctx)
	if err != nil {
		return err
	}
	addr, err := ep.UDPAddr()
	if err != nil {
		return &CouldntMakeConnection{Addr: ep.String(), Err: err}
	}
	w.addr = addr

	conn, err := w.bridge.connection(ctx)
	if err != nil {
		return err
	}
	w.conn = conn
	return nil
}

func (w *Writer) destination(ctx context.Context) (Endpoint, error) {
	if w.opts.Addr != nil {
		return *w.opts.Addr, nil
	}
	if w.broadcast {
		return w.bridge.broadcastEndpoint(w.opts.BroadcastAddr)
	}

	desired := w.opts.DesiredServices
	if len(desired) == 0 {
		desired = []messages.Service{messages.ServiceUDP}
	}

	if !w.bridge.found.Has(w.serial) {
		_, missing, err := w.bridge.FindSpecificSerials(ctx, []string{w.serial}, FindOptions{
			Timeout:    w.opts.FindTimeout,
			IgnoreLost: true,
		})
		if err != nil {
			return Endpoint{}, err
		}
		if len(missing) > 0 {
			return Endpoint{}, &DevicesNotFound{Missing: missing}
		}
	}
	return w.bridge.found.Choose(w.serial, desired)
}

// Write transmits one attempt and returns its result. It does not wait for
// the device.
func (w *Writer) Write() (*Result, error) {
	if w.conn == nil {
		return nil, fmt.Errorf("write %s before prepare", w.pkt.Name())
	}
	if w.attempts > 0 || !w.pkt.Has(protocol.FieldSequence) {
		if err := w.pkt.Set(protocol.FieldSequence, w.bridge.seq.Next(w.serial)); err != nil {
			return nil, err
		}
	}

	attempt := w.pkt.Clone()
	result := NewResult(attempt, w.broadcast, w.retry)

	data, err := attempt.Pack()
	if err != nil {
		result.fail(err)
		return nil, err
	}

	if result.State() != StateDone {
		w.bridge.receiver.Register(attempt, result, w.opts.ExpectZero)
	}

	if _, err := w.conn.WriteTo(data, w.addr); err != nil {
		result.fail(err)
		return nil, fmt.Errorf("failed to write %s to %s: %w", attempt.Name(), w.addr, err)
	}
	result.markSent()
	w.attempts++

	if w.attempts > 1 {
		logging.Debug("Retrying request",
			logging.PktType(attempt.Name()),
			logging.Serial(w.serial),
			logging.Sequence(attempt.Sequence()),
			logging.Attempt(w.attempts),
		)
	}
	logging.LogPacket("sent", w.addr.String(), attempt.Name(), w.serial, attempt.Source(), attempt.Sequence(), data)
	return result, nil
}

// Attempts returns how many times the request has been written.
func (w *Writer) Attempts() int { return w.attempts }

// Packet returns the packet as last written.
func (w *Writer) Packet() *protocol.Packet { return w.pkt }

func (b *Bridge) broadcastEndpoint(override string) (Endpoint, error) {
	addr := override
	if addr == "" {
		addr = b.opts.DefaultBroadcast
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{Host: addr, Port: b.opts.Port}, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid broadcast address %q: %w", addr, err)
	}
	return Endpoint{Host: host, Port: p}, nil
}
