package transport

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
)

const (
	// DefaultBroadcast is the address discovery probes are sent to.
	DefaultBroadcast = "255.255.255.255"

	// DefaultConnectTimeout bounds opening the socket.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultMessageTimeout bounds a request including its retries.
	DefaultMessageTimeout = 10 * time.Second

	// DefaultFindTimeout bounds a discovery search.
	DefaultFindTimeout = 20 * time.Second

	maxDatagram = 65535
)

// Options configures a Bridge.
type Options struct {
	// Registry decodes inbound datagrams. Nil uses the LIFX catalogue.
	Registry *protocol.Registry

	// DefaultBroadcast is the broadcast host, optionally with a port.
	DefaultBroadcast string

	// Port is the device port used with a broadcast host given without one.
	Port int

	Retry     RetryOptions
	Discovery DiscoveryOptions

	// Dial opens the socket. Nil listens on an ephemeral UDP port.
	Dial func(ctx context.Context) (net.PacketConn, error)

	// MessageCatcher receives packets nobody was waiting for.
	MessageCatcher MessageCatcher

	ConnectTimeout time.Duration
	DefaultTimeout time.Duration
	FindTimeout    time.Duration
}

// DefaultOptions returns the options used by NewBridge for zero fields.
func DefaultOptions() Options {
	return Options{
		DefaultBroadcast: DefaultBroadcast,
		Port:             messages.DefaultPort,
		Retry:            DefaultRetryOptions(),
		ConnectTimeout:   DefaultConnectTimeout,
		DefaultTimeout:   DefaultMessageTimeout,
		FindTimeout:      DefaultFindTimeout,
	}
}

// Bridge owns the UDP socket and everything needed to talk to devices: the
// two source identifiers, the found cache, sequence counters and the
// receiver.
type Bridge struct {
	opts     Options
	registry *protocol.Registry

	deviceSource    uint32
	broadcastSource uint32

	found    *Found
	seq      *Sequencer
	receiver *Receiver

	connMu sync.Mutex
	conn   net.PacketConn

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewBridge returns a bridge. The socket is opened on first use.
func NewBridge(opts Options) (*Bridge, error) {
	defaults := DefaultOptions()
	if opts.Registry == nil {
		r, err := messages.NewRegistry()
		if err != nil {
			return nil, err
		}
		opts.Registry = r
	}
	if opts.DefaultBroadcast == "" {
		opts.DefaultBroadcast = defaults.DefaultBroadcast
	}
	if opts.Port == 0 {
		opts.Port = defaults.Port
	}
	if opts.Retry.Timeouts == nil && opts.Retry.MaxRetries == 0 {
		opts.Retry = defaults.Retry
	}
	opts.Retry = opts.Retry.withDefaults()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaults.DefaultTimeout
	}
	if opts.FindTimeout <= 0 {
		opts.FindTimeout = defaults.FindTimeout
	}
	if opts.Dial == nil {
		opts.Dial = listenUDP
	}

	b := &Bridge{
		opts:     opts,
		registry: opts.Registry,
		found:    NewFound(),
		seq:      NewSequencer(),
		receiver: NewReceiver(opts.MessageCatcher),
		stop:     make(chan struct{}),
	}
	b.deviceSource = newSource()
	b.broadcastSource = newSource()
	for b.broadcastSource == b.deviceSource {
		b.broadcastSource = newSource()
	}
	return b, nil
}

// newSource returns a random source in [1, 2^32).
func newSource() uint32 {
	return rand.Uint32N(math.MaxUint32) + 1
}

func listenUDP(ctx context.Context) (net.PacketConn, error) {
	var lc net.ListenConfig
	return lc.ListenPacket(ctx, "udp", ":0")
}

// DeviceSource is the source used for requests to a single device.
func (b *Bridge) DeviceSource() uint32 { return b.deviceSource }

// BroadcastSource is the source used for broadcasts.
func (b *Bridge) BroadcastSource() uint32 { return b.broadcastSource }

// Found returns the found cache.
func (b *Bridge) Found() *Found { return b.found }

// Registry returns the registry inbound datagrams are decoded with.
func (b *Bridge) Registry() *protocol.Registry { return b.registry }

// Options returns the effective options.
func (b *Bridge) Options() Options { return b.opts }

// Forget removes serial from the found cache.
func (b *Bridge) Forget(serial string) {
	b.found.Remove(serial)
	b.seq.Forget(serial)
}

// TargetIsAt records that serial answers UDP at ep.
func (b *Bridge) TargetIsAt(serial string, ep Endpoint) {
	b.found.Add(serial, messages.ServiceUDP, ep)
}

// IsConnActive reports whether the socket is open.
func (b *Bridge) IsConnActive() bool {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return b.conn != nil
}

// connection returns the socket, opening it if needed.
func (b *Bridge) connection(ctx context.Context) (net.PacketConn, error) {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	select {
	case <-b.stop:
		return nil, ErrBridgeStopped
	default:
	}
	if b.conn != nil {
		return b.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()
	conn, err := b.opts.Dial(dialCtx)
	if err != nil {
		return nil, &CouldntMakeConnection{Addr: "udp", Err: err}
	}
	b.conn = conn

	logging.Info("Opened socket", zap.String("local_addr", conn.LocalAddr().String()))

	b.wg.Add(1)
	go b.readLoop(conn)
	return conn, nil
}

func (b *Bridge) readLoop(conn net.PacketConn) {
	defer b.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-b.stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warn("Failed to read from socket", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		b.ReceivedData(data, addr)
	}
}

// ReceivedData decodes a datagram and routes it. Datagrams that cannot be
// decoded are logged and dropped.
func (b *Bridge) ReceivedData(data []byte, addr net.Addr) {
	remote := ""
	if addr != nil {
		remote = addr.String()
	}

	pkt, err := b.registry.Unpack(data, true)
	if err != nil {
		logging.Warn("Failed to decode datagram",
			logging.RemoteAddr(remote),
			zap.Error(err),
		)
		logging.LogRawBytes("Undecodable datagram", data)
		return
	}

	logging.LogPacket("received", remote, pkt.Name(), pkt.Serial(), pkt.Source(), pkt.Sequence(), data)
	b.receiver.Dispatch(Reply{Packet: pkt, Addr: addr})
}

// Close cancels every pending request and closes the socket.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)

		var result *multierror.Error
		b.receiver.CancelAll()

		b.connMu.Lock()
		conn := b.conn
		b.conn = nil
		b.connMu.Unlock()

		if conn != nil {
			if err := conn.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		b.wg.Wait()
		logging.Info("Bridge stopped")
		b.closeErr = result.ErrorOrNil()
	})
	return b.closeErr
}

// Stopped is closed once Close has been called.
func (b *Bridge) Stopped() <-chan struct{} { return b.stop }
