package fakedevice

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lifxlan/internal/logging"
)

const (
	networkPrefix = "10.0.0."
	clientHost    = networkPrefix + "254"
	inboxSize     = 1024
)

// Network is an in-memory UDP network of fake devices. Devices live at
// 10.0.0.1, 10.0.0.2, ... on their advertised port; connections opened
// with Listen live at 10.0.0.254. Writes to an address ending in .255 reach
// every device on the port. Delivery is asynchronous and a full inbox
// drops the datagram, as UDP would.
type Network struct {
	mu      sync.Mutex
	devices map[string]*Device
	conns   map[string]*Conn
	next    int
	port    int
	writes  []Datagram
}

// Datagram is one write seen by the network.
type Datagram struct {
	From string
	To   string
	Data []byte
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		devices: make(map[string]*Device),
		conns:   make(map[string]*Conn),
		port:    50000,
	}
}

// AddDevice attaches d and returns its address.
func (n *Network) AddDevice(d *Device) *net.UDPAddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	host := fmt.Sprintf("%s%d", networkPrefix, n.next)
	n.devices[host] = d
	return &net.UDPAddr{IP: net.ParseIP(host), Port: d.Port()}
}

// Listen opens a connection on the network.
func (n *Network) Listen() *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.port++
	c := &Conn{
		network: n,
		local:   &net.UDPAddr{IP: net.ParseIP(clientHost), Port: n.port},
		inbox:   make(chan Datagram, inboxSize),
		closed:  make(chan struct{}),
	}
	n.conns[c.local.String()] = c
	return c
}

// Dial has the signature the transport expects of a socket factory.
func (n *Network) Dial(context.Context) (net.PacketConn, error) {
	return n.Listen(), nil
}

// Writes returns every datagram written by a connection.
func (n *Network) Writes() []Datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Datagram(nil), n.writes...)
}

func (n *Network) send(from *Conn, data []byte, to net.Addr) error {
	host, port, err := splitAddr(to)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.writes = append(n.writes, Datagram{From: from.local.String(), To: to.String(), Data: append([]byte(nil), data...)})
	var targets []deviceAt
	if strings.HasSuffix(host, ".255") {
		for h, d := range n.devices {
			if d.Port() == port {
				targets = append(targets, deviceAt{host: h, device: d})
			}
		}
	} else if d, ok := n.devices[host]; ok && d.Port() == port {
		targets = append(targets, deviceAt{host: host, device: d})
	} else if c, ok := n.conns[to.String()]; ok {
		n.mu.Unlock()
		c.deliver(Datagram{From: from.local.String(), To: to.String(), Data: append([]byte(nil), data...)})
		return nil
	}
	n.mu.Unlock()

	data = append([]byte(nil), data...)
	for _, t := range targets {
		go n.answer(from, t, data)
	}
	return nil
}

type deviceAt struct {
	host   string
	device *Device
}

func (n *Network) answer(to *Conn, at deviceAt, data []byte) {
	responses, err := at.device.HandleBytes(data)
	if err != nil {
		logging.Debug("Fake device dropped datagram",
			logging.Serial(at.device.Serial()),
			zap.Error(err),
		)
		return
	}
	from := (&net.UDPAddr{IP: net.ParseIP(at.host), Port: at.device.Port()}).String()
	for _, res := range responses {
		to.deliver(Datagram{From: from, To: to.local.String(), Data: res})
	}
}

func (n *Network) remove(c *Conn) {
	n.mu.Lock()
	delete(n.conns, c.local.String())
	n.mu.Unlock()
}

func splitAddr(addr net.Addr) (string, int, error) {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String(), u.Port, nil
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, err
	}
	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
		return "", 0, fmt.Errorf("invalid port in %s: %w", addr, err)
	}
	return host, p, nil
}

// Conn is a net.PacketConn on a Network.
type Conn struct {
	network *Network
	local   *net.UDPAddr
	inbox   chan Datagram

	mu        sync.Mutex
	deadline  time.Time
	closeOnce sync.Once
	closed    chan struct{}
}

var _ net.PacketConn = (*Conn)(nil)

func (c *Conn) deliver(d Datagram) {
	select {
	case <-c.closed:
	case c.inbox <- d:
	default:
		logging.Warn("Fake network inbox full, dropping datagram", logging.RemoteAddr(d.From))
	}
}

// ReadFrom implements net.PacketConn.
func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}

	select {
	case d := <-c.inbox:
		addr, err := net.ResolveUDPAddr("udp", d.From)
		if err != nil {
			return 0, nil, err
		}
		return copy(p, d.Data), addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

// WriteTo implements net.PacketConn.
func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	if err := c.network.send(c, p, addr); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements net.PacketConn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.network.remove(c)
	})
	return nil
}

// LocalAddr implements net.PacketConn.
func (c *Conn) LocalAddr() net.Addr { return c.local }

// SetDeadline implements net.PacketConn.
func (c *Conn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

// SetReadDeadline implements net.PacketConn.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline implements net.PacketConn. Writes never block.
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }
