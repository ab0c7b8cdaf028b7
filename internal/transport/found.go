package transport

import (
	"encoding/hex"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/muurk/lifxlan/internal/messages"
)

// Endpoint is a host and UDP port.
type Endpoint struct {
	Host string
	Port int
}

// UDPAddr resolves the endpoint.
func (e Endpoint) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", e.String())
}

// String returns host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// EndpointFromAddr splits a network address into an endpoint.
func EndpointFromAddr(addr net.Addr) (Endpoint, error) {
	if u, ok := addr.(*net.UDPAddr); ok {
		return Endpoint{Host: u.IP.String(), Port: u.Port}, nil
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Endpoint{}, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port in %s: %w", addr, err)
	}
	return Endpoint{Host: host, Port: p}, nil
}

// NormalizeSerial lowercases a serial and trims it to six bytes of hex. It
// fails when the serial is not hex.
func NormalizeSerial(serial string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(serial))
	if len(s) > 12 {
		s = s[:12]
	}
	if _, err := hex.DecodeString(s); err != nil || len(s) != 12 {
		return "", fmt.Errorf("invalid serial %q", serial)
	}
	return s, nil
}

// Found is the cache of discovered devices: for each serial, the services
// it advertised and where.
type Found struct {
	mu      sync.RWMutex
	devices map[string]map[messages.Service]Endpoint
}

// NewFound returns an empty cache.
func NewFound() *Found {
	return &Found{devices: make(map[string]map[messages.Service]Endpoint)}
}

// Add records a service for serial. It reports whether the serial is new.
func (f *Found) Add(serial string, service messages.Service, ep Endpoint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	services, ok := f.devices[serial]
	if !ok {
		services = make(map[messages.Service]Endpoint)
		f.devices[serial] = services
	}
	services[service] = ep
	return !ok
}

// Services returns a copy of the services known for serial.
func (f *Found) Services(serial string) (map[messages.Service]Endpoint, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	services, ok := f.devices[serial]
	if !ok {
		return nil, false
	}
	out := make(map[messages.Service]Endpoint, len(services))
	for k, v := range services {
		out[k] = v
	}
	return out, true
}

// Choose returns the first of desired that serial advertises.
func (f *Found) Choose(serial string, desired []messages.Service) (Endpoint, error) {
	services, ok := f.Services(serial)
	if !ok {
		return Endpoint{}, &DevicesNotFound{Missing: []string{serial}}
	}
	for _, want := range desired {
		if ep, ok := services[want]; ok {
			return ep, nil
		}
	}
	available := make([]messages.Service, 0, len(services))
	for s := range services {
		available = append(available, s)
	}
	slices.Sort(available)
	return Endpoint{}, &NoDesiredService{Serial: serial, Wanted: desired, Available: available}
}

// Has reports whether serial is in the cache.
func (f *Found) Has(serial string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.devices[serial]
	return ok
}

// Serials returns the cached serials in sorted order.
func (f *Found) Serials() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.devices))
	for s := range f.devices {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Remove drops serial from the cache.
func (f *Found) Remove(serial string) {
	f.mu.Lock()
	delete(f.devices, serial)
	f.mu.Unlock()
}

// RemoveLost drops every serial not in present and returns what it removed.
func (f *Found) RemoveLost(present []string) []string {
	keep := make(map[string]bool, len(present))
	for _, s := range present {
		keep[s] = true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []string
	for s := range f.devices {
		if !keep[s] {
			delete(f.devices, s)
			removed = append(removed, s)
		}
	}
	slices.Sort(removed)
	return removed
}

// Len returns the number of cached serials.
func (f *Found) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.devices)
}
