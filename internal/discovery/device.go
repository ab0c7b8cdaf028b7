package discovery

import (
	"fmt"
	"time"

	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/transport"
)

// Device is a LIFX device seen over mDNS.
type Device struct {
	// Serial is the device serial, derived from the advertised MAC
	// (e.g., "d073d5010203")
	Serial string

	// Instance is the mDNS instance name (e.g., "LIFX Bulb 010203")
	Instance string

	// Hostname is the mDNS hostname
	Hostname string

	// IP is the advertised address, IPv4 when there is one
	IP string

	// Model is the TXT "md" value (e.g., "LIFX A19")
	Model string

	// Metadata holds every TXT record
	Metadata map[string]string

	// DiscoveredAt is when the device was seen
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	return fmt.Sprintf("LIFX device %s (%s) at %s", d.Serial, d.Instance, d.IP)
}

// Endpoint is where the device listens for LAN protocol packets. mDNS
// advertises the HomeKit port, not the LAN one, so this is always the
// default LIFX port.
func (d *Device) Endpoint() transport.Endpoint {
	return transport.Endpoint{Host: d.IP, Port: messages.DefaultPort}
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// Hints turns devices into a hard-coded discovery map for the transport.
// A later entry for the same serial wins.
func Hints(devices []*Device) map[string]transport.Endpoint {
	out := make(map[string]transport.Endpoint, len(devices))
	for _, d := range devices {
		out[d.Serial] = d.Endpoint()
	}
	return out
}
