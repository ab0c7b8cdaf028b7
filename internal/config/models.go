package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/transport"
)

const (
	// EnvHardcodedDiscovery holds a JSON or YAML map of serial to address
	// that replaces the configured hard-coded discovery.
	EnvHardcodedDiscovery = "HARDCODED_DISCOVERY"

	// EnvSerialFilter holds a comma separated list of serials that
	// replaces the configured serial filter.
	EnvSerialFilter = "SERIAL_FILTER"
)

// Registry represents the entire user configuration file.
// This stores transport settings, discovery settings and what we know
// about each device.
type Registry struct {
	Version   int                `yaml:"version" toml:"version"`
	Transport *Transport         `yaml:"transport,omitempty" toml:"transport,omitempty"`
	Discovery *Discovery         `yaml:"discovery,omitempty" toml:"discovery,omitempty"`
	Devices   map[string]*Device `yaml:"devices,omitempty" toml:"devices,omitempty"` // Keyed by device serial

	path string
}

// Transport holds the settings for the UDP transport. Times are in
// seconds; zero means the library default.
type Transport struct {
	DefaultBroadcast string  `yaml:"default_broadcast,omitempty" toml:"default_broadcast,omitempty"`
	Port             int     `yaml:"port,omitempty" toml:"port,omitempty"`
	MessageTimeout   float64 `yaml:"message_timeout,omitempty" toml:"message_timeout,omitempty"`
	FindTimeout      float64 `yaml:"find_timeout,omitempty" toml:"find_timeout,omitempty"`
	ConnectTimeout   float64 `yaml:"connect_timeout,omitempty" toml:"connect_timeout,omitempty"`
	Retry            *Retry  `yaml:"retry,omitempty" toml:"retry,omitempty"`
}

// Retry holds the retry schedule. Timeouts are [every, until] pairs.
type Retry struct {
	GapBetweenResults   float64      `yaml:"gap_between_results,omitempty" toml:"gap_between_results,omitempty"`
	GapBetweenAckAndRes float64      `yaml:"gap_between_ack_and_res,omitempty" toml:"gap_between_ack_and_res,omitempty"`
	Timeouts            [][2]float64 `yaml:"timeouts,omitempty" toml:"timeouts,omitempty"`
	MaxRetries          *int         `yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
}

// Discovery holds discovery settings.
type Discovery struct {
	// Hardcoded maps serial to "host" or "host:port" and replaces the
	// broadcast search.
	Hardcoded    map[string]string `yaml:"hardcoded,omitempty" toml:"hardcoded,omitempty"`
	SerialFilter []string          `yaml:"serial_filter,omitempty" toml:"serial_filter,omitempty"`
	MDNS         bool              `yaml:"mdns" toml:"mdns"`
	MDNSTimeout  float64           `yaml:"mdns_timeout,omitempty" toml:"mdns_timeout,omitempty"`
}

// Device represents what we remember about a single device.
type Device struct {
	Nickname string    `yaml:"nickname,omitempty" toml:"nickname,omitempty"`   // User-friendly name
	Label    string    `yaml:"label,omitempty" toml:"label,omitempty"`         // Label the device reported
	LastIP   string    `yaml:"last_ip,omitempty" toml:"last_ip,omitempty"`     // Last known IP address
	LastSeen time.Time `yaml:"last_seen,omitempty" toml:"last_seen,omitempty"` // Last discovery time
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:   1,
		Transport: &Transport{},
		Discovery: &Discovery{MDNSTimeout: 3},
		Devices:   make(map[string]*Device),
	}
}

// Path returns the file the registry was loaded from, if any.
func (r *Registry) Path() string { return r.path }

// GetDevice retrieves device metadata by serial number.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(serial string) *Device {
	return r.Devices[serial]
}

// EnsureDevice ensures a device entry exists in the registry.
// If the device doesn't exist, creates a new entry.
// Returns the device entry (existing or newly created).
func (r *Registry) EnsureDevice(serial string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}

	if device, exists := r.Devices[serial]; exists {
		return device
	}

	device := &Device{}
	r.Devices[serial] = device
	return device
}

// UpdateDeviceLastSeen updates the last seen timestamp and IP for a device.
func (r *Registry) UpdateDeviceLastSeen(serial, ip string) {
	device := r.EnsureDevice(serial)
	device.LastSeen = time.Now()
	device.LastIP = ip
}

// SetDeviceNickname sets a user-friendly nickname for a device.
func (r *Registry) SetDeviceNickname(serial, nickname string) {
	device := r.EnsureDevice(serial)
	device.Nickname = nickname
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// TransportOptions converts the transport and discovery settings to bridge
// options. Environment overrides for discovery are applied.
func (r *Registry) TransportOptions() (transport.Options, error) {
	opts := transport.DefaultOptions()

	if t := r.Transport; t != nil {
		if t.DefaultBroadcast != "" {
			opts.DefaultBroadcast = t.DefaultBroadcast
		}
		if t.Port != 0 {
			opts.Port = t.Port
		}
		if t.MessageTimeout > 0 {
			opts.DefaultTimeout = seconds(t.MessageTimeout)
		}
		if t.FindTimeout > 0 {
			opts.FindTimeout = seconds(t.FindTimeout)
		}
		if t.ConnectTimeout > 0 {
			opts.ConnectTimeout = seconds(t.ConnectTimeout)
		}
		if rt := t.Retry; rt != nil {
			if rt.GapBetweenResults > 0 {
				opts.Retry.GapBetweenResults = seconds(rt.GapBetweenResults)
			}
			if rt.GapBetweenAckAndRes > 0 {
				opts.Retry.GapBetweenAckAndRes = seconds(rt.GapBetweenAckAndRes)
			}
			if len(rt.Timeouts) > 0 {
				steps := make([]transport.Step, len(rt.Timeouts))
				for i, pair := range rt.Timeouts {
					if pair[0] <= 0 {
						return opts, fmt.Errorf("retry timeout %d: step must be positive", i)
					}
					steps[i] = transport.Step{Every: seconds(pair[0]), Until: seconds(pair[1])}
				}
				opts.Retry.Timeouts = steps
			}
			if rt.MaxRetries != nil {
				opts.Retry.MaxRetries = *rt.MaxRetries
			}
		}
	}

	disc, err := r.DiscoveryOptions()
	if err != nil {
		return opts, err
	}
	opts.Discovery = disc
	return opts, nil
}

// DiscoveryOptions converts the discovery settings, letting
// HARDCODED_DISCOVERY and SERIAL_FILTER from the environment replace them.
func (r *Registry) DiscoveryOptions() (transport.DiscoveryOptions, error) {
	var disc transport.DiscoveryOptions

	hardcoded := map[string]string{}
	var filter []string
	if r.Discovery != nil {
		hardcoded = r.Discovery.Hardcoded
		filter = r.Discovery.SerialFilter
	}

	if env := os.Getenv(EnvHardcodedDiscovery); env != "" {
		// JSON is valid YAML, so either form works here.
		var fromEnv map[string]string
		if err := yaml.Unmarshal([]byte(env), &fromEnv); err != nil {
			return disc, fmt.Errorf("failed to parse %s: %w", EnvHardcodedDiscovery, err)
		}
		hardcoded = fromEnv
	}
	if env := os.Getenv(EnvSerialFilter); env != "" {
		filter = strings.Split(env, ",")
	}

	if len(hardcoded) > 0 {
		disc.Hardcoded = make(map[string]transport.Endpoint, len(hardcoded))
		for serial, addr := range hardcoded {
			s, err := transport.NormalizeSerial(serial)
			if err != nil {
				return disc, fmt.Errorf("hardcoded discovery: %w", err)
			}
			ep, err := ParseEndpoint(addr)
			if err != nil {
				return disc, fmt.Errorf("hardcoded discovery for %s: %w", s, err)
			}
			disc.Hardcoded[s] = ep
		}
	}

	for _, serial := range filter {
		serial = strings.TrimSpace(serial)
		if serial == "" {
			continue
		}
		s, err := transport.NormalizeSerial(serial)
		if err != nil {
			return disc, fmt.Errorf("serial filter: %w", err)
		}
		disc.SerialFilter = append(disc.SerialFilter, s)
	}
	return disc, nil
}

// MDNSTimeout returns how long the CLI should browse mDNS, or zero when
// mDNS hints are disabled.
func (r *Registry) MDNSTimeout() time.Duration {
	if r.Discovery == nil || !r.Discovery.MDNS {
		return 0
	}
	if r.Discovery.MDNSTimeout <= 0 {
		return 3 * time.Second
	}
	return seconds(r.Discovery.MDNSTimeout)
}

// ParseEndpoint reads "host" or "host:port". A missing port is the LIFX
// default.
func ParseEndpoint(addr string) (transport.Endpoint, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return transport.Endpoint{}, fmt.Errorf("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return transport.Endpoint{Host: addr, Port: messages.DefaultPort}, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return transport.Endpoint{}, fmt.Errorf("invalid port in %q", addr)
	}
	return transport.Endpoint{Host: host, Port: p}, nil
}
