package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/transport"
)

const (
	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for device discovery
	DefaultScanTimeout = 5 * time.Second

	// modelPrefix starts the TXT "md" value and the instance name of LIFX
	// products
	modelPrefix = "LIFX"
)

// ServiceTypes are browsed for LIFX devices. Devices with HomeKit
// support advertise "_hap._tcp".
var ServiceTypes = []string{"_hap._tcp", "_lifx._udp"}

// BrowseFunc starts browsing one service type and returns. Entries are
// sent until ctx is done; the channel may be closed early.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Scanner handles mDNS device discovery
type Scanner struct {
	// Timeout is the maximum time to wait for device discovery
	Timeout time.Duration

	// Services are the service types to browse
	Services []string

	browse BrowseFunc
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout:  DefaultScanTimeout,
		Services: ServiceTypes,
		browse:   zeroconfBrowse,
	}
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// ScanForDevices discovers every LIFX device that answers within the
// timeout. Devices are keyed by serial, so a device advertising more than
// one service is returned once.
func (s *Scanner) ScanForDevices(ctx context.Context) ([]*Device, error) {
	var (
		mu      sync.Mutex
		devices []*Device
		seen    = make(map[string]bool)
	)
	err := s.scan(ctx, func(d *Device) bool {
		mu.Lock()
		defer mu.Unlock()
		if !seen[d.Serial] {
			seen[d.Serial] = true
			devices = append(devices, d)
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	logging.Info("mDNS scan finished", zap.Int("devices", len(devices)))
	return devices, nil
}

// WaitForDevice scans until the device with serial is seen.
func (s *Scanner) WaitForDevice(ctx context.Context, serial string) (*Device, error) {
	want, err := transport.NormalizeSerial(serial)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		found *Device
	)
	err = s.scan(ctx, func(d *Device) bool {
		if d.Serial != want {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if found == nil {
			found = d
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if found == nil {
		return nil, fmt.Errorf("device with serial %s not found within timeout", want)
	}
	return found, nil
}

// scan browses every service type until the timeout or until fn returns
// true.
func (s *Scanner) scan(ctx context.Context, fn func(*Device) bool) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	browse := s.browse
	if browse == nil {
		browse = zeroconfBrowse
	}
	services := s.Services
	if len(services) == 0 {
		services = ServiceTypes
	}

	var (
		wg     sync.WaitGroup
		errs   *multierror.Error
		failed int
	)
	for _, service := range services {
		entries := make(chan *zeroconf.ServiceEntry)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var entry *zeroconf.ServiceEntry
				select {
				case e, ok := <-entries:
					if !ok {
						return
					}
					entry = e
				case <-ctx.Done():
					return
				}

				device := parseServiceEntry(entry)
				if device == nil {
					continue
				}
				logging.Debug("mDNS entry",
					logging.Serial(device.Serial),
					zap.String("instance", device.Instance),
					zap.String("ip", device.IP),
				)
				if fn(device) {
					cancel()
				}
			}
		}()

		if err := browse(ctx, service, ServiceDomain, entries); err != nil {
			logging.Warn("mDNS browse failed", zap.String("service", service), zap.Error(err))
			errs = multierror.Append(errs, fmt.Errorf("failed to browse for %s: %w", service, err))
			failed++
		}
	}

	if failed == len(services) {
		cancel()
		wg.Wait()
		return errs.ErrorOrNil()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// parseServiceEntry converts a zeroconf service entry to a Device
// Returns nil if the entry is not a LIFX device
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	if entry == nil {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	model := metadata["md"]
	if !strings.HasPrefix(model, modelPrefix) && !strings.HasPrefix(entry.Instance, modelPrefix) {
		return nil
	}

	serial, err := transport.NormalizeSerial(strings.ReplaceAll(metadata["id"], ":", ""))
	if err != nil {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	return &Device{
		Serial:       serial,
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Model:        model,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// ScanForDevices is a convenience function to scan for devices with a custom timeout
func ScanForDevices(ctx context.Context, timeout time.Duration) ([]*Device, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.ScanForDevices(ctx)
}
