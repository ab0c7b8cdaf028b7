package transport

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/messages"
)

// DiscoveryOptions controls how devices are found.
type DiscoveryOptions struct {
	// Hardcoded maps serials to fixed UDP endpoints. When set, no broadcast
	// search is made.
	Hardcoded map[string]Endpoint

	// SerialFilter restricts the found cache to these serials. Empty
	// accepts every device.
	SerialFilter []string
}

// Wants reports whether serial passes the serial filter.
func (o DiscoveryOptions) Wants(serial string) bool {
	return len(o.SerialFilter) == 0 || slices.Contains(o.SerialFilter, serial)
}

// FindOptions adjusts one discovery call.
type FindOptions struct {
	// Timeout bounds the search. Zero uses the bridge default.
	Timeout time.Duration

	// IgnoreLost keeps devices that did not answer this search.
	IgnoreLost bool

	// RaiseOnNone turns an empty or incomplete result into an error.
	RaiseOnNone bool

	// Broadcast overrides the broadcast address.
	Broadcast string
}

// FindDevices searches for every device and returns the serials in the
// found cache.
func (b *Bridge) FindDevices(ctx context.Context, opts FindOptions) ([]string, error) {
	found, _, err := b.FindSpecificSerials(ctx, nil, opts)
	return found, err
}

// FindSpecificSerials searches until every serial has answered or the
// timeout passes. With no serials it stops at the first round that finds
// anything. It returns the found cache and the serials still missing.
// Missing serials are logged; they are an error only with RaiseOnNone.
func (b *Bridge) FindSpecificSerials(ctx context.Context, serials []string, opts FindOptions) (found, missing []string, err error) {
	wanted := make([]string, 0, len(serials))
	for _, s := range serials {
		n, err := NormalizeSerial(s)
		if err != nil {
			return nil, nil, err
		}
		wanted = append(wanted, n)
	}
	if serials == nil {
		wanted = nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.opts.FindTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	foundNow, err := b.search(ctx, wanted, opts.Broadcast)
	if err != nil {
		return nil, nil, err
	}

	if !opts.IgnoreLost {
		for _, lost := range b.found.RemoveLost(foundNow) {
			logging.Warn("Lost device", logging.Serial(lost))
		}
	}

	found = b.found.Serials()
	if wanted == nil {
		if len(foundNow) == 0 {
			if opts.RaiseOnNone {
				return found, nil, &FoundNoDevices{}
			}
			logging.Error("Didn't find any devices")
		}
		return found, nil, nil
	}

	for _, s := range wanted {
		if !b.found.Has(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		logging.Error("Didn't find some devices", zap.Strings("missing", missing))
		if opts.RaiseOnNone {
			return found, missing, &DevicesNotFound{Missing: missing}
		}
	}
	return found, missing, nil
}

// search runs GetService rounds on the discovery schedule and returns the
// serials that answered.
func (b *Bridge) search(ctx context.Context, wanted []string, broadcast string) ([]string, error) {
	disc := b.opts.Discovery
	if len(disc.Hardcoded) > 0 {
		return b.hardcoded(disc), nil
	}

	seen := make(map[string]bool)
	schedule := NewSchedule(DiscoveryTimeouts)

	for round := 1; ; round++ {
		start := time.Now()
		gap := schedule.NextBackOff()

		get := messages.GetService.MustNew(map[string]any{
			"res_required": true,
			"ack_required": false,
		})
		replies, err := b.SendSingle(ctx, get, SendOptions{
			NoRetry:       true,
			Broadcast:     true,
			BroadcastAddr: broadcast,
			Timeout:       gap,
		})
		if errors.Is(err, ErrBridgeStopped) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		for _, reply := range replies {
			if serial, ok := b.addService(reply, disc); ok {
				seen[serial] = true
			}
		}

		logging.Debug("Discovery round finished",
			zap.Int("round", round),
			zap.Int("found", len(seen)),
		)

		if wanted == nil && len(seen) > 0 {
			break
		}
		if wanted != nil && allSeen(wanted, seen) {
			break
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			return sortedKeys(seen), nil
		case <-b.stop:
			return nil, ErrBridgeStopped
		case <-time.After(time.Until(start.Add(gap))):
		}
	}

	return sortedKeys(seen), nil
}

func (b *Bridge) addService(reply Reply, disc DiscoveryOptions) (string, bool) {
	pkt := reply.Packet
	if !pkt.Is(messages.StateService) {
		return "", false
	}
	serial := pkt.Serial()
	if !disc.Wants(serial) {
		return "", false
	}
	ep, err := EndpointFromAddr(reply.Addr)
	if err != nil {
		logging.Warn("StateService from unusable address", logging.Serial(serial), zap.Error(err))
		return "", false
	}
	ep.Port = int(pkt.Uint("port"))
	service := messages.Service(pkt.Uint("service"))
	if b.found.Add(serial, service, ep) {
		logging.Info("Found device",
			logging.Serial(serial),
			logging.RemoteAddr(ep.String()),
			zap.Stringer("service", service),
		)
	}
	return serial, true
}

func (b *Bridge) hardcoded(disc DiscoveryOptions) []string {
	var serials []string
	for s, ep := range disc.Hardcoded {
		serial, err := NormalizeSerial(s)
		if err != nil {
			logging.Warn("Ignoring hardcoded discovery entry", zap.String("serial", s), zap.Error(err))
			continue
		}
		if !disc.Wants(serial) {
			continue
		}
		if ep.Port == 0 {
			ep.Port = b.opts.Port
		}
		b.found.Add(serial, messages.ServiceUDP, ep)
		serials = append(serials, serial)
	}
	slices.Sort(serials)
	return serials
}

func allSeen(wanted []string, seen map[string]bool) bool {
	for _, s := range wanted {
		if !seen[s] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
