package transport

import (
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/protocol"
)

// MessageCatcher receives packets that matched no pending request.
type MessageCatcher func(Reply)

type correlationKey struct {
	source   uint32
	sequence uint8
	serial   string
}

func keyOf(pkt *protocol.Packet) correlationKey {
	return correlationKey{source: pkt.Source(), sequence: pkt.Sequence(), serial: pkt.Serial()}
}

// Receiver routes inbound packets to the result waiting for them, keyed on
// (source, sequence, serial).
type Receiver struct {
	mu      sync.Mutex
	results map[correlationKey]*Result
	catcher MessageCatcher
}

// NewReceiver returns a receiver. catcher may be nil.
func NewReceiver(catcher MessageCatcher) *Receiver {
	return &Receiver{
		results: make(map[correlationKey]*Result),
		catcher: catcher,
	}
}

// Register makes result the destination for replies to pkt. With
// expectZero, replies carrying the zero serial also match. The
// registration is removed when the result completes.
func (r *Receiver) Register(pkt *protocol.Packet, result *Result, expectZero bool) {
	keys := []correlationKey{keyOf(pkt)}
	if expectZero && keys[0].serial != protocol.ZeroSerial {
		zero := keys[0]
		zero.serial = protocol.ZeroSerial
		keys = append(keys, zero)
	}

	r.mu.Lock()
	for _, k := range keys {
		if old, ok := r.results[k]; ok && old != result {
			logging.Debug("Replacing pending request with the same key",
				logging.Serial(k.serial),
				logging.Source(k.source),
				logging.Sequence(k.sequence),
			)
		}
		r.results[k] = result
	}
	r.mu.Unlock()

	result.OnDone(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, k := range keys {
			if r.results[k] == result {
				delete(r.results, k)
			}
		}
	})
}

// Dispatch hands reply to its result. It reports whether a result was
// found; unmatched packets are logged and passed to the message catcher.
func (r *Receiver) Dispatch(reply Reply) bool {
	k := keyOf(reply.Packet)

	r.mu.Lock()
	result, ok := r.results[k]
	if !ok {
		k.serial = protocol.ZeroSerial
		result, ok = r.results[k]
	}
	r.mu.Unlock()

	if ok {
		result.AddPacket(reply)
		return true
	}

	addr := ""
	if reply.Addr != nil {
		addr = reply.Addr.String()
	}
	logging.Debug("Received packet matching no pending request",
		logging.PktType(reply.Packet.Name()),
		logging.Serial(reply.Packet.Serial()),
		logging.Source(reply.Packet.Source()),
		logging.Sequence(reply.Packet.Sequence()),
		logging.RemoteAddr(addr),
	)
	if r.catcher != nil {
		r.catcher(reply)
	}
	return false
}

// Pending returns the number of registered keys.
func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// CancelAll cancels every registered result.
func (r *Receiver) CancelAll() int {
	r.mu.Lock()
	seen := make(map[*Result]bool, len(r.results))
	for _, result := range r.results {
		seen[result] = true
	}
	r.mu.Unlock()

	for result := range seen {
		result.Cancel()
	}
	if len(seen) > 0 {
		logging.Debug("Cancelled pending requests", zap.Int("count", len(seen)))
	}
	return len(seen)
}
