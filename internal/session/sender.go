package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
	"github.com/muurk/lifxlan/internal/transport"
)

// DefaultLimit is the number of requests allowed in flight at once.
const DefaultLimit = 30

// SendOptions control one Send or Stream call. Zero values fall back to
// the Sender's defaults.
type SendOptions struct {
	// Timeout bounds each request, retries included.
	Timeout time.Duration

	// FindTimeout bounds the search for the reference's devices.
	FindTimeout time.Duration

	// Broadcast sends every packet to the broadcast address.
	Broadcast bool

	// BroadcastAddr overrides the bridge's broadcast address.
	BroadcastAddr string

	// NoRetry sends each request exactly once.
	NoRetry bool

	// Synchronous sends one request at a time in order, waiting for each
	// to finish before the next.
	Synchronous bool

	// Limit caps concurrent requests. Zero means DefaultLimit.
	Limit int

	// RequireAllDevices sends nothing unless every device in the
	// reference was found.
	RequireAllDevices bool

	// ErrorCatcher receives per-request errors. When set, Wait and Send
	// report only errors that stopped the whole call.
	ErrorCatcher func(error)
}

// Sender sends packets to the devices a Reference names.
type Sender struct {
	bridge   *transport.Bridge
	defaults SendOptions
}

// NewSender returns a Sender over bridge.
func NewSender(bridge *transport.Bridge, defaults SendOptions) *Sender {
	return &Sender{bridge: bridge, defaults: defaults}
}

// Bridge returns the underlying bridge.
func (s *Sender) Bridge() *transport.Bridge { return s.bridge }

func (s *Sender) merge(opts SendOptions) SendOptions {
	if opts.Timeout <= 0 {
		opts.Timeout = s.defaults.Timeout
	}
	if opts.FindTimeout <= 0 {
		opts.FindTimeout = s.defaults.FindTimeout
	}
	if opts.BroadcastAddr == "" {
		opts.BroadcastAddr = s.defaults.BroadcastAddr
	}
	if opts.Limit <= 0 {
		opts.Limit = s.defaults.Limit
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.ErrorCatcher == nil {
		opts.ErrorCatcher = s.defaults.ErrorCatcher
	}
	opts.Broadcast = opts.Broadcast || s.defaults.Broadcast
	opts.NoRetry = opts.NoRetry || s.defaults.NoRetry
	opts.Synchronous = opts.Synchronous || s.defaults.Synchronous
	opts.RequireAllDevices = opts.RequireAllDevices || s.defaults.RequireAllDevices
	return opts
}

// Find resolves ref, returning where each found device listens and the
// serials that could not be found.
func (s *Sender) Find(ctx context.Context, ref Reference, timeout time.Duration, broadcast string) (found map[string]transport.Endpoint, missing []string, err error) {
	if ref == nil {
		ref = FoundSerials{}
	}
	serials, missing, err := ref.Find(ctx, s.bridge, transport.FindOptions{
		Timeout:   timeout,
		Broadcast: broadcast,
	})
	if err != nil {
		return nil, nil, err
	}

	found = make(map[string]transport.Endpoint, len(serials))
	for _, serial := range serials {
		ep, err := s.bridge.Found().Choose(serial, []messages.Service{messages.ServiceUDP})
		if err != nil {
			// Lost between discovery and now
			missing = append(missing, serial)
			continue
		}
		found[serial] = ep
	}
	return found, missing, nil
}

// Send sends msgs to ref and collects every reply. Errors for individual
// requests are combined into one error unless an ErrorCatcher is set.
func (s *Sender) Send(ctx context.Context, ref Reference, opts SendOptions, msgs ...*protocol.Packet) ([]transport.Reply, error) {
	stream := s.Stream(ctx, ref, opts, msgs...)
	var replies []transport.Reply
	for reply := range stream.C {
		replies = append(replies, reply)
	}
	return replies, stream.Wait()
}

// Stream sends msgs to ref and delivers replies as they arrive. The caller
// must drain C, then call Wait for the error.
//
// A packet that already names a target is sent to that target only.
// Otherwise it is sent once to each device in ref. A nil ref with
// Broadcast sends each packet once to the broadcast address.
func (s *Sender) Stream(ctx context.Context, ref Reference, opts SendOptions, msgs ...*protocol.Packet) *Stream {
	opts = s.merge(opts)
	st := newStream(opts)
	go st.run(ctx, s, ref, opts, msgs)
	return st
}

// Producer builds packets while a send is running, so that later packets
// can depend on the replies to earlier ones. Each call to send transmits
// pkt to ref, or to the stream's reference when ref is nil, and returns
// that packet's replies on a channel closed once its requests finish. The
// same replies are delivered on the stream's C. send must not be called
// after the Producer returns. An error returned by the Producer is
// reported with the per-request errors.
type Producer func(ctx context.Context, send func(pkt *protocol.Packet, ref Reference) <-chan transport.Reply) error

// SendFrom runs produce and collects every reply, like Send.
func (s *Sender) SendFrom(ctx context.Context, ref Reference, opts SendOptions, produce Producer) ([]transport.Reply, error) {
	stream := s.StreamFrom(ctx, ref, opts, produce)
	var replies []transport.Reply
	for reply := range stream.C {
		replies = append(replies, reply)
	}
	return replies, stream.Wait()
}

// StreamFrom runs produce and delivers the replies to everything it sends
// as they arrive. The stream finishes when produce has returned and every
// request it made has finished. The reference is resolved once, on the
// first send that needs it.
func (s *Sender) StreamFrom(ctx context.Context, ref Reference, opts SendOptions, produce Producer) *Stream {
	opts = s.merge(opts)
	st := newStream(opts)
	go st.runFrom(ctx, s, ref, opts, produce)
	return st
}

func newStream(opts SendOptions) *Stream {
	c := make(chan transport.Reply)
	return &Stream{
		C:       c,
		c:       c,
		done:    make(chan struct{}),
		catcher: opts.ErrorCatcher,
	}
}

func transportOptions(opts SendOptions) transport.SendOptions {
	return transport.SendOptions{
		Timeout:       opts.Timeout,
		NoRetry:       opts.NoRetry,
		Broadcast:     opts.Broadcast,
		BroadcastAddr: opts.BroadcastAddr,
		FindTimeout:   opts.FindTimeout,
	}
}

// Stream is an in-progress send.
type Stream struct {
	// C delivers replies and is closed when every request has finished.
	C <-chan transport.Reply

	c       chan transport.Reply
	done    chan struct{}
	catcher func(error)

	mu    sync.Mutex
	errs  *multierror.Error
	fatal error
}

// Wait blocks until the stream has finished. It returns the error that
// stopped the send, or the per-request errors when no ErrorCatcher was
// given. A single per-request error is returned as is.
func (st *Stream) Wait() error {
	<-st.done
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.fatal != nil {
		return st.fatal
	}
	if st.errs == nil {
		return nil
	}
	if len(st.errs.Errors) == 1 {
		return st.errs.Errors[0]
	}
	return st.errs.ErrorOrNil()
}

func (st *Stream) addError(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.catcher != nil {
		st.catcher(err)
		return
	}
	st.errs = multierror.Append(st.errs, err)
}

func (st *Stream) run(ctx context.Context, s *Sender, ref Reference, opts SendOptions, msgs []*protocol.Packet) {
	defer close(st.done)
	defer close(st.c)

	packets, err := st.plan(ctx, s, ref, opts, msgs)
	if err != nil {
		st.setFatal(err)
		return
	}

	send := transportOptions(opts)

	if opts.Synchronous {
		for _, pkt := range packets {
			if ctx.Err() != nil {
				st.addError(ctx.Err())
				return
			}
			st.sendOne(ctx, s.bridge, pkt, send)
		}
		return
	}

	limit := make(chan struct{}, opts.Limit)
	var wg sync.WaitGroup
	for _, pkt := range packets {
		select {
		case limit <- struct{}{}:
		case <-ctx.Done():
			st.addError(ctx.Err())
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(pkt *protocol.Packet) {
			defer wg.Done()
			defer func() { <-limit }()
			st.sendOne(ctx, s.bridge, pkt, send)
		}(pkt)
	}
	wg.Wait()
}

func (st *Stream) setFatal(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.fatal == nil {
		st.fatal = err
	}
}

func (st *Stream) runFrom(ctx context.Context, s *Sender, ref Reference, opts SendOptions, produce Producer) {
	defer close(st.done)
	defer close(st.c)

	if ref == nil && !opts.Broadcast {
		ref = FoundSerials{}
	}
	send := transportOptions(opts)
	if opts.Synchronous {
		opts.Limit = 1
	}
	limit := make(chan struct{}, opts.Limit)
	// closed when produce returns; nobody reads the per-send channels after
	finished := make(chan struct{})

	var (
		once     sync.Once
		serials  []string
		resolved error
	)
	targets := func(target Reference) ([]string, error) {
		if target != nil {
			return st.resolve(ctx, s, target, opts)
		}
		once.Do(func() {
			if ref != nil {
				serials, resolved = st.resolve(ctx, s, ref, opts)
			}
		})
		return serials, resolved
	}

	var wg sync.WaitGroup
	yield := func(pkt *protocol.Packet, target Reference) <-chan transport.Reply {
		out := make(chan transport.Reply)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(out)

			var found []string
			if !hasTarget(pkt) && (target != nil || ref != nil) {
				var err error
				if found, err = targets(target); err != nil {
					if target == nil {
						st.setFatal(err)
					} else {
						st.addError(err)
					}
					return
				}
			}
			packets, err := expand([]*protocol.Packet{pkt}, found, target == nil && ref == nil && opts.Broadcast)
			if err != nil {
				st.addError(err)
				return
			}

			var mu sync.Mutex
			var got []transport.Reply
			var requests sync.WaitGroup
			for _, p := range packets {
				select {
				case limit <- struct{}{}:
				case <-ctx.Done():
					st.addError(ctx.Err())
					requests.Wait()
					return
				}
				requests.Add(1)
				go func(p *protocol.Packet) {
					defer requests.Done()
					defer func() { <-limit }()
					replies := st.sendOne(ctx, s.bridge, p, send)
					mu.Lock()
					got = append(got, replies...)
					mu.Unlock()
				}(p)
			}
			requests.Wait()

			for _, reply := range got {
				select {
				case out <- reply:
				case <-finished:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}

	err := produce(ctx, yield)
	close(finished)
	wg.Wait()
	if err != nil {
		st.addError(err)
	}
}

// plan resolves the reference and returns one packet per request.
func (st *Stream) plan(ctx context.Context, s *Sender, ref Reference, opts SendOptions, msgs []*protocol.Packet) ([]*protocol.Packet, error) {
	if ref == nil && !opts.Broadcast {
		ref = FoundSerials{}
	}

	var serials []string
	needTargets := false
	for _, m := range msgs {
		if !hasTarget(m) {
			needTargets = true
			break
		}
	}

	if needTargets && ref != nil {
		var err error
		if serials, err = st.resolve(ctx, s, ref, opts); err != nil {
			return nil, err
		}
	}

	packets, err := expand(msgs, serials, ref == nil && opts.Broadcast)
	if err != nil {
		return nil, err
	}
	logging.Debug("Planned send",
		zap.Int("messages", len(msgs)),
		zap.Int("targets", len(serials)),
		zap.Int("requests", len(packets)),
	)
	return packets, nil
}

// resolve finds ref's devices. Missing devices are per-request errors
// unless every device is required.
func (st *Stream) resolve(ctx context.Context, s *Sender, ref Reference, opts SendOptions) ([]string, error) {
	found, missing, err := ref.Find(ctx, s.bridge, transport.FindOptions{
		Timeout:   opts.FindTimeout,
		Broadcast: opts.BroadcastAddr,
	})
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		if opts.RequireAllDevices {
			return nil, &transport.DevicesNotFound{Missing: missing}
		}
		for _, serial := range missing {
			st.addError(&transport.DevicesNotFound{Missing: []string{serial}})
		}
	}
	return found, nil
}

// expand returns one packet per request: targeted packets and broadcasts
// as they are, anything else once per serial.
func expand(msgs []*protocol.Packet, serials []string, broadcast bool) ([]*protocol.Packet, error) {
	var packets []*protocol.Packet
	for _, m := range msgs {
		if hasTarget(m) || broadcast {
			packets = append(packets, m.Clone())
			continue
		}
		for _, serial := range serials {
			clone := m.Clone()
			if err := clone.Set(protocol.FieldTarget, serial); err != nil {
				return nil, err
			}
			packets = append(packets, clone)
		}
	}
	return packets, nil
}

// sendOne sends pkt and passes its replies to C. It returns the replies
// that were delivered.
func (st *Stream) sendOne(ctx context.Context, b *transport.Bridge, pkt *protocol.Packet, opts transport.SendOptions) []transport.Reply {
	replies, err := b.SendSingle(ctx, pkt, opts)
	for i, reply := range replies {
		select {
		case st.c <- reply:
		case <-ctx.Done():
			st.addError(ctx.Err())
			return replies[:i]
		}
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.Debug("Request failed",
				logging.Serial(pkt.Serial()),
				logging.PktType(pkt.Name()),
				zap.Error(err),
			)
		}
		st.addError(err)
	}
	return replies
}

func hasTarget(pkt *protocol.Packet) bool {
	return pkt.Has(protocol.FieldTarget) && pkt.Serial() != protocol.ZeroSerial
}
