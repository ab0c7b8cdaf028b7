package transport

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
)

// SendOptions adjusts a single request.
type SendOptions struct {
	// Timeout bounds the request including retries. Zero uses the bridge
	// default.
	Timeout time.Duration

	// Retry overrides the bridge's retry options.
	Retry *RetryOptions

	// NoRetry sends once and waits for the whole timeout.
	NoRetry bool

	// Broadcast sends to the broadcast address even when a target is set.
	Broadcast bool

	// BroadcastAddr overrides the bridge's broadcast address.
	BroadcastAddr string

	// Addr sends to this address instead of the found cache.
	Addr *Endpoint

	// ExpectZero accepts replies carrying the zero serial.
	ExpectZero bool

	// DesiredServices are acceptable services in order of preference.
	// Empty means UDP.
	DesiredServices []messages.Service

	// FindTimeout bounds the search for an unknown target.
	FindTimeout time.Duration
}

// SendSingle sends pkt and waits for its ack and replies, retransmitting on
// the retry schedule. The first attempt to complete wins; a late reply to
// an earlier attempt completes the request too. When the request times out
// the replies gathered so far are returned with the error.
func (b *Bridge) SendSingle(ctx context.Context, pkt *protocol.Packet, opts SendOptions) ([]Reply, error) {
	select {
	case <-b.stop:
		return nil, ErrBridgeStopped
	default:
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.opts.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w := newWriter(b, pkt, opts)
	if err := w.Prepare(ctx); err != nil {
		return nil, err
	}
	ex := &exchange{bridge: b, writer: w, noRetry: opts.NoRetry}
	return ex.run(ctx)
}

// exchange is one logical request and its attempts.
type exchange struct {
	bridge  *Bridge
	writer  *Writer
	noRetry bool

	results []*Result
	notify  chan struct{}
}

func (e *exchange) run(ctx context.Context) ([]Reply, error) {
	e.notify = make(chan struct{}, 1)
	defer func() {
		for _, r := range e.results {
			r.Cancel()
		}
	}()

	if err := e.write(); err != nil {
		return nil, err
	}

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if !e.noRetry {
		bo = e.writer.retry.BackOff()
	}
	grace := e.writer.retry.firstGap()

	var tick <-chan time.Time
	var timer *time.Timer
	exhausted := false
	arm := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
			tick = timer.C
			return
		}
		timer.Reset(d)
	}
	next := func() {
		gap := bo.NextBackOff()
		if gap == backoff.Stop {
			exhausted = true
			arm(grace)
			return
		}
		grace = gap
		arm(gap)
	}
	if !e.noRetry {
		next()
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if r := e.completed(); r != nil {
			return r.Replies(), r.Err()
		}

		select {
		case <-e.notify:
			continue

		case <-tick:
			if !exhausted {
				if err := e.write(); err != nil {
					return e.partial(), err
				}
				next()
				continue
			}
			if e.waitingForReply() {
				arm(grace)
				continue
			}
			err := e.timedOut(nil)
			e.expireAll(err)
			return e.partial(), err

		case <-e.bridge.stop:
			return e.partial(), ErrBridgeStopped

		case <-ctx.Done():
			if r := e.completed(); r != nil {
				return r.Replies(), r.Err()
			}
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return e.partial(), ctx.Err()
			}
			err := e.timedOut(ctx.Err())
			e.expireAll(err)
			return e.partial(), err
		}
	}
}

func (e *exchange) write() error {
	r, err := e.writer.Write()
	if err != nil {
		return err
	}
	e.results = append(e.results, r)
	r.OnDone(func() {
		select {
		case e.notify <- struct{}{}:
		default:
		}
	})
	return nil
}

// completed returns the first attempt that finished successfully, or one
// that failed for a reason other than being superseded.
func (e *exchange) completed() *Result {
	for _, r := range e.results {
		switch r.State() {
		case StateDone:
			return r
		case StateCancelled:
			if err := r.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return r
			}
		}
	}
	return nil
}

func (e *exchange) waitingForReply() bool {
	for _, r := range e.results {
		if r.WaitingForReply() {
			return true
		}
	}
	return false
}

// partial returns the replies of the attempt that heard the most.
func (e *exchange) partial() []Reply {
	var best []Reply
	for _, r := range e.results {
		if replies := r.Replies(); len(replies) > len(best) {
			best = replies
		}
	}
	return best
}

func (e *exchange) expireAll(err error) {
	for _, r := range e.results {
		r.expire(err)
	}
}

func (e *exchange) timedOut(cause error) *TimedOut {
	pkt := e.writer.Packet()
	return &TimedOut{
		Serial:   e.writer.serial,
		PktType:  pkt.Name(),
		Source:   pkt.Source(),
		Sequence: pkt.Sequence(),
		Attempts: e.writer.Attempts(),
		Err:      cause,
	}
}
