package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/muurk/lifxlan/internal/protocol"
)

// State is the lifecycle of one write attempt.
type State int

const (
	StatePending State = iota
	StateSent
	StateAwaitingAck
	StateAwaitingReplies
	StateRetrying
	StateDone
	StateTimedOut
	StateCancelled
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSent:
		return "sent"
	case StateAwaitingAck:
		return "awaiting ack"
	case StateAwaitingReplies:
		return "awaiting replies"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	case StateTimedOut:
		return "timed out"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateTimedOut || s == StateCancelled
}

// Reply is a packet received from the network and where it came from.
type Reply struct {
	Packet *protocol.Packet
	Addr   net.Addr
}

// Result collects the ack and replies for one write attempt. It completes
// exactly once; Done is closed at that point.
type Result struct {
	request   *protocol.Packet
	retry     RetryOptions
	broadcast bool

	mu       sync.Mutex
	state    State
	gotAck   bool
	lastAck  time.Time
	lastRes  time.Time
	replies  []Reply
	err      error
	finisher *time.Timer
	gen      int
	onDone   []func()
	done     chan struct{}
}

// NewResult returns a pending result for request. A request that wants
// neither an ack nor a reply is complete immediately.
func NewResult(request *protocol.Packet, broadcast bool, retry RetryOptions) *Result {
	r := &Result{
		request:   request,
		retry:     retry.withDefaults(),
		broadcast: broadcast,
		state:     StatePending,
		done:      make(chan struct{}),
	}
	if !request.AckRequired() && !request.ResRequired() {
		r.state = StateDone
		close(r.done)
	}
	return r
}

// Request returns the packet this result belongs to.
func (r *Result) Request() *protocol.Packet { return r.request }

// Done is closed when the result completes.
func (r *Result) Done() <-chan struct{} { return r.done }

// State returns the current state.
func (r *Result) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Replies returns the replies received so far.
func (r *Result) Replies() []Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reply(nil), r.replies...)
}

// Err returns why the result failed, or nil.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the result completes or ctx is done.
func (r *Result) Wait(ctx context.Context) ([]Reply, error) {
	select {
	case <-r.done:
		return r.Replies(), r.Err()
	case <-ctx.Done():
		return r.Replies(), ctx.Err()
	}
}

// OnDone registers fn to run once the result completes. If it already has,
// fn runs immediately.
func (r *Result) OnDone(fn func()) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		fn()
		return
	}
	r.onDone = append(r.onDone, fn)
	r.mu.Unlock()
}

func (r *Result) markSent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return
	}
	switch {
	case r.request.AckRequired():
		r.state = StateAwaitingAck
	case r.request.ResRequired():
		r.state = StateAwaitingReplies
	default:
		r.state = StateSent
	}
}

// AddPacket feeds an ack or reply into the result.
func (r *Result) AddPacket(reply Reply) {
	r.mu.Lock()
	if reply.Packet.IsAck() {
		r.addAck()
	} else {
		r.addReply(reply)
	}
	callbacks := r.takeCallbacks()
	r.mu.Unlock()
	runAll(callbacks)
}

func (r *Result) addAck() {
	r.gotAck = true
	r.lastAck = time.Now()
	if r.state.Terminal() {
		return
	}
	if !r.request.ResRequired() {
		if r.broadcast {
			r.scheduleFinisher()
			return
		}
		r.finish(StateDone, nil)
		return
	}
	r.state = StateAwaitingReplies
}

func (r *Result) addReply(reply Reply) {
	r.lastRes = time.Now()
	if r.state.Terminal() {
		return
	}
	r.replies = append(r.replies, reply)
	r.state = StateAwaitingReplies

	n, known := r.expected().Count()
	if !known {
		r.scheduleFinisher()
		return
	}
	if r.matching() >= n {
		r.finish(StateDone, nil)
	}
}

// expected is the number of replies this request should get.
func (r *Result) expected() protocol.Expectation {
	if r.broadcast {
		return protocol.Waiting()
	}
	msg := r.request.Message()
	if msg == nil || msg.Multi == nil {
		return protocol.Exactly(1)
	}
	return msg.Multi.Expected(r.request, r.replyPackets())
}

func (r *Result) matching() int {
	msg := r.request.Message()
	if msg == nil || msg.Multi == nil {
		return len(r.replies)
	}
	n := 0
	for _, reply := range r.replies {
		if msg.Multi.Matches(reply.Packet) {
			n++
		}
	}
	return n
}

func (r *Result) replyPackets() []*protocol.Packet {
	out := make([]*protocol.Packet, len(r.replies))
	for i, reply := range r.replies {
		out[i] = reply.Packet
	}
	return out
}

// scheduleFinisher completes the result once nothing else has arrived for
// FinishMultiGap. Every new packet pushes the deadline back.
func (r *Result) scheduleFinisher() {
	if r.finisher != nil {
		r.finisher.Stop()
	}
	r.gen++
	gen := r.gen
	r.finisher = time.AfterFunc(r.retry.FinishMultiGap(), func() {
		r.mu.Lock()
		if gen != r.gen || r.state.Terminal() {
			r.mu.Unlock()
			return
		}
		r.finish(StateDone, nil)
		callbacks := r.takeCallbacks()
		r.mu.Unlock()
		runAll(callbacks)
	})
}

// WaitingForReply reports whether the result has heard from the device
// recently enough that a timeout should be held off.
func (r *Result) WaitingForReply() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ack, res := r.request.AckRequired(), r.request.ResRequired()
	now := time.Now()
	switch {
	case ack && res:
		if !r.gotAck {
			return false
		}
		if len(r.replies) > 0 {
			return true
		}
		return now.Sub(r.lastAck) < r.retry.GapBetweenAckAndRes
	case ack && r.gotAck:
		return true
	case res:
		if r.lastRes.IsZero() {
			return false
		}
		if n, known := r.expected().Count(); known && n > 0 {
			return now.Sub(r.lastRes) < r.retry.GapBetweenResults
		}
		return true
	}
	return false
}

// Cancel completes the result as cancelled unless it already completed.
func (r *Result) Cancel() {
	r.complete(StateCancelled, context.Canceled)
}

// expire completes the result as timed out unless it already completed.
func (r *Result) expire(err error) {
	r.complete(StateTimedOut, err)
}

func (r *Result) fail(err error) {
	r.complete(StateCancelled, err)
}

func (r *Result) complete(state State, err error) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.finish(state, err)
	callbacks := r.takeCallbacks()
	r.mu.Unlock()
	runAll(callbacks)
}

// finish must be called with mu held.
func (r *Result) finish(state State, err error) {
	r.state = state
	r.err = err
	if r.finisher != nil {
		r.finisher.Stop()
		r.finisher = nil
	}
	close(r.done)
}

// takeCallbacks must be called with mu held. Callbacks are returned only
// once the result is terminal.
func (r *Result) takeCallbacks() []func() {
	if !r.state.Terminal() {
		return nil
	}
	callbacks := r.onDone
	r.onDone = nil
	return callbacks
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
