package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
)

var (
	getThree = protocol.MustMessage(messages.Frame, messages.ProtocolLIFX, "GetThree", 9001).
			WithMulti(protocol.FixedCount(3, messages.StatePower))

	getSome = protocol.MustMessage(messages.Frame, messages.ProtocolLIFX, "GetSome", 9002).
		WithMulti(protocol.Unbounded())
)

const serialA = "d073d5000001"

func newRequest(t *testing.T, m *protocol.Message, values map[string]any) *protocol.Packet {
	t.Helper()
	v := map[string]any{"source": 11, "sequence": 4, "target": serialA}
	for k, val := range values {
		v[k] = val
	}
	pkt, err := m.New(v)
	if err != nil {
		t.Fatalf("%s.New() error = %v", m.Name, err)
	}
	return pkt
}

func replyTo(t *testing.T, req *protocol.Packet, m *protocol.Message, values map[string]any) Reply {
	t.Helper()
	v := map[string]any{
		"source":   req.Source(),
		"sequence": req.Sequence(),
		"target":   serialA,
	}
	for k, val := range values {
		v[k] = val
	}
	pkt, err := m.New(v)
	if err != nil {
		t.Fatalf("%s.New() error = %v", m.Name, err)
	}
	return Reply{Packet: pkt, Addr: &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 56700}}
}

func isDone(r *Result) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}

func fastRetry() RetryOptions {
	return RetryOptions{
		GapBetweenResults:   10 * time.Millisecond,
		GapBetweenAckAndRes: 10 * time.Millisecond,
		Timeouts:            []Step{{Every: 20 * time.Millisecond}},
		MaxRetries:          2,
	}
}

func TestResult_NothingRequired(t *testing.T) {
	req := newRequest(t, messages.SetPower, map[string]any{"level": 0, "ack_required": false, "res_required": false})
	r := NewResult(req, false, DefaultRetryOptions())
	if !isDone(r) || r.State() != StateDone {
		t.Errorf("State() = %s, want done immediately", r.State())
	}
}

func TestResult_AckOnly(t *testing.T) {
	req := newRequest(t, messages.SetPower, map[string]any{"level": 0, "res_required": false})
	r := NewResult(req, false, DefaultRetryOptions())
	r.markSent()
	if got := r.State(); got != StateAwaitingAck {
		t.Fatalf("State() = %s, want awaiting ack", got)
	}

	r.AddPacket(replyTo(t, req, messages.Acknowledgement, nil))
	if !isDone(r) {
		t.Fatal("ack-only result not done after ack")
	}
	if got := len(r.Replies()); got != 0 {
		t.Errorf("Replies() has %d packets, want 0", got)
	}
}

func TestResult_AckThenReply(t *testing.T) {
	req := newRequest(t, messages.GetPower, nil)
	r := NewResult(req, false, DefaultRetryOptions())
	r.markSent()

	r.AddPacket(replyTo(t, req, messages.Acknowledgement, nil))
	if isDone(r) {
		t.Fatal("done after ack, want waiting for reply")
	}
	if got := r.State(); got != StateAwaitingReplies {
		t.Errorf("State() = %s, want awaiting replies", got)
	}
	if !r.WaitingForReply() {
		t.Error("WaitingForReply() = false straight after the ack")
	}

	r.AddPacket(replyTo(t, req, messages.StatePower, map[string]any{"level": 65535}))
	if !isDone(r) {
		t.Fatal("not done after reply")
	}
	replies := r.Replies()
	if len(replies) != 1 || !replies[0].Packet.Is(messages.StatePower) {
		t.Errorf("Replies() = %v", replies)
	}
}

func TestResult_FixedCount(t *testing.T) {
	req := newRequest(t, getThree, map[string]any{"ack_required": false})
	r := NewResult(req, false, DefaultRetryOptions())
	r.markSent()

	for i := 1; i <= 3; i++ {
		if isDone(r) {
			t.Fatalf("done after %d replies, want 3", i-1)
		}
		r.AddPacket(replyTo(t, req, messages.StatePower, map[string]any{"level": i}))
	}
	if !isDone(r) {
		t.Fatal("not done after 3 replies")
	}

	r.AddPacket(replyTo(t, req, messages.StatePower, map[string]any{"level": 4}))
	if got := len(r.Replies()); got != 3 {
		t.Errorf("Replies() has %d packets after completion, want 3", got)
	}
}

func TestResult_FixedCountIgnoresOtherReplies(t *testing.T) {
	req := newRequest(t, getThree, map[string]any{"ack_required": false})
	r := NewResult(req, false, DefaultRetryOptions())

	for i := 0; i < 3; i++ {
		r.AddPacket(replyTo(t, req, messages.StateLabel, map[string]any{"label": "x"}))
	}
	if isDone(r) {
		t.Error("done on replies that do not count")
	}
}

func TestResult_UnboundedFinishesAfterGap(t *testing.T) {
	req := newRequest(t, getSome, map[string]any{"ack_required": false})
	r := NewResult(req, false, fastRetry())
	r.markSent()

	r.AddPacket(replyTo(t, req, messages.StatePower, map[string]any{"level": 1}))
	r.AddPacket(replyTo(t, req, messages.StatePower, map[string]any{"level": 2}))
	if isDone(r) {
		t.Fatal("unbounded result done before the quiet gap")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	replies, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(replies) != 2 {
		t.Errorf("Wait() returned %d replies, want 2", len(replies))
	}
}

func TestResult_BroadcastWaitsForGap(t *testing.T) {
	req := newRequest(t, messages.GetService, map[string]any{"target": nil, "ack_required": false})
	r := NewResult(req, true, fastRetry())
	r.AddPacket(replyTo(t, req, messages.StateService, map[string]any{"service": 1, "port": 56700}))
	if isDone(r) {
		t.Fatal("broadcast done on first reply")
	}
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("broadcast never finished")
	}
}

func TestResult_Cancel(t *testing.T) {
	req := newRequest(t, messages.GetPower, nil)
	r := NewResult(req, false, DefaultRetryOptions())

	called := 0
	r.OnDone(func() { called++ })
	r.Cancel()
	r.Cancel()
	r.AddPacket(replyTo(t, req, messages.StatePower, map[string]any{"level": 1}))

	if r.State() != StateCancelled {
		t.Errorf("State() = %s, want cancelled", r.State())
	}
	if called != 1 {
		t.Errorf("OnDone ran %d times, want 1", called)
	}
	if len(r.Replies()) != 0 {
		t.Error("cancelled result accepted a reply")
	}

	r.OnDone(func() { called++ })
	if called != 2 {
		t.Error("OnDone on a finished result did not run immediately")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateAwaitingAck, "awaiting ack"},
		{StateRetrying, "retrying"},
		{StateTimedOut, "timed out"},
		{State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
