package transport

import (
	"testing"

	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
)

func TestReceiver_Dispatch(t *testing.T) {
	tests := []struct {
		name        string
		expectZero  bool
		replyTarget string
		source      uint32
		sequence    uint8
		wantMatch   bool
	}{
		{name: "exact key", replyTarget: serialA, source: 11, sequence: 4, wantMatch: true},
		{name: "wrong sequence", replyTarget: serialA, source: 11, sequence: 5},
		{name: "wrong source", replyTarget: serialA, source: 12, sequence: 4},
		{name: "other device", replyTarget: "d073d5000002", source: 11, sequence: 4},
		{name: "zero serial without expect zero", replyTarget: protocol.ZeroSerial, source: 11, sequence: 4},
		{name: "zero serial with expect zero", expectZero: true, replyTarget: protocol.ZeroSerial, source: 11, sequence: 4, wantMatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var caught []Reply
			recv := NewReceiver(func(r Reply) { caught = append(caught, r) })

			req := newRequest(t, messages.GetPower, map[string]any{"ack_required": false})
			result := NewResult(req, false, DefaultRetryOptions())
			recv.Register(req, result, tt.expectZero)

			reply := messages.StatePower.MustNew(map[string]any{
				"source": tt.source, "sequence": tt.sequence, "target": tt.replyTarget, "level": 1,
			})
			got := recv.Dispatch(Reply{Packet: reply})
			if got != tt.wantMatch {
				t.Errorf("Dispatch() = %v, want %v", got, tt.wantMatch)
			}
			if isDone(result) != tt.wantMatch {
				t.Errorf("result done = %v, want %v", isDone(result), tt.wantMatch)
			}
			if !tt.wantMatch && len(caught) != 1 {
				t.Errorf("message catcher got %d packets, want 1", len(caught))
			}
		})
	}
}

func TestReceiver_BroadcastReplies(t *testing.T) {
	recv := NewReceiver(nil)

	req := messages.GetService.MustNew(map[string]any{"source": 3, "sequence": 1, "ack_required": false})
	result := NewResult(req, true, fastRetry())
	recv.Register(req, result, false)

	for _, serial := range []string{"d073d5000001", "d073d5000002"} {
		reply := messages.StateService.MustNew(map[string]any{
			"source": 3, "sequence": 1, "target": serial, "service": 1, "port": 56700,
		})
		if !recv.Dispatch(Reply{Packet: reply}) {
			t.Errorf("reply from %s did not match the broadcast", serial)
		}
	}
	if got := len(result.Replies()); got != 2 {
		t.Errorf("Replies() = %d, want 2", got)
	}
}

func TestReceiver_RemovedWhenDone(t *testing.T) {
	recv := NewReceiver(nil)
	req := newRequest(t, messages.GetPower, nil)
	result := NewResult(req, false, DefaultRetryOptions())
	recv.Register(req, result, true)

	if got := recv.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}
	result.Cancel()
	if got := recv.Pending(); got != 0 {
		t.Errorf("Pending() after cancel = %d, want 0", got)
	}
}

func TestReceiver_CancelAll(t *testing.T) {
	recv := NewReceiver(nil)
	var results []*Result
	for seq := 1; seq <= 3; seq++ {
		req := newRequest(t, messages.GetPower, map[string]any{"sequence": seq})
		r := NewResult(req, false, DefaultRetryOptions())
		recv.Register(req, r, false)
		results = append(results, r)
	}

	if got := recv.CancelAll(); got != 3 {
		t.Errorf("CancelAll() = %d, want 3", got)
	}
	for i, r := range results {
		if r.State() != StateCancelled {
			t.Errorf("result %d state = %s", i, r.State())
		}
	}
}
