package protocol

// Expectation says how many replies a request is waiting for. It is
// either Waiting (the number is not known yet, so keep collecting and
// finish after a quiet gap) or Exactly(n).
type Expectation struct {
	known bool
	count int
}

// Waiting is an expectation whose reply count is not yet known.
func Waiting() Expectation {
	return Expectation{}
}

// Exactly is an expectation of n replies.
func Exactly(n int) Expectation {
	return Expectation{known: true, count: n}
}

// Count returns the expected number of replies and whether it is known.
func (e Expectation) Count() (int, bool) {
	return e.count, e.known
}

// IsWaiting reports whether the count is still unknown.
func (e Expectation) IsWaiting() bool {
	return !e.known
}

// MultiOptions describes a request that is answered by more than one
// reply packet.
type MultiOptions struct {
	// Unbounded requests collect replies until nothing arrives for a gap.
	Unbounded bool

	// Replies are the messages that count towards the expectation. Empty
	// means any reply counts.
	Replies []*Message

	// Expect is given the request and the matching replies so far.
	Expect func(req *Packet, matching []*Packet) Expectation
}

// Unbounded expects an unknown number of replies.
func Unbounded() MultiOptions {
	return MultiOptions{Unbounded: true}
}

// FixedCount expects exactly n replies.
func FixedCount(n int, replies ...*Message) MultiOptions {
	return MultiOptions{
		Replies: replies,
		Expect: func(*Packet, []*Packet) Expectation {
			return Exactly(n)
		},
	}
}

// CountFromFirst learns the reply count from the first matching reply.
func CountFromFirst(fn func(req, first *Packet) int, replies ...*Message) MultiOptions {
	return MultiOptions{
		Replies: replies,
		Expect: func(req *Packet, matching []*Packet) Expectation {
			if len(matching) == 0 {
				return Waiting()
			}
			return Exactly(fn(req, matching[0]))
		},
	}
}

// AtMost waits for up to fn(req) replies. Until that many have arrived the
// request stays Waiting, so fewer replies finish after a quiet gap.
func AtMost(fn func(req *Packet) int, replies ...*Message) MultiOptions {
	return MultiOptions{
		Replies: replies,
		Expect: func(req *Packet, matching []*Packet) Expectation {
			n := fn(req)
			if len(matching) < n {
				return Waiting()
			}
			return Exactly(n)
		},
	}
}

// Matches reports whether reply counts towards the expectation.
func (m *MultiOptions) Matches(reply *Packet) bool {
	if len(m.Replies) == 0 {
		return true
	}
	for _, r := range m.Replies {
		if reply.Is(r) {
			return true
		}
	}
	return false
}

// Expected evaluates the expectation for req given every reply so far.
func (m *MultiOptions) Expected(req *Packet, replies []*Packet) Expectation {
	if m.Unbounded || m.Expect == nil {
		return Waiting()
	}
	matching := make([]*Packet, 0, len(replies))
	for _, r := range replies {
		if m.Matches(r) {
			matching = append(matching, r)
		}
	}
	return m.Expect(req, matching)
}
