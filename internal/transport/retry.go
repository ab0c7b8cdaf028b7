package transport

import (
	"time"

	"github.com/cenkalti/backoff"
)

const (
	// DefaultGapBetweenResults is how long a multi-reply request waits after
	// the last reply before it is considered complete.
	DefaultGapBetweenResults = 350 * time.Millisecond

	// DefaultGapBetweenAckAndRes is how long an acked request keeps waiting
	// for its reply once the ack has arrived.
	DefaultGapBetweenAckAndRes = 200 * time.Millisecond

	// finishMultiSlack is added to GapBetweenResults before an open ended
	// request finishes.
	finishMultiSlack = 50 * time.Millisecond
)

// Step is one segment of a retransmit schedule: send every Every until
// Until has elapsed since the first send, then move to the next step. The
// last step repeats forever.
type Step struct {
	Every time.Duration
	Until time.Duration
}

// DefaultTimeouts is the retransmit schedule for ordinary requests.
var DefaultTimeouts = []Step{
	{Every: 200 * time.Millisecond, Until: 200 * time.Millisecond},
	{Every: 100 * time.Millisecond, Until: 500 * time.Millisecond},
	{Every: 200 * time.Millisecond, Until: time.Second},
	{Every: time.Second, Until: 5 * time.Second},
}

// DiscoveryTimeouts is the schedule between GetService broadcast rounds.
var DiscoveryTimeouts = []Step{
	{Every: 600 * time.Millisecond, Until: 1800 * time.Millisecond},
	{Every: time.Second, Until: 2 * time.Second},
	{Every: 2 * time.Second, Until: 6 * time.Second},
	{Every: 4 * time.Second, Until: 10 * time.Second},
	{Every: 5 * time.Second, Until: 20 * time.Second},
}

// Schedule walks a list of steps. Each call to NextBackOff returns the
// gap to the next tick, so the schedule
//
//	[{100ms, 100ms}, {200ms, 500ms}, {500ms, 3s}]
//
// ticks at 0, 100ms, 300ms, 500ms, 1s, 1.5s and so on.
type Schedule struct {
	steps   []Step
	index   int
	elapsed time.Duration
}

var _ backoff.BackOff = (*Schedule)(nil)

// NewSchedule returns a schedule over steps.
func NewSchedule(steps []Step) *Schedule {
	return &Schedule{steps: steps}
}

// NextBackOff returns the gap until the next tick, or backoff.Stop for an
// empty schedule.
func (s *Schedule) NextBackOff() time.Duration {
	if len(s.steps) == 0 {
		return backoff.Stop
	}
	for s.index < len(s.steps)-1 && s.elapsed >= s.steps[s.index].Until {
		s.index++
	}
	gap := s.steps[s.index].Every
	if gap <= 0 {
		return backoff.Stop
	}
	s.elapsed += gap
	return gap
}

// Reset rewinds the schedule to its first step.
func (s *Schedule) Reset() {
	s.index = 0
	s.elapsed = 0
}

// Elapsed returns the time covered by the ticks handed out so far.
func (s *Schedule) Elapsed() time.Duration {
	return s.elapsed
}

// RetryOptions controls retransmits and how long a request waits for
// replies.
type RetryOptions struct {
	// GapBetweenResults is the quiet period that ends an open ended
	// multi-reply request.
	GapBetweenResults time.Duration

	// GapBetweenAckAndRes is how long to keep waiting for a reply after
	// the ack arrived.
	GapBetweenAckAndRes time.Duration

	// Timeouts is the retransmit schedule.
	Timeouts []Step

	// MaxRetries bounds retransmits after the first send. Zero never
	// retransmits and a negative value retransmits until the call timeout.
	MaxRetries int
}

// DefaultRetryOptions returns the retry options used when none are given.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		GapBetweenResults:   DefaultGapBetweenResults,
		GapBetweenAckAndRes: DefaultGapBetweenAckAndRes,
		Timeouts:            DefaultTimeouts,
		MaxRetries:          -1,
	}
}

// FinishMultiGap is the quiet period after which a request with an open
// ended reply count is complete.
func (o RetryOptions) FinishMultiGap() time.Duration {
	return o.GapBetweenResults + finishMultiSlack
}

// BackOff returns the retransmit policy: the schedule bounded by
// MaxRetries.
func (o RetryOptions) BackOff() backoff.BackOff {
	switch {
	case o.MaxRetries == 0:
		return &backoff.StopBackOff{}
	case o.MaxRetries > 0:
		return backoff.WithMaxRetries(NewSchedule(o.Timeouts), uint64(o.MaxRetries))
	default:
		return NewSchedule(o.Timeouts)
	}
}

// firstGap is the grace period given to the final attempt.
func (o RetryOptions) firstGap() time.Duration {
	if len(o.Timeouts) > 0 && o.Timeouts[0].Every > 0 {
		return o.Timeouts[0].Every
	}
	return DefaultTimeouts[0].Every
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.GapBetweenResults <= 0 {
		o.GapBetweenResults = DefaultGapBetweenResults
	}
	if o.GapBetweenAckAndRes <= 0 {
		o.GapBetweenAckAndRes = DefaultGapBetweenAckAndRes
	}
	if len(o.Timeouts) == 0 {
		o.Timeouts = DefaultTimeouts
	}
	return o
}
