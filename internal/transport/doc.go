// Package transport sends LIFX packets over UDP and matches the replies
// back to the request that caused them.
//
// A Bridge owns one UDP socket, a found cache of discovered devices,
// per-target sequence counters and a Receiver. Two random source
// identifiers tell replies to single device requests apart from replies to
// broadcasts.
//
// # Requests
//
// SendSingle prepares a Writer, writes the first attempt and then
// retransmits on the RetryOptions schedule with a fresh sequence number
// each time. Every attempt gets its own Result registered with the
// Receiver under (source, sequence, serial). The first attempt to complete
// wins, so a late reply to an earlier attempt still completes the request.
// Once MaxRetries is exhausted the last attempt gets one more gap before
// the request fails with *TimedOut.
//
//	bridge, err := transport.NewBridge(transport.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer bridge.Close()
//
//	pkt := messages.GetPower.MustNew(map[string]any{"target": "d073d5000001"})
//	replies, err := bridge.SendSingle(ctx, pkt, transport.SendOptions{})
//
// # Replies
//
// A request that wants neither an ack nor a reply completes when written.
// An ack-only request completes on the ack. A reply request completes once
// the message's MultiOptions expectation is met; an open ended expectation
// and any broadcast complete after GapBetweenResults plus 50ms without a
// new packet.
//
// # Discovery
//
// FindSpecificSerials broadcasts GetService in rounds on DiscoveryTimeouts
// and adds each StateService to the found cache. Hardcoded endpoints skip
// the broadcast. Serials that did not answer are dropped from the cache
// unless IgnoreLost is set.
//
// # Thread Safety
//
// A Bridge is safe for concurrent use. Close cancels every pending Result
// and closes the socket; calls made afterwards return ErrBridgeStopped.
package transport
