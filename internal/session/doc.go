// Package session is the API the rest of the tooling uses to talk to
// devices: send packets to a reference, or find which devices a reference
// names.
//
// A Reference is either FoundSerials (every device that answers
// discovery, written "_" on the command line) or a list of Serials.
// Packets without a target are cloned once per device; packets with a
// target go only to that device.
//
//	sender := session.NewSender(bridge, session.SendOptions{Timeout: 5 * time.Second})
//	ref, _ := session.ParseReference("d073d5000001,d073d5000002")
//
//	get := messages.GetPower.MustNew(nil)
//	replies, err := sender.Send(ctx, ref, session.SendOptions{}, get)
//
// Requests run concurrently, up to Limit at a time, unless Synchronous is
// set. Errors for individual requests are collected with go-multierror and
// returned once every request has finished, or handed to an ErrorCatcher
// as they happen.
//
// SendFrom takes a Producer instead of a fixed list, for sends where later
// packets depend on earlier replies:
//
//	replies, err := sender.SendFrom(ctx, ref, session.SendOptions{},
//		func(ctx context.Context, send func(*protocol.Packet, session.Reference) <-chan transport.Reply) error {
//			for r := range send(messages.GetPower.MustNew(nil), nil) {
//				toggle := messages.SetPower.MustNew(map[string]any{
//					"target": r.Packet.Serial(),
//					"level":  65535 - r.Packet.Uint("level"),
//				})
//				for range send(toggle, nil) {
//				}
//			}
//			return nil
//		})
package session
