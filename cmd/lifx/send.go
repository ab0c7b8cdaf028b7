package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
	"github.com/muurk/lifxlan/internal/session"
	"github.com/muurk/lifxlan/internal/transport"
	"github.com/muurk/lifxlan/internal/ui"
)

// Send command flags
var (
	sendRef         string
	sendTimeout     float64
	sendBroadcast   bool
	sendBroadcastTo string
	sendNoRetry     bool
	sendFrame       bool
	powerDuration   float64
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(powerCmd)

	for _, cmd := range []*cobra.Command{sendCmd, powerCmd} {
		cmd.Flags().StringVar(&sendRef, "ref", "_", "Devices to send to: _ for all found, or comma separated serials")
		cmd.Flags().Float64Var(&sendTimeout, "timeout", 0, "Timeout per message in seconds (default from config, 10s)")
		cmd.Flags().BoolVar(&sendBroadcast, "broadcast", false, "Send once to the broadcast address instead of each device")
		cmd.Flags().StringVar(&sendBroadcastTo, "broadcast-addr", "", "Broadcast address, optionally host:port (default from config)")
	}
	sendCmd.Flags().BoolVar(&sendNoRetry, "no-retry", false, "Send once and wait the whole timeout")
	sendCmd.Flags().BoolVar(&sendFrame, "frame", false, "Print the frame fields of each reply too")
	powerCmd.Flags().Float64Var(&powerDuration, "duration", 0, "Transition time in seconds")
}

var sendCmd = &cobra.Command{
	Use:   "send <message> [field=value ...]",
	Short: "Send a message and print the replies",
	Long: `Send any message in the catalogue to a set of devices.

Field values are YAML, so structured fields can be given inline. Unset
fields take their defaults. Use 'lifx messages' to list message names and
their fields.`,
	Example: `  # Get every device's label
  lifx send GetLabel

  # Set two devices to green over one second
  lifx send SetColor hue=120 saturation=1 brightness=1 kelvin=3500 duration=1 \
      --ref d073d5000001,d073d5000002

  # Set the first three zones of a strip
  lifx send SetExtendedColorZones zone_index=0 colors_count=3 \
      "colors=[{hue: 0, saturation: 1, brightness: 1, kelvin: 3500}, {hue: 120, saturation: 1, brightness: 1, kelvin: 3500}, {hue: 240, saturation: 1, brightness: 1, kelvin: 3500}]"

  # Send to the broadcast address without discovery
  lifx send GetService --broadcast`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := messages.MustRegistry()
		msg, ok := reg.ByName(args[0])
		if !ok {
			return fmt.Errorf("unknown message %q (see 'lifx messages')", args[0])
		}
		values, err := parseFields(msg, args[1:])
		if err != nil {
			return err
		}
		pkt, err := msg.New(values)
		if err != nil {
			return err
		}
		return runSend(cmd, pkt.Name(), func(ctx context.Context, sender *session.Sender, ref session.Reference, opts session.SendOptions) *session.Stream {
			return sender.Stream(ctx, ref, opts, pkt)
		})
	},
}

var powerCmd = &cobra.Command{
	Use:       "power on|off|toggle",
	Short:     "Turn lights on or off",
	Long:      "Turn lights on or off. toggle reads each light's power and sets the opposite.",
	Example:   "  lifx power on --duration 2\n  lifx power off --ref d073d5000001\n  lifx power toggle",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off", "toggle"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "toggle" {
			return runSend(cmd, messages.SetLightPower.Name, func(ctx context.Context, sender *session.Sender, ref session.Reference, opts session.SendOptions) *session.Stream {
				return sender.StreamFrom(ctx, ref, opts, togglePower(powerDuration))
			})
		}

		level := 0
		if args[0] == "on" {
			level = 65535
		}
		pkt, err := messages.SetLightPower.New(map[string]any{
			"level":        level,
			"duration":     powerDuration,
			"res_required": false,
		})
		if err != nil {
			return err
		}
		return runSend(cmd, pkt.Name(), func(ctx context.Context, sender *session.Sender, ref session.Reference, opts session.SendOptions) *session.Stream {
			return sender.Stream(ctx, ref, opts, pkt)
		})
	},
}

// togglePower asks each light for its power and sets the opposite level.
func togglePower(duration float64) session.Producer {
	return func(ctx context.Context, send func(*protocol.Packet, session.Reference) <-chan transport.Reply) error {
		var errs error
		for reply := range send(messages.GetLightPower.MustNew(nil), nil) {
			level := 0
			if reply.Packet.Uint("level") == 0 {
				level = 65535
			}
			set, err := messages.SetLightPower.New(map[string]any{
				"target":       reply.Packet.Serial(),
				"level":        level,
				"duration":     duration,
				"res_required": false,
			})
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			for range send(set, nil) {
			}
		}
		return errs
	}
}

// startSend begins a send on the command's sender.
type startSend func(ctx context.Context, sender *session.Sender, ref session.Reference, opts session.SendOptions) *session.Stream

func runSend(cmd *cobra.Command, name string, start startSend) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	reg, err := loadConfig()
	if err != nil {
		return err
	}
	bridge, err := newBridge(reg, sendBroadcastTo)
	if err != nil {
		return err
	}
	defer bridge.Close()

	var ref session.Reference
	if !sendBroadcast {
		ref, err = session.ParseReference(sendRef)
		if err != nil {
			return err
		}
	}

	p := ui.NewPrinter(nil)
	p.PrintHeader("Send", "lifx "+cmd.Name(), map[string]string{
		"Message":   name,
		"Reference": refName(ref),
	})

	sender := session.NewSender(bridge, session.SendOptions{})
	stream := start(ctx, sender, ref, session.SendOptions{
		Timeout:   time.Duration(sendTimeout * float64(time.Second)),
		Broadcast: sendBroadcast,
		NoRetry:   sendNoRetry,
	})

	// Acks complete a request without being delivered, so only replies
	// with a payload arrive here.
	replies := 0
	for reply := range stream.C {
		replies++
		p.Println(fmt.Sprintf("%s from %s", reply.Packet.Serial(), reply.Addr))
		p.PrintPacket(reply.Packet, sendFrame)
		p.Newline()
	}

	if err := stream.Wait(); err != nil {
		p.PrintError("Send failed", err, troubleshootSend(err))
		return err
	}
	p.PrintSuccess("Sent "+name, map[string]string{
		"Replies": fmt.Sprint(replies),
	})
	return nil
}

func refName(ref session.Reference) string {
	if ref == nil {
		return "broadcast"
	}
	return ref.String()
}

func troubleshootSend(err error) []string {
	var (
		timedOut *transport.TimedOut
		notFound *transport.DevicesNotFound
		noneAt   *transport.FoundNoDevices
	)
	switch {
	case errors.As(err, &timedOut):
		return []string{"The device may be offline or on another subnet", "Increase --timeout"}
	case errors.As(err, &notFound), errors.As(err, &noneAt):
		return []string{"Run 'lifx find' to see which devices answer", "Check the serials passed to --ref"}
	}
	return nil
}
