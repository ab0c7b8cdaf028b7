package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/lifxlan/internal/config"
	"github.com/muurk/lifxlan/internal/discovery"
	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
	"github.com/muurk/lifxlan/internal/session"
	"github.com/muurk/lifxlan/internal/transport"
	"github.com/muurk/lifxlan/internal/ui"
)

// Find command flags
var (
	findTimeout   float64
	findBroadcast string
	findMDNS      bool
	findSerials   []string
	findNoSave    bool
)

func init() {
	rootCmd.AddCommand(findCmd)

	findCmd.Flags().Float64Var(&findTimeout, "timeout", 0, "Discovery timeout in seconds (default from config, 20s)")
	findCmd.Flags().StringVar(&findBroadcast, "broadcast", "", "Broadcast address, optionally host:port (default from config)")
	findCmd.Flags().BoolVar(&findMDNS, "mdns", false, "Browse mDNS for devices before broadcasting")
	findCmd.Flags().StringSliceVar(&findSerials, "serial", nil, "Only look for these serials (repeatable or comma separated)")
	findCmd.Flags().BoolVar(&findNoSave, "no-save", false, "Do not record the devices in the configuration file")
}

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Discover devices on the network",
	Long: `Discover LIFX devices by broadcasting GetService.

Without --serial the search stops at the first round that finds anything.
With --serial it continues until every serial has answered or the timeout
passes. Each device's label is fetched for the table, and the devices are
recorded in the configuration file.`,
	Example: `  # Find everything on the default broadcast address
  lifx find

  # Look for two devices on a specific subnet
  lifx find --broadcast 192.168.1.255 --serial d073d5000001,d073d5000002

  # Seed the search with mDNS results
  lifx find --mdns`,
	RunE: runFind,
}

// commandContext is cancelled on interrupt.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

// newBridge builds a bridge from the configuration file.
func newBridge(reg *config.Registry, broadcast string) (*transport.Bridge, error) {
	opts, err := reg.TransportOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if broadcast != "" {
		opts.DefaultBroadcast = broadcast
	}
	opts.MessageCatcher = func(reply transport.Reply) {
		logging.Debug("Unsolicited message",
			logging.PktType(reply.Packet.Name()),
			logging.Serial(reply.Packet.Serial()),
			logging.RemoteAddr(reply.Addr.String()),
		)
	}
	return transport.NewBridge(opts)
}

func runFind(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	reg, err := loadConfig()
	if err != nil {
		return err
	}
	bridge, err := newBridge(reg, findBroadcast)
	if err != nil {
		return err
	}
	defer bridge.Close()

	timeout := time.Duration(findTimeout * float64(time.Second))
	if timeout <= 0 {
		timeout = bridge.Options().FindTimeout
	}

	p := ui.NewPrinter(nil)
	p.PrintHeader("Discovery", "lifx find", map[string]string{
		"Broadcast": bridge.Options().DefaultBroadcast,
		"Timeout":   timeout.String(),
		"Serials":   orAll(findSerials),
	})

	steps := p.NewProgress("Browse mDNS", "Discover devices", "Fetch labels", "Save configuration")

	mdnsTimeout := reg.MDNSTimeout()
	if findMDNS && mdnsTimeout == 0 {
		mdnsTimeout = discovery.DefaultScanTimeout
	}
	hinted := 0
	if mdnsTimeout > 0 {
		steps.Start(1, mdnsTimeout.String())
		devices, err := discovery.ScanForDevices(ctx, mdnsTimeout)
		if err != nil {
			logging.Warn("mDNS browse failed", zap.Error(err))
		}
		for serial, ep := range discovery.Hints(devices) {
			bridge.TargetIsAt(serial, ep)
			hinted++
		}
		if err != nil {
			steps.Fail(1, err.Error())
		} else {
			steps.Complete(1, fmt.Sprintf("%d hints", hinted))
		}
	} else {
		steps.Skip(1, "disabled")
	}

	steps.Start(2, "up to "+timeout.String())
	findOpts := transport.FindOptions{Timeout: timeout, IgnoreLost: hinted > 0}
	var found, missing []string
	if len(findSerials) > 0 {
		found, missing, err = bridge.FindSpecificSerials(ctx, findSerials, findOpts)
	} else {
		found, err = bridge.FindDevices(ctx, findOpts)
	}
	if err != nil {
		steps.Fail(2, err.Error())
		steps.Finish()
		p.PrintError("Discovery failed", err, []string{
			"Check the devices are powered and on this network",
			"Try the subnet broadcast address with --broadcast",
			"Increase --timeout on busy networks",
		})
		return err
	}

	steps.Complete(2, fmt.Sprintf("%d devices", len(found)))

	steps.Start(3, "")
	labels := fetchLabels(ctx, bridge, found)
	steps.Complete(3, fmt.Sprintf("%d of %d", len(labels), len(found)))

	table := ui.NewTable("SERIAL", "ADDRESS", "LABEL", "NICKNAME")
	for _, serial := range found {
		ep, err := bridge.Found().Choose(serial, []messages.Service{messages.ServiceUDP})
		addr := ""
		if err == nil {
			addr = ep.String()
			reg.UpdateDeviceLastSeen(serial, ep.Host)
		}
		if label, ok := labels[serial]; ok {
			reg.EnsureDevice(serial).Label = label
		}
		nickname := ""
		if d := reg.GetDevice(serial); d != nil {
			nickname = d.Nickname
		}
		table.AddRow(serial, addr, labels[serial], nickname)
	}

	switch {
	case findNoSave || len(found) == 0:
		steps.Skip(4, "nothing to record")
	default:
		if err := reg.Save(); err != nil {
			logging.Warn("Failed to record devices", zap.Error(err))
			steps.Fail(4, err.Error())
		} else {
			steps.Complete(4, "")
		}
	}
	steps.Finish()

	if len(found) == 0 {
		p.PrintWarning("No devices found", map[string]string{"Broadcast": bridge.Options().DefaultBroadcast})
		return nil
	}
	p.PrintTable(table)
	p.Newline()

	details := map[string]string{"Found": strconv.Itoa(len(found))}
	if len(missing) > 0 {
		details["Missing"] = session.Serials(missing).String()
		p.PrintWarning(fmt.Sprintf("Found %d of %d devices", len(found), len(found)+len(missing)), details)
		return nil
	}
	p.PrintSuccess(fmt.Sprintf("Found %d devices", len(found)), details)
	return nil
}

// fetchLabels asks each device for its label. Devices that do not answer
// are left out.
func fetchLabels(ctx context.Context, bridge *transport.Bridge, serials []string) map[string]string {
	labels := make(map[string]string, len(serials))
	if len(serials) == 0 {
		return labels
	}

	sender := session.NewSender(bridge, session.SendOptions{
		ErrorCatcher: func(err error) {
			var timedOut *transport.TimedOut
			if errors.As(err, &timedOut) {
				logging.Debug("No label", zap.Error(err))
				return
			}
			logging.Warn("Failed to get label", zap.Error(err))
		},
	})
	gets := make([]*protocol.Packet, 0, len(serials))
	for _, serial := range serials {
		gets = append(gets, messages.GetLabel.MustNew(map[string]any{"target": serial}))
	}
	// Every packet is targeted, so no further discovery is made
	replies, _ := sender.Send(ctx, nil, session.SendOptions{}, gets...)
	for _, r := range replies {
		if r.Packet.Is(messages.StateLabel) {
			labels[r.Packet.Serial()] = r.Packet.Str("label")
		}
	}
	return labels
}

func orAll(serials []string) string {
	if len(serials) == 0 {
		return "all"
	}
	return session.Serials(serials).String()
}
