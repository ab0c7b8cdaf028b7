// Lifx-fake serves virtual LIFX devices on real UDP sockets.
//
// Each device listens on its own port and answers the LAN protocol like a
// bulb, strip or tile chain would. Point the lifx CLI (or any client) at
// them with the HARDCODED_DISCOVERY line printed on start up.
//
// Usage:
//
//	lifx-fake [flags]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/muurk/lifxlan/internal/fakedevice"
	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/transport"
	"github.com/muurk/lifxlan/internal/ui"
	"github.com/muurk/lifxlan/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Flags
var (
	host     string
	basePort int
	serials  []string
	count    int
	kind     string
	zones    int
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "lifx-fake",
	Short: "Serve virtual LIFX devices over UDP",
	Long: `Serve virtual LIFX devices for testing clients without hardware.

Devices keep their state in memory: a SetColor followed by GetColor returns
the new color. Each device gets its own UDP port, starting at --port, or an
ephemeral port when --port is 0.`,
	Version: version.Version,
	Example: `  # Three bulbs on ephemeral ports
  lifx-fake --count 3

  # A 16 zone strip with a fixed serial
  lifx-fake --serial d073d5000042 --kind strip --zones 16`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			logLevel = "info"
		}
		return logging.Initialize(logLevel)
	},
	RunE: runServe,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Address to listen on")
	rootCmd.Flags().IntVar(&basePort, "port", 0, "First UDP port; 0 picks ephemeral ports")
	rootCmd.Flags().StringSliceVar(&serials, "serial", nil, "Device serials (default d073d5000001 upwards)")
	rootCmd.Flags().IntVar(&count, "count", 1, "Number of devices when --serial is not given")
	rootCmd.Flags().StringVar(&kind, "kind", "bulb", "Device kind (bulb, strip, tile)")
	rootCmd.Flags().IntVar(&zones, "zones", 8, "Zones for a strip, tiles for a tile chain")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String("lifx-fake"))
		},
	})
}

// newDevices builds the devices named by the flags.
func newDevices() ([]*fakedevice.Device, error) {
	if len(serials) == 0 {
		for i := 1; i <= count; i++ {
			serials = append(serials, fmt.Sprintf("d073d5%06x", i))
		}
	}

	devices := make([]*fakedevice.Device, 0, len(serials))
	for i, s := range serials {
		serial, err := transport.NormalizeSerial(s)
		if err != nil {
			return nil, err
		}
		label := fmt.Sprintf("fake %d", i+1)

		var state fakedevice.State
		switch kind {
		case "bulb":
			state = fakedevice.DefaultState(label)
		case "strip":
			state = fakedevice.StripState(label, zones)
		case "tile":
			state = fakedevice.TileState(label, zones)
		default:
			return nil, fmt.Errorf("unknown device kind %q (want bulb, strip or tile)", kind)
		}
		devices = append(devices, fakedevice.New(serial, state, nil))
	}
	return devices, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	devices, err := newDevices()
	if err != nil {
		return err
	}

	conns := make([]net.PacketConn, 0, len(devices))
	closeAll := func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	for i := range devices {
		port := 0
		if basePort != 0 {
			port = basePort + i
		}
		conn, err := net.ListenPacket("udp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			closeAll()
			return fmt.Errorf("failed to listen for %s: %w", devices[i].Serial(), err)
		}
		conns = append(conns, conn)
	}

	hardcoded := make(map[string]string, len(devices))
	table := ui.NewTable("SERIAL", "ADDRESS", "LABEL")
	for i, d := range devices {
		addr := conns[i].LocalAddr().String()
		hardcoded[d.Serial()] = addr
		table.AddRow(d.Serial(), addr, d.State().Label)
	}
	env, err := json.Marshal(hardcoded)
	if err != nil {
		closeAll()
		return err
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintTable(table)
	p.Newline()
	p.Println(fmt.Sprintf("export HARDCODED_DISCOVERY='%s'", env))

	return serveAll(ctx, devices, conns)
}

// serveAll runs every device until ctx is done and returns their combined
// errors.
func serveAll(ctx context.Context, devices []*fakedevice.Device, conns []net.PacketConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for i, d := range devices {
		wg.Add(1)
		go func(d *fakedevice.Device, conn net.PacketConn) {
			defer wg.Done()
			if err := d.ServeUDP(ctx, conn); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", d.Serial(), err))
				mu.Unlock()
				// One failed socket stops the rest
				cancel()
			}
		}(d, conns[i])
	}
	wg.Wait()
	return errs.ErrorOrNil()
}
