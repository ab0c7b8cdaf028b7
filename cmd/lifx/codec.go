package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/lifxlan/internal/messages"
	"github.com/muurk/lifxlan/internal/protocol"
	"github.com/muurk/lifxlan/internal/ui"
)

var unpackFrame bool

func init() {
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(unpackCmd)
	rootCmd.AddCommand(messagesCmd)

	unpackCmd.Flags().BoolVar(&unpackFrame, "frame", true, "Print the frame fields too")
}

var packCmd = &cobra.Command{
	Use:   "pack <message> [field=value ...]",
	Short: "Print the wire bytes of a message as hex",
	Example: `  lifx pack SetPower level=65535 source=2 sequence=1 target=d073d5000001
  lifx pack GetService source=1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, ok := messages.MustRegistry().ByName(args[0])
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
		data, err := pkt.Pack()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
		return nil
	},
}

var unpackCmd = &cobra.Command{
	Use:   "unpack <hex>",
	Short: "Decode a packet from hex",
	Long: `Decode a packet from its hex encoded wire bytes.

Messages not in the catalogue are shown with the frame fields and the
payload as raw bytes.`,
	Example: "  lifx unpack \"$(lifx pack SetPower level=65535 source=2 sequence=1)\"",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := strings.Join(strings.Fields(args[0]), "")
		pkt, err := messages.MustRegistry().Unpack(raw, true)
		if err != nil {
			return err
		}
		p := ui.NewPrinter(cmd.OutOrStdout())
		p.PrintPacket(pkt, unpackFrame)
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages [message]",
	Short: "List the message catalogue, or one message's fields",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := messages.MustRegistry()
		p := ui.NewPrinter(cmd.OutOrStdout())

		if len(args) == 1 {
			msg, ok := reg.ByName(args[0])
			if !ok {
				return fmt.Errorf("unknown message %q", args[0])
			}
			table := ui.NewTable("FIELD", "KIND")
			for _, f := range msg.PayloadFields() {
				if f.Type.Kind() == protocol.KindReserved {
					continue
				}
				table.AddRow(f.Name, f.Type.LogicalKind().String())
			}
			p.Println(fmt.Sprintf("%s (%d)", msg.Name, msg.Type))
			p.PrintTable(table)
			return nil
		}

		table := ui.NewTable("TYPE", "NAME", "FIELDS")
		for _, msg := range reg.Messages() {
			var names []string
			for _, f := range msg.PayloadFields() {
				if f.Type.Kind() == protocol.KindReserved {
					continue
				}
				names = append(names, f.Name)
			}
			table.AddRow(fmt.Sprint(msg.Type), msg.Name, strings.Join(names, ", "))
		}
		p.PrintTable(table)
		return nil
	},
}
