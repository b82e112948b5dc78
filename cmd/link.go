package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/smazurov/rovercam/internal/link"
	"github.com/smazurov/rovercam/internal/logging"
	"github.com/spf13/cobra"
)

// RouteCLI tags commands sent from the command line.
const RouteCLI = "cli"

// CreateLinkCmd creates the link command group.
func CreateLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Inspect and drive the serial command link",
	}
	cmd.AddCommand(createLinkPortsCmd(), createLinkSendCmd())
	return cmd
}

func createLinkPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			ports, err := link.ListPorts()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			PrintPorts(os.Stdout, ports)
		},
	}
}

// PrintPorts writes one line per port.
func PrintPorts(w io.Writer, ports []link.PortInfo) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return
	}
	for _, p := range ports {
		if !p.USB {
			fmt.Fprintln(w, p.Name)
			continue
		}
		fmt.Fprintf(w, "%s  usb %s:%s", p.Name, p.VID, p.PID)
		if p.Product != "" {
			fmt.Fprintf(w, "  %s", p.Product)
		}
		if p.SerialNumber != "" {
			fmt.Fprintf(w, "  serial=%s", p.SerialNumber)
		}
		fmt.Fprintln(w)
	}
}

func createLinkSendCmd() *cobra.Command {
	var device string
	var baud int
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "send <json>",
		Short: "Send one JSON command to the microcontroller",
		Long: `Opens the serial link, waits for the board to settle, writes the JSON document as one ` +
			`compact line and exits.`,
		Args: cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})

			ch := link.New(link.Options{Device: device, BaudRate: baud, Settle: settle})
			ack, err := SendOnce(c.Context(), ch, []byte(args[0]))
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Printf("sent %d bytes to %s (seq %d)\n", ack.Bytes, ch.Device(), ack.Seq)
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "Serial device (default /dev/ttyACM0, COM1 on Windows)")
	cmd.Flags().IntVar(&baud, "baud", link.DefaultBaudRate, "Baud rate")
	cmd.Flags().DurationVar(&settle, "settle", link.DefaultSettle, "Wait after opening before writing")

	return cmd
}

// SendOnce validates payload, connects ch, writes one line and closes ch.
func SendOnce(ctx context.Context, ch *link.Channel, payload []byte) (link.Ack, error) {
	defer func() { _ = ch.Close() }()

	if _, err := link.Encode(payload); err != nil {
		return link.Ack{}, err
	}
	if err := ch.Connect(ctx); err != nil {
		return link.Ack{}, fmt.Errorf("connect %s: %w", ch.Device(), err)
	}
	return ch.Send(RouteCLI, payload)
}
