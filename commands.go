package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotside-studios/davi-pay/buildinfo"
	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/nfc/usbreader"
	"github.com/dotside-studios/davi-pay/payload"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		port      int
		backend   string
		device    string
		apiSecret string
		noMDNS    bool
		useTLS    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent",
		Long: `Run the agent: serve UI clients and phones on /ws, keep the reader
ready for scans and submit confirmed payments.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("backend") {
				cfg.Reader.Backend = backend
			}
			if flags.Changed("device") {
				cfg.Reader.Device = device
			}
			if noMDNS {
				cfg.Server.MDNS = false
			}
			if flags.Changed("tls") {
				cfg.Server.TLS.Enabled = useTLS
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			agent := NewAgent(cfg)
			agent.APISecret = apiSecret
			if err := agent.Start(); err != nil {
				return fmt.Errorf("failed to start agent: %w", err)
			}
			defer agent.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			agent.Logger.Println("Shutdown signal received, stopping server...")
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&port, "port", "p", 0, "port to listen on")
	f.StringVar(&backend, "backend", "", "reader backend (phone|usb)")
	f.StringVar(&device, "device", "", "libnfc connection string for the usb backend")
	f.StringVar(&apiSecret, "api-secret", "", "secret UI clients must present (optional)")
	f.BoolVar(&noMDNS, "no-mdns", false, "do not advertise the agent on the local network")
	f.BoolVar(&useTLS, "tls", false, "serve HTTPS with a locally trusted certificate")
	return cmd
}

// intentFlags are the flags describing a payment tag.
type intentFlags struct {
	recipient string
	merchant  string
	amount    string
	coinType  string
	language  string
}

func (f *intentFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.recipient, "recipient", "", "recipient address or label")
	fs.StringVar(&f.merchant, "merchant", "", "merchant name shown to the payer")
	fs.StringVar(&f.amount, "amount", "", "amount to request")
	fs.StringVar(&f.coinType, "coin", payload.DefaultCoinType, "coin type")
	fs.StringVar(&f.language, "language", "", "text record language (default from config)")
	cmd.MarkFlagRequired("recipient")
	cmd.MarkFlagRequired("amount")
}

// tagPayload validates the flags and builds what would be written.
func (f *intentFlags) tagPayload(defaultLanguage string) (nfc.TagWritePayload, error) {
	intent := payload.NewTransferIntent(f.recipient, f.merchant, f.amount, f.coinType)
	if err := intent.Validate(); err != nil {
		return nfc.TagWritePayload{}, err
	}
	lang := f.language
	if lang == "" {
		lang = defaultLanguage
	}
	return nfc.NewTagWritePayload(payload.Encode(intent), lang), nil
}

func newEncodeCommand(root *rootOptions) *cobra.Command {
	var flags intentFlags
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the tag text for a payment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			p, err := flags.tagPayload(cfg.Reader.Language)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, p.Text)
			fmt.Fprintf(out, "NDEF message: %d bytes\n", p.Size())
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newDecodeCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "decode [text]",
		Short: "Parse tag text into a payment",
		Long:  "Parse tag text into a payment. Without an argument the text is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = strings.TrimRight(string(data), "\r\n")
			}

			intent, err := payload.Decode(text)
			if err != nil {
				if missing := payload.MissingFields(err); len(missing) > 0 {
					return fmt.Errorf("%w (missing: %s)", err, strings.Join(missing, ", "))
				}
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(intent)
			}
			fmt.Fprintf(out, "Recipient: %s\n", intent.RecipientLabel)
			if intent.MerchantLabel != "" {
				fmt.Fprintf(out, "Merchant:  %s\n", intent.MerchantLabel)
			}
			fmt.Fprintf(out, "Amount:    %s %s\n", intent.Amount, intent.Coin())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the payment as JSON")
	return cmd
}

func newWriteCommand(root *rootOptions) *cobra.Command {
	var (
		flags   intentFlags
		device  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a payment tag with a USB reader",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			p, err := flags.tagPayload(cfg.Reader.Language)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("device") {
				device = cfg.Reader.Device
			}

			reader, err := usbreader.Open(device, usbreader.WithSessionTimeout(timeout))
			if err != nil {
				return err
			}
			defer reader.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return writeTag(ctx, cmd.OutOrStdout(), nfc.NewSession(reader), p)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&device, "device", "", "libnfc connection string (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", usbreader.DefaultSessionTimeout, "how long to wait for a tag")
	return cmd
}

// writeTag runs one write session and reports its outcome.
func writeTag(ctx context.Context, out io.Writer, session *nfc.Session, p nfc.TagWritePayload) error {
	op, err := session.StartWrite(p)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Hold a tag to the reader (%d bytes)...\n", p.Size())

	res, err := op.Wait(ctx)
	if err != nil {
		session.Invalidate()
		return err
	}
	switch {
	case res.Err != nil:
		return res.Err
	case res.Cancelled:
		return errors.New("write cancelled")
	case res.Presumed:
		fmt.Fprintln(out, res.Message)
	default:
		fmt.Fprintln(out, "Tag written")
	}
	return nil
}

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List USB NFC readers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := usbreader.ListDevices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No readers found")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintln(out, d)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.BuildInfo())
		},
	}
}
