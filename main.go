// Command davi-pay runs the tap-to-pay agent: it reads payment tags through
// a companion phone or a USB reader, lets a UI client confirm the payment
// and submits the transfer to the Sui network.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotside-studios/davi-pay/buildinfo"
	"github.com/dotside-studios/davi-pay/config"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           buildinfo.Name,
		Short:         buildinfo.DisplayName + " NFC payment agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: user config dir)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newEncodeCommand(opts))
	cmd.AddCommand(newDecodeCommand())
	cmd.AddCommand(newWriteCommand(opts))
	cmd.AddCommand(newDevicesCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// loadConfig reads the file named by --config. Without the flag the default
// path is used when it exists.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	return config.Load(path)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
