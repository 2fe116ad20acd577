package main

import (
	"fmt"
	"os"

	"uplink/cmd/uplink/cmdutil"
	connectcmd "uplink/cmd/uplink/connect"
	disconnectcmd "uplink/cmd/uplink/disconnect"
	eventscmd "uplink/cmd/uplink/events"
	scancmd "uplink/cmd/uplink/scan"
	statuscmd "uplink/cmd/uplink/status"
	"uplink/cmd/uplink/ui"
	"uplink/internal/buildinfo"
	"uplink/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	var (
		debug         bool
		noInteraction bool
		host          string
		token         string
	)
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "uplink",
		Short:         "Control the gateway's wireless connectivity",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level); err != nil {
				return err
			}
			ui.ConfigureInteraction(noInteraction)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&noInteraction, "no-interaction", false, "Disable spinners and colors")

	// Connection flags — available to all subcommands.
	root.PersistentFlags().StringVar(&host, "host", "", "Daemon base URL (default "+cmdutil.DefaultHost+")")
	root.PersistentFlags().StringVar(&token, "token", "", "Bearer token for control operations")

	root.AddCommand(statuscmd.Cmd(&host, &token))
	root.AddCommand(scancmd.Cmd(&host, &token))
	root.AddCommand(connectcmd.Cmd(&host, &token))
	root.AddCommand(disconnectcmd.Cmd(&host, &token))
	root.AddCommand(eventscmd.Cmd(&host, &token))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
