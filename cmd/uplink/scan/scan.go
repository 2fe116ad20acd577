// Package scancmd implements "uplink scan".
package scancmd

import (
	"context"
	"fmt"

	"uplink/cmd/uplink/cmdutil"
	"uplink/cmd/uplink/ui"
	"uplink/pkg/client"

	"github.com/spf13/cobra"
)

// Cmd returns the "uplink scan" command.
func Cmd(hostFlag, tokenFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List WiFi networks visible to the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var networks []client.Network

			err := ui.RunWithSpinner(cmd.Context(), "Scanning", func(ctx context.Context) error {
				c, err := cmdutil.NewClient(*hostFlag, *tokenFlag)
				if err != nil {
					return err
				}
				networks, err = c.Scan(ctx)
				return err
			})
			if err != nil {
				if client.IsCode(err, "BUSY") {
					return fmt.Errorf("the radio is busy with a mode change, retry in a moment")
				}
				return err
			}

			if len(networks) == 0 {
				fmt.Println(ui.Muted("no networks found"))
				return nil
			}
			for _, n := range networks {
				fmt.Printf("  %s %s %s\n",
					ui.SignalBar(n.SignalStrength),
					ui.Bold(n.SSID),
					ui.Muted(fmt.Sprintf("%d%%", n.SignalStrength)),
				)
			}
			return nil
		},
	}
}
