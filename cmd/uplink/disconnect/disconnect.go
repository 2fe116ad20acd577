// Package disconnectcmd implements "uplink disconnect".
package disconnectcmd

import (
	"context"
	"fmt"

	"uplink/cmd/uplink/cmdutil"
	"uplink/cmd/uplink/ui"
	"uplink/pkg/client"

	"github.com/spf13/cobra"
)

// Cmd returns the "uplink disconnect" command.
func Cmd(hostFlag, tokenFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Leave the current network and restore the access point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st client.Status

			err := ui.RunWithSpinner(cmd.Context(), "Restoring access point", func(ctx context.Context) error {
				c, err := cmdutil.NewClient(*hostFlag, *tokenFlag)
				if err != nil {
					return err
				}
				st, err = c.Disconnect(ctx)
				return err
			})
			if err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("access point restored"))
			fmt.Println(ui.KeyValues("  ",
				ui.KV("Mode", st.Mode),
				ui.KV("IP", st.IP),
			))
			return nil
		},
	}
}
