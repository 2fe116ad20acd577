// Package statuscmd implements "uplink status".
package statuscmd

import (
	"context"
	"fmt"

	"uplink/cmd/uplink/cmdutil"
	"uplink/cmd/uplink/ui"
	"uplink/pkg/client"

	"github.com/spf13/cobra"
)

// Cmd returns the "uplink status" command. hostFlag and tokenFlag are
// pointers to the root persistent flag values.
func Cmd(hostFlag, tokenFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current connectivity mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st client.Status

			err := ui.RunWithSpinner(cmd.Context(), "Querying daemon", func(ctx context.Context) error {
				c, err := cmdutil.NewClient(*hostFlag, *tokenFlag)
				if err != nil {
					return err
				}
				st, err = c.Status(ctx)
				return err
			})
			if err != nil {
				return err
			}

			pairs := []ui.Pair{ui.KV("Mode", st.Mode)}
			if st.SSID != "" {
				pairs = append(pairs, ui.KV("SSID", st.SSID))
			}
			if st.IP != "" {
				pairs = append(pairs, ui.KV("IP", st.IP))
			}
			if st.VerifiedAt != "" {
				pairs = append(pairs, ui.KV("Verified", st.VerifiedAt))
			}
			if st.LastError != "" {
				pairs = append(pairs, ui.KV("Last Error", st.LastError))
			}
			fmt.Println(ui.KeyValues("  ", pairs...))
			return nil
		},
	}
}
