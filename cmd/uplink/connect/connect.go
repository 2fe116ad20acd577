// Package connectcmd implements "uplink connect".
package connectcmd

import (
	"context"
	"errors"
	"fmt"

	"uplink/cmd/uplink/cmdutil"
	"uplink/cmd/uplink/ui"
	"uplink/pkg/client"

	"github.com/spf13/cobra"
)

// Cmd returns the "uplink connect" command.
func Cmd(hostFlag, tokenFlag *string) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "connect <ssid>",
		Short: "Join a WiFi network as a station",
		Long: "Join a WiFi network as a station. The gateway tears down its access\n" +
			"point while it attempts to associate, so this CLI loses connectivity\n" +
			"until the join succeeds or the access point comes back.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ssid := args[0]

			if password == "" {
				var err error
				password, err = ui.PromptSecret(cmd.Context(), "Passphrase")
				if err != nil {
					if errors.Is(err, ui.ErrPromptUnavailable) {
						return fmt.Errorf("no passphrase: pass --password or run interactively")
					}
					return err
				}
			}

			var st client.Status
			err := ui.RunWithSpinner(cmd.Context(), "Joining "+ssid, func(ctx context.Context) error {
				c, err := cmdutil.NewClient(*hostFlag, *tokenFlag)
				if err != nil {
					return err
				}
				st, err = c.Connect(ctx, ssid, password)
				return err
			})
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Status != nil {
					fmt.Println(ui.ErrorMsg("join failed: %s", apiErr.Message))
					fmt.Println(ui.KeyValues("  ",
						ui.KV("Mode", apiErr.Status.Mode),
						ui.KV("Last Error", apiErr.Status.LastError),
					))
					return fmt.Errorf("gateway fell back to access point mode")
				}
				return err
			}

			fmt.Println(ui.SuccessMsg("connected to %s", st.SSID))
			fmt.Println(ui.KeyValues("  ",
				ui.KV("Mode", st.Mode),
				ui.KV("IP", st.IP),
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Network passphrase (prompted when omitted)")
	return cmd
}
