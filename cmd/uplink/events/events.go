// Package eventscmd implements "uplink events".
package eventscmd

import (
	"context"
	"fmt"

	"uplink/cmd/uplink/cmdutil"
	"uplink/cmd/uplink/ui"
	"uplink/pkg/client"

	"github.com/spf13/cobra"
)

// Cmd returns the "uplink events" command.
func Cmd(hostFlag, tokenFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Show recent mode transition attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var events []client.Event

			err := ui.RunWithSpinner(cmd.Context(), "Fetching journal", func(ctx context.Context) error {
				c, err := cmdutil.NewClient(*hostFlag, *tokenFlag)
				if err != nil {
					return err
				}
				events, err = c.Events(ctx)
				return err
			})
			if err != nil {
				return err
			}

			if len(events) == 0 {
				fmt.Println(ui.Muted("no transitions recorded"))
				return nil
			}
			for _, e := range events {
				line := fmt.Sprintf("  %s  %s %s (%d attempts)",
					ui.Muted(e.FinishedAt), ui.Bold(e.Target), outcome(e.Outcome), e.Attempts)
				fmt.Println(line)
				if e.Reason != "" {
					fmt.Println("      " + ui.Muted(e.Reason))
				}
			}
			return nil
		},
	}
}

func outcome(s string) string {
	if s == "succeeded" {
		return ui.SuccessStyle.Render(s)
	}
	return ui.ErrorStyle.Render(s)
}
