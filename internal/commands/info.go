package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewInfoCmd creates the info command.
func NewInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Query the vendor info endpoint",
		Long:  "Call the vendor info endpoint and report authentication state and the message of the day.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			info, err := app.API.GetInfo(cmd.Context())
			if err != nil {
				return err
			}

			authStatus := "invalid"
			if info.User.Authenticated {
				authStatus = "authenticated"
			}
			fmt.Printf("auth: %s\n", authStatus)
			fmt.Printf("motd: %s\n", info.Motd)
			return nil
		},
	}
}
