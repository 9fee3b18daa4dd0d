package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omas-app/omas-vendor-go/internal/output"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Manage vendor authentication: device registration, logout, status, and token refresh.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Register this device with the vendor identity provider",
		Long:  "Run the OAuth device-authorization grant and store the resulting offline credential.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			fmt.Println("Starting device registration...")
			if err := app.Auth.Login(cmd.Context()); err != nil {
				return output.ErrAuth(err.Error())
			}
			fmt.Println("Authentication successful.")
			return nil
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if err := app.Auth.Logout(); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			creds, err := app.Auth.Status()
			if err != nil || creds == nil || creds.RefreshToken == "" {
				return output.ErrAuth("Not authenticated")
			}

			fmt.Printf("Client:  %s\n", app.Config.ClientID)
			fmt.Printf("Scope:   %s\n", creds.Scope)
			switch {
			case creds.AccessToken == "":
				fmt.Println("Access:  none cached (will refresh on first use)")
			case creds.ExpiresAt <= time.Now().Unix():
				fmt.Println("Access:  expired (will refresh on first use)")
			default:
				fmt.Printf("Access:  valid until %s\n",
					time.Unix(creds.ExpiresAt, 0).Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if err := app.Auth.Refresh(cmd.Context()); err != nil {
				return output.ErrAuth(err.Error())
			}
			fmt.Println("Token refreshed.")
			return nil
		},
	}
}
