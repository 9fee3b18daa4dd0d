// Package cli wires the cobra command tree.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/omas-app/omas-vendor-go/internal/appctx"
	"github.com/omas-app/omas-vendor-go/internal/commands"
	"github.com/omas-app/omas-vendor-go/internal/config"
	"github.com/omas-app/omas-vendor-go/internal/output"
	"github.com/omas-app/omas-vendor-go/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "omas-vendor",
		Short:         "Vendor agent for the Omas demo-vendor API",
		Long:          "omas-vendor authenticates against the Omas identity provider and drives order fulfillments through their lifecycle.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			path := flags.ConfigPath
			if path == "" {
				path = config.GlobalPath()
			}

			cfg, err := config.LoadFile(path, config.FlagOverrides{
				APIURL:   flags.APIURL,
				VendorID: flags.VendorID,
				ClientID: flags.ClientID,
				StateDir: flags.StateDir,
			})
			if err != nil {
				return err
			}

			app := appctx.NewApp(cfg, flags)
			app.ConfigPath = path

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	cmd.PersistentFlags().SetInterspersed(true)

	// Config keys use underscores; accept them for flags too.
	cmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&flags.APIURL, "api-url", "", "Vendor API base URL")
	cmd.PersistentFlags().StringVar(&flags.VendorID, "vendor", "", "Vendor ID")
	cmd.PersistentFlags().StringVar(&flags.ClientID, "client-id", "", "OAuth client ID")
	cmd.PersistentFlags().StringVar(&flags.StateDir, "state-dir", "", "Directory for durable local state")
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for debug, -vv for trace)")

	cmd.AddCommand(commands.NewAuthCmd())
	cmd.AddCommand(commands.NewServeCmd())
	cmd.AddCommand(commands.NewInfoCmd())
	cmd.AddCommand(commands.NewAPICmd())
	cmd.AddCommand(commands.NewConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("omas-vendor", version.Version)
		},
	}
}

// Execute runs the root command and exits with the mapped code on error.
func Execute() {
	cmd := NewRootCmd()

	if err := cmd.Execute(); err != nil {
		apiErr := output.AsError(err)
		fmt.Fprintf(os.Stderr, "error: %s\n", apiErr.Error())
		os.Exit(apiErr.ExitCode())
	}
}
