package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omas-app/omas-vendor-go/internal/completion"
	"github.com/omas-app/omas-vendor-go/internal/config"
	"github.com/omas-app/omas-vendor-go/internal/output"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  "Read and write the omas-vendor configuration file.",
	}

	cmd.AddCommand(
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigListCmd(),
	)

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "get <key>",
		Short:             "Print one config value",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.ConfigKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			value, err := app.Config.Get(args[0])
			if err != nil {
				return output.ErrUsage(err.Error())
			}
			fmt.Println(value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "set <key> <value>",
		Short:             "Set a config value",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completion.ConfigKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			// Resolve defaults + file only, so env and flag overrides
			// from this invocation are not written to disk.
			cfg, err := config.FileOnly(app.ConfigPath)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return output.ErrUsage(err.Error())
			}
			if err := cfg.Save(app.ConfigPath); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			for _, key := range config.Keys() {
				value, err := app.Config.Get(key)
				if err != nil {
					continue
				}
				source := app.Config.Sources[key]
				if source == "" {
					source = string(config.SourceDefault)
				}
				fmt.Printf("%-17s %-45s (%s)\n", key, value, source)
			}
			return nil
		},
	}
}
