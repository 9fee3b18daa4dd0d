// Package completion provides dynamic shell completion for the CLI.
// Completions must stay fast, so they never load configuration files or
// touch the network; everything offered here is known statically.
package completion

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/omas-app/omas-vendor-go/internal/config"
)

// ConfigKeys completes the first argument of `config get` and
// `config set` with the known config keys.
func ConfigKeys() cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var out []cobra.Completion
		for _, key := range config.Keys() {
			if strings.HasPrefix(key, toComplete) {
				out = append(out, key)
			}
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	}
}

// APIPaths offers the common vendor API paths for the raw api command.
func APIPaths() cobra.CompletionFunc {
	paths := []string{
		"/v1/info",
		"/v1/vendors/",
	}
	return func(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var out []cobra.Completion
		for _, p := range paths {
			if strings.HasPrefix(p, toComplete) {
				out = append(out, p)
			}
		}
		return out, cobra.ShellCompDirectiveNoSpace | cobra.ShellCompDirectiveNoFileComp
	}
}
