package commands

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/omas-app/omas-vendor-go/internal/completion"
	"github.com/omas-app/omas-vendor-go/internal/output"
)

// NewAPICmd creates the api command for raw API access.
func NewAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Raw API access",
		Long:  "Make raw requests to any vendor API endpoint. Useful for operations not covered by dedicated commands.",
	}

	cmd.AddCommand(
		newAPIGetCmd(),
		newAPIPostCmd(),
	)

	return cmd
}

func newAPIGetCmd() *cobra.Command {
	var jqExpr string

	cmd := &cobra.Command{
		Use:               "get <path>",
		Short:             "GET request to the API",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.APIPaths(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRaw(cmd, "GET", args[0], "", jqExpr)
		},
	}

	cmd.Flags().StringVar(&jqExpr, "jq", "", "Filter the response with a jq expression")

	return cmd
}

func newAPIPostCmd() *cobra.Command {
	var data string
	var jqExpr string

	cmd := &cobra.Command{
		Use:               "post <path>",
		Short:             "POST request to the API",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.APIPaths(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if data == "" {
				return output.ErrUsage("--data is required")
			}
			return runRaw(cmd, "POST", args[0], data, jqExpr)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body (required)")
	cmd.Flags().StringVar(&jqExpr, "jq", "", "Filter the response with a jq expression")

	return cmd
}

func runRaw(cmd *cobra.Command, method, path, data, jqExpr string) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}

	var body any
	if data != "" {
		if err := json.Unmarshal([]byte(data), &body); err != nil {
			return output.ErrUsageHint("Invalid JSON data", fmt.Sprintf("JSON parse error: %v", err))
		}
	}

	resp, err := app.API.Raw(cmd.Context(), method, path, body)
	if err != nil {
		return err
	}

	if jqExpr != "" {
		return printFiltered(resp.Data, jqExpr)
	}

	var pretty json.RawMessage = resp.Data
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		// Not JSON; print as-is.
		fmt.Println(string(resp.Data))
		return nil
	}
	fmt.Println(string(out))
	return nil
}

func printFiltered(data []byte, jqExpr string) error {
	query, err := gojq.Parse(jqExpr)
	if err != nil {
		return output.ErrUsageHint("Invalid jq expression", err.Error())
	}

	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}

	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}
