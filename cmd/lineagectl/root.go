package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// errViolations makes the process exit non-zero without printing an error;
// the violations were already reported.
var errViolations = errors.New("status inheritance violations found")

type globalOptions struct {
	apiURL string
	token  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "lineagectl",
		Short:         "Operator tools for the lineage API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("LINEAGE_API_URL", "http://localhost:8787"), "lineage API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("LINEAGE_TOKEN"), "bearer token for the lineage API")

	root.AddCommand(
		newValidateCmd(opts),
		newRosterCmd(opts),
		newWikiCmd(),
		newChartCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
