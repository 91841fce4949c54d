package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lineage/api/internal/output"
	"lineage/api/internal/validity"
)

// formFile is the JSON accepted by validate.
type formFile struct {
	Entries       []validity.Entry `json:"entries"`
	SkipBishopIDs []string         `json:"skipBishopIds"`
}

func newValidateCmd(opts *globalOptions) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "validate FORM.json",
		Short: "Check a form's entries against their officiants",
		Long: `Resolve each entry's officiant through the API and report entries whose
status the officiant cannot confer. Exits 1 when any violation is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var form formFile
			if err := json.Unmarshal(raw, &form); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			engine := validity.NewEngine(validity.NewHTTPSource(opts.apiURL, opts.token))
			out := cmd.OutOrStdout()

			if fix {
				f := validity.Form{Entries: form.Entries}
				if reset := engine.RefreshFormRestrictions(ctx, &f); reset > 0 {
					for _, entry := range f.Entries {
						if entry.Note != "" {
							fmt.Fprintln(out, output.Subtle(entry.Note))
						}
					}
				}
				form.Entries = f.Entries
			}

			for i, entry := range form.Entries {
				fmt.Fprintln(out, output.FormatEntry(i, entry))
			}
			status := engine.ValidateFormStatus(ctx, form.Entries, form.SkipBishopIDs)
			if status.Valid {
				fmt.Fprintln(out, output.Success("%d entries ok", len(form.Entries)))
				return nil
			}
			for _, v := range status.Violations {
				fmt.Fprintln(out, output.FormatViolation(v))
			}
			return errViolations
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "reset disallowed values to the best allowed status before checking")
	return cmd
}
