package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lineage/api/internal/output"
	"lineage/api/internal/wiki"
)

func newWikiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wiki",
		Short: "Work with wiki pages",
	}

	var asHTML bool
	var pages []string
	var width int
	render := &cobra.Command{
		Use:   "render FILE",
		Short: "Render a wiki page as HTML or for the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			opts := wiki.Options{Pages: wiki.NewPageSet(pages...)}
			out := cmd.OutOrStdout()
			if asHTML {
				fmt.Fprintln(out, wiki.Render(string(raw), opts))
				return nil
			}
			if width <= 0 {
				width = output.TerminalWidth(80)
			}
			rendered, err := output.RenderMarkdown(wiki.Markdown(string(raw), opts), width)
			if err != nil {
				return fmt.Errorf("render markdown: %w", err)
			}
			fmt.Fprintln(out, rendered)
			return nil
		},
	}
	render.Flags().BoolVar(&asHTML, "html", false, "print the HTML the API serves")
	render.Flags().StringSliceVar(&pages, "pages", nil, "page titles that exist, for link styling")
	render.Flags().IntVar(&width, "width", 0, "wrap width for terminal output")

	cmd.AddCommand(render)
	return cmd
}
