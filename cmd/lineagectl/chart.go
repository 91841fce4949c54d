package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lineage/api/internal/chart"
)

type graphFile struct {
	Nodes []chart.Node `json:"nodes"`
	Links []chart.Link `json:"links"`
}

func newChartCmd() *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "chart FILE",
		Short: "Lay out a lineage graph and print it as SVG",
		Long:  `FILE holds {"nodes": [{"id", "name"}], "links": [{"source", "target", "kind"}]}.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var graph graphFile
			if err := json.Unmarshal(raw, &graph); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			if len(graph.Nodes) == 0 {
				return fmt.Errorf("%s has no nodes", args[0])
			}
			if width < 320 {
				return fmt.Errorf("width must be at least 320")
			}
			res := chart.Layout(graph.Nodes, graph.Links, float64(width), chart.DefaultOptions())
			fmt.Fprintln(cmd.OutOrStdout(), chart.RenderSVG(res))
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 960, "chart width in pixels")
	return cmd
}
