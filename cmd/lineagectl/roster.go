package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lineage/api/internal/output"
)

type rosterResponse struct {
	Clergy []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Rank    string `json:"rank"`
		Warning bool   `json:"warning"`
	} `json:"clergy"`
	Flagged int `json:"flagged"`
}

func newRosterCmd(opts *globalOptions) *cobra.Command {
	var skip []string
	var warningsOnly bool
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "List clergy with status inheritance warnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := strings.TrimRight(opts.apiURL, "/") + "/api/clergy"
			if len(skip) > 0 {
				endpoint += "?skip=" + url.QueryEscape(strings.Join(skip, ","))
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Accept", "application/json")
			if opts.token != "" {
				req.Header.Set("Authorization", "Bearer "+opts.token)
			}
			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("fetch roster: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return fmt.Errorf("fetch roster: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			var roster rosterResponse
			if err := json.NewDecoder(resp.Body).Decode(&roster); err != nil {
				return fmt.Errorf("decode roster: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, item := range roster.Clergy {
				if warningsOnly && !item.Warning {
					continue
				}
				line := output.Title(item.Name) + " " + output.Subtle(item.ID)
				if item.Rank != "" {
					line += " " + item.Rank
				}
				if item.Warning {
					line += " " + output.WarningBadge()
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "%d of %d flagged\n", roster.Flagged, len(roster.Clergy))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "bishop ids to leave unchecked")
	cmd.Flags().BoolVar(&warningsOnly, "warnings", false, "only list flagged clergy")
	return cmd
}
