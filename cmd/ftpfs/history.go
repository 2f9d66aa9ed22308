package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or reopen visited locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.commands.History()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for i, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i+1, e.URL, humanize.Time(e.Timestamp), e.Count)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newHistoryOpenCmd(a), &cobra.Command{
		Use:   "clear",
		Short: "Forget every visited location",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.commands.ClearHistory()
		},
	})
	return cmd
}

func newHistoryOpenCmd(a *app) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "open N|LOCATION",
		Short: "List a location from the history, by position or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			if n, err := strconv.Atoi(url); err == nil {
				entries, err := a.commands.History()
				if err != nil {
					return err
				}
				if n < 1 || n > len(entries) {
					return fmt.Errorf("no history entry %d", n)
				}
				url = entries[n-1].URL
			}
			listing, err := a.commands.OpenHistoryEntry(cmd.Context(), url)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), listing.Location)
			return printEntries(cmd.OutOrStdout(), listing.Entries, long, true)
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "long listing")
	return cmd
}
