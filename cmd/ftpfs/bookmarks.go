package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gonzalop/ftpfs"
)

func newBookmarkCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bookmark",
		Aliases: []string{"bm"},
		Short:   "Manage bookmarks",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add NAME LOCATION",
			Short: "Bookmark a location, password included",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				return a.commands.AddBookmark(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List bookmarks",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				bookmarks, err := a.commands.Bookmarks()
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				for _, bm := range bookmarks {
					fmt.Fprintf(tw, "%s\t%s\n", bm.Name, displayURL(bm.URL))
				}
				return tw.Flush()
			},
		},
		newBookmarkOpenCmd(a),
		&cobra.Command{
			Use:     "rm NAME",
			Aliases: []string{"remove"},
			Short:   "Remove a bookmark",
			Args:    cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return a.commands.RemoveBookmark(args[0])
			},
		},
	)
	return cmd
}

func newBookmarkOpenCmd(a *app) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "open NAME",
		Short: "List the location of a bookmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, err := a.commands.OpenBookmark(cmd.Context(), args[0])
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

// displayURL hides the password of a stored URL.
func displayURL(raw string) string {
	ref, err := ftpfs.Parse(raw)
	if err != nil {
		return raw
	}
	return ref.String()
}
