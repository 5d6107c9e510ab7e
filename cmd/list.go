package cmd

import (
	"fmt"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fictionarchiver/internal/archive"
)

// newListCmd creates the 'list' subcommand that prints an archive's entries.
func newListCmd() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "list ARCHIVE",
		Short: "Lists the chapters stored in an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := archive.List(args[0])
			if err != nil {
				return fmt.Errorf("list %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			if !long {
				for _, e := range entries {
					fmt.Fprintln(out, e.Name)
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			var total int64
			for _, e := range entries {
				total += e.Size
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", fs.FileMode(e.Mode).Perm(), e.Size, e.ModTime.UTC().Format("2006-01-02 15:04"), e.Name)
			}
			fmt.Fprintf(tw, "total\t%d\t\t%d chapters\n", total, len(entries))
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show mode, size and time")
	return cmd
}
