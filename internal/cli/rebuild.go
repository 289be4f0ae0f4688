package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRebuildCommand creates the "rebuild" command.
func NewRebuildCommand() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the bloom filter with an updated list",
		Long: `Download every hash prefix from the server and replace the local bloom
filter with one sized for the current blacklist. The previous filter is kept
if the download fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := flags.resolve(cmd, defaultClientName)
			if err != nil {
				return err
			}
			c, err := flags.openClient(cmd.Context(), cc, false)
			if err != nil {
				return err
			}

			if err := c.RebuildFilter(cmd.Context()); err != nil {
				c.Close(err)
				return serverError("failed to build bloom filter", err)
			}
			c.Close(nil)

			stats, _ := c.Filter()
			w := cmd.OutOrStdout()
			if IsJSONOutput() {
				return printJSON(w, stats)
			}
			_, err = fmt.Fprintf(w, "Rebuilding the bloom filter was successful!\n  path:    %s\n  entries: %d\n  bits:    %d\n  hashes:  %d\n",
				stats.Path, stats.Entries, stats.Bits, stats.HashCount)
			return err
		},
	}

	flags.register(cmd)
	return cmd
}
