package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/urlshield/internal/dataset"
	"github.com/shinji-kodama/urlshield/internal/model"
)

// NewSeedCommand creates the "seed" command.
func NewSeedCommand() *cobra.Command {
	var (
		dataDir string
		force   bool
		layout  storeFlags
	)

	cmd := &cobra.Command{
		Use:   "seed <dataset.csv>",
		Short: "Build a server data directory from a CSV dataset",
		Long: `Hash every URL in the first column of a CSV dataset (after the header row)
and write the server's partitioned store: full runs of --hashes-per-index
hashes become sorted index files, the remainder of each partition becomes
its write-ahead log.

The data directory must not already hold a blacklist unless --force is set.

Examples:
  urlshield seed malicious_phish.csv
  urlshield seed --data-dir /var/lib/urlshield --partitions 8 --force urls.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *appConfig
			if cmd.Flags().Changed("data-dir") {
				cfg.Server.DataDir = dataDir
			}
			layout.apply(cmd, &cfg.Store)
			if err := cfg.Validate(); err != nil {
				return err
			}

			report, err := dataset.Seed(cmd.Context(), args[0], cfg.Server.DataDir, dataset.Options{
				Partitions:     cfg.Store.Partitions,
				HashesPerIndex: cfg.Store.HashesPerIndex,
				Force:          force,
			})
			if errors.Is(err, dataset.ErrNotEmpty) {
				return model.WrapCLIError(model.ExitInvalidInput,
					fmt.Sprintf("%s already holds a blacklist (use --force to replace it)", cfg.Server.DataDir), err)
			}
			if err != nil {
				return model.WrapCLIError(model.ExitStoreError, "failed to seed blacklist store", err)
			}
			return printSeedReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Server data directory (default: server.data_dir from config)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing blacklist")
	layout.register(cmd)

	return cmd
}

// printSeedReport outputs the per-partition summary of a seed run.
//
//	PARTITION  ENTRIES  INDEX FILES  WAL ENTRIES
//	1          25391    2            5391
func printSeedReport(w io.Writer, r dataset.Report) error {
	if IsJSONOutput() {
		return printJSON(w, map[string]any{
			"rows":       r.Rows,
			"blank":      r.Blank,
			"duplicates": r.Duplicates,
			"entries":    r.Entries(),
			"partitions": r.Partitions,
		})
	}

	fmt.Fprintf(w, "Seeded %d hashes from %d rows (%d blank, %d duplicates)\n\n",
		r.Entries(), r.Rows, r.Blank, r.Duplicates)
	fmt.Fprintf(w, "%-10s %-10s %-12s %s\n", "PARTITION", "ENTRIES", "INDEX FILES", "WAL ENTRIES")
	for _, p := range r.Partitions {
		fmt.Fprintf(w, "%-10d %-10d %-12d %d\n", p.Number, p.Entries, p.IndexFiles, p.WALEntries)
	}
	return nil
}
