package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/urlshield/internal/journal"
	"github.com/shinji-kodama/urlshield/internal/model"
)

// NewLogsCommand creates the "logs" command.
func NewLogsCommand() *cobra.Command {
	flags := &clientFlags{}
	var fromServer bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the latest session log or the server's activity log",
		Long: `Without --server, print the most recent session log of the client name
from the local data directory. With --server, print today's activity log
from the server.

Examples:
  urlshield logs --name alice
  urlshield logs --server`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := flags.resolve(cmd, defaultClientName)
			if err != nil {
				return err
			}

			if !fromServer {
				path, lines, err := journal.LatestSession(filepath.Join(cc.DataDir, "log"), cc.Name)
				if errors.Is(err, os.ErrNotExist) {
					return model.WrapCLIError(model.ExitInvalidInput,
						fmt.Sprintf("no session logs for client %q", cc.Name), err)
				}
				if err != nil {
					return err
				}
				return printLogLines(cmd.OutOrStdout(), path, lines)
			}

			c, err := flags.openClient(cmd.Context(), cc, false)
			if err != nil {
				return err
			}
			lines, err := c.ServerLogs(cmd.Context())
			c.Close(err)
			if err != nil {
				return serverError("failed to fetch server logs", err)
			}
			return printLogLines(cmd.OutOrStdout(), "server", lines)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&fromServer, "server", false, "Show the server's activity log for today")
	return cmd
}

func printLogLines(w io.Writer, source string, lines []string) error {
	if IsJSONOutput() {
		return printJSON(w, map[string]any{"source": source, "lines": lines})
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
