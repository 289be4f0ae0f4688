package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/urlshield/internal/client"
	"github.com/shinji-kodama/urlshield/internal/model"
)

// NewSubmitCommand creates the "submit" command.
func NewSubmitCommand() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a malicious URL for blacklisting",
		Long: `Submit a URL to the server's blacklist and add its prefix to the
local bloom filter.

Submitting a URL that is already blacklisted is not an error: the command
reports it and exits 0.

Examples:
  urlshield submit http://phishing.example
  urlshield submit --name analyst-7 --json http://phishing.example`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, flags, args[0])
		},
	}

	flags.register(cmd)
	return cmd
}

func runSubmit(cmd *cobra.Command, flags *clientFlags, rawURL string) error {
	if err := model.ValidateURL(rawURL); err != nil {
		return model.WrapCLIError(model.ExitInvalidInput, "invalid URL", err)
	}

	cc, err := flags.resolve(cmd, defaultClientName)
	if err != nil {
		return err
	}
	c, err := flags.openClient(cmd.Context(), cc, true)
	if err != nil {
		return err
	}

	status, message := "listed", "Your request to blacklist a URL was successful!"
	err = c.BlacklistURL(cmd.Context(), rawURL)
	switch {
	case errors.Is(err, client.ErrAlreadyListed):
		status, message = "already_listed", "The URL is already blacklisted"
	case err != nil:
		c.Close(err)
		return serverError("your request to blacklist a URL failed", err)
	}
	c.Close(nil)

	w := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(w, map[string]string{"url": rawURL, "status": status})
	}
	_, err = fmt.Fprintln(w, message)
	return err
}
