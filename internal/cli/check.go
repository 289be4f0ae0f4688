package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// NewCheckCommand creates the "check" command.
func NewCheckCommand() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Check whether a URL is blacklisted",
		Long: `Check a URL against the blacklist.

The local bloom filter answers most checks without contacting the server.
Possible hits are confirmed by fetching every blacklisted hash that shares
the URL's 4-byte prefix.

Exit status is 0 for a safe URL, 10 for a blacklisted one and 3 when the
server could not be asked.

Examples:
  urlshield check http://example.com
  urlshield check --host shield.internal --port 8080 example.com
  urlshield check --json http://example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, flags, args[0])
		},
	}

	flags.register(cmd)
	return cmd
}

type checkResultJSON struct {
	URL     string        `json:"url"`
	Verdict model.Verdict `json:"verdict"`
}

func runCheck(cmd *cobra.Command, flags *clientFlags, rawURL string) error {
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

	verdict, err := c.CheckURL(cmd.Context(), rawURL)
	if err != nil {
		c.Close(err)
		return serverError("could not confirm the URL with the server", err)
	}
	c.Close(nil)

	if err := printCheckResult(cmd.OutOrStdout(), rawURL, verdict); err != nil {
		return err
	}
	if verdict == model.VerdictMalicious {
		return &model.CLIError{Code: model.ExitMalicious}
	}
	return nil
}

func printCheckResult(w io.Writer, rawURL string, verdict model.Verdict) error {
	if IsJSONOutput() {
		return printJSON(w, checkResultJSON{URL: rawURL, Verdict: verdict})
	}
	_, err := fmt.Fprintf(w, "%s\n  %s\n", rawURL, verdictMessage(verdict))
	return err
}

// verdictMessage is the human-readable consensus line for a verdict.
func verdictMessage(v model.Verdict) string {
	switch v {
	case model.VerdictSafe:
		return "The URL is safe!"
	case model.VerdictMalicious:
		return "The URL is a blacklisted site, not safe"
	default:
		return "The program cannot process your request at this time. Sorry!"
	}
}
