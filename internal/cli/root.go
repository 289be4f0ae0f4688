// Package cli implements the cobra-based CLI commands for urlshield.
//
// Each subcommand lives in its own file. This file defines the root command,
// the global flags, configuration loading and the error-to-exit-code
// mapping shared by every subcommand.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/urlshield/internal/client"
	"github.com/shinji-kodama/urlshield/internal/config"
	"github.com/shinji-kodama/urlshield/internal/model"
)

// Global flag variables shared across all subcommands. They are bound to
// persistent flags on the root command.
var (
	// jsonOutput switches command output (and error output) to JSON.
	jsonOutput bool

	// verbose lowers the log level to debug.
	verbose bool

	// configPath is an optional YAML or JSON(C) configuration file.
	configPath string

	// appConfig is loaded by the root command's PersistentPreRunE before
	// any subcommand runs. Subcommands overlay their own flags on it.
	appConfig *config.Config
)

// Version, Commit and Date are injected from the main package.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates the root cobra command with every subcommand
// registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "urlshield",
		Short: "Partitioned URL blacklist server and bloom-filter client",
		Long: `urlshield keeps a blacklist of malicious URLs as SHA-256 hashes in a
partitioned store and serves it over HTTP. Clients keep a bloom filter of
hash prefixes so most safety checks never leave the machine.

Run "urlshield serve" for the server, "urlshield shell" for the interactive
client, or use check/submit/rebuild/logs from scripts.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return model.WrapCLIError(model.ExitInvalidInput, "failed to load configuration", err)
			}
			if err := setupLogging(cfg.Log, cmd.ErrOrStderr()); err != nil {
				return err
			}
			appConfig = cfg
			VerboseLog("Configuration loaded (file: %q)", configPath)
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (.yaml, .yml, .json or .jsonc)")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewSeedCommand())
	rootCmd.AddCommand(NewCheckCommand())
	rootCmd.AddCommand(NewSubmitCommand())
	rootCmd.AddCommand(NewRebuildCommand())
	rootCmd.AddCommand(NewLogsCommand())
	rootCmd.AddCommand(NewShellCommand())
	rootCmd.AddCommand(NewImageCommand())

	return rootCmd
}

// setupLogging installs the default slog logger on w. --verbose forces the
// debug level regardless of the configured one.
func setupLogging(lc config.LogConfig, w io.Writer) error {
	level, err := config.ParseLevel(lc.Level)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidInput, "invalid log level", err)
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// Execute runs the root command and exits with the code derived from its
// error.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			// A CLIError without a message is an exit status only; the
			// command has already reported its result.
			if cliErr.Message != "" {
				printError(cliErr.Message, cliErr.Err)
			}
			os.Exit(int(cliErr.Code))
		}

		printError(err.Error(), nil)
		os.Exit(int(ExitCodeOf(err)))
	}
}

// ExitCodeOf maps an error returned by a command to a process exit code.
// CLIErrors carry their own code; client transport and API failures map to
// ExitServerUnreachable; anything else is ExitGeneralError.
func ExitCodeOf(err error) model.ExitCode {
	if err == nil {
		return model.ExitSuccess
	}
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	var apiErr *client.APIError
	if errors.Is(err, client.ErrUnreachable) || errors.As(err, &apiErr) {
		return model.ExitServerUnreachable
	}
	return model.ExitGeneralError
}

// printError outputs an error message on stderr in the format selected by
// the --json flag.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	}
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// VerboseLog emits a debug-level diagnostic. It is visible with --verbose
// or log.level=debug.
func VerboseLog(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...))
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}
