package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/urlshield/internal/client"
	"github.com/shinji-kodama/urlshield/internal/config"
	"github.com/shinji-kodama/urlshield/internal/model"
)

// defaultClientName names sessions of the one-shot client commands when
// neither --name nor the configuration sets one.
const defaultClientName = "cli"

// clientFlags are the flags shared by every command that talks to the
// server as a client.
type clientFlags struct {
	name    string
	host    string
	port    int
	dataDir string

	// httpClient overrides the HTTP client in tests.
	httpClient *http.Client
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Client name used in session and server logs")
	cmd.Flags().StringVar(&f.host, "host", "", "Server host (default: client.host from config, localhost)")
	cmd.Flags().IntVar(&f.port, "port", 0, "Server port (default: client.port from config, 8000)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "Client data directory (default: client.data_dir from config)")
}

// resolve overlays explicitly set flags on the loaded configuration,
// validates it and returns the client section. An empty name is replaced
// by fallbackName unless fallbackName is empty too.
func (f *clientFlags) resolve(cmd *cobra.Command, fallbackName string) (config.ClientConfig, error) {
	cfg := *appConfig
	cc := &cfg.Client

	if cmd.Flags().Changed("name") {
		cc.Name = f.name
	}
	if cmd.Flags().Changed("host") {
		cc.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		cc.Port = f.port
	}
	if cmd.Flags().Changed("data-dir") {
		cc.DataDir = f.dataDir
	}
	if cc.Name == "" {
		cc.Name = fallbackName
	}

	if err := cfg.Validate(); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg.Client, nil
}

// serverURL returns the base URL of the server cc points at.
func serverURL(cc config.ClientConfig) string {
	return "http://" + net.JoinHostPort(cc.Host, strconv.Itoa(cc.Port))
}

// openClient starts a client session for cc.
func (f *clientFlags) openClient(ctx context.Context, cc config.ClientConfig, autoRebuild bool) (*client.Client, error) {
	c, err := client.New(ctx, client.Config{
		Name:              cc.Name,
		BaseURL:           serverURL(cc),
		DataDir:           cc.DataDir,
		FalsePositiveRate: cc.FalsePositiveRate,
		HTTPClient:        f.httpClient,
		NoAutoRebuild:     !autoRebuild,
	})
	if err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			return nil, err
		}
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to start client session", err)
	}
	VerboseLog("Session %q started against %s", c.Name(), c.API().BaseURL())
	return c, nil
}

// serverError wraps a failed server round trip for Execute.
func serverError(message string, err error) error {
	return model.WrapCLIError(ExitCodeOf(err), message, err)
}
