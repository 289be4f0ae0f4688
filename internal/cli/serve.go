package cli

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/urlshield/internal/config"
	"github.com/shinji-kodama/urlshield/internal/journal"
	"github.com/shinji-kodama/urlshield/internal/model"
	"github.com/shinji-kodama/urlshield/internal/port"
	"github.com/shinji-kodama/urlshield/internal/server"
	"github.com/shinji-kodama/urlshield/internal/store"
)

// serveFlags holds the flag values for the serve command.
type serveFlags struct {
	host    string
	port    int
	dataDir string
	store   storeFlags
}

// storeFlags are the store layout flags shared by serve and seed.
type storeFlags struct {
	partitions     int
	hashesPerIndex int
	syncWAL        bool
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.partitions, "partitions", 0, "Number of key-range partitions (default: store.partitions from config, 4)")
	cmd.Flags().IntVar(&f.hashesPerIndex, "hashes-per-index", 0, "Memtable size that triggers a flush to an index file")
}

func (f *storeFlags) apply(cmd *cobra.Command, sc *config.StoreConfig) {
	if cmd.Flags().Changed("partitions") {
		sc.Partitions = f.partitions
	}
	if cmd.Flags().Changed("hashes-per-index") {
		sc.HashesPerIndex = f.hashesPerIndex
	}
	if cmd.Flags().Changed("sync-wal") {
		sc.SyncWAL = f.syncWAL
	}
}

// NewServeCommand creates the "serve" command.
func NewServeCommand() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the blacklist server",
		Long: `Open the partitioned blacklist store and serve it over HTTP until
interrupted.

The port is checked before the store is opened; a port in use exits with
status 4. --port 0 picks the first free port from 8000 upward.

Examples:
  urlshield serve
  urlshield serve --port 8080 --data-dir /var/lib/urlshield
  urlshield serve --port 0 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.host, "host", "", "Listen address (default: server.host from config, 0.0.0.0)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "Listen port, 0 for the first free port from 8000 (default: server.port from config, 8000)")
	cmd.Flags().StringVar(&flags.dataDir, "data-dir", "", "Server data directory (default: server.data_dir from config)")
	flags.store.register(cmd)
	cmd.Flags().BoolVar(&flags.store.syncWAL, "sync-wal", false, "Fsync the write-ahead log after every submission")

	return cmd
}

// runServe resolves the listen address, opens the store and the activity
// log, and serves until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, flags *serveFlags) error {
	cfg := *appConfig
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = flags.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flags.port
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Server.DataDir = flags.dataDir
	}
	flags.store.apply(cmd, &cfg.Store)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Step 1: Make sure the port is free before touching the data directory.
	listenPort, err := port.NewScanner(cfg.Server.Host).ResolveServePort(cfg.Server.Port)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(listenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return model.WrapCLIError(model.ExitPortUnavailable, fmt.Sprintf("failed to listen on %s", addr), err)
	}

	// Step 2: Open the store. Its flush hook feeds the server's metrics.
	metrics := server.NewMetrics()
	st, err := store.Open(cfg.Server.DataDir, store.Options{
		Partitions:     cfg.Store.Partitions,
		HashesPerIndex: cfg.Store.HashesPerIndex,
		SyncWAL:        cfg.Store.SyncWAL,
		OnFlush:        metrics.RecordFlush,
	})
	if err != nil {
		_ = ln.Close()
		return model.WrapCLIError(model.ExitStoreError, "failed to open blacklist store", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close blacklist store", "error", err)
		}
	}()
	md := st.Metadata()
	VerboseLog("Store opened at %s with %d entries in %d partitions", cfg.Server.DataDir, md.Entries, md.Partitions)

	// Step 3: Start today's activity log.
	activity, err := journal.OpenDaily(journal.ActivityDir(cfg.Server.DataDir), nil)
	if err != nil {
		_ = ln.Close()
		return model.WrapCLIError(model.ExitStoreError, "failed to open activity log", err)
	}

	srv := server.New(st, activity, server.Options{Addr: addr, Metrics: metrics})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := printServeBanner(cmd, ln.Addr().String(), cfg.Server.DataDir, md); err != nil {
		return err
	}

	if err := srv.Serve(ctx, ln); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "server stopped with an error", err)
	}
	return nil
}

func printServeBanner(cmd *cobra.Command, addr, dataDir string, md model.Metadata) error {
	w := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(w, map[string]any{
			"address":    addr,
			"data_dir":   dataDir,
			"entries":    md.Entries,
			"partitions": md.Partitions,
		})
	}
	_, err := fmt.Fprintf(w, "Serving %d blacklisted hashes from %s on http://%s\n", md.Entries, dataDir, addr)
	return err
}
