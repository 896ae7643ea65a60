package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/internal/crashhook"
	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/internal/telemetry"
	"github.com/engramdb/engram/pkg/config"
	"github.com/engramdb/engram/pkg/metastore"
	"github.com/engramdb/engram/pkg/plugins"
	"github.com/engramdb/engram/pkg/standalone"
)

const shutdownTimeout = 30 * time.Second

func newStandaloneCommand() *cobra.Command {
	var (
		flags         config.StandaloneFlags
		influxEnable  bool
		memoryCatalog bool
	)

	cmd := &cobra.Command{
		Use:   "standalone",
		Short: "Run every tier in a single process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.ConfigFile)
			if err != nil {
				return err
			}
			if memoryCatalog {
				cfg.MetadataStore.Backend = metastore.BackendMemory
			}
			if cmd.Flags().Changed("influxdb-enable") {
				flags.InfluxDBEnable = &influxEnable
			}
			if err := config.ApplyFlags(cfg, flags); err != nil {
				return err
			}
			return runStandalone(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.ConfigFile, "config", "c", "", "path to the configuration file")
	f.StringVar(&flags.HTTPAddr, "http-addr", "", "HTTP listen address")
	f.StringVar(&flags.RPCAddr, "rpc-addr", "", "gRPC listen address")
	f.StringVar(&flags.MySQLAddr, "mysql-addr", "", "MySQL listen address")
	f.StringVar(&flags.PostgresAddr, "postgres-addr", "", "PostgreSQL listen address")
	f.StringVar(&flags.OpenTSDBAddr, "opentsdb-addr", "", "OpenTSDB listen address")
	f.BoolVar(&influxEnable, "influxdb-enable", false, "enable the InfluxDB line-protocol endpoint")
	f.StringVar(&flags.DataHome, "data-home", "", "root directory for persistent state")
	f.StringVar(&flags.UserProvider, "user-provider", "", "authentication provider, e.g. static_user_provider:file=<path>")
	f.StringVar(&flags.TLSMode, "tls-mode", "", "TLS mode for the wire listeners (disable, prefer, require)")
	f.StringVar(&flags.TLSCertPath, "tls-cert-path", "", "TLS certificate for the wire listeners")
	f.StringVar(&flags.TLSKeyPath, "tls-key-path", "", "TLS private key for the wire listeners")
	f.StringVar(&flags.LogLevel, "log-level", "", "minimum log level (debug, info, warn, error)")
	f.StringVar(&flags.LogDir, "log-dir", "", "directory to additionally write logs to")
	f.BoolVarP(&memoryCatalog, "memory-catalog", "m", false, "keep metadata in memory instead of the durable store")

	return cmd
}

func runStandalone(ctx context.Context, cfg *config.StandaloneConfig) error {
	if err := initLogging(cfg.Logging); err != nil {
		return err
	}
	crashhook.Install()
	defer crashhook.Recover()

	stopTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled: cfg.EnableTelemetry,
		Version: Version,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting standalone instance",
		"version", Version,
		"data_home", cfg.Storage.DataHome,
		"metadata_backend", cfg.MetadataStore.Backend)

	orch := standalone.New(cfg.MixOptions(), plugins.New())
	if err := orch.Run(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return stopTelemetry(shutdownCtx)
}

func initLogging(cfg config.LoggingConfig) error {
	output := ""
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return err
		}
		output = filepath.Join(cfg.Dir, "engram.log")
	}
	return logger.Init(logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: output,
	})
}
