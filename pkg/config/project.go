package config

import (
	"github.com/engramdb/engram/pkg/datanode"
	"github.com/engramdb/engram/pkg/frontend"
	"github.com/engramdb/engram/pkg/metastore"
	"github.com/engramdb/engram/pkg/procedure"
)

// StandaloneFlags carries the command-line overrides of the standalone
// subcommand. Zero values mean the flag was not given; boolean flags use
// pointers so absence and false stay distinguishable.
type StandaloneFlags struct {
	ConfigFile string

	HTTPAddr     string
	RPCAddr      string
	MySQLAddr    string
	PostgresAddr string
	OpenTSDBAddr string

	InfluxDBEnable *bool

	DataHome     string
	UserProvider string

	TLSMode     string
	TLSCertPath string
	TLSKeyPath  string

	LogLevel string
	LogDir   string
}

// ApplyFlags layers the command-line overrides onto the merged
// configuration, re-validates, and enforces the reserved-address guard.
// Flags are the highest-precedence layer.
func ApplyFlags(cfg *StandaloneConfig, f StandaloneFlags) error {
	if f.HTTPAddr != "" {
		cfg.HTTP.Addr = f.HTTPAddr
	}
	if f.RPCAddr != "" {
		cfg.GRPC.Addr = f.RPCAddr
	}
	if f.MySQLAddr != "" {
		cfg.MySQL.Addr = f.MySQLAddr
	}
	if f.PostgresAddr != "" {
		cfg.Postgres.Addr = f.PostgresAddr
	}
	if f.OpenTSDBAddr != "" {
		cfg.OpenTSDB.Addr = f.OpenTSDBAddr
	}
	if f.InfluxDBEnable != nil {
		cfg.InfluxDB.Enable = *f.InfluxDBEnable
	}
	if f.DataHome != "" {
		cfg.Storage.DataHome = f.DataHome
	}
	if f.UserProvider != "" {
		cfg.UserProvider = f.UserProvider
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.LogDir != "" {
		cfg.Logging.Dir = f.LogDir
	}

	// TLS flags apply to every wire listener that supports TLS, so the
	// MySQL and PostgreSQL surfaces always share one posture.
	if f.TLSMode != "" || f.TLSCertPath != "" || f.TLSKeyPath != "" {
		tls := frontend.NewTLSOption(f.TLSMode, f.TLSCertPath, f.TLSKeyPath)
		cfg.MySQL.TLS = tls
		cfg.Postgres.TLS = tls
	}

	if err := Validate(cfg); err != nil {
		return err
	}
	return checkReservedAddresses(cfg)
}

// checkReservedAddresses rejects frontend listen addresses that collide
// with the address reserved for the datanode RPC endpoint. The check runs
// on the fully merged configuration, whichever layer supplied the value.
func checkReservedAddresses(cfg *StandaloneConfig) error {
	if cfg.GRPC.Addr == datanode.DefaultRPCAddr {
		return &AddressConflictError{Addr: cfg.GRPC.Addr, Reserved: "datanode RPC"}
	}
	return nil
}

// FrontendOptions projects the frontend tier's slice of the configuration.
// The result is a copy; mutating it does not touch the source.
func (c *StandaloneConfig) FrontendOptions() frontend.Options {
	return frontend.Options{
		HTTP:         c.HTTP,
		GRPC:         c.GRPC,
		MySQL:        c.MySQL,
		Postgres:     c.Postgres,
		OpenTSDB:     c.OpenTSDB,
		InfluxDB:     c.InfluxDB,
		PromStore:    c.PromStore,
		UserProvider: c.UserProvider,
	}
}

// DatanodeOptions projects the storage tier's slice of the configuration.
// The datanode always runs as node 0 on its reserved RPC address in
// standalone mode. The engine list is deep-copied.
func (c *StandaloneConfig) DatanodeOptions() datanode.Options {
	opts := datanode.DefaultOptions()
	opts.WAL = c.WAL
	opts.Storage = c.Storage
	opts.RegionEngine = c.RegionEngine
	return opts.Clone()
}

// MixOptions bundles every projected option set for the boot sequence.
type MixOptions struct {
	DataHome string

	Frontend frontend.Options
	Datanode datanode.Options

	Metadata  metastore.Config
	Procedure procedure.Config

	Logging         LoggingConfig
	EnableTelemetry bool
}

// MixOptions projects the whole configuration at once.
func (c *StandaloneConfig) MixOptions() MixOptions {
	return MixOptions{
		DataHome:        c.Storage.DataHome,
		Frontend:        c.FrontendOptions(),
		Datanode:        c.DatanodeOptions(),
		Metadata:        c.MetadataStore,
		Procedure:       c.Procedure,
		Logging:         c.Logging,
		EnableTelemetry: c.EnableTelemetry,
	}
}
