package config

import (
	"github.com/engramdb/engram/pkg/datanode"
	"github.com/engramdb/engram/pkg/frontend"
	"github.com/engramdb/engram/pkg/metastore"
	"github.com/engramdb/engram/pkg/procedure"
)

// DefaultStandaloneConfig returns the full default configuration. Every
// resolvable key has a value here; the loader registers them so environment
// overrides work without a configuration file.
func DefaultStandaloneConfig() StandaloneConfig {
	return StandaloneConfig{
		EnableTelemetry: true,

		HTTP:      frontend.DefaultHTTPOptions(),
		GRPC:      frontend.DefaultGRPCOptions(),
		MySQL:     frontend.DefaultMySQLOptions(),
		Postgres:  frontend.DefaultPostgresOptions(),
		OpenTSDB:  frontend.DefaultOpenTSDBOptions(),
		InfluxDB:  frontend.InfluxDBOptions{Enable: false},
		PromStore: frontend.PromStoreOptions{Enable: true},

		WAL:     datanode.DefaultWALConfig(),
		Storage: datanode.DefaultStorageConfig(),

		MetadataStore: metastore.DefaultConfig(),
		Procedure:     procedure.DefaultConfig(),

		Logging: DefaultLoggingConfig(),

		RegionEngine: datanode.DefaultRegionEngineConfig(),
	}
}

// DefaultLoggingConfig returns the documented logging defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
	}
}
