package frontend

import (
	"time"

	"github.com/engramdb/engram/internal/bytesize"
)

// Options configures every client-facing surface of the frontend tier.
// In standalone mode it is projected out of the merged standalone
// configuration; the frontend never reads configuration sources itself.
type Options struct {
	HTTP      HTTPOptions      `mapstructure:"http" yaml:"http"`
	GRPC      GRPCOptions      `mapstructure:"grpc" yaml:"grpc"`
	MySQL     MySQLOptions     `mapstructure:"mysql" yaml:"mysql"`
	Postgres  PostgresOptions  `mapstructure:"postgres" yaml:"postgres"`
	OpenTSDB  OpenTSDBOptions  `mapstructure:"opentsdb" yaml:"opentsdb"`
	InfluxDB  InfluxDBOptions  `mapstructure:"influxdb" yaml:"influxdb"`
	PromStore PromStoreOptions `mapstructure:"prom_store" yaml:"prom_store"`

	// UserProvider selects the authentication provider, e.g.
	// "static_user_provider:file=/etc/engram/users". Empty disables auth.
	UserProvider string `mapstructure:"user_provider" yaml:"user_provider,omitempty"`
}

// HTTPOptions configures the HTTP API listener.
type HTTPOptions struct {
	// Addr is the listen address.
	// Default: 127.0.0.1:4000
	Addr string `mapstructure:"addr" validate:"required,hostname_port" yaml:"addr"`

	// Timeout bounds a single request end to end.
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// BodyLimit caps the accepted request body.
	// Default: 64MB
	BodyLimit bytesize.ByteSize `mapstructure:"body_limit" yaml:"body_limit"`
}

// GRPCOptions configures the gRPC listener.
type GRPCOptions struct {
	// Addr is the listen address.
	// Default: 127.0.0.1:4001
	Addr string `mapstructure:"addr" validate:"required,hostname_port" yaml:"addr"`

	// RuntimeSize is the number of worker goroutines serving requests.
	// Default: 8
	RuntimeSize int `mapstructure:"runtime_size" validate:"omitempty,min=1" yaml:"runtime_size"`
}

// MySQLOptions configures the MySQL wire-protocol listener.
type MySQLOptions struct {
	// Enable controls whether the listener is wired at all.
	// Default: true
	Enable bool `mapstructure:"enable" yaml:"enable"`

	// Addr is the listen address.
	// Default: 127.0.0.1:4002
	Addr string `mapstructure:"addr" validate:"required,hostname_port" yaml:"addr"`

	// RuntimeSize is the number of worker goroutines serving connections.
	// Default: 2
	RuntimeSize int `mapstructure:"runtime_size" validate:"omitempty,min=1" yaml:"runtime_size"`

	// TLS is the listener's TLS posture.
	TLS TLSOption `mapstructure:"tls" yaml:"tls"`
}

// PostgresOptions configures the PostgreSQL wire-protocol listener.
type PostgresOptions struct {
	// Enable controls whether the listener is wired at all.
	// Default: true
	Enable bool `mapstructure:"enable" yaml:"enable"`

	// Addr is the listen address.
	// Default: 127.0.0.1:4003
	Addr string `mapstructure:"addr" validate:"required,hostname_port" yaml:"addr"`

	// RuntimeSize is the number of worker goroutines serving connections.
	// Default: 2
	RuntimeSize int `mapstructure:"runtime_size" validate:"omitempty,min=1" yaml:"runtime_size"`

	// TLS is the listener's TLS posture.
	TLS TLSOption `mapstructure:"tls" yaml:"tls"`
}

// OpenTSDBOptions configures the OpenTSDB telnet-style ingestion listener.
type OpenTSDBOptions struct {
	// Enable controls whether the listener is wired at all.
	// Default: true
	Enable bool `mapstructure:"enable" yaml:"enable"`

	// Addr is the listen address.
	// Default: 127.0.0.1:4242
	Addr string `mapstructure:"addr" validate:"required,hostname_port" yaml:"addr"`

	// RuntimeSize is the number of worker goroutines serving connections.
	// Default: 2
	RuntimeSize int `mapstructure:"runtime_size" validate:"omitempty,min=1" yaml:"runtime_size"`
}

// InfluxDBOptions configures the InfluxDB line-protocol ingestion endpoint,
// served on the HTTP listener. Off by default; nothing else depends on it.
type InfluxDBOptions struct {
	Enable bool `mapstructure:"enable" yaml:"enable"`
}

// PromStoreOptions configures the Prometheus remote-write endpoint, served
// on the HTTP listener.
type PromStoreOptions struct {
	// Default: true
	Enable bool `mapstructure:"enable" yaml:"enable"`
}

// DefaultOptions returns the documented frontend defaults.
func DefaultOptions() Options {
	return Options{
		HTTP:      DefaultHTTPOptions(),
		GRPC:      DefaultGRPCOptions(),
		MySQL:     DefaultMySQLOptions(),
		Postgres:  DefaultPostgresOptions(),
		OpenTSDB:  DefaultOpenTSDBOptions(),
		InfluxDB:  InfluxDBOptions{Enable: false},
		PromStore: PromStoreOptions{Enable: true},
	}
}

func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Addr:      "127.0.0.1:4000",
		Timeout:   30 * time.Second,
		BodyLimit: 64 * bytesize.MB,
	}
}

func DefaultGRPCOptions() GRPCOptions {
	return GRPCOptions{
		Addr:        "127.0.0.1:4001",
		RuntimeSize: 8,
	}
}

func DefaultMySQLOptions() MySQLOptions {
	return MySQLOptions{
		Enable:      true,
		Addr:        "127.0.0.1:4002",
		RuntimeSize: 2,
		TLS:         DefaultTLSOption(),
	}
}

func DefaultPostgresOptions() PostgresOptions {
	return PostgresOptions{
		Enable:      true,
		Addr:        "127.0.0.1:4003",
		RuntimeSize: 2,
		TLS:         DefaultTLSOption(),
	}
}

func DefaultOpenTSDBOptions() OpenTSDBOptions {
	return OpenTSDBOptions{
		Enable:      true,
		Addr:        "127.0.0.1:4242",
		RuntimeSize: 2,
	}
}
