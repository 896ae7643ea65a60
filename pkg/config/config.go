// Package config resolves the layered standalone configuration: built-in
// defaults, then the configuration file, then ENGRAM_* environment
// variables, then command-line flags, each layer overriding the last. The
// merged result is projected into the per-tier option structs the boot
// sequence consumes.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/engramdb/engram/internal/bytesize"
	"github.com/engramdb/engram/pkg/datanode"
	"github.com/engramdb/engram/pkg/frontend"
	"github.com/engramdb/engram/pkg/metastore"
	"github.com/engramdb/engram/pkg/procedure"
)

// EnvPrefix is the environment variable prefix, e.g. ENGRAM_HTTP_ADDR.
const EnvPrefix = "ENGRAM"

// StandaloneConfig is the merged configuration of a standalone instance.
// Sections reuse the option types of the tier that consumes them; the
// projection methods hand each tier its slice of this struct.
type StandaloneConfig struct {
	// EnableTelemetry turns on trace export.
	// Default: true
	EnableTelemetry bool `mapstructure:"enable_telemetry" yaml:"enable_telemetry"`

	// DefaultTimezone applies to queries that carry no timezone.
	DefaultTimezone string `mapstructure:"default_timezone" yaml:"default_timezone,omitempty"`

	HTTP      frontend.HTTPOptions      `mapstructure:"http" yaml:"http"`
	GRPC      frontend.GRPCOptions      `mapstructure:"grpc" yaml:"grpc"`
	MySQL     frontend.MySQLOptions     `mapstructure:"mysql" yaml:"mysql"`
	Postgres  frontend.PostgresOptions  `mapstructure:"postgres" yaml:"postgres"`
	OpenTSDB  frontend.OpenTSDBOptions  `mapstructure:"opentsdb" yaml:"opentsdb"`
	InfluxDB  frontend.InfluxDBOptions  `mapstructure:"influxdb" yaml:"influxdb"`
	PromStore frontend.PromStoreOptions `mapstructure:"prom_store" yaml:"prom_store"`

	WAL     datanode.WALConfig     `mapstructure:"wal" yaml:"wal"`
	Storage datanode.StorageConfig `mapstructure:"storage" yaml:"storage"`

	MetadataStore metastore.Config `mapstructure:"metadata_store" yaml:"metadata_store"`
	Procedure     procedure.Config `mapstructure:"procedure" yaml:"procedure"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// UserProvider selects the authentication provider, e.g.
	// "static_user_provider:file=/etc/engram/users". Empty disables auth.
	UserProvider string `mapstructure:"user_provider" yaml:"user_provider,omitempty"`

	RegionEngine []datanode.RegionEngineConfig `mapstructure:"region_engine" yaml:"region_engine"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level emitted.
	// Default: info
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error" yaml:"level"`

	// Format is "text" or "json".
	// Default: text
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Dir, when set, additionally writes logs under this directory.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

// Load resolves defaults, the optional configuration file at path, and
// ENGRAM_* environment variables, in that precedence order (later wins).
// Flags are layered separately; see ApplyFlags.
func Load(path string) (*StandaloneConfig, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key gets its default registered so AutomaticEnv can override
	// keys that appear in no configuration file.
	registerDefaults(v, "", reflect.ValueOf(DefaultStandaloneConfig()))

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigLoad, path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigFormat, path, err)
		}
	}

	var cfg StandaloneConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFormat, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// registerDefaults walks the default configuration and registers one viper
// default per leaf key, using the mapstructure tags as the key path.
func registerDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("mapstructure")
		tag, _, _ = strings.Cut(tag, ",")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		field := val.Field(i)
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			registerDefaults(v, key, field)
			continue
		}
		v.SetDefault(key, field.Interface())
	}
}

// decodeHooks converts the human-readable forms used in files and
// environment variables into the typed fields.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		stringToScalarHook(),
	)
}

// byteSizeDecodeHook accepts "256MB"-style strings and raw numbers for
// bytesize.ByteSize fields.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// stringToScalarHook converts environment-variable strings into numeric and
// boolean fields. AutomaticEnv always yields strings.
func stringToScalarHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		s := reflect.ValueOf(data).String()
		switch to.Kind() {
		case reflect.Bool:
			return strconv.ParseBool(s)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return strconv.ParseInt(s, 10, 64)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return strconv.ParseUint(s, 10, 64)
		case reflect.Float32, reflect.Float64:
			return strconv.ParseFloat(s, 64)
		default:
			return data, nil
		}
	}
}

// Sanitize returns a copy safe for logging: credential material is masked.
func (c *StandaloneConfig) Sanitize() StandaloneConfig {
	out := *c
	out.RegionEngine = append([]datanode.RegionEngineConfig(nil), c.RegionEngine...)
	if out.Storage.Store.S3.SecretAccessKey != "" {
		out.Storage.Store.S3.SecretAccessKey = "******"
	}
	return out
}

// IsAddressConflict reports whether err is an AddressConflictError.
func IsAddressConflict(err error) bool {
	var conflict *AddressConflictError
	return errors.As(err, &conflict)
}
