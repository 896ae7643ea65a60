// Package datanode implements the storage tier: region engines, their
// object store, and the region server routing requests to them.
package datanode

import (
	"time"

	"github.com/engramdb/engram/internal/bytesize"
)

// DefaultRPCAddr is the datanode's reserved RPC listen address. In
// standalone mode the datanode does not open this listener, but the address
// stays reserved so the frontend cannot silently claim it.
const DefaultRPCAddr = "127.0.0.1:3001"

// Options configures the storage tier.
type Options struct {
	// NodeID identifies this datanode. Standalone mode always runs node 0.
	NodeID uint64 `mapstructure:"node_id" yaml:"node_id"`

	// RPCAddr is the datanode RPC address. Reserved even in standalone mode.
	RPCAddr string `mapstructure:"rpc_addr" validate:"required,hostname_port" yaml:"rpc_addr"`

	// RPCRuntimeSize is the number of RPC worker goroutines.
	// Default: 8
	RPCRuntimeSize int `mapstructure:"rpc_runtime_size" validate:"omitempty,min=1" yaml:"rpc_runtime_size"`

	WAL     WALConfig     `mapstructure:"wal" yaml:"wal"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// RegionEngine lists the engines this datanode runs.
	RegionEngine []RegionEngineConfig `mapstructure:"region_engine" yaml:"region_engine"`
}

// WALConfig is the write-ahead-log policy shared by region engines.
type WALConfig struct {
	// Dir overrides the WAL directory. Empty means <data_home>/wal.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`

	// FileSize caps one WAL segment.
	// Default: 256MB
	FileSize bytesize.ByteSize `mapstructure:"file_size" yaml:"file_size"`

	// PurgeThreshold is the total WAL size that triggers purging.
	// Default: 4GB
	PurgeThreshold bytesize.ByteSize `mapstructure:"purge_threshold" yaml:"purge_threshold"`

	// PurgeInterval is how often the purge check runs.
	// Default: 10m
	PurgeInterval time.Duration `mapstructure:"purge_interval" yaml:"purge_interval"`

	// ReadBatchSize is the number of entries fetched per replay read.
	// Default: 128
	ReadBatchSize int `mapstructure:"read_batch_size" validate:"omitempty,min=1" yaml:"read_batch_size"`

	// SyncWrite forces an fsync per WAL append.
	// Default: false
	SyncWrite bool `mapstructure:"sync_write" yaml:"sync_write"`
}

// StorageConfig locates user data and selects the object store backing it.
type StorageConfig struct {
	// DataHome is the root directory for all persistent state.
	// Default: /tmp/engram/
	DataHome string `mapstructure:"data_home" validate:"required" yaml:"data_home"`

	// Store selects the object store provider for region data.
	Store ObjectStoreConfig `mapstructure:"store" yaml:"store"`
}

// ObjectStoreConfig selects and configures the object store provider.
type ObjectStoreConfig struct {
	// Type is "file" (default) or "s3".
	Type string `mapstructure:"type" validate:"omitempty,oneof=file s3" yaml:"type"`

	// S3 applies when Type is "s3".
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3 object store provider.
type S3Config struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Root     string `mapstructure:"root" yaml:"root,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region   string `mapstructure:"region" yaml:"region,omitempty"`

	// Static credentials. Empty falls back to the ambient AWS credential
	// chain (env, shared config, instance profile).
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

// Object store provider names.
const (
	StoreTypeFile = "file"
	StoreTypeS3   = "s3"
)

// RegionEngineConfig configures one region engine.
type RegionEngineConfig struct {
	// Kind is "basin" (the default LSM engine) or "file".
	Kind string `mapstructure:"kind" validate:"required,oneof=basin file" yaml:"kind"`

	Basin *BasinEngineConfig `mapstructure:"basin,omitempty" yaml:"basin,omitempty"`
	File  *FileEngineConfig  `mapstructure:"file,omitempty" yaml:"file,omitempty"`
}

// Region engine kinds.
const (
	EngineBasin = "basin"
	EngineFile  = "file"
)

// BasinEngineConfig tunes the default LSM region engine.
type BasinEngineConfig struct {
	// NumWorkers is the number of region worker goroutines.
	// Default: 8
	NumWorkers int `mapstructure:"num_workers" validate:"omitempty,min=1" yaml:"num_workers"`

	// WorkerChannelSize is each worker's request queue depth.
	// Default: 128
	WorkerChannelSize int `mapstructure:"worker_channel_size" validate:"omitempty,min=1" yaml:"worker_channel_size"`

	// ManifestCheckpointDistance is the number of manifest deltas between
	// checkpoints. 0 disables checkpointing.
	// Default: 10
	ManifestCheckpointDistance uint64 `mapstructure:"manifest_checkpoint_distance" yaml:"manifest_checkpoint_distance"`

	// SSTWriteBufferSize is the write buffer used when flushing SSTs.
	// Default: 8MB
	SSTWriteBufferSize bytesize.ByteSize `mapstructure:"sst_write_buffer_size" yaml:"sst_write_buffer_size"`
}

// FileEngineConfig tunes the file region engine, which serves immutable
// file-backed tables.
type FileEngineConfig struct {
	// MaxOpenFiles caps concurrently open backing files.
	// Default: 256
	MaxOpenFiles int `mapstructure:"max_open_files" validate:"omitempty,min=1" yaml:"max_open_files"`
}

// DefaultOptions returns the documented storage-tier defaults.
func DefaultOptions() Options {
	return Options{
		NodeID:         0,
		RPCAddr:        DefaultRPCAddr,
		RPCRuntimeSize: 8,
		WAL:            DefaultWALConfig(),
		Storage:        DefaultStorageConfig(),
		RegionEngine:   DefaultRegionEngineConfig(),
	}
}

// DefaultWALConfig returns the documented WAL defaults.
func DefaultWALConfig() WALConfig {
	return WALConfig{
		FileSize:       256 * bytesize.MB,
		PurgeThreshold: 4 * bytesize.GB,
		PurgeInterval:  10 * time.Minute,
		ReadBatchSize:  128,
		SyncWrite:      false,
	}
}

// DefaultStorageConfig returns the documented storage defaults.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataHome: "/tmp/engram/",
		Store:    ObjectStoreConfig{Type: StoreTypeFile},
	}
}

// DefaultBasinEngineConfig returns the documented basin engine defaults.
func DefaultBasinEngineConfig() *BasinEngineConfig {
	return &BasinEngineConfig{
		NumWorkers:                 8,
		WorkerChannelSize:          128,
		ManifestCheckpointDistance: 10,
		SSTWriteBufferSize:         8 * bytesize.MB,
	}
}

// DefaultFileEngineConfig returns the documented file engine defaults.
func DefaultFileEngineConfig() *FileEngineConfig {
	return &FileEngineConfig{MaxOpenFiles: 256}
}

// DefaultRegionEngineConfig returns the default engine set: the basin
// engine plus the file engine.
func DefaultRegionEngineConfig() []RegionEngineConfig {
	return []RegionEngineConfig{
		{Kind: EngineBasin, Basin: DefaultBasinEngineConfig()},
		{Kind: EngineFile, File: DefaultFileEngineConfig()},
	}
}

// Clone returns a deep copy of the options; the region engine list and its
// pointer members are duplicated so the copy shares no backing state.
func (o Options) Clone() Options {
	out := o
	out.RegionEngine = make([]RegionEngineConfig, len(o.RegionEngine))
	for i, e := range o.RegionEngine {
		ec := e
		if e.Basin != nil {
			basin := *e.Basin
			ec.Basin = &basin
		}
		if e.File != nil {
			file := *e.File
			ec.File = &file
		}
		out.RegionEngine[i] = ec
	}
	return out
}
