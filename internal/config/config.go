package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Config represents the complete application configuration
type Config struct {
	Device        DeviceConfig        `yaml:"device"`
	Folders       []FolderConfig      `yaml:"folders"`
	Direct        DirectConfig        `yaml:"direct"`
	Classic       ClassicConfig       `yaml:"classic"`
	Sync          SyncConfig          `yaml:"sync"`
	Compression   CompressionConfig   `yaml:"compression"`
	Security      SecurityConfig      `yaml:"security"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DeviceConfig identifies this device to peers
type DeviceConfig struct {
	Name    string `yaml:"name"`
	DataDir string `yaml:"data_dir"` // sqlite database and install seed
}

// FolderConfig is one shared folder
type FolderConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// DirectConfig contains settings for the group-forming direct link
type DirectConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Port             int           `yaml:"port"`
	ListenHost       string        `yaml:"listen_host"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"` // inactivity
	DiscoveryRetries int           `yaml:"discovery_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	MDNSService      string        `yaml:"mdns_service"`
	MDNSDomain       string        `yaml:"mdns_domain"`
}

// ClassicConfig contains settings for the classic paired link
type ClassicConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ScanDuration   time.Duration `yaml:"scan_duration"`
	ServiceUUID    string        `yaml:"service_uuid"`
	DiscoveryPort  int           `yaml:"discovery_port"`
	BroadcastAddr  string        `yaml:"broadcast_addr"`
	QUICPort       int           `yaml:"quic_port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// SyncConfig contains synchronization settings
type SyncConfig struct {
	ChunkSize                int           `yaml:"chunk_size"`
	PresenceMismatchConflict bool          `yaml:"presence_mismatch_conflict"`
	VerifyHash               bool          `yaml:"verify_hash"`
	MaxBandwidth             int64         `yaml:"max_bandwidth"` // bytes/sec, 0 is unlimited
	AcceptDir                string        `yaml:"accept_dir"`    // base dir for auto-mapping unknown folders
	WatchDebounce            time.Duration `yaml:"watch_debounce"`
}

// CompressionConfig contains frame compression settings
type CompressionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Algorithm string `yaml:"algorithm"`
	Level     int    `yaml:"level"`
	Threshold int    `yaml:"threshold"` // frame bodies at least this large are compressed
}

// SecurityConfig contains link security settings
type SecurityConfig struct {
	EncryptDirect bool `yaml:"encrypt_direct"`
	// PreSharedKey, when set on both peers, is mixed into the link keys so
	// only devices sharing it can complete the handshake.
	PreSharedKey string `yaml:"pre_shared_key"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	OTELendpoint   string `yaml:"otel_endpoint"`
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	StatusAddr     string `yaml:"status_addr"` // empty disables the status server
}

// DefaultServiceUUID is the fixed service id of the classic link
const DefaultServiceUUID = "fa87c0d0-afac-11de-8a39-0800200c9a66"

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "syncshare"
	}
	dataDir := ".syncshare"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".syncshare")
	}

	return &Config{
		Device: DeviceConfig{
			Name:    hostname,
			DataDir: dataDir,
		},
		Folders: []FolderConfig{},
		Direct: DirectConfig{
			Enabled:          true,
			Port:             8988,
			DiscoveryTimeout: 20 * time.Second,
			DiscoveryRetries: 3,
			RetryBackoff:     2 * time.Second,
			StopTimeout:      5 * time.Second,
			ConnectTimeout:   10 * time.Second,
			MDNSService:      "_syncshare._tcp",
			MDNSDomain:       "local.",
		},
		Classic: ClassicConfig{
			Enabled:        true,
			ScanDuration:   15 * time.Second,
			ServiceUUID:    DefaultServiceUUID,
			DiscoveryPort:  8989,
			BroadcastAddr:  "255.255.255.255",
			QUICPort:       8990,
			ConnectTimeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			ChunkSize:                8192,
			PresenceMismatchConflict: false,
			VerifyHash:               true,
			MaxBandwidth:             0,
			WatchDebounce:            2 * time.Second,
		},
		Compression: CompressionConfig{
			Enabled:   true,
			Algorithm: "zstd",
			Level:     3,
			Threshold: 1024,
		},
		Security: SecurityConfig{
			EncryptDirect: true,
		},
		Observability: ObservabilityConfig{
			OTELendpoint:   "",
			LogLevel:       "info",
			MetricsEnabled: true,
			TracingEnabled: true,
		},
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return fmt.Errorf("device.name is required")
	}
	if c.Device.DataDir == "" {
		return fmt.Errorf("device.data_dir is required")
	}

	seen := make(map[string]bool, len(c.Folders))
	for i, f := range c.Folders {
		if f.Name == "" || f.Path == "" {
			return fmt.Errorf("folders[%d] needs both name and path", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate folder name: %s", f.Name)
		}
		seen[f.Name] = true
		if info, err := os.Stat(f.Path); err == nil && !info.IsDir() {
			return fmt.Errorf("folder %s path is not a directory", f.Name)
		}
	}

	if c.Direct.Port < 1 || c.Direct.Port > 65535 {
		return fmt.Errorf("direct.port must be between 1 and 65535")
	}
	if c.Direct.DiscoveryTimeout <= 0 || c.Direct.StopTimeout <= 0 || c.Direct.ConnectTimeout <= 0 {
		return fmt.Errorf("direct timeouts must be positive")
	}
	if c.Direct.DiscoveryRetries < 0 || c.Direct.RetryBackoff < 0 {
		return fmt.Errorf("direct.discovery_retries and direct.retry_backoff must not be negative")
	}

	if c.Classic.ScanDuration <= 0 || c.Classic.ConnectTimeout <= 0 {
		return fmt.Errorf("classic timeouts must be positive")
	}
	if _, err := uuid.Parse(c.Classic.ServiceUUID); err != nil {
		return fmt.Errorf("classic.service_uuid is invalid: %w", err)
	}
	if c.Classic.DiscoveryPort < 1 || c.Classic.DiscoveryPort > 65535 {
		return fmt.Errorf("classic.discovery_port must be between 1 and 65535")
	}
	if c.Classic.QUICPort < 1 || c.Classic.QUICPort > 65535 {
		return fmt.Errorf("classic.quic_port must be between 1 and 65535")
	}

	if c.Sync.ChunkSize < 512 || c.Sync.ChunkSize > 1<<20 {
		return fmt.Errorf("sync.chunk_size must be between 512 and 1048576 bytes")
	}
	if c.Sync.MaxBandwidth < 0 {
		return fmt.Errorf("sync.max_bandwidth must not be negative")
	}

	if c.Compression.Enabled {
		switch c.Compression.Algorithm {
		case "zstd":
			if c.Compression.Level < 1 || c.Compression.Level > 22 {
				return fmt.Errorf("zstd level must be between 1 and 22")
			}
		case "lz4":
			if c.Compression.Level < 1 || c.Compression.Level > 9 {
				return fmt.Errorf("lz4 level must be between 1 and 9")
			}
		case "gzip":
			if c.Compression.Level < 1 || c.Compression.Level > 9 {
				return fmt.Errorf("gzip level must be between 1 and 9")
			}
		case "none":
		default:
			return fmt.Errorf("unknown compression algorithm: %s", c.Compression.Algorithm)
		}
		if c.Compression.Threshold < 0 {
			return fmt.Errorf("compression.threshold must not be negative")
		}
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}

	return nil
}

// Folder returns the folder named name
func (c *Config) Folder(name string) (FolderConfig, bool) {
	for _, f := range c.Folders {
		if f.Name == name {
			return f, true
		}
	}
	return FolderConfig{}, false
}

// ServiceID returns the parsed classic service UUID
func (c *Config) ServiceID() uuid.UUID {
	id, err := uuid.Parse(c.Classic.ServiceUUID)
	if err != nil {
		return uuid.MustParse(DefaultServiceUUID)
	}
	return id
}

// DatabasePath is the sqlite file under the data dir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Device.DataDir, "syncshare.db")
}
