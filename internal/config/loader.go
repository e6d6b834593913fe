package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Load from YAML file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	loadFromEnv(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Save writes cfg as YAML to path
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) {
	if val := os.Getenv("SYNCSHARE_DEVICE_NAME"); val != "" {
		cfg.Device.Name = val
	}
	if val := os.Getenv("SYNCSHARE_DATA_DIR"); val != "" {
		cfg.Device.DataDir = val
	}

	// Folder list as name=path pairs separated by commas
	if val := os.Getenv("SYNCSHARE_FOLDERS"); val != "" {
		cfg.Folders = cfg.Folders[:0]
		for _, pair := range strings.Split(val, ",") {
			name, path, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && name != "" && path != "" {
				cfg.Folders = append(cfg.Folders, FolderConfig{Name: name, Path: path})
			}
		}
	}

	// Direct link
	if val := os.Getenv("SYNCSHARE_DIRECT_PORT"); val != "" {
		if port := parseInt(val); port > 0 {
			cfg.Direct.Port = port
		}
	}
	if val := os.Getenv("SYNCSHARE_DISCOVERY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Direct.DiscoveryTimeout = d
		}
	}

	// Classic link
	if val := os.Getenv("SYNCSHARE_CLASSIC_DISCOVERY_PORT"); val != "" {
		if port := parseInt(val); port > 0 {
			cfg.Classic.DiscoveryPort = port
		}
	}
	if val := os.Getenv("SYNCSHARE_QUIC_PORT"); val != "" {
		if port := parseInt(val); port > 0 {
			cfg.Classic.QUICPort = port
		}
	}
	if val := os.Getenv("SYNCSHARE_BROADCAST_ADDR"); val != "" {
		cfg.Classic.BroadcastAddr = val
	}

	// Sync settings
	if val := os.Getenv("SYNCSHARE_CHUNK_SIZE"); val != "" {
		if size := parseInt(val); size > 0 {
			cfg.Sync.ChunkSize = size
		}
	}
	if val := os.Getenv("SYNCSHARE_ACCEPT_DIR"); val != "" {
		cfg.Sync.AcceptDir = val
	}

	// Compression settings
	if val := os.Getenv("SYNCSHARE_COMPRESSION_ENABLED"); val != "" {
		cfg.Compression.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("SYNCSHARE_COMPRESSION_ALGORITHM"); val != "" {
		cfg.Compression.Algorithm = val
	}

	if val := os.Getenv("SYNCSHARE_ENCRYPT_DIRECT"); val != "" {
		cfg.Security.EncryptDirect = val == "true" || val == "1"
	}
	if val := os.Getenv("SYNCSHARE_PSK"); val != "" {
		cfg.Security.PreSharedKey = val
	}

	// Observability
	if val := os.Getenv("OTEL_ENDPOINT"); val != "" {
		cfg.Observability.OTELendpoint = val
	}
	if val := os.Getenv("SYNCSHARE_LOG_LEVEL"); val != "" {
		cfg.Observability.LogLevel = val
	}
	if val := os.Getenv("SYNCSHARE_STATUS_ADDR"); val != "" {
		cfg.Observability.StatusAddr = val
	}
}

// parseInt parses an integer from a string, returns 0 on error
func parseInt(s string) int {
	var val int
	fmt.Sscanf(s, "%d", &val)
	return val
}
